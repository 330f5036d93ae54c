// ABOUTME: Main player application orchestration
// ABOUTME: Coordinates all components (connection, audio, UI)
package app

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"runtime"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/resonatehq-oss/resonate/internal/artwork"
	"github.com/resonatehq-oss/resonate/internal/conn"
	"github.com/resonatehq-oss/resonate/internal/discovery"
	"github.com/resonatehq-oss/resonate/internal/player"
	clockfilter "github.com/resonatehq-oss/resonate/internal/sync"
	"github.com/resonatehq-oss/resonate/internal/ui"
	"github.com/resonatehq-oss/resonate/internal/version"
	"github.com/resonatehq-oss/resonate/pkg/audio"
	"github.com/resonatehq-oss/resonate/pkg/audio/decode"
	"github.com/resonatehq-oss/resonate/pkg/audio/output"
	"github.com/resonatehq-oss/resonate/pkg/protocol"
)

// Config holds player configuration.
type Config struct {
	ServerAddr string // manual host; empty enables mDNS discovery
	Port       int
	Name       string
	BufferMs   int // scheduler jitter window
	UseTUI     bool

	// RequestFormat, if non-nil, is sent once as a stream/request-format
	// immediately after the handshake establishes, per the -format CLI flag.
	RequestFormat *protocol.StreamRequestFormatPlayer
}

// Player is the client-side orchestration root: one reconnecting
// Connection Endpoint, one Clock Filter, one Stream Scheduler per active
// stream, and (optionally) a TUI. It implements conn.Handler directly,
// since every text/binary message for its single Endpoint arrives on
// that Endpoint's own reader goroutine.
type Player struct {
	config   Config
	clientID string

	filter  *clockfilter.Filter
	output  output.Output
	artwork *artwork.Downloader

	driver       *conn.Driver
	discoveryMgr *discovery.Manager

	volumeCtrl *ui.VolumeControl
	tuiProg    *tea.Program

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	endpoint   *conn.Endpoint
	decoder    decode.Decoder
	scheduler  *player.Scheduler
	format     audio.Format
	state      protocol.PlayerStateType
	volume     int
	muted      bool
	serverName string

	title       string
	artist      string
	album       string
	artworkURL  string
	artworkPath string
}

// New creates a player with the given configuration.
func New(config Config) *Player {
	if config.BufferMs <= 0 {
		config.BufferMs = 50
	}

	ctx, cancel := context.WithCancel(context.Background())

	dl, err := artwork.NewDownloader()
	if err != nil {
		log.Printf("player: artwork cache unavailable: %v", err)
	}

	p := &Player{
		config:   config,
		clientID: uuid.New().String(),
		filter:   clockfilter.NewFilter(),
		output:   output.New(),
		artwork:  dl,
		ctx:      ctx,
		cancel:   cancel,
		state:    protocol.PlayerSynchronized,
		volume:   100,
	}

	if config.UseTUI {
		p.volumeCtrl = ui.NewVolumeControl()
	}

	return p
}

// Start runs the player until its context is cancelled (via Stop, a TUI
// quit, or the process signal handler installed by main).
func (p *Player) Start() error {
	if p.config.UseTUI {
		prog, err := ui.Run(p.volumeCtrl)
		if err != nil {
			return fmt.Errorf("failed to start TUI: %w", err)
		}
		p.tuiProg = prog
		go func() {
			if _, err := p.tuiProg.Run(); err != nil {
				log.Printf("player: TUI exited: %v", err)
			}
		}()
		go p.consumeVolumeControl()
		go p.statusLoop()
	}

	p.driver = conn.NewDriver(p.dial, p.onConnect)

	if p.config.ServerAddr != "" {
		url := fmt.Sprintf("ws://%s:%d/resonate", p.config.ServerAddr, p.config.Port)
		p.driver.Connect(p.ctx, url)
	} else {
		p.discoveryMgr = discovery.NewManager(discovery.Config{
			ServiceName: p.config.Name,
			Port:        p.config.Port,
		})
		if err := p.discoveryMgr.BrowseAndConnect(p.driver); err != nil {
			return fmt.Errorf("discovery failed: %w", err)
		}
	}

	<-p.ctx.Done()
	return nil
}

// Stop tears down the player. Safe to call once from any goroutine.
func (p *Player) Stop() {
	p.cancel()

	p.mu.Lock()
	sched := p.scheduler
	dec := p.decoder
	p.scheduler = nil
	p.decoder = nil
	p.mu.Unlock()

	if sched != nil {
		sched.Stop()
	}
	if dec != nil {
		dec.Close()
	}
	if p.output != nil {
		p.output.Close()
	}
	if p.discoveryMgr != nil {
		p.discoveryMgr.Stop()
	}
	if p.artwork != nil {
		p.artwork.Cleanup()
	}
	if p.tuiProg != nil {
		p.tuiProg.Quit()
	}
}

// dial is the conn.Dialer passed to the reconnect driver.
func (p *Player) dial(ctx context.Context, url string) (*conn.Endpoint, error) {
	wsConn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn.New(p.clientID, wsConn, conn.PhaseHelloSent), nil
}

// onConnect is invoked by the reconnect driver from the task's own
// goroutine, before Run is started. It must not touch
// SetDisconnectObserver or call Run itself; the driver owns both.
func (p *Player) onConnect(_ string, e *conn.Endpoint) {
	p.mu.Lock()
	p.endpoint = e
	p.mu.Unlock()

	e.SetHandler(p)

	hello := protocol.ClientHello{
		ClientID:       p.clientID,
		Name:           p.config.Name,
		Version:        1,
		SupportedRoles: []protocol.Role{protocol.RolePlayer},
		DeviceInfo: &protocol.DeviceInfo{
			ProductName:     version.Product,
			Manufacturer:    version.Manufacturer,
			SoftwareVersion: version.Version,
		},
		PlayerSupport: &protocol.PlayerSupport{
			SupportedFormats: []protocol.AudioFormat{
				{Codec: protocol.CodecOpus, Channels: 2, SampleRate: 48000, BitDepth: 16},
				{Codec: protocol.CodecFLAC, Channels: 2, SampleRate: 48000, BitDepth: 16},
				{Codec: protocol.CodecPCM, Channels: 2, SampleRate: 48000, BitDepth: 16},
			},
			BufferCapacity:    1 << 20,
			SupportedCommands: []protocol.PlayerCommand{protocol.PlayerCommandVolume, protocol.PlayerCommandMute},
		},
	}
	if err := e.SendText("client/hello", hello); err != nil {
		log.Printf("player: failed to send client/hello: %v", err)
		return
	}

	go p.timeSyncLoop(e)
}

// timeSyncLoop sends periodic client/time probes at the Clock Filter's
// adaptive polling interval until the Endpoint closes.
func (p *Player) timeSyncLoop(e *conn.Endpoint) {
	for {
		select {
		case <-time.After(p.filter.PollInterval()):
		case <-e.Done():
			return
		case <-p.ctx.Done():
			return
		}

		t0 := clockfilter.ClientMicros()
		if err := e.SendText("client/time", protocol.ClientTime{ClientTransmitted: t0}); err != nil {
			return
		}
	}
}

// HandleText implements conn.Handler.
func (p *Player) HandleText(e *conn.Endpoint, msg protocol.Message) error {
	switch msg.Type {
	case "server/hello":
		var hello protocol.ServerHello
		if err := protocol.DecodePayload(msg, &hello); err != nil {
			return err
		}
		log.Printf("player: connected to %s (%s)", hello.Name, hello.ServerID)
		e.MarkEstablished()
		p.mu.Lock()
		p.serverName = hello.Name
		p.mu.Unlock()

		if p.config.RequestFormat != nil {
			req := protocol.StreamRequestFormat{Player: p.config.RequestFormat}
			if err := e.SendText("stream/request-format", req); err != nil {
				log.Printf("player: failed to send stream/request-format: %v", err)
			}
		}

	case "server/time":
		var payload protocol.ServerTime
		if err := protocol.DecodePayload(msg, &payload); err != nil {
			return err
		}
		t3 := clockfilter.ClientMicros()
		p.filter.Update(payload.ClientTransmitted, payload.ServerReceived, payload.ServerTransmitted, t3)

	case "stream/start":
		var payload protocol.StreamStart
		if err := protocol.DecodePayload(msg, &payload); err != nil {
			return err
		}
		p.handleStreamStart(e, payload)

	case "stream/update":
		var payload protocol.StreamUpdate
		if err := protocol.DecodePayload(msg, &payload); err != nil {
			return err
		}
		p.handleStreamUpdate(payload)

	case "stream/clear":
		var payload protocol.StreamClear
		if err := protocol.DecodePayload(msg, &payload); err != nil {
			return err
		}
		p.handleStreamClear(payload)

	case "stream/end":
		var payload protocol.StreamEnd
		if err := protocol.DecodePayload(msg, &payload); err != nil {
			return err
		}
		p.handleStreamEnd(e, payload)

	case "server/command":
		var payload protocol.ServerCommand
		if err := protocol.DecodePayload(msg, &payload); err != nil {
			return err
		}
		p.handleServerCommand(payload)

	case "server/state":
		var payload protocol.ServerState
		if err := protocol.DecodePayload(msg, &payload); err != nil {
			return err
		}
		p.handleServerState(payload)

	case "group/update":
		var payload protocol.GroupUpdate
		if err := protocol.DecodePayload(msg, &payload); err != nil {
			return err
		}
		log.Printf("player: group update: %+v", payload)

	default:
		log.Printf("player: unhandled message type %q", msg.Type)
	}

	return nil
}

// HandleBinary implements conn.Handler.
func (p *Player) HandleBinary(_ *conn.Endpoint, frame protocol.BinaryFrame) error {
	if frame.Type != protocol.BinaryAudioChunk {
		return nil
	}

	p.mu.Lock()
	dec := p.decoder
	sched := p.scheduler
	format := p.format
	p.mu.Unlock()

	if dec == nil || sched == nil {
		return nil
	}

	samples, err := dec.Decode(frame.Payload)
	if err != nil {
		log.Printf("player: decode error: %v", err)
		return nil
	}

	sched.Schedule(audio.Buffer{Timestamp: frame.Timestamp, Samples: samples, Format: format})
	return nil
}

func (p *Player) handleStreamStart(e *conn.Endpoint, payload protocol.StreamStart) {
	if payload.Player == nil {
		return
	}

	format := audio.Format{
		Codec:      string(payload.Player.Codec),
		SampleRate: payload.Player.SampleRate,
		Channels:   payload.Player.Channels,
		BitDepth:   payload.Player.BitDepth,
	}
	if payload.Player.CodecHeader != "" {
		header, err := base64.StdEncoding.DecodeString(payload.Player.CodecHeader)
		if err != nil {
			log.Printf("player: invalid codec_header: %v", err)
		} else {
			format.CodecHeader = header
		}
	}

	dec, err := decode.New(format)
	if err != nil {
		log.Printf("player: unsupported stream format: %v", err)
		return
	}

	if err := p.output.Open(format.SampleRate, format.Channels, format.BitDepth); err != nil {
		log.Printf("player: failed to open output: %v", err)
	}

	sched := player.NewScheduler(p.filter, p.config.BufferMs)

	p.mu.Lock()
	prevDec := p.decoder
	prevSched := p.scheduler
	p.decoder = dec
	p.scheduler = sched
	p.format = format
	p.mu.Unlock()

	if prevSched != nil {
		prevSched.Stop()
	}
	if prevDec != nil {
		prevDec.Close()
	}

	go sched.Run()
	go p.playbackLoop(sched)

	e.SetStreamActive(true)
	log.Printf("player: stream started: %s %dHz %dch %dbit", format.Codec, format.SampleRate, format.Channels, format.BitDepth)
}

// handleStreamUpdate applies a stream/update player delta to the
// in-flight format, swapping only the decoder: the Scheduler itself has
// no format dependency, so it keeps running across the swap.
func (p *Player) handleStreamUpdate(payload protocol.StreamUpdate) {
	if payload.Player == nil {
		return
	}

	p.mu.Lock()
	next := p.format
	p.mu.Unlock()

	if payload.Player.Codec != nil {
		next.Codec = string(protocol.Merge(protocol.AudioCodec(next.Codec), payload.Player.Codec))
	}
	if payload.Player.SampleRate != nil {
		next.SampleRate = protocol.Merge(next.SampleRate, payload.Player.SampleRate)
	}
	if payload.Player.Channels != nil {
		next.Channels = protocol.Merge(next.Channels, payload.Player.Channels)
	}
	if payload.Player.BitDepth != nil {
		next.BitDepth = protocol.Merge(next.BitDepth, payload.Player.BitDepth)
	}
	if payload.Player.CodecHeader != nil {
		if payload.Player.CodecHeader.Null {
			next.CodecHeader = nil
		} else if header, err := base64.StdEncoding.DecodeString(payload.Player.CodecHeader.Value); err != nil {
			log.Printf("player: invalid codec_header in stream/update: %v", err)
		} else {
			next.CodecHeader = header
		}
	}

	dec, err := decode.New(next)
	if err != nil {
		log.Printf("player: stream/update produced unsupported format: %v", err)
		return
	}

	if err := p.output.Open(next.SampleRate, next.Channels, next.BitDepth); err != nil {
		log.Printf("player: failed to reopen output: %v", err)
	}

	p.mu.Lock()
	prevDec := p.decoder
	p.decoder = dec
	p.format = next
	p.mu.Unlock()

	if prevDec != nil {
		prevDec.Close()
	}

	log.Printf("player: stream format updated: %s %dHz %dch %dbit", next.Codec, next.SampleRate, next.Channels, next.BitDepth)
}

func (p *Player) handleStreamClear(payload protocol.StreamClear) {
	if len(payload.Roles) > 0 && !containsRole(payload.Roles, protocol.RolePlayer) {
		return
	}
	p.mu.Lock()
	sched := p.scheduler
	p.mu.Unlock()
	if sched != nil {
		sched.Clear()
	}
}

// handleStreamEnd stops decoding and scheduling but deliberately leaves
// the output device open: oto supports only one context per process
// (see pkg/audio/output's Open), so closing and reopening across a
// stream/end -> stream/start cycle would leave playback silently dead.
func (p *Player) handleStreamEnd(e *conn.Endpoint, payload protocol.StreamEnd) {
	if len(payload.Roles) > 0 && !containsRole(payload.Roles, protocol.RolePlayer) {
		return
	}

	p.mu.Lock()
	sched := p.scheduler
	dec := p.decoder
	p.scheduler = nil
	p.decoder = nil
	p.mu.Unlock()

	if sched != nil {
		sched.Stop()
	}
	if dec != nil {
		dec.Close()
	}

	e.SetStreamActive(false)
	log.Printf("player: stream ended")
}

func (p *Player) handleServerCommand(payload protocol.ServerCommand) {
	if payload.Player == nil {
		return
	}

	p.mu.Lock()
	volume := p.volume
	muted := p.muted
	p.mu.Unlock()

	switch payload.Player.Command {
	case protocol.PlayerCommandVolume:
		if payload.Player.Volume != nil {
			volume = *payload.Player.Volume
		}
	case protocol.PlayerCommandMute:
		if payload.Player.Mute != nil {
			muted = *payload.Player.Mute
		}
	}

	p.applyVolume(volume, muted)
}

func (p *Player) handleServerState(payload protocol.ServerState) {
	if payload.Metadata == nil {
		return
	}

	p.mu.Lock()
	title := protocol.Merge(p.title, payload.Metadata.Title)
	artist := protocol.Merge(p.artist, payload.Metadata.Artist)
	album := protocol.Merge(p.album, payload.Metadata.Album)
	artworkURL := protocol.Merge(p.artworkURL, payload.Metadata.ArtworkURL)
	artworkChanged := artworkURL != p.artworkURL
	p.title, p.artist, p.album, p.artworkURL = title, artist, album, artworkURL
	p.mu.Unlock()

	if artworkChanged && artworkURL != "" && p.artwork != nil {
		go p.downloadArtwork(artworkURL)
	}
}

func (p *Player) downloadArtwork(url string) {
	path, err := p.artwork.Download(url)
	if err != nil {
		log.Printf("player: artwork download failed: %v", err)
		return
	}
	p.mu.Lock()
	p.artworkPath = path
	p.mu.Unlock()
}

// applyVolume pushes a volume/mute change to the output device and
// reports it back to the server via client/state.
func (p *Player) applyVolume(volume int, muted bool) {
	p.output.SetVolume(volume)
	p.output.SetMuted(muted)

	p.mu.Lock()
	p.volume = volume
	p.muted = muted
	endpoint := p.endpoint
	state := p.state
	p.mu.Unlock()

	if endpoint == nil {
		return
	}
	err := endpoint.SendText("client/state", protocol.ClientState{
		Player: &protocol.PlayerState{State: state, Volume: volume, Muted: muted},
	})
	if err != nil {
		log.Printf("player: failed to report state: %v", err)
	}
}

// playbackLoop drains one Scheduler's Output() until it is replaced
// (Done closes) or the player shuts down.
func (p *Player) playbackLoop(sched *player.Scheduler) {
	for {
		select {
		case buf, ok := <-sched.Output():
			if !ok {
				return
			}
			if err := p.output.Write(buf.Samples); err != nil {
				log.Printf("player: playback error: %v", err)
			}
		case <-sched.Done():
			return
		case <-p.ctx.Done():
			return
		}
	}
}

// consumeVolumeControl forwards TUI-driven volume/mute/quit events.
func (p *Player) consumeVolumeControl() {
	for {
		select {
		case change := <-p.volumeCtrl.Changes:
			p.applyVolume(change.Volume, change.Muted)
		case <-p.volumeCtrl.Quit:
			p.cancel()
			return
		case <-p.ctx.Done():
			return
		}
	}
}

// statusLoop periodically pushes a full state snapshot to the TUI.
func (p *Player) statusLoop() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.pushStatus()
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Player) pushStatus() {
	p.mu.Lock()
	endpoint := p.endpoint
	format := p.format
	sched := p.scheduler
	title, artist, album, artworkPath := p.title, p.artist, p.album, p.artworkPath
	volume := p.volume
	serverName := p.serverName
	p.mu.Unlock()

	connected := endpoint != nil && endpoint.Phase() == conn.PhaseEstablished
	if !connected {
		serverName = ""
		p.mu.Lock()
		if p.endpoint == endpoint {
			p.endpoint = nil
		}
		p.mu.Unlock()
	}

	snap := p.filter.Snapshot()

	var stats player.SchedulerStats
	bufferDepth := 0
	if sched != nil {
		stats = sched.Stats()
		bufferDepth = sched.QueueLen()
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	connPtr := connected
	p.tuiProg.Send(ui.StatusMsg{
		Connected:   &connPtr,
		ServerName:  serverName,
		SyncOffset:  snap.Offset,
		SyncQuality: snap.Quality,
		Codec:       format.Codec,
		SampleRate:  format.SampleRate,
		Channels:    format.Channels,
		BitDepth:    format.BitDepth,
		Title:       title,
		Artist:      artist,
		Album:       album,
		ArtworkPath: artworkPath,
		Volume:      volume,
		Received:    stats.Received,
		Played:      stats.Played,
		Dropped:     stats.Dropped,
		BufferDepth: bufferDepth,
		Goroutines:  runtime.NumGoroutine(),
		MemAlloc:    mem.Alloc,
		MemSys:      mem.Sys,
	})
}

func containsRole(roles []protocol.Role, want protocol.Role) bool {
	for _, r := range roles {
		if r == want {
			return true
		}
	}
	return false
}
