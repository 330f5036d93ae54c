// ABOUTME: Entry point for the Resonate Protocol player client
// ABOUTME: Runs the long-lived player by default, or a one-shot controller command
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/resonatehq-oss/resonate/internal/app"
	"github.com/resonatehq-oss/resonate/internal/conn"
	"github.com/resonatehq-oss/resonate/pkg/protocol"
)

var (
	server   = flag.String("join", "", "Server address to connect to (host); empty enables mDNS discovery")
	port     = flag.Int("port", 8927, "Server WebSocket port")
	name     = flag.String("name", "", "Client friendly name (default: hostname-resonate-client)")
	bufferMs = flag.Int("buffer-ms", 50, "Playback jitter buffer window in milliseconds")
	noTUI    = flag.Bool("no-tui", false, "Disable the terminal UI")
	format   = flag.String("format", "", "Request a stream format once connected: codec:sample_rate:channels:bit_depth, e.g. opus:48000:2:16")

	play     = flag.Bool("play", false, "Send a play command and exit")
	pause    = flag.Bool("pause", false, "Send a pause command and exit")
	stop     = flag.Bool("stop", false, "Send a stop command and exit")
	next     = flag.Bool("next", false, "Send a next-track command and exit")
	previous = flag.Bool("previous", false, "Send a previous-track command and exit")
	volume   = flag.Int("volume", -1, "Send a volume command (0-100) and exit")
	mute     = flag.Bool("mute", false, "Send a mute command and exit")
	unmute   = flag.Bool("unmute", false, "Send an unmute command and exit")
)

func main() {
	flag.Parse()

	if oneShot, cmd, vol, muteVal := controllerCommand(); oneShot {
		if *server == "" {
			log.Printf("error: -join is required with a control command")
			os.Exit(1)
		}
		addr := fmt.Sprintf("ws://%s:%d/resonate", *server, *port)
		if err := sendControllerCommand(addr, cmd, vol, muteVal); err != nil {
			log.Printf("command failed: %v", err)
			os.Exit(2)
		}
		os.Exit(0)
	}

	clientName := *name
	if clientName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		clientName = fmt.Sprintf("%s-resonate-client", hostname)
	}

	reqFormat, err := parseRequestFormat(*format)
	if err != nil {
		log.Printf("error: %v", err)
		os.Exit(1)
	}

	p := app.New(app.Config{
		ServerAddr:    *server,
		Port:          *port,
		Name:          clientName,
		BufferMs:      *bufferMs,
		UseTUI:        !*noTUI,
		RequestFormat: reqFormat,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("received %v, shutting down", sig)
		p.Stop()
	}()

	if err := p.Start(); err != nil {
		log.Printf("player error: %v", err)
		os.Exit(2)
	}
}

// parseRequestFormat parses the -format flag's "codec:sample_rate:channels:bit_depth"
// shorthand into a stream/request-format player object. An empty spec
// returns a nil request, leaving the negotiated format untouched.
func parseRequestFormat(spec string) (*protocol.StreamRequestFormatPlayer, error) {
	if spec == "" {
		return nil, nil
	}

	parts := splitFormatSpec(spec)
	if len(parts) != 4 {
		return nil, fmt.Errorf("invalid -format %q, want codec:sample_rate:channels:bit_depth", spec)
	}
	codec := parts[0]
	var sampleRate, channels, bitDepth int
	if _, err := fmt.Sscanf(parts[1], "%d", &sampleRate); err != nil {
		return nil, fmt.Errorf("invalid sample_rate in -format %q", spec)
	}
	if _, err := fmt.Sscanf(parts[2], "%d", &channels); err != nil {
		return nil, fmt.Errorf("invalid channels in -format %q", spec)
	}
	if _, err := fmt.Sscanf(parts[3], "%d", &bitDepth); err != nil {
		return nil, fmt.Errorf("invalid bit_depth in -format %q", spec)
	}

	c := protocol.AudioCodec(codec)
	return &protocol.StreamRequestFormatPlayer{
		Codec:      &c,
		SampleRate: &sampleRate,
		Channels:   &channels,
		BitDepth:   &bitDepth,
	}, nil
}

func splitFormatSpec(spec string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(spec); i++ {
		if spec[i] == ':' {
			parts = append(parts, spec[start:i])
			start = i + 1
		}
	}
	parts = append(parts, spec[start:])
	return parts
}

// controllerCommand maps the one-shot control flags to a MediaCommand.
// oneShot is false when no control flag was set, in which case the
// process falls through to the long-running player.
func controllerCommand() (oneShot bool, cmd protocol.MediaCommand, vol *int, muteFlag *bool) {
	switch {
	case *play:
		return true, protocol.CommandPlay, nil, nil
	case *pause:
		return true, protocol.CommandPause, nil, nil
	case *stop:
		return true, protocol.CommandStop, nil, nil
	case *next:
		return true, protocol.CommandNext, nil, nil
	case *previous:
		return true, protocol.CommandPrevious, nil, nil
	case *volume >= 0:
		v := *volume
		return true, protocol.CommandVolume, &v, nil
	case *mute:
		m := true
		return true, protocol.CommandMute, nil, &m
	case *unmute:
		m := false
		return true, protocol.CommandMute, nil, &m
	default:
		return false, "", nil, nil
	}
}

// controllerSession is a minimal conn.Handler for the one-shot command
// path: it waits for server/hello, sends exactly one client/command, and
// signals done on server/state acknowledgment or a short timeout.
type controllerSession struct {
	established chan struct{}
	done        chan struct{}
}

func (c *controllerSession) HandleText(e *conn.Endpoint, msg protocol.Message) error {
	switch msg.Type {
	case "server/hello":
		e.MarkEstablished()
		close(c.established)
	case "server/state":
		select {
		case <-c.done:
		default:
			close(c.done)
		}
	}
	return nil
}

func (c *controllerSession) HandleBinary(*conn.Endpoint, protocol.BinaryFrame) error {
	return nil
}

// sendControllerCommand dials addr directly (no reconnect driver: a
// one-shot command has nothing to reconnect for), completes the
// handshake as a controller, sends cmd, and waits briefly for
// acknowledgment before closing.
func sendControllerCommand(addr string, cmd protocol.MediaCommand, vol *int, mute *bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsConn, _, err := websocket.DefaultDialer.DialContext(ctx, addr, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	e := conn.New(uuid.New().String(), wsConn, conn.PhaseHelloSent)
	session := &controllerSession{established: make(chan struct{}), done: make(chan struct{})}
	e.SetHandler(session)

	runDone := make(chan struct{})
	go func() {
		e.Run()
		close(runDone)
	}()

	hello := protocol.ClientHello{
		ClientID:       e.ID(),
		Name:           "resonate-client-controller",
		Version:        1,
		SupportedRoles: []protocol.Role{protocol.RoleController},
	}
	if err := e.SendText("client/hello", hello); err != nil {
		e.Close(conn.CloseShutdown, false)
		<-runDone
		return fmt.Errorf("send client/hello: %w", err)
	}

	select {
	case <-session.established:
	case <-ctx.Done():
		e.Close(conn.CloseShutdown, false)
		<-runDone
		return fmt.Errorf("timed out waiting for server/hello")
	}

	payload := protocol.ClientCommand{
		Controller: &protocol.ControllerCommandPayload{Command: cmd, Volume: vol, Mute: mute},
	}
	if err := e.SendText("client/command", payload); err != nil {
		e.Close(conn.CloseShutdown, false)
		<-runDone
		return fmt.Errorf("send client/command: %w", err)
	}

	select {
	case <-session.done:
	case <-time.After(1 * time.Second):
		// No acknowledgment is not necessarily an error: server/state
		// pushes are periodic, not synchronous replies.
	}

	e.Close(conn.CloseGraceful, false)
	<-runDone
	return nil
}
