// ABOUTME: Reference Resonate server: WebSocket handshake, Group Engine wiring, test-tone streaming
// ABOUTME: Grounded on pkg/sendspin/server.go's connection loop, rewired onto conn.Endpoint and internal/group
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/resonatehq-oss/resonate/internal/conn"
	"github.com/resonatehq-oss/resonate/internal/discovery"
	"github.com/resonatehq-oss/resonate/internal/group"
	"github.com/resonatehq-oss/resonate/internal/stream"
	"github.com/resonatehq-oss/resonate/pkg/protocol"
)

// ProtocolVersion is the handshake version this server speaks.
const ProtocolVersion = 1

// Config holds server configuration.
type Config struct {
	Port       int
	Name       string
	EnableMDNS bool
	Debug      bool
	UseTUI     bool
	AudioFile  string // reserved for a future file-backed AudioSource; empty plays the test tone
}

// Server is the Resonate reference server: one process, one Group
// Engine registry, one test-tone AudioSource shared (by independent
// instances, not a fan-out buffer) across every streaming session.
type Server struct {
	config   Config
	serverID string

	upgrader websocket.Upgrader

	httpServer *http.Server
	mux        *http.ServeMux

	registry *group.Registry

	sessionsMu sync.Mutex
	sessions   map[string]*clientSession // keyed by Endpoint id

	mdnsManager *discovery.Manager

	clockStart time.Time
	startTime  time.Time

	tui *ServerTUI

	stopChan   chan struct{}
	stopOnce   sync.Once
	shutdownMu sync.RWMutex
	isShutdown bool
	wg         sync.WaitGroup
}

// New creates a new server instance.
func New(config Config) *Server {
	return &Server{
		config:   config,
		serverID: uuid.New().String(),
		mux:      http.NewServeMux(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Reference server targets trusted local networks; it
				// accepts any origin rather than maintaining an allowlist.
				return true
			},
		},
		registry:   group.NewRegistry(),
		sessions:   make(map[string]*clientSession),
		clockStart: time.Now(),
		startTime:  time.Now(),
		stopChan:   make(chan struct{}),
	}
}

// Start runs the server until Stop is called, the TUI quits, or the
// HTTP listener fails.
func (s *Server) Start() error {
	if s.config.UseTUI {
		s.tui = NewServerTUI(s.config.Name, s.config.Port)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.tui.Start(s.config.Name, s.config.Port)
		}()
		time.Sleep(100 * time.Millisecond)
	}

	log.Printf("Server starting: %s (ID: %s)", s.config.Name, s.serverID)

	if s.config.EnableMDNS {
		s.mdnsManager = discovery.NewManager(discovery.Config{
			ServiceName: s.config.Name,
			Port:        s.config.Port,
			ServerMode:  true,
		})
		if err := s.mdnsManager.Advertise(); err != nil {
			log.Printf("Failed to start mDNS advertisement: %v", err)
		} else {
			log.Printf("mDNS advertisement started")
		}
	}

	s.mux.HandleFunc("/resonate", s.handleWebSocket)

	addr := fmt.Sprintf(":%d", s.config.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: s.mux}

	log.Printf("WebSocket server listening on %s", addr)
	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	var tuiQuitChan <-chan struct{}
	if s.tui != nil {
		tuiQuitChan = s.tui.QuitChan()
	}

	var serverErr error
	select {
	case <-s.stopChan:
		log.Printf("Server shutting down...")
	case <-tuiQuitChan:
		log.Printf("TUI quit requested, shutting down...")
	case err := <-errChan:
		log.Printf("HTTP server error: %v", err)
		serverErr = err
	}

	s.shutdownMu.Lock()
	s.isShutdown = true
	s.shutdownMu.Unlock()

	if s.tui != nil {
		s.tui.Stop()
	}

	s.sessionsMu.Lock()
	sessions := make([]*clientSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessionsMu.Unlock()
	for _, sess := range sessions {
		sess.endpoint.Close(conn.CloseShutdown, false)
	}

	if s.mdnsManager != nil {
		s.mdnsManager.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	s.wg.Wait()
	log.Printf("Server stopped cleanly")

	if serverErr != nil {
		return fmt.Errorf("HTTP server failed: %w", serverErr)
	}
	return nil
}

// Stop signals Start to begin graceful shutdown.
func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	shuttingDown := s.isShutdown
	s.shutdownMu.RUnlock()
	if shuttingDown {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	log.Printf("New WebSocket connection from %s", r.RemoteAddr)

	// The endpoint id is a provisional uuid. The session stays keyed by
	// it after client/hello, whose branch only records the declared
	// client_id on sess.
	e := conn.New(uuid.New().String(), wsConn, conn.PhaseHelloWait)
	sess := &clientSession{server: s, endpoint: e, volume: 100}
	e.SetHandler(sess)
	e.SetDisconnectObserver(sess.onDisconnect)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		e.Run()
	}()
}

func (s *Server) getClockMicros() int64 {
	return time.Since(s.clockStart).Microseconds()
}

func (s *Server) registerSession(sess *clientSession) {
	s.sessionsMu.Lock()
	s.sessions[sess.endpoint.ID()] = sess
	s.sessionsMu.Unlock()
	s.updateTUI()
}

func (s *Server) unregisterSession(id string) {
	s.sessionsMu.Lock()
	delete(s.sessions, id)
	s.sessionsMu.Unlock()
	s.updateTUI()
}

func (s *Server) sessionByID(id string) (*clientSession, bool) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// SupportedCommands implements group.CapabilityProvider. The test-tone
// source is a single infinite stream with no track boundaries, so
// next/previous/repeat/shuffle never appear regardless of playback
// state.
func (s *Server) SupportedCommands(state protocol.PlaybackState) []protocol.MediaCommand {
	cmds := []protocol.MediaCommand{protocol.CommandVolume, protocol.CommandMute, protocol.CommandSwitch}
	if state == protocol.PlaybackPlaying {
		return append(cmds, protocol.CommandPause, protocol.CommandStop)
	}
	return append(cmds, protocol.CommandPlay)
}

// MemberJoinedStream implements group.StreamController: a member that
// joins after playback already started gets its own Stream Scheduler,
// future-dated only (no catch-up buffering of frames already sent to
// other members).
func (s *Server) MemberJoinedStream(groupID string, m group.Member) {
	sess, ok := s.sessionByID(m.ID())
	if !ok || !m.HasRole(protocol.RolePlayer) {
		return
	}
	s.startScheduler(sess)
}

// MemberLeftStream implements group.StreamController.
func (s *Server) MemberLeftStream(groupID string, m group.Member) {
	sess, ok := s.sessionByID(m.ID())
	if !ok {
		return
	}
	s.stopScheduler(sess, false)
}

// GroupPlaybackChanged implements group.StreamController: a play
// transition starts a Scheduler for every streaming member that doesn't
// already have one; a pause or stop transition tears every member's
// Scheduler down and sends stream/end.
func (s *Server) GroupPlaybackChanged(groupID string, state protocol.PlaybackState) {
	g, ok := s.registry.Get(groupID)
	if !ok {
		return
	}
	for _, m := range g.StreamMembers() {
		sess, ok := s.sessionByID(m.ID())
		if !ok || !m.HasRole(protocol.RolePlayer) {
			continue
		}
		if state == protocol.PlaybackPlaying {
			s.startScheduler(sess)
		} else {
			s.stopScheduler(sess, true)
		}
	}
}

func (s *Server) startScheduler(sess *clientSession) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.scheduler != nil {
		return
	}
	format := defaultPlayerFormat()
	bufferCapacity := 65536
	if sess.playerSupport != nil && sess.playerSupport.BufferCapacity > 0 {
		bufferCapacity = sess.playerSupport.BufferCapacity
	}
	sched, err := stream.NewScheduler(sess.endpoint, newToneSource(), format, bufferCapacity, s.getClockMicros())
	if err != nil {
		log.Printf("server: failed to start scheduler for %s: %v", sess.endpoint.ID(), err)
		return
	}
	if err := sched.Start(); err != nil {
		log.Printf("server: failed to send stream/start to %s: %v", sess.endpoint.ID(), err)
		return
	}
	sess.scheduler = sched
	sess.endpoint.SetStreamActive(true)
}

func (s *Server) stopScheduler(sess *clientSession, sendEnd bool) {
	sess.mu.Lock()
	sched := sess.scheduler
	sess.scheduler = nil
	sess.mu.Unlock()
	if sched == nil {
		return
	}
	sess.endpoint.SetStreamActive(false)
	if sendEnd {
		sched.End()
	} else {
		sched.Stop()
	}
}

// stopSchedulerFor tears a session's Scheduler down without sending
// stream/end, used on disconnect where there is no peer left to notify.
func (s *Server) stopSchedulerFor(sess *clientSession) {
	s.stopScheduler(sess, false)
}

// requestFormat forwards a stream/request-format player object to the
// session's active Scheduler, if it has one.
func (s *Server) requestFormat(sess *clientSession, req *protocol.StreamRequestFormatPlayer) {
	sess.mu.Lock()
	sched := sess.scheduler
	sess.mu.Unlock()
	if sched == nil {
		return
	}
	if err := sched.RequestFormat(req); err != nil {
		log.Printf("server: request-format for %s: %v", sess.endpoint.ID(), err)
	}
}

// defaultPlayerFormat is the server's starting offer for a freshly
// joined player: PCM at the test tone's native rate, which every player
// can decode without negotiation.
func defaultPlayerFormat() stream.PlayerFormat {
	return stream.PlayerFormat{
		Codec:      protocol.CodecPCM,
		SampleRate: DefaultSampleRate,
		Channels:   DefaultChannels,
		BitDepth:   16,
	}
}
