// ABOUTME: Per-connection handshake and message dispatch, implementing conn.Handler
// ABOUTME: Grounded on pkg/sendspin/server.go's handleConnection/handleClientMessage, rewired onto internal/group
package server

import (
	"log"
	"sync"

	"github.com/resonatehq-oss/resonate/internal/conn"
	"github.com/resonatehq-oss/resonate/internal/group"
	"github.com/resonatehq-oss/resonate/internal/stream"
	"github.com/resonatehq-oss/resonate/pkg/protocol"
)

// clientSession owns one Endpoint's handshake state and its membership
// in exactly one Group at a time. Member identity (e.ID()) is the
// Endpoint's own provisional id, not the protocol-level client_id:
// the two serve different purposes, and only client_id needs to be
// checked for duplicates across concurrently connected peers.
type clientSession struct {
	server   *Server
	endpoint *conn.Endpoint

	mu            sync.Mutex
	clientID      string
	name          string
	playerSupport *protocol.PlayerSupport
	group         *group.Group
	groupID       string
	scheduler     *stream.Scheduler
	volume        int
	muted         bool
	state         protocol.PlayerStateType
}

var _ conn.Handler = (*clientSession)(nil)

func (sess *clientSession) HandleText(e *conn.Endpoint, msg protocol.Message) error {
	switch msg.Type {
	case "client/hello":
		return sess.handleHello(e, msg)
	case "client/time":
		return sess.handleTime(e, msg)
	case "client/state":
		return sess.handleState(e, msg)
	case "client/command":
		return sess.handleCommand(e, msg)
	case "client/goodbye":
		var gb protocol.ClientGoodbye
		_ = protocol.DecodePayload(msg, &gb)
		log.Printf("client/goodbye from %s: %s", e.ID(), gb.Reason)
		e.Close(conn.CloseGraceful, false)
		return nil
	case "stream/request-format":
		return sess.handleRequestFormat(e, msg)
	default:
		log.Printf("server: unhandled message type %q from %s", msg.Type, e.ID())
		return nil
	}
}

func (sess *clientSession) HandleBinary(e *conn.Endpoint, frame protocol.BinaryFrame) error {
	// The reference server is the sole producer of audio; none of its
	// roles send binary frames upstream.
	return nil
}

func (sess *clientSession) handleHello(e *conn.Endpoint, msg protocol.Message) error {
	if e.Phase() != conn.PhaseHelloWait {
		return protocol.NewError(protocol.ErrWrongPhase, "client/hello outside HELLO_WAIT")
	}

	var hello protocol.ClientHello
	if err := protocol.DecodePayload(msg, &hello); err != nil {
		return err
	}
	if hello.ClientID == "" || hello.Name == "" {
		e.Close(conn.CloseProtocolError, false)
		return nil
	}

	if sess.server.hasDuplicateClientID(hello.ClientID) {
		_ = e.SendText("server/error", map[string]string{
			"error":   "duplicate_client_id",
			"message": "client_id already connected",
		})
		e.Close(conn.CloseProtocolError, false)
		return nil
	}

	e.SetRoles(hello.SupportedRoles)
	e.MarkEstablished()

	sess.mu.Lock()
	sess.clientID = hello.ClientID
	sess.name = hello.Name
	sess.playerSupport = hello.PlayerSupport
	sess.mu.Unlock()

	sess.server.registerSession(sess)

	if err := e.SendText("server/hello", protocol.ServerHello{
		ServerID: sess.server.serverID,
		Name:     sess.server.config.Name,
		Version:  ProtocolVersion,
	}); err != nil {
		return err
	}

	// Each new connection starts in a solo Group named after the
	// client; the switch command is how it later merges into a shared
	// one (spec §9's resolved Open Question on initial group assignment).
	g := group.New(hello.ClientID, hello.Name, e, sess.server, sess.server)
	sess.server.registry.Add(g)
	sess.mu.Lock()
	sess.group = g
	sess.groupID = g.ID()
	sess.mu.Unlock()

	log.Printf("client/hello: %s (%s) roles=%v", hello.Name, hello.ClientID, hello.SupportedRoles)
	return nil
}

func (sess *clientSession) handleTime(e *conn.Endpoint, msg protocol.Message) error {
	var ct protocol.ClientTime
	if err := protocol.DecodePayload(msg, &ct); err != nil {
		return err
	}
	serverRecv := sess.server.getClockMicros()
	serverSend := sess.server.getClockMicros()
	return e.SendText("server/time", protocol.ServerTime{
		ClientTransmitted: ct.ClientTransmitted,
		ServerReceived:    serverRecv,
		ServerTransmitted: serverSend,
	})
}

func (sess *clientSession) handleState(e *conn.Endpoint, msg protocol.Message) error {
	var cs protocol.ClientState
	if err := protocol.DecodePayload(msg, &cs); err != nil {
		return err
	}
	if cs.Player == nil {
		return nil
	}
	sess.mu.Lock()
	sess.state = cs.Player.State
	sess.volume = cs.Player.Volume
	sess.muted = cs.Player.Muted
	sess.mu.Unlock()
	sess.server.updateTUI()
	return nil
}

func (sess *clientSession) handleCommand(e *conn.Endpoint, msg protocol.Message) error {
	var cc protocol.ClientCommand
	if err := protocol.DecodePayload(msg, &cc); err != nil {
		return err
	}
	if cc.Controller == nil {
		return nil
	}

	sess.mu.Lock()
	g := sess.group
	sess.mu.Unlock()
	if g == nil {
		return nil
	}

	if cc.Controller.Command == protocol.CommandSwitch {
		next := sess.server.registry.Switch(g, e)
		sess.mu.Lock()
		sess.group = next
		sess.groupID = next.ID()
		sess.mu.Unlock()
		return nil
	}

	return g.HandleCommand(e, *cc.Controller)
}

func (sess *clientSession) handleRequestFormat(e *conn.Endpoint, msg protocol.Message) error {
	var req protocol.StreamRequestFormat
	if err := protocol.DecodePayload(msg, &req); err != nil {
		return err
	}
	if req.Player == nil {
		return nil
	}
	sess.server.requestFormat(sess, req.Player)
	return nil
}

// onDisconnect implements conn.DisconnectObserver: tears down this
// session's Scheduler, removes it from its Group, and disposes the
// Group once its last member leaves.
func (sess *clientSession) onDisconnect(e *conn.Endpoint, reason conn.CloseReason, retry bool) {
	sess.server.stopSchedulerFor(sess)

	sess.mu.Lock()
	g := sess.group
	groupID := sess.groupID
	sess.mu.Unlock()

	if g != nil {
		if remaining := g.RemoveMember(e.ID()); remaining == 0 {
			sess.server.registry.Remove(groupID)
		}
	}

	sess.server.unregisterSession(e.ID())
	log.Printf("client disconnected: %s (%s)", e.ID(), reason)
}

func (s *Server) hasDuplicateClientID(clientID string) bool {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	for _, sess := range s.sessions {
		sess.mu.Lock()
		match := sess.clientID == clientID
		sess.mu.Unlock()
		if match {
			return true
		}
	}
	return false
}
