// ABOUTME: Connection Endpoint state machine
// ABOUTME: Owns one WebSocket peer: handshake phase, framed I/O, idempotent close
package conn

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/resonatehq-oss/resonate/pkg/protocol"
)

// Phase is the Endpoint's position in the handshake/lifecycle state
// machine: INIT -> HELLO_WAIT|HELLO_SENT -> ESTABLISHED -> DRAINING -> CLOSED,
// with a FAILED side-exit that the reconnect driver watches for.
type Phase int32

const (
	PhaseInit Phase = iota
	PhaseHelloWait // server side: accepted, awaiting client/hello
	PhaseHelloSent // client side: client/hello sent, awaiting server/hello
	PhaseEstablished
	PhaseDraining
	PhaseClosed
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseHelloWait:
		return "hello_wait"
	case PhaseHelloSent:
		return "hello_sent"
	case PhaseEstablished:
		return "established"
	case PhaseDraining:
		return "draining"
	case PhaseClosed:
		return "closed"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CloseReason records why an Endpoint closed, for logging and for the
// reconnect driver's retry decision.
type CloseReason int

const (
	CloseUnspecified CloseReason = iota
	CloseGraceful
	ClosePeerGoodbye
	CloseProtocolError
	CloseBufferOverrun
	CloseTransportError
	CloseShutdown
)

func (r CloseReason) String() string {
	switch r {
	case CloseGraceful:
		return "graceful"
	case ClosePeerGoodbye:
		return "peer-goodbye"
	case CloseProtocolError:
		return "protocol-error"
	case CloseBufferOverrun:
		return "buffer-overrun"
	case CloseTransportError:
		return "transport-error"
	case CloseShutdown:
		return "shutdown"
	default:
		return "unspecified"
	}
}

// DisconnectObserver is notified exactly once when an Endpoint reaches
// CLOSED or FAILED, with a snapshot of the close reason and whether the
// caller should retry (client-initiated peers only).
type DisconnectObserver func(e *Endpoint, reason CloseReason, retry bool)

// Handler receives decoded text and binary traffic for one Endpoint.
// Handler methods are invoked from the single reader goroutine; they
// must not block for long or call back into Endpoint.Close synchronously
// from within a defer that the reader itself awaits.
type Handler interface {
	HandleText(e *Endpoint, msg protocol.Message) error
	HandleBinary(e *Endpoint, frame protocol.BinaryFrame) error
}

const (
	defaultOutboundCapacity = 256
	defaultWriteTimeout     = 10 * time.Second
	defaultPingInterval     = 30 * time.Second
	defaultCloseDeadline    = 200 * time.Millisecond
)

type outboundFrame struct {
	binary  bool
	payload []byte
}

// Endpoint owns one WebSocket peer. Exactly one reader goroutine and
// one writer goroutine run per Endpoint; application code never touches
// the underlying socket directly.
type Endpoint struct {
	id   string
	conn *websocket.Conn

	phase atomic.Int32

	rolesMu sync.Mutex
	roles   []protocol.Role // written once, before the ESTABLISHED transition

	streamActive atomic.Bool

	handler atomic.Pointer[Handler]
	onClose atomic.Pointer[DisconnectObserver]

	outbound chan outboundFrame
	closed   chan struct{}
	drained  chan struct{} // closed by writeLoop once it has drained and released the socket
	closeMu  sync.Mutex    // guards the close-protocol compare-and-set
	didClose bool

	writeTimeout time.Duration
	pingInterval time.Duration

	// ReconnectURL is set by the reconnect driver on Endpoints it dials,
	// recording the URL the Endpoint was dialed from.
	ReconnectURL string

	wg sync.WaitGroup
}

// New wraps an already-upgraded or already-dialed WebSocket connection.
// initialPhase is PhaseHelloWait for server-accepted sockets (the server
// is about to wait for client/hello) or PhaseHelloSent for client-dialed
// sockets, whose first outbound message is the caller's client/hello.
func New(id string, wsConn *websocket.Conn, initialPhase Phase) *Endpoint {
	e := &Endpoint{
		id:           id,
		conn:         wsConn,
		outbound:     make(chan outboundFrame, defaultOutboundCapacity),
		closed:       make(chan struct{}),
		drained:      make(chan struct{}),
		writeTimeout: defaultWriteTimeout,
		pingInterval: defaultPingInterval,
	}
	e.phase.Store(int32(initialPhase))
	return e
}

// ID returns the Endpoint's peer identifier (client_id).
func (e *Endpoint) ID() string { return e.id }

// Phase returns the current lifecycle phase.
func (e *Endpoint) Phase() Phase { return Phase(e.phase.Load()) }

// SetHandler installs the message handler. Copy-on-set: later reads by
// the reader goroutine take an atomic load, never a lock.
func (e *Endpoint) SetHandler(h Handler) { e.handler.Store(&h) }

// SetDisconnectObserver installs the disconnect callback. Copy-on-set,
// same rationale as SetHandler: the dispatcher captures a local pointer
// before invoking it so a concurrent SetDisconnectObserver during
// dispatch never produces a torn call.
func (e *Endpoint) SetDisconnectObserver(obs DisconnectObserver) {
	e.onClose.Store(&obs)
}

// SetRoles records the peer's declared role set. Valid only before
// ESTABLISHED; once set, the role set is immutable for the Endpoint's
// lifetime per the handshake contract.
func (e *Endpoint) SetRoles(roles []protocol.Role) {
	e.rolesMu.Lock()
	defer e.rolesMu.Unlock()
	if e.roles == nil {
		e.roles = append([]protocol.Role(nil), roles...)
	}
}

// Roles returns the peer's declared role set, or nil before handshake
// completion.
func (e *Endpoint) Roles() []protocol.Role {
	e.rolesMu.Lock()
	defer e.rolesMu.Unlock()
	return append([]protocol.Role(nil), e.roles...)
}

// HasRole reports whether the peer declared the given role.
func (e *Endpoint) HasRole(want protocol.Role) bool {
	for _, r := range e.Roles() {
		if r == want {
			return true
		}
	}
	return false
}

// SetStreamActive marks whether a Stream is currently active for this
// Endpoint's Group; binary frames are only accepted for send or receipt
// while true.
func (e *Endpoint) SetStreamActive(active bool) { e.streamActive.Store(active) }

// MarkEstablished transitions HELLO_WAIT|HELLO_SENT -> ESTABLISHED. No-op
// (returns false) if the Endpoint is not in a hello phase.
func (e *Endpoint) MarkEstablished() bool {
	for {
		cur := Phase(e.phase.Load())
		if cur != PhaseHelloWait && cur != PhaseHelloSent {
			return false
		}
		if e.phase.CompareAndSwap(int32(cur), int32(PhaseEstablished)) {
			return true
		}
	}
}

// Run starts the reader and writer goroutines and blocks until both
// exit (i.e., until the Endpoint is closed). Call from its own
// goroutine; Run itself does not return until shutdown.
func (e *Endpoint) Run() {
	e.wg.Add(2)
	go e.writeLoop()
	go e.readLoop()
	e.wg.Wait()
}

// SendText encodes and enqueues a text message. Before ESTABLISHED, only
// client/hello and server/hello are legal (enforced by the caller, which
// constructs the handshake sequence); SendText itself only enforces the
// bounded-queue contract.
func (e *Endpoint) SendText(msgType string, payload any) error {
	msg, err := protocol.Encode(msgType, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return e.enqueue(outboundFrame{binary: false, payload: data})
}

// SendBinary enqueues a pre-encoded binary frame. Callers (the Stream
// Scheduler) are responsible for only calling this while the Endpoint's
// Group has an active Stream.
func (e *Endpoint) SendBinary(frame []byte) error {
	return e.enqueue(outboundFrame{binary: true, payload: frame})
}

func (e *Endpoint) enqueue(f outboundFrame) error {
	if e.Phase() == PhaseDraining || e.Phase() == PhaseClosed || e.Phase() == PhaseFailed {
		return errors.New("conn: endpoint is closing")
	}
	select {
	case e.outbound <- f:
		return nil
	default:
		// Bounded queue full: spec §7 BufferOverrun -> close with retry.
		e.Close(CloseBufferOverrun, true)
		return fmt.Errorf("conn: outbound queue full for endpoint %s", e.id)
	}
}

// writeLoop is the single goroutine that ever touches e.conn for writes.
// Close signals shutdown via e.closed and then waits on e.drained, which
// this loop guarantees to close exactly once, on every exit path, via the
// deferred finishWrite — so the close handshake and conn.Close() below
// never race with a send from any other goroutine.
func (e *Endpoint) writeLoop() {
	defer e.wg.Done()
	defer e.finishWrite()
	ticker := time.NewTicker(e.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case f, ok := <-e.outbound:
			if !ok {
				return
			}
			e.conn.SetWriteDeadline(time.Now().Add(e.writeTimeout))
			mt := websocket.TextMessage
			if f.binary {
				mt = websocket.BinaryMessage
			}
			if err := e.conn.WriteMessage(mt, f.payload); err != nil {
				e.closeFromWriter(CloseTransportError, true)
				return
			}
		case <-ticker.C:
			e.conn.SetWriteDeadline(time.Now().Add(e.writeTimeout))
			if err := e.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(e.writeTimeout)); err != nil {
				e.closeFromWriter(CloseTransportError, true)
				return
			}
		case <-e.closed:
			e.drainOnClose()
			return
		}
	}
}

// drainOnClose flushes whatever is left in the outbound queue, bounded
// by defaultCloseDeadline, per the close protocol's step 2.
func (e *Endpoint) drainOnClose() {
	deadline := time.After(defaultCloseDeadline)
	for {
		select {
		case f, ok := <-e.outbound:
			if !ok {
				return
			}
			e.conn.SetWriteDeadline(time.Now().Add(e.writeTimeout))
			mt := websocket.TextMessage
			if f.binary {
				mt = websocket.BinaryMessage
			}
			_ = e.conn.WriteMessage(mt, f.payload)
		case <-deadline:
			return
		}
	}
}

// finishWrite runs once writeLoop has stopped consuming e.outbound for
// any reason: it performs the close handshake (step 3 of the close
// protocol, always after the drain) and releases the socket, then
// unblocks any Close() call waiting on e.drained.
func (e *Endpoint) finishWrite() {
	e.conn.SetWriteDeadline(time.Now().Add(defaultCloseDeadline))
	_ = e.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(defaultCloseDeadline))
	e.conn.Close()
	close(e.drained)
}

func (e *Endpoint) readLoop() {
	defer e.wg.Done()
	defer e.Close(CloseTransportError, true)

	for {
		mt, data, err := e.conn.ReadMessage()
		if err != nil {
			return
		}

		switch mt {
		case websocket.TextMessage:
			e.handleTextFrame(data)
		case websocket.BinaryMessage:
			e.handleBinaryFrame(data)
		}

		if e.Phase() == PhaseClosed || e.Phase() == PhaseFailed {
			return
		}
	}
}

func (e *Endpoint) handleTextFrame(data []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		// MalformedFrame: log and drop, per spec §7 — does not close.
		return
	}

	phase := e.Phase()
	if phase != PhaseEstablished {
		allowed := msg.Type == "client/hello" || msg.Type == "server/hello"
		if !allowed {
			e.Close(CloseProtocolError, false)
			return
		}
	}

	hp := e.handler.Load()
	if hp == nil {
		return
	}
	_ = (*hp).HandleText(e, msg)
}

func (e *Endpoint) handleBinaryFrame(data []byte) {
	frame, err := protocol.DecodeBinaryFrame(data)
	if err != nil {
		// MalformedFrame: log and drop.
		return
	}

	if e.Phase() != PhaseEstablished || !e.streamActive.Load() {
		e.Close(CloseProtocolError, false)
		return
	}

	hp := e.handler.Load()
	if hp == nil {
		return
	}
	_ = (*hp).HandleBinary(e, frame)
}

// Close idempotently runs the close protocol: ESTABLISHED (or any
// pre-terminal phase) -> DRAINING -> CLOSED|FAILED. Concurrent callers
// all observe the same effect; only the first caller to win the
// compare-and-set performs cleanup, and the disconnect observer fires
// exactly once regardless of how many goroutines call Close. Close never
// touches the socket itself — it signals e.closed and waits for writeLoop
// (the sole writer) to drain, close-handshake, and release it, so a
// caller on another goroutine can never race the writer's WriteMessage.
func (e *Endpoint) Close(reason CloseReason, retry bool) {
	if !e.beginClose() {
		return
	}
	close(e.closed)
	<-e.drained
	e.finishClose(reason, retry)
}

// closeFromWriter is called by writeLoop itself on a transport write
// error. The caller is already the writer goroutine mid-exit, so it
// cannot signal e.closed and wait on e.drained the way Close does — that
// would deadlock waiting on its own deferred finishWrite. Instead it
// marks the Endpoint closing, wakes any Done() waiters, and finishes the
// phase transition and observer call directly; the socket release still
// happens exactly once, via writeLoop's deferred finishWrite after this
// returns.
func (e *Endpoint) closeFromWriter(reason CloseReason, retry bool) {
	if !e.beginClose() {
		return
	}
	close(e.closed)
	e.finishClose(reason, retry)
}

// beginClose performs the compare-and-set guarding idempotency and, on
// the winning call, the DRAINING transition.
func (e *Endpoint) beginClose() bool {
	e.closeMu.Lock()
	if e.didClose {
		e.closeMu.Unlock()
		return false
	}
	e.didClose = true
	e.closeMu.Unlock()

	e.phase.Store(int32(PhaseDraining))
	return true
}

// finishClose transitions to the terminal phase and fires the disconnect
// observer exactly once: from Close, after the writer has released the
// socket, or from closeFromWriter, just before the writer releases it.
func (e *Endpoint) finishClose(reason CloseReason, retry bool) {
	finalPhase := PhaseClosed
	if retry {
		finalPhase = PhaseFailed
	}
	e.phase.Store(int32(finalPhase))

	if obs := e.onClose.Load(); obs != nil {
		(*obs)(e, reason, retry)
	}
}

// Done returns a channel closed once the close protocol has begun.
func (e *Endpoint) Done() <-chan struct{} { return e.closed }
