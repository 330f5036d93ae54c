// ABOUTME: Tests for the Connection Endpoint state machine
// ABOUTME: Covers handshake ordering, idempotent close, and role/stream gating
package conn

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/resonatehq-oss/resonate/pkg/protocol"
)

var testUpgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// newServerEndpoint spins up an httptest server that upgrades one
// connection into a server-side Endpoint in PhaseHelloWait, and returns
// it alongside the raw client-side *websocket.Conn used to drive it.
func newServerEndpoint(t *testing.T) (*Endpoint, *websocket.Conn) {
	t.Helper()
	var serverEP *Endpoint
	ready := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		serverEP = New("peer-1", c, PhaseHelloWait)
		close(ready)
		serverEP.Run()
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("client dial: %v", err)
	}
	t.Cleanup(func() { clientConn.Close() })

	<-ready
	return serverEP, clientConn
}

type recordingHandler struct {
	mu   sync.Mutex
	text []protocol.Message
	bin  []protocol.BinaryFrame
}

func (h *recordingHandler) HandleText(e *Endpoint, msg protocol.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.text = append(h.text, msg)
	return nil
}

func (h *recordingHandler) HandleBinary(e *Endpoint, frame protocol.BinaryFrame) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bin = append(h.bin, frame)
	return nil
}

func (h *recordingHandler) count() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.text), len(h.bin)
}

func TestHandshakeOrderingRejectsNonHelloBeforeEstablished(t *testing.T) {
	ep, client := newServerEndpoint(t)
	handler := &recordingHandler{}
	ep.SetHandler(handler)

	var closedReason CloseReason
	var closedRetry bool
	closedCh := make(chan struct{})
	ep.SetDisconnectObserver(func(_ *Endpoint, reason CloseReason, retry bool) {
		closedReason = reason
		closedRetry = retry
		close(closedCh)
	})

	// client/state before handshake completes must be rejected.
	msg, _ := protocol.Encode("client/state", protocol.ClientState{})
	data, _ := json.Marshal(msg)
	if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case <-closedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("expected endpoint to close on out-of-phase message")
	}

	if closedReason != CloseProtocolError {
		t.Errorf("expected CloseProtocolError, got %v", closedReason)
	}
	if closedRetry {
		t.Error("expected retry=false for protocol-error close")
	}
	texts, _ := handler.count()
	if texts != 0 {
		t.Errorf("expected handler not invoked for rejected message, got %d", texts)
	}
}

func TestHandshakeOrderingAcceptsHelloBeforeEstablished(t *testing.T) {
	ep, client := newServerEndpoint(t)
	handler := &recordingHandler{}
	ep.SetHandler(handler)

	hello := protocol.ClientHello{ClientID: "c1", Name: "Kitchen", Version: 1, SupportedRoles: []protocol.Role{protocol.RolePlayer}}
	msg, _ := protocol.Encode("client/hello", hello)
	data, _ := json.Marshal(msg)
	if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if texts, _ := handler.count(); texts == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected client/hello to reach handler")
}

func TestMarkEstablishedOnlyFromHelloPhases(t *testing.T) {
	ep := &Endpoint{}
	ep.phase.Store(int32(PhaseInit))
	if ep.MarkEstablished() {
		t.Error("expected MarkEstablished to fail from PhaseInit")
	}

	ep.phase.Store(int32(PhaseHelloWait))
	if !ep.MarkEstablished() {
		t.Error("expected MarkEstablished to succeed from PhaseHelloWait")
	}
	if ep.Phase() != PhaseEstablished {
		t.Errorf("expected PhaseEstablished, got %v", ep.Phase())
	}

	if ep.MarkEstablished() {
		t.Error("expected second MarkEstablished call to no-op")
	}
}

func TestCloseIsIdempotentUnderConcurrency(t *testing.T) {
	ep, _ := newServerEndpoint(t)

	var fireCount int32
	done := make(chan struct{})
	ep.SetDisconnectObserver(func(_ *Endpoint, _ CloseReason, _ bool) {
		atomic.AddInt32(&fireCount, 1)
		close(done)
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ep.Close(CloseGraceful, false)
		}()
	}
	wg.Wait()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected disconnect observer to fire")
	}

	if got := atomic.LoadInt32(&fireCount); got != 1 {
		t.Errorf("expected exactly one disconnect observation, got %d", got)
	}
	if ep.Phase() != PhaseClosed {
		t.Errorf("expected PhaseClosed, got %v", ep.Phase())
	}
}

func TestBinaryFrameRejectedOutsideActiveStream(t *testing.T) {
	ep, client := newServerEndpoint(t)
	ep.phase.Store(int32(PhaseEstablished))
	handler := &recordingHandler{}
	ep.SetHandler(handler)

	closedCh := make(chan CloseReason, 1)
	ep.SetDisconnectObserver(func(_ *Endpoint, reason CloseReason, _ bool) {
		closedCh <- reason
	})

	frame := protocol.EncodeBinaryFrame(protocol.BinaryAudioChunk, 1000, []byte{1, 2, 3})
	if err := client.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case reason := <-closedCh:
		if reason != CloseProtocolError {
			t.Errorf("expected CloseProtocolError, got %v", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected endpoint to close on binary frame outside active stream")
	}
}

func TestBinaryFrameAcceptedDuringActiveStream(t *testing.T) {
	ep, client := newServerEndpoint(t)
	ep.phase.Store(int32(PhaseEstablished))
	ep.SetStreamActive(true)
	handler := &recordingHandler{}
	ep.SetHandler(handler)

	frame := protocol.EncodeBinaryFrame(protocol.BinaryAudioChunk, 1000, []byte{1, 2, 3})
	if err := client.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, bins := handler.count(); bins == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected binary frame to reach handler during active stream")
}

func TestRoleSetImmutableAfterFirstAssignment(t *testing.T) {
	ep := &Endpoint{}
	ep.SetRoles([]protocol.Role{protocol.RolePlayer})
	ep.SetRoles([]protocol.Role{protocol.RoleController})

	if !ep.HasRole(protocol.RolePlayer) || ep.HasRole(protocol.RoleController) {
		t.Errorf("expected role set to stay at first assignment, got %v", ep.Roles())
	}
}
