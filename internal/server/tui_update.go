// ABOUTME: TUI update helpers for server
// ABOUTME: Functions to send server state updates to TUI
package server

// updateTUI sends current server state to TUI
func (s *Server) updateTUI() {
	if s.tui == nil {
		return
	}

	s.sessionsMu.Lock()
	sessions := make([]*clientSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessionsMu.Unlock()

	clients := make([]ClientInfo, 0, len(sessions))
	for _, sess := range sessions {
		sess.mu.Lock()
		name := sess.name
		id := sess.clientID
		state := string(sess.state)
		streaming := sess.scheduler != nil
		sess.mu.Unlock()

		codec := "pcm"
		if streaming {
			codec = "streaming"
		}
		clients = append(clients, ClientInfo{
			Name:  name,
			ID:    id,
			Codec: codec,
			State: state,
		})
	}

	s.tui.Update(ServerStatus{
		Name:       s.config.Name,
		Port:       s.config.Port,
		Clients:    clients,
		AudioTitle: "Test Tone (440Hz)",
	})
}
