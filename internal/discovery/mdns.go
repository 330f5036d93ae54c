// ABOUTME: mDNS service discovery for the Resonate protocol
// ABOUTME: Handles both advertisement (server-initiated) and browsing (client-initiated)
package discovery

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/url"

	"github.com/hashicorp/mdns"

	"github.com/resonatehq-oss/resonate/internal/conn"
)

// Resonate's two mDNS service types (spec.md §4.6): a server advertises
// itself as "_resonate-server._tcp" for client-initiated connects, and
// browses "_resonate._tcp" for self-advertising clients it should dial
// (server-initiated connects). A client Manager does the mirror image.
const (
	serviceTypePlayer = "_resonate._tcp"
	serviceTypeServer = "_resonate-server._tcp"
)

// Config holds discovery configuration.
type Config struct {
	ServiceName string
	Port        int
	Path        string // WebSocket path, defaults to "/resonate"
	ServerMode  bool   // true: advertise as _resonate-server._tcp; false: _resonate._tcp
}

// Manager handles mDNS advertisement and browsing.
type Manager struct {
	config  Config
	ctx     context.Context
	cancel  context.CancelFunc
	servers chan *ServerInfo
}

// ServerInfo describes a discovered peer.
type ServerInfo struct {
	Name string
	Host string
	Port int
}

// URL returns the ws:// endpoint this discovered peer should be dialed at.
func (s *ServerInfo) URL(path string) string {
	if path == "" {
		path = "/resonate"
	}
	u := url.URL{Scheme: "ws", Host: fmt.Sprintf("%s:%d", s.Host, s.Port), Path: path}
	return u.String()
}

// NewManager creates a discovery manager.
func NewManager(config Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	if config.Path == "" {
		config.Path = "/resonate"
	}

	return &Manager{
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
		servers: make(chan *ServerInfo, 10),
	}
}

// Advertise advertises this endpoint via mDNS under the configured
// service type.
func (m *Manager) Advertise() error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	serviceType := serviceTypePlayer
	if m.config.ServerMode {
		serviceType = serviceTypeServer
	}

	service, err := mdns.NewMDNSService(
		m.config.ServiceName,
		serviceType,
		"",
		"",
		m.config.Port,
		ips,
		[]string{"path=" + m.config.Path},
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	log.Printf("advertising mDNS service %q on port %d (%s)", m.config.ServiceName, m.config.Port, serviceType)

	go func() {
		<-m.ctx.Done()
		server.Shutdown()
	}()

	return nil
}

// Browse continuously searches for Resonate servers and publishes
// discoveries onto Servers().
func (m *Manager) Browse() error {
	go m.browseLoop()
	return nil
}

// BrowseAndConnect browses for servers and dials each newly-discovered
// peer through driver, so the Connection Endpoint reconnect logic (§4.2)
// takes over from the first successful handshake onward. This is the
// glue spec.md §4.6 names between Discovery and the Connection Endpoint.
func (m *Manager) BrowseAndConnect(driver *conn.Driver) error {
	if err := m.Browse(); err != nil {
		return err
	}
	go func() {
		for {
			select {
			case <-m.ctx.Done():
				return
			case srv, ok := <-m.servers:
				if !ok {
					return
				}
				driver.Connect(m.ctx, srv.URL(m.config.Path))
			}
		}
	}()
	return nil
}

func (m *Manager) browseLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		entries := make(chan *mdns.ServiceEntry, 10)

		go func() {
			for entry := range entries {
				server := &ServerInfo{
					Name: entry.Name,
					Host: entry.AddrV4.String(),
					Port: entry.Port,
				}

				log.Printf("discovered server %s at %s:%d", server.Name, server.Host, server.Port)

				select {
				case m.servers <- server:
				case <-m.ctx.Done():
					return
				}
			}
		}()

		serviceType := serviceTypeServer
		if m.config.ServerMode {
			serviceType = serviceTypePlayer
		}

		params := &mdns.QueryParam{
			Service: serviceType,
			Domain:  "local",
			Timeout: 3,
			Entries: entries,
		}

		mdns.Query(params)
		close(entries)
	}
}

// Servers returns the channel of discovered peers.
func (m *Manager) Servers() <-chan *ServerInfo {
	return m.servers
}

// Stop stops the discovery manager.
func (m *Manager) Stop() {
	m.cancel()
}

func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
