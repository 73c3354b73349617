// Package discovery announces tactus servers over mDNS and finds
// them from the player side.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/hashicorp/mdns"

	"github.com/tactus-audio/tactus-go/internal/version"
)

// Service types on the local domain. Servers advertise the first,
// players the second.
const (
	ServerService = "_tactus-server._tcp"
	PlayerService = "_tactus._tcp"
)

// queryInterval is how long each browse round listens before starting
// the next one.
const queryInterval = 3 * time.Second

// Config holds discovery configuration.
type Config struct {
	// ServiceName is the instance name shown to browsers.
	ServiceName string
	// Port the advertised service listens on.
	Port int
	// ServerMode selects the server service type for Advertise.
	ServerMode bool
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Manager handles mDNS advertisement and browsing.
type Manager struct {
	config  Config
	log     *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	servers chan *ServerInfo
}

// ServerInfo describes a discovered server.
type ServerInfo struct {
	Name string
	Host string
	Port int
}

// NewManager creates a discovery manager.
func NewManager(config Config) *Manager {
	log := config.Logger
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		config:  config,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		servers: make(chan *ServerInfo, 10),
	}
}

// Advertise announces this instance until Stop.
func (m *Manager) Advertise() error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("discovery: local IPs: %w", err)
	}

	serviceType := PlayerService
	if m.config.ServerMode {
		serviceType = ServerService
	}

	service, err := mdns.NewMDNSService(
		m.config.ServiceName,
		serviceType,
		"",
		"",
		m.config.Port,
		ips,
		[]string{"path=/tactus", "version=" + version.Version},
	)
	if err != nil {
		return fmt.Errorf("discovery: create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("discovery: create mdns server: %w", err)
	}

	m.log.Info("advertising mdns service",
		"name", m.config.ServiceName, "port", m.config.Port, "type", serviceType)

	go func() {
		<-m.ctx.Done()
		server.Shutdown()
	}()

	return nil
}

// Browse searches for tactus servers in the background; results
// arrive on Servers.
func (m *Manager) Browse() error {
	go m.browseLoop()
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
				var host string
				switch {
				case entry.AddrV4 != nil:
					host = entry.AddrV4.String()
				case entry.AddrV6 != nil:
					host = entry.AddrV6.String()
				default:
					continue
				}

				server := &ServerInfo{
					Name: entry.Name,
					Host: host,
					Port: entry.Port,
				}

				m.log.Info("discovered server",
					"name", server.Name, "host", server.Host, "port", server.Port)

				select {
				case m.servers <- server:
				case <-m.ctx.Done():
					return
				}
			}
		}()

		params := &mdns.QueryParam{
			Service: ServerService,
			Domain:  "local",
			Timeout: queryInterval,
			Entries: entries,
		}

		if err := mdns.Query(params); err != nil {
			m.log.Warn("mdns query failed", "error", err)
		}
		close(entries)
	}
}

// Servers returns the channel of discovered servers.
func (m *Manager) Servers() <-chan *ServerInfo {
	return m.servers
}

// Stop shuts advertisement and browsing down.
func (m *Manager) Stop() {
	m.cancel()
}

// getLocalIPs returns the machine's non-loopback IPv4 addresses.
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
