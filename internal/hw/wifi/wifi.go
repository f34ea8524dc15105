package wifi

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/cjeanneret/oscsync/internal/debug"
)

// InterfaceType is the link type of an active network interface.
type InterfaceType int

const (
	TypeOther InterfaceType = iota
	TypeWiFi
	TypeEthernet
)

func (t InterfaceType) String() string {
	switch t {
	case TypeWiFi:
		return "wifi"
	case TypeEthernet:
		return "ethernet"
	default:
		return "other"
	}
}

// Network is a configured (saved) wireless network.
// Current is true when the platform reports it as the associated one.
type Network struct {
	Name    string
	ID      string
	Current bool
}

// Interface is an active network handle.
type Interface struct {
	Handle string
	Type   InterfaceType
}

// Driver defines the abstract interface to the host Wi-Fi stack.
// This allows plugging in NetworkManager on a Linux box
// or a mock for development on PC.
type Driver interface {
	ConfiguredNetworks() ([]Network, error)
	WifiEnabled() (bool, error)
	// ActiveNetworkID returns "" when no network is associated.
	ActiveNetworkID() (string, error)
	EnableNetwork(id string) error
	Interfaces() ([]Interface, error)
	// Bind routes connections made through DialContext over handle.
	Bind(handle string) error
	// Gateway returns the Wi-Fi gateway IPv4 address, least significant byte first.
	Gateway() (uint32, error)
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
	Close() error
}

// NewDriver creates a Wi-Fi driver based on the chosen mode.
// If mock is true, returns a MockDriver seeded with the given SSIDs and gateway.
// If mock is false, returns an NMDriver (NetworkManager).
func NewDriver(mock bool, mockNetworks []string, mockGateway string) (Driver, error) {
	if mock {
		debug.Info("Using MOCK Wi-Fi driver (development mode)")
		gw := uint32(0)
		if mockGateway != "" {
			v, err := ParseGateway(mockGateway)
			if err != nil {
				return nil, err
			}
			gw = v
		}
		return NewMockDriver(mockNetworks, gw), nil
	}
	return NewNMDriver()
}

// FormatGateway renders a little-endian IPv4 value as dotted quad:
// bits 0-7 are the first octet, bits 24-31 the last.
func FormatGateway(v uint32) string {
	return net.IPv4(byte(v), byte(v>>8), byte(v>>16), byte(v>>24)).String()
}

// ParseGateway is the inverse of FormatGateway.
func ParseGateway(s string) (uint32, error) {
	ip := net.ParseIP(s).To4()
	if ip == nil {
		return 0, fmt.Errorf("invalid IPv4 address: %q", s)
	}
	return uint32(ip[0]) | uint32(ip[1])<<8 | uint32(ip[2])<<16 | uint32(ip[3])<<24, nil
}

// MockDriver is an in-memory implementation used for development on PC or testing.
// EnableNetwork associates immediately.
type MockDriver struct {
	mu       sync.Mutex
	networks []Network
	enabled  bool
	active   string
	gateway  uint32
	bound    string
	dialer   net.Dialer
}

// NewMockDriver creates a mock with one configured network per name, radio on, nothing associated.
func NewMockDriver(names []string, gateway uint32) *MockDriver {
	m := &MockDriver{enabled: true, gateway: gateway}
	for i, name := range names {
		m.networks = append(m.networks, Network{Name: name, ID: fmt.Sprintf("mock-%d", i)})
	}
	return m
}

func (m *MockDriver) ConfiguredNetworks() ([]Network, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Network, len(m.networks))
	copy(out, m.networks)
	debug.Network("ConfiguredNetworks", "mock", len(out))
	return out, nil
}

func (m *MockDriver) WifiEnabled() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled, nil
}

func (m *MockDriver) ActiveNetworkID() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enabled {
		return "", nil
	}
	return m.active, nil
}

func (m *MockDriver) EnableNetwork(id string) error {
	debug.Network("EnableNetwork", id, "mock")
	m.Associate(id)
	return nil
}

func (m *MockDriver) Interfaces() ([]Interface, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Interface{{Handle: "eth0", Type: TypeEthernet}}
	if m.enabled && m.active != "" {
		out = append(out, Interface{Handle: "wlan0", Type: TypeWiFi})
	}
	return out, nil
}

func (m *MockDriver) Bind(handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	debug.Network("Bind", handle, "mock")
	m.bound = handle
	return nil
}

// Bound returns the handle passed to the last Bind call.
func (m *MockDriver) Bound() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bound
}

func (m *MockDriver) Gateway() (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == "" {
		return 0, fmt.Errorf("no wifi association")
	}
	return m.gateway, nil
}

func (m *MockDriver) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return m.dialer.DialContext(ctx, network, addr)
}

func (m *MockDriver) Close() error {
	debug.Trace("Wi-Fi Close (mock)")
	return nil
}

// Associate marks id as the current network, dropping any previous one.
// Unknown ids are ignored.
func (m *MockDriver) Associate(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	found := false
	for _, n := range m.networks {
		found = found || n.ID == id
	}
	if !found {
		return
	}
	for i := range m.networks {
		m.networks[i].Current = m.networks[i].ID == id
	}
	m.active = id
}

// Disassociate drops the current network.
func (m *MockDriver) Disassociate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.networks {
		m.networks[i].Current = false
	}
	m.active = ""
}

// SetWifiEnabled toggles the radio.
func (m *MockDriver) SetWifiEnabled(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = on
}
