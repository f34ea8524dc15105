package wifi

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cjeanneret/oscsync/internal/debug"
)

const (
	nmcliTimeout   = 5 * time.Second
	wirelessType   = "802-11-wireless"
	defaultRouteIP = "00000000"
)

// commandRunner executes an external command and returns its stdout.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// NMDriver talks to NetworkManager through nmcli and reads the gateway
// from the kernel routing table.
// Binding uses SO_BINDTODEVICE, which needs CAP_NET_RAW on Linux.
type NMDriver struct {
	run       commandRunner
	routePath string

	mu    sync.Mutex
	bound string
}

// NewNMDriver creates a NetworkManager driver.
// Requires nmcli in PATH.
func NewNMDriver() (*NMDriver, error) {
	debug.Info("Initializing NetworkManager Wi-Fi driver (nmcli)")
	if _, err := exec.LookPath("nmcli"); err != nil {
		return nil, fmt.Errorf("nmcli not found: %w (is NetworkManager installed?)", err)
	}
	return &NMDriver{run: execRunner, routePath: "/proc/net/route"}, nil
}

func (d *NMDriver) nmcli(args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), nmcliTimeout)
	defer cancel()
	debug.Trace("nmcli %s", strings.Join(args, " "))
	out, err := d.run(ctx, "nmcli", args...)
	if err != nil {
		return nil, fmt.Errorf("nmcli %s: %w", strings.Join(args, " "), err)
	}
	return out, nil
}

func (d *NMDriver) ConfiguredNetworks() ([]Network, error) {
	out, err := d.nmcli("-t", "-f", "NAME,UUID,TYPE,STATE", "connection", "show")
	if err != nil {
		return nil, err
	}
	var nets []Network
	for _, f := range terseRecords(out, 4) {
		if f[2] != wirelessType {
			continue
		}
		nets = append(nets, Network{Name: f[0], ID: f[1], Current: f[3] == "activated"})
	}
	debug.Network("ConfiguredNetworks", "nmcli", len(nets))
	return nets, nil
}

func (d *NMDriver) WifiEnabled() (bool, error) {
	out, err := d.nmcli("radio", "wifi")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(string(out)) == "enabled", nil
}

func (d *NMDriver) ActiveNetworkID() (string, error) {
	out, err := d.nmcli("-t", "-f", "UUID,TYPE,STATE", "connection", "show", "--active")
	if err != nil {
		return "", err
	}
	for _, f := range terseRecords(out, 3) {
		if f[1] == wirelessType && f[2] == "activated" {
			return f[0], nil
		}
	}
	return "", nil
}

// EnableNetwork asks NetworkManager to bring the connection up without
// waiting for the association to complete.
func (d *NMDriver) EnableNetwork(id string) error {
	_, err := d.nmcli("--wait", "0", "connection", "up", "uuid", id)
	return err
}

func (d *NMDriver) Interfaces() ([]Interface, error) {
	out, err := d.nmcli("-t", "-f", "DEVICE,TYPE,STATE", "device")
	if err != nil {
		return nil, err
	}
	var ifaces []Interface
	for _, f := range terseRecords(out, 3) {
		if !strings.HasPrefix(f[2], "connected") {
			continue
		}
		t := TypeOther
		switch f[1] {
		case "wifi":
			t = TypeWiFi
		case "ethernet":
			t = TypeEthernet
		}
		ifaces = append(ifaces, Interface{Handle: f[0], Type: t})
	}
	return ifaces, nil
}

func (d *NMDriver) Bind(handle string) error {
	if handle == "" {
		return errors.New("bind: empty interface name")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	debug.Network("Bind", handle, "SO_BINDTODEVICE")
	d.bound = handle
	return nil
}

func (d *NMDriver) boundHandle() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bound
}

// Gateway reads the default route of the bound interface, or of the first
// connected Wi-Fi interface when nothing is bound.
func (d *NMDriver) Gateway() (uint32, error) {
	iface := d.boundHandle()
	if iface == "" {
		ifaces, err := d.Interfaces()
		if err != nil {
			return 0, err
		}
		for _, i := range ifaces {
			if i.Type == TypeWiFi {
				iface = i.Handle
				break
			}
		}
	}
	if iface == "" {
		return 0, errors.New("no connected wifi interface")
	}

	f, err := os.Open(d.routePath)
	if err != nil {
		return 0, fmt.Errorf("open route table: %w", err)
	}
	defer f.Close()
	return defaultGateway(f, iface)
}

func (d *NMDriver) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := net.Dialer{Control: bindControl(d.boundHandle())}
	return dialer.DialContext(ctx, network, addr)
}

func (d *NMDriver) Close() error {
	debug.Trace("Wi-Fi Close (nmcli)")
	return nil
}

// defaultGateway scans a /proc/net/route table for the default route of iface.
// The kernel prints addresses as the hex of the in-memory (little-endian) value.
func defaultGateway(r io.Reader, iface string) (uint32, error) {
	sc := bufio.NewScanner(r)
	first := true
	for sc.Scan() {
		if first {
			first = false
			continue
		}
		fields := strings.Fields(sc.Text())
		if len(fields) < 3 || fields[0] != iface || fields[1] != defaultRouteIP {
			continue
		}
		v, err := strconv.ParseUint(fields[2], 16, 32)
		if err != nil {
			return 0, fmt.Errorf("parse gateway %q: %w", fields[2], err)
		}
		return uint32(v), nil
	}
	if err := sc.Err(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("no default route on %s", iface)
}

// terseRecords splits nmcli -t output into records of exactly n fields.
// Lines with another field count are dropped.
func terseRecords(out []byte, n int) [][]string {
	var recs [][]string
	for _, line := range strings.Split(string(out), "\n") {
		if line == "" {
			continue
		}
		f := splitTerse(line)
		if len(f) == n {
			recs = append(recs, f)
		}
	}
	return recs
}

// splitTerse splits one nmcli terse line on ':' honoring the \: and \\ escapes.
func splitTerse(line string) []string {
	var fields []string
	var cur strings.Builder
	escaped := false
	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == ':':
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	return append(fields, cur.String())
}
