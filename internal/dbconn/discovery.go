package dbconn

import (
	"fmt"
	"net"
	"time"

	"github.com/beatlink/djlink/internal/djerr"
)

// DBServerPort is the fixed TCP port every player's port-discovery service
// listens on (spec.md §6).
const DBServerPort = 12523

// notReadyPort is the sentinel port-discovery response meaning the target
// hasn't finished starting its dbserver yet.
const notReadyPort = 0xFFFF

// maxPortDiscoveryAttempts and portDiscoveryDelays implement spec.md
// §4.F's "retry up to 4 times with linearly increasing delays (1s, 2s, 3s)".
const maxPortDiscoveryAttempts = 4

var portDiscoveryDelays = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	3 * time.Second,
}

// portQuery is the literal 19-byte query spec.md §6 and scenario 1 give
// verbatim: 00 00 00 0F "RemoteDBServer" 00.
var portQuery = append([]byte{0x00, 0x00, 0x00, 0x0f}, append([]byte("RemoteDBServer"), 0x00)...)

// queryDBServerPort opens a fresh TCP connection to ip:DBServerPort,
// writes the port-discovery query, and reads the 2-byte big-endian port
// response. It does not retry; callers loop per spec.md's retry policy.
func queryDBServerPort(ip net.IP, timeout time.Duration) (int, error) {
	return queryDBServerPortAddr(fmt.Sprintf("%s:%d", ip, DBServerPort), timeout)
}

// queryDBServerPortAddr is queryDBServerPort with the dial target broken
// out so tests can point it at a loopback listener instead of the fixed
// 12523 port.
func queryDBServerPortAddr(addr string, timeout time.Duration) (int, error) {
	conn, err := net.DialTimeout("tcp4", addr, timeout)
	if err != nil {
		return 0, fmt.Errorf("dbconn: %w: dial %s: %v", djerr.ErrNetwork, addr, err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(timeout))
	if _, err := conn.Write(portQuery); err != nil {
		return 0, fmt.Errorf("dbconn: %w: write port query: %v", djerr.ErrNetwork, err)
	}

	var resp [2]byte
	if _, err := readFull(conn, resp[:]); err != nil {
		return 0, fmt.Errorf("dbconn: %w: read port response: %v", djerr.ErrNetwork, err)
	}
	port := int(resp[0])<<8 | int(resp[1])
	return port, nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// discoverPort runs the full retry loop for one IP and records the outcome
// in m.dbServerPorts: the discovered port, or -1 if every attempt reported
// "not ready" or failed outright (spec.md §4.F "If all retries fail,
// remember 'no dbserver available'").
func (m *Manager) discoverPort(ip net.IP) {
	defer m.clearInFlight(ip)

	for attempt := 0; attempt < maxPortDiscoveryAttempts; attempt++ {
		port, err := m.queryPort(ip, m.cfg.SocketTimeout)
		m.recordDiscoveryOutcome(port, err)
		if err == nil && port != notReadyPort {
			m.storePort(ip, port)
			return
		}
		if attempt < len(portDiscoveryDelays) {
			time.Sleep(portDiscoveryDelays[attempt])
		}
	}
	m.storePort(ip, -1)
}

func (m *Manager) recordDiscoveryOutcome(port int, err error) {
	if m.cfg.Metrics == nil {
		return
	}
	outcome := "found"
	switch {
	case err != nil:
		outcome = "failed"
	case port == notReadyPort:
		outcome = "not_ready"
	}
	m.cfg.Metrics.PortDiscoveries.WithLabelValues(outcome).Inc()
}
