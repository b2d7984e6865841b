package dbconn

import (
	"net"
	"testing"
	"time"
)

// servePortQuery accepts one connection on ln, validates the literal
// 19-byte query, and writes back the given 2-byte response.
func servePortQuery(t *testing.T, ln net.Listener, portBytes [2]byte) {
	t.Helper()
	conn, err := ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	buf := make([]byte, len(portQuery))
	if _, err := readFull(conn, buf); err != nil {
		t.Errorf("server read query: %v", err)
		return
	}
	for i, b := range portQuery {
		if buf[i] != b {
			t.Errorf("query byte %d = %#x, want %#x", i, buf[i], b)
		}
	}
	conn.Write(portBytes[:])
}

func TestQueryDBServerPortSuccess(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go servePortQuery(t, ln, [2]byte{0x04, 0xD2}) // 1234

	port, err := queryDBServerPortAddr(ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("queryDBServerPortAddr: %v", err)
	}
	if port != 1234 {
		t.Fatalf("port = %d, want 1234", port)
	}
}

func TestQueryDBServerPortNotReady(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go servePortQuery(t, ln, [2]byte{0xFF, 0xFF})

	port, err := queryDBServerPortAddr(ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("queryDBServerPortAddr: %v", err)
	}
	if port != notReadyPort {
		t.Fatalf("port = %d, want notReadyPort", port)
	}
}

func TestManagerDiscoverPortRetriesThenSucceeds(t *testing.T) {
	orig := portDiscoveryDelays
	portDiscoveryDelays = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	defer func() { portDiscoveryDelays = orig }()

	var attempts int
	m := &Manager{
		cfg:           Config{SocketTimeout: time.Second}.withDefaults(),
		dbServerPorts: make(map[string]int),
		inFlight:      make(map[string]bool),
		queryPort: func(ip net.IP, timeout time.Duration) (int, error) {
			attempts++
			if attempts < 3 {
				return notReadyPort, nil
			}
			return 1234, nil
		},
	}

	ip := net.ParseIP("10.0.0.5")
	m.inFlight[ip.String()] = true

	m.discoverPort(ip)

	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
	m.mu.Lock()
	port, ok := m.dbServerPorts[ip.String()]
	m.mu.Unlock()
	if !ok || port != 1234 {
		t.Fatalf("stored port = %d, ok=%v, want 1234", port, ok)
	}
	if m.inFlight[ip.String()] {
		t.Fatal("inFlight should be cleared once discovery finishes")
	}
}

func TestManagerDiscoverPortAllRetriesFail(t *testing.T) {
	orig := portDiscoveryDelays
	portDiscoveryDelays = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	defer func() { portDiscoveryDelays = orig }()

	m := &Manager{
		cfg:           Config{SocketTimeout: time.Second}.withDefaults(),
		dbServerPorts: make(map[string]int),
		inFlight:      make(map[string]bool),
		queryPort: func(ip net.IP, timeout time.Duration) (int, error) {
			return notReadyPort, nil
		},
	}

	ip := net.ParseIP("10.0.0.6")
	m.discoverPort(ip)

	m.mu.Lock()
	port := m.dbServerPorts[ip.String()]
	m.mu.Unlock()
	if port != -1 {
		t.Fatalf("port = %d, want -1 after exhausting retries", port)
	}
}
