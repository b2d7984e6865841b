// Package beatfinder implements the Beat Finder (spec.md §4.C): a
// low-latency receiver for beat announcements, fanned out synchronously to
// listeners on the receive goroutine so jitter stays minimal.
package beatfinder

import (
	"fmt"
	"log"
	"net"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/beatlink/djlink/internal/lifecycle"
	"github.com/beatlink/djlink/internal/protocol"
)

// Port is the UDP port beat packets are broadcast on (spec.md §6).
const Port = 50001

// Finder is the Beat Finder component.
type Finder struct {
	state lifecycle.RunState
	beats *lifecycle.Bus[protocol.Beat]

	conn    *net.UDPConn
	closing atomic.Bool
	done    chan struct{}
}

// New creates a Finder. Call Start to begin listening.
func New() *Finder {
	return &Finder{
		beats: lifecycle.NewBus[protocol.Beat]("beatfinder.beat"),
	}
}

// OnBeat subscribes to beat events. Per spec.md §4.C, listeners are
// invoked on the receive goroutine and are contractually required to
// return in microseconds; offload real work elsewhere.
func (f *Finder) OnBeat(fn func(protocol.Beat)) (unsubscribe func()) {
	return f.beats.Subscribe(fn)
}

// IsRunning reports whether the Finder is currently listening.
func (f *Finder) IsRunning() bool { return f.state.IsRunning() }

// Start binds the beat port and begins receiving. Idempotent.
func (f *Finder) Start() error {
	_, err := f.state.Start(func() error {
		conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: Port})
		if err != nil {
			return fmt.Errorf("beatfinder: listen udp :%d: %w", Port, err)
		}
		f.conn = conn
		f.closing.Store(false)
		f.done = make(chan struct{})
		go f.receiveLoop()
		return nil
	})
	return err
}

// Stop closes the socket and waits for the receive loop to exit.
func (f *Finder) Stop() {
	f.state.Stop(func() {
		f.closing.Store(true)
		if f.conn != nil {
			f.conn.Close()
		}
		<-f.done
	})
}

func (f *Finder) receiveLoop() {
	defer close(f.done)
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	buf := make([]byte, 1024)
	for {
		n, src, err := f.conn.ReadFromUDP(buf)
		if err != nil {
			if f.closing.Load() {
				return
			}
			log.Printf("beatfinder: read error: %v", err)
			return
		}
		receivedAt := time.Now().UnixNano()
		h, err := protocol.ParseHeader(buf[:n])
		if err != nil {
			log.Printf("beatfinder: parse error from %s: %v", src, err)
			continue
		}
		if h.Type != protocol.TypeBeat {
			continue
		}
		b, err := protocol.DecodeBeat(h, receivedAt)
		if err != nil {
			log.Printf("beatfinder: decode error from %s: %v", src, err)
			continue
		}
		// Synchronous dispatch on the receive goroutine: this is the
		// time-critical path spec.md §5 calls out explicitly.
		f.beats.Publish(b)
	}
}
