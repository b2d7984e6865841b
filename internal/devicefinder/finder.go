// Package devicefinder implements the Device Finder (spec.md §4.B): it
// binds the DJ Link announcement port, maintains a live device table keyed
// by (IP, device number), and fires found/lost events as peers appear and
// disappear.
package devicefinder

import (
	"context"
	"fmt"
	"log"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/beatlink/djlink/internal/lifecycle"
	"github.com/beatlink/djlink/internal/protocol"
)

// Port is the UDP port Pro DJ Link device announcements are broadcast on
// (spec.md §6).
const Port = 50000

// EvictAfter is how long an announcement entry may go unseen before it is
// considered lost (spec.md §3 "Lifecycle").
const EvictAfter = 10 * time.Second

// sweepInterval is how often the eviction timer checks the table.
const sweepInterval = 1 * time.Second

// Entry is one live row of the device table: the most recently received
// announcement plus the time it was last refreshed.
type Entry struct {
	Announcement protocol.Announcement
	LastSeen     time.Time
}

// Key identifies a device table row by spec.md's invariant: (IP, device
// number). A new announcement with the same IP but a different number
// replaces the old entry rather than updating it in place.
type Key struct {
	IP           string
	DeviceNumber byte
}

func keyFor(a protocol.Announcement) Key {
	return Key{IP: a.IP.String(), DeviceNumber: a.DeviceNumber}
}

// Finder is the Device Finder component. Construct with New, then Start.
type Finder struct {
	state lifecycle.RunState

	found *lifecycle.Bus[Entry]
	lost  *lifecycle.Bus[Entry]
	pool  *lifecycle.WorkerPool

	// SelfFilter, if set, reports whether an announcement describes this
	// process's own virtual player so it is excluded from the table and
	// from found/lost events (spec.md §4.B "getCurrentDevices... filters
	// out the Virtual Player's own announcement").
	SelfFilter func(ip net.IP, deviceNumber byte) bool

	// OnLocalInterfaceHint, if set, is invoked the first time an
	// announcement arrives whose source IP belongs to one of this host's
	// own interfaces — the signal the Virtual Player uses to choose which
	// NIC carries DJ Link traffic (spec.md §4.B, §4.D step 2-3).
	OnLocalInterfaceHint func(iface *net.Interface, ip net.IP)

	mu      sync.RWMutex
	devices map[Key]Entry

	conn       *net.UDPConn
	cancelSwep context.CancelFunc
	wg         sync.WaitGroup

	hintFired bool
	closing   atomic.Bool
}

// New creates a Finder. Call Start to begin listening.
func New() *Finder {
	return &Finder{
		found:   lifecycle.NewBus[Entry]("devicefinder.found"),
		lost:    lifecycle.NewBus[Entry]("devicefinder.lost"),
		pool:    lifecycle.NewWorkerPool(2),
		devices: make(map[Key]Entry),
	}
}

// OnFound subscribes to device-found events, delivered on a bounded
// worker thread (spec.md §5: found/lost are not time-critical).
func (f *Finder) OnFound(fn func(Entry)) (unsubscribe func()) { return f.found.Subscribe(fn) }

// OnLost subscribes to device-lost events.
func (f *Finder) OnLost(fn func(Entry)) (unsubscribe func()) { return f.lost.Subscribe(fn) }

// IsRunning reports whether Start has succeeded and Stop has not yet run.
func (f *Finder) IsRunning() bool { return f.state.IsRunning() }

// Start binds the announcement port and begins receiving. Idempotent.
func (f *Finder) Start() error {
	_, err := f.state.Start(func() error {
		conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: Port})
		if err != nil {
			return fmt.Errorf("devicefinder: listen udp :%d: %w", Port, err)
		}
		f.conn = conn
		f.closing.Store(false)

		ctx, cancel := context.WithCancel(context.Background())
		f.cancelSwep = cancel

		f.wg.Add(2)
		go f.receiveLoop()
		go f.sweepLoop(ctx)
		return nil
	})
	return err
}

// Stop closes the socket, stops the eviction sweeper, and waits for both
// goroutines to exit. Safe to call on a non-running Finder.
func (f *Finder) Stop() {
	f.state.Stop(func() {
		f.closing.Store(true)
		if f.cancelSwep != nil {
			f.cancelSwep()
		}
		if f.conn != nil {
			f.conn.Close()
		}
		f.wg.Wait()
		f.pool.Stop()
	})
}

// GetCurrentDevices returns a point-in-time snapshot of the device table.
func (f *Finder) GetCurrentDevices() []Entry {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Entry, 0, len(f.devices))
	for _, e := range f.devices {
		out = append(out, e)
	}
	return out
}

func (f *Finder) receiveLoop() {
	defer f.wg.Done()
	// Best-effort equivalent of the teacher's dedicated-priority receive
	// thread: Go has no portable thread-priority API, so we pin this
	// goroutine to an OS thread instead, keeping it off the scheduler's
	// general-purpose pool.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	pc := ipv4.NewPacketConn(f.conn)
	buf := make([]byte, 2048)
	for {
		n, cm, src, err := pc.ReadFrom(buf)
		if err != nil {
			if f.isClosing() {
				return
			}
			log.Printf("devicefinder: read error: %v", err)
			return
		}
		f.handlePacket(buf[:n], src, cm)
	}
}

func (f *Finder) isClosing() bool { return f.closing.Load() }

func (f *Finder) handlePacket(data []byte, src net.Addr, cm *ipv4.ControlMessage) {
	h, err := protocol.ParseHeader(data)
	if err != nil {
		log.Printf("devicefinder: parse error from %s: %v", src, err)
		return
	}
	if h.Type != protocol.TypeDeviceAnnounce {
		return // not an announcement (keepalives etc. are ignored here)
	}
	a, err := protocol.DecodeAnnouncement(h)
	if err != nil {
		log.Printf("devicefinder: decode announcement from %s: %v", src, err)
		return
	}

	if f.maybeRecordLocalHint(a, cm) {
		return
	}

	if f.SelfFilter != nil && f.SelfFilter(a.IP, a.DeviceNumber) {
		return
	}

	f.upsert(a)
}

// maybeRecordLocalHint reports true (and suppresses table insertion) when
// the announcement's IP belongs to one of this host's own interfaces —
// meaning it did not come from a remote peer, it is this machine hearing
// its own broadcast echoed back, or (before the Virtual Player has chosen
// one) the candidate interface to bind future sends to.
func (f *Finder) maybeRecordLocalHint(a protocol.Announcement, cm *ipv4.ControlMessage) bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok || !ipNet.IP.Equal(a.IP) {
				continue
			}
			f.mu.Lock()
			already := f.hintFired
			f.hintFired = true
			f.mu.Unlock()
			if !already && f.OnLocalInterfaceHint != nil {
				ifaceCopy := iface
				f.OnLocalInterfaceHint(&ifaceCopy, a.IP)
			}
			return true
		}
	}
	return false
}

// upsert applies spec.md §3's replacement invariant (IP+number identity,
// same IP with a different number replaces the old row) and fires events
// only after the table itself reflects the change.
func (f *Finder) upsert(a protocol.Announcement) {
	key := keyFor(a)
	entry := Entry{Announcement: a, LastSeen: time.Now()}

	f.mu.Lock()
	_, existed := f.devices[key]
	// Replace any other entry sharing this IP but a different device
	// number (spec.md: "if a new announcement arrives with the same IP
	// but different number, the old entry is replaced").
	for k := range f.devices {
		if k.IP == key.IP && k != key {
			delete(f.devices, k)
		}
	}
	f.devices[key] = entry
	f.mu.Unlock()

	if !existed {
		lifecycle.PublishAsync(f.pool, f.found, entry)
	}
}

func (f *Finder) sweepLoop(ctx context.Context) {
	defer f.wg.Done()
	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			f.evictStale()
		}
	}
}

func (f *Finder) evictStale() {
	now := time.Now()
	var lostEntries []Entry

	f.mu.Lock()
	for k, e := range f.devices {
		if now.Sub(e.LastSeen) > EvictAfter {
			delete(f.devices, k) // table updated before any event fires
			lostEntries = append(lostEntries, e)
		}
	}
	f.mu.Unlock()

	for _, e := range lostEntries {
		lifecycle.PublishAsync(f.pool, f.lost, e)
	}
}
