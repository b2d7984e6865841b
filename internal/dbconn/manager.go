package dbconn

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/beatlink/djlink/internal/devicefinder"
	"github.com/beatlink/djlink/internal/djerr"
	"github.com/beatlink/djlink/internal/lifecycle"
	"github.com/beatlink/djlink/internal/metrics"
	"github.com/beatlink/djlink/internal/protocol"
	"github.com/beatlink/djlink/internal/virtualplayer"
)

// sweepInterval is how often the idle-connection sweeper wakes (spec.md
// §4.F "Pooling").
const sweepInterval = 500 * time.Millisecond

// spawnRate bounds how many port-discovery workers may start per second,
// guarding against a burst of simultaneous announcements opening a TCP
// connection storm (spec.md §5).
const spawnRate = 5

// Config configures the Connection Manager. A zero SocketTimeout is
// replaced with its default in New; a zero IdleLimit is kept as is.
type Config struct {
	SocketTimeout time.Duration
	IdleLimit     time.Duration // 0 means close pooled connections immediately

	// Metrics, if non-nil, receives pool-size and port-discovery-outcome
	// observations. Left nil in tests that build a Manager directly.
	Metrics *metrics.Metrics
}

func (c Config) withDefaults() Config {
	if c.SocketTimeout <= 0 {
		c.SocketTimeout = 10 * time.Second
	}
	return c
}

// Manager is the dbserver Connection Manager component (spec.md §4.F).
type Manager struct {
	cfg     Config
	finder  *devicefinder.Finder
	player  *virtualplayer.Player

	run  lifecycle.RunState
	pool *lifecycle.WorkerPool

	spawnLimiter *rate.Limiter

	mu            sync.Mutex
	dbServerPorts map[string]int  // IP string -> port, -1 = known unavailable
	inFlight      map[string]bool

	sourceMu sync.Mutex
	sourceOf map[byte]byte // device number -> the device number it is currently sourcing from

	connMu sync.Mutex
	conns  map[byte]*Connection // target device number -> pooled connection

	// queryPort performs one port-discovery attempt; overridden in tests
	// to avoid dialing the fixed 12523 port.
	queryPort func(ip net.IP, timeout time.Duration) (int, error)

	unsubFound  func()
	unsubUpdate func()
	sweepCancel context.CancelFunc
	wg          sync.WaitGroup
}

// New creates a Manager. finder supplies the live device table and player
// supplies this process's own device number for posing-as selection; both
// must already exist, matching how devicefinder.Finder and
// virtualplayer.Player are wired (spec.md §4.F references the Virtual
// Player as the source of the posing-as number).
func New(finder *devicefinder.Finder, player *virtualplayer.Player, cfg Config) *Manager {
	return &Manager{
		cfg:           cfg.withDefaults(),
		finder:        finder,
		player:        player,
		pool:          lifecycle.NewWorkerPool(4),
		spawnLimiter:  rate.NewLimiter(rate.Limit(spawnRate), spawnRate),
		dbServerPorts: make(map[string]int),
		inFlight:      make(map[string]bool),
		sourceOf:      make(map[byte]byte),
		conns:         make(map[byte]*Connection),
		queryPort:     queryDBServerPort,
	}
}

// IsRunning reports whether Start has succeeded and Stop has not yet run.
func (m *Manager) IsRunning() bool { return m.run.IsRunning() }

// Start subscribes to device-found and status events and begins the idle
// sweeper. Idempotent.
func (m *Manager) Start() error {
	_, err := m.run.Start(func() error {
		m.unsubFound = m.finder.OnFound(func(e devicefinder.Entry) {
			m.spawnDiscovery(e.Announcement.IP)
		})
		m.unsubUpdate = m.player.OnUpdate(func(u virtualplayer.Update) {
			m.trackSource(u.Status)
		})

		ctx, cancel := context.WithCancel(context.Background())
		m.sweepCancel = cancel
		m.wg.Add(1)
		go m.sweepLoop(ctx)
		return nil
	})
	return err
}

// Stop unsubscribes from the Device Finder and Virtual Player, stops the
// sweeper and worker pool, and closes every pooled connection. Stopping
// the Device Finder does not call it; Peer.Stop does.
func (m *Manager) Stop() {
	m.run.Stop(func() {
		if m.unsubFound != nil {
			m.unsubFound()
		}
		if m.unsubUpdate != nil {
			m.unsubUpdate()
		}
		if m.sweepCancel != nil {
			m.sweepCancel()
		}
		m.wg.Wait()
		m.pool.Stop()

		m.connMu.Lock()
		for target, c := range m.conns {
			c.Close()
			delete(m.conns, target)
		}
		m.connMu.Unlock()
		m.setConnsGauge()
	})
}

// IPFor returns the current device table's IP for deviceNumber, or nil if
// it is not currently tracked. Exposed so callers that key state off a
// device's address (e.g. internal/dbquery's blob cache) don't have to
// duplicate the device-table lookup.
func (m *Manager) IPFor(deviceNumber byte) net.IP {
	return m.ipFor(deviceNumber)
}

// GetPlayerDBServerPort returns the discovered dbserver port for the
// given device number, or -1 if the device is unknown or no port has
// been discovered (yet, or ever) for its IP (spec.md §4.F).
func (m *Manager) GetPlayerDBServerPort(deviceNumber byte) int {
	ip := m.ipFor(deviceNumber)
	if ip == nil {
		return -1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	port, ok := m.dbServerPorts[ip.String()]
	if !ok {
		return -1
	}
	return port
}

func (m *Manager) ipFor(deviceNumber byte) net.IP {
	for _, e := range m.finder.GetCurrentDevices() {
		if e.Announcement.DeviceNumber == deviceNumber {
			return e.Announcement.IP
		}
	}
	return nil
}

func (m *Manager) storePort(ip net.IP, port int) {
	m.mu.Lock()
	m.dbServerPorts[ip.String()] = port
	m.mu.Unlock()
}

func (m *Manager) clearInFlight(ip net.IP) {
	m.mu.Lock()
	delete(m.inFlight, ip.String())
	m.mu.Unlock()
}

// spawnDiscovery starts a port-discovery worker for ip unless one is
// already in flight for it; in that case the running worker is kept and
// no new one is started.
func (m *Manager) spawnDiscovery(ip net.IP) {
	key := ip.String()
	m.mu.Lock()
	if m.inFlight[key] {
		m.mu.Unlock()
		return
	}
	m.inFlight[key] = true
	m.mu.Unlock()

	m.pool.Submit(func() {
		m.spawnLimiter.Wait(context.Background())
		m.discoverPort(ip)
	})
}

// trackSource records which source player a device's currently loaded
// track came from, derived from CdjStatus updates; used by
// choosePosingNumber to avoid borrowing a player that is mid-transfer
// from the target (spec.md §4.F "Allocating a client").
func (m *Manager) trackSource(upd protocol.DeviceUpdate) {
	s, ok := upd.(protocol.CdjStatus)
	if !ok {
		return
	}
	m.sourceMu.Lock()
	m.sourceOf[s.DeviceNumber()] = s.SourcePlayer
	m.sourceMu.Unlock()
}

func (m *Manager) sweepLoop(ctx context.Context) {
	defer m.wg.Done()
	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.sweepIdle()
		}
	}
}

func (m *Manager) sweepIdle() {
	now := time.Now()
	m.connMu.Lock()
	var toClose []byte
	for target, c := range m.conns {
		idle, isIdle := c.idleFor(now)
		if isIdle && idle >= m.cfg.IdleLimit {
			toClose = append(toClose, target)
		}
	}
	for _, target := range toClose {
		c := m.conns[target]
		delete(m.conns, target)
		c.Close()
		log.Printf("dbconn: closed idle connection to player %d", target)
	}
	m.connMu.Unlock()
	if len(toClose) > 0 {
		m.setConnsGauge()
	}
}

// setConnsGauge reports the current pool size to m.cfg.Metrics, if
// configured. Callers must not hold connMu.
func (m *Manager) setConnsGauge() {
	if m.cfg.Metrics == nil {
		return
	}
	m.connMu.Lock()
	n := len(m.conns)
	m.connMu.Unlock()
	m.cfg.Metrics.ConnectionsOpen.Set(float64(n))
}

// Allocate returns a pooled Connection for target, opening and
// handshaking a new one if none is pooled yet (spec.md §4.F "Allocating a
// client"). The caller must call Release when done. Returns
// djerr.ErrNoPeer if target is not currently in the device table,
// djerr.ErrNoPosingNumber if no posing-as number can be found, and
// djerr.ErrNetwork/djerr.ErrProtocol on connection or handshake failure.
func (m *Manager) Allocate(target byte) (*Connection, error) {
	if !m.IsRunning() {
		return nil, fmt.Errorf("dbconn: %w: not running", djerr.ErrState)
	}

	m.connMu.Lock()
	if c, ok := m.conns[target]; ok {
		c.acquire()
		m.connMu.Unlock()
		return c, nil
	}
	m.connMu.Unlock()

	ip := m.ipFor(target)
	if ip == nil {
		return nil, fmt.Errorf("dbconn: %w: device %d", djerr.ErrNoPeer, target)
	}
	port := m.GetPlayerDBServerPort(target)
	if port < 0 {
		return nil, fmt.Errorf("dbconn: %w: no dbserver port known for device %d", djerr.ErrNetwork, target)
	}

	posingAs, err := m.choosePosing(target)
	if err != nil {
		return nil, err
	}

	netConn, err := net.DialTimeout("tcp4", fmt.Sprintf("%s:%d", ip, port), m.cfg.SocketTimeout)
	if err != nil {
		return nil, fmt.Errorf("dbconn: %w: dial %s:%d: %v", djerr.ErrNetwork, ip, port, err)
	}
	if err := handshake(netConn, posingAs, target, m.cfg.SocketTimeout); err != nil {
		netConn.Close()
		return nil, err
	}

	c := &Connection{netConn: netConn, target: target, posingAs: posingAs, timeout: m.cfg.SocketTimeout}
	c.acquire()

	m.connMu.Lock()
	// Another allocation may have raced us between the check above and
	// here; spec.md §8 requires at most one connection per target, so the
	// loser closes its own socket and adopts the winner's.
	if existing, ok := m.conns[target]; ok {
		m.connMu.Unlock()
		c.Close()
		existing.acquire()
		return existing, nil
	}
	m.conns[target] = c
	m.connMu.Unlock()
	m.setConnsGauge()
	return c, nil
}

// Release returns conn to the pool, decrementing its use count (spec.md
// §4.F "Pooling"). With IdleLimit == 0, spec.md §4.F requires idle
// connections to close immediately rather than survive until the next
// sweep, so a conn that just went idle is closed and evicted here instead
// of waiting for sweepIdle's next tick.
func (m *Manager) Release(conn *Connection) {
	conn.release()
	if m.cfg.IdleLimit != 0 {
		return
	}
	if _, isIdle := conn.idleFor(time.Now()); !isIdle {
		return
	}
	m.connMu.Lock()
	if m.conns[conn.target] == conn {
		delete(m.conns, conn.target)
	}
	m.connMu.Unlock()
	conn.Close()
	m.setConnsGauge()
}

func (m *Manager) choosePosing(target byte) (byte, error) {
	self := m.player.DeviceNumber()

	var candidates []byte
	for _, e := range m.finder.GetCurrentDevices() {
		n := e.Announcement.DeviceNumber
		if n >= 1 && n <= 4 && n != self {
			candidates = append(candidates, n)
		}
	}

	m.sourceMu.Lock()
	sourceOf := make(map[byte]byte, len(m.sourceOf))
	for k, v := range m.sourceOf {
		sourceOf[k] = v
	}
	m.sourceMu.Unlock()

	return choosePosingNumber(self, target, candidates, sourceOf)
}
