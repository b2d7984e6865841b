// Package virtualplayer implements the Virtual Player (spec.md §4.D): a
// simulated Pro DJ Link device that claims a device number, tracks tempo
// master transitions, optionally emits its own status and beat packets,
// and can send the small set of unicast commands a real player accepts.
package virtualplayer

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
	"golang.org/x/time/rate"

	"github.com/beatlink/djlink/internal/devicefinder"
	"github.com/beatlink/djlink/internal/djerr"
	"github.com/beatlink/djlink/internal/lifecycle"
	"github.com/beatlink/djlink/internal/protocol"
)

// Port is the UDP port per-device status and unicast commands are
// exchanged on (spec.md §6).
const Port = 50002

// AnnounceInterval is the default self-announcement cadence (spec.md §6
// "announce_interval_ms", default 1500).
const AnnounceInterval = 1500 * time.Millisecond

// StatusInterval is how often the sender thread emits a status packet
// while sending is enabled (spec.md §4.D "Sending status").
const StatusInterval = 200 * time.Millisecond

// interfaceWaitTimeout is how long Start waits for the Device Finder to
// see at least one peer announcement before giving up on choosing an
// interface (spec.md §4.D step 2).
const interfaceWaitTimeout = 5 * time.Second

// masterHandoffTimeout bounds becomeTempoMaster (spec.md §4.D, §7 TIMEOUT).
const masterHandoffTimeout = 5 * time.Second

// Update is delivered to status listeners on the receive goroutine
// (spec.md §4.D "Event fan-out").
type Update struct {
	Status protocol.DeviceUpdate
}

// MasterEvent is delivered to master listeners whenever the tracked
// tempo-master identity, its tempo, or a beat from it changes.
type MasterEvent struct {
	Kind          MasterEventKind
	MasterDevice  byte  // 0 if there is no current master
	HasMaster     bool
	MilliBPM      int
	Beat          protocol.Beat
}

// MasterEventKind discriminates the three triggers spec.md §4.D names for
// invoking the master listener.
type MasterEventKind int

const (
	MasterChanged MasterEventKind = iota
	MasterTempoChanged
	MasterBeat
)

// Config configures a Player's identity and negotiation behavior; zero
// values are replaced with the spec.md §6 defaults in New.
type Config struct {
	DeviceName              string
	DeviceNumber            byte // 0 = auto
	UseStandardPlayerNumber bool
	AnnounceInterval        time.Duration
	SocketTimeout           time.Duration
}

func (c Config) withDefaults() Config {
	if c.DeviceName == "" {
		c.DeviceName = "beat-link"
	}
	if c.AnnounceInterval <= 0 {
		c.AnnounceInterval = AnnounceInterval
	}
	if c.SocketTimeout <= 0 {
		c.SocketTimeout = 10 * time.Second
	}
	return c
}

// state is the mutable, stateMu-guarded snapshot the sender thread
// copies and the public mutators (setTempo, setPlaying, ...) write
// (spec.md §4.D "mutate the cached state atomically; the sender thread
// reads the snapshot").
type state struct {
	milliBPM      int
	pitchRaw      int32
	onAir         bool
	synced        bool
	playing       bool
	beatNumber    int32
	beatWithinBar byte
	nextBeatAt    time.Time
}

// Player is the Virtual Player component.
type Player struct {
	cfg    Config
	finder *devicefinder.Finder

	run lifecycle.RunState

	updates *lifecycle.Bus[Update]
	masters *lifecycle.Bus[MasterEvent]

	deviceNumber atomic.Int32 // byte value, -1 until assigned
	broadcast    net.IP
	localIP      net.IP
	iface        *net.Interface

	conn         *net.UDPConn
	closing      atomic.Bool
	cancelAnnounce context.CancelFunc
	wg           sync.WaitGroup

	stateMu sync.Mutex
	st      state

	sendLimiter *rate.Limiter

	masterMu     sync.Mutex
	haveMaster   bool
	masterDevice byte
	masterBPM    int
	masterSeenAt time.Time
	yieldingTo   byte // 0 = not yielding

	handoffAck    chan byte
	sendingMaster atomic.Bool

	sendStop chan struct{}
	sendWG   sync.WaitGroup
}

// New creates a Player bound to the given Device Finder, which must
// already exist (spec.md §4.D step 1: "Open the Device Finder"); the
// caller owns its lifecycle independently.
func New(finder *devicefinder.Finder, cfg Config) *Player {
	cfg = cfg.withDefaults()
	p := &Player{
		cfg:     cfg,
		finder:  finder,
		updates: lifecycle.NewBus[Update]("virtualplayer.update"),
		masters: lifecycle.NewBus[MasterEvent]("virtualplayer.master"),
		sendLimiter: rate.NewLimiter(rate.Limit(20), 5),
	}
	p.deviceNumber.Store(-1)
	return p
}

// OnUpdate subscribes to every decoded status packet from any peer.
func (p *Player) OnUpdate(fn func(Update)) (unsubscribe func()) { return p.updates.Subscribe(fn) }

// OnMaster subscribes to tempo-master transitions.
func (p *Player) OnMaster(fn func(MasterEvent)) (unsubscribe func()) { return p.masters.Subscribe(fn) }

// IsRunning reports whether Start has succeeded and Stop has not yet run.
func (p *Player) IsRunning() bool { return p.run.IsRunning() }

// DeviceNumber returns the claimed device number, or 0 if none has been
// assigned (component not started, or negotiation has not completed).
func (p *Player) DeviceNumber() byte {
	n := p.deviceNumber.Load()
	if n < 0 {
		return 0
	}
	return byte(n)
}

// CanSend reports whether this player is eligible to emit its own status
// and beat packets (spec.md §4.D "Sending status (optional)... Enabled
// only when the chosen device number is in 1-4").
func (p *Player) CanSend() bool {
	n := p.DeviceNumber()
	return n >= 1 && n <= 4
}

// Start negotiates a device number, binds the status port, and begins
// the receive and self-announcement threads (spec.md §4.D startup
// sequence). Idempotent.
func (p *Player) Start() error {
	_, err := p.run.Start(func() error {
		if err := p.waitForInterface(); err != nil {
			return err
		}
		num, err := p.claimDeviceNumber()
		if err != nil {
			return err
		}
		conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: Port})
		if err != nil {
			return fmt.Errorf("virtualplayer: %w: listen udp :%d: %v", djerr.ErrNetwork, Port, err)
		}
		if p.iface != nil {
			_ = ipv4.NewPacketConn(conn).SetMulticastInterface(p.iface)
		}
		p.conn = conn
		p.closing.Store(false)
		p.deviceNumber.Store(int32(num))
		p.st = state{beatNumber: -1}

		ctx, cancel := context.WithCancel(context.Background())
		p.cancelAnnounce = cancel

		p.wg.Add(2)
		go p.receiveLoop()
		go p.announceLoop(ctx)
		return nil
	})
	return err
}

// Stop closes the status socket, stops any sender thread, and waits for
// every goroutine this Player owns to exit.
func (p *Player) Stop() {
	p.run.Stop(func() {
		p.closing.Store(true)
		p.stopSending()
		if p.cancelAnnounce != nil {
			p.cancelAnnounce()
		}
		if p.conn != nil {
			p.conn.Close()
		}
		p.wg.Wait()
		p.deviceNumber.Store(-1)
	})
}

func (p *Player) receiveLoop() {
	defer p.wg.Done()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	buf := make([]byte, 2048)
	for {
		n, src, err := p.conn.ReadFromUDP(buf)
		if err != nil {
			if p.closing.Load() {
				return
			}
			log.Printf("virtualplayer: read error: %v", err)
			return
		}
		p.handlePacket(buf[:n], src)
	}
}

func (p *Player) handlePacket(data []byte, src *net.UDPAddr) {
	h, err := protocol.ParseHeader(data)
	if err != nil {
		log.Printf("virtualplayer: parse error from %s: %v", src, err)
		return
	}
	receivedAt := time.Now().UnixNano()
	switch h.Type {
	case protocol.TypeDeviceAnnounce:
		p.handleStatus(h, receivedAt)
	case protocol.TypeLoadTrackCommand, protocol.TypeSyncCommand, protocol.TypeOnAirCommand:
		// Commands addressed to peers, not to us; nothing to update here
		// beyond what a fuller implementation of the target device would
		// do. Logged at debug granularity by omission (spec.md's ambient
		// logging style logs transitions, not every received command).
	case protocol.TypeMasterHandoffReq:
		p.handleMasterHandoffRequest(h, src)
	case protocol.TypeMasterHandoffRpy:
		// Acknowledgment to a request we sent; becomeTempoMaster's wait
		// loop observes the effect via subsequent status packets instead
		// of this reply directly, matching spec.md's scenario 5.
	case protocol.TypeMediaResponse:
		// Media detail responses are out of scope for master tracking.
	}
}

func (p *Player) handleStatus(h protocol.Header, receivedAt int64) {
	var upd protocol.DeviceUpdate
	totalLen := headerLen(h)
	switch {
	case protocol.IsCdjStatus(totalLen, h.Type):
		s, err := protocol.DecodeCdjStatus(h, receivedAt)
		if err != nil {
			log.Printf("virtualplayer: decode cdj status: %v", err)
			return
		}
		upd = s
		p.trackMaster(s.DeviceNumber(), s.IsMaster(), s.YieldingToDevice, s.MilliBPM())
	case protocol.IsMixerStatusPayload(len(h.Payload)):
		s, err := protocol.DecodeMixerStatus(h, receivedAt)
		if err != nil {
			log.Printf("virtualplayer: decode mixer status: %v", err)
			return
		}
		upd = s
		p.trackMaster(s.DeviceNumber(), s.IsMaster(), 0, s.MilliBPM())
	default:
		return // neither a CdjStatus nor a mixer-status length; ignored
	}
	p.updates.Publish(Update{Status: upd})
}

// headerLen reconstructs the full wire length of the packet h was parsed
// from, since ParseHeader does not retain it; IsCdjStatus only needs the
// payload length plus the fixed header size to disambiguate.
func headerLen(h protocol.Header) int {
	return 10 + 1 + protocol.DeviceNameLen + 1 + 2 + len(h.Payload)
}

func (p *Player) handleMasterHandoffRequest(h protocol.Header, src *net.UDPAddr) {
	req, err := protocol.DecodeMasterHandoffRequest(h)
	if err != nil {
		log.Printf("virtualplayer: decode master handoff request: %v", err)
		return
	}
	accepted := req.ProposedSuccessor == p.DeviceNumber()
	if p.conn == nil {
		return
	}
	if accepted {
		p.setYieldingTo(req.ProposedSuccessor)
	}
	reply := protocol.EncodeMasterHandoffResponse(p.cfg.DeviceName, accepted)
	p.conn.WriteToUDP(reply, src)
}

func (p *Player) announceLoop(ctx context.Context) {
	defer p.wg.Done()
	t := time.NewTicker(p.cfg.AnnounceInterval)
	defer t.Stop()
	for {
		p.sendAnnouncement()
		select {
		case <-t.C:
		case <-ctx.Done():
			return
		}
	}
}

func (p *Player) sendAnnouncement() {
	if p.conn == nil || p.broadcast == nil {
		return
	}
	a := protocol.Announcement{
		DeviceName:   p.cfg.DeviceName,
		DeviceNumber: p.DeviceNumber(),
		IP:           p.localIP,
	}
	wire := protocol.EncodeAnnouncement(a)
	p.conn.WriteToUDP(wire, &net.UDPAddr{IP: p.broadcast, Port: devicefinder.Port})
}
