package virtualplayer

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/beatlink/djlink/internal/devicefinder"
	"github.com/beatlink/djlink/internal/djerr"
	"github.com/beatlink/djlink/internal/protocol"
)

// waitForInterface implements spec.md §4.D steps 2-3: wait up to ~5s for a
// peer announcement so the Device Finder can tell us which local
// interface carries DJ Link broadcasts, then derive that interface's
// broadcast address.
func (p *Player) waitForInterface() error {
	hintCh := make(chan struct {
		iface *net.Interface
		ip    net.IP
	}, 1)
	p.finder.OnLocalInterfaceHint = func(iface *net.Interface, ip net.IP) {
		select {
		case hintCh <- struct {
			iface *net.Interface
			ip    net.IP
		}{iface, ip}:
		default:
		}
	}

	select {
	case hint := <-hintCh:
		bcast, local, err := broadcastAddrFor(hint.iface, hint.ip)
		if err != nil {
			return fmt.Errorf("virtualplayer: %w: %v", djerr.ErrNetwork, err)
		}
		p.broadcast = bcast
		p.localIP = local
		p.iface = hint.iface
		return nil
	case <-time.After(interfaceWaitTimeout):
		return fmt.Errorf("virtualplayer: %w: no peer announcement seen within %s", djerr.ErrTimeout, interfaceWaitTimeout)
	}
}

// broadcastAddrFor derives the directed broadcast address from the first
// IPv4 address iface.Addrs() reports, and returns that address as local;
// ip is not consulted.
func broadcastAddrFor(iface *net.Interface, ip net.IP) (broadcast, local net.IP, err error) {
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, nil, err
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.To4() == nil {
			continue
		}
		ip4 := ipNet.IP.To4()
		mask := ipNet.Mask
		bcast := make(net.IP, 4)
		for i := range bcast {
			bcast[i] = ip4[i] | ^mask[i]
		}
		return bcast, ip4, nil
	}
	return nil, nil, fmt.Errorf("no IPv4 address on interface %s", iface.Name)
}

// claimDeviceNumber implements spec.md §4.D step 4-5: try the caller's
// requested number first if standard-player restriction allows it,
// otherwise probe the legal range in preference order, claiming the
// first candidate that survives two announcement rounds unopposed.
func (p *Player) claimDeviceNumber() (byte, error) {
	if p.cfg.DeviceNumber >= 1 && p.cfg.DeviceNumber <= 4 && p.cfg.UseStandardPlayerNumber {
		if p.tryClaimCandidate(p.cfg.DeviceNumber) {
			return p.cfg.DeviceNumber, nil
		}
	}

	for _, n := range candidateOrder(p.cfg.UseStandardPlayerNumber) {
		if p.tryClaimCandidate(n) {
			return n, nil
		}
	}
	return 0, fmt.Errorf("virtualplayer: %w", djerr.ErrUnableToAssignDeviceNumber)
}

// candidateOrder returns the device numbers to probe, in preference
// order: when restricted to standard numbers, only 1-4; otherwise 5-15
// first (spec.md: "preferred: 5-15 when use standard number is false"),
// falling back to 1-4.
func candidateOrder(useStandard bool) []byte {
	if useStandard {
		return []byte{1, 2, 3, 4}
	}
	order := make([]byte, 0, 15)
	for n := byte(5); n <= 15; n++ {
		order = append(order, n)
	}
	for n := byte(1); n <= 4; n++ {
		order = append(order, n)
	}
	return order
}

// tryClaimCandidate sends two announcement rounds naming n as a
// provisional channel number and reports whether, after both rounds, no
// peer in the device table currently holds n.
func (p *Player) tryClaimCandidate(n byte) bool {
	if p.deviceNumberTaken(n) {
		return false
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: p.localIP, Port: 0})
	if err != nil {
		return false
	}
	defer conn.Close()
	if p.iface != nil {
		// Pin the candidate-announcement socket to the interface the hint
		// identified, so a multi-homed host probes on the right NIC even
		// before the real status socket exists (spec.md §4.D step 3).
		_ = ipv4.NewPacketConn(conn).SetMulticastInterface(p.iface)
	}

	wire := protocol.EncodeChannelAnnounce(p.cfg.DeviceName, n)
	dst := &net.UDPAddr{IP: p.broadcast, Port: devicefinder.Port}
	for round := 0; round < 2; round++ {
		conn.WriteToUDP(wire, dst)
		time.Sleep(300 * time.Millisecond)
		if p.deviceNumberTaken(n) {
			return false
		}
	}
	return true
}

func (p *Player) deviceNumberTaken(n byte) bool {
	for _, e := range p.finder.GetCurrentDevices() {
		if e.Announcement.DeviceNumber == n {
			return true
		}
	}
	return false
}
