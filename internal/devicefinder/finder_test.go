package devicefinder

import (
	"net"
	"testing"
	"time"

	"github.com/beatlink/djlink/internal/protocol"
)

func ann(ip string, num byte) protocol.Announcement {
	return protocol.Announcement{
		DeviceName:   "CDJ",
		DeviceNumber: num,
		IP:           net.ParseIP(ip),
		MAC:          net.HardwareAddr{1, 2, 3, 4, 5, 6},
	}
}

func TestUpsertFiresFoundOnce(t *testing.T) {
	f := New()
	defer f.pool.Stop()

	var found []Entry
	f.OnFound(func(e Entry) { found = append(found, e) })

	f.upsert(ann("10.0.0.5", 2))
	f.upsert(ann("10.0.0.5", 2)) // refresh, not a new device

	deadline := time.Now().Add(time.Second)
	for len(found) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if len(found) != 1 {
		t.Fatalf("found fired %d times, want 1", len(found))
	}
}

func TestUpsertReplacesOnNumberChange(t *testing.T) {
	f := New()
	defer f.pool.Stop()

	f.upsert(ann("10.0.0.5", 2))
	f.upsert(ann("10.0.0.5", 3)) // same IP, different number -> replaces

	devices := f.GetCurrentDevices()
	if len(devices) != 1 {
		t.Fatalf("expected exactly 1 device after replacement, got %d", len(devices))
	}
	if devices[0].Announcement.DeviceNumber != 3 {
		t.Fatalf("expected surviving entry to have device number 3, got %d", devices[0].Announcement.DeviceNumber)
	}
}

func TestEvictStaleFiresLostAndRemoves(t *testing.T) {
	f := New()
	defer f.pool.Stop()

	var lost []Entry
	f.OnLost(func(e Entry) { lost = append(lost, e) })

	f.upsert(ann("10.0.0.9", 5))
	f.mu.Lock()
	for k, e := range f.devices {
		e.LastSeen = time.Now().Add(-2 * EvictAfter)
		f.devices[k] = e
	}
	f.mu.Unlock()

	f.evictStale()

	if len(f.GetCurrentDevices()) != 0 {
		t.Fatal("expected table to be empty after eviction")
	}

	deadline := time.Now().Add(time.Second)
	for len(lost) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if len(lost) != 1 {
		t.Fatalf("lost fired %d times, want 1", len(lost))
	}
}

func TestSelfFilterExcludesOwnAnnouncement(t *testing.T) {
	f := New()
	defer f.pool.Stop()
	f.SelfFilter = func(ip net.IP, num byte) bool {
		return ip.String() == "10.0.0.1" && num == 1
	}

	f.handlePacket(protocol.EncodeAnnouncement(ann("10.0.0.1", 1)), &net.UDPAddr{}, nil)

	if len(f.GetCurrentDevices()) != 0 {
		t.Fatal("self-announcement should have been filtered")
	}
}
