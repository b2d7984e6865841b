package dbcache

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "dbcache.sqlite"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestGetMissReturnsFalse(t *testing.T) {
	c := openTestCache(t)
	_, found, err := c.Get(context.Background(), Key{DeviceIP: "10.0.0.1", RekordboxID: 1, ItemType: 2})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found {
		t.Fatal("expected miss on empty cache")
	}
}

func TestPutThenGetRoundTrips(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()
	key := Key{DeviceIP: "10.0.0.1", RekordboxID: 42, ItemType: 3}
	payload := bytes.Repeat([]byte("waveform-data"), 200)

	if err := c.Put(ctx, key, payload); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, found, err := c.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found {
		t.Fatal("expected hit after Put")
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %d bytes, want %d bytes matching original", len(got), len(payload))
	}
}

func TestPutOverwritesExistingKey(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()
	key := Key{DeviceIP: "10.0.0.2", RekordboxID: 7, ItemType: 1}

	if err := c.Put(ctx, key, []byte("first")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := c.Put(ctx, key, []byte("second")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, found, err := c.Get(ctx, key)
	if err != nil || !found {
		t.Fatalf("Get: found=%v err=%v", found, err)
	}
	if string(got) != "second" {
		t.Fatalf("got %q, want %q", got, "second")
	}
}

func TestPurgeRemovesAllEntriesForDevice(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()
	a := Key{DeviceIP: "10.0.0.3", RekordboxID: 1, ItemType: 1}
	b := Key{DeviceIP: "10.0.0.3", RekordboxID: 2, ItemType: 1}
	other := Key{DeviceIP: "10.0.0.4", RekordboxID: 1, ItemType: 1}

	for _, k := range []Key{a, b, other} {
		if err := c.Put(ctx, k, []byte("x")); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if err := c.Purge(ctx, "10.0.0.3"); err != nil {
		t.Fatalf("Purge: %v", err)
	}

	for _, k := range []Key{a, b} {
		if _, found, _ := c.Get(ctx, k); found {
			t.Errorf("expected %+v purged", k)
		}
	}
	if _, found, err := c.Get(ctx, other); err != nil || !found {
		t.Errorf("expected other device's entry to survive purge: found=%v err=%v", found, err)
	}
}
