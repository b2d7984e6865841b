// Package dbcache persists dbserver binary payloads (album art, waveform
// preview/detail, beat grid, cue list blobs) fetched through
// internal/dbquery to a local SQLite database, keyed by the device IP,
// rekordbox track ID, and menu item type that produced them, so a repeat
// request for the same track does not re-open a dbserver connection.
package dbcache

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	"github.com/andybalholm/brotli"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS blobs (
	device_ip   TEXT    NOT NULL,
	rekordbox_id INTEGER NOT NULL,
	item_type   INTEGER NOT NULL,
	payload     BLOB    NOT NULL,
	fetched_at  INTEGER NOT NULL,
	PRIMARY KEY (device_ip, rekordbox_id, item_type)
);
`

// Cache wraps a sqlite-backed store of brotli-compressed dbserver blobs.
type Cache struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path and
// ensures its schema exists.
func Open(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("dbcache: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("dbcache: create schema: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close closes the underlying database handle.
func (c *Cache) Close() error { return c.db.Close() }

// Key identifies one cached blob.
type Key struct {
	DeviceIP    string
	RekordboxID uint32
	ItemType    uint32
}

// Get returns the decompressed payload for key, and whether it was found.
func (c *Cache) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	var compressed []byte
	row := c.db.QueryRowContext(ctx,
		`SELECT payload FROM blobs WHERE device_ip = ? AND rekordbox_id = ? AND item_type = ?`,
		key.DeviceIP, key.RekordboxID, key.ItemType,
	)
	if err := row.Scan(&compressed); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("dbcache: query: %w", err)
	}
	payload, err := decompress(compressed)
	if err != nil {
		return nil, false, fmt.Errorf("dbcache: decompress: %w", err)
	}
	return payload, true, nil
}

// Put compresses and stores payload under key, overwriting any existing
// entry.
func (c *Cache) Put(ctx context.Context, key Key, payload []byte) error {
	compressed, err := compress(payload)
	if err != nil {
		return fmt.Errorf("dbcache: compress: %w", err)
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO blobs (device_ip, rekordbox_id, item_type, payload, fetched_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (device_ip, rekordbox_id, item_type)
		 DO UPDATE SET payload = excluded.payload, fetched_at = excluded.fetched_at`,
		key.DeviceIP, key.RekordboxID, key.ItemType, compressed, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("dbcache: insert: %w", err)
	}
	return nil
}

// Purge removes every cached blob for deviceIP, used when a device drops
// out of the device table and its cached blobs can no longer be
// revalidated against it.
func (c *Cache) Purge(ctx context.Context, deviceIP string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM blobs WHERE device_ip = ?`, deviceIP)
	if err != nil {
		return fmt.Errorf("dbcache: purge %s: %w", deviceIP, err)
	}
	return nil
}

func compress(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, brotli.DefaultCompression)
	if _, err := w.Write(b); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(b []byte) ([]byte, error) {
	r := brotli.NewReader(bytes.NewReader(b))
	return io.ReadAll(r)
}
