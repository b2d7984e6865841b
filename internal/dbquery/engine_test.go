package dbquery

import (
	"net"
	"testing"
	"time"

	"github.com/beatlink/djlink/internal/dbconn"
	"github.com/beatlink/djlink/internal/dbproto"
)

func TestComposeRMST(t *testing.T) {
	got := ComposeRMST(2, MenuSub, SlotUSB, TrackTypeRekordbox)
	want := uint32(2)<<24 | uint32(MenuSub)<<16 | uint32(SlotUSB)<<8 | uint32(TrackTypeRekordbox)
	if got != want {
		t.Fatalf("got %#x, want %#x", got, want)
	}
}

func TestDecodeItemTypeUnknownFallsBack(t *testing.T) {
	if got := DecodeItemType(0xDEADBEEF); got != ItemTypeUnknown {
		t.Fatalf("got %v, want ItemTypeUnknown", got)
	}
	if got := DecodeItemType(itemTypeCodes[ItemTypeArtist]); got != ItemTypeArtist {
		t.Fatalf("got %v, want ItemTypeArtist", got)
	}
}

// menuItem builds a well-formed MENU_ITEM message with the given item-type
// code in its 7th argument position.
func menuItem(txn uint32, itemType uint32) dbproto.Message {
	args := make([]dbproto.Field, MenuItemArgCount)
	for i := range args {
		args[i] = dbproto.NewNumber4(0)
	}
	args[itemTypeArgIndex] = dbproto.NewNumber4(itemType)
	return dbproto.Message{Transaction: txn, Type: dbproto.TypeMenuItem, Args: args}
}

// servePaginatedMenu answers one RequestMenu call end to end: the initial
// menu request with MENU_AVAILABLE(reqType, count), then count items
// rendered in batches of batchSize.
func servePaginatedMenu(t *testing.T, server net.Conn, reqType uint16, count uint32, batchSize uint32) {
	t.Helper()

	req, err := dbproto.Read(server)
	if err != nil {
		t.Errorf("server read menu request: %v", err)
		return
	}
	avail := dbproto.Message{
		Transaction: req.Transaction,
		Type:        dbproto.TypeMenuAvailable,
		Args:        []dbproto.Field{dbproto.NewNumber4(uint32(reqType)), dbproto.NewNumber4(count)},
	}
	if err := dbproto.Write(server, avail); err != nil {
		t.Errorf("server write MENU_AVAILABLE: %v", err)
		return
	}

	for offset := uint32(0); offset < count; {
		limit := batchSize
		if remaining := count - offset; remaining < limit {
			limit = remaining
		}
		render, err := dbproto.Read(server)
		if err != nil {
			t.Errorf("server read render request: %v", err)
			return
		}
		header := dbproto.Message{Transaction: render.Transaction, Type: dbproto.TypeMenuHeader}
		dbproto.Write(server, header)
		for i := uint32(0); i < limit; i++ {
			dbproto.Write(server, menuItem(render.Transaction, offset+i))
		}
		footer := dbproto.Message{Transaction: render.Transaction, Type: dbproto.TypeMenuFooter}
		dbproto.Write(server, footer)
		offset += limit
	}
}

func TestRequestMenuPaginatesAcrossBatches(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	conn := dbconn.NewConnection(client, 2, 2, time.Second)
	e := New(&dbconn.Manager{}, Config{MenuBatchSize: 64})

	const reqType = 0x1001
	go servePaginatedMenu(t, server, reqType, 100, 64)

	conn.Lock()
	items, err := e.requestMenuOn(conn, reqType, 0x02010203)
	conn.Unlock()
	if err != nil {
		t.Fatalf("RequestMenu: %v", err)
	}
	if len(items) != 100 {
		t.Fatalf("len(items) = %d, want 100", len(items))
	}
}

func TestRequestMenuEmptyOnNotReadySentinel(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	conn := dbconn.NewConnection(client, 2, 2, time.Second)
	e := New(&dbconn.Manager{}, Config{})

	const reqType = 0x1001
	go func() {
		req, err := dbproto.Read(server)
		if err != nil {
			return
		}
		dbproto.Write(server, dbproto.Message{
			Transaction: req.Transaction,
			Type:        dbproto.TypeMenuAvailable,
			Args:        []dbproto.Field{dbproto.NewNumber4(uint32(reqType)), dbproto.NewNumber4(notReadyCount)},
		})
	}()

	conn.Lock()
	items, err := e.requestMenuOn(conn, reqType, 0)
	conn.Unlock()
	if err != nil {
		t.Fatalf("RequestMenu: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("len(items) = %d, want 0", len(items))
	}
}

func TestRequestMenuRejectsMalformedStream(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	conn := dbconn.NewConnection(client, 2, 2, time.Second)
	e := New(&dbconn.Manager{}, Config{MenuBatchSize: 64})

	const reqType = 0x1001
	go func() {
		req, err := dbproto.Read(server)
		if err != nil {
			return
		}
		dbproto.Write(server, dbproto.Message{
			Transaction: req.Transaction,
			Type:        dbproto.TypeMenuAvailable,
			Args:        []dbproto.Field{dbproto.NewNumber4(uint32(reqType)), dbproto.NewNumber4(1)},
		})
		render, err := dbproto.Read(server)
		if err != nil {
			return
		}
		// Skip the header and send a MENU_ITEM directly: malformed.
		dbproto.Write(server, menuItem(render.Transaction, 0))
	}()

	conn.Lock()
	_, err := e.requestMenuOn(conn, reqType, 0)
	conn.Unlock()
	if err == nil {
		t.Fatal("expected malformed-stream error")
	}
}
