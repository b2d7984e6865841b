package dbquery

import (
	"fmt"
	"time"

	"github.com/beatlink/djlink/internal/dbcache"
	"github.com/beatlink/djlink/internal/dbconn"
	"github.com/beatlink/djlink/internal/dbproto"
	"github.com/beatlink/djlink/internal/djerr"
	"github.com/beatlink/djlink/internal/metrics"
)

// MenuItemArgCount is how many fixed-position arguments a MENU_ITEM
// message carries (spec.md §4.G "Each MENU_ITEM contains 11 fixed-position
// arguments").
const MenuItemArgCount = 11

// itemTypeArgIndex is the 7th position (0-indexed 6) holding the item-type
// code within a MENU_ITEM's arguments.
const itemTypeArgIndex = 6

// DefaultMenuBatchSize is spec.md §6's menu_batch_size default.
const DefaultMenuBatchSize = 64

// notReadyCount is the MENU_AVAILABLE item-count sentinel meaning "render
// zero items" (spec.md §4.G).
const notReadyCount uint32 = 0xFFFFFFFF

// Config configures the Query Engine; zero values are replaced with
// spec.md §6 defaults in New.
type Config struct {
	MenuBatchSize uint32

	// Metrics, if non-nil, receives in-flight/latency/error observations
	// for every request this Engine issues. Left nil in tests that build
	// an Engine directly.
	Metrics *metrics.Metrics

	// Cache, if non-nil, is consulted by CachedBinaryRequest before a
	// binary-payload request is sent, and populated on every miss.
	Cache *dbcache.Cache
}

func (c Config) withDefaults() Config {
	if c.MenuBatchSize == 0 {
		c.MenuBatchSize = DefaultMenuBatchSize
	}
	return c
}

// Engine is the dbserver Query Engine component (spec.md §4.G). It holds
// no state of its own beyond configuration — every request allocates a
// connection from the Connection Manager, uses it, and releases it.
type Engine struct {
	conns *dbconn.Manager
	cfg   Config
}

// New creates an Engine bound to a running (or not-yet-started) Connection
// Manager.
func New(conns *dbconn.Manager, cfg Config) *Engine {
	return &Engine{conns: conns, cfg: cfg.withDefaults()}
}

// trackQuery records one request of reqType against e.cfg.Metrics, if
// configured: QueriesInFlight is incremented immediately and decremented
// when the returned func runs, which also reports the request's outcome
// and elapsed time via ObserveQuery.
func (e *Engine) trackQuery(reqType uint16) func(error) {
	m := e.cfg.Metrics
	if m == nil {
		return func(error) {}
	}
	m.QueriesInFlight.Inc()
	start := time.Now()
	label := fmt.Sprintf("%#04x", reqType)
	return func(err error) {
		m.QueriesInFlight.Dec()
		m.ObserveQuery(label, time.Since(start), err)
	}
}

// SimpleRequest builds a message of reqType with args, sends it to target,
// and reads one response, requiring the response transaction to match the
// request and (if expectType is non-zero) the response type to match
// expectType (spec.md §4.G "Simple request").
func (e *Engine) SimpleRequest(target byte, reqType uint16, args []dbproto.Field, expectType uint16) (resp dbproto.Message, err error) {
	done := e.trackQuery(reqType)
	defer func() { done(err) }()

	conn, err := e.conns.Allocate(target)
	if err != nil {
		return dbproto.Message{}, err
	}
	defer e.conns.Release(conn)

	conn.Lock()
	defer conn.Unlock()

	resp, err = e.exchange(conn, reqType, args, expectType)
	return resp, err
}

// exchange sends one request and validates its response. Callers must
// already hold conn's lock.
func (e *Engine) exchange(conn *dbconn.Connection, reqType uint16, args []dbproto.Field, expectType uint16) (dbproto.Message, error) {
	txn := conn.NextTransaction()
	req := dbproto.Message{Transaction: txn, Type: reqType, Args: args}
	if err := conn.Send(req); err != nil {
		return dbproto.Message{}, err
	}
	resp, err := conn.Receive()
	if err != nil {
		return dbproto.Message{}, err
	}
	if resp.Transaction != txn {
		return dbproto.Message{}, fmt.Errorf("dbquery: %w: response transaction %d, want %d", djerr.ErrProtocol, resp.Transaction, txn)
	}
	if expectType != 0 && resp.Type != expectType {
		return dbproto.Message{}, fmt.Errorf("dbquery: %w: response type %#x, want %#x", djerr.ErrProtocol, resp.Type, expectType)
	}
	return resp, nil
}

// RequestMenu issues a menu request of reqType carrying rmst, then renders
// every batch of the resulting MENU_AVAILABLE count, returning the
// concatenated MENU_ITEM messages (spec.md §4.G "Menu request + render").
// An item count of 0xFFFFFFFF yields an empty, non-nil slice.
func (e *Engine) RequestMenu(target byte, reqType uint16, rmst uint32) (items []dbproto.Message, err error) {
	done := e.trackQuery(reqType)
	defer func() { done(err) }()

	conn, err := e.conns.Allocate(target)
	if err != nil {
		return nil, err
	}
	defer e.conns.Release(conn)

	conn.Lock()
	defer conn.Unlock()

	items, err = e.requestMenuOn(conn, reqType, rmst)
	return items, err
}

// requestMenuOn is RequestMenu's body, taking an already-allocated,
// already-locked connection directly so it can be exercised without a
// Connection Manager.
func (e *Engine) requestMenuOn(conn *dbconn.Connection, reqType uint16, rmst uint32) ([]dbproto.Message, error) {
	avail, err := e.exchange(conn, reqType, []dbproto.Field{dbproto.NewNumber4(rmst)}, dbproto.TypeMenuAvailable)
	if err != nil {
		return nil, err
	}
	if len(avail.Args) != 2 {
		return nil, fmt.Errorf("dbquery: %w: MENU_AVAILABLE carried %d args, want 2", djerr.ErrProtocol, len(avail.Args))
	}
	if avail.Args[0].Number != uint32(reqType) {
		return nil, fmt.Errorf("dbquery: %w: MENU_AVAILABLE echoed request type %#x, want %#x", djerr.ErrProtocol, avail.Args[0].Number, reqType)
	}
	count := avail.Args[1].Number
	if count == notReadyCount {
		return []dbproto.Message{}, nil
	}

	items := make([]dbproto.Message, 0, count)
	for offset := uint32(0); offset < count; {
		limit := e.cfg.MenuBatchSize
		if remaining := count - offset; remaining < limit {
			limit = remaining
		}
		batch, err := e.renderBatch(conn, rmst, offset, limit)
		if err != nil {
			return nil, err
		}
		items = append(items, batch...)
		offset += limit
	}
	return items, nil
}

// renderBatch sends one RENDER_MENU_REQ for (offset, limit) and reads the
// HEADER, limit MENU_ITEMs, and FOOTER that must follow in that exact
// order (spec.md §4.G; any deviation is MALFORMED_MENU_STREAM). Callers
// must already hold conn's lock.
func (e *Engine) renderBatch(conn *dbconn.Connection, rmst uint32, offset, limit uint32) ([]dbproto.Message, error) {
	args := []dbproto.Field{
		dbproto.NewNumber4(rmst),
		dbproto.NewNumber4(offset),
		dbproto.NewNumber4(limit),
		dbproto.NewNumber4(0),
		dbproto.NewNumber4(limit),
		dbproto.NewNumber4(0),
	}
	txn := conn.NextTransaction()
	req := dbproto.Message{Transaction: txn, Type: dbproto.TypeRenderMenuReq, Args: args}
	if err := conn.Send(req); err != nil {
		return nil, err
	}

	header, err := conn.Receive()
	if err != nil {
		return nil, err
	}
	if header.Type != dbproto.TypeMenuHeader {
		return nil, fmt.Errorf("dbquery: %w: expected MENU_HEADER, got type %#x", djerr.ErrProtocol, header.Type)
	}

	items := make([]dbproto.Message, 0, limit)
	for i := uint32(0); i < limit; i++ {
		m, err := conn.Receive()
		if err != nil {
			return nil, err
		}
		if m.Type != dbproto.TypeMenuItem {
			return nil, fmt.Errorf("dbquery: %w: expected MENU_ITEM at position %d, got type %#x", djerr.ErrProtocol, i, m.Type)
		}
		items = append(items, m)
	}

	footer, err := conn.Receive()
	if err != nil {
		return nil, err
	}
	if footer.Type != dbproto.TypeMenuFooter {
		return nil, fmt.Errorf("dbquery: %w: expected MENU_FOOTER, got type %#x", djerr.ErrProtocol, footer.Type)
	}
	return items, nil
}

// ItemTypeOf extracts and decodes a MENU_ITEM message's 7th-position
// item-type code.
func ItemTypeOf(item dbproto.Message) (ItemType, error) {
	if len(item.Args) != MenuItemArgCount {
		return ItemTypeUnknown, fmt.Errorf("dbquery: %w: MENU_ITEM carried %d args, want %d", djerr.ErrProtocol, len(item.Args), MenuItemArgCount)
	}
	return DecodeItemType(item.Args[itemTypeArgIndex].Number), nil
}
