package dbquery

import (
	"context"
	"fmt"
	"log"

	"github.com/beatlink/djlink/internal/dbcache"
	"github.com/beatlink/djlink/internal/dbconn"
	"github.com/beatlink/djlink/internal/dbproto"
	"github.com/beatlink/djlink/internal/djerr"
)

// binaryArgIndex is the response position spec.md §4.G names for every
// binary payload request: "a single response whose third argument is a
// Binary payload".
const binaryArgIndex = 2

// BinaryRequest sends a request of reqType and extracts the Binary
// payload from its response's third argument (spec.md §4.G "Binary
// payload requests": ALBUM_ART_REQ, WAVE_PREVIEW_REQ, WAVE_DETAIL_REQ,
// BEAT_GRID_REQ, ANLZ_TAG_REQ).
func (e *Engine) BinaryRequest(target byte, reqType uint16, args []dbproto.Field) (payload []byte, err error) {
	done := e.trackQuery(reqType)
	defer func() { done(err) }()

	conn, err := e.conns.Allocate(target)
	if err != nil {
		return nil, err
	}
	defer e.conns.Release(conn)

	conn.Lock()
	defer conn.Unlock()

	resp, err := e.exchange(conn, reqType, args, 0)
	if err != nil {
		return nil, err
	}
	payload, err = extractBinary(resp, binaryArgIndex)
	return payload, err
}

// CachedBinaryRequest is BinaryRequest with a blob cache in front of it: a
// hit on (target's IP, rekordboxID, itemType) returns the stored payload
// without touching the network; a miss still runs the full request/response
// exchange and stores its result before returning (spec.md DOMAIN STACK:
// the cache never changes what a caller sees, only how often it dials
// out). With no cache configured, it is exactly BinaryRequest.
func (e *Engine) CachedBinaryRequest(target byte, rekordboxID, itemType uint32, reqType uint16, args []dbproto.Field) ([]byte, error) {
	if e.cfg.Cache == nil {
		return e.BinaryRequest(target, reqType, args)
	}
	ip := e.conns.IPFor(target)
	if ip == nil {
		return e.BinaryRequest(target, reqType, args)
	}

	ctx := context.Background()
	key := dbcache.Key{DeviceIP: ip.String(), RekordboxID: rekordboxID, ItemType: itemType}
	if cached, ok, err := e.cfg.Cache.Get(ctx, key); err != nil {
		log.Printf("dbquery: cache get for %+v: %v", key, err)
	} else if ok {
		return cached, nil
	}

	payload, err := e.BinaryRequest(target, reqType, args)
	if err != nil {
		return nil, err
	}
	if err := e.cfg.Cache.Put(ctx, key, payload); err != nil {
		log.Printf("dbquery: cache put for %+v: %v", key, err)
	}
	return payload, nil
}

// CueListRequest sends a CUE_LIST_REQ and returns the two
// separately-delimited binary payloads the server replies with: memory
// points, then hot cues (spec.md §4.G "For CUE_LIST, there are two
// separately-delimited Binary payloads").
func (e *Engine) CueListRequest(target byte, args []dbproto.Field) (memoryPoints, hotCues []byte, err error) {
	done := e.trackQuery(dbproto.TypeCueListReq)
	defer func() { done(err) }()

	conn, err := e.conns.Allocate(target)
	if err != nil {
		return nil, nil, err
	}
	defer e.conns.Release(conn)

	conn.Lock()
	defer conn.Unlock()

	memoryPoints, hotCues, err = e.cueListRequestOn(conn, args)
	return memoryPoints, hotCues, err
}

// cueListRequestOn is CueListRequest's body, taking an already-allocated,
// already-locked connection directly so it can be exercised without a
// Connection Manager.
func (e *Engine) cueListRequestOn(conn *dbconn.Connection, args []dbproto.Field) (memoryPoints, hotCues []byte, err error) {
	first, err := e.exchange(conn, dbproto.TypeCueListReq, args, 0)
	if err != nil {
		return nil, nil, err
	}
	memoryPoints, err = extractBinary(first, binaryArgIndex)
	if err != nil {
		return nil, nil, err
	}

	second, err := conn.Receive()
	if err != nil {
		return nil, nil, err
	}
	hotCues, err = extractBinary(second, binaryArgIndex)
	if err != nil {
		return nil, nil, err
	}
	return memoryPoints, hotCues, nil
}

func extractBinary(m dbproto.Message, index int) ([]byte, error) {
	if len(m.Args) <= index {
		return nil, fmt.Errorf("dbquery: %w: response carried %d args, want a binary payload at position %d", djerr.ErrProtocol, len(m.Args), index)
	}
	f := m.Args[index]
	if f.Kind != dbproto.KindBinary {
		return nil, fmt.Errorf("dbquery: %w: argument %d was not Binary", djerr.ErrProtocol, index)
	}
	return f.Binary, nil
}
