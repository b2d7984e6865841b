package dbconn

import (
	"fmt"
	"net"
	"time"

	"github.com/beatlink/djlink/internal/dbproto"
	"github.com/beatlink/djlink/internal/djerr"
)

// setupTransaction is the fixed transaction ID spec.md's scenario 3 pins
// for the setup handshake message.
const setupTransaction uint32 = 0xFFFFFFFE

// greetingValue is the literal Number(1,4) both sides exchange to open a
// dbserver session (spec.md §4.F step 1, scenario 3).
const greetingValue uint32 = 1

// handshake performs the greeting + setup exchange spec.md §4.F
// describes, over an already-dialed socket. On success it returns nothing
// further to check; the caller owns the connection from here on. On
// failure the caller must close the socket.
func handshake(conn net.Conn, posingAs, target byte, timeout time.Duration) error {
	conn.SetDeadline(time.Now().Add(timeout))

	greeting := dbproto.NewNumber4(greetingValue)
	if err := dbproto.WriteField(conn, greeting); err != nil {
		return fmt.Errorf("dbconn: %w: write greeting: %v", djerr.ErrNetwork, err)
	}
	reply, err := dbproto.ReadField(conn)
	if err != nil {
		return fmt.Errorf("dbconn: %w: read greeting reply: %v", djerr.ErrNetwork, err)
	}
	if reply.Kind != dbproto.KindNumber || reply.NumberWidth != 4 || reply.Number != greetingValue {
		return fmt.Errorf("dbconn: %w: greeting reply was %+v, want Number(1,4)", djerr.ErrProtocol, reply)
	}

	setup := dbproto.Message{
		Transaction: setupTransaction,
		Type:        dbproto.TypeSetupReq,
		Args:        []dbproto.Field{dbproto.NewNumber4(uint32(posingAs))},
	}
	if err := dbproto.Write(conn, setup); err != nil {
		return fmt.Errorf("dbconn: %w: write setup request: %v", djerr.ErrNetwork, err)
	}

	resp, err := dbproto.Read(conn)
	if err != nil {
		return fmt.Errorf("dbconn: %w: read setup response: %v", djerr.ErrNetwork, err)
	}
	if resp.Type != dbproto.TypeMenuAvailable || len(resp.Args) != 2 {
		return fmt.Errorf("dbconn: %w: setup response was type %#x with %d args, want MENU_AVAILABLE with 2",
			djerr.ErrProtocol, resp.Type, len(resp.Args))
	}
	if resp.Args[1].Number != uint32(target) {
		return fmt.Errorf("dbconn: %w: setup response named player %d, want %d",
			djerr.ErrProtocol, resp.Args[1].Number, target)
	}
	return nil
}
