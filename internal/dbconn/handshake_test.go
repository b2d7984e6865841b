package dbconn

import (
	"net"
	"testing"
	"time"

	"github.com/beatlink/djlink/internal/dbproto"
)

func TestHandshakeSuccess(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan error, 1)
	go func() { done <- handshake(client, 2, 3, time.Second) }()

	// Server side: echo the greeting, then answer SETUP_REQ with
	// MENU_AVAILABLE naming target 3.
	greeting, err := dbproto.ReadField(server)
	if err != nil {
		t.Fatalf("server read greeting: %v", err)
	}
	if err := dbproto.WriteField(server, greeting); err != nil {
		t.Fatalf("server echo greeting: %v", err)
	}

	req, err := dbproto.Read(server)
	if err != nil {
		t.Fatalf("server read setup: %v", err)
	}
	if req.Transaction != setupTransaction || req.Type != dbproto.TypeSetupReq {
		t.Fatalf("setup request = %+v", req)
	}
	if req.Args[0].Number != 2 {
		t.Fatalf("posing arg = %v, want 2", req.Args[0].Number)
	}

	resp := dbproto.Message{
		Transaction: req.Transaction,
		Type:        dbproto.TypeMenuAvailable,
		Args:        []dbproto.Field{dbproto.NewNumber4(uint32(req.Type)), dbproto.NewNumber4(3)},
	}
	if err := dbproto.Write(server, resp); err != nil {
		t.Fatalf("server write response: %v", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("handshake: %v", err)
	}
}

func TestHandshakeRejectsWrongTargetInResponse(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan error, 1)
	go func() { done <- handshake(client, 2, 3, time.Second) }()

	greeting, _ := dbproto.ReadField(server)
	dbproto.WriteField(server, greeting)
	req, _ := dbproto.Read(server)

	resp := dbproto.Message{
		Transaction: req.Transaction,
		Type:        dbproto.TypeMenuAvailable,
		Args:        []dbproto.Field{dbproto.NewNumber4(uint32(req.Type)), dbproto.NewNumber4(9)},
	}
	dbproto.Write(server, resp)

	if err := <-done; err == nil {
		t.Fatal("expected handshake to fail on mismatched target")
	}
}
