package peers_test

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"shfd/internal/netio"
	"shfd/internal/peers"
)

func startFakePeer(t *testing.T, handshakeReply string) peers.Peer {
	t.Helper()
	ln, err := netio.Listen(context.Background(), "127.0.0.1", 0)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		lc := netio.NewLineConn(conn)
		defer lc.Close()
		if _, err := lc.ReadLine(time.Second); err != nil {
			return
		}
		_ = lc.WriteLine(handshakeReply)
		line, err := lc.ReadLine(time.Second)
		if err != nil {
			return
		}
		_ = lc.WriteLine("OK relayed " + line)
	}()

	_, portText, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portText)
	return peers.Peer{Host: "127.0.0.1", Port: port}
}

func TestForwarderHandshakeAndRelay(t *testing.T) {
	p := startFakePeer(t, "OK peer")
	f := peers.NewForwarder("self:9002", time.Second, nil)

	conn, err := f.Dial(context.Background(), p)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	reply, err := f.Relay(conn, "FOPEN a.txt")
	if err != nil {
		t.Fatalf("Relay: %v", err)
	}
	if reply != "OK relayed FOPEN a.txt" {
		t.Fatalf("unexpected reply %q", reply)
	}
}

func TestForwarderRejectedHandshake(t *testing.T) {
	p := startFakePeer(t, "FAIL EBADCMD unknown command")
	f := peers.NewForwarder("self:9002", time.Second, nil)
	if _, err := f.Dial(context.Background(), p); err == nil {
		t.Fatal("expected handshake failure")
	}
}

func TestForwarderUnreachablePeer(t *testing.T) {
	ln, err := netio.Listen(context.Background(), "127.0.0.1", 0)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	_, portText, _ := net.SplitHostPort(ln.Addr().String())
	ln.Close()
	port, _ := strconv.Atoi(portText)

	f := peers.NewForwarder("self:9002", 200*time.Millisecond, nil)
	if _, err := f.Dial(context.Background(), peers.Peer{Host: "127.0.0.1", Port: port}); err == nil {
		t.Fatal("expected dial failure for closed port")
	}
}
