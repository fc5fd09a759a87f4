package netutil

import (
	"net"
	"testing"
	"time"
)

func TestSelectBindAddrPrefersFirstFree(t *testing.T) {
	addr, err := SelectBindAddr("127.0.0.1:0", nil, false)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if addr != "127.0.0.1:0" {
		t.Fatalf("addr = %q", addr)
	}
}

func TestSelectBindAddrFallsBackWhenAllowed(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	busy := ln.Addr().String()

	if _, err := SelectBindAddr(busy, nil, false); err == nil {
		t.Fatal("expected refusal without fallback")
	}

	addr, err := SelectBindAddr(busy, []string{"127.0.0.1:0"}, true)
	if err != nil {
		t.Fatalf("fallback: %v", err)
	}
	if addr != "127.0.0.1:0" {
		t.Fatalf("addr = %q", addr)
	}
}

func TestPortInUseReflectsListenerState(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	if !PortInUse("127.0.0.1", port, time.Second) {
		t.Fatal("open listener reported free")
	}
	ln.Close()
	if PortInUse("127.0.0.1", port, 200*time.Millisecond) {
		t.Fatal("closed port reported in use")
	}
}
