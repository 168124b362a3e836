package supervisor

import (
	"net"
	"testing"
)

func TestNotifyIsANoOpWithoutNotifySocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	if err := Notify("WATCHDOG=1"); err != nil {
		t.Fatalf("expected no error with NOTIFY_SOCKET unset, got %v", err)
	}
}

func TestNotifyWritesStateToTheSocket(t *testing.T) {
	dir := t.TempDir()
	addr := dir + "/notify.sock"

	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: addr, Net: "unixgram"})
	if err != nil {
		t.Fatalf("ListenUnixgram: %v", err)
	}
	defer conn.Close()

	t.Setenv("NOTIFY_SOCKET", addr)
	if err := Notify("WATCHDOG=1"); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	buf := make([]byte, 64)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if string(buf[:n]) != "WATCHDOG=1" {
		t.Fatalf("got %q, want %q", buf[:n], "WATCHDOG=1")
	}
}
