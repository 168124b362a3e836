package supervisor

import (
	"net"
	"os"
)

// Notify sends state (e.g. "READY=1", "WATCHDOG=1", "STOPPING=1") to the
// host init system over the sd_notify protocol: a single datagram written
// to the unix socket named by NOTIFY_SOCKET. It is a no-op, not an error,
// when NOTIFY_SOCKET is unset -- that's the normal case off systemd (a dev
// machine, a container without Type=notify).
func Notify(state string) error {
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return nil
	}

	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.Write([]byte(state))
	return err
}
