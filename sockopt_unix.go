//go:build unix

// SPDX-License-Identifier: GPL-3.0-or-later

package transporter

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// controlReuseAddress sets SO_REUSEADDR on the socket before connect.
func controlReuseAddress(network, address string, conn syscall.RawConn) error {
	var serr error
	err := conn.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return serr
}
