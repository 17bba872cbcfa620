//go:build windows

// SPDX-License-Identifier: GPL-3.0-or-later

package transporter

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// controlReuseAddress sets SO_REUSEADDR on the socket before connect.
func controlReuseAddress(network, address string, conn syscall.RawConn) error {
	var serr error
	err := conn.Control(func(fd uintptr) {
		serr = windows.SetsockoptInt(
			windows.Handle(fd), windows.SOL_SOCKET, windows.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return serr
}
