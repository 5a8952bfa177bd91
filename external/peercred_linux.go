// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package external // import "github.com/perfsampler/agent/external"

import (
	"net"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// logPeer logs the credentials of a producer connected over a unix socket.
func logPeer(conn net.Conn) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return
	}
	var (
		cred    *unix.Ucred
		credErr error
	)
	err = raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil || credErr != nil {
		return
	}
	log.Debugf("External producer connected: pid %d uid %d gid %d", cred.Pid, cred.Uid, cred.Gid)
}
