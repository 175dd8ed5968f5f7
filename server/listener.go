// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package server

import (
	"encoding/json"

	"golang.org/x/sys/unix"

	"github.com/google/cuttlefish/cvderrors"
	"github.com/google/cuttlefish/protocol"
)

// client wraps one connected client's socket plus the descriptors it
// handed over for its own stdin/stdout/stderr (spec.md §3.6, §6).
type client struct {
	fd             int
	stdin, stdout, stderr int
	extra          int // -1 if absent
	uid, gid       uint32
}

func (c *client) closeStdio() {
	for _, fd := range []int{c.stdin, c.stdout, c.stderr, c.extra} {
		if fd >= 0 {
			unix.Close(fd)
		}
	}
}

// listen creates (or, during self-replacement, adopts) the listening
// UNIX-domain socket at path.
func listen(path string) (int, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, cvderrors.Wrap(cvderrors.KindInvariant, err, "failed to create listening socket")
	}
	_ = unix.Unlink(path)
	addr := &unix.SockaddrUnix{Name: path}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, cvderrors.Wrapf(cvderrors.KindInvariant, err, "failed to bind %q", path)
	}
	if err := unix.Listen(fd, 128); err != nil {
		unix.Close(fd)
		return -1, cvderrors.Wrap(cvderrors.KindInvariant, err, "failed to listen")
	}
	return fd, nil
}

// acceptClient accepts one connection and receives its ancillary stdio
// descriptors via SCM_RIGHTS, alongside SO_PEERCRED credentials (spec.md
// §3.6: "the calling user's credentials").
func acceptClient(listenFD int) (*client, error) {
	connFD, _, err := unix.Accept4(listenFD, unix.SOCK_CLOEXEC)
	if err != nil {
		return nil, cvderrors.Wrap(cvderrors.KindInvariant, err, "accept failed")
	}

	cred, err := unix.GetsockoptUcred(connFD, unix.SOL_SOCKET, unix.SO_PEERCRED)
	if err != nil {
		unix.Close(connFD)
		return nil, cvderrors.Wrap(cvderrors.KindInvariant, err, "failed to read peer credentials")
	}

	c := &client{fd: connFD, stdin: -1, stdout: -1, stderr: -1, extra: -1, uid: uint32(cred.Uid), gid: uint32(cred.Gid)}
	return c, nil
}

// receiveStdioFDs reads the ancillary descriptors a client sends alongside
// its first frame. It is intentionally tolerant: a client that sent fewer
// than three descriptors leaves the remainder at -1, which the command
// handlers interpret as "redirect to /dev/null".
func receiveStdioFDs(connFD int, oob []byte) (stdin, stdout, stderr, extra int) {
	stdin, stdout, stderr, extra = -1, -1, -1, -1
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return
	}
	for _, m := range msgs {
		fds, err := unix.ParseUnixRights(&m)
		if err != nil {
			continue
		}
		for i, fd := range fds {
			switch i {
			case 0:
				stdin = fd
			case 1:
				stdout = fd
			case 2:
				stderr = fd
			case 3:
				extra = fd
			}
		}
	}
	return
}

// readRequest reads one framed Request plus its ancillary descriptors from
// the client socket.
func readRequest(c *client) (protocol.Request, error) {
	oob := make([]byte, unix.CmsgSpace(4*4)) // up to 4 fds
	buf := make([]byte, protocol.MaxFrameSize)

	n, oobn, _, _, err := unix.Recvmsg(c.fd, buf, oob, 0)
	if err != nil {
		return protocol.Request{}, err
	}
	if n == 0 {
		return protocol.Request{}, cvderrors.New(cvderrors.KindInterrupted, "client closed connection")
	}

	c.stdin, c.stdout, c.stderr, c.extra = receiveStdioFDs(c.fd, oob[:oobn])

	var req protocol.Request
	// The payload uses the same length-prefixed JSON framing as
	// protocol.ReadFrame, but Recvmsg already delivered exactly one
	// datagram-shaped message for a SOCK_STREAM socket used
	// message-wise by a well-behaved client; decode the length prefix
	// out of buf directly.
	if n < 4 {
		return protocol.Request{}, cvderrors.New(cvderrors.KindInvariant, "short read on request frame")
	}
	frameLen := int(buf[0])<<24 | int(buf[1])<<16 | int(buf[2])<<8 | int(buf[3])
	if 4+frameLen > n {
		return protocol.Request{}, cvderrors.New(cvderrors.KindInvariant, "truncated request frame")
	}
	if err := json.Unmarshal(buf[4:4+frameLen], &req); err != nil {
		return protocol.Request{}, cvderrors.Wrap(cvderrors.KindInvariant, err, "failed to parse request frame")
	}
	req.UID, req.GID = c.uid, c.gid
	req.Stdin, req.Stdout, req.Stderr, req.Extra = c.stdin, c.stdout, c.stderr, c.extra
	req.ClientFD = c.fd
	return req, nil
}
