// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package client implements the cvd-side half of the control-plane wire
// protocol (spec.md §3.6, §6): dialing the daemon's UNIX-domain socket,
// handing over the calling process's own stdio descriptors via SCM_RIGHTS,
// and reading back the framed Response.
package client

import (
	"encoding/json"
	"os"

	"golang.org/x/sys/unix"

	"github.com/google/cuttlefish/cvderrors"
	"github.com/google/cuttlefish/protocol"
)

// Conn is one connection to the control-plane daemon.
type Conn struct {
	fd int
}

// Dial connects to the daemon listening at socketPath.
func Dial(socketPath string) (*Conn, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, cvderrors.Wrap(cvderrors.KindInvariant, err, "failed to create client socket")
	}
	if err := unix.Connect(fd, &unix.SockaddrUnix{Name: socketPath}); err != nil {
		unix.Close(fd)
		return nil, cvderrors.Wrapf(cvderrors.KindInvariant, err, "failed to connect to %q", socketPath)
	}
	return &Conn{fd: fd}, nil
}

// Close closes the connection.
func (c *Conn) Close() error { return unix.Close(c.fd) }

// Send encodes req as a length-prefixed JSON frame and writes it alongside
// the calling process's stdin/stdout/stderr as ancillary descriptors
// (spec.md §3.6 "three file descriptors (stdin/stdout/stderr of the
// calling client)"), so the daemon's handlers can redirect a spawned
// subprocess straight at this terminal.
func (c *Conn) Send(req protocol.Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return cvderrors.Wrap(cvderrors.KindInvariant, err, "failed to marshal request")
	}
	frame := make([]byte, 4+len(body))
	frame[0] = byte(len(body) >> 24)
	frame[1] = byte(len(body) >> 16)
	frame[2] = byte(len(body) >> 8)
	frame[3] = byte(len(body))
	copy(frame[4:], body)

	rights := unix.UnixRights(int(os.Stdin.Fd()), int(os.Stdout.Fd()), int(os.Stderr.Fd()))
	if err := unix.Sendmsg(c.fd, frame, rights, nil, 0); err != nil {
		return cvderrors.Wrap(cvderrors.KindInvariant, err, "failed to send request")
	}
	return nil
}

// Recv reads one framed Response from the daemon.
func (c *Conn) Recv() (protocol.Response, error) {
	var lenBuf [4]byte
	if err := readFull(c.fd, lenBuf[:]); err != nil {
		return protocol.Response{}, err
	}
	n := int(lenBuf[0])<<24 | int(lenBuf[1])<<16 | int(lenBuf[2])<<8 | int(lenBuf[3])
	body := make([]byte, n)
	if err := readFull(c.fd, body); err != nil {
		return protocol.Response{}, err
	}
	var resp protocol.Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return protocol.Response{}, cvderrors.Wrap(cvderrors.KindInvariant, err, "failed to parse response frame")
	}
	return resp, nil
}

func readFull(fd int, buf []byte) error {
	for off := 0; off < len(buf); {
		n, err := unix.Read(fd, buf[off:])
		if err != nil {
			return cvderrors.Wrap(cvderrors.KindFilesystem, err, "failed to read from daemon")
		}
		if n == 0 {
			return cvderrors.New(cvderrors.KindInterrupted, "daemon closed connection")
		}
		off += n
	}
	return nil
}

// Call is a convenience wrapper around Send/Recv for one request/response
// round trip.
func (c *Conn) Call(req protocol.Request) (protocol.Response, error) {
	if err := c.Send(req); err != nil {
		return protocol.Response{}, err
	}
	return c.Recv()
}
