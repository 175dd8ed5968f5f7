// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package protocol defines the wire message kinds exchanged between a cvd
// client and the control-plane daemon over the UNIX-domain socket (spec.md
// §3.6, §6), and the length-prefixed JSON framing used to carry them. A
// frame may also carry ancillary file descriptors (the client's
// stdin/stdout/stderr, and an optional extra descriptor); those travel
// out-of-band via SCM_RIGHTS and are attached to Request by the server's
// listener, not encoded in the frame body.
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/google/uuid"

	"github.com/google/cuttlefish/cvderrors"
)

// WaitBehavior mirrors CommandRequest.wait_behavior (spec.md §3.6).
type WaitBehavior string

const (
	WaitBehaviorWait  WaitBehavior = "WAIT"
	WaitBehaviorStart WaitBehavior = "START"
)

// SelectorOpts is the group-selection criteria a CommandRequest carries
// (spec.md §4.2 "Group selection").
type SelectorOpts struct {
	GroupName    string `json:"group_name,omitempty"`
	InstanceName string `json:"instance_name,omitempty"`
	Home         string `json:"home,omitempty"`
}

// CommandRequest carries an invoked verb's argv, environment, and stdio
// wiring intent.
type CommandRequest struct {
	Args         []string     `json:"args"`
	Env          []string     `json:"env"`
	WorkingDir   string       `json:"working_directory"`
	SelectorOpts SelectorOpts `json:"selector_opts"`
	WaitBehavior WaitBehavior `json:"wait_behavior"`
}

// ShutdownRequest asks the daemon to terminate (spec.md §3.6).
type ShutdownRequest struct {
	Clear bool `json:"clear"`
}

// ExtensionRequest is an opaque carryover payload for forward
// compatibility; the daemon does not interpret it itself.
type ExtensionRequest struct {
	TypeURL string          `json:"type_url"`
	Value   json.RawMessage `json:"value"`
}

// Request is one client message. Exactly one of Command, Shutdown, or
// Extension is set.
type Request struct {
	ID       string           `json:"id"`
	Command  *CommandRequest  `json:"command,omitempty"`
	Shutdown *ShutdownRequest `json:"shutdown,omitempty"`
	Extension *ExtensionRequest `json:"extension,omitempty"`

	// UID/GID are the calling user's credentials, recovered from
	// SO_PEERCRED by the listener and attached here (not sent over the
	// wire by a well-behaved client, but trusted only from that source).
	UID uint32 `json:"-"`
	GID uint32 `json:"-"`

	// Stdin/Stdout/Stderr/Extra are the client's ancillary descriptors
	// received alongside this request over SCM_RIGHTS, attached here by
	// the listener rather than encoded in the frame body. -1 means the
	// client sent no descriptor for that slot (spec.md §3.6).
	Stdin, Stdout, Stderr, Extra int `json:"-"`

	// ClientFD is the client's own connection socket, needed only by
	// restart-server to hand it across exec as the carry-over client
	// (spec.md §4.1 "Self-replacement").
	ClientFD int `json:"-"`
}

// NewCommandRequest builds a Request wrapping cmd with a fresh request id.
func NewCommandRequest(cmd CommandRequest) Request {
	return Request{ID: uuid.NewString(), Command: &cmd}
}

// Code is a response status code (spec.md §3.6).
type Code int

const (
	OK Code = iota
	Internal
	FailedPrecondition
)

func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case Internal:
		return "INTERNAL"
	case FailedPrecondition:
		return "FAILED_PRECONDITION"
	default:
		return "UNKNOWN"
	}
}

// Status is the (code, message) pair every Response carries.
type Status struct {
	Code    Code   `json:"code"`
	Message string `json:"message,omitempty"`
}

// CommandResponse is returned for a Wait-behavior CommandRequest.
type CommandResponse struct {
	ExitCode int `json:"exit_code"`
}

// ShutdownResponse is returned for a ShutdownRequest.
type ShutdownResponse struct{}

// Response is the daemon's reply to one Request.
type Response struct {
	RequestID string           `json:"request_id"`
	Status    Status           `json:"status"`
	Command   *CommandResponse `json:"command,omitempty"`
	Shutdown  *ShutdownResponse `json:"shutdown,omitempty"`
}

// OKResponse builds a successful Response for req.
func OKResponse(req Request) Response {
	return Response{RequestID: req.ID, Status: Status{Code: OK}}
}

// ErrorResponse maps a cvderrors.Kind-tagged error to a Response status
// (spec.md §7's error table).
func ErrorResponse(req Request, err error) Response {
	code := Internal
	switch cvderrors.GetKind(err) {
	case cvderrors.KindPrecondition, cvderrors.KindNotFound, cvderrors.KindAmbiguous:
		code = FailedPrecondition
	}
	return Response{
		RequestID: req.ID,
		Status:    Status{Code: code, Message: err.Error()},
	}
}

// WriteFrame writes a length-prefixed JSON encoding of v to w: a 4-byte
// big-endian length followed by the JSON body.
func WriteFrame(w io.Writer, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return cvderrors.Wrap(cvderrors.KindInvariant, err, "failed to marshal frame")
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return cvderrors.Wrap(cvderrors.KindFilesystem, err, "failed to write frame length")
	}
	if _, err := w.Write(body); err != nil {
		return cvderrors.Wrap(cvderrors.KindFilesystem, err, "failed to write frame body")
	}
	return nil
}

// MaxFrameSize bounds a single frame to guard against a misbehaving peer.
const MaxFrameSize = 16 << 20

// ReadFrame reads one length-prefixed JSON frame from r into v.
func ReadFrame(r io.Reader, v interface{}) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return err // io.EOF on clean close propagates to the caller verbatim
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameSize {
		return cvderrors.Newf(cvderrors.KindInvariant, "frame of %d bytes exceeds maximum %d", n, MaxFrameSize)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return cvderrors.Wrap(cvderrors.KindFilesystem, err, "failed to read frame body")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return cvderrors.Wrap(cvderrors.KindInvariant, err, "failed to parse frame body")
	}
	return nil
}
