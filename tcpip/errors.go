// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tcpip holds the types shared across the stack's layers: the
// address/endpoint identifiers (§3) and the error-kind taxonomy (§7).
package tcpip

// ErrorKind classifies an Error into one of the kinds enumerated in spec §7.
// It lets callers branch on failure category without string-matching error
// messages.
type ErrorKind int

// The error kinds from spec §7.
const (
	KindBadMessage ErrorKind = iota
	KindNotSupported
	KindTimeout
	KindConnectionRefused
	KindConnectionReset
	KindNotConnected
	KindAlreadyConnected
	KindWouldBlock
	KindAddressInUse
	KindBadDescriptor
	KindAborted
	KindInvalidEndpointState
)

// Error is the concrete error type returned across the stack's layers. It is
// always one of the sentinel *Error values below; that lets the façade
// surface it through a completion token's error-kind field (spec §6.2,
// §7) without needing a type switch over concrete Go error types.
type Error struct {
	Kind ErrorKind
	msg  string
}

func (e *Error) Error() string {
	return e.msg
}

func newError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, msg: msg}
}

// Sentinel errors, one per distinct failure named in spec §7.
var (
	ErrBadMessage            = newError(KindBadMessage, "malformed message")
	ErrNotSupported          = newError(KindNotSupported, "operation not supported")
	ErrTimeout               = newError(KindTimeout, "operation timed out")
	ErrConnectionRefused     = newError(KindConnectionRefused, "connection refused")
	ErrConnectionReset       = newError(KindConnectionReset, "connection reset by peer")
	ErrConnectionAborted     = newError(KindAborted, "connection aborted")
	ErrNotConnected          = newError(KindNotConnected, "endpoint not connected")
	ErrAlreadyConnected      = newError(KindAlreadyConnected, "endpoint already connected")
	ErrWouldBlock            = newError(KindWouldBlock, "operation would block")
	ErrAddressInUse          = newError(KindAddressInUse, "address already in use")
	ErrBadDescriptor         = newError(KindBadDescriptor, "bad descriptor")
	ErrAborted               = newError(KindAborted, "operation aborted")
	ErrInvalidEndpointState  = newError(KindInvalidEndpointState, "invalid endpoint state")
)
