// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package netdap

import (
	"errors"
	"fmt"
)

type ErrorCode int

const (
	ErrorOK              ErrorCode = 0
	ErrorMalformed                 = -1
	ErrorOverflow                  = -2
	ErrorUnsupportedPort           = -3
	ErrorClosed                    = -4
	ErrorClock                     = -5
)

type ProtocolError struct {
	errorString string
	Code        ErrorCode
}

func (e *ProtocolError) Error() string {
	return e.errorString
}

func NewProtocolError(msg string, code ErrorCode) error {
	return &ProtocolError{msg, code}
}

// IsErrorCode reports whether err carries the given ProtocolError code.
func IsErrorCode(err error, code ErrorCode) bool {
	var perr *ProtocolError

	if errors.As(err, &perr) {
		return perr.Code == code
	}

	return false
}

var ErrPipelineClosed = NewProtocolError("command pipeline closed", ErrorClosed)

/**
  Converts a transfer acknowledge into a library error so host side helpers
  can report it. Protocol errors and mismatches are never retried here.
*/
func ackError(ack Ack) error {
	switch ack {
	case AckOK:
		return nil

	case AckWait:
		return NewProtocolError("target kept answering WAIT", ErrorMalformed)

	case AckFault:
		return NewProtocolError("target answered FAULT", ErrorMalformed)

	case AckMismatch, AckOK | AckMismatch:
		return NewProtocolError("value match failed", ErrorMalformed)

	default:
		return NewProtocolError(fmt.Sprintf("swd protocol error (ack 0x%x)", uint8(ack)), ErrorMalformed)
	}
}
