// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package wire

import (
	"encoding/binary"
	"fmt"
)

// EncodingError is returned if an Envelope cannot be represented on the wire.
type EncodingError struct {
	PayloadLen uint64
	Limit      uint64
}

func (err *EncodingError) Error() string {
	return fmt.Sprintf("payload of %d bytes exceeds the limit of %d bytes", err.PayloadLen, err.Limit)
}

// DecodingReason classifies a DecodingError.
type DecodingReason uint8

const (
	_ DecodingReason = iota

	// ReasonTooShort is a frame shorter than header and tag.
	ReasonTooShort

	// ReasonVersion is an unknown wire format version.
	ReasonVersion

	// ReasonLength is a declared payload length not matching the frame.
	ReasonLength

	// ReasonTag is an integrity tag mismatch.
	ReasonTag

	// ReasonPayload is a malformed control payload.
	ReasonPayload
)

func (reason DecodingReason) String() string {
	switch reason {
	case ReasonTooShort:
		return "frame too short"
	case ReasonVersion:
		return "unknown version"
	case ReasonLength:
		return "payload length mismatch"
	case ReasonTag:
		return "integrity tag mismatch"
	case ReasonPayload:
		return "malformed payload"
	default:
		return "unknown reason"
	}
}

// DecodingError is returned for frames failing validation.
type DecodingError struct {
	Reason DecodingReason
	Detail string
}

func (err *DecodingError) Error() string {
	if err.Detail == "" {
		return fmt.Sprintf("decoding failed: %v", err.Reason)
	}
	return fmt.Sprintf("decoding failed: %v, %s", err.Reason, err.Detail)
}

// ErrorCode is carried by error responses.
type ErrorCode uint16

const (
	_ ErrorCode = iota

	// CodeUnknownOpcode is sent if no handler is registered for an Opcode.
	CodeUnknownOpcode

	// CodeHandlerFailure is sent if a handler returned an error.
	CodeHandlerFailure

	// CodeHandlerPanic is sent if a handler panicked.
	CodeHandlerPanic

	// CodeUnauthorized is sent if a sender was refused.
	CodeUnauthorized

	// CodeBadRequest is sent for malformed system requests.
	CodeBadRequest

	// CodeNotFound is sent if a requested record does not exist.
	CodeNotFound
)

// CodeApplication is the first ErrorCode free for applications.
const CodeApplication ErrorCode = 0x0100

func (code ErrorCode) String() string {
	switch code {
	case CodeUnknownOpcode:
		return "unknown opcode"
	case CodeHandlerFailure:
		return "handler failure"
	case CodeHandlerPanic:
		return "handler panic"
	case CodeUnauthorized:
		return "unauthorized"
	case CodeBadRequest:
		return "bad request"
	case CodeNotFound:
		return "not found"
	default:
		return fmt.Sprintf("code %d", uint16(code))
	}
}

// RemoteError is the content of an error response. Its payload layout is
// [code:2][message].
type RemoteError struct {
	Code    ErrorCode
	Message string
}

func (err *RemoteError) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("remote error: %v", err.Code)
	}
	return fmt.Sprintf("remote error: %v, %s", err.Code, err.Message)
}

// Is matches RemoteErrors by their Code.
func (err *RemoteError) Is(target error) bool {
	t, ok := target.(*RemoteError)
	return ok && t.Code == err.Code
}

// Payload serializes this RemoteError.
func (err *RemoteError) Payload() []byte {
	p := make([]byte, 2, 2+len(err.Message))
	binary.BigEndian.PutUint16(p, uint16(err.Code))
	return append(p, err.Message...)
}

// ParseRemoteError reads an error response's payload.
func ParseRemoteError(payload []byte) (*RemoteError, error) {
	if len(payload) < 2 {
		return nil, &DecodingError{Reason: ReasonPayload, Detail: "error payload misses its code"}
	}

	return &RemoteError{
		Code:    ErrorCode(binary.BigEndian.Uint16(payload[:2])),
		Message: string(payload[2:]),
	}, nil
}

// ErrorResponse creates the error response to a request.
func ErrorResponse(request Opcode, correlationID uint64, remoteErr *RemoteError) Envelope {
	return NewEnvelope(request.Base()|ErrorFlag, correlationID, remoteErr.Payload())
}

// Sentinel RemoteErrors to be used with errors.Is.
var (
	ErrUnknownOpcode = &RemoteError{Code: CodeUnknownOpcode}
	ErrUnauthorized  = &RemoteError{Code: CodeUnauthorized}
	ErrNotFound      = &RemoteError{Code: CodeNotFound}
)
