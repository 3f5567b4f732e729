package quicconn

import (
	"fmt"

	"github.com/pkg/errors"
)

// Status mirrors the small set of internal completion codes a connection
// can terminate with when no wire error code applies.
type Status int

const (
	StatusSuccess Status = iota
	StatusAborted
	StatusConnectionIdle
	StatusConnectionTimeout
	StatusUnreachable
	StatusInternalError
	StatusOutOfMemory
	StatusHandshakeFailure
	StatusVerNegError
	StatusAddrInUse
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusAborted:
		return "ABORTED"
	case StatusConnectionIdle:
		return "CONNECTION_IDLE"
	case StatusConnectionTimeout:
		return "CONNECTION_TIMEOUT"
	case StatusUnreachable:
		return "UNREACHABLE"
	case StatusInternalError:
		return "INTERNAL_ERROR"
	case StatusOutOfMemory:
		return "OUT_OF_MEMORY"
	case StatusHandshakeFailure:
		return "HANDSHAKE_FAILURE"
	case StatusVerNegError:
		return "VER_NEG_ERROR"
	case StatusAddrInUse:
		return "ADDR_IN_USE"
	default:
		return fmt.Sprintf("STATUS(%d)", int(s))
	}
}

// TransportErrorCode is a QUIC wire-level transport error code (RFC 9000 §20.1).
type TransportErrorCode uint64

const (
	ErrNoError                  TransportErrorCode = 0x0
	ErrInternalError            TransportErrorCode = 0x1
	ErrConnectionRefused        TransportErrorCode = 0x2
	ErrFlowControlError         TransportErrorCode = 0x3
	ErrStreamLimitError         TransportErrorCode = 0x4
	ErrStreamStateError         TransportErrorCode = 0x5
	ErrFinalSizeError           TransportErrorCode = 0x6
	ErrFrameEncodingError       TransportErrorCode = 0x7
	ErrTransportParameterError  TransportErrorCode = 0x8
	ErrConnectionIDLimitError   TransportErrorCode = 0x9
	ErrProtocolViolation        TransportErrorCode = 0xA
	ErrInvalidToken             TransportErrorCode = 0xB
	ErrApplicationError         TransportErrorCode = 0xC
	ErrCryptoBufferExceeded     TransportErrorCode = 0xD
	ErrKeyUpdateError           TransportErrorCode = 0xE
	ErrAEADLimitReached         TransportErrorCode = 0xF
	ErrCryptoErrorBase          TransportErrorCode = 0x100
)

// TransportError carries a peer-facing wire error code and is always
// terminal: receiving or producing one drives the connection into TryClose.
type TransportError struct {
	Code    TransportErrorCode
	Reason  string
	wrapped error
}

func (e *TransportError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("transport error 0x%x: %s", uint64(e.Code), e.Reason)
	}
	return fmt.Sprintf("transport error 0x%x", uint64(e.Code))
}

func (e *TransportError) Unwrap() error { return e.wrapped }

func newTransportError(code TransportErrorCode, reason string) *TransportError {
	return &TransportError{Code: code, Reason: reason}
}

func wrapTransportError(code TransportErrorCode, reason string, cause error) *TransportError {
	return &TransportError{Code: code, Reason: reason, wrapped: errors.Wrap(cause, reason)}
}

// StatusErr pairs an internal Status with the local close it should drive;
// it never carries a wire error code to the peer (silent close).
type StatusErr struct {
	Status Status
	cause  error
}

func (e *StatusErr) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Status, e.cause)
	}
	return e.Status.String()
}

func (e *StatusErr) Unwrap() error { return e.cause }

func newStatusErr(status Status, cause error) *StatusErr {
	return &StatusErr{Status: status, cause: cause}
}

// ParamErrKind enumerates the synchronous failure modes of the parameter
// surface (ParamGet/ParamSet); these never terminate a connection.
type ParamErrKind int

const (
	ParamErrInvalidParameter ParamErrKind = iota
	ParamErrInvalidState
	ParamErrBufferTooSmall
	ParamErrOutOfMemory
	ParamErrNotFound
)

func (k ParamErrKind) String() string {
	switch k {
	case ParamErrInvalidParameter:
		return "INVALID_PARAMETER"
	case ParamErrInvalidState:
		return "INVALID_STATE"
	case ParamErrBufferTooSmall:
		return "BUFFER_TOO_SMALL"
	case ParamErrOutOfMemory:
		return "OUT_OF_MEMORY"
	case ParamErrNotFound:
		return "NOT_FOUND"
	default:
		return "UNKNOWN"
	}
}

// ParamError is returned synchronously from ParamGet/ParamSet; per spec.md
// §7 it never causes connection termination.
type ParamError struct {
	Kind  ParamErrKind
	Param ParamID
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("param %v: %s", e.Param, e.Kind)
}

func newParamError(kind ParamErrKind, param ParamID) *ParamError {
	return &ParamError{Kind: kind, Param: param}
}

var (
	errDuplicatePacket  = fmt.Errorf("duplicate packet number")
	errNoDestCID        = fmt.Errorf("no usable destination connection id")
	errNoSourceCID      = fmt.Errorf("no usable source connection id")
	errHandleClosed     = fmt.Errorf("connection handle already closed")
	errQueueOverflow    = fmt.Errorf("receive queue overflow")
	errStatelessReset   = fmt.Errorf("stateless reset token matched")
)
