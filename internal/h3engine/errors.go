package h3engine

import (
	"fmt"

	"github.com/quic-go/quic-go"
)

// ErrorCode is an HTTP/3 application error code (RFC 9114 §8.1), carried on
// QUIC CONNECTION_CLOSE/STOP_SENDING/RESET_STREAM frames.
type ErrorCode quic.ApplicationErrorCode

const (
	ErrNoError              ErrorCode = 0x100
	ErrGeneralProtocolError ErrorCode = 0x101
	ErrInternalError        ErrorCode = 0x102
	ErrStreamCreationError  ErrorCode = 0x103
	ErrClosedCriticalStream ErrorCode = 0x104
	ErrFrameUnexpected      ErrorCode = 0x105
	ErrFrameError           ErrorCode = 0x106
	ErrExcessiveLoad        ErrorCode = 0x107
	ErrIDError              ErrorCode = 0x108
	ErrSettingsError        ErrorCode = 0x109
	ErrMissingSettings      ErrorCode = 0x10a
	ErrRequestRejected      ErrorCode = 0x10b
	ErrRequestCanceled      ErrorCode = 0x10c
	ErrRequestIncomplete    ErrorCode = 0x10d
	ErrMessageError         ErrorCode = 0x10e
	ErrConnectError         ErrorCode = 0x10f
	ErrVersionFallback      ErrorCode = 0x110
)

func (e ErrorCode) String() string {
	switch e {
	case ErrNoError:
		return "H3_NO_ERROR"
	case ErrGeneralProtocolError:
		return "H3_GENERAL_PROTOCOL_ERROR"
	case ErrInternalError:
		return "H3_INTERNAL_ERROR"
	case ErrStreamCreationError:
		return "H3_STREAM_CREATION_ERROR"
	case ErrClosedCriticalStream:
		return "H3_CLOSED_CRITICAL_STREAM"
	case ErrFrameUnexpected:
		return "H3_FRAME_UNEXPECTED"
	case ErrFrameError:
		return "H3_FRAME_ERROR"
	case ErrExcessiveLoad:
		return "H3_EXCESSIVE_LOAD"
	case ErrIDError:
		return "H3_ID_ERROR"
	case ErrSettingsError:
		return "H3_SETTINGS_ERROR"
	case ErrMissingSettings:
		return "H3_MISSING_SETTINGS"
	case ErrRequestRejected:
		return "H3_REQUEST_REJECTED"
	case ErrRequestCanceled:
		return "H3_REQUEST_CANCELLED"
	case ErrRequestIncomplete:
		return "H3_REQUEST_INCOMPLETE"
	case ErrMessageError:
		return "H3_MESSAGE_ERROR"
	case ErrConnectError:
		return "H3_CONNECT_ERROR"
	case ErrVersionFallback:
		return "H3_VERSION_FALLBACK"
	default:
		return fmt.Sprintf("H3 error 0x%x", uint64(e))
	}
}

// AppCode converts to the quic-go application error code type expected by
// Conn.CloseWithError.
func (e ErrorCode) AppCode() quic.ApplicationErrorCode { return quic.ApplicationErrorCode(e) }

// StreamCode converts to the quic-go stream error code type expected by
// Stream.CancelRead / Stream.CancelWrite.
func (e ErrorCode) StreamCode() quic.StreamErrorCode { return quic.StreamErrorCode(e) }

// ConnError wraps an ErrorCode with the underlying cause, for logging.
type ConnError struct {
	Code ErrorCode
	Err  error
}

func (e *ConnError) Error() string { return fmt.Sprintf("%s: %v", e.Code, e.Err) }
func (e *ConnError) Unwrap() error { return e.Err }
