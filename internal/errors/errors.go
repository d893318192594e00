// Package errors provides unified error handling with recorder error codes.
// Codes map onto gRPC status codes for the health server and onto HTTP status
// codes for the status API.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
)

// Domain is the ErrorInfo domain attached to gRPC status details.
const Domain = "tetris-recorder"

// Code identifies a class of failure.
type Code int32

const (
	CodeUnknown Code = iota
	CodeInternal
	CodeInvalidArgument
	CodeNotFound
	CodeUnavailable
	CodeTimeout
	CodeCancelled
	CodeGeometry
	CodeRecognition
	CodeCaptureFailed
	CodeCaptureExhausted
	CodeAssetLoad
	CodeArchive
	CodeEncode
	CodeStore
	CodeNotify
	CodeNotifyRateLimited
	CodeConfigInvalid
	CodeConfigMissing
	CodeRosterLocked
	CodeRosterConflict
)

var codeNames = map[Code]string{
	CodeUnknown:           "UNKNOWN",
	CodeInternal:          "INTERNAL",
	CodeInvalidArgument:   "INVALID_ARGUMENT",
	CodeNotFound:          "NOT_FOUND",
	CodeUnavailable:       "UNAVAILABLE",
	CodeTimeout:           "TIMEOUT",
	CodeCancelled:         "CANCELLED",
	CodeGeometry:          "GEOMETRY_NOT_FOUND",
	CodeRecognition:       "RECOGNITION_AMBIGUOUS",
	CodeCaptureFailed:     "CAPTURE_FAILED",
	CodeCaptureExhausted:  "CAPTURE_EXHAUSTED",
	CodeAssetLoad:         "ASSET_LOAD_FAILED",
	CodeArchive:           "ARCHIVE_FAILED",
	CodeEncode:            "ENCODE_FAILED",
	CodeStore:             "STORE_FAILED",
	CodeNotify:            "NOTIFY_FAILED",
	CodeNotifyRateLimited: "NOTIFY_RATE_LIMITED",
	CodeConfigInvalid:     "CONFIG_INVALID",
	CodeConfigMissing:     "CONFIG_MISSING",
	CodeRosterLocked:      "ROSTER_LOCKED",
	CodeRosterConflict:    "ROSTER_CONFLICT",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("CODE_%d", int32(c))
}

// codeFromName is the inverse of codeNames, used when decoding status details.
func codeFromName(name string) Code {
	for c, s := range codeNames {
		if s == name {
			return c
		}
	}
	return CodeUnknown
}

// grpcCodeMap maps recorder codes to gRPC status codes.
var grpcCodeMap = map[Code]codes.Code{
	CodeUnknown:           codes.Unknown,
	CodeInternal:          codes.Internal,
	CodeInvalidArgument:   codes.InvalidArgument,
	CodeNotFound:          codes.NotFound,
	CodeUnavailable:       codes.Unavailable,
	CodeTimeout:           codes.DeadlineExceeded,
	CodeCancelled:         codes.Canceled,
	CodeGeometry:          codes.NotFound,
	CodeRecognition:       codes.DataLoss,
	CodeCaptureFailed:     codes.Unavailable,
	CodeCaptureExhausted:  codes.OutOfRange,
	CodeAssetLoad:         codes.FailedPrecondition,
	CodeArchive:           codes.Internal,
	CodeEncode:            codes.Internal,
	CodeStore:             codes.Unavailable,
	CodeNotify:            codes.Unavailable,
	CodeNotifyRateLimited: codes.ResourceExhausted,
	CodeConfigInvalid:     codes.InvalidArgument,
	CodeConfigMissing:     codes.FailedPrecondition,
	CodeRosterLocked:      codes.FailedPrecondition,
	CodeRosterConflict:    codes.AlreadyExists,
}

var httpCodeMap = map[Code]int{
	CodeInvalidArgument:   http.StatusBadRequest,
	CodeConfigInvalid:     http.StatusBadRequest,
	CodeNotFound:          http.StatusNotFound,
	CodeUnavailable:       http.StatusServiceUnavailable,
	CodeStore:             http.StatusServiceUnavailable,
	CodeTimeout:           http.StatusGatewayTimeout,
	CodeNotifyRateLimited: http.StatusTooManyRequests,
	CodeRosterLocked:      http.StatusConflict,
	CodeRosterConflict:    http.StatusConflict,
}

// AppError is the base error type with structured error code and metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// GRPCCode returns the corresponding gRPC status code.
func (e *AppError) GRPCCode() codes.Code {
	if c, ok := grpcCodeMap[e.Code]; ok {
		return c
	}
	return codes.Unknown
}

// HTTPStatus returns the status code used by the HTTP API.
func (e *AppError) HTTPStatus() int {
	if c, ok := httpCodeMap[e.Code]; ok {
		return c
	}
	return http.StatusInternalServerError
}

// ToProto converts to an ErrorInfo detail message.
func (e *AppError) ToProto() *errdetails.ErrorInfo {
	info := &errdetails.ErrorInfo{Reason: e.Code.String(), Domain: Domain}
	if len(e.Metadata) > 0 {
		info.Metadata = e.Metadata
	}
	return info
}

// GRPCStatus returns a gRPC status with the ErrorInfo attached.
func (e *AppError) GRPCStatus() *status.Status {
	st := status.New(e.GRPCCode(), e.Error())
	if withDetail, err := st.WithDetails(e.ToProto()); err == nil {
		return withDetail
	}
	return st
}

// New creates a new AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// FromGRPCError extracts AppError from a gRPC error if present.
func FromGRPCError(err error) *AppError {
	st, ok := status.FromError(err)
	if !ok {
		return &AppError{Code: CodeUnknown, Message: err.Error(), Cause: err}
	}

	for _, detail := range st.Details() {
		if info, ok := detail.(*errdetails.ErrorInfo); ok && info.GetDomain() == Domain {
			return &AppError{
				Code:     codeFromName(info.GetReason()),
				Message:  st.Message(),
				Metadata: info.GetMetadata(),
			}
		}
	}

	return &AppError{Code: grpcToCode(st.Code()), Message: st.Message()}
}

// grpcToCode maps gRPC codes back to recorder codes (best effort).
func grpcToCode(c codes.Code) Code {
	switch c {
	case codes.InvalidArgument:
		return CodeInvalidArgument
	case codes.NotFound:
		return CodeNotFound
	case codes.Unavailable:
		return CodeUnavailable
	case codes.DeadlineExceeded:
		return CodeTimeout
	case codes.Canceled:
		return CodeCancelled
	case codes.Internal:
		return CodeInternal
	case codes.FailedPrecondition:
		return CodeConfigMissing
	case codes.ResourceExhausted:
		return CodeNotifyRateLimited
	default:
		return CodeUnknown
	}
}

// As finds the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsCode checks if an error chain holds an AppError with a specific code.
func IsCode(err error, code Code) bool {
	if appErr, ok := As(err); ok {
		return appErr.Code == code
	}
	return false
}

// IsRetryable returns true if the error is potentially retryable.
func IsRetryable(err error) bool {
	appErr, ok := As(err)
	if !ok {
		return false
	}
	switch appErr.Code {
	case CodeUnavailable, CodeTimeout, CodeNotify, CodeNotifyRateLimited, CodeStore:
		return true
	default:
		return false
	}
}

var _ proto.Message = (*errdetails.ErrorInfo)(nil)
