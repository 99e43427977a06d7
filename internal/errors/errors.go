package errors

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Domain used in google.rpc.ErrorInfo details.
const domain = "livequiz"

type Code codes.Code

const (
	CodeInvalidArgument    = Code(codes.InvalidArgument)
	CodeNotFound           = Code(codes.NotFound)
	CodeAlreadyExists      = Code(codes.AlreadyExists)
	CodeFailedPrecondition = Code(codes.FailedPrecondition)
	CodePermissionDenied   = Code(codes.PermissionDenied)
	CodeAborted            = Code(codes.Aborted)
	CodeUnavailable        = Code(codes.Unavailable)
	CodeInternal           = Code(codes.Internal)
	CodeUnauthenticated    = Code(codes.Unauthenticated)
)

var code2http = map[Code]int{
	CodeInvalidArgument:    http.StatusBadRequest,
	CodeNotFound:           http.StatusNotFound,
	CodeAlreadyExists:      http.StatusConflict,
	CodeFailedPrecondition: http.StatusConflict,
	CodePermissionDenied:   http.StatusForbidden,
	CodeAborted:            http.StatusConflict,
	CodeUnavailable:        http.StatusServiceUnavailable,
	CodeInternal:           http.StatusInternalServerError,
	CodeUnauthenticated:    http.StatusUnauthorized,
}

// Reason refines a Code when several failures share one. It is carried across gRPC as ErrorInfo.
type Reason string

const (
	ReasonNicknameTaken    Reason = "NICKNAME_TAKEN"
	ReasonDuplicateAnswer  Reason = "DUPLICATE_ANSWER"
	ReasonIllegalAction    Reason = "ILLEGAL_ACTION"
	ReasonGameEnded        Reason = "GAME_ENDED"
	ReasonNotJoinable      Reason = "NOT_JOINABLE"
	ReasonRoomCodeTaken    Reason = "ROOM_CODE_TAKEN"
	ReasonRemoved          Reason = "REMOVED"
	ReasonConnectionLost   Reason = "CONNECTION_LOST"
	ReasonSessionDeleted   Reason = "SESSION_DELETED"
	ReasonNotParticipating Reason = "NOT_PARTICIPATING"
)

// Sentinels for errors.Is. Matching compares Code and Reason only.
var (
	ErrNicknameTaken    = New(CodeAlreadyExists, WithReason(ReasonNicknameTaken))
	ErrDuplicateAnswer  = New(CodeAlreadyExists, WithReason(ReasonDuplicateAnswer))
	ErrIllegalAction    = New(CodeFailedPrecondition, WithReason(ReasonIllegalAction))
	ErrGameEnded        = New(CodeFailedPrecondition, WithReason(ReasonGameEnded))
	ErrNotJoinable      = New(CodeFailedPrecondition, WithReason(ReasonNotJoinable))
	ErrRoomCodeTaken    = New(CodeAlreadyExists, WithReason(ReasonRoomCodeTaken))
	ErrRemoved          = New(CodeNotFound, WithReason(ReasonRemoved))
	ErrConnectionLost   = New(CodeUnavailable, WithReason(ReasonConnectionLost))
	ErrSessionDeleted   = New(CodeNotFound, WithReason(ReasonSessionDeleted))
	ErrNotParticipating = New(CodeFailedPrecondition, WithReason(ReasonNotParticipating))
)

type Error struct {
	Code    Code   `json:"code"`
	Reason  Reason `json:"reason,omitempty"`
	Message string `json:"message"`
	err     error
}

func New(code Code, opts ...Option) *Error {
	e := &Error{
		Code:    code,
		Message: codes.Code(code).String(),
	}

	for _, opt := range opts {
		opt.apply(e)
	}

	return e
}

func (e *Error) Error() string {
	s := fmt.Sprintf("code: %d, message: %s", e.Code, e.Message)
	if e.Reason != "" {
		s += fmt.Sprintf(", reason: %s", e.Reason)
	}
	if e.err != nil {
		s += fmt.Sprintf(", err: %s", e.err)
	}

	return s
}

func (e *Error) Unwrap() error {
	return e.err
}

// Is reports whether target is an *Error with the same code and, when target has one, the same reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	if t.Code != e.Code {
		return false
	}

	return t.Reason == "" || t.Reason == e.Reason
}

func (e *Error) GRPCStatus() *status.Status {
	s := status.New(codes.Code(e.Code), e.Message)
	if e.Reason == "" {
		return s
	}

	ds, err := s.WithDetails(&errdetails.ErrorInfo{
		Reason: string(e.Reason),
		Domain: domain,
	})
	if err != nil {
		return s
	}

	return ds
}

func (e *Error) HTTPStatusCode() int {
	if c, ok := code2http[e.Code]; ok {
		return c
	}

	return http.StatusInternalServerError
}

func Convert(err error) *Error {
	var e *Error
	if !errors.As(err, &e) {
		return Internal(err)
	}

	return e
}

// FromGRPC rebuilds an *Error from a gRPC status error, restoring the reason from its details.
func FromGRPC(err error) error {
	if err == nil {
		return nil
	}

	s, ok := status.FromError(err)
	if !ok {
		return err
	}

	e := New(Code(s.Code()), WithMessagef("%s", s.Message()), WithCause(err))
	for _, d := range s.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok && info.GetDomain() == domain {
			e.Reason = Reason(info.GetReason())
		}
	}

	return e
}

func Internal(err error) *Error {
	return New(CodeInternal, WithCause(err))
}

// HasReason reports whether err is an *Error carrying the reason r.
func HasReason(err error, r Reason) bool {
	var e *Error
	return errors.As(err, &e) && e.Reason == r
}

type Option interface {
	apply(*Error)
}

type optionFunc func(*Error)

func (f optionFunc) apply(e *Error) {
	f(e)
}

func WithCause(err error) Option {
	return optionFunc(func(e *Error) {
		e.err = err
	})
}

func WithMessagef(format string, args ...any) Option {
	return optionFunc(func(e *Error) {
		e.Message = fmt.Sprintf(format, args...)
	})
}

func WithReason(r Reason) Option {
	return optionFunc(func(e *Error) {
		e.Reason = r
	})
}
