package types

import "errors"

// Error taxonomy shared across components. Every failure that reaches
// a client is reported as an error event carrying one of the kinds
// below; packages wrap these sentinels with fmt.Errorf("%w", ...) so
// callers classify with errors.Is.
var (
	ErrAuth             = errors.New("missing or invalid identity")
	ErrForbidden        = errors.New("not authorized for this assessment")
	ErrNotFound         = errors.New("assessment not found")
	ErrDuplicateSession = errors.New("connection already registered")
	ErrUpstream         = errors.New("evaluation service unavailable")
	ErrTransport        = errors.New("delivery to recipient failed")
	ErrBufferOverflow   = errors.New("pending buffer capacity exceeded")
)

// ErrorKind is the closed set of error identifiers sent on the wire.
type ErrorKind string

const (
	KindAuthError        ErrorKind = "auth_error"
	KindForbidden        ErrorKind = "forbidden"
	KindNotFound         ErrorKind = "not_found"
	KindDuplicateSession ErrorKind = "duplicate_session"
	KindUpstreamError    ErrorKind = "upstream_error"
	KindTransportError   ErrorKind = "transport_error"
	KindBufferOverflow   ErrorKind = "buffer_overflow"
	KindInternal         ErrorKind = "internal"
)

// KindOf maps an error to its wire kind. Unrecognized errors are
// reported as internal rather than leaking detail to clients.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrAuth):
		return KindAuthError
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrDuplicateSession):
		return KindDuplicateSession
	case errors.Is(err, ErrUpstream):
		return KindUpstreamError
	case errors.Is(err, ErrTransport):
		return KindTransportError
	case errors.Is(err, ErrBufferOverflow):
		return KindBufferOverflow
	default:
		return KindInternal
	}
}
