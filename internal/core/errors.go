package core

import "fmt"

// Kind classifies a GatewayError the way spec.md §7 defines the error
// taxonomy surfaced to callers and operators.
type Kind string

const (
	KindValidation     Kind = "ValidationError"
	KindConfig         Kind = "ConfigError"
	KindBackpressure   Kind = "BackpressureError"
	KindCacheMiss      Kind = "CacheMiss" // internal, never surfaced
	KindTimeout        Kind = "TimeoutError"
	KindNoAvailAccount Kind = "NoAvailableAccount"
	KindNoCapacity     Kind = "NoCapacityError" // internal, triggers failover
	KindCircuitOpen    Kind = "CircuitOpen"
	KindWarehouse      Kind = "WarehouseError"
	KindIO             Kind = "IOError"
)

// defaultRetryable mirrors the retryability column of spec.md §7.
var defaultRetryable = map[Kind]bool{
	KindValidation:     false,
	KindConfig:         false,
	KindBackpressure:   true,
	KindTimeout:        true,
	KindNoAvailAccount: true,
	KindCircuitOpen:    true,
	KindIO:             true,
}

// GatewayError is the error type surfaced at the tool boundary and to
// operators. It carries {kind, message, retryable} per §6/§7.
type GatewayError struct {
	Kind      Kind
	Message   string
	Retryable bool
	Field     string // which parameter, set on ValidationError
	Cause     error
}

func (e *GatewayError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (param=%s)", e.Kind, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *GatewayError) Unwrap() error { return e.Cause }

// NewError builds a GatewayError with the default retryability for its kind.
func NewError(kind Kind, message string) *GatewayError {
	return &GatewayError{Kind: kind, Message: message, Retryable: defaultRetryable[kind]}
}

// Newf is NewError with Sprintf-style formatting.
func Newf(kind Kind, format string, args ...any) *GatewayError {
	return NewError(kind, fmt.Sprintf(format, args...))
}

// Wrap attaches a Kind and an underlying cause to an opaque error.
func Wrap(kind Kind, cause error) *GatewayError {
	return &GatewayError{Kind: kind, Message: cause.Error(), Retryable: defaultRetryable[kind], Cause: cause}
}

// ValidationErr reports which parameter failed and why (spec.md §4.2).
func ValidationErr(field, reason string) *GatewayError {
	return &GatewayError{Kind: KindValidation, Message: reason, Field: field}
}

// WithRetryable overrides the default retryable flag. Used for WarehouseError,
// whose retryability depends on the warehouse's own error text (§7).
func (e *GatewayError) WithRetryable(r bool) *GatewayError {
	e.Retryable = r
	return e
}

// KindOf extracts the Kind from any error, defaulting to KindWarehouse for
// opaque errors crossing the warehouse boundary.
func KindOf(err error) Kind {
	var ge *GatewayError
	if ok := asGatewayError(err, &ge); ok {
		return ge.Kind
	}
	return KindWarehouse
}

func asGatewayError(err error, target **GatewayError) bool {
	for err != nil {
		if ge, ok := err.(*GatewayError); ok {
			*target = ge
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
