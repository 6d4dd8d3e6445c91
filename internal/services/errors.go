package services

import "fmt"

// ValidationError reports bad input shape or values. Maps to 400.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// NotFoundError reports an unknown invoice/payment/patient. Maps to 404.
type NotFoundError struct {
	Resource string
	ID       any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v not found", e.Resource, e.ID)
}

// InvalidStateError reports an illegal transition explicitly attempted by a
// caller, e.g. refunding an already-refunded payment. Maps to 400.
type InvalidStateError struct {
	Msg string
}

func (e *InvalidStateError) Error() string { return e.Msg }

// GatewayError reports an upstream payment processor failure. Maps to 502.
// The adapter never retries; retry policy belongs to the caller.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s failed: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// SignatureError reports a tampered or forged request/webhook. Maps to 400
// and is also counted as a security audit event.
type SignatureError struct {
	Msg string
}

func (e *SignatureError) Error() string { return e.Msg }
