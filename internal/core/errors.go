package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies hub errors. Each kind maps to a wire code.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindMalformedDeclaration
	KindUnauthorized
	KindNoPeer
	KindQueueOverflow
	KindSuperseded
	KindCapacity
	KindBadMessage
	KindRateLimited
)

var (
	ErrMalformedDeclaration = KindMalformedDeclaration
	ErrUnauthorized         = KindUnauthorized
	ErrNoPeer               = KindNoPeer
	ErrQueueOverflow        = KindQueueOverflow
	ErrSuperseded           = KindSuperseded
	ErrCapacity             = KindCapacity
	ErrBadMessage           = KindBadMessage
	ErrRateLimited          = KindRateLimited
)

func (k ErrorKind) Error() string {
	switch k {
	case KindMalformedDeclaration:
		return "missing or invalid identity or role"
	case KindUnauthorized:
		return "not authorized to produce on this identity"
	case KindNoPeer:
		return "no counterpart attached"
	case KindQueueOverflow:
		return "consumer queue full"
	case KindSuperseded:
		return "another producer took over this identity"
	case KindCapacity:
		return "too many consumers on this identity"
	case KindBadMessage:
		return "unrecognized control message"
	case KindRateLimited:
		return "too many control messages"
	default:
		return fmt.Sprintf("unknown error kind %d", int(k))
	}
}

// Code is the stable string clients switch on.
func (k ErrorKind) Code() string {
	switch k {
	case KindMalformedDeclaration:
		return "malformed-declaration"
	case KindUnauthorized:
		return "unauthorized"
	case KindNoPeer:
		return "no-peer"
	case KindQueueOverflow:
		return "queue-overflow"
	case KindSuperseded:
		return "superseded"
	case KindCapacity:
		return "capacity"
	case KindBadMessage:
		return "bad-message"
	case KindRateLimited:
		return "rate-limited"
	default:
		return "internal"
	}
}

// Fatal reports whether the kind terminates the transport.
func (k ErrorKind) Fatal() bool {
	switch k {
	case KindMalformedDeclaration, KindUnauthorized, KindSuperseded, KindCapacity:
		return true
	}
	return false
}

// CloseReason maps a fatal kind to the reason the transport is closed with.
func (k ErrorKind) CloseReason() CloseReason {
	switch k {
	case KindMalformedDeclaration:
		return ReasonMalformed
	case KindUnauthorized:
		return ReasonUnauthorized
	case KindSuperseded:
		return ReasonSuperseded
	case KindCapacity:
		return ReasonCapacity
	}
	return ReasonNone
}

type codedError struct {
	kind  ErrorKind
	msg   string
	inner error
}

func (ce codedError) Error() string {
	switch {
	case ce.msg != "" && ce.inner != nil:
		return fmt.Sprintf("%s: %s: %v", ce.kind.Code(), ce.msg, ce.inner)
	case ce.msg != "":
		return fmt.Sprintf("%s: %s", ce.kind.Code(), ce.msg)
	case ce.inner != nil:
		return fmt.Sprintf("%s: %v", ce.kind.Code(), ce.inner)
	}
	return fmt.Sprintf("%s: %s", ce.kind.Code(), ce.kind.Error())
}

func (ce codedError) Unwrap() []error {
	if ce.inner != nil {
		return []error{ce.kind, ce.inner}
	}
	return []error{ce.kind}
}

func (ce codedError) As(target interface{}) bool {
	switch t := target.(type) {
	case *codedError:
		*t = ce
		return true
	case *ErrorKind:
		*t = ce.kind
		return true
	}
	return false
}

// NewError builds an error of kind k with a description and optional cause.
func NewError(k ErrorKind, inner error, format string, args ...interface{}) error {
	return codedError{kind: k, msg: fmt.Sprintf(format, args...), inner: inner}
}

// KindOf extracts the kind from err, or KindNone.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var k ErrorKind
	if errors.As(err, &k) {
		return k
	}
	return KindNone
}
