// Package errs re-exports github.com/cockroachdb/errors and adds the failure
// kinds the delivery engine uses to decide between retrying, backing off and
// giving up.
//
//	if errs.KindOf(err) == errs.KindRateLimited {
//	    throttle.Increase(ctx)
//	}
package errs

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New         = crdb.New
	Newf        = crdb.Newf
	Wrap        = crdb.Wrap
	Wrapf       = crdb.Wrapf
	WithStack   = crdb.WithStack
	WithHint    = crdb.WithHint
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is            = crdb.Is
	IsAny         = crdb.IsAny
	As            = crdb.As
	UnwrapAll     = crdb.UnwrapAll
	GetAllDetails = crdb.GetAllDetails
	FlattenHints  = crdb.FlattenHints
)

// Kind classifies a collaborator failure.
type Kind string

const (
	// KindTransient covers network errors and 5xx responses. Retried with backoff.
	KindTransient Kind = "transient"
	// KindRateLimited is an explicit provider rate limit. Widens the throttle and retries.
	KindRateLimited Kind = "rate_limited"
	// KindPermanent is a rejected request (invalid address, 4xx). Never retried.
	KindPermanent Kind = "permanent"
	// KindInvalidResponse is a generator reply missing subject or body. Retried.
	KindInvalidResponse Kind = "invalid_response"
	// KindConfig is a missing plan, prompt or external-data path. Fails the whole job.
	KindConfig Kind = "config"
)

var markers = map[Kind]error{
	KindTransient:       crdb.New("transient failure"),
	KindRateLimited:     crdb.New("rate limited"),
	KindPermanent:       crdb.New("permanent failure"),
	KindInvalidResponse: crdb.New("invalid response"),
	KindConfig:          crdb.New("configuration error"),
}

// Mark tags err with kind. A nil err stays nil.
func Mark(err error, kind Kind) error {
	if err == nil {
		return nil
	}
	return crdb.Mark(err, markers[kind])
}

// Markf creates a new error tagged with kind.
func Markf(kind Kind, format string, args ...interface{}) error {
	return crdb.Mark(crdb.Newf(format, args...), markers[kind])
}

// KindOf reports the kind attached to err. Unclassified errors are transient.
func KindOf(err error) Kind {
	for _, k := range []Kind{KindConfig, KindPermanent, KindRateLimited, KindInvalidResponse} {
		if crdb.Is(err, markers[k]) {
			return k
		}
	}
	return KindTransient
}

// Retryable reports whether another attempt could succeed.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindPermanent, KindConfig:
		return false
	}
	return true
}

// Truncate returns err's message cut to limit runes, for persisted
// last-error columns.
func Truncate(err error, limit int) string {
	if err == nil {
		return ""
	}
	msg := []rune(err.Error())
	if len(msg) <= limit {
		return string(msg)
	}
	return string(msg[:limit])
}
