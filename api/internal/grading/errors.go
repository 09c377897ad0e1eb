package grading

import (
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	KindSchemaViolation       Kind = "SchemaViolation"
	KindProviderRequestFailed Kind = "ProviderRequestFailed"
	KindAllRunsInvalid        Kind = "AllRunsInvalid"
	KindFallbackMissing       Kind = "FallbackMissing"
	KindPersistenceFailure    Kind = "PersistenceFailure"
)

// Fatal kinds abort the job; the rest are absorbed into error_code.
func (k Kind) Fatal() bool {
	return k == KindFallbackMissing || k == KindPersistenceFailure
}

type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to err; nil stays nil.
func Wrap(kind Kind, err error, detail string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Detail: detail, Err: err}
}

func KindOf(err error) (Kind, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind, true
	}
	return "", false
}

func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// ErrorCode renders "analysis_error:<Kind>:<detail up to 120 runes>".
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	kind, ok := KindOf(err)
	if !ok {
		kind = "Error"
	}
	detail := err.Error()
	detail = strings.TrimPrefix(detail, string(kind))
	detail = strings.TrimPrefix(detail, ": ")
	detail = strings.ReplaceAll(strings.TrimSpace(detail), "\n", " ")
	if detail == "" {
		return "analysis_error:" + string(kind)
	}
	return "analysis_error:" + string(kind) + ":" + clampRunes(detail, 120)
}
