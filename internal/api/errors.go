// Package api is the REST boundary to the exam-analysis service. Every failure
// it returns is an *Error tagged with a Kind.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies a failure so call sites can switch on it exhaustively.
type Kind int

const (
	// KindValidation is a client-detected problem found before any request is sent,
	// or a field error reported by the server for user input.
	KindValidation Kind = iota + 1
	// KindAuth is an authorization failure. For authenticated calls the session has
	// already been cleared by the time the caller sees it.
	KindAuth
	// KindSubmission is any other failure while creating a job.
	KindSubmission
	// KindQuery is any other 4xx/5xx on reads, deletes and account calls.
	KindQuery
	// KindTransport means no response was received.
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindSubmission:
		return "submission"
	case KindQuery:
		return "query"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// Error is the tagged error returned by every api.Client operation.
type Error struct {
	Kind      Kind
	Op        string              // e.g. "submit exam"
	Status    int                 // HTTP status, 0 when no response was received
	Detail    string              // server-provided or generic message
	Fields    map[string][]string // per-field messages from the server
	RequestID string
	Err       error // underlying cause, if any
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, "status %d: ", e.Status)
	}
	b.WriteString(e.Message())
	if e.Err != nil && e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Message returns the user-facing text: the server detail when present,
// otherwise field errors, otherwise a generic message for the kind.
func (e *Error) Message() string {
	if e.Detail != "" {
		return e.Detail
	}
	if len(e.Fields) > 0 {
		return e.FieldSummary()
	}
	if e.Err != nil && e.Kind == KindTransport {
		return "could not reach the server: " + e.Err.Error()
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	switch e.Kind {
	case KindAuth:
		return "not authorized"
	case KindTransport:
		return "could not reach the server"
	case KindValidation:
		return "invalid input"
	default:
		return "request failed"
	}
}

// FieldSummary flattens Fields into "field: msg; field: msg" in key order.
func (e *Error) FieldSummary() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		msg := strings.Join(e.Fields[k], " ")
		if k == "non_field_errors" {
			parts = append(parts, msg)
			continue
		}
		parts = append(parts, k+": "+msg)
	}
	return strings.Join(parts, "; ")
}

// Validation builds a KindValidation error for a client-side precondition.
func Validation(op, detail string) *Error {
	return &Error{Kind: KindValidation, Op: op, Detail: detail}
}

// KindOf returns the Kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func IsValidation(err error) bool { return KindOf(err) == KindValidation }
func IsAuth(err error) bool       { return KindOf(err) == KindAuth }
func IsSubmission(err error) bool { return KindOf(err) == KindSubmission }
func IsQuery(err error) bool      { return KindOf(err) == KindQuery }
func IsTransport(err error) bool  { return KindOf(err) == KindTransport }

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// Message returns the user-facing text for any error: the *Error message when
// err is one, err.Error() otherwise.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message()
	}
	return err.Error()
}

// parseErrorBody extracts DRF-style error payloads:
//
//	{"detail": "..."}
//	{"field": ["msg", ...], "non_field_errors": ["..."]}
//	{"error": "..."}
//
// Anything else is returned as trimmed text when it is short enough to show.
func parseErrorBody(body []byte) (string, map[string][]string) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return "", nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		var list []string
		if json.Unmarshal(body, &list) == nil && len(list) > 0 {
			return strings.Join(list, " "), nil
		}
		if len(trimmed) > 200 || strings.HasPrefix(trimmed, "<") {
			return "", nil
		}
		return trimmed, nil
	}

	for _, key := range []string{"detail", "error", "message"} {
		if raw, ok := obj[key]; ok {
			var s string
			if json.Unmarshal(raw, &s) == nil && s != "" {
				return s, nil
			}
		}
	}

	fields := make(map[string][]string)
	for k, raw := range obj {
		var msgs []string
		if json.Unmarshal(raw, &msgs) == nil {
			fields[k] = msgs
			continue
		}
		var s string
		if json.Unmarshal(raw, &s) == nil {
			fields[k] = []string{s}
		}
	}
	if len(fields) == 0 {
		return "", nil
	}
	return "", fields
}
