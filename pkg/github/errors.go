package github

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Kind classifies provider failures.
type Kind int

const (
	KindTransport Kind = iota
	KindNotFound
	KindUnauthorized
	KindForbidden
	KindInvalidUser
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindInvalidUser:
		return "invalid user"
	case KindProtocol:
		return "protocol error"
	default:
		return "transport failure"
	}
}

// Error is returned by every Provider operation.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	Detail     string
	Err        error
}

// Sentinels for errors.Is; they match any *Error of the same kind.
var (
	ErrTransport    = &Error{Kind: KindTransport}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrUnauthorized = &Error{Kind: KindUnauthorized}
	ErrForbidden    = &Error{Kind: KindForbidden}
	ErrInvalidUser  = &Error{Kind: KindInvalidUser}
	ErrProtocol     = &Error{Kind: KindProtocol}
)

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of a provider error. Errors that did not come from
// this package are reported as transport failures.
func KindOf(err error) Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return KindTransport
}

func transportError(op string, err error) *Error {
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

func protocolError(op, detail string) *Error {
	return &Error{Kind: KindProtocol, Op: op, Detail: detail}
}

// statusError maps a non-success status: 401, 403 and 404 get their own kind,
// everything else is a transport failure carrying the status.
func statusError(op string, status int, detail string) *Error {
	kind := KindTransport
	switch status {
	case http.StatusUnauthorized:
		kind = KindUnauthorized
	case http.StatusForbidden:
		kind = KindForbidden
	case http.StatusNotFound:
		kind = KindNotFound
	}
	return &Error{Kind: kind, Op: op, StatusCode: status, Detail: detail}
}

func responseError(op string, resp *http.Response) *Error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return statusError(op, resp.StatusCode, strings.TrimSpace(string(body)))
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
