// Package toolerr defines the failure taxonomy shared by tool resolution,
// dispatch and response extraction.
package toolerr

import (
	"errors"
	"fmt"
)

// Kind classifies a dispatch failure.
type Kind string

const (
	// KindConfiguration means a tool, service or placeholder could not be
	// resolved. No network call was attempted.
	KindConfiguration Kind = "configuration"

	// KindValidation means the supplied parameters do not match the tool
	// schema. No network call was attempted.
	KindValidation Kind = "validation"

	// KindNetwork means no response was received (timeout, refused, DNS).
	KindNetwork Kind = "network"

	// KindUpstream means a response was received with a non-2xx status.
	KindUpstream Kind = "upstream"

	// KindExtraction means a 2xx response carried no usable value.
	KindExtraction Kind = "extraction"
)

// Error is a classified dispatch failure.
type Error struct {
	Kind       Kind
	Tool       string
	Message    string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("HTTP %d: %s", e.StatusCode, msg)
	}
	if e.Tool != "" {
		msg = fmt.Sprintf("tool %s: %s", e.Tool, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s error: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Recoverable reports whether the caller may still use a degraded result.
func (e *Error) Recoverable() bool {
	return e.Kind == KindExtraction
}

// Configuration returns a configuration error.
func Configuration(tool, format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Tool: tool, Message: fmt.Sprintf(format, args...)}
}

// Validation returns a validation error.
func Validation(tool, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Tool: tool, Message: fmt.Sprintf(format, args...)}
}

// Network wraps a transport failure where no response was received.
func Network(tool string, err error) *Error {
	return &Error{Kind: KindNetwork, Tool: tool, Message: "request failed", Err: err}
}

// Upstream returns an error for a non-2xx response.
func Upstream(tool string, status int, snippet string) *Error {
	msg := "upstream returned an error status"
	if snippet != "" {
		msg = snippet
	}
	return &Error{Kind: KindUpstream, Tool: tool, StatusCode: status, Message: msg}
}

// Extraction returns an error carrying a truncated snippet of the body.
func Extraction(snippet string) *Error {
	return &Error{Kind: KindExtraction, Message: fmt.Sprintf("no usable value in response %q", snippet)}
}

// KindOf returns the kind of err, or "" when err is not classified.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// WithTool returns a copy of err attributed to tool when err is classified
// and carries no tool name yet.
func WithTool(err error, tool string) error {
	var te *Error
	if !errors.As(err, &te) || te.Tool != "" {
		return err
	}
	cp := *te
	cp.Tool = tool
	return &cp
}
