package analysis

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Kind classifies backend failures.
type Kind string

const (
	KindNetwork         Kind = "network"
	KindAuth            Kind = "auth"
	KindQuota           Kind = "quota"
	KindTimeout         Kind = "timeout"
	KindInvalidResponse Kind = "invalid_response"
	KindUnknown         Kind = "unknown"
)

// ErrEmptyResponse is returned when the model answers with no content.
var ErrEmptyResponse = errors.New("model returned an empty response")

// Error is a classified backend failure. Its message is the underlying
// error's so markers show what the provider said.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Classify wraps err with its kind. Errors that are already classified are
// returned unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	kind := KindUnknown
	var (
		apiErr *openai.APIError
		reqErr *openai.RequestError
		netErr net.Error
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.Is(err, ErrEmptyResponse):
		kind = KindInvalidResponse
	case errors.As(err, &apiErr):
		kind = kindForStatus(apiErr.HTTPStatusCode, apiErr.Message)
	case errors.As(err, &reqErr):
		kind = kindForStatus(reqErr.HTTPStatusCode, reqErr.Error())
	case errors.As(err, &netErr):
		if netErr.Timeout() {
			kind = KindTimeout
		} else {
			kind = KindNetwork
		}
	}

	return &Error{Kind: kind, Err: err}
}

func kindForStatus(status int, msg string) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusTooManyRequests:
		return KindQuota
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return KindTimeout
	case status >= 500:
		return KindNetwork
	case strings.Contains(strings.ToLower(msg), "quota"):
		return KindQuota
	case status >= 400:
		return KindInvalidResponse
	}
	return KindUnknown
}
