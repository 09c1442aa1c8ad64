// Package llmimpl holds helpers shared by the provider adapters.
package llmimpl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/Lynx-Eco/lib-ai/pkg/agent/llmerrors"
)

// Classify maps a failed provider call to a classified llmerrors.Error.
// status is the HTTP status reported by the SDK, or 0 when no response arrived.
// header may be nil.
func Classify(ctx context.Context, provider string, err error, status int, header http.Header) error {
	if err == nil {
		return nil
	}

	var classified *llmerrors.Error
	if errors.As(err, &classified) {
		return classified
	}

	// Caller cancellation wins over whatever the transport reported.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return llmerrors.FromContext(ctxErr)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return llmerrors.FromContext(err)
	}

	if status > 0 {
		var retryAfter time.Duration
		if header != nil {
			retryAfter = llmerrors.ParseRetryAfter(header.Get("Retry-After"), time.Now())
		}
		e := llmerrors.FromStatus(status, retryAfter, err)
		e.Message = fmt.Sprintf("%s: %s", provider, e.Message)
		return e
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTimeout, err, provider+" request timed out")
	}
	var urlErr *url.Error
	if netErr != nil || errors.As(err, &urlErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeNetwork, err, provider+" unreachable")
	}

	return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeUnknown, err, provider+" call failed")
}

// Malformed wraps a response decoding failure.
func Malformed(provider string, err error) error {
	return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeMalformed, err, provider+" returned an unreadable response")
}

// ToolCallID returns id, or a fresh identifier when the provider omitted one.
func ToolCallID(id string) string {
	if id != "" {
		return id
	}
	return "call_" + uuid.NewString()
}

// SystemPrompt joins every system message content in order.
func SystemPrompt(contents []string) string {
	out := ""
	for _, c := range contents {
		if c == "" {
			continue
		}
		if out != "" {
			out += "\n\n"
		}
		out += c
	}
	return out
}
