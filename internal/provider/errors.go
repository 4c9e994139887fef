package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"strings"
)

// ProviderError classifies a mail provider failure as transient or permanent.
// StatusCode carries the SMTP reply code when the server answered.
type ProviderError struct {
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "provider error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether an error should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Transient
	}

	var smtpErr *textproto.Error
	if errors.As(err, &smtpErr) {
		return isTransientSMTPCode(smtpErr.Code)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return false
}

// isTransientSMTPCode reports 4xx replies, which ask the client to try again later.
func isTransientSMTPCode(code int) bool {
	return code >= 400 && code < 500
}

// classifySendError wraps an error returned while talking to the SMTP server.
func classifySendError(err error) error {
	if err == nil {
		return nil
	}

	providerErr := &ProviderError{Message: "smtp send failed", Cause: err}

	var smtpErr *textproto.Error
	switch {
	case errors.As(err, &smtpErr):
		providerErr.StatusCode = smtpErr.Code
		providerErr.Transient = isTransientSMTPCode(smtpErr.Code)
	case errors.Is(err, context.Canceled):
		providerErr.Transient = false
	default:
		// Dial, TLS and connection failures.
		providerErr.Transient = true
	}
	return providerErr
}
