// Package delivery sends queued operations to their remote endpoints.
package delivery

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kimhsiao/kiosksync/internal/errors"
	"github.com/kimhsiao/kiosksync/internal/models"
)

// ErrTransient and ErrPermanent classify delivery failures for errors.Is.
var (
	ErrTransient = stderrors.New("transient delivery failure")
	ErrPermanent = stderrors.New("permanent delivery failure")
)

// Deliverer performs one delivery attempt for a queue item.
type Deliverer interface {
	Deliver(ctx context.Context, item *models.QueueItem) error
}

// DeliveryError describes a failed attempt. StatusCode is 0 for transport
// errors and request construction failures.
type DeliveryError struct {
	StatusCode int
	Err        error
	permanent  bool
}

func (e *DeliveryError) Error() string {
	return e.Err.Error()
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Retryable reports whether a later attempt could succeed: transport
// errors, 5xx, 408 and 429.
func (e *DeliveryError) Retryable() bool {
	if e.permanent {
		return false
	}
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode >= 500:
		return true
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	}
	return false
}

// Is matches ErrTransient or ErrPermanent according to Retryable.
func (e *DeliveryError) Is(target error) bool {
	switch target {
	case ErrTransient:
		return e.Retryable()
	case ErrPermanent:
		return !e.Retryable()
	}
	return false
}

// IsRetryable reports whether err is worth another attempt. Errors that are
// not DeliveryErrors are treated as transient.
func IsRetryable(err error) bool {
	var de *DeliveryError
	if stderrors.As(err, &de) {
		return de.Retryable()
	}
	return err != nil
}

// Code classifies a failed attempt: DELIVERY_REJECTED when another attempt
// cannot succeed, DELIVERY_FAILED otherwise.
func Code(err error) errors.ErrorCode {
	if IsRetryable(err) {
		return errors.ErrDeliveryFailed
	}
	return errors.ErrDeliveryRejected
}

// HTTPDeliverer sends the item payload as a JSON request body.
type HTTPDeliverer struct {
	base    *url.URL
	client  *http.Client
	timeout time.Duration
}

// NewHTTPDeliverer creates a deliverer. Relative item URLs are resolved
// against baseURL, which may be empty when every item carries an absolute URL.
func NewHTTPDeliverer(baseURL string, timeout time.Duration) (*HTTPDeliverer, error) {
	d := &HTTPDeliverer{
		client:  &http.Client{},
		timeout: timeout,
	}
	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil || !u.IsAbs() {
			return nil, fmt.Errorf("invalid base url %q", baseURL)
		}
		d.base = u
	}
	return d, nil
}

// WithClient replaces the HTTP client.
func (d *HTTPDeliverer) WithClient(c *http.Client) *HTTPDeliverer {
	d.client = c
	return d
}

// Resolve returns the absolute target for an item URL.
func (d *HTTPDeliverer) Resolve(target string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid target url %q: %w", target, err)
	}
	if u.IsAbs() {
		return u.String(), nil
	}
	if d.base == nil {
		return "", fmt.Errorf("relative target url %q needs sync.base_url", target)
	}
	return d.base.ResolveReference(u).String(), nil
}

// Deliver implements Deliverer.
func (d *HTTPDeliverer) Deliver(ctx context.Context, item *models.QueueItem) error {
	target, err := d.Resolve(item.URL)
	if err != nil {
		return &DeliveryError{Err: err, permanent: true}
	}

	method := strings.ToUpper(item.Method)
	if method == "" {
		method = models.DefaultMethod
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	var body io.Reader
	if len(item.Data) > 0 {
		body = bytes.NewReader(item.Data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return &DeliveryError{Err: fmt.Errorf("build request: %w", err), permanent: true}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return &DeliveryError{Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DeliveryError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
		}
	}
	return nil
}
