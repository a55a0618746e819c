package service

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"modelgate/internal/model"
)

// errUpstreamIdle is the cancellation cause when a streaming upstream stays
// silent for longer than the configured timeout.
var errUpstreamIdle = errors.New("upstream idle timeout")

const timeoutMessage = "Upstream timeout"

// classify maps a dispatch failure to a gateway error. First match wins:
// connection establishment, then timeout, then everything else.
func classify(ctx context.Context, err error) *model.GatewayError {
	if cause, ok := connectCause(err); ok {
		return &model.GatewayError{
			Kind:    model.KindUpstreamConnect,
			Message: "Upstream connect failed: " + cause.Error(),
			Err:     err,
		}
	}
	if isTimeout(ctx, err) {
		return &model.GatewayError{
			Kind:    model.KindUpstreamTimeout,
			Message: timeoutMessage,
			Err:     err,
		}
	}
	return internalError(err)
}

func internalError(err error) *model.GatewayError {
	return &model.GatewayError{
		Kind:    model.KindInternal,
		Message: "ModelGate internal error: " + err.Error(),
		Err:     err,
	}
}

// connectCause returns the underlying error when err happened while
// establishing the upstream connection: name resolution, dialing, proxy
// CONNECT or the TLS handshake. All of these fail before any response.
func connectCause(err error) (error, bool) {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr, true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && (opErr.Op == "dial" || opErr.Op == "proxyconnect") {
		return opErr, true
	}
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return recordErr, true
	}
	// net/http replaces a RecordHeaderError that starts with "HTTP/".
	if errors.Is(err, http.ErrSchemeMismatch) {
		return http.ErrSchemeMismatch, true
	}
	var verifyErr *tls.CertificateVerificationError
	if errors.As(err, &verifyErr) {
		return verifyErr, true
	}
	var alertErr tls.AlertError
	if errors.As(err, &alertErr) {
		return alertErr, true
	}
	return nil, false
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, errUpstreamIdle) {
		return true
	}
	if errors.Is(context.Cause(ctx), errUpstreamIdle) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// idleTimeoutBody wraps a streaming upstream body. The timer runs only while
// a Read is blocked on the upstream, so time spent writing to a slow client
// does not count as upstream silence. Close stops the timer and aborts the
// upstream request so no connection outlives the relay.
type idleTimeoutBody struct {
	ctx     context.Context
	body    io.ReadCloser
	timer   *time.Timer
	timeout time.Duration
	cancel  context.CancelCauseFunc
}

func (b *idleTimeoutBody) Read(p []byte) (int, error) {
	b.timer.Reset(b.timeout)
	n, err := b.body.Read(p)
	b.timer.Stop()
	if err != nil && !errors.Is(err, io.EOF) && errors.Is(context.Cause(b.ctx), errUpstreamIdle) {
		err = errors.Join(errUpstreamIdle, err)
	}
	return n, err
}

func (b *idleTimeoutBody) Close() error {
	b.timer.Stop()
	b.cancel(nil)
	return b.body.Close()
}
