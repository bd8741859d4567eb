package retrier

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestStatusCodeRetryable(t *testing.T) {
	cases := map[int]bool{
		http.StatusOK:                  false,
		http.StatusBadRequest:          false,
		http.StatusUnauthorized:        false,
		http.StatusNotFound:            false,
		http.StatusTooManyRequests:     true,
		http.StatusInternalServerError: true,
		http.StatusNotImplemented:      false,
		http.StatusBadGateway:          true,
		http.StatusServiceUnavailable:  true,
		http.StatusGatewayTimeout:      true,
	}
	for code, want := range cases {
		assert.Equal(t, want, IsStatusCodeRetryable(code), "status %d", code)
	}
}

func TestErrorRetrier(t *testing.T) {
	r := NewErrorRetrier()

	assert.Equal(t, DontRetry, r.Retry(&http.Response{StatusCode: http.StatusOK}, nil, nil))
	assert.Equal(t, RetryRequest, r.Retry(&http.Response{StatusCode: http.StatusServiceUnavailable}, nil, nil))
	assert.Equal(t, RetryRequest, r.Retry(&http.Response{StatusCode: http.StatusTooManyRequests}, nil, nil))
	assert.Equal(t, DontRetry, r.Retry(&http.Response{StatusCode: http.StatusForbidden}, nil, nil))

	refused := &url.Error{Op: "Post", URL: "https://open.volcengineapi.com", Err: &net.OpError{
		Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED),
	}}
	assert.Equal(t, RetryRequest, r.Retry(nil, refused, nil))
	assert.True(t, IsDialError(refused))

	assert.Equal(t, DontRetry, r.Retry(nil, context.DeadlineExceeded, nil))
	assert.Equal(t, DontRetry, r.Retry(nil, &url.Error{Op: "Get", Err: context.Canceled}, nil))
	assert.Equal(t, RetryRequest, r.Retry(nil, &url.Error{Op: "Get", Err: io.ErrUnexpectedEOF}, nil))
	assert.Equal(t, DontRetry, r.Retry(nil, errors.New("tls: bad certificate"), nil))

	notFound := &url.Error{Op: "Get", Err: &net.OpError{Op: "dial", Err: &net.DNSError{Err: "no such host", Name: "nope.invalid", IsNotFound: true}}}
	assert.Equal(t, DontRetry, r.Retry(nil, notFound, nil))
	assert.True(t, IsDialError(notFound))
}

func TestNeverAndFuncRetrier(t *testing.T) {
	assert.Equal(t, DontRetry, NewNeverRetrier().Retry(nil, io.ErrUnexpectedEOF, nil))

	calls := 0
	r := NewRetrier(func(resp *http.Response, err error, opts *Options) Decision {
		calls++
		if opts.Attempts < 2 {
			return RetryRequest
		}
		return DontRetry
	})
	assert.Equal(t, RetryRequest, r.Retry(nil, nil, &Options{Attempts: 0}))
	assert.Equal(t, DontRetry, r.Retry(nil, nil, &Options{Attempts: 2}))
	assert.Equal(t, 2, calls)
	assert.Equal(t, "retry", RetryRequest.String())
}
