package clientv2

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-infra/sandbox-go/backoff"
	"github.com/agent-infra/sandbox-go/retrier"
)

func TestRetryInterceptorRetriesServerErrors(t *testing.T) {
	var calls int32
	router := mux.NewRouter()
	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, `{"a":1}`, string(body))
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	})
	server := httptest.NewServer(router)
	defer server.Close()

	var retried []int
	c := NewClient(server.Client(), NewRetryInterceptor(RetryConfig{
		Backoff: backoff.NewFixedBackoff(time.Millisecond),
		OnRetry: func(_ *http.Request, _ *http.Response, _ error, attempts int) { retried = append(retried, attempts) },
	}))
	getBody := GetBytesRequestBody([]byte(`{"a":1}`), ContentTypeJSON)
	err := DoAndDecodeJSON(c, RequestParams{Method: RequestMethodPost, URL: server.URL, GetBody: getBody}, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
	assert.Equal(t, []int{1, 2}, retried)
}

func TestRetryInterceptorGivesUpAfterMaxAttempts(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := NewClient(server.Client(), NewRetryInterceptor(RetryConfig{
		MaxAttempts: 3,
		Backoff:     backoff.NewFixedBackoff(time.Millisecond),
	}))
	_, err := Do(c, RequestParams{URL: server.URL})
	var respErr *ResponseError
	require.True(t, errors.As(err, &respErr))
	assert.Equal(t, http.StatusTooManyRequests, respErr.StatusCode)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestRetryInterceptorDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	c := NewClient(server.Client(), NewRetryInterceptor(RetryConfig{Backoff: backoff.NewFixedBackoff(time.Millisecond)}))
	_, err := Do(c, RequestParams{URL: server.URL})
	require.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestRetryInterceptorStopsOnContextCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	c := NewClient(server.Client(), NewRetryInterceptor(RetryConfig{
		MaxAttempts: 10,
		Backoff:     backoff.NewFixedBackoff(time.Hour),
	}))
	start := time.Now()
	_, err := Do(c, RequestParams{Context: ctx, URL: server.URL})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRetryInterceptorCustomRetrier(t *testing.T) {
	var calls int32
	c := NewClient(&testClient{statusCode: 200}, NewRetryInterceptor(RetryConfig{
		Backoff: backoff.NewFixedBackoff(0),
		Retrier: retrier.NewRetrier(func(resp *http.Response, err error, opts *retrier.Options) retrier.Decision {
			atomic.AddInt32(&calls, 1)
			if opts.Attempts == 0 {
				return retrier.RetryRequest
			}
			return retrier.DontRetry
		}),
	}))
	_, err := c.Do(&http.Request{Header: http.Header{}})
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestTimeoutInterceptor(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	router.HandleFunc("/fast", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	server := httptest.NewServer(router)
	defer server.Close()

	c := NewClient(server.Client(), NewTimeoutInterceptor(50*time.Millisecond))
	start := time.Now()
	_, err := Do(c, RequestParams{Context: context.Background(), Method: RequestMethodGet, URL: server.URL + "/slow"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)

	var ret struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, DoAndDecodeJSON(c, RequestParams{Context: context.Background(), Method: RequestMethodGet, URL: server.URL + "/fast"}, &ret))
	assert.True(t, ret.OK)

	assert.Nil(t, NewTimeoutInterceptor(0))
}

func TestRetryInterceptorResignsEachAttempt(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "signed", r.Header.Get("Authorization"))
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	signer := &recordingSigner{}
	c := NewClient(server.Client(),
		NewAuthInterceptor(AuthConfig{Signer: signer}),
		NewRetryInterceptor(RetryConfig{Backoff: backoff.NewFixedBackoff(time.Millisecond)}),
	)
	getBody := GetBytesRequestBody([]byte(`{}`), ContentTypeJSON)
	require.NoError(t, DoAndDecodeJSON(c, RequestParams{Method: RequestMethodPost, URL: server.URL, GetBody: getBody}, nil))
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
	assert.EqualValues(t, 3, atomic.LoadInt32(&signer.signed))
}
