package clientv2

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const headerKey = "request"

type testClient struct {
	statusCode int
}

func (t testClient) Do(req *http.Request) (*http.Response, error) {
	value := req.Header.Get(headerKey)
	value += " -> Do"
	req.Header.Set(headerKey, value)
	return &http.Response{
		Request:    req,
		StatusCode: t.statusCode,
		Header:     req.Header,
		Body:       http.NoBody,
	}, nil
}

func appendHeader(name string) Interceptor {
	return NewSimpleInterceptor(func(req *http.Request, handler Handler) (*http.Response, error) {
		req.Header.Set(headerKey, req.Header.Get(headerKey)+" -> request-"+name)
		resp, err := handler(req)
		resp.Header.Set(headerKey, resp.Header.Get(headerKey)+" -> response-"+name)
		return resp, err
	})
}

func TestInterceptorOrder(t *testing.T) {
	c := NewClient(&testClient{statusCode: 200})
	resp, err := c.Do(&http.Request{Header: http.Header{}})
	require.NoError(t, err)
	assert.Equal(t, " -> Do", resp.Header.Get(headerKey))

	c = NewClient(&testClient{statusCode: 200}, appendHeader("01"), appendHeader("02"), appendHeader("03"))
	resp, err = c.Do(&http.Request{Header: http.Header{}})
	require.NoError(t, err)
	assert.Equal(t,
		" -> request-01 -> request-02 -> request-03 -> Do -> response-03 -> response-02 -> response-01",
		resp.Header.Get(headerKey))
	assert.True(t, strings.HasPrefix(resp.Header.Get("User-Agent"), "sandbox-go/"))
}

func TestDoAndDecodeJSON(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", ContentTypeJSON)
		_, _ = w.Write([]byte(`{"query":"` + r.URL.RawQuery + `","body":` + string(body) + `}`))
	}).Methods(http.MethodPost)
	router.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"no such thing"}`, http.StatusNotFound)
	})
	server := httptest.NewServer(router)
	defer server.Close()

	c := NewClient(server.Client())
	getBody, err := GetJSONRequestBody(map[string]string{"file": "/tmp/a.txt"})
	require.NoError(t, err)

	var ret struct {
		Query string            `json:"query"`
		Body  map[string]string `json:"body"`
	}
	err = DoAndDecodeJSON(c, RequestParams{
		Context: context.Background(),
		Method:  RequestMethodPost,
		URL:     server.URL + "/echo?faasInstanceName=sbx-1",
		Query:   map[string][]string{"v": {"1"}},
		GetBody: getBody,
	}, &ret)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/a.txt", ret.Body["file"])
	assert.Contains(t, ret.Query, "faasInstanceName=sbx-1")
	assert.Contains(t, ret.Query, "v=1")

	err = DoAndDecodeJSON(c, RequestParams{URL: server.URL + "/missing"}, nil)
	var respErr *ResponseError
	require.True(t, errors.As(err, &respErr))
	assert.Equal(t, http.StatusNotFound, respErr.StatusCode)
	assert.Contains(t, string(respErr.Body), "no such thing")
}

type recordingSigner struct {
	signed int32
	err    error
}

func (s *recordingSigner) Sign(req *http.Request) error {
	atomic.AddInt32(&s.signed, 1)
	if s.err != nil {
		return s.err
	}
	req.Header.Set("Authorization", "signed")
	return nil
}

func TestAuthInterceptor(t *testing.T) {
	signer := &recordingSigner{}
	var before, after bool
	c := NewClient(&testClient{statusCode: 200}, NewAuthInterceptor(AuthConfig{
		Signer:     signer,
		BeforeSign: func(*http.Request) { before = true },
		AfterSign:  func(*http.Request) { after = true },
	}))
	resp, err := c.Do(&http.Request{Header: http.Header{}})
	require.NoError(t, err)
	assert.Equal(t, "signed", resp.Header.Get("Authorization"))
	assert.True(t, before)
	assert.True(t, after)

	signErr := errors.New("no credentials")
	var reported error
	c = NewClient(&testClient{statusCode: 200}, NewAuthInterceptor(AuthConfig{
		Signer:    &recordingSigner{err: signErr},
		SignError: func(_ *http.Request, err error) { reported = err },
	}))
	_, err = c.Do(&http.Request{Header: http.Header{}})
	assert.ErrorIs(t, err, signErr)
	assert.ErrorIs(t, reported, signErr)
}

func TestBearerTokenInterceptor(t *testing.T) {
	c := NewClient(&testClient{statusCode: 200}, NewBearerTokenInterceptor("tok"))
	resp, err := c.Do(&http.Request{Header: http.Header{}})
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", resp.Header.Get("Authorization"))

	c = NewClient(&testClient{statusCode: 200}, NewBearerTokenInterceptor(""))
	resp, err = c.Do(&http.Request{Header: http.Header{}})
	require.NoError(t, err)
	assert.Empty(t, resp.Header.Get("Authorization"))
}

func TestHeaderInterceptorKeepsExisting(t *testing.T) {
	c := NewClient(&testClient{statusCode: 200}, NewHeaderInterceptor(http.Header{
		"X-Tenant": {"a"},
		"X-Trace":  {"t"},
	}))
	resp, err := c.Do(&http.Request{Header: http.Header{"X-Tenant": {"b"}}})
	require.NoError(t, err)
	assert.Equal(t, "b", resp.Header.Get("X-Tenant"))
	assert.Equal(t, "t", resp.Header.Get("X-Trace"))
}

func TestRedactDump(t *testing.T) {
	dump := []byte("POST / HTTP/1.1\r\nHost: x\r\nAuthorization: HMAC-SHA256 Credential=AK/secretish\r\n\r\n")
	redacted := string(RedactDump(dump))
	assert.NotContains(t, redacted, "secretish")
	assert.Contains(t, redacted, "Authorization: ****")
}
