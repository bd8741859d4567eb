package clientv2

import (
	"net/http"
	"runtime"
)

// Version SDK 版本
const Version = "0.3.0"

var userAgent = "sandbox-go/" + Version + " (" + runtime.GOOS + "; " + runtime.GOARCH + "; " + runtime.Version() + ")"

// UserAgent 返回默认 User-Agent
func UserAgent() string {
	return userAgent
}

type defaultHeaderInterceptor struct{}

func newDefaultHeaderInterceptor() Interceptor {
	return defaultHeaderInterceptor{}
}

func (defaultHeaderInterceptor) Priority() InterceptorPriority {
	return InterceptorPrioritySetHeader
}

func (defaultHeaderInterceptor) Intercept(req *http.Request, handler Handler) (*http.Response, error) {
	if req == nil {
		return handler(req)
	}
	if req.Header == nil {
		req.Header = http.Header{}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}
	return handler(req)
}

type staticHeaderInterceptor struct {
	header http.Header
}

// NewHeaderInterceptor 为每个请求添加固定的请求头，已存在的请求头不会被覆盖
func NewHeaderInterceptor(header http.Header) Interceptor {
	return staticHeaderInterceptor{header: header.Clone()}
}

func (staticHeaderInterceptor) Priority() InterceptorPriority {
	return InterceptorPrioritySetHeader
}

func (i staticHeaderInterceptor) Intercept(req *http.Request, handler Handler) (*http.Response, error) {
	if req == nil {
		return handler(req)
	}
	if req.Header == nil {
		req.Header = http.Header{}
	}
	for key, values := range i.header {
		if _, ok := req.Header[key]; ok {
			continue
		}
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	return handler(req)
}
