// Package retrier 决定一次失败的生命周期调用是否应当重试。
//
// 只有"控制面暂不可用"一类的失败会被重试：网络错误、5xx 响应以及显式的限流信号。
// 其余失败（鉴权、参数、配额、资源不存在）立即返回给调用者。
package retrier

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"

	"github.com/agent-infra/sandbox-go/backoff"
)

type (
	// Decision 重试决策
	Decision int

	// Options 重试器选项
	Options backoff.Options

	// Retrier 重试器接口
	Retrier interface {
		// Retry 根据响应和错误判断是否重试
		Retry(*http.Response, error, *Options) Decision
	}

	neverRetrier struct{}
	errorRetrier struct{}
	funcRetrier  struct {
		fn func(*http.Response, error, *Options) Decision
	}
)

const (
	// DontRetry 不再重试
	DontRetry Decision = iota
	// RetryRequest 退避后重试当前请求
	RetryRequest
)

func (d Decision) String() string {
	switch d {
	case RetryRequest:
		return "retry"
	default:
		return "dont-retry"
	}
}

// NewRetrier 创建自定义重试器
func NewRetrier(fn func(*http.Response, error, *Options) Decision) Retrier {
	return funcRetrier{fn: fn}
}

func (r funcRetrier) Retry(resp *http.Response, err error, opts *Options) Decision {
	return r.fn(resp, err, opts)
}

// NewNeverRetrier 创建从不重试的重试器
func NewNeverRetrier() Retrier {
	return neverRetrier{}
}

func (neverRetrier) Retry(*http.Response, error, *Options) Decision {
	return DontRetry
}

// NewErrorRetrier 创建默认的错误重试器
func NewErrorRetrier() Retrier {
	return errorRetrier{}
}

func (errorRetrier) Retry(resp *http.Response, err error, _ *Options) Decision {
	if err != nil {
		return decisionForError(err)
	}
	if resp != nil && IsStatusCodeRetryable(resp.StatusCode) {
		return RetryRequest
	}
	return DontRetry
}

// IsStatusCodeRetryable 判断 HTTP 状态码是否表示控制面暂不可用
func IsStatusCodeRetryable(statusCode int) bool {
	if statusCode == http.StatusTooManyRequests {
		return true
	}
	if statusCode < 500 {
		return false
	}
	switch statusCode {
	case http.StatusNotImplemented, http.StatusHTTPVersionNotSupported, http.StatusNetworkAuthenticationRequired:
		return false
	}
	return true
}

// IsErrorRetryable 判断传输层错误是否可以重试
func IsErrorRetryable(err error) bool {
	return err != nil && decisionForError(err) == RetryRequest
}

// IsDialError 判断错误是否发生在请求发出之前（DNS 解析失败、连接被拒绝），
// 此类失败可以确定远端没有产生任何副作用。
func IsDialError(err error) bool {
	if err == nil {
		return false
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}

func unwrapUnderlying(err error) error {
	for {
		switch e := err.(type) {
		case *os.PathError:
			err = e.Err
		case *os.LinkError:
			err = e.Err
		case *os.SyscallError:
			err = e.Err
		case *url.Error:
			err = e.Err
		case *net.OpError:
			err = e.Err
		default:
			return err
		}
	}
}

func decisionForError(err error) Decision {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return DontRetry
	}
	underlying := unwrapUnderlying(err)
	if os.IsTimeout(underlying) {
		return RetryRequest
	}
	var dnsErr *net.DNSError
	if errors.As(underlying, &dnsErr) {
		if dnsErr.IsNotFound {
			return DontRetry
		}
		return RetryRequest
	}
	if errno, ok := underlying.(syscall.Errno); ok {
		switch errno {
		case syscall.ECONNREFUSED, syscall.ECONNABORTED, syscall.ECONNRESET, syscall.ETIMEDOUT, syscall.EPIPE:
			return RetryRequest
		default:
			return DontRetry
		}
	}
	desc := underlying.Error()
	if strings.Contains(desc, "use of closed network connection") ||
		strings.Contains(desc, "unexpected EOF") ||
		strings.Contains(desc, "transport connection broken") ||
		strings.Contains(desc, "server closed idle connection") ||
		strings.Contains(desc, "connection reset by peer") {
		return RetryRequest
	}
	return DontRetry
}
