package clientv2

import (
	"context"
	"io"
	"net/http"
	"time"
)

type timeoutInterceptor struct {
	timeout time.Duration
}

// NewTimeoutInterceptor 限制单次请求（包括读取响应体）的时间。
// 位于重试拦截器内层，每次重试重新计时；timeout <= 0 时返回 nil
func NewTimeoutInterceptor(timeout time.Duration) Interceptor {
	if timeout <= 0 {
		return nil
	}
	return timeoutInterceptor{timeout: timeout}
}

func (timeoutInterceptor) Priority() InterceptorPriority {
	return InterceptorPriorityNormal
}

func (i timeoutInterceptor) Intercept(req *http.Request, handler Handler) (*http.Response, error) {
	if req == nil {
		return handler(req)
	}
	ctx, cancel := context.WithTimeout(req.Context(), i.timeout)
	resp, err := handler(req.WithContext(ctx))
	if err != nil || resp == nil || resp.Body == nil {
		cancel()
		return resp, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
