package clientv2

import (
	"io"
	"net/http"
	"strconv"

	"github.com/agent-infra/sandbox-go/backoff"
	"github.com/agent-infra/sandbox-go/internal/log"
	"github.com/agent-infra/sandbox-go/retrier"
)

// DefaultMaxAttempts 默认的最大尝试次数（包含第一次请求）
const DefaultMaxAttempts = 4

type RetryConfig struct {
	MaxAttempts int             // 最大尝试次数，为 0 时使用 DefaultMaxAttempts，为 1 时不重试
	Backoff     backoff.Backoff // 重试时间间隔，为空时使用 backoff.Default()
	Retrier     retrier.Retrier // 重试器，为空时使用 retrier.NewErrorRetrier()
	// 每次决定重试时的回调函数，attempts 为已经失败的次数
	OnRetry func(req *http.Request, resp *http.Response, err error, attempts int)
}

func (c *RetryConfig) init() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Backoff == nil {
		c.Backoff = backoff.Default()
	}
	if c.Retrier == nil {
		c.Retrier = retrier.NewErrorRetrier()
	}
}

type retryInterceptor struct {
	config RetryConfig
}

// NewRetryInterceptor 创建重试拦截器。请求体必须可以通过 GetBody 重新获取，否则不会重试
func NewRetryInterceptor(config RetryConfig) Interceptor {
	config.init()
	return &retryInterceptor{config: config}
}

func (interceptor *retryInterceptor) Priority() InterceptorPriority {
	return InterceptorPriorityRetry
}

func (interceptor *retryInterceptor) Intercept(req *http.Request, handler Handler) (resp *http.Response, err error) {
	config := interceptor.config
	ctx := req.Context()

	for attempts := 0; ; attempts++ {
		// Clone 防止后面 Handler 处理对 req 有污染
		reqBefore := req.Clone(ctx)
		resp, err = handler(req)

		if attempts+1 >= config.MaxAttempts || !isRequestRetryable(reqBefore) {
			return resp, err
		}
		if config.Retrier.Retry(resp, err, &retrier.Options{Attempts: attempts}) != retrier.RetryRequest {
			return resp, err
		}
		if config.OnRetry != nil {
			config.OnRetry(reqBefore, resp, err, attempts+1)
		}
		log.With(map[string]interface{}{
			"url":      urlOf(reqBefore),
			"attempts": attempts + 1,
			"status":   statusOf(resp),
		}).Debug().Err(err).Msg("retry request")

		if resp != nil && resp.Body != nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		if waitErr := backoff.Wait(ctx, config.Backoff, attempts); waitErr != nil {
			return nil, waitErr
		}

		req = reqBefore
		if req.GetBody != nil {
			body, bodyErr := req.GetBody()
			if bodyErr != nil {
				return nil, bodyErr
			}
			req.Body = body
		}
	}
}

func isRequestRetryable(req *http.Request) bool {
	if req == nil {
		return false
	}
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

func urlOf(req *http.Request) string {
	if req.URL == nil {
		return ""
	}
	return req.URL.String()
}

func statusOf(resp *http.Response) string {
	if resp == nil {
		return "none"
	}
	return strconv.Itoa(resp.StatusCode)
}
