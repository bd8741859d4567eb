package clientv2

import (
	"net/http"
)

// Signer 为请求签名
type Signer interface {
	Sign(req *http.Request) error
}

type AuthConfig struct {
	// 签名器
	Signer Signer
	// 签名前回调函数
	BeforeSign func(*http.Request)
	// 签名后回调函数
	AfterSign func(*http.Request)
	// 签名失败回调函数
	SignError func(*http.Request, error)
}

type authInterceptor struct {
	config AuthConfig
}

func NewAuthInterceptor(config AuthConfig) Interceptor {
	return &authInterceptor{config: config}
}

func (interceptor *authInterceptor) Priority() InterceptorPriority {
	return InterceptorPriorityAuth
}

func (interceptor *authInterceptor) Intercept(req *http.Request, handler Handler) (*http.Response, error) {
	if interceptor == nil || req == nil {
		return handler(req)
	}

	if signer := interceptor.config.Signer; signer != nil {
		if interceptor.config.BeforeSign != nil {
			interceptor.config.BeforeSign(req)
		}
		if err := signer.Sign(req); err != nil {
			if interceptor.config.SignError != nil {
				interceptor.config.SignError(req, err)
			}
			return nil, err
		} else if interceptor.config.AfterSign != nil {
			interceptor.config.AfterSign(req)
		}
	}

	return handler(req)
}

type bearerTokenInterceptor struct {
	token string
}

// NewBearerTokenInterceptor 为每个请求添加 Authorization: Bearer {token}，token 为空时不做任何处理
func NewBearerTokenInterceptor(token string) Interceptor {
	return bearerTokenInterceptor{token: token}
}

func (bearerTokenInterceptor) Priority() InterceptorPriority {
	return InterceptorPriorityAuth
}

func (i bearerTokenInterceptor) Intercept(req *http.Request, handler Handler) (*http.Response, error) {
	if i.token != "" && req != nil {
		if req.Header == nil {
			req.Header = http.Header{}
		}
		req.Header.Set("Authorization", "Bearer "+i.token)
	}
	return handler(req)
}
