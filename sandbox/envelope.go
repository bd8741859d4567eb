package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agent-infra/sandbox-go/internal/clientv2"
	"github.com/agent-infra/sandbox-go/retrier"
)

type routeClass int

const (
	routeInfo routeClass = iota
	routeFile
	routeCode
	routeBrowser
)

// envelope 数据面统一的响应格式
type envelope struct {
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *envelopeError  `json:"error,omitempty"`
}

type envelopeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type call struct {
	op      string
	class   routeClass
	method  string
	path    string
	query   url.Values
	body    interface{}
	timeout time.Duration
}

func (s *Session) timeoutFor(c call) time.Duration {
	if c.timeout > 0 {
		return c.timeout
	}
	switch c.class {
	case routeCode:
		return s.timeouts.Code
	case routeBrowser:
		return s.timeouts.Browser
	default:
		return s.timeouts.File
	}
}

func (s *Session) params(ctx context.Context, c call) (clientv2.RequestParams, error) {
	query := url.Values{}
	for key, values := range s.query {
		query[key] = append([]string(nil), values...)
	}
	for key, values := range c.query {
		query[key] = append(query[key], values...)
	}
	u := *s.base
	u.Path = s.base.Path + c.path
	params := clientv2.RequestParams{
		Context: ctx,
		Method:  c.method,
		URL:     u.String(),
		Query:   query,
		Header:  http.Header{"Accept": {"application/json"}},
	}
	if c.body != nil {
		if err := validateStruct(c.op, KindUnknown, c.body); err != nil {
			return params, err
		}
		getBody, err := clientv2.GetJSONRequestBody(c.body)
		if err != nil {
			return params, &Error{Kind: KindUnknown, Op: c.op, Message: "encode request", NoSideEffect: true, Err: err}
		}
		params.GetBody = getBody
	}
	return params, nil
}

// invoke 发送一次数据面请求，将 data 字段解析到 out 中
func (s *Session) invoke(ctx context.Context, c call, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeoutFor(c))
	defer cancel()

	params, err := s.params(ctx, c)
	if err != nil {
		return err
	}
	body, _, err := clientv2.DoAndReadBody(s.client, params)
	if err != nil {
		return translateDataPlaneError(ctx, c, err)
	}

	var env envelope
	if err = json.Unmarshal(body, &env); err != nil || env.Success == nil {
		// 没有包装的响应直接作为 data
		if out == nil {
			return nil
		}
		if err = json.Unmarshal(body, out); err != nil {
			return &Error{Kind: KindUnknown, Op: c.op, Message: "malformed response: " + clientv2.Excerpt(body), Err: err}
		}
		return nil
	}
	if !*env.Success {
		return envelopeFailure(c, &env)
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err = json.Unmarshal(env.Data, out); err != nil {
		return &Error{Kind: KindUnknown, Op: c.op, Message: "malformed response data: " + clientv2.Excerpt(env.Data), Err: err}
	}
	return nil
}

// invokeRaw 发送一次数据面请求，返回原始响应体
func (s *Session) invokeRaw(ctx context.Context, c call) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeoutFor(c))
	defer cancel()

	params, err := s.params(ctx, c)
	if err != nil {
		return nil, err
	}
	body, _, err := clientv2.DoAndReadBody(s.client, params)
	if err != nil {
		return nil, translateDataPlaneError(ctx, c, err)
	}
	return body, nil
}

func timeoutKind(class routeClass) Kind {
	if class == routeCode {
		return KindExecutionTimeout
	}
	return KindTimeout
}

func translateDataPlaneError(ctx context.Context, c call, err error) error {
	var sdkErr *Error
	if errors.As(err, &sdkErr) {
		return err
	}

	var respErr *clientv2.ResponseError
	if errors.As(err, &respErr) {
		return translateStatus(c, respErr)
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{Kind: timeoutKind(c.class), Op: c.op, Message: "deadline exceeded", Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: KindTimeout, Op: c.op, Message: "canceled", Err: err}
	}
	if retrier.IsDialError(err) {
		return &Error{Kind: KindSandboxUnreachable, Op: c.op, Message: "cannot connect to sandbox", NoSideEffect: true, Err: err}
	}
	return &Error{Kind: KindSandboxUnreachable, Op: c.op, Message: "transport error", Err: err}
}

func translateStatus(c call, respErr *clientv2.ResponseError) error {
	var env envelope
	_ = json.Unmarshal(respErr.Body, &env)
	message := env.Message
	code := ""
	if env.Error != nil {
		code = env.Error.Code
		if message == "" {
			message = env.Error.Message
		}
	}
	if message == "" {
		message = clientv2.Excerpt(respErr.Body)
	}

	e := &Error{Op: c.op, Message: message, StatusCode: respErr.StatusCode, Code: code, Err: respErr}
	switch respErr.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		e.Kind = KindSandboxUnreachable
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		e.Kind = timeoutKind(c.class)
	case http.StatusNotFound:
		if c.class == routeFile {
			e.Kind = KindPathNotFound
		} else {
			e.Kind = KindUnknown
		}
	case http.StatusUnauthorized, http.StatusForbidden:
		e.Kind = KindPermissionDenied
	case http.StatusRequestEntityTooLarge:
		e.Kind = KindPayloadTooLarge
	default:
		e.Kind = kindFromHint(c.class, code+" "+message)
	}
	return e
}

func envelopeFailure(c call, env *envelope) error {
	message := env.Message
	code := ""
	if env.Error != nil {
		code = env.Error.Code
		if env.Error.Message != "" {
			if message == "" {
				message = env.Error.Message
			} else {
				message += ": " + env.Error.Message
			}
		}
	}
	return &Error{Kind: kindFromHint(c.class, code+" "+message), Op: c.op, Message: message, Code: code}
}

// kindFromHint 根据服务端错误码或错误消息推断类别
func kindFromHint(class routeClass, hint string) Kind {
	hint = strings.ToLower(hint)
	switch {
	case class == routeFile && (strings.Contains(hint, "enoent") || strings.Contains(hint, "not found") ||
		strings.Contains(hint, "no such file") || strings.Contains(hint, "does not exist")):
		return KindPathNotFound
	case strings.Contains(hint, "permission denied") || strings.Contains(hint, "eacces") ||
		strings.Contains(hint, "eperm") || strings.Contains(hint, "forbidden"):
		return KindPermissionDenied
	case strings.Contains(hint, "too large") || strings.Contains(hint, "payload"):
		return KindPayloadTooLarge
	case class == routeCode && (strings.Contains(hint, "timeout") || strings.Contains(hint, "timed out")):
		return KindExecutionTimeout
	default:
		return KindUnknown
	}
}
