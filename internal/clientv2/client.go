// Package clientv2 是控制面与数据面共用的 HTTP 客户端：
// 在 http.Client 之上按优先级串联签名、重试、调试日志等拦截器。
package clientv2

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
)

// maxErrorBodySize 非 2xx 响应体最多保留的字节数
const maxErrorBodySize = 64 << 10

// Client HTTP 客户端接口，*http.Client 即满足该接口
type Client interface {
	Do(req *http.Request) (*http.Response, error)
}

// Handler 拦截器链中的下一个处理函数
type Handler func(req *http.Request) (*http.Response, error)

type client struct {
	coreClient   Client
	interceptors Interceptors
}

// NewClient 用给定的拦截器包装 cli，cli 为空时使用 http.DefaultClient。
// 调试拦截器与默认请求头拦截器总是会被加入
func NewClient(cli Client, interceptors ...Interceptor) Client {
	if cli == nil {
		cli = http.DefaultClient
	}

	is := make(Interceptors, 0, len(interceptors)+2)
	for _, interceptor := range interceptors {
		if interceptor != nil {
			is = append(is, interceptor)
		}
	}
	is = append(is, newDefaultHeaderInterceptor(), newDebugInterceptor())
	sort.Stable(is)

	// 反转，使优先级最高的拦截器处于最外层
	for i, j := 0, len(is)-1; i < j; i, j = i+1, j-1 {
		is[i], is[j] = is[j], is[i]
	}

	return &client{coreClient: cli, interceptors: is}
}

func (c *client) Do(req *http.Request) (*http.Response, error) {
	handler := Handler(c.coreClient.Do)
	for _, interceptor := range c.interceptors {
		next := handler
		i := interceptor
		handler = func(r *http.Request) (*http.Response, error) {
			return i.Intercept(r, next)
		}
	}
	return handler(req)
}

// ResponseError 非 2xx 响应。响应体已被读取并关闭，内容保存在 Body 中
type ResponseError struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (e *ResponseError) Error() string {
	if len(e.Body) == 0 {
		return fmt.Sprintf("unexpected status code %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status code %d: %s", e.StatusCode, Excerpt(e.Body))
}

// Excerpt 截取响应体开头的一段用于错误信息
func Excerpt(body []byte) string {
	const limit = 256
	body = bytes.TrimSpace(body)
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}

// Do 构建并发送请求，非 2xx 响应被转换为 *ResponseError
func Do(c Client, params RequestParams) (*http.Response, error) {
	req, err := NewRequest(params)
	if err != nil {
		return nil, err
	}
	return handleResponseAndError(c.Do(req))
}

func handleResponseAndError(resp *http.Response, err error) (*http.Response, error) {
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("no response")
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, &ResponseError{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}
	}
	return resp, nil
}

// DoAndDecodeJSON 发送请求并将 JSON 响应体解析到 ret 中，ret 为空时丢弃响应体
func DoAndDecodeJSON(c Client, params RequestParams, ret interface{}) error {
	resp, err := Do(c, params)
	if err != nil {
		return err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if ret == nil || resp.ContentLength == 0 {
		return nil
	}
	if err = json.NewDecoder(resp.Body).Decode(ret); err != nil && err != io.EOF {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// DoAndReadBody 发送请求并读取完整响应体
func DoAndReadBody(c Client, params RequestParams) ([]byte, http.Header, error) {
	resp, err := Do(c, params)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return body, resp.Header, nil
}
