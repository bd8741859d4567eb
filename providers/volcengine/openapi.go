package volcengine

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/agent-infra/sandbox-go/credentials"
	"github.com/agent-infra/sandbox-go/internal/clientv2"
	"github.com/agent-infra/sandbox-go/internal/log"
	"github.com/agent-infra/sandbox-go/retrier"
	"github.com/agent-infra/sandbox-go/sandbox"
)

// maxPeekSize 重试判断时最多读取的响应体字节数
const maxPeekSize = 64 << 10

type responseError struct {
	Code    string `json:"Code"`
	Message string `json:"Message"`
}

type responseMetadata struct {
	RequestID string         `json:"RequestId"`
	Action    string         `json:"Action"`
	Version   string         `json:"Version"`
	Service   string         `json:"Service"`
	Region    string         `json:"Region"`
	Error     *responseError `json:"Error,omitempty"`
}

type response struct {
	ResponseMetadata responseMetadata `json:"ResponseMetadata"`
	Result           json.RawMessage  `json:"Result"`
}

// decodeAPIError 从响应体中解析 ResponseMetadata.Error，没有错误时返回 nil
func decodeAPIError(statusCode int, body []byte) *apiError {
	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil
	}
	e := resp.ResponseMetadata.Error
	if e == nil || e.Code == "" {
		return nil
	}
	return &apiError{StatusCode: statusCode, Code: e.Code, Message: e.Message, RequestID: resp.ResponseMetadata.RequestID}
}

// openAPI 某个服务版本的 OpenAPI 客户端
type openAPI struct {
	client     clientv2.Client
	endpoint   string
	service    string
	version    string
	regionName string
	validate   bool
}

func newOpenAPI(config *Config, service, version string) *openAPI {
	var httpClient clientv2.Client = http.DefaultClient
	if config.HTTPClient != nil {
		httpClient = config.HTTPClient
	}
	retryConfig := RetryConfig{}
	if config.Retry != nil {
		retryConfig = *config.Retry
	}
	if retryConfig.Retrier == nil {
		retryConfig.Retrier = newThrottlingRetrier()
	}
	signer := NewSigner(config.credentialsProvider(), config.Region, service)
	return &openAPI{
		client: clientv2.NewClient(httpClient,
			clientv2.NewRetryInterceptor(retryConfig),
			clientv2.NewTimeoutInterceptor(config.requestTimeout()),
			clientv2.NewAuthInterceptor(clientv2.AuthConfig{
				Signer: signer,
				SignError: func(req *http.Request, err error) {
					log.With(map[string]interface{}{"service": service}).Warn().Err(err).Msg("sign request failed")
				},
			}),
		),
		endpoint:   config.endpoint(),
		service:    service,
		version:    version,
		regionName: config.Region,
		validate:   !config.DisableClientSideValidation,
	}
}

func (api *openAPI) region() string {
	if api.regionName == "" {
		return credentials.DefaultRegion
	}
	return api.regionName
}

// call 调用 action，将 Result 解析到 result 中。返回的错误均为 *sandbox.Error
func (api *openAPI) call(ctx context.Context, action string, body, result interface{}) error {
	op := "volcengine." + action
	if api.validate && body != nil {
		if err := sandbox.ValidateRequest(op, sandbox.KindInvalidScope, body); err != nil {
			return err
		}
	}
	if body == nil {
		body = struct{}{}
	}
	getBody, err := clientv2.GetJSONRequestBody(body)
	if err != nil {
		return &sandbox.Error{Kind: sandbox.KindUnknown, Op: op, Message: "encode request", NoSideEffect: true, Err: err}
	}
	data, _, err := clientv2.DoAndReadBody(api.client, clientv2.RequestParams{
		Context: ctx,
		Method:  clientv2.RequestMethodPost,
		URL:     api.endpoint + "/",
		Query:   url.Values{"Action": {action}, "Version": {api.version}},
		Header:  http.Header{"Accept": {clientv2.ContentTypeJSON}},
		GetBody: getBody,
	})
	if err != nil {
		return translateError(op, err)
	}

	var resp response
	if err = json.Unmarshal(data, &resp); err != nil {
		return &sandbox.Error{Kind: sandbox.KindUnknown, Op: op, Message: "malformed response: " + clientv2.Excerpt(data), Err: err}
	}
	if apiErr := decodeAPIError(http.StatusOK, data); apiErr != nil {
		return apiErr.toSandboxError(op)
	}
	if result == nil || len(resp.Result) == 0 || string(resp.Result) == "null" {
		return nil
	}
	if err = json.Unmarshal(resp.Result, result); err != nil {
		return &sandbox.Error{
			Kind:      sandbox.KindUnknown,
			Op:        op,
			Message:   "malformed result: " + clientv2.Excerpt(resp.Result),
			RequestID: resp.ResponseMetadata.RequestID,
			Err:       err,
		}
	}
	return nil
}

// newThrottlingRetrier 在默认的网络错误、5xx、429 之外，
// 还会重试响应体中带有限流或服务不可用错误码的 4xx 响应
func newThrottlingRetrier() retrier.Retrier {
	base := retrier.NewErrorRetrier()
	return retrier.NewRetrier(func(resp *http.Response, err error, opts *retrier.Options) retrier.Decision {
		if decision := base.Retry(resp, err, opts); decision == retrier.RetryRequest || err != nil {
			return decision
		}
		if resp == nil || resp.StatusCode < 400 || resp.Body == nil {
			return retrier.DontRetry
		}
		peek, _ := io.ReadAll(io.LimitReader(resp.Body, maxPeekSize))
		resp.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(peek), resp.Body), resp.Body}
		if apiErr := decodeAPIError(resp.StatusCode, peek); apiErr != nil {
			if _, retryable := kindForCode(resp.StatusCode, apiErr.Code); retryable {
				return retrier.RetryRequest
			}
		}
		return retrier.DontRetry
	})
}
