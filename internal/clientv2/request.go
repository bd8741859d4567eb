package clientv2

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
)

const (
	RequestMethodGet    = http.MethodGet
	RequestMethodPost   = http.MethodPost
	RequestMethodDelete = http.MethodDelete
)

const ContentTypeJSON = "application/json"

type GetRequestBody func(options *RequestParams) (io.ReadCloser, error)

// GetJSONRequestBody 将 object 序列化为 JSON 请求体，可重复获取
func GetJSONRequestBody(object interface{}) (GetRequestBody, error) {
	reqBody, err := json.Marshal(object)
	if err != nil {
		return nil, err
	}
	return GetBytesRequestBody(reqBody, ContentTypeJSON), nil
}

// GetBytesRequestBody 返回固定内容的请求体
func GetBytesRequestBody(body []byte, contentType string) GetRequestBody {
	return func(o *RequestParams) (io.ReadCloser, error) {
		if contentType != "" {
			o.Header.Set("Content-Type", contentType)
		}
		return io.NopCloser(bytes.NewReader(body)), nil
	}
}

type RequestParams struct {
	Context context.Context
	Method  string
	URL     string
	// Query 会与 URL 中已有的查询参数合并
	Query   url.Values
	Header  http.Header
	GetBody GetRequestBody
}

func (o *RequestParams) init() {
	if o.Context == nil {
		o.Context = context.Background()
	}
	if len(o.Method) == 0 {
		o.Method = RequestMethodGet
	}
	if o.Header == nil {
		o.Header = http.Header{}
	}
}

func NewRequest(options RequestParams) (*http.Request, error) {
	options.init()

	u, err := url.Parse(options.URL)
	if err != nil {
		return nil, err
	}
	if len(options.Query) > 0 {
		query := u.Query()
		for key, values := range options.Query {
			for _, value := range values {
				query.Add(key, value)
			}
		}
		u.RawQuery = query.Encode()
	}

	var body io.ReadCloser
	if options.GetBody != nil {
		if body, err = options.GetBody(&options); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(options.Context, options.Method, u.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header = options.Header
	if options.GetBody != nil && body != nil {
		req.GetBody = func() (io.ReadCloser, error) {
			return options.GetBody(&options)
		}
	}
	return req, nil
}
