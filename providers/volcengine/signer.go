package volcengine

import (
	"net/http"

	"github.com/volcengine/volc-sdk-golang/base"

	"github.com/agent-infra/sandbox-go/credentials"
	"github.com/agent-infra/sandbox-go/internal/clientv2"
)

// Signer 火山引擎 OpenAPI V4 签名，每次签名时从 CredentialsProvider 取得凭证
type Signer struct {
	credentials credentials.CredentialsProvider
	region      string
	service     string
}

var _ clientv2.Signer = (*Signer)(nil)

// NewSigner 创建签名器，region 为空时使用凭证中的地域
func NewSigner(c credentials.CredentialsProvider, region, service string) *Signer {
	return &Signer{credentials: c, region: region, service: service}
}

// Sign 为请求添加 X-Date、X-Content-Sha256 与 Authorization 头，
// 请求体会被读出并替换为可重复读取的副本
func (s *Signer) Sign(req *http.Request) error {
	cred, err := s.credentials.Get(req.Context())
	if err != nil {
		return err
	}
	if err = cred.Validate(); err != nil {
		return err
	}
	region := s.region
	if region == "" {
		region = cred.Region
	}
	if region == "" {
		region = credentials.DefaultRegion
	}
	if req.Host == "" {
		req.Host = req.URL.Host
	}
	base.Credentials{
		AccessKeyID:     cred.AccessKey,
		SecretAccessKey: cred.SecretKey,
		Service:         s.service,
		Region:          region,
		SessionToken:    cred.SessionToken,
	}.Sign(req)
	return nil
}
