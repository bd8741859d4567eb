// Package credentials 提供访问云厂商控制面所需的密钥对及其获取方式。
//
// 凭证只在 Provider 存活期间被持有，构造后只读，可被并发调用共享。
package credentials

import (
	"context"
	"errors"
	"fmt"

	"github.com/agent-infra/sandbox-go/internal/configfile"
	"github.com/agent-infra/sandbox-go/internal/env"
)

// DefaultRegion 默认地域
const DefaultRegion = "cn-beijing"

var ErrNoCredentials = errors.New("no credentials available")

// Credentials AK/SK 密钥对以及地域
type Credentials struct {
	AccessKey    string
	SecretKey    string
	Region       string
	SessionToken string
}

// New 构建一个 Credentials 对象，region 为空时使用 DefaultRegion
func New(accessKey, secretKey, region string) *Credentials {
	if region == "" {
		region = DefaultRegion
	}
	return &Credentials{AccessKey: accessKey, SecretKey: secretKey, Region: region}
}

// String 不输出 SecretKey 与 SessionToken
func (c *Credentials) String() string {
	if c == nil {
		return "<nil>"
	}
	return fmt.Sprintf("Credentials{AccessKey: %s, Region: %s}", maskKey(c.AccessKey), c.Region)
}

// GoString 与 String 一致，避免 %#v 泄漏密钥
func (c *Credentials) GoString() string {
	return c.String()
}

// Validate 校验密钥对是否完整
func (c *Credentials) Validate() error {
	if c == nil || c.AccessKey == "" || c.SecretKey == "" {
		return ErrNoCredentials
	}
	return nil
}

func maskKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return key[:4] + "****"
}

// CredentialsProvider 获取 Credentials 对象的接口
type CredentialsProvider interface {
	Get(context.Context) (*Credentials, error)
}

type staticProvider struct {
	credentials *Credentials
}

// NewStaticProvider 返回总是提供同一份凭证的 CredentialsProvider
func NewStaticProvider(c *Credentials) CredentialsProvider {
	return staticProvider{credentials: c}
}

func (p staticProvider) Get(context.Context) (*Credentials, error) {
	if err := p.credentials.Validate(); err != nil {
		return nil, err
	}
	return p.credentials, nil
}

// EnvironmentVariableCredentialProvider 从环境变量 VOLC_ACCESSKEY / VOLC_SECRETKEY /
// VOLCENGINE_REGION 中获取凭证
type EnvironmentVariableCredentialProvider struct{}

func (provider *EnvironmentVariableCredentialProvider) Get(context.Context) (*Credentials, error) {
	accessKey, secretKey := env.CredentialsFromEnvironment()
	if accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("%w: VOLC_ACCESSKEY / VOLC_SECRETKEY are not set", ErrNoCredentials)
	}
	return New(accessKey, secretKey, env.RegionFromEnvironment()), nil
}

var _ CredentialsProvider = (*EnvironmentVariableCredentialProvider)(nil)

// ConfigFileCredentialProvider 从配置文件当前 profile 中获取凭证
type ConfigFileCredentialProvider struct{}

func (provider *ConfigFileCredentialProvider) Get(context.Context) (*Credentials, error) {
	accessKey, secretKey, region, err := configfile.CredentialsFromConfigFile()
	if err != nil {
		return nil, err
	}
	if accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("%w: config file profile has no access_key / secret_key", ErrNoCredentials)
	}
	return New(accessKey, secretKey, region), nil
}

var _ CredentialsProvider = (*ConfigFileCredentialProvider)(nil)

// ChainedCredentialsProvider 存储多个 CredentialsProvider，逐个尝试直到成功获取第一个 Credentials 为止
type ChainedCredentialsProvider struct {
	providers []CredentialsProvider
}

// NewChainedCredentialsProvider 构建一个 ChainedCredentialsProvider
func NewChainedCredentialsProvider(providers ...CredentialsProvider) *ChainedCredentialsProvider {
	return &ChainedCredentialsProvider{providers: providers}
}

func (provider *ChainedCredentialsProvider) Get(ctx context.Context) (*Credentials, error) {
	errs := make([]error, 0, len(provider.providers))
	for _, p := range provider.providers {
		c, err := p.Get(ctx)
		if err == nil {
			return c, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, ErrNoCredentials
	}
	return nil, errors.Join(errs...)
}

var _ CredentialsProvider = (*ChainedCredentialsProvider)(nil)

// Default 依次从环境变量与配置文件中获取凭证
func Default() CredentialsProvider {
	return NewChainedCredentialsProvider(
		&EnvironmentVariableCredentialProvider{},
		&ConfigFileCredentialProvider{},
	)
}
