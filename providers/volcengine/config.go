package volcengine

import (
	"net/http"
	"time"

	"github.com/agent-infra/sandbox-go/credentials"
	"github.com/agent-infra/sandbox-go/internal/clientv2"
)

const (
	// DefaultHost 火山引擎 OpenAPI 默认地址
	DefaultHost = "open.volcengineapi.com"
	// DefaultDomainCacheTTL 函数域名列表的默认缓存时长
	DefaultDomainCacheTTL = 5 * time.Minute
	// DefaultRequestTimeout 单次 OpenAPI 请求的默认超时时间
	DefaultRequestTimeout = 30 * time.Second
	// DefaultApplicationTemplateID 创建应用时使用的默认模板
	DefaultApplicationTemplateID = "68ad2fb0443cb8000843cbbe"

	serviceFaaS = "vefaas"
	versionFaaS = "2024-06-06"
	serviceAPIG = "apig"
	versionAPIG = "2021-03-03"
)

// RetryConfig 控制面请求的重试配置
type RetryConfig = clientv2.RetryConfig

// Config 火山引擎 Provider 配置
type Config struct {
	// Credentials 凭证获取方式，为空时使用 AccessKey / SecretKey，
	// 两者也为空时使用 credentials.Default()（环境变量，然后是配置文件）
	Credentials credentials.CredentialsProvider
	AccessKey   string
	SecretKey   string
	// Region 地域，为空时使用凭证中的地域，默认 cn-beijing
	Region string

	// Host OpenAPI 地址，默认 DefaultHost
	Host string
	// UseInsecureProtocol 使用 HTTP 而不是 HTTPS
	UseInsecureProtocol bool
	// HTTPClient 自定义 HTTP 客户端（可选，默认值：http.DefaultClient）
	HTTPClient *http.Client
	// Retry 重试配置，为空时最多尝试 4 次，退避时间 200ms 起按 2 倍增长，上限 5s
	Retry *RetryConfig
	// RequestTimeout 单次请求的超时时间，每次重试重新计时。
	// 为 0 时使用 DefaultRequestTimeout，小于 0 时不限制
	RequestTimeout time.Duration

	// DomainCacheTTL 函数域名列表的缓存时长，默认 DefaultDomainCacheTTL
	DomainCacheTTL time.Duration
	// DomainCacheFile 域名缓存的持久化文件（可选），多个进程可以共享
	DomainCacheFile string

	// DisableClientSideValidation 关闭发送请求前的参数校验
	DisableClientSideValidation bool

	// ApplicationTemplateID CreateApplication 使用的模板，默认 DefaultApplicationTemplateID
	ApplicationTemplateID string
}

func (c *Config) credentialsProvider() credentials.CredentialsProvider {
	switch {
	case c.Credentials != nil:
		return c.Credentials
	case c.AccessKey != "" || c.SecretKey != "":
		return credentials.NewStaticProvider(credentials.New(c.AccessKey, c.SecretKey, c.Region))
	default:
		return credentials.Default()
	}
}

func (c *Config) requestTimeout() time.Duration {
	if c.RequestTimeout == 0 {
		return DefaultRequestTimeout
	}
	return c.RequestTimeout
}

func (c *Config) endpoint() string {
	host := c.Host
	if host == "" {
		host = DefaultHost
	}
	if c.UseInsecureProtocol {
		return "http://" + host
	}
	return "https://" + host
}
