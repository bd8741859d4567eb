package sandbox

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/agent-infra/sandbox-go/internal/clientv2"
)

const (
	// DefaultFileTimeout 文件操作默认超时时间
	DefaultFileTimeout = 60 * time.Second
	// DefaultCodeTimeout 代码执行默认超时时间
	DefaultCodeTimeout = 5 * time.Minute
	// DefaultBrowserTimeout 浏览器操作默认超时时间
	DefaultBrowserTimeout = 30 * time.Second
)

// Timeouts 各类数据面调用的默认超时时间，为 0 时使用默认值
type Timeouts struct {
	File    time.Duration
	Code    time.Duration
	Browser time.Duration
}

func (t Timeouts) withDefaults() Timeouts {
	if t.File <= 0 {
		t.File = DefaultFileTimeout
	}
	if t.Code <= 0 {
		t.Code = DefaultCodeTimeout
	}
	if t.Browser <= 0 {
		t.Browser = DefaultBrowserTimeout
	}
	return t
}

// SessionConfig 数据面会话配置
type SessionConfig struct {
	// BaseURL 数据面地址，通过 NewSessionFromDescriptor 创建时忽略此字段。
	BaseURL string

	// Token 数据面访问令牌（可选），以 Authorization: Bearer 发送。
	Token string

	Timeouts Timeouts

	// HTTPClient 自定义 HTTP 客户端（可选，默认值：http.DefaultClient）。
	HTTPClient *http.Client

	// Headers 每个请求都会携带的请求头（可选）。
	Headers http.Header
}

// Session 到一个运行中沙箱数据面的会话。
// 会话本身不持有可变状态，各子客户端懒初始化，可被重复、并发使用。
type Session struct {
	base     *url.URL
	query    url.Values
	timeouts Timeouts
	client   clientv2.Client

	filesOnce sync.Once
	files     *Filesystem

	jupyterOnce sync.Once
	jupyter     *Jupyter

	nodejsOnce sync.Once
	nodejs     *NodeJS

	shellOnce sync.Once
	shell     *Shell

	browserOnce sync.Once
	browser     *Browser
}

// NewSession 通过已知的数据面地址创建会话，适用于不经过 Provider 管理的沙箱。
// 地址为空或无法解析时返回 KindSandboxUnreachable。
func NewSession(config *SessionConfig) (*Session, error) {
	if config == nil {
		config = &SessionConfig{}
	}
	return newSession(config.BaseURL, config)
}

// NewSessionFromDescriptor 通过沙箱描述创建会话，沙箱不处于 Running 状态时返回 KindNotRunning。
// config 可以为空，其中的 BaseURL 会被描述中的地址覆盖。
func NewSessionFromDescriptor(d *Descriptor, config *SessionConfig) (*Session, error) {
	const op = "session.connect"
	if d == nil {
		return nil, &Error{Kind: KindNotFound, Op: op, Message: "nil descriptor", NoSideEffect: true}
	}
	if d.Status != StatusRunning {
		return nil, &Error{
			Kind:         KindNotRunning,
			Op:           op,
			Message:      "sandbox " + d.SandboxID + " is " + d.Status.String(),
			NoSideEffect: true,
		}
	}
	if d.Endpoint == nil || d.Endpoint.BaseURL == "" {
		return nil, &Error{Kind: KindSandboxUnreachable, Op: op, Message: "sandbox " + d.SandboxID + " has no endpoint", NoSideEffect: true}
	}
	if config == nil {
		config = &SessionConfig{}
	}
	return newSession(d.Endpoint.BaseURL, config)
}

func newSession(baseURL string, config *SessionConfig) (*Session, error) {
	const op = "session.connect"
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, &Error{Kind: KindSandboxUnreachable, Op: op, Message: "base url is required", NoSideEffect: true}
	}
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &Error{Kind: KindSandboxUnreachable, Op: op, Message: "invalid base url " + baseURL, NoSideEffect: true, Err: err}
	}

	query := u.Query()
	u.RawQuery = ""
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/")

	var httpClient clientv2.Client = http.DefaultClient
	if config.HTTPClient != nil {
		httpClient = config.HTTPClient
	}
	interceptors := []clientv2.Interceptor{clientv2.NewBearerTokenInterceptor(config.Token)}
	if len(config.Headers) > 0 {
		interceptors = append(interceptors, clientv2.NewHeaderInterceptor(config.Headers))
	}

	return &Session{
		base:     u,
		query:    query,
		timeouts: config.Timeouts.withDefaults(),
		client:   clientv2.NewClient(httpClient, interceptors...),
	}, nil
}

// BaseURL 返回会话的数据面地址（包含查询参数）
func (s *Session) BaseURL() string {
	u := *s.base
	u.RawQuery = s.query.Encode()
	return u.String()
}

// Timeouts 返回会话的默认超时时间
func (s *Session) Timeouts() Timeouts {
	return s.timeouts
}

// Files 返回文件系统操作接口。
func (s *Session) Files() *Filesystem {
	s.filesOnce.Do(func() {
		s.files = &Filesystem{session: s}
	})
	return s.files
}

// Jupyter 返回 Jupyter（Python）代码执行接口。
func (s *Session) Jupyter() *Jupyter {
	s.jupyterOnce.Do(func() {
		s.jupyter = &Jupyter{session: s}
	})
	return s.jupyter
}

// NodeJS 返回 Node.js 代码执行接口。
func (s *Session) NodeJS() *NodeJS {
	s.nodejsOnce.Do(func() {
		s.nodejs = &NodeJS{session: s}
	})
	return s.nodejs
}

// Shell 返回 Shell 命令执行接口。
func (s *Session) Shell() *Shell {
	s.shellOnce.Do(func() {
		s.shell = &Shell{session: s}
	})
	return s.shell
}

// Browser 返回浏览器控制接口。
func (s *Session) Browser() *Browser {
	s.browserOnce.Do(func() {
		s.browser = &Browser{session: s}
	})
	return s.browser
}

// Executor 返回指定运行时的代码执行接口。
func (s *Session) Executor(rt Runtime) (Executor, error) {
	switch rt {
	case RuntimePython:
		return s.Jupyter(), nil
	case RuntimeNodeJS:
		return s.NodeJS(), nil
	case RuntimeShell:
		return s.Shell(), nil
	default:
		return nil, &Error{Kind: KindUnknown, Op: "session.executor", Message: "unsupported runtime " + rt.String(), NoSideEffect: true}
	}
}

// SandboxInfo 沙箱运行环境信息
type SandboxInfo struct {
	HomeDir string                 `json:"home_dir"`
	Version string                 `json:"version"`
	Detail  map[string]interface{} `json:"detail,omitempty"`
}

// Info 查询沙箱运行环境信息。
func (s *Session) Info(ctx context.Context) (*SandboxInfo, error) {
	var info SandboxInfo
	if err := s.invoke(ctx, call{op: "sandbox.info", class: routeInfo, method: http.MethodGet, path: "/v1/sandbox"}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}
