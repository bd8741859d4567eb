package sandbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agent-infra/sandbox-go/internal/log"
)

// Config 是沙箱客户端的配置。
type Config struct {
	// Provider 沙箱生命周期后端（可选）。不设置时只能通过 Session 访问已知地址的沙箱。
	Provider Provider

	// Session 数据面会话配置（可选）。
	// Connect 使用其中的令牌和超时时间；Session 还会使用其中的 BaseURL。
	Session *SessionConfig
}

// Client 是沙箱 SDK 的高级客户端，组合生命周期管理和数据面访问。
// 由调用方显式创建和持有，可被并发使用。
type Client struct {
	config   Config
	provider Provider

	sessionOnce sync.Once
	session     *Session
	sessionErr  error
}

// NewClient 创建一个新的沙箱客户端。
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		config = &Config{}
	}
	c := &Client{config: *config, provider: config.Provider}
	if config.Session != nil {
		sessionConfig := *config.Session
		c.config.Session = &sessionConfig
	}
	return c, nil
}

// Provider 返回配置的生命周期后端，可能为 nil。
func (c *Client) Provider() Provider {
	return c.provider
}

func (c *Client) requireProvider(op string) (Provider, error) {
	if c.provider == nil {
		return nil, &Error{Kind: KindProviderUnavailable, Op: op, Message: "no provider configured", NoSideEffect: true}
	}
	return c.provider, nil
}

// CreateSandbox 在 functionID 作用域内创建沙箱，返回沙箱 ID。
func (c *Client) CreateSandbox(ctx context.Context, functionID string, opts ...CreateOption) (string, error) {
	p, err := c.requireProvider("client.CreateSandbox")
	if err != nil {
		return "", err
	}
	return p.CreateSandbox(ctx, functionID, opts...)
}

// ListSandboxes 列出 functionID 作用域内的沙箱。
func (c *Client) ListSandboxes(ctx context.Context, functionID string) ([]Descriptor, error) {
	p, err := c.requireProvider("client.ListSandboxes")
	if err != nil {
		return nil, err
	}
	return p.ListSandboxes(ctx, functionID)
}

// GetSandbox 获取沙箱描述。
func (c *Client) GetSandbox(ctx context.Context, functionID, sandboxID string) (*Descriptor, error) {
	p, err := c.requireProvider("client.GetSandbox")
	if err != nil {
		return nil, err
	}
	return p.GetSandbox(ctx, functionID, sandboxID)
}

// DeleteSandbox 删除沙箱，重复删除返回成功。
func (c *Client) DeleteSandbox(ctx context.Context, functionID, sandboxID string) error {
	p, err := c.requireProvider("client.DeleteSandbox")
	if err != nil {
		return err
	}
	return p.DeleteSandbox(ctx, functionID, sandboxID)
}

// WaitUntilRunning 轮询 GetSandbox 直到沙箱进入 Running 状态。
// 沙箱在此之前进入终止或失败状态时返回 KindNotRunning；
// 超过等待时间（默认 DefaultWaitTimeout，见 WithPollTimeout）或 ctx 结束时返回 KindTimeout。
// 默认轮询间隔为 1 秒，每次增加 50%，上限 5 秒，可通过 PollOption 自定义。
func (c *Client) WaitUntilRunning(ctx context.Context, functionID, sandboxID string, opts ...PollOption) (*Descriptor, error) {
	const op = "client.WaitUntilRunning"
	p, err := c.requireProvider(op)
	if err != nil {
		return nil, err
	}
	o := defaultPollOpts(time.Second)
	for _, fn := range opts {
		fn(o)
	}
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	d, err := pollLoop(ctx, o, func() (bool, *Descriptor, error) {
		d, err := p.GetSandbox(ctx, functionID, sandboxID)
		if err != nil {
			return false, nil, err
		}
		switch {
		case d.Status == StatusRunning:
			return true, d, nil
		case d.Status.IsFinal():
			return false, nil, &Error{
				Kind:    KindNotRunning,
				Op:      op,
				Message: fmt.Sprintf("sandbox %s is %s", sandboxID, d.Status),
			}
		}
		return false, nil, nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && (err == ctxErr || IsKind(err, KindTimeout)) {
			return nil, &Error{Kind: KindTimeout, Op: op, Message: "sandbox " + sandboxID + " did not become running", Err: err}
		}
		return nil, err
	}
	return d, nil
}

// CreateAndWait 创建沙箱并等待其就绪。等待失败时会尽力删除刚创建的沙箱。
func (c *Client) CreateAndWait(ctx context.Context, functionID string, createOpts []CreateOption, opts ...PollOption) (*Descriptor, error) {
	sandboxID, err := c.CreateSandbox(ctx, functionID, createOpts...)
	if err != nil {
		return nil, err
	}
	d, err := c.WaitUntilRunning(ctx, functionID, sandboxID, opts...)
	if err != nil {
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if delErr := c.DeleteSandbox(cleanupCtx, functionID, sandboxID); delErr != nil {
			log.With(map[string]interface{}{
				"function_id": functionID,
				"sandbox_id":  sandboxID,
			}).Warn().Err(delErr).Msg("failed to delete sandbox after wait failure")
		}
		return nil, err
	}
	return d, nil
}

// Connect 根据沙箱描述创建数据面会话。
func (c *Client) Connect(d *Descriptor) (*Session, error) {
	return NewSessionFromDescriptor(d, c.config.Session)
}

// Session 返回基于 Config.Session.BaseURL 的数据面会话，多次调用返回同一个会话。
func (c *Client) Session() (*Session, error) {
	c.sessionOnce.Do(func() {
		c.session, c.sessionErr = NewSession(c.config.Session)
	})
	return c.session, c.sessionErr
}

// Execute 在 Session 返回的会话中使用指定运行时执行代码。
func (c *Client) Execute(ctx context.Context, rt Runtime, code string) (*ExecutionResult, error) {
	s, err := c.Session()
	if err != nil {
		return nil, err
	}
	executor, err := s.Executor(rt)
	if err != nil {
		return nil, err
	}
	return executor.Execute(ctx, code)
}

// ExecuteNamed 与 Execute 相同，运行时通过名称（python、nodejs、shell 等）指定。
func (c *Client) ExecuteNamed(ctx context.Context, runtimeName, code string) (*ExecutionResult, error) {
	rt, err := ParseRuntime(runtimeName)
	if err != nil {
		return nil, err
	}
	return c.Execute(ctx, rt, code)
}
