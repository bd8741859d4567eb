package sandboxtest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agent-infra/sandbox-go/sandbox"
)

// Provider 内存中的沙箱后端。
// 新建的沙箱在 ProvisioningPolls 次 GetSandbox 之后进入 Running 状态，地址为 BaseURL。
type Provider struct {
	// BaseURL Running 沙箱的数据面地址
	BaseURL string
	// ProvisioningPolls 进入 Running 之前 GetSandbox 返回 Provisioning 的次数
	ProvisioningPolls int
	// Quota 每个作用域同时存在的沙箱上限，0 表示不限制
	Quota int

	mu        sync.Mutex
	scopes    map[string]bool
	order     []string
	sandboxes map[string]*fakeSandbox
	calls     map[string]int
}

type fakeSandbox struct {
	id         string
	functionID string
	status     sandbox.Status
	polls      int
	createdAt  time.Time
	expiresAt  time.Time
	metadata   map[string]string
}

var _ sandbox.Provider = (*Provider)(nil)

// NewProvider 创建只接受 functionIDs 作用域的 Provider
func NewProvider(baseURL string, functionIDs ...string) *Provider {
	p := &Provider{
		BaseURL:           baseURL,
		ProvisioningPolls: 1,
		scopes:            make(map[string]bool),
		sandboxes:         make(map[string]*fakeSandbox),
		calls:             make(map[string]int),
	}
	for _, id := range functionIDs {
		p.scopes[id] = true
	}
	return p
}

// Calls 返回方法被调用的次数
func (p *Provider) Calls(method string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[method]
}

// SetStatus 强制设置沙箱状态
func (p *Provider) SetStatus(sandboxID string, status sandbox.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sb, ok := p.sandboxes[sandboxID]; ok {
		sb.status = status
		sb.polls = -1 << 30
	}
}

func (p *Provider) CreateSandbox(ctx context.Context, functionID string, opts ...sandbox.CreateOption) (string, error) {
	const op = "fake.CreateSandbox"
	if err := sandbox.ValidateScopeID(op, functionID); err != nil {
		return "", err
	}
	options, err := sandbox.NewCreateOptions(op, opts...)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", &sandbox.Error{Kind: sandbox.KindProviderUnavailable, Op: op, NoSideEffect: true, Err: err}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["CreateSandbox"]++
	if !p.scopes[functionID] {
		return "", &sandbox.Error{Kind: sandbox.KindInvalidScope, Op: op, Message: "unknown function " + functionID, NoSideEffect: true}
	}
	if p.Quota > 0 {
		live := 0
		for _, sb := range p.sandboxes {
			if sb.functionID == functionID && !sb.status.IsFinal() {
				live++
			}
		}
		if live >= p.Quota {
			return "", &sandbox.Error{Kind: sandbox.KindQuotaExceeded, Op: op, Message: "sandbox quota exceeded", NoSideEffect: true}
		}
	}

	now := time.Now()
	sb := &fakeSandbox{
		id:         "sbx-" + uuid.NewString(),
		functionID: functionID,
		status:     sandbox.StatusProvisioning,
		createdAt:  now,
		expiresAt:  now.Add(time.Duration(options.TimeoutMinutes) * time.Minute),
		metadata:   options.Metadata,
	}
	p.sandboxes[sb.id] = sb
	p.order = append(p.order, sb.id)
	return sb.id, nil
}

func (p *Provider) ListSandboxes(ctx context.Context, functionID string) ([]sandbox.Descriptor, error) {
	const op = "fake.ListSandboxes"
	if err := sandbox.ValidateScopeID(op, functionID); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["ListSandboxes"]++
	if !p.scopes[functionID] {
		return nil, &sandbox.Error{Kind: sandbox.KindInvalidScope, Op: op, Message: "unknown function " + functionID, NoSideEffect: true}
	}
	descriptors := []sandbox.Descriptor{}
	for _, id := range p.order {
		sb := p.sandboxes[id]
		if sb.functionID == functionID && sb.status != sandbox.StatusTerminated {
			descriptors = append(descriptors, p.describe(sb))
		}
	}
	return descriptors, nil
}

func (p *Provider) GetSandbox(ctx context.Context, functionID, sandboxID string) (*sandbox.Descriptor, error) {
	const op = "fake.GetSandbox"
	if err := sandbox.ValidateScopeID(op, functionID); err != nil {
		return nil, err
	}
	if err := sandbox.ValidateSandboxID(op, sandboxID); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["GetSandbox"]++
	sb, ok := p.sandboxes[sandboxID]
	if !ok || sb.functionID != functionID {
		return nil, &sandbox.Error{Kind: sandbox.KindNotFound, Op: op, Message: "sandbox " + sandboxID + " not found", NoSideEffect: true}
	}
	if sb.status == sandbox.StatusProvisioning {
		sb.polls++
		if sb.polls > p.ProvisioningPolls {
			sb.status = sandbox.StatusRunning
		}
	}
	d := p.describe(sb)
	return &d, nil
}

func (p *Provider) DeleteSandbox(ctx context.Context, functionID, sandboxID string) error {
	const op = "fake.DeleteSandbox"
	if err := sandbox.ValidateScopeID(op, functionID); err != nil {
		return err
	}
	if err := sandbox.ValidateSandboxID(op, sandboxID); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["DeleteSandbox"]++
	sb, ok := p.sandboxes[sandboxID]
	if !ok || sb.functionID != functionID {
		return &sandbox.Error{Kind: sandbox.KindNotFound, Op: op, Message: "sandbox " + sandboxID + " not found", NoSideEffect: true}
	}
	sb.status = sandbox.StatusTerminated
	return nil
}

func (p *Provider) describe(sb *fakeSandbox) sandbox.Descriptor {
	expiresAt := sb.expiresAt
	d := sandbox.Descriptor{
		SandboxID:  sb.id,
		FunctionID: sb.functionID,
		Status:     sb.status,
		CreatedAt:  sb.createdAt,
		ExpiresAt:  &expiresAt,
		Metadata:   sb.metadata,
	}
	if sb.status == sandbox.StatusRunning {
		d.Endpoint = &sandbox.Endpoint{
			BaseURL: p.BaseURL,
			Domains: []sandbox.Domain{{URL: p.BaseURL, Type: sandbox.DomainTypePublic}},
		}
	}
	d.Normalize()
	return d
}
