// Package volcengine 基于火山引擎函数服务（VEFAAS）实现沙箱生命周期管理。
//
// 沙箱属于某个函数（functionID），通过函数的 APIG 触发器对外提供数据面地址，
// 每个沙箱实例的地址为函数域名加上 faasInstanceName 查询参数。
package volcengine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agent-infra/sandbox-go/internal/cache"
	"github.com/agent-infra/sandbox-go/internal/log"
	"github.com/agent-infra/sandbox-go/sandbox"
)

const (
	listPageSize    = 100
	listConcurrency = 4
)

// Provider 火山引擎沙箱后端，可被并发使用
type Provider struct {
	faas       *openAPI
	apig       *openAPI
	endpoint   string
	domains    *cache.Cache[domainsValue]
	domainTTL  time.Duration
	templateID string

	mu sync.Mutex
	// killed 本进程终止过的沙箱，后端回收实例后再次删除仍然返回成功
	killed map[string]struct{}
}

var _ sandbox.Provider = (*Provider)(nil)

// NewProvider 创建火山引擎 Provider
func NewProvider(config *Config) (*Provider, error) {
	if config == nil {
		config = &Config{}
	}
	ttl := config.DomainCacheTTL
	if ttl <= 0 {
		ttl = DefaultDomainCacheTTL
	}
	domains, err := cache.New[domainsValue](cache.Options{
		CompactInterval:    ttl,
		PersistentFilePath: config.DomainCacheFile,
		PersistentDuration: ttl,
		HandleError: func(err error) {
			log.With(map[string]interface{}{"file": config.DomainCacheFile}).Warn().Err(err).Msg("persist domain cache failed")
		},
	})
	if err != nil {
		return nil, err
	}
	templateID := config.ApplicationTemplateID
	if templateID == "" {
		templateID = DefaultApplicationTemplateID
	}
	return &Provider{
		faas:       newOpenAPI(config, serviceFaaS, versionFaaS),
		apig:       newOpenAPI(config, serviceAPIG, versionAPIG),
		endpoint:   config.endpoint(),
		domains:    domains,
		domainTTL:  ttl,
		templateID: templateID,
		killed:     make(map[string]struct{}),
	}, nil
}

type envItem struct {
	Key   string `json:"Key" validate:"required"`
	Value string `json:"Value"`
}

type createSandboxRequest struct {
	FunctionId string            `json:"FunctionId" validate:"required"`
	Timeout    int               `json:"Timeout" validate:"gte=1,lte=1440"`
	Metadata   map[string]string `json:"Metadata,omitempty"`
	Envs       []envItem         `json:"Envs,omitempty" validate:"dive"`
}

type sandboxRequest struct {
	FunctionId string `json:"FunctionId" validate:"required"`
	SandboxId  string `json:"SandboxId" validate:"required"`
}

type listSandboxesRequest struct {
	FunctionId string `json:"FunctionId" validate:"required"`
	PageNumber int    `json:"PageNumber" validate:"gte=1"`
	PageSize   int    `json:"PageSize" validate:"gte=1,lte=100"`
}

type sandboxInfo struct {
	Id           string            `json:"Id"`
	FunctionId   string            `json:"FunctionId"`
	Status       string            `json:"Status"`
	CreatedAt    string            `json:"CreatedAt"`
	ExpireAt     string            `json:"ExpireAt"`
	InstanceType string            `json:"InstanceType"`
	Metadata     map[string]string `json:"Metadata"`
}

type listSandboxesResult struct {
	Sandboxes []sandboxInfo `json:"Sandboxes"`
	Total     int           `json:"Total"`
}

// CreateSandbox 在函数下创建沙箱实例
func (p *Provider) CreateSandbox(ctx context.Context, functionID string, opts ...sandbox.CreateOption) (string, error) {
	const op = "volcengine.CreateSandbox"
	if err := sandbox.ValidateScopeID(op, functionID); err != nil {
		return "", err
	}
	options, err := sandbox.NewCreateOptions(op, opts...)
	if err != nil {
		return "", err
	}
	req := &createSandboxRequest{
		FunctionId: functionID,
		Timeout:    options.TimeoutMinutes,
		Metadata:   options.Metadata,
	}
	for key, value := range options.Envs {
		req.Envs = append(req.Envs, envItem{Key: key, Value: value})
	}
	sort.Slice(req.Envs, func(i, j int) bool { return req.Envs[i].Key < req.Envs[j].Key })

	var ret struct {
		SandboxId string `json:"SandboxId"`
	}
	if err = p.faas.call(ctx, "CreateSandbox", req, &ret); err != nil {
		return "", err
	}
	if ret.SandboxId == "" {
		return "", sandbox.Errorf(sandbox.KindUnknown, op, "response has no SandboxId")
	}
	return ret.SandboxId, nil
}

// ListSandboxes 分页列出函数下的全部沙箱，保持后端返回的顺序
func (p *Provider) ListSandboxes(ctx context.Context, functionID string) ([]sandbox.Descriptor, error) {
	const op = "volcengine.ListSandboxes"
	if err := sandbox.ValidateScopeID(op, functionID); err != nil {
		return nil, err
	}
	infos, err := p.listAll(ctx, functionID)
	if err != nil {
		return nil, err
	}

	descriptors := make([]sandbox.Descriptor, 0, len(infos))
	var domains []sandbox.Domain
	domainsLoaded := false
	for _, info := range infos {
		d, err := p.describe(op, functionID, info)
		if err != nil {
			return nil, err
		}
		if d.Status == sandbox.StatusRunning {
			if !domainsLoaded {
				if domains, err = p.functionDomains(ctx, functionID); err != nil {
					return nil, err
				}
				domainsLoaded = true
			}
			d.Endpoint = instanceEndpoint(domains, d.SandboxID)
		}
		d.Normalize()
		descriptors = append(descriptors, *d)
	}
	return descriptors, nil
}

func (p *Provider) listPage(ctx context.Context, functionID string, page, size int) (*listSandboxesResult, error) {
	var ret listSandboxesResult
	if err := p.faas.call(ctx, "ListSandboxes", &listSandboxesRequest{FunctionId: functionID, PageNumber: page, PageSize: size}, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

func (p *Provider) listAll(ctx context.Context, functionID string) ([]sandboxInfo, error) {
	first, err := p.listPage(ctx, functionID, 1, listPageSize)
	if err != nil {
		return nil, err
	}
	size := len(first.Sandboxes)
	if size == 0 || first.Total <= size {
		return first.Sandboxes, nil
	}

	pages := (first.Total + size - 1) / size
	results := make([][]sandboxInfo, pages)
	results[0] = first.Sandboxes
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(listConcurrency)
	for page := 2; page <= pages; page++ {
		page := page
		g.Go(func() error {
			ret, err := p.listPage(gctx, functionID, page, size)
			if err != nil {
				return err
			}
			results[page-1] = ret.Sandboxes
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		return nil, err
	}

	// 翻页期间列表可能发生变化，同一个沙箱只保留第一次出现
	seen := make(map[string]bool, first.Total)
	infos := make([]sandboxInfo, 0, first.Total)
	for _, page := range results {
		for _, info := range page {
			if seen[info.Id] {
				continue
			}
			seen[info.Id] = true
			infos = append(infos, info)
		}
	}
	return infos, nil
}

// GetSandbox 查询沙箱，Running 状态的沙箱带有数据面地址
func (p *Provider) GetSandbox(ctx context.Context, functionID, sandboxID string) (*sandbox.Descriptor, error) {
	const op = "volcengine.GetSandbox"
	if err := sandbox.ValidateScopeID(op, functionID); err != nil {
		return nil, err
	}
	if err := sandbox.ValidateSandboxID(op, sandboxID); err != nil {
		return nil, err
	}
	var ret struct {
		sandboxInfo
		Sandbox *sandboxInfo `json:"Sandbox"`
	}
	if err := p.faas.call(ctx, "DescribeSandbox", &sandboxRequest{FunctionId: functionID, SandboxId: sandboxID}, &ret); err != nil {
		return nil, err
	}
	info := ret.sandboxInfo
	if ret.Sandbox != nil {
		info = *ret.Sandbox
	}
	if info.Id == "" {
		info.Id = sandboxID
	}
	if info.FunctionId != "" && info.FunctionId != functionID {
		return nil, &sandbox.Error{Kind: sandbox.KindNotFound, Op: op, Message: "sandbox " + sandboxID + " does not belong to " + functionID, NoSideEffect: true}
	}

	d, err := p.describe(op, functionID, info)
	if err != nil {
		return nil, err
	}
	if d.Status == sandbox.StatusRunning {
		domains, err := p.functionDomains(ctx, functionID)
		if err != nil {
			return nil, err
		}
		d.Endpoint = instanceEndpoint(domains, d.SandboxID)
	}
	d.Normalize()
	return d, nil
}

// DeleteSandbox 终止沙箱。已经终止的沙箱，以及本进程终止过、已被后端回收的沙箱返回成功；
// 其余后端不认识的沙箱返回 KindNotFound
func (p *Provider) DeleteSandbox(ctx context.Context, functionID, sandboxID string) error {
	const op = "volcengine.DeleteSandbox"
	if err := sandbox.ValidateScopeID(op, functionID); err != nil {
		return err
	}
	if err := sandbox.ValidateSandboxID(op, sandboxID); err != nil {
		return err
	}
	err := p.faas.call(ctx, "KillSandbox", &sandboxRequest{FunctionId: functionID, SandboxId: sandboxID}, nil)
	var sdkErr *sandbox.Error
	switch {
	case err == nil:
	case errors.As(err, &sdkErr) && isTerminatedCode(sdkErr.Code):
	case sandbox.IsKind(err, sandbox.KindNotFound) && p.wasKilled(functionID, sandboxID):
		return nil
	default:
		return err
	}
	p.markKilled(functionID, sandboxID)
	return nil
}

func (p *Provider) markKilled(functionID, sandboxID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killed[functionID+"/"+sandboxID] = struct{}{}
}

func (p *Provider) wasKilled(functionID, sandboxID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.killed[functionID+"/"+sandboxID]
	return ok
}

func (p *Provider) describe(op, functionID string, info sandboxInfo) (*sandbox.Descriptor, error) {
	status, err := parseStatus(op, info.Status)
	if err != nil {
		return nil, err
	}
	if info.FunctionId == "" {
		info.FunctionId = functionID
	}
	d := &sandbox.Descriptor{
		SandboxID:  info.Id,
		FunctionID: info.FunctionId,
		Status:     status,
		CreatedAt:  parseTime(info.CreatedAt),
		Metadata:   info.Metadata,
	}
	if expiresAt := parseTime(info.ExpireAt); !expiresAt.IsZero() {
		d.ExpiresAt = &expiresAt
	}
	if info.InstanceType != "" {
		if d.Metadata == nil {
			d.Metadata = map[string]string{}
		}
		d.Metadata["instance_type"] = info.InstanceType
	}
	return d, nil
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"}

func parseTime(s string) time.Time {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
