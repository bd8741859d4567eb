package sandbox

import (
	"context"
)

// DefaultTimeoutMinutes 沙箱默认存活时长（分钟）
const DefaultTimeoutMinutes = 30

// Provider 沙箱生命周期后端。实现在构造完成后只持有只读配置，可以被并发调用。
//
// 所有方法在 functionID（函数 / 模板）作用域内工作；失败时返回 *Error。
type Provider interface {
	// CreateSandbox 创建沙箱并返回新的沙箱 ID，返回时沙箱不一定处于 Running 状态
	CreateSandbox(ctx context.Context, functionID string, opts ...CreateOption) (string, error)
	// ListSandboxes 按后端顺序列出作用域内的沙箱，没有沙箱时返回空切片
	ListSandboxes(ctx context.Context, functionID string) ([]Descriptor, error)
	// GetSandbox 获取单个沙箱，沙箱不存在时返回 KindNotFound
	GetSandbox(ctx context.Context, functionID, sandboxID string) (*Descriptor, error)
	// DeleteSandbox 删除沙箱。重复删除返回成功，后端从未知晓的 ID 返回 KindNotFound
	DeleteSandbox(ctx context.Context, functionID, sandboxID string) error
}

// CreateOption 创建沙箱选项
type CreateOption func(*CreateOptions)

// CreateOptions 创建沙箱参数，供 Provider 实现读取
type CreateOptions struct {
	// TimeoutMinutes 沙箱存活时长（分钟）
	TimeoutMinutes int `validate:"gte=1,lte=1440"`
	Metadata       map[string]string
	Envs           map[string]string `validate:"dive,keys,required,endkeys,omitempty"`
}

// WithTimeout 设置沙箱存活时长（分钟），默认 DefaultTimeoutMinutes
func WithTimeout(minutes int) CreateOption {
	return func(o *CreateOptions) { o.TimeoutMinutes = minutes }
}

// WithMetadata 设置沙箱元数据
func WithMetadata(metadata map[string]string) CreateOption {
	return func(o *CreateOptions) { o.Metadata = metadata }
}

// WithEnvs 设置沙箱环境变量
func WithEnvs(envs map[string]string) CreateOption {
	return func(o *CreateOptions) { o.Envs = envs }
}

// NewCreateOptions 应用选项并校验
func NewCreateOptions(op string, opts ...CreateOption) (*CreateOptions, error) {
	o := &CreateOptions{TimeoutMinutes: DefaultTimeoutMinutes}
	for _, fn := range opts {
		fn(o)
	}
	if err := validateStruct(op, KindInvalidScope, o); err != nil {
		return nil, err
	}
	return o, nil
}
