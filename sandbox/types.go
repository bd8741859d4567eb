package sandbox

import (
	"fmt"
	"strings"
	"time"
)

// Status 沙箱状态
type Status int

const (
	// StatusProvisioning 创建中，尚不可访问
	StatusProvisioning Status = iota
	// StatusRunning 运行中，数据面可访问
	StatusRunning
	// StatusStopping 正在停止
	StatusStopping
	// StatusTerminated 已终止
	StatusTerminated
	// StatusFailed 创建或运行失败
	StatusFailed
)

var statusNames = [...]string{"provisioning", "running", "stopping", "terminated", "failed"}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// IsFinal 终止和失败状态不会再发生变化
func (s Status) IsFinal() bool {
	return s == StatusTerminated || s == StatusFailed
}

// ParseStatus 解析 String 返回的状态名称
func ParseStatus(name string) (Status, error) {
	for i, n := range statusNames {
		if strings.EqualFold(n, name) {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("unknown sandbox status %q", name)
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// DomainTypePublic 公网域名
const DomainTypePublic = "public"

// Domain 后端公布的数据面域名
type Domain struct {
	URL  string `json:"url"`
	Type string `json:"type,omitempty"`
}

// Endpoint 数据面访问地址
type Endpoint struct {
	// BaseURL 会话使用的地址，可能带有查询参数（如 faasInstanceName）
	BaseURL string   `json:"base_url"`
	Domains []Domain `json:"domains,omitempty"`
	// CDPURL 浏览器 CDP 地址（如果后端直接提供）
	CDPURL string `json:"cdp_url,omitempty"`
}

// Descriptor 沙箱描述
type Descriptor struct {
	SandboxID  string            `json:"sandbox_id"`
	FunctionID string            `json:"function_id"`
	Status     Status            `json:"status"`
	Endpoint   *Endpoint         `json:"endpoint,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	ExpiresAt  *time.Time        `json:"expires_at,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Validate 校验描述的一致性：Endpoint 存在当且仅当状态为 Running
func (d *Descriptor) Validate() error {
	if d == nil {
		return Errorf(KindUnknown, "descriptor.validate", "nil descriptor")
	}
	if d.SandboxID == "" {
		return Errorf(KindUnknown, "descriptor.validate", "empty sandbox id")
	}
	if d.Status == StatusRunning {
		if d.Endpoint == nil || d.Endpoint.BaseURL == "" {
			return Errorf(KindUnknown, "descriptor.validate", "running sandbox %s has no endpoint", d.SandboxID)
		}
	} else if d.Endpoint != nil {
		return Errorf(KindUnknown, "descriptor.validate", "%s sandbox %s must not carry an endpoint", d.Status, d.SandboxID)
	}
	return nil
}

// Normalize 使描述满足 Validate：非 Running 状态丢弃 Endpoint，
// Running 但没有可用地址的沙箱视为仍在创建中
func (d *Descriptor) Normalize() {
	if d.Status != StatusRunning {
		d.Endpoint = nil
		return
	}
	if d.Endpoint == nil || d.Endpoint.BaseURL == "" {
		d.Status = StatusProvisioning
		d.Endpoint = nil
	}
}

// ValidateScopeID 校验函数 / 模板 ID
func ValidateScopeID(op, functionID string) error {
	if strings.TrimSpace(functionID) == "" {
		return &Error{Kind: KindInvalidScope, Op: op, Message: "function id is required", NoSideEffect: true}
	}
	return nil
}

// ValidateSandboxID 校验沙箱 ID
func ValidateSandboxID(op, sandboxID string) error {
	if strings.TrimSpace(sandboxID) == "" {
		return &Error{Kind: KindNotFound, Op: op, Message: "sandbox id is required", NoSideEffect: true}
	}
	return nil
}
