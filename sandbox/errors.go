package sandbox

import (
	"errors"
	"fmt"
	"strings"
)

// Kind 错误类别。SDK 返回的所有错误都归入以下类别之一。
type Kind int

const (
	// KindUnknown 无法归类的错误
	KindUnknown Kind = iota
	// KindProviderUnavailable 控制面不可达、鉴权失败或暂时不可用
	KindProviderUnavailable
	// KindQuotaExceeded 后端资源配额不足
	KindQuotaExceeded
	// KindInvalidScope 作用域（函数 / 模板）不存在或不可用
	KindInvalidScope
	// KindNotFound 沙箱不存在
	KindNotFound
	// KindNotRunning 沙箱未处于运行状态，无法建立数据面会话
	KindNotRunning
	// KindPathNotFound 沙箱内路径不存在
	KindPathNotFound
	// KindPermissionDenied 沙箱内操作无权限
	KindPermissionDenied
	// KindPayloadTooLarge 请求或文件内容过大
	KindPayloadTooLarge
	// KindExecutionTimeout 代码执行超时
	KindExecutionTimeout
	// KindRuntimeError 代码执行失败（异常、非零退出码）
	KindRuntimeError
	// KindSandboxUnreachable 数据面地址不可达
	KindSandboxUnreachable
	// KindTimeout 非代码执行类调用超时
	KindTimeout
)

var kindNames = map[Kind]string{
	KindUnknown:             "unknown",
	KindProviderUnavailable: "provider_unavailable",
	KindQuotaExceeded:       "quota_exceeded",
	KindInvalidScope:        "invalid_scope",
	KindNotFound:            "not_found",
	KindNotRunning:          "not_running",
	KindPathNotFound:        "path_not_found",
	KindPermissionDenied:    "permission_denied",
	KindPayloadTooLarge:     "payload_too_large",
	KindExecutionTimeout:    "execution_timeout",
	KindRuntimeError:        "runtime_error",
	KindSandboxUnreachable:  "sandbox_unreachable",
	KindTimeout:             "timeout",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// 每个类别对应的哨兵错误，用于 errors.Is 判断：
//
//	if errors.Is(err, sandbox.ErrNotFound) { ... }
var (
	ErrUnknown             = &Error{Kind: KindUnknown}
	ErrProviderUnavailable = &Error{Kind: KindProviderUnavailable}
	ErrQuotaExceeded       = &Error{Kind: KindQuotaExceeded}
	ErrInvalidScope        = &Error{Kind: KindInvalidScope}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrNotRunning          = &Error{Kind: KindNotRunning}
	ErrPathNotFound        = &Error{Kind: KindPathNotFound}
	ErrPermissionDenied    = &Error{Kind: KindPermissionDenied}
	ErrPayloadTooLarge     = &Error{Kind: KindPayloadTooLarge}
	ErrExecutionTimeout    = &Error{Kind: KindExecutionTimeout}
	ErrRuntimeError        = &Error{Kind: KindRuntimeError}
	ErrSandboxUnreachable  = &Error{Kind: KindSandboxUnreachable}
	ErrTimeout             = &Error{Kind: KindTimeout}
)

// Error SDK 统一的错误类型。后端原始错误只会出现在 Err 中。
type Error struct {
	Kind Kind
	// Op 失败的操作，如 volcengine.CreateSandbox、file.write
	Op      string
	Message string

	// StatusCode 后端返回的 HTTP 状态码（如果有）。
	StatusCode int
	// Code 后端返回的错误码（如果有）。
	Code string
	// RequestID 后端返回的请求 ID（如果有）。
	RequestID string

	// NoSideEffect 为 true 表示已知本次失败没有产生远端副作用：
	// 请求未到达服务端，或服务端在执行前就拒绝了请求。
	NoSideEffect bool

	Err error
}

// Errorf 创建一个指定类别的错误
func Errorf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("sandbox: ")
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	var details []string
	if e.StatusCode != 0 {
		details = append(details, fmt.Sprintf("status %d", e.StatusCode))
	}
	if e.Code != "" {
		details = append(details, "code "+e.Code)
	}
	if e.RequestID != "" {
		details = append(details, "request id "+e.RequestID)
	}
	if len(details) > 0 {
		b.WriteString(" (" + strings.Join(details, ", ") + ")")
	}
	if e.Err != nil && e.Message == "" {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 按类别匹配，使哨兵错误可以用于 errors.Is
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf 返回错误的类别，非 *Error 返回 KindUnknown
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind 判断错误是否属于指定类别
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// SafeToRetry 判断失败的调用是否已知没有产生远端副作用
func SafeToRetry(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.NoSideEffect
}
