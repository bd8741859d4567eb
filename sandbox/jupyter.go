package sandbox

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// Jupyter 通过 Jupyter 内核执行 Python 代码。
// 使用同一个会话 ID 的多次调用共享内核状态。
type Jupyter struct {
	session *Session
}

var _ Executor = (*Jupyter)(nil)

// ExecOption 代码执行选项。
type ExecOption func(*execOpts)

type execOpts struct {
	kernel    string
	sessionID string
	timeout   time.Duration
	stdin     string
	files     map[string]string
	execDir   string
}

// WithKernel 设置 Jupyter 内核名称，默认 python3。
func WithKernel(name string) ExecOption {
	return func(o *execOpts) { o.kernel = name }
}

// WithSessionID 复用指定会话，Jupyter 共享内核状态，Shell 共享工作目录和环境。
func WithSessionID(id string) ExecOption {
	return func(o *execOpts) { o.sessionID = id }
}

// WithExecTimeout 设置本次执行的超时时间，覆盖会话默认值。
func WithExecTimeout(d time.Duration) ExecOption {
	return func(o *execOpts) { o.timeout = d }
}

// WithStdin 设置 Node.js 脚本的标准输入。
func WithStdin(stdin string) ExecOption {
	return func(o *execOpts) { o.stdin = stdin }
}

// WithFiles 设置 Node.js 脚本执行前写入工作目录的文件。
func WithFiles(files map[string]string) ExecOption {
	return func(o *execOpts) { o.files = files }
}

// WithExecDir 设置 Shell 命令的工作目录。
func WithExecDir(dir string) ExecOption {
	return func(o *execOpts) { o.execDir = dir }
}

func applyExecOpts(opts []ExecOption) *execOpts {
	o := &execOpts{}
	for _, fn := range opts {
		fn(o)
	}
	return o
}

// timeoutSeconds 服务端执行超时，比客户端超时略短以便服务端先返回 timeout 状态
func timeoutSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	seconds := int(d / time.Second)
	if seconds > 1 {
		seconds--
	}
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

type jupyterExecuteRequest struct {
	Code       string `json:"code" validate:"required"`
	Timeout    int    `json:"timeout,omitempty" validate:"gte=0"`
	KernelName string `json:"kernel_name,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
}

func (j *Jupyter) Runtime() Runtime { return RuntimePython }

// Execute 执行 Python 代码并等待完成。
func (j *Jupyter) Execute(ctx context.Context, code string) (*ExecutionResult, error) {
	return j.Run(ctx, code)
}

// Run 执行 Python 代码并等待完成，状态为 error 时返回 KindRuntimeError。
func (j *Jupyter) Run(ctx context.Context, code string, opts ...ExecOption) (*ExecutionResult, error) {
	const op = "jupyter.execute"
	o := applyExecOpts(opts)
	timeout := o.timeout
	if timeout <= 0 {
		timeout = j.session.timeouts.Code
	}
	var result ExecutionResult
	err := j.session.invoke(ctx, call{
		op:      op,
		class:   routeCode,
		method:  http.MethodPost,
		path:    "/v1/jupyter/execute",
		timeout: timeout,
		body: &jupyterExecuteRequest{
			Code:       code,
			Timeout:    timeoutSeconds(timeout),
			KernelName: o.kernel,
			SessionID:  o.sessionID,
		},
	}, &result)
	if err != nil {
		return nil, err
	}
	result.Runtime = RuntimePython
	if result.SessionID == "" {
		result.SessionID = o.sessionID
	}
	return checkExecution(op, &result)
}

// KernelInfo 可用内核信息
type KernelInfo struct {
	DefaultKernel    string                 `json:"default_kernel"`
	AvailableKernels []string               `json:"available_kernels"`
	ActiveSessions   int                    `json:"active_sessions"`
	KernelDetails    map[string]interface{} `json:"kernel_details,omitempty"`
}

// Info 查询 Jupyter 内核信息。
func (j *Jupyter) Info(ctx context.Context) (*KernelInfo, error) {
	var info KernelInfo
	if err := j.session.invoke(ctx, call{op: "jupyter.info", class: routeInfo, method: http.MethodGet, path: "/v1/jupyter/info"}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// JupyterSession Jupyter 会话
type JupyterSession struct {
	SessionID  string `json:"session_id"`
	KernelName string `json:"kernel_name,omitempty"`
	LastUsed   string `json:"last_used,omitempty"`
}

// ListSessions 列出活跃的 Jupyter 会话。
func (j *Jupyter) ListSessions(ctx context.Context) ([]JupyterSession, error) {
	var ret struct {
		Sessions map[string]JupyterSession `json:"sessions"`
	}
	if err := j.session.invoke(ctx, call{op: "jupyter.sessions", class: routeInfo, method: http.MethodGet, path: "/v1/jupyter/sessions"}, &ret); err != nil {
		return nil, err
	}
	sessions := make([]JupyterSession, 0, len(ret.Sessions))
	for id, s := range ret.Sessions {
		if s.SessionID == "" {
			s.SessionID = id
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// DeleteSession 删除 Jupyter 会话并释放内核。
func (j *Jupyter) DeleteSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return &Error{Kind: KindUnknown, Op: "jupyter.delete_session", Message: "session id is required", NoSideEffect: true}
	}
	return j.session.invoke(ctx, call{
		op:     "jupyter.delete_session",
		class:  routeInfo,
		method: http.MethodDelete,
		path:   "/v1/jupyter/sessions/" + url.PathEscape(sessionID),
	}, nil)
}
