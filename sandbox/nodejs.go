package sandbox

import (
	"context"
	"net/http"
)

// NodeJS 执行 Node.js 脚本，每次调用相互独立。
type NodeJS struct {
	session *Session
}

var _ Executor = (*NodeJS)(nil)

type nodejsExecuteRequest struct {
	Code    string            `json:"code" validate:"required"`
	Timeout int               `json:"timeout,omitempty" validate:"gte=0"`
	Stdin   string            `json:"stdin,omitempty"`
	Files   map[string]string `json:"files,omitempty" validate:"dive,keys,required,endkeys,omitempty"`
}

func (n *NodeJS) Runtime() Runtime { return RuntimeNodeJS }

// Execute 执行 Node.js 代码并等待完成。
func (n *NodeJS) Execute(ctx context.Context, code string) (*ExecutionResult, error) {
	return n.Run(ctx, code)
}

// Run 执行 Node.js 代码并等待完成，状态为 error 或退出码非零时返回 KindRuntimeError。
func (n *NodeJS) Run(ctx context.Context, code string, opts ...ExecOption) (*ExecutionResult, error) {
	const op = "nodejs.execute"
	o := applyExecOpts(opts)
	timeout := o.timeout
	if timeout <= 0 {
		timeout = n.session.timeouts.Code
	}
	var result ExecutionResult
	err := n.session.invoke(ctx, call{
		op:      op,
		class:   routeCode,
		method:  http.MethodPost,
		path:    "/v1/nodejs/execute",
		timeout: timeout,
		body: &nodejsExecuteRequest{
			Code:    code,
			Timeout: timeoutSeconds(timeout),
			Stdin:   o.stdin,
			Files:   o.files,
		},
	}, &result)
	if err != nil {
		return nil, err
	}
	result.Runtime = RuntimeNodeJS
	return checkExecution(op, &result)
}

// RuntimeInfo Node.js 运行时信息
type RuntimeInfo struct {
	NodeVersion string   `json:"node_version"`
	NpmVersion  string   `json:"npm_version"`
	Languages   []string `json:"supported_languages,omitempty"`
	Runtime     string   `json:"runtime_directory,omitempty"`
}

// Info 查询 Node.js 运行时信息。
func (n *NodeJS) Info(ctx context.Context) (*RuntimeInfo, error) {
	var info RuntimeInfo
	if err := n.session.invoke(ctx, call{op: "nodejs.info", class: routeInfo, method: http.MethodGet, path: "/v1/nodejs/info"}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}
