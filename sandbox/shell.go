package sandbox

import (
	"context"
	"net/http"
)

// Shell 执行 Shell 命令。
type Shell struct {
	session *Session
}

var _ Executor = (*Shell)(nil)

type shellExecRequest struct {
	Command string `json:"command" validate:"required"`
	ExecDir string `json:"exec_dir,omitempty"`
	Timeout int    `json:"timeout,omitempty" validate:"gte=0"`
	ID      string `json:"id,omitempty"`
}

type shellExecResult struct {
	SessionID string `json:"session_id"`
	Command   string `json:"command"`
	Status    string `json:"status"`
	Output    string `json:"output"`
	ExitCode  *int   `json:"exit_code"`
}

func (s *Shell) Runtime() Runtime { return RuntimeShell }

// Execute 执行命令并等待完成。
func (s *Shell) Execute(ctx context.Context, command string) (*ExecutionResult, error) {
	return s.Run(ctx, command)
}

// Run 执行命令并等待完成，退出码非零时返回 KindRuntimeError。
func (s *Shell) Run(ctx context.Context, command string, opts ...ExecOption) (*ExecutionResult, error) {
	const op = "shell.exec"
	o := applyExecOpts(opts)
	timeout := o.timeout
	if timeout <= 0 {
		timeout = s.session.timeouts.Code
	}
	var ret shellExecResult
	err := s.session.invoke(ctx, call{
		op:      op,
		class:   routeCode,
		method:  http.MethodPost,
		path:    "/v1/shell/exec",
		timeout: timeout,
		body: &shellExecRequest{
			Command: command,
			ExecDir: o.execDir,
			Timeout: timeoutSeconds(timeout),
			ID:      o.sessionID,
		},
	}, &ret)
	if err != nil {
		return nil, err
	}
	result := &ExecutionResult{
		Runtime:   RuntimeShell,
		Status:    shellStatus(ret.Status),
		SessionID: ret.SessionID,
		ExitCode:  ret.ExitCode,
	}
	if ret.Output != "" {
		result.Outputs = []Output{{Type: OutputStream, Name: "stdout", Text: ret.Output}}
	}
	return checkExecution(op, result)
}

func shellStatus(status string) string {
	switch status {
	case "", "completed", "success", "ok":
		return ExecutionStatusOK
	case "timeout", "timed_out", "no_change_timeout", "hard_timeout":
		return ExecutionStatusTimeout
	case "error", "failed":
		return ExecutionStatusError
	default:
		return status
	}
}
