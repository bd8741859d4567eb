package sandbox

import (
	"context"
	"fmt"
	"strings"
)

// Runtime 代码执行运行时
type Runtime int

const (
	// RuntimePython Python，Jupyter 内核语义：同一会话内的多次调用共享内核状态
	RuntimePython Runtime = iota + 1
	// RuntimeNodeJS Node.js，每次调用是独立的脚本
	RuntimeNodeJS
	// RuntimeShell Shell 命令，每次调用独立执行，可选地复用 shell 会话
	RuntimeShell
)

func (r Runtime) String() string {
	switch r {
	case RuntimePython:
		return "python"
	case RuntimeNodeJS:
		return "nodejs"
	case RuntimeShell:
		return "shell"
	default:
		return fmt.Sprintf("runtime(%d)", int(r))
	}
}

// ParseRuntime 根据名称选择运行时
func ParseRuntime(name string) (Runtime, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "python", "python3", "jupyter", "ipython":
		return RuntimePython, nil
	case "nodejs", "node", "javascript", "js":
		return RuntimeNodeJS, nil
	case "shell", "bash", "sh":
		return RuntimeShell, nil
	default:
		return 0, &Error{Kind: KindUnknown, Op: "runtime.parse", Message: fmt.Sprintf("unknown runtime %q", name), NoSideEffect: true}
	}
}

// Executor 在沙箱中执行代码
type Executor interface {
	Runtime() Runtime
	Execute(ctx context.Context, code string) (*ExecutionResult, error)
}

// 执行状态
const (
	ExecutionStatusOK      = "ok"
	ExecutionStatusError   = "error"
	ExecutionStatusTimeout = "timeout"
)

// 输出类型
const (
	OutputStream        = "stream"
	OutputExecuteResult = "execute_result"
	OutputDisplayData   = "display_data"
	OutputError         = "error"
)

// Output 一次执行中按顺序产生的输出
type Output struct {
	Type string `json:"output_type"`
	// Name stream 输出的流名称（stdout、stderr）
	Name string                 `json:"name,omitempty"`
	Text string                 `json:"text,omitempty"`
	Data map[string]interface{} `json:"data,omitempty"`

	ErrorName  string   `json:"ename,omitempty"`
	ErrorValue string   `json:"evalue,omitempty"`
	Traceback  []string `json:"traceback,omitempty"`

	ExecutionCount *int `json:"execution_count,omitempty"`
}

// ExecutionResult 一次代码执行的结果
type ExecutionResult struct {
	Runtime        Runtime  `json:"-"`
	Status         string   `json:"status"`
	SessionID      string   `json:"session_id,omitempty"`
	ExecutionCount *int     `json:"execution_count,omitempty"`
	Outputs        []Output `json:"outputs"`
	ExitCode       *int     `json:"exit_code,omitempty"`
}

// Text 拼接 stream 输出以及结果中的 text/plain 内容
func (r *ExecutionResult) Text() string {
	var b strings.Builder
	for _, o := range r.Outputs {
		switch o.Type {
		case OutputStream:
			b.WriteString(o.Text)
		case OutputExecuteResult, OutputDisplayData:
			if text, ok := o.Data["text/plain"].(string); ok {
				b.WriteString(text)
				if !strings.HasSuffix(text, "\n") {
					b.WriteString("\n")
				}
			} else if o.Text != "" {
				b.WriteString(o.Text)
			}
		}
	}
	return b.String()
}

// Stdout 拼接 stdout 流输出
func (r *ExecutionResult) Stdout() string {
	return r.stream("stdout")
}

// Stderr 拼接 stderr 流输出
func (r *ExecutionResult) Stderr() string {
	return r.stream("stderr")
}

func (r *ExecutionResult) stream(name string) string {
	var b strings.Builder
	for _, o := range r.Outputs {
		if o.Type == OutputStream && o.Name == name {
			b.WriteString(o.Text)
		}
	}
	return b.String()
}

// ExecutionError 携带失败的执行结果，可通过 errors.As 从 KindRuntimeError /
// KindExecutionTimeout 错误中取出，包含异常前的输出和完整 traceback。
type ExecutionError struct {
	Result *ExecutionResult
}

func (e *ExecutionError) Error() string {
	return "execution " + string(e.Result.Status) + ": " + executionErrorMessage(e.Result)
}

// Traceback 返回第一个 error 输出的 traceback
func (e *ExecutionError) Traceback() []string {
	for _, o := range e.Result.Outputs {
		if o.Type == OutputError {
			return o.Traceback
		}
	}
	return nil
}

// checkExecution 将失败的执行结果转换为错误，成功时原样返回
func checkExecution(op string, result *ExecutionResult) (*ExecutionResult, error) {
	switch result.Status {
	case ExecutionStatusTimeout:
		return nil, &Error{Kind: KindExecutionTimeout, Op: op, Message: "execution timed out", Err: &ExecutionError{Result: result}}
	case ExecutionStatusError:
		return nil, &Error{Kind: KindRuntimeError, Op: op, Message: executionErrorMessage(result), Err: &ExecutionError{Result: result}}
	}
	if result.ExitCode != nil && *result.ExitCode != 0 {
		return nil, &Error{Kind: KindRuntimeError, Op: op, Message: executionErrorMessage(result), Err: &ExecutionError{Result: result}}
	}
	return result, nil
}

func executionErrorMessage(result *ExecutionResult) string {
	for _, o := range result.Outputs {
		if o.Type == OutputError {
			if o.ErrorValue != "" {
				return o.ErrorName + ": " + o.ErrorValue
			}
			return o.ErrorName
		}
	}
	if stderr := strings.TrimSpace(result.Stderr()); stderr != "" {
		return stderr
	}
	message := "execution failed"
	if result.ExitCode != nil {
		message = fmt.Sprintf("exit code %d", *result.ExitCode)
	}
	if stdout := strings.TrimSpace(result.Stdout()); stdout != "" {
		if len(stdout) > 512 {
			stdout = stdout[len(stdout)-512:]
		}
		message += ": " + stdout
	}
	return message
}
