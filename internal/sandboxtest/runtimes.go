package sandboxtest

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// 测试用的解释器只理解很小的语法子集：
//
//	Python:  name = <literal>、print(<expr>)、raise Name("msg")、time.sleep(n)、裸表达式
//	Node.js: console.log(<expr>)、throw new Error("msg")、process.exit(n)
//	Shell:   echo、pwd、cat、exit n、sleep n
//
// <expr> 为字符串字面量、整数、变量名，或用 + 连接的整数 / 变量。

type kernel struct {
	name           string
	vars           map[string]string
	executionCount int
	lastUsed       time.Time
}

var (
	assignPattern = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*=\s*(.+)$`)
	callPattern   = regexp.MustCompile(`^([A-Za-z_.]+)\((.*)\)$`)
	raisePattern  = regexp.MustCompile(`^raise\s+([A-Za-z_]+)\((.*)\)$`)
	throwPattern  = regexp.MustCompile(`^throw\s+new\s+([A-Za-z_]+)\((.*)\)`)
)

type output map[string]interface{}

func stream(name, text string) output {
	return output{"output_type": "stream", "name": name, "text": text}
}

func errorOutput(name, value string) output {
	return output{
		"output_type": "error",
		"ename":       name,
		"evalue":      value,
		"traceback":   []string{"Traceback (most recent call last):", name + ": " + value},
	}
}

// eval 计算表达式，失败时返回 NameError 风格的错误
func eval(expr string, vars map[string]string) (string, error) {
	expr = strings.TrimSpace(expr)
	if unquoted, err := strconv.Unquote(expr); err == nil {
		return unquoted, nil
	}
	if len(expr) >= 2 && expr[0] == '\'' && expr[len(expr)-1] == '\'' {
		return expr[1 : len(expr)-1], nil
	}
	if strings.Contains(expr, "+") {
		sum := 0
		for _, part := range strings.Split(expr, "+") {
			v, err := eval(part, vars)
			if err != nil {
				return "", err
			}
			n, err := strconv.Atoi(v)
			if err != nil {
				return "", fmt.Errorf("TypeError: unsupported operand %q", part)
			}
			sum += n
		}
		return strconv.Itoa(sum), nil
	}
	if _, err := strconv.Atoi(expr); err == nil {
		return expr, nil
	}
	if v, ok := vars[expr]; ok {
		return v, nil
	}
	return "", fmt.Errorf("NameError: name '%s' is not defined", expr)
}

func splitError(err error) (string, string) {
	name, value, ok := strings.Cut(err.Error(), ": ")
	if !ok {
		return "Error", err.Error()
	}
	return name, value
}

func sleepFor(ctx context.Context, seconds float64, limit int) bool {
	d := time.Duration(seconds * float64(time.Second))
	if limit > 0 && d > time.Duration(limit)*time.Second {
		select {
		case <-ctx.Done():
		case <-time.After(time.Duration(limit) * time.Second):
		}
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (s *Server) handleJupyterExecute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code       string `json:"code"`
		Timeout    int    `json:"timeout"`
		KernelName string `json:"kernel_name"`
		SessionID  string `json:"session_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.KernelName == "" {
		req.KernelName = "python3"
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	s.mu.Lock()
	k, ok := s.kernels[req.SessionID]
	if !ok {
		k = &kernel{name: req.KernelName, vars: make(map[string]string)}
		s.kernels[req.SessionID] = k
	}
	k.executionCount++
	k.lastUsed = time.Now()
	count := k.executionCount
	vars := make(map[string]string, len(k.vars))
	for name, v := range k.vars {
		vars[name] = v
	}
	s.mu.Unlock()

	status := "ok"
	outputs := []output{}
	lines := strings.Split(req.Code, "\n")
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "import ") {
			continue
		}
		if m := raisePattern.FindStringSubmatch(line); m != nil {
			msg, _ := eval(m[2], vars)
			outputs = append(outputs, errorOutput(m[1], msg))
			status = "error"
			break
		}
		if m := assignPattern.FindStringSubmatch(line); m != nil && !strings.Contains(m[1], "(") {
			v, err := eval(m[2], vars)
			if err != nil {
				outputs = append(outputs, errorOutput(splitError(err)))
				status = "error"
				break
			}
			vars[m[1]] = v
			continue
		}
		if m := callPattern.FindStringSubmatch(line); m != nil {
			switch m[1] {
			case "print":
				v, err := eval(m[2], vars)
				if err != nil {
					outputs = append(outputs, errorOutput(splitError(err)))
					status = "error"
				} else {
					outputs = append(outputs, stream("stdout", v+"\n"))
				}
			case "time.sleep":
				seconds, _ := strconv.ParseFloat(m[2], 64)
				if !sleepFor(r.Context(), seconds, req.Timeout) {
					status = "timeout"
				}
			default:
				outputs = append(outputs, errorOutput("NameError", fmt.Sprintf("name '%s' is not defined", m[1])))
				status = "error"
			}
			if status != "ok" {
				break
			}
			continue
		}
		v, err := eval(line, vars)
		if err != nil {
			outputs = append(outputs, errorOutput(splitError(err)))
			status = "error"
			break
		}
		if i == len(lines)-1 || strings.TrimSpace(strings.Join(lines[i+1:], "")) == "" {
			outputs = append(outputs, output{
				"output_type":     "execute_result",
				"data":            map[string]interface{}{"text/plain": v},
				"execution_count": count,
			})
		}
	}

	s.mu.Lock()
	if status != "error" {
		k.vars = vars
	}
	s.mu.Unlock()

	writeData(w, map[string]interface{}{
		"kernel_name":     req.KernelName,
		"session_id":      req.SessionID,
		"status":          status,
		"execution_count": count,
		"outputs":         outputs,
		"code":            req.Code,
	})
}

func (s *Server) handleJupyterInfo(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	active := len(s.kernels)
	s.mu.Unlock()
	writeData(w, map[string]interface{}{
		"default_kernel":    "python3",
		"available_kernels": []string{"python3"},
		"active_sessions":   active,
	})
}

func (s *Server) handleJupyterSessions(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	sessions := make(map[string]interface{}, len(s.kernels))
	for id, k := range s.kernels {
		sessions[id] = map[string]interface{}{"kernel_name": k.name, "last_used": k.lastUsed.Format(time.RFC3339)}
	}
	s.mu.Unlock()
	writeData(w, map[string]interface{}{"sessions": sessions})
}

func (s *Server) handleJupyterDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	_, ok := s.kernels[id]
	delete(s.kernels, id)
	s.mu.Unlock()
	if !ok {
		writeFailure(w, http.StatusNotFound, "session not found: "+id)
		return
	}
	writeData(w, nil)
}

func (s *Server) handleNodeJSExecute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code    string            `json:"code"`
		Timeout int               `json:"timeout"`
		Stdin   string            `json:"stdin"`
		Files   map[string]string `json:"files"`
	}
	if !decode(w, r, &req) {
		return
	}
	vars := map[string]string{"stdin": req.Stdin}
	status := "ok"
	exitCode := 0
	var stdout, stderr strings.Builder
	for _, line := range strings.Split(req.Code, "\n") {
		line = strings.TrimSuffix(strings.TrimSpace(line), ";")
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}
		if m := throwPattern.FindStringSubmatch(line); m != nil {
			msg, _ := eval(m[2], vars)
			stderr.WriteString(m[1] + ": " + msg + "\n")
			status, exitCode = "error", 1
			break
		}
		for _, prefix := range []string{"const ", "let ", "var "} {
			line = strings.TrimPrefix(line, prefix)
		}
		if m := assignPattern.FindStringSubmatch(line); m != nil {
			v, err := eval(m[2], vars)
			if err != nil {
				stderr.WriteString("ReferenceError: " + err.Error() + "\n")
				status, exitCode = "error", 1
				break
			}
			vars[m[1]] = v
			continue
		}
		m := callPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		switch m[1] {
		case "console.log":
			v, err := eval(m[2], vars)
			if err != nil {
				stderr.WriteString("ReferenceError: " + err.Error() + "\n")
				status, exitCode = "error", 1
			} else {
				stdout.WriteString(v + "\n")
			}
		case "console.error":
			v, _ := eval(m[2], vars)
			stderr.WriteString(v + "\n")
		case "process.exit":
			exitCode, _ = strconv.Atoi(m[2])
			if exitCode != 0 {
				status = "error"
			}
		}
		if status != "ok" || m[1] == "process.exit" {
			break
		}
	}

	outputs := []output{}
	if stdout.Len() > 0 {
		outputs = append(outputs, stream("stdout", stdout.String()))
	}
	if stderr.Len() > 0 {
		outputs = append(outputs, stream("stderr", stderr.String()))
	}
	if status == "error" && stderr.Len() > 0 {
		name, value := splitError(fmt.Errorf("%s", strings.TrimSpace(stderr.String())))
		outputs = append(outputs, errorOutput(name, value))
	}
	writeData(w, map[string]interface{}{
		"language":  "javascript",
		"status":    status,
		"outputs":   outputs,
		"exit_code": exitCode,
	})
}

func (s *Server) handleNodeJSInfo(w http.ResponseWriter, r *http.Request) {
	writeData(w, map[string]interface{}{
		"node_version":        "v20.11.0",
		"npm_version":         "10.2.4",
		"supported_languages": []string{"javascript"},
	})
}

func (s *Server) handleShellExec(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Command string `json:"command"`
		ExecDir string `json:"exec_dir"`
		Timeout int    `json:"timeout"`
		ID      string `json:"id"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	dir := req.ExecDir
	if dir == "" {
		dir = HomeDir
	}

	status := "completed"
	exitCode := 0
	var out strings.Builder
	for _, command := range strings.Split(req.Command, "&&") {
		fields := strings.Fields(command)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "echo":
			out.WriteString(strings.Trim(strings.Join(fields[1:], " "), `"'`) + "\n")
		case "pwd":
			out.WriteString(dir + "\n")
		case "cat":
			for _, name := range fields[1:] {
				content, ok := s.File(name)
				if !ok {
					out.WriteString("cat: " + name + ": No such file or directory\n")
					exitCode = 1
					continue
				}
				out.Write(content)
			}
		case "exit":
			if len(fields) > 1 {
				exitCode, _ = strconv.Atoi(fields[1])
			}
		case "sleep":
			seconds := 0.0
			if len(fields) > 1 {
				seconds, _ = strconv.ParseFloat(fields[1], 64)
			}
			if !sleepFor(r.Context(), seconds, req.Timeout) {
				status = "timeout"
			}
		default:
			out.WriteString("sh: " + fields[0] + ": command not found\n")
			exitCode = 127
		}
		if exitCode != 0 || status != "completed" {
			break
		}
	}
	writeData(w, map[string]interface{}{
		"session_id": req.ID,
		"command":    req.Command,
		"status":     status,
		"output":     out.String(),
		"exit_code":  exitCode,
	})
}
