// Package sandboxtest 提供测试用的内存数据面服务和内存 Provider。
package sandboxtest

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/gorilla/mux"
)

// HomeDir 数据面报告的家目录
const HomeDir = "/home/gem"

// Server 内存中的沙箱数据面，实现文件、Jupyter、Node.js、Shell、浏览器接口
type Server struct {
	*httptest.Server
	Router *mux.Router

	mu          sync.Mutex
	token       string
	maxFileSize int
	files    map[string][]byte
	dirs     map[string]bool
	kernels  map[string]*kernel
	faults   map[string]int
	requests []*http.Request
}

// NewServer 启动数据面服务，调用方负责 Close
func NewServer() *Server {
	s := &Server{
		Router:      mux.NewRouter(),
		maxFileSize: 1 << 20,
		files:       make(map[string][]byte),
		dirs:        map[string]bool{"/": true, "/tmp": true, "/home": true, HomeDir: true},
		kernels:     make(map[string]*kernel),
		faults:      make(map[string]int),
	}
	s.Router.Use(s.record, s.authenticate, s.injectFaults)

	v1 := s.Router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/sandbox", s.handleInfo).Methods(http.MethodGet)
	v1.HandleFunc("/file/write", s.handleWrite).Methods(http.MethodPost)
	v1.HandleFunc("/file/read", s.handleRead).Methods(http.MethodPost)
	v1.HandleFunc("/file/list", s.handleList).Methods(http.MethodPost)
	v1.HandleFunc("/file/download", s.handleDownload).Methods(http.MethodGet)
	v1.HandleFunc("/jupyter/execute", s.handleJupyterExecute).Methods(http.MethodPost)
	v1.HandleFunc("/jupyter/info", s.handleJupyterInfo).Methods(http.MethodGet)
	v1.HandleFunc("/jupyter/sessions", s.handleJupyterSessions).Methods(http.MethodGet)
	v1.HandleFunc("/jupyter/sessions/{id}", s.handleJupyterDeleteSession).Methods(http.MethodDelete)
	v1.HandleFunc("/nodejs/execute", s.handleNodeJSExecute).Methods(http.MethodPost)
	v1.HandleFunc("/nodejs/info", s.handleNodeJSInfo).Methods(http.MethodGet)
	v1.HandleFunc("/shell/exec", s.handleShellExec).Methods(http.MethodPost)
	v1.HandleFunc("/browser/info", s.handleBrowserInfo).Methods(http.MethodGet)

	s.Server = httptest.NewServer(s.Router)
	return s
}

// SetToken 设置后要求请求携带 Authorization: Bearer {token}
func (s *Server) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// SetMaxFileSize 设置单个文件的最大字节数，超过时返回 413
func (s *Server) SetMaxFileSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxFileSize = n
}

// Fail 使 path 对应的接口总是返回 status
func (s *Server) Fail(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[path] = status
}

// Recover 取消 Fail 设置的故障
func (s *Server) Recover(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.faults, path)
}

// Requests 返回已收到的请求
func (s *Server) Requests() []*http.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*http.Request(nil), s.requests...)
}

// PutFile 直接写入文件
func (s *Server) PutFile(name string, content []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putFileLocked(path.Clean(name), content)
}

// File 直接读取文件
func (s *Server) File(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.files[path.Clean(name)]
	return content, ok
}

func (s *Server) putFileLocked(name string, content []byte) {
	s.files[name] = content
	for dir := path.Dir(name); ; dir = path.Dir(dir) {
		s.dirs[dir] = true
		if dir == "/" {
			break
		}
	}
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.Clone(r.Context()))
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		token := s.token
		s.mu.Unlock()
		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			writeFailure(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) injectFaults(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		status, ok := s.faults[r.URL.Path]
		s.mu.Unlock()
		if ok {
			writeFailure(w, status, http.StatusText(status))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeData(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": "ok",
		"data":    data,
	})
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"message": message,
		"data":    nil,
	})
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeFailure(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeData(w, map[string]interface{}{"home_dir": HomeDir, "version": "1.0.0-test"})
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		File     string `json:"file"`
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
		Append   bool   `json:"append"`
		Sudo     bool   `json:"sudo"`
	}
	if !decode(w, r, &req) {
		return
	}
	if !path.IsAbs(req.File) {
		writeFailure(w, http.StatusBadRequest, "path must be absolute: "+req.File)
		return
	}
	if strings.HasPrefix(req.File, "/root/") && !req.Sudo {
		writeFailure(w, http.StatusForbidden, "Permission denied: "+req.File)
		return
	}
	content := []byte(req.Content)
	if req.Encoding == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(req.Content)
		if err != nil {
			writeFailure(w, http.StatusBadRequest, "invalid base64 content")
			return
		}
		content = decoded
	}

	name := path.Clean(req.File)
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.Append {
		content = append(append([]byte(nil), s.files[name]...), content...)
	}
	if len(content) > s.maxFileSize {
		writeFailure(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}
	s.putFileLocked(name, content)
	writeData(w, map[string]interface{}{"file": name, "bytes_written": len(content)})
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	var req struct {
		File      string `json:"file"`
		StartLine *int   `json:"start_line"`
		EndLine   *int   `json:"end_line"`
	}
	if !decode(w, r, &req) {
		return
	}
	content, ok := s.File(req.File)
	if !ok {
		writeFailure(w, http.StatusNotFound, "File not found: "+req.File)
		return
	}
	if !utf8.Valid(content) {
		writeData(w, map[string]interface{}{
			"file":     path.Clean(req.File),
			"content":  base64.StdEncoding.EncodeToString(content),
			"encoding": "base64",
		})
		return
	}
	text := string(content)
	if req.StartLine != nil || req.EndLine != nil {
		lines := strings.SplitAfter(text, "\n")
		start, end := 0, len(lines)
		if req.StartLine != nil && *req.StartLine < end {
			start = *req.StartLine
		}
		if req.EndLine != nil && *req.EndLine < end {
			end = *req.EndLine
		}
		if start > end {
			start = end
		}
		text = strings.Join(lines[start:end], "")
	}
	writeData(w, map[string]interface{}{"file": path.Clean(req.File), "content": text, "encoding": "utf-8"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path       string `json:"path"`
		Recursive  bool   `json:"recursive"`
		ShowHidden bool   `json:"show_hidden"`
		SortDesc   bool   `json:"sort_desc"`
	}
	if !decode(w, r, &req) {
		return
	}
	dir := path.Clean(req.Path)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirs[dir] {
		writeFailure(w, http.StatusNotFound, "Directory not found: "+req.Path)
		return
	}

	type entry struct {
		Name        string `json:"name"`
		Path        string `json:"path"`
		IsDirectory bool   `json:"is_directory"`
		Size        *int64 `json:"size,omitempty"`
		Extension   string `json:"extension,omitempty"`
	}
	var entries []entry
	include := func(p string) bool {
		if p == dir {
			return false
		}
		if req.Recursive {
			return strings.HasPrefix(p, strings.TrimSuffix(dir, "/")+"/")
		}
		return path.Dir(p) == dir
	}
	hidden := func(p string) bool { return strings.HasPrefix(path.Base(p), ".") }
	fileCount, dirCount := 0, 0
	for d := range s.dirs {
		if include(d) && (req.ShowHidden || !hidden(d)) {
			entries = append(entries, entry{Name: path.Base(d), Path: d, IsDirectory: true})
			dirCount++
		}
	}
	for f, content := range s.files {
		if include(f) && (req.ShowHidden || !hidden(f)) {
			size := int64(len(content))
			entries = append(entries, entry{Name: path.Base(f), Path: f, Size: &size, Extension: strings.TrimPrefix(path.Ext(f), ".")})
			fileCount++
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if req.SortDesc {
			return entries[i].Path > entries[j].Path
		}
		return entries[i].Path < entries[j].Path
	})
	if entries == nil {
		entries = []entry{}
	}
	writeData(w, map[string]interface{}{
		"path":            dir,
		"files":           entries,
		"total_count":     len(entries),
		"directory_count": dirCount,
		"file_count":      fileCount,
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("path")
	content, ok := s.File(name)
	if !ok {
		writeFailure(w, http.StatusNotFound, "File not found: "+name)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(content)
}

func (s *Server) handleBrowserInfo(w http.ResponseWriter, r *http.Request) {
	writeData(w, map[string]interface{}{
		"cdp_url":    "/cdp/devtools/browser/fake-browser",
		"vnc_url":    "/vnc/index.html?autoconnect=true",
		"user_agent": "Mozilla/5.0 (X11; Linux x86_64) HeadlessChrome/120.0",
		"viewport":   map[string]int{"width": 1280, "height": 720},
	})
}
