package sandbox

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/oapi-codegen/runtime"
	"modernc.org/fileutil"
)

// Filesystem 沙箱内文件系统操作
type Filesystem struct {
	session *Session
}

// FileOption 文件读写选项。
type FileOption func(*fileOpts)

type fileOpts struct {
	append    bool
	sudo      bool
	startLine *int
	endLine   *int
}

// WithAppend 追加写入，而不是覆盖。
func WithAppend() FileOption {
	return func(o *fileOpts) { o.append = true }
}

// WithSudo 以 root 身份读写文件。
func WithSudo() FileOption {
	return func(o *fileOpts) { o.sudo = true }
}

// WithLineRange 只读取 [start, end) 行，行号从 0 开始。
func WithLineRange(start, end int) FileOption {
	return func(o *fileOpts) {
		o.startLine = &start
		o.endLine = &end
	}
}

func applyFileOpts(opts []FileOption) *fileOpts {
	o := &fileOpts{}
	for _, fn := range opts {
		fn(o)
	}
	return o
}

type writeFileRequest struct {
	File     string   `json:"file" validate:"required"`
	Content  string   `json:"content"`
	Encoding Encoding `json:"encoding" validate:"oneof=utf-8 base64"`
	Append   bool     `json:"append,omitempty"`
	Sudo     bool     `json:"sudo,omitempty"`
}

// WriteResult 写入结果
type WriteResult struct {
	File         string `json:"file"`
	BytesWritten int64  `json:"bytes_written"`
}

// WriteFile 写入文件。enc 为 EncodingRawText 时 content 必须是合法的 UTF-8，
// 为 EncodingBase64 时必须是合法的标准 Base64，否则在本地直接拒绝。
func (fs *Filesystem) WriteFile(ctx context.Context, path, content string, enc Encoding, opts ...FileOption) (*WriteResult, error) {
	const op = "file.write"
	if enc == "" {
		enc = EncodingRawText
	}
	if enc == EncodingRawText && !utf8.ValidString(content) {
		return nil, &Error{Kind: KindUnknown, Op: op, Message: "content is not valid UTF-8, use EncodingBase64", NoSideEffect: true}
	}
	if enc == EncodingBase64 {
		if _, err := base64.StdEncoding.DecodeString(content); err != nil {
			return nil, &Error{Kind: KindUnknown, Op: op, Message: "content is not valid base64", NoSideEffect: true, Err: err}
		}
	}
	o := applyFileOpts(opts)
	var result WriteResult
	err := fs.session.invoke(ctx, call{
		op:     op,
		class:  routeFile,
		method: http.MethodPost,
		path:   "/v1/file/write",
		body: &writeFileRequest{
			File:     path,
			Content:  content,
			Encoding: enc,
			Append:   o.append,
			Sudo:     o.sudo,
		},
	}, &result)
	if err != nil {
		return nil, err
	}
	if result.File == "" {
		result.File = path
	}
	return &result, nil
}

// WriteBytes 以 Base64 编码写入二进制内容。
func (fs *Filesystem) WriteBytes(ctx context.Context, path string, b []byte, opts ...FileOption) (*WriteResult, error) {
	return fs.WriteFile(ctx, path, base64.StdEncoding.EncodeToString(b), EncodingBase64, opts...)
}

type readFileRequest struct {
	File      string `json:"file" validate:"required"`
	StartLine *int   `json:"start_line,omitempty" validate:"omitempty,gte=0"`
	EndLine   *int   `json:"end_line,omitempty" validate:"omitempty,gte=0"`
	Sudo      bool   `json:"sudo,omitempty"`
}

// FileContent 读取到的文件内容
type FileContent struct {
	File     string   `json:"file"`
	Content  string   `json:"content"`
	Encoding Encoding `json:"encoding,omitempty"`
}

// Bytes 按编码解码文件内容
func (c *FileContent) Bytes() ([]byte, error) {
	return c.Encoding.Decode(c.Content)
}

// ReadFile 读取文件。
func (fs *Filesystem) ReadFile(ctx context.Context, path string, opts ...FileOption) (*FileContent, error) {
	o := applyFileOpts(opts)
	var content FileContent
	err := fs.session.invoke(ctx, call{
		op:     "file.read",
		class:  routeFile,
		method: http.MethodPost,
		path:   "/v1/file/read",
		body:   &readFileRequest{File: path, StartLine: o.startLine, EndLine: o.endLine, Sudo: o.sudo},
	}, &content)
	if err != nil {
		return nil, err
	}
	if content.File == "" {
		content.File = path
	}
	return &content, nil
}

// ListOption 列目录选项。
type ListOption func(*listPathRequest)

// WithRecursive 递归列出子目录。
func WithRecursive(recursive bool) ListOption {
	return func(r *listPathRequest) { r.Recursive = recursive }
}

// WithShowHidden 列出隐藏文件。
func WithShowHidden(show bool) ListOption {
	return func(r *listPathRequest) { r.ShowHidden = show }
}

// WithMaxDepth 设置递归深度。
func WithMaxDepth(depth int) ListOption {
	return func(r *listPathRequest) { r.MaxDepth = &depth }
}

// WithSort 设置排序字段（name、size、modified、type）和顺序。
func WithSort(field string, desc bool) ListOption {
	return func(r *listPathRequest) {
		r.SortBy = field
		r.SortDesc = desc
	}
}

type listPathRequest struct {
	Path        string `json:"path" validate:"required"`
	Recursive   bool   `json:"recursive"`
	ShowHidden  bool   `json:"show_hidden"`
	MaxDepth    *int   `json:"max_depth,omitempty" validate:"omitempty,gte=1"`
	IncludeSize bool   `json:"include_size"`
	SortBy      string `json:"sort_by,omitempty" validate:"omitempty,oneof=name size modified type"`
	SortDesc    bool   `json:"sort_desc,omitempty"`
}

// FileEntry 目录项
type FileEntry struct {
	Name         string `json:"name"`
	Path         string `json:"path"`
	IsDirectory  bool   `json:"is_directory"`
	Size         *int64 `json:"size,omitempty"`
	ModifiedTime string `json:"modified_time,omitempty"`
	Permissions  string `json:"permissions,omitempty"`
	Extension    string `json:"extension,omitempty"`
}

// Listing 目录列表，Files 保持服务端返回的顺序
type Listing struct {
	Path           string      `json:"path"`
	Files          []FileEntry `json:"files"`
	TotalCount     int         `json:"total_count"`
	DirectoryCount int         `json:"directory_count"`
	FileCount      int         `json:"file_count"`
}

// ListPath 列出目录内容。
func (fs *Filesystem) ListPath(ctx context.Context, path string, opts ...ListOption) (*Listing, error) {
	req := &listPathRequest{Path: path, IncludeSize: true}
	for _, fn := range opts {
		fn(req)
	}
	var listing Listing
	err := fs.session.invoke(ctx, call{
		op:     "file.list",
		class:  routeFile,
		method: http.MethodPost,
		path:   "/v1/file/list",
		body:   req,
	}, &listing)
	if err != nil {
		return nil, err
	}
	if listing.Files == nil {
		listing.Files = []FileEntry{}
	}
	if listing.Path == "" {
		listing.Path = path
	}
	return &listing, nil
}

// DownloadFile 下载文件的原始字节。
func (fs *Filesystem) DownloadFile(ctx context.Context, path string) ([]byte, error) {
	const op = "file.download"
	if path == "" {
		return nil, &Error{Kind: KindUnknown, Op: op, Message: "path is required", NoSideEffect: true}
	}
	param, err := runtime.StyleParamWithLocation("form", true, "path", runtime.ParamLocationQuery, path)
	if err != nil {
		return nil, &Error{Kind: KindUnknown, Op: op, Message: "encode path", NoSideEffect: true, Err: err}
	}
	query, err := url.ParseQuery(param)
	if err != nil {
		return nil, &Error{Kind: KindUnknown, Op: op, Message: "encode path", NoSideEffect: true, Err: err}
	}
	return fs.session.invokeRaw(ctx, call{
		op:     op,
		class:  routeFile,
		method: http.MethodGet,
		path:   "/v1/file/download",
		query:  query,
	})
}

// DownloadTo 下载文件并写入本地 localPath，返回写入的字节数。
// 这是唯一会访问调用方本地文件系统的下载操作。
func (fs *Filesystem) DownloadTo(ctx context.Context, path, localPath string) (int64, error) {
	const op = "file.download"
	data, err := fs.DownloadFile(ctx, path)
	if err != nil {
		return 0, err
	}
	if dir := filepath.Dir(localPath); dir != "" {
		if err = os.MkdirAll(dir, 0o755); err != nil {
			return 0, &Error{Kind: KindUnknown, Op: op, Message: "create local directory", Err: err}
		}
	}
	if err = os.WriteFile(localPath, data, 0o644); err != nil {
		return 0, &Error{Kind: KindUnknown, Op: op, Message: "write local file", Err: err}
	}
	return int64(len(data)), nil
}

// UploadFile 读取本地文件并写入沙箱。文本文件以 EncodingRawText 发送，其余以 Base64 发送。
func (fs *Filesystem) UploadFile(ctx context.Context, localPath, path string, opts ...FileOption) (*WriteResult, error) {
	const op = "file.upload"
	file, err := os.Open(localPath)
	if err != nil {
		return nil, &Error{Kind: KindUnknown, Op: op, Message: "open local file", NoSideEffect: true, Err: err}
	}
	defer file.Close()
	_ = fileutil.Fadvise(file, 0, 0, fileutil.POSIX_FADV_SEQUENTIAL)

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, &Error{Kind: KindUnknown, Op: op, Message: "read local file", NoSideEffect: true, Err: err}
	}
	if isText(data) {
		return fs.WriteFile(ctx, path, string(data), EncodingRawText, opts...)
	}
	return fs.WriteBytes(ctx, path, data, opts...)
}

func isText(data []byte) bool {
	if !utf8.Valid(data) {
		return false
	}
	for mime := mimetype.Detect(data); mime != nil; mime = mime.Parent() {
		if mime.Is("text/plain") {
			return true
		}
	}
	return false
}
