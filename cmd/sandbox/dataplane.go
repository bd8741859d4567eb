package main

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/agent-infra/sandbox-go/sandbox"
)

type infoCommand struct {
	app *app
}

func (c *infoCommand) Execute([]string) error {
	s, err := c.app.session()
	if err != nil {
		return err
	}
	info, err := s.Info(c.app.ctx)
	if err != nil {
		return err
	}
	return c.app.printJSON(info)
}

type writeCommand struct {
	app  *app
	Args struct {
		Path    string `positional-arg-name:"path" required:"yes"`
		Content string `positional-arg-name:"content"`
	} `positional-args:"yes"`

	Encoding string `long:"encoding" description:"Content encoding" choice:"utf-8" choice:"base64" default:"utf-8"`
	Append   bool   `long:"append" description:"Append instead of overwrite"`
	Sudo     bool   `long:"sudo" description:"Write with elevated permissions"`
	Stdin    bool   `long:"stdin" description:"Read content from stdin"`
}

func (c *writeCommand) Execute([]string) error {
	content := c.Args.Content
	if c.Stdin {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return err
		}
		content = string(data)
	}
	enc, err := sandbox.ParseEncoding(c.Encoding)
	if err != nil {
		return err
	}
	var opts []sandbox.FileOption
	if c.Append {
		opts = append(opts, sandbox.WithAppend())
	}
	if c.Sudo {
		opts = append(opts, sandbox.WithSudo())
	}
	s, err := c.app.session()
	if err != nil {
		return err
	}
	result, err := s.Files().WriteFile(c.app.ctx, c.Args.Path, content, enc, opts...)
	if err != nil {
		return err
	}
	return c.app.printJSON(result)
}

type readCommand struct {
	app  *app
	Args struct {
		Path string `positional-arg-name:"path" required:"yes"`
	} `positional-args:"yes"`

	StartLine int  `long:"start-line" description:"First line to read (0-based)"`
	EndLine   int  `long:"end-line" description:"Line after the last one to read"`
	Sudo      bool `long:"sudo" description:"Read with elevated permissions"`
}

func (c *readCommand) Execute([]string) error {
	var opts []sandbox.FileOption
	if c.EndLine > 0 {
		opts = append(opts, sandbox.WithLineRange(c.StartLine, c.EndLine))
	}
	if c.Sudo {
		opts = append(opts, sandbox.WithSudo())
	}
	s, err := c.app.session()
	if err != nil {
		return err
	}
	content, err := s.Files().ReadFile(c.app.ctx, c.Args.Path, opts...)
	if err != nil {
		return err
	}
	data, err := content.Bytes()
	if err != nil {
		return err
	}
	_, err = c.app.out.Write(data)
	return err
}

type lsCommand struct {
	app  *app
	Args struct {
		Path string `positional-arg-name:"path" required:"yes"`
	} `positional-args:"yes"`

	Recursive bool `short:"r" long:"recursive" description:"List recursively"`
	All       bool `short:"a" long:"all" description:"Show hidden files"`
	MaxDepth  int  `long:"max-depth" description:"Maximum depth when listing recursively"`
	JSON      bool `long:"json" description:"Print the listing as JSON"`
}

func (c *lsCommand) Execute([]string) error {
	opts := []sandbox.ListOption{sandbox.WithRecursive(c.Recursive), sandbox.WithShowHidden(c.All)}
	if c.MaxDepth > 0 {
		opts = append(opts, sandbox.WithMaxDepth(c.MaxDepth))
	}
	s, err := c.app.session()
	if err != nil {
		return err
	}
	listing, err := s.Files().ListPath(c.app.ctx, c.Args.Path, opts...)
	if err != nil {
		return err
	}
	if c.JSON {
		return c.app.printJSON(listing)
	}
	for _, entry := range listing.Files {
		kind := "-"
		if entry.IsDirectory {
			kind = "d"
		}
		c.app.printf("%s %10d %s\n", kind, entry.Size, entry.Path)
	}
	return nil
}

type downloadCommand struct {
	app  *app
	Args struct {
		Path  string `positional-arg-name:"path" required:"yes"`
		Local string `positional-arg-name:"local-path" required:"yes"`
	} `positional-args:"yes"`
}

func (c *downloadCommand) Execute([]string) error {
	s, err := c.app.session()
	if err != nil {
		return err
	}
	n, err := s.Files().DownloadTo(c.app.ctx, c.Args.Path, c.Args.Local)
	if err != nil {
		return err
	}
	c.app.printf("%d bytes written to %s\n", n, c.Args.Local)
	return nil
}

type uploadCommand struct {
	app  *app
	Args struct {
		Local string `positional-arg-name:"local-path" required:"yes"`
		Path  string `positional-arg-name:"path" required:"yes"`
	} `positional-args:"yes"`
}

func (c *uploadCommand) Execute([]string) error {
	s, err := c.app.session()
	if err != nil {
		return err
	}
	result, err := s.Files().UploadFile(c.app.ctx, c.Args.Local, c.Args.Path)
	if err != nil {
		return err
	}
	return c.app.printJSON(result)
}

type execCommand struct {
	app  *app
	Args struct {
		Code []string `positional-arg-name:"code" required:"yes"`
	} `positional-args:"yes"`

	Runtime   string        `short:"r" long:"runtime" description:"python, nodejs or shell" default:"python"`
	SessionID string        `long:"session-id" description:"Reuse a kernel or shell session"`
	Dir       string        `long:"dir" description:"Working directory"`
	Timeout   time.Duration `long:"exec-timeout" description:"Execution timeout"`
	JSON      bool          `long:"json" description:"Print the full execution result as JSON"`
}

func (c *execCommand) Execute([]string) error {
	rt, err := sandbox.ParseRuntime(c.Runtime)
	if err != nil {
		return err
	}
	var opts []sandbox.ExecOption
	if c.SessionID != "" {
		opts = append(opts, sandbox.WithSessionID(c.SessionID))
	}
	if c.Dir != "" {
		opts = append(opts, sandbox.WithExecDir(c.Dir))
	}
	if c.Timeout > 0 {
		opts = append(opts, sandbox.WithExecTimeout(c.Timeout))
	}
	s, err := c.app.session()
	if err != nil {
		return err
	}
	code := strings.Join(c.Args.Code, " ")

	var result *sandbox.ExecutionResult
	switch rt {
	case sandbox.RuntimePython:
		result, err = s.Jupyter().Run(c.app.ctx, code, opts...)
	case sandbox.RuntimeNodeJS:
		result, err = s.NodeJS().Run(c.app.ctx, code, opts...)
	default:
		result, err = s.Shell().Run(c.app.ctx, code, opts...)
	}
	if result != nil && c.JSON {
		if printErr := c.app.printJSON(result); printErr != nil {
			return printErr
		}
	} else if result != nil {
		c.app.printf("%s", result.Text())
	}
	return err
}

type browserCommand struct {
	app *app
}

func (c *browserCommand) Execute([]string) error {
	s, err := c.app.session()
	if err != nil {
		return err
	}
	info, err := s.Browser().GetInfo(c.app.ctx)
	if err != nil {
		return err
	}
	c.app.printf("cdp: %s\n", info.CDPURL)
	if info.VNCURL != "" {
		c.app.printf("vnc: %s\n", info.VNCURL)
	}
	if info.Viewport.Width > 0 {
		c.app.printf("viewport: %dx%d\n", info.Viewport.Width, info.Viewport.Height)
	}
	return nil
}
