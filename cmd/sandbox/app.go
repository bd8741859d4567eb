package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/agent-infra/sandbox-go/internal/configfile"
	"github.com/agent-infra/sandbox-go/internal/env"
	"github.com/agent-infra/sandbox-go/internal/log"
	"github.com/agent-infra/sandbox-go/providers/kubernetes"
	"github.com/agent-infra/sandbox-go/providers/volcengine"
	"github.com/agent-infra/sandbox-go/sandbox"
)

type globalOptions struct {
	Provider   string        `long:"provider" description:"Lifecycle backend" choice:"volcengine" choice:"kubernetes" default:"volcengine"`
	Function   string        `short:"f" long:"function" description:"Function / template id (default: $SANDBOX_FUNCTION_ID or profile function_id)"`
	Region     string        `long:"region" description:"Volcengine region"`
	Host       string        `long:"host" description:"Volcengine OpenAPI host"`
	Kubeconfig string        `long:"kubeconfig" description:"Kubeconfig path, in-cluster config when empty"`
	Namespace  string        `long:"namespace" description:"Kubernetes namespace for sandbox pods"`
	Image      string        `long:"image" description:"Pod image used for --function on kubernetes"`
	BaseURL    string        `long:"base-url" description:"Data-plane address of a known sandbox (default: $SANDBOX_BASE_URL)"`
	Token      string        `long:"token" description:"Data-plane bearer token (default: $SANDBOX_TOKEN)"`
	Sandbox    string        `short:"s" long:"sandbox" description:"Resolve the data-plane address from this sandbox id"`
	Timeout    time.Duration `long:"timeout" description:"Overall timeout of the command" default:"10m"`
	LogLevel   string        `long:"log-level" description:"Log level" default:"warn"`
}

type app struct {
	Options globalOptions
	ctx     context.Context
	out     io.Writer

	// newProvider 为空时按 --provider 创建
	newProvider func(o *globalOptions) (sandbox.Provider, error)
	profile     *configfile.Profile
}

func newApp(out io.Writer) *app {
	return &app{out: out, ctx: context.Background()}
}

func (a *app) parser() *flags.Parser {
	parser := flags.NewNamedParser("sandbox", flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.AddGroup("Global Options", "", &a.Options); err != nil {
		panic(err)
	}
	parser.CommandHandler = a.handle
	for _, c := range []struct {
		name, short string
		data        interface{}
	}{
		{"create", "Create a sandbox", &createCommand{app: a}},
		{"list", "List sandboxes of a function", &listCommand{app: a}},
		{"get", "Describe a sandbox", &getCommand{app: a}},
		{"delete", "Delete a sandbox", &deleteCommand{app: a}},
		{"wait", "Wait until a sandbox is running", &waitCommand{app: a}},
		{"info", "Show sandbox environment information", &infoCommand{app: a}},
		{"write", "Write a file into the sandbox", &writeCommand{app: a}},
		{"read", "Read a file from the sandbox", &readCommand{app: a}},
		{"ls", "List a directory in the sandbox", &lsCommand{app: a}},
		{"download", "Download a file from the sandbox", &downloadCommand{app: a}},
		{"upload", "Upload a local file into the sandbox", &uploadCommand{app: a}},
		{"exec", "Execute code in the sandbox", &execCommand{app: a}},
		{"browser", "Show the browser CDP address", &browserCommand{app: a}},
	} {
		if _, err := parser.AddCommand(c.name, c.short, "", c.data); err != nil {
			panic(err)
		}
	}
	return parser
}

// handle 在执行子命令前应用日志级别和整体超时
func (a *app) handle(command flags.Commander, args []string) error {
	if command == nil {
		return nil
	}
	level, err := log.ParseLevel(a.Options.LogLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	if a.Options.Timeout > 0 {
		ctx, cancel := context.WithTimeout(a.ctx, a.Options.Timeout)
		defer cancel()
		a.ctx = ctx
	}
	return command.Execute(args)
}

func (a *app) currentProfile() *configfile.Profile {
	if a.profile == nil {
		profile, err := configfile.CurrentProfile()
		if err != nil {
			log.With(map[string]interface{}{"error": err.Error()}).Warn().Msg("ignore unreadable config file")
		}
		if profile == nil {
			profile = &configfile.Profile{}
		}
		a.profile = profile
	}
	return a.profile
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func (a *app) functionID() string {
	return firstNonEmpty(a.Options.Function, env.FunctionIDFromEnvironment(), a.currentProfile().FunctionID)
}

func (a *app) sessionConfig() *sandbox.SessionConfig {
	return &sandbox.SessionConfig{
		BaseURL: firstNonEmpty(a.Options.BaseURL, env.BaseURLFromEnvironment(), a.currentProfile().BaseURL),
		Token:   firstNonEmpty(a.Options.Token, env.TokenFromEnvironment(), a.currentProfile().Token),
	}
}

func (a *app) provider() (sandbox.Provider, error) {
	if a.newProvider != nil {
		return a.newProvider(&a.Options)
	}
	switch a.Options.Provider {
	case "kubernetes":
		config := &kubernetes.Config{Namespace: a.Options.Namespace}
		if a.Options.Kubeconfig != "" {
			restConfig, err := clientcmd.BuildConfigFromFlags("", a.Options.Kubeconfig)
			if err != nil {
				return nil, err
			}
			config.RestConfig = restConfig
		}
		if functionID := a.functionID(); functionID != "" && a.Options.Image != "" {
			config.Templates = map[string]kubernetes.Template{functionID: {Image: a.Options.Image}}
		}
		return kubernetes.NewProvider(config)
	default:
		return volcengine.NewProvider(&volcengine.Config{Region: a.Options.Region, Host: a.Options.Host})
	}
}

func (a *app) client() (*sandbox.Client, error) {
	p, err := a.provider()
	if err != nil {
		return nil, err
	}
	return sandbox.NewClient(&sandbox.Config{Provider: p, Session: a.sessionConfig()})
}

func (a *app) requireFunction() (string, error) {
	functionID := a.functionID()
	if functionID == "" {
		return "", &sandbox.Error{Kind: sandbox.KindInvalidScope, Op: "cli", Message: "--function is required", NoSideEffect: true}
	}
	return functionID, nil
}

// session 返回数据面会话：指定了 --sandbox 时通过 Provider 查询地址，否则使用 --base-url
func (a *app) session() (*sandbox.Session, error) {
	if a.Options.Sandbox == "" {
		return sandbox.NewSession(a.sessionConfig())
	}
	functionID, err := a.requireFunction()
	if err != nil {
		return nil, err
	}
	client, err := a.client()
	if err != nil {
		return nil, err
	}
	d, err := client.GetSandbox(a.ctx, functionID, a.Options.Sandbox)
	if err != nil {
		return nil, err
	}
	return client.Connect(d)
}

func (a *app) printJSON(v interface{}) error {
	encoder := json.NewEncoder(a.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func (a *app) printf(format string, args ...interface{}) {
	fmt.Fprintf(a.out, format, args...)
}
