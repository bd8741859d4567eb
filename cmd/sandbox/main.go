// sandbox 是沙箱 SDK 的命令行工具，用于管理沙箱生命周期以及访问沙箱数据面。
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/jessevdk/go-flags"

	"github.com/agent-infra/sandbox-go/sandbox"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	os.Exit(run(ctx, newApp(os.Stdout), os.Args[1:]))
}

func run(ctx context.Context, a *app, args []string) int {
	a.ctx = ctx
	parser := a.parser()
	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) {
			if flagsErr.Type == flags.ErrHelp {
				fmt.Fprintln(a.out, flagsErr.Message)
				return 0
			}
			fmt.Fprintln(os.Stderr, flagsErr.Message)
			return 2
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		if sandbox.SafeToRetry(err) {
			fmt.Fprintln(os.Stderr, "the request had no side effect and can be retried")
		}
		return 1
	}
	return 0
}
