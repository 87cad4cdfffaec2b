package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"tx-tour/server/internal/cli"
)

func main() {
	// serve 与 watch 在收到中断信号后优雅退出。
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
