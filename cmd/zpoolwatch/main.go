package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"zpoolwatch/internal/app"
	logx "zpoolwatch/pkg/logx"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	var (
		cfgPath     string
		showVersion bool
	)
	flag.StringVar(&cfgPath, "config", "", "path to config file (json or yaml); built-in defaults when empty")
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println("zpoolwatch", version)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Console logger for failures before the configured sinks exist.
	boot := logx.NewConsole("info").With(logx.String("comp", "main"))

	a, err := app.New(cfgPath)
	if err != nil {
		boot.Error("startup failed", logx.String("config", cfgPath), logx.Err(err))
		os.Exit(1)
	}
	if err := a.Run(ctx); err != nil {
		boot.Error("fatal", logx.Err(err))
		cancel()
		os.Exit(1)
	}
}
