package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"proxyfig/internal/app"
	"proxyfig/internal/config"
	logx "proxyfig/pkg/logx"
)

func main() {
	var cfgPath, envFile string
	flag.StringVar(&cfgPath, "config", "", "optional path to a JSON or YAML config file")
	flag.StringVar(&envFile, "env", ".env", "dotenv file loaded before reading the environment")
	flag.Parse()

	boot := logx.NewConsole(os.Getenv(config.EnvLogLevel))

	if err := config.LoadDotEnv(envFile); err != nil {
		boot.Error("failed to load env file", logx.String("path", envFile), logx.Err(err))
		os.Exit(1)
	}

	cfgm := config.NewManager(cfgPath)
	if _, err := cfgm.Load(); err != nil {
		boot.Error("invalid configuration", logx.Err(err))
		os.Exit(1)
	}

	a, err := app.New(cfgm, app.Options{})
	if err != nil {
		if errors.Is(err, config.ErrMissingToken) {
			boot.Error(err.Error())
		} else {
			boot.Error("startup failed", logx.Err(err))
		}
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = a.Run(ctx)
	cancel()

	log := a.Logger()
	code := 0
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		log.Warn("interrupted before the run completed")
	default:
		log.Error("run failed", logx.Err(err))
		code = 1
	}
	if cerr := a.Close(); cerr != nil {
		fmt.Fprintln(os.Stderr, "close:", cerr)
	}
	os.Exit(code)
}
