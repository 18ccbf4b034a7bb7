package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/ospa-ai/relay/pkg/config"
	"github.com/ospa-ai/relay/pkg/logger"
	"github.com/ospa-ai/relay/pkg/transport"
)

var version = "dev"

const (
	exitConfigError   = 2
	exitUpstreamError = 3
	exitCancelled     = 4
)

type cli struct {
	Serve   serveCmd   `cmd:"" default:"1" help:"Start the HTTP server."`
	Version versionCmd `cmd:"" help:"Print the version and exit."`

	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFormat string `help:"Log format (simple, verbose)." default:"simple"`
}

type serveCmd struct {
	Address string `help:"Listen address." short:"a" default:":8080"`
	EnvFile string `help:"Dotenv file with provider credentials." default:".env"`
}

type versionCmd struct{}

func (v *versionCmd) Run() error {
	fmt.Println(version)
	return nil
}

func (s *serveCmd) Run(flags *cli) error {
	level, _ := logger.ParseLevel(flags.LogLevel)
	logger.Init(level, os.Stderr, flags.LogFormat)

	config.LoadEnv(s.EnvFile)
	base := config.FromEnv()

	server := &http.Server{
		Addr:    s.Address,
		Handler: transport.NewServer(base).Router(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "address", s.Address, "version", version)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

func main() {
	var flags cli
	parsed := kong.Parse(&flags,
		kong.Name("relay"),
		kong.Description("FSM-driven LLM agent runtime with feedback recall and backward distillation."),
		kong.UsageOnError(),
	)

	if err := parsed.Run(&flags); err != nil {
		slog.Error("fatal", "error", err)
		switch {
		case errors.Is(err, config.ErrConfig):
			os.Exit(exitConfigError)
		case errors.Is(err, context.Canceled):
			os.Exit(exitCancelled)
		default:
			os.Exit(exitUpstreamError)
		}
	}
}
