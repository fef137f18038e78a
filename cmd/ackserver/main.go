// Command ackserver runs the stub peer for tcptester until interrupted.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/cyberinferno/tcptester/ackserver"
	"github.com/cyberinferno/tcptester/config"
	"github.com/cyberinferno/tcptester/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, stderr io.Writer) int {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(stderr, "Fatal: failed to load config: %v\n", err)
		return 1
	}

	opts := cfg.Logger("ackserver")
	opts.Out = stderr
	log, err := logger.New(opts)
	if err != nil {
		fmt.Fprintf(stderr, "Fatal: failed to initialize logger: %v\n", err)
		return 1
	}
	defer log.Close()

	s := ackserver.New("ackserver", cfg.Server.Addr, log)
	s.Reply = []byte(cfg.Server.Reply)
	if cfg.Server.ReadLimit > 0 {
		s.ReadLimit = cfg.Server.ReadLimit
	}

	if err := s.Start(); err != nil {
		log.Error("failed to start", logger.Field{Key: "error", Value: err.Error()})
		return 1
	}

	<-ctx.Done()
	s.Stop()
	log.Info("stopped", logger.Field{Key: "accepted", Value: s.Accepted()})

	return 0
}
