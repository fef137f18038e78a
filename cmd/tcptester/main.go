// Command tcptester greets a TCP server from one or more local-port labels
// and prints what came back. Settings come from the ini file named by
// TCPTESTER_CONFIG and TCPTESTER_* variables; the defaults send one greeting
// to 127.0.0.1:7878 and drain the reply.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/cyberinferno/tcptester/config"
	"github.com/cyberinferno/tcptester/driver"
	"github.com/cyberinferno/tcptester/logger"
	"github.com/cyberinferno/tcptester/report"
	"github.com/cyberinferno/tcptester/resolver"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, stdout, stderr io.Writer) int {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(stderr, "Fatal: failed to load config: %v\n", err)
		return 1
	}

	opts := cfg.Logger("tcptester")
	opts.Out = stderr
	log, err := logger.New(opts)
	if err != nil {
		fmt.Fprintf(stderr, "Fatal: failed to initialize logger: %v\n", err)
		return 1
	}
	defer log.Close()

	dcfg, err := cfg.Driver()
	if err != nil {
		log.Error("invalid client config", logger.Field{Key: "error", Value: err.Error()})
		return 1
	}

	d, err := driver.New(dcfg, log, driver.WithResolver(resolver.NewCachedResolver(cfg.Client.ResolveTTL, nil)))
	if err != nil {
		log.Error("invalid driver config", logger.Field{Key: "error", Value: err.Error()})
		return 1
	}

	rep, runErr := d.Run(ctx)

	reporters := report.Multi{report.NewConsoleReporter(stdout)}
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()

		reporters = append(reporters, report.NewRedisReporter(client, cfg.Redis.Key, cfg.Redis.TTL).WithRunID(rep.RunID))
	}

	code := 0
	for _, o := range rep.Outcomes {
		if o.Result == nil {
			continue
		}

		if err := reporters.Report(ctx, o.Result); err != nil {
			log.Warn("failed to report result",
				logger.Field{Key: "label", Value: o.Label},
				logger.Field{Key: "error", Value: err.Error()})
		}
	}

	if runErr != nil {
		log.Error("run failed",
			logger.Field{Key: "run_id", Value: rep.RunID},
			logger.Field{Key: "failed", Value: len(rep.Failed())},
			logger.Field{Key: "error", Value: runErr.Error()})
		code = 1
	}

	return code
}
