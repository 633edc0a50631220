// Command writeqd is a demo TCP echo daemon that drives one writeq.Engine
// per connection. It exists to exercise Add/MarkFlushCheckpoint/Trigger/
// FailAll end to end over real sockets; the epoll loop it contains is a
// demo harness, not the production event loop the engine itself stays
// agnostic of.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"

	"github.com/relaypoint/writeq/internal/logging"
)

func main() {
	app := cli.NewApp()
	app.Name = "writeqd"
	app.Usage = "demo TCP echo daemon built on the writeq write engine"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "path to a TOML config file (optional; built-in defaults otherwise)",
		},
		cli.BoolFlag{
			Name:  "verbose, v",
			Usage: "enable debug-level logging",
		},
	}
	app.Action = serveAction

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveAction(c *cli.Context) error {
	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {})); err != nil {
		return err
	}

	fc, err := loadConfig(c.String("config"))
	if err != nil {
		return err
	}

	logLevel := logging.LevelInfo
	if c.Bool("verbose") || fc.Log.Level == "debug" {
		logLevel = logging.LevelDebug
	}
	logger := logging.NewLogger(&logging.Config{Level: logLevel, Output: os.Stderr})
	logging.SetDefault(logger)

	server, err := newServer(fc, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("writeqd: received shutdown signal")
		cancel()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error { return server.Poll(gctx) })

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		return err
	}
	logger.Info("writeqd: stopped")
	return nil
}
