package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"

	"vinsight/internal/api"
	"vinsight/internal/feed"
	"vinsight/internal/quote"
	"vinsight/internal/store"
)

type serveCmd struct {
	priceEvery time.Duration
}

func (*serveCmd) Name() string     { return "serve" }
func (*serveCmd) Synopsis() string { return "run the display server and quote feed" }
func (*serveCmd) Usage() string {
	return `vinsight serve [-price-every <duration>]

  Serves the display WebSocket and HTTP state on server.port, and the gRPC
  quote feed on server.grpc_port. The focused ticker is polled while at
  least one display is visible. With quotes.archive, every quote is also
  written to Parquet under storage.data_dir.
`
}

func (c *serveCmd) SetFlags(f *flag.FlagSet) {
	f.DurationVar(&c.priceEvery, "price-every", time.Minute, "Refresh batch prices of the active list at this interval (0 disables).")
}

func (c *serveCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return run(ctx, func(a *app) error { return c.serve(ctx, a) })
}

func (c *serveCmd) serve(ctx context.Context, a *app) error {
	sched, err := a.newScheduler()
	if err != nil {
		return err
	}
	defer sched.Close()

	host := a.cfg.Server.Host
	httpAddr := net.JoinHostPort(host, strconv.Itoa(a.cfg.Server.Port))
	grpcAddr := net.JoinHostPort(host, strconv.Itoa(a.cfg.Server.GRPCPort))

	srv := api.NewServer(httpAddr, a.manager, sched, a.log)
	sched.SetErrorHandler(srv.NotifyError)
	sched.SetTicker(a.manager.Active().Symbol)

	a.log.Info("starting vinsight server",
		"http", httpAddr,
		"grpc", grpcAddr,
		"guest", a.guest,
		"quote_source", a.cfg.Quotes.Source,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(gctx); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := feed.NewServer(sched, a.log).ListenAndServe(gctx, grpcAddr); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	if a.cfg.Quotes.Archive {
		rec := quote.NewRecorder(store.NewParquetQuoteStore(a.cfg.Storage.DataDir), a.log)
		subID, quotes := sched.Subscribe(256)
		defer sched.Unsubscribe(subID)
		g.Go(func() error {
			if err := rec.Run(gctx, quotes); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if c.priceEvery > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(c.priceEvery)
			defer ticker.Stop()
			for {
				if err := a.manager.RefreshPrices(gctx); err != nil && gctx.Err() == nil {
					a.log.Warn("refreshing prices", "error", err)
				}
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		})
	}

	err = g.Wait()
	a.log.Info("vinsight server stopped")
	return err
}
