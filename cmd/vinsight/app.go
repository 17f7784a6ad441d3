package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"vinsight/internal/config"
	"vinsight/internal/domain"
	"vinsight/internal/quote"
	"vinsight/internal/store"
	"vinsight/internal/util"
	"vinsight/internal/watchlist"
	"vinsight/pkg/vinsight"
)

// app holds the wiring shared by every subcommand.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	client  *vinsight.Client
	kv      store.KV
	cal     *util.TradingCalendar
	manager *watchlist.Manager
	guest   bool
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return config.FromEnv(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	return cfg, nil
}

// newApp loads configuration, opens local storage and loads the watchlists.
// With a session the account's lists are used; without one, or when the
// backend rejects the session, the guest list in local storage is used.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return nil, err
	}

	log := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(log)

	client := vinsight.NewClient(cfg.Backend.BaseURL)
	client.SetTimeout(cfg.Backend.Timeout())
	if cfg.Backend.RateLimitPerMin > 0 {
		client.SetLimiter(util.NewRateLimiter(cfg.Backend.RateLimitPerMin))
	}
	if cfg.Backend.SessionToken != "" {
		client.SetSession(cfg.Backend.SessionCookie, cfg.Backend.SessionToken)
	}

	kv, err := store.OpenKV(cfg.Storage.Driver, cfg.Storage.SQLitePath, cfg.Storage.LocalStoragePath, log)
	if err != nil {
		return nil, fmt.Errorf("opening local storage: %w", err)
	}

	a := &app{
		cfg:    cfg,
		log:    log,
		client: client,
		kv:     kv,
		cal:    util.NewTradingCalendar(domain.MarketUS),
	}

	var repo watchlist.Repository
	if client.HasSession() {
		repo = watchlist.NewRemoteRepository(client)
	} else {
		repo = watchlist.NewGuestRepository(kv, log)
		a.guest = true
	}
	a.manager = watchlist.NewManager(repo, watchlist.NewClientPrices(client), log)
	a.manager.SetRetry(cfg.Watchlist.LoadAttempts, cfg.Watchlist.RetryBase())

	if err := a.manager.Load(ctx); err != nil {
		if a.guest || !errors.Is(err, watchlist.ErrAuthRequired) {
			kv.Close()
			return nil, err
		}
		log.Warn("session rejected, using guest watchlist", "error", err)
		a.guest = true
		if err := a.manager.UseRepository(ctx, watchlist.NewGuestRepository(kv, log)); err != nil {
			kv.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) close() {
	if err := a.kv.Close(); err != nil {
		a.log.Warn("closing local storage", "error", err)
	}
}

// quoteSource returns the fetcher selected by quotes.source.
func (a *app) quoteSource() (quote.Fetcher, error) {
	switch a.cfg.Quotes.Source {
	case "", "backend":
		return quote.NewBackendSource(a.client, a.cal), nil
	case "alpaca":
		if a.cfg.Alpaca.APIKey == "" || a.cfg.Alpaca.APISecret == "" {
			return nil, errors.New("alpaca quote source needs APCA_API_KEY_ID and APCA_API_SECRET_KEY")
		}
		return quote.NewAlpacaSource(a.cfg.Alpaca.APIKey, a.cfg.Alpaca.APISecret, a.cfg.Alpaca.DataURL, a.cfg.Alpaca.Feed, a.cal), nil
	default:
		return nil, fmt.Errorf("unknown quote source %q", a.cfg.Quotes.Source)
	}
}

func (a *app) newScheduler() (*quote.Scheduler, error) {
	src, err := a.quoteSource()
	if err != nil {
		return nil, err
	}
	s := quote.NewScheduler(src, a.cal, a.log)
	s.SetRequestTimeout(a.cfg.Quotes.RequestTimeout())
	return s, nil
}

// fail prints err in a user-facing form.
func fail(err error) {
	switch {
	case errors.Is(err, watchlist.ErrAuthRequired):
		fmt.Fprintln(os.Stderr, "Error: sign in required (set VINSIGHT_SESSION):", err)
	case errors.Is(err, watchlist.ErrGuestUnsupported):
		fmt.Fprintln(os.Stderr, "Error: not available for the guest watchlist:", err)
	default:
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
}
