package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/pflag"

	"github.com/festwatch/ticketwatch/internal/automation"
	"github.com/festwatch/ticketwatch/internal/catalog"
	"github.com/festwatch/ticketwatch/internal/config"
	"github.com/festwatch/ticketwatch/internal/database"
	"github.com/festwatch/ticketwatch/internal/filminfo"
	"github.com/festwatch/ticketwatch/internal/handler"
	"github.com/festwatch/ticketwatch/internal/metrics"
	"github.com/festwatch/ticketwatch/internal/middleware"
	"github.com/festwatch/ticketwatch/internal/model"
	"github.com/festwatch/ticketwatch/internal/queue"
	"github.com/festwatch/ticketwatch/internal/repository"
	"github.com/festwatch/ticketwatch/internal/reservation"
	"github.com/festwatch/ticketwatch/internal/router"
	"github.com/festwatch/ticketwatch/internal/scanner"
	"github.com/festwatch/ticketwatch/internal/service"
	"github.com/festwatch/ticketwatch/internal/session"
	"github.com/festwatch/ticketwatch/internal/site"
	"github.com/festwatch/ticketwatch/internal/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("ticketwatch exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

type options struct {
	addr      string
	noScanner bool
	headed    bool
}

func parseFlags(args []string) (options, bool, error) {
	var o options
	flags := pflag.NewFlagSet("ticketwatch", pflag.ContinueOnError)
	flags.StringVar(&o.addr, "addr", "", "listen address (default :$APP_PORT)")
	flags.BoolVar(&o.noScanner, "no-scanner", false, "start with the background scanner switched off")
	flags.BoolVar(&o.headed, "headed", false, "show the browser window")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return o, true, nil
		}
		return o, false, err
	}
	return o, false, nil
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

func run() error {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	opts, help, err := parseFlags(os.Args[1:])
	if err != nil || help {
		return err
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("time zone %q: %w", cfg.TimeZone, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Storage ----
	rdb, err := config.NewRedisClient(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()
	st, err := store.New(rdb, cfg.StorePrefix, cfg.StoreCacheSize)
	if err != nil {
		return err
	}

	db, err := database.Open(ctx, cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	if err := database.Migrate(ctx, db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	operators := repository.NewOperatorRepo(db)
	if cfg.AdminEmail != "" {
		created, err := operators.Ensure(ctx, cfg.AdminEmail, cfg.AdminPassword, model.RoleAdmin, cfg.BcryptCost)
		if err != nil {
			return fmt.Errorf("seed operator: %w", err)
		}
		if created {
			logger.Info("operator created", slog.String("email", cfg.AdminEmail))
		}
	}

	// ---- Notifications ----
	var pub service.Publisher
	if cfg.NotifyViaBroker {
		pub = queue.NewPublisher(cfg.AMQPURL)
	}
	notifier := service.NewNotifier(pub, logger)

	// ---- Session ----
	flow := reservation.New(st, notifier, logger.With(slog.String("component", "reservation")))
	flow.MaxOpenAttempts = cfg.MaxOpenAttempts
	flow.BasePriceCents = cfg.BasePriceCents
	flow.FeeCents = cfg.FeeCents

	engine := catalog.New(st, notifier, flow, logger.With(slog.String("component", "catalog")))
	engine.SkipTBA = cfg.SkipTBA
	engine.ProbeCart = cfg.ProbeCart

	siteCfg := site.Config{
		BaseURL:  cfg.SiteBaseURL,
		Email:    cfg.SiteEmail,
		Password: cfg.SitePassword,
		Location: loc,
	}
	chromeOpts := automation.ChromeOptions{Headless: cfg.Headless && !opts.headed, ExecPath: cfg.ChromePath}
	siteLog := logger.With(slog.String("component", "site"))
	sessions := session.NewManager(func(ctx context.Context) (catalog.Session, error) {
		chrome, err := automation.NewChrome(ctx, chromeOpts)
		if err != nil {
			return nil, err
		}
		f, err := site.Open(ctx, chrome, siteCfg, siteLog)
		if err != nil {
			return nil, err
		}
		return f, nil
	}, logger.With(slog.String("component", "session")))
	defer sessions.Reset()

	coord := session.NewCoordinator()
	m := metrics.New()

	scan := scanner.New(coord, sessions, engine, st, m, logger)
	scan.Backoff = cfg.ScannerBackoff
	scan.Pause = cfg.ScannerPause
	scan.SetRunning(cfg.ScannerEnabled && !opts.noScanner)

	tickets := service.NewTicketService(coord, sessions, engine, st, repository.NewPurchaseRepo(db), m, logger)

	films, err := filminfo.New(filminfo.Config{
		BaseURL:   cfg.SiteBaseURL,
		UserAgent: cfg.FilmUserAgent,
		Timeout:   cfg.FilmTimeout,
	}, st, logger)
	if err != nil {
		return err
	}

	// ---- HTTP ----
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			logger.LogAttrs(c.Request().Context(), slog.LevelInfo, "request", attrs...)
			return nil
		},
	}))

	sessionHandler := handler.NewSessionHandler(tickets, scan)
	router.RegisterRoutes(e, m.Registry)
	router.RegisterAuth(e, handler.NewAuthHandler(handler.AuthConfig{
		JWTSecret:  cfg.JWTSecret,
		AccessTTL:  time.Duration(cfg.AccessTTLMin) * time.Minute,
		RefreshTTL: time.Duration(cfg.RefreshTTLDays) * 24 * time.Hour,
	}, operators, repository.NewTokenRepo(db)), cfg.JWTSecret)
	router.RegisterPublic(e, handler.NewCatalogHandler(service.NewQueryService(st)), sessionHandler,
		middleware.NewRedisCache(config.LoadCacheConfig(), rdb, logger))
	router.RegisterAdmin(e, router.Admin{
		Session:   sessionHandler,
		Films:     handler.NewFilmHandler(films),
		Purchases: handler.NewPurchaseHandler(repository.NewPurchaseRepo(db)),
	}, cfg.JWTSecret, middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, logger).Middleware())

	// ---- Background ----
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scan.Run(ctx)
	}()
	if cfg.NotifyViaBroker && cfg.RunNotifyConsumer {
		consumer := queue.NewConsumer(cfg.AMQPURL, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("notification consumer stopped", slog.String("error", err.Error()))
			}
		}()
	}

	addr := opts.addr
	if addr == "" {
		addr = ":" + cfg.Port
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", slog.String("addr", addr), slog.String("env", cfg.Env))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		stop()
		wg.Wait()
		notifier.Wait()
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", slog.String("error", err.Error()))
	}
	wg.Wait()
	notifier.Wait()
	return nil
}
