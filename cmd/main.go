// 程序入口：仅负责读取配置、初始化依赖并启动服务；API 注册在 internal/api 以便扩展
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"civic-reporter/internal/api"
	"civic-reporter/internal/boundary"
	"civic-reporter/internal/config"
	"civic-reporter/internal/contacts"
	"civic-reporter/internal/events"
	"civic-reporter/internal/gate"
	"civic-reporter/internal/jurisdiction"
	"civic-reporter/internal/locate"
	"civic-reporter/internal/logger"
	"civic-reporter/internal/middleware"
	"civic-reporter/internal/migrate"
	"civic-reporter/internal/refresh"
	"civic-reporter/internal/resolve"
	"civic-reporter/internal/session"
	"civic-reporter/internal/store"
	"civic-reporter/internal/submit"
	"civic-reporter/internal/utils"
	"civic-reporter/internal/version"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
)

func main() {
	startedAt := time.Now()
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	l := logger.Setup()
	l.Debug("log_init_ok", "commit", version.String())

	cfg, err := config.Load()
	if err != nil {
		l.Error("config_error", "err", err)
		os.Exit(1)
	}
	city, err := config.LoadCity(cfg.City.ConfigPath)
	if err != nil {
		l.Error("city_config_error", "path", cfg.City.ConfigPath, "err", err)
		os.Exit(1)
	}
	l.Info("city_config_ok", "city", city.CityName, "layers", len(city.Sources()))

	var emails *contacts.EmailAuthorities
	if cfg.City.EmailPath != "" {
		if emails, err = contacts.LoadEmailAuthorities(cfg.City.EmailPath); err != nil {
			l.Error("email_config_error", "path", cfg.City.EmailPath, "err", err)
		} else {
			l.Info("email_config_ok", "civic", emails.Enabled("civic"), "traffic", emails.Enabled("traffic"))
		}
	}

	dir := contacts.NewDirectory(city.SocialMedia.MLAHandles, city.SocialMedia.DefaultHandle)
	for _, d := range dir.SuspectDuplicates() {
		l.Warn("representative_duplicate_keys", "keys", strings.Join(d.Keys, ","), "handles", strings.Join(d.Handles, ","))
	}

	fetcher := boundary.SchemeFetcher{
		HTTP: boundary.NewHTTPFetcher(cfg.Boundary.Timeout),
		File: boundary.FileFetcher{Root: cfg.Boundary.Root},
	}
	idx := jurisdiction.New(boundary.NewLoader(fetcher), city.Sources())
	if cfg.Boundary.Warm {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*cfg.Boundary.Timeout)
			defer cancel()
			errs := idx.Warm(ctx)
			l.Info("layers_warm_done", "failed", len(errs))
		}()
	}

	gateLayer, ok := jurisdiction.ParseKind(cfg.Gate.Layer)
	if !ok {
		l.Warn("gate_layer_unknown", "layer", cfg.Gate.Layer, "fallback", string(jurisdiction.Corporation))
		gateLayer = jurisdiction.Corporation
	}
	g := gate.New(city.ServiceArea(), idx, gateLayer, gate.ParsePolicy(cfg.Gate.FailurePolicy))

	rc := utils.OpenRedisFromEnv()
	if rc == nil {
		l.Info("redis_disabled")
	} else if err := rc.Ping(context.Background()).Err(); err != nil {
		l.Error("redis_ping_error", "err", err)
		rc = nil
	} else {
		l.Info("redis_ping_ok")
	}
	res := resolve.New(idx, g, dir, emails).
		WithCache(resolve.NewLRU(cfg.Cache.Size, cfg.Cache.TTL), resolve.NewRedisCache(rc, cfg.Cache.RedisTTL))

	var reports api.ReportLog
	if cfg.Database.Enabled {
		db, err := utils.OpenPostgresFromEnv()
		if err != nil {
			l.Error("db_open_error", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			l.Error("db_ping_error", "err", err)
		} else if err := migrate.EnsureSchema(db); err != nil {
			l.Error("schema_error", "err", err)
		} else {
			l.Info("db_ready")
			reports = store.AttachDB(db)
		}
	} else {
		l.Info("db_disabled")
	}

	var pub events.Publisher = events.Noop{}
	if cfg.NATS.URL != "" {
		np, err := events.ConnectNATS(events.NATSConfig{
			URL:            cfg.NATS.URL,
			MaxReconnects:  cfg.NATS.MaxReconnects,
			ReconnectWait:  cfg.NATS.ReconnectWait,
			ConnectTimeout: cfg.NATS.ConnectTimeout,
		})
		if err != nil {
			l.Error("nats_connect_error", "err", err)
		} else {
			l.Info("nats_connected", "url", cfg.NATS.URL)
			pub = np
		}
	}
	defer pub.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Boundary.Refresh {
		wd, ok := refresh.ParseWeekday(cfg.Boundary.RefreshWeekday)
		if !ok {
			l.Warn("refresh_weekday_unknown", "weekday", cfg.Boundary.RefreshWeekday, "fallback", "monday")
			wd = time.Monday
		}
		loc, _ := time.LoadLocation(cfg.Boundary.RefreshTZ)
		refresh.Start(ctx, idx, refresh.Schedule{Weekday: wd, Hour: cfg.Boundary.RefreshHour, Location: loc}, 2*cfg.Boundary.Timeout)
	}

	sessions := session.NewStore(cfg.Session.IdleTTL)
	go sessions.Run(ctx, cfg.Session.SweepInterval)

	var limiter *middleware.VisitorLimiter
	if cfg.Limit.Enabled {
		limiter = middleware.NewVisitorLimiter(cfg.Limit.QPS, cfg.Limit.Burst)
		l.Info("rate_limit_enabled", "qps", cfg.Limit.QPS)
	}

	apiRouter := api.BuildRoutes(&api.Deps{
		City:          city,
		APIBase:       cfg.Server.APIBase,
		Index:         idx,
		Gate:          g,
		Resolver:      res,
		Sessions:      sessions,
		Locator:       locate.Default(city.ServiceArea(), cfg.Locate.DeviceTimeout),
		Submitter:     submit.NewClient(city.APIs.CivicAPI, city.APIs.TrafficAPI, cfg.Submit.Timeout),
		Reports:       reports,
		Events:        pub,
		Dedup:         api.NewDeduper(rc),
		Limiter:       limiter,
		CORSOrigins:   cfg.Server.CORSOrigins,
		MaxImageBytes: cfg.Session.MaxImageBytes,
	})

	root := chi.NewRouter()
	root.Mount(cfg.Server.APIBase, apiRouter)
	ui := os.Getenv("UI_DIST")
	if ui == "" {
		ui = filepath.Join("ui", "dist")
	}
	// 前端在站点根读取 /config.js，与 API_BASE 下的同名接口一致
	root.Handle("/config.js", apiRouter)
	root.Handle("/*", http.FileServer(http.Dir(ui)))

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      root,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
		defer cancel()
		l.Info("shutdown_begin")
		_ = srv.Shutdown(sctx)
	}()

	if os.Getenv("TLS_ENABLE") == "true" {
		certPath := os.Getenv("TLS_CERT_PATH")
		keyPath := os.Getenv("TLS_KEY_PATH")
		if certPath == "" {
			certPath = filepath.Join("data", "certs", "server.crt")
		}
		if keyPath == "" {
			keyPath = filepath.Join("data", "certs", "server.key")
		}
		if err := utils.EnsureSelfSignedCert(certPath, keyPath, "civic-reporter.local"); err != nil {
			l.Error("tls_cert_error", "err", err)
			os.Exit(1)
		}
		l.Info("listening_tls", "addr", cfg.Server.Addr, "cert", certPath)
		err = srv.ListenAndServeTLS(certPath, keyPath)
	} else {
		l.Info("listening", "addr", cfg.Server.Addr, "api_base", cfg.Server.APIBase)
		err = srv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.Error("server_error", "err", err)
		os.Exit(1)
	}
	l.Info("shutdown_done", "sessions", sessions.Len(), "uptime", time.Since(startedAt).Round(time.Second).String())
}
