package gateway

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/kreezus/yengapay-bridge/internal/aggregator"
	"github.com/kreezus/yengapay-bridge/internal/currency"
	"github.com/kreezus/yengapay-bridge/internal/mask"
	"github.com/kreezus/yengapay-bridge/internal/middleware"
	"github.com/kreezus/yengapay-bridge/internal/webhook"
	_ "github.com/lib/pq"
	"golang.org/x/exp/slog"
)

// App is the main application, it contains all the components of the gateway service
// and is responsible for starting and stopping them.
type App struct {
	srv    *http.Server
	wg     *sync.WaitGroup
	Addr   string
	logger *slog.Logger
	config *Config
	db     *sql.DB
	hsm    io.Closer

	openMAC func(HSMConfig) (webhook.MACFunc, io.Closer, error)
}

func NewApp(logger *slog.Logger, config *Config) *App {
	logger = logger.With(slog.String("app", "yengapay"))

	if config == nil {
		config = DefaultConfig()
	}

	return &App{
		wg:      &sync.WaitGroup{},
		logger:  logger,
		config:  config,
		openMAC: openWebhookMAC,
	}
}

// Start wires the service and starts serving. On error nothing stays open.
func (a *App) Start() (err error) {
	a.logger.Info("starting app...")

	repository, err := a.openRepository()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			a.release()
		}
	}()

	static, err := currency.ParseRates(a.config.Rates)
	if err != nil {
		return fmt.Errorf("parsing rates: %w", err)
	}
	rates := currency.ChainRates{repository, static, currency.DefaultRates()}

	client := aggregator.New(a.config.BaseURL,
		aggregator.NewHTTPClient(a.config.Timeout, a.config.MaxRedirects), a.logger)

	svc := NewService(repository, rates, client, a.config, a.logger)
	mac, closer, err := a.openMAC(a.config.HSM)
	if err != nil {
		return fmt.Errorf("opening hsm: %w", err)
	}
	a.hsm = closer
	if mac != nil {
		svc.SetWebhookMAC(mac)
		a.logger.Info("webhook signatures computed by hsm", slog.String("key_label", a.config.WebhookSecret))
	}

	if missing := a.config.MissingSettings(); len(missing) > 0 {
		a.logger.Warn("yengapay settings incomplete", slog.Any("missing", missing))
	}
	a.logger.Info("yengapay configured",
		slog.String("group_id", a.config.GroupID),
		slog.String("project_id", a.config.ProjectID),
		slog.String("api_key", mask.Secret(a.config.APIKey)),
		slog.String("webhook_url", a.config.WebhookURL()),
	)

	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(middleware.NewStructuredLogger(a.logger))
	router.Use(chimw.Recoverer)

	var webhookMW []func(http.Handler) http.Handler
	if a.config.WebhookRateRPS > 0 {
		webhookMW = append(webhookMW, middleware.NewIPRateLimiter(a.config.WebhookRateRPS, a.config.WebhookRateBurst).Handler)
	}
	api := NewAPI(svc, webhookMW...)
	api.AppendRoutes(router)

	router.Get("/-/live", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	router.Get("/-/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := repository.Ping(ctx); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	l, err := net.Listen("tcp", a.config.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening tcp port: %w", err)
	}

	a.Addr = l.Addr().String()

	a.srv = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.wg.Add(1)
	go func() {
		a.logger.Info("http server started", slog.String("addr", a.Addr))

		if err := a.srv.Serve(l); err != nil {
			if err != http.ErrServerClosed {
				a.logger.Error("starting http server", "err", err)
			}

			a.logger.Info("http server stopped")
		}

		a.wg.Done()
	}()

	return nil
}

// openRepository picks the backend: pg at runtime, mem only when explicitly allowed for tests.
func (a *App) openRepository() (*Repository, error) {
	allowMem := getenv("ALLOW_MEM_BACKEND_FOR_TESTS", "false") == "true"
	switch a.config.RepoBackend {
	case "pg":
		if a.config.DBDSN == "" {
			return nil, fmt.Errorf("DB_DSN is required for pg backend")
		}
		db, err := sql.Open("postgres", a.config.DBDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxIdleConns(5)
		db.SetMaxOpenConns(10)
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		a.db = db
		return NewPGRepository(db), nil
	case "mem":
		if !allowMem {
			return nil, fmt.Errorf("mem repository is disabled at runtime; set ALLOW_MEM_BACKEND_FOR_TESTS=true only in tests")
		}
		return NewRepository(), nil
	}
	return nil, fmt.Errorf("unsupported REPO_BACKEND=%s", a.config.RepoBackend)
}

func (a *App) Shutdown() {
	a.logger.Info("shutting down app...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if a.srv != nil {
		a.srv.Shutdown(ctx)
	}

	a.wg.Wait()
	a.release()

	a.logger.Info("app stopped")
}

// release closes the HSM session and the database pool.
func (a *App) release() {
	if a.hsm != nil {
		if err := a.hsm.Close(); err != nil {
			a.logger.Error("closing hsm", "err", err)
		}
		a.hsm = nil
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("closing db", "err", err)
		}
		a.db = nil
	}
}

// NewLogger returns the JSON logger used by the service.
func NewLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}
