package checkout

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/alovak/cardflow-checkout/internal/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/exp/slog"
)

// App is the main application, it contains all the components of the checkout
// service and is responsible for starting and stopping them.
type App struct {
	srv        *http.Server
	wg         *sync.WaitGroup
	Addr       string
	logger     *slog.Logger
	config     *Config
	components *Components
}

func NewApp(logger *slog.Logger, config *Config) *App {
	logger = logger.With(slog.String("app", "checkout"))

	if config == nil {
		config = DefaultConfig()
	}

	return &App{
		wg:     &sync.WaitGroup{},
		logger: logger,
		config: config,
	}
}

// WithComponents makes Start serve prebuilt components instead of opening the
// configured backends.
func (a *App) WithComponents(c *Components) *App {
	a.components = c
	return a
}

func (a *App) Start() error {
	a.logger.Info("starting app...")

	if a.components == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		components, err := Build(ctx, a.logger, a.config)
		if err != nil {
			return fmt.Errorf("building components: %w", err)
		}
		a.components = components
	}

	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(middleware.NewStructuredLogger(a.logger))

	api := NewAPI(a.components)
	api.AppendRoutes(router)
	if a.config.DevRoutes {
		api.AppendDevRoutes(router)
	}

	router.Get("/-/live", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	router.Get("/-/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.components.Store.Ping(ctx); err != nil {
			http.Error(w, "store not ready", http.StatusServiceUnavailable)
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

func (a *App) Shutdown() {
	a.logger.Info("shutting down app...")

	ctx, cancel := context.WithTimeout(context.Background(), a.config.BookkeepingTimeout+5*time.Second)
	defer cancel()

	// in-flight authorizations finish their bookkeeping before backends close
	if a.srv != nil {
		if err := a.srv.Shutdown(ctx); err != nil {
			a.logger.Error("shutting down http server", "err", err)
		}
	}

	a.wg.Wait()

	if a.components != nil {
		if err := a.components.Close(ctx); err != nil {
			a.logger.Error("closing components", "err", err)
		}
	}

	a.logger.Info("app stopped")
}
