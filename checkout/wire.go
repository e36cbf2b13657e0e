package checkout

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/alovak/cardflow-checkout/internal/events"
	"github.com/alovak/cardflow-checkout/internal/processor"
	"github.com/alovak/cardflow-checkout/internal/processor/cardconnect"
	"github.com/alovak/cardflow-checkout/internal/processor/iso8583"
	"github.com/alovak/cardflow-checkout/internal/suppliersync"
	"github.com/shopspring/decimal"
	"golang.org/x/exp/slog"

	_ "github.com/lib/pq"
)

// Components are the long-lived parts of the service built from a Config.
type Components struct {
	Store      Store
	Processor  processor.Processor
	Publisher  events.Publisher
	Reconciler *Reconciler
	Calculator *Calculator
	Suppliers  *suppliersync.Dispatcher
	Logger     *slog.Logger

	closers []func(context.Context) error
}

// Build opens every backend named in cfg and wires the services on top of them.
func Build(ctx context.Context, logger *slog.Logger, cfg *Config) (*Components, error) {
	c := &Components{Logger: logger}

	store, err := c.openStore(ctx, cfg)
	if err != nil {
		c.Close(ctx)
		return nil, err
	}
	c.Store = store

	proc, err := c.openProcessor(cfg)
	if err != nil {
		c.Close(ctx)
		return nil, err
	}
	c.Processor = proc

	pub, err := c.openPublisher(logger, cfg)
	if err != nil {
		c.Close(ctx)
		return nil, err
	}
	c.Publisher = pub

	if err := c.wire(logger, cfg); err != nil {
		c.Close(ctx)
		return nil, err
	}

	return c, nil
}

// NewComponents wires the services over already constructed backends.
func NewComponents(logger *slog.Logger, cfg *Config, store Store, proc processor.Processor, pub events.Publisher) (*Components, error) {
	if pub == nil {
		pub = events.Noop{}
	}
	c := &Components{Store: store, Processor: proc, Publisher: pub, Logger: logger}
	if err := c.wire(logger, cfg); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Components) wire(logger *slog.Logger, cfg *Config) error {
	opts := []Option{
		WithPublisher(c.Publisher),
		WithBookkeepingTimeout(cfg.BookkeepingTimeout),
	}
	if cfg.ExpiryTZ != "" {
		loc, err := time.LoadLocation(cfg.ExpiryTZ)
		if err != nil {
			logger.Info("invalid ExpiryTZ; using default UTC", slog.String("tz", cfg.ExpiryTZ), slog.Any("err", err))
		} else {
			opts = append(opts, WithExpiryLocation(loc))
		}
	}

	resolver := NewCurrencyResolver(c.Store, cfg.BaseCurrency, cfg.Merchants)
	c.Reconciler = NewReconciler(logger, c.Store, c.Processor, resolver, opts...)

	taxRate, err := decimal.NewFromString(orZero(cfg.Pricing.TaxRate))
	if err != nil {
		return fmt.Errorf("parsing tax rate: %w", err)
	}
	flat, err := decimal.NewFromString(orZero(cfg.Pricing.ShippingFlat))
	if err != nil {
		return fmt.Errorf("parsing flat shipping cost: %w", err)
	}
	shipping := FlatRateShipping{Methods: []suppliersync.ShipMethod{
		{ID: "standard", Name: "Standard", Cost: flat, EstimatedTransitDays: 5},
	}}
	c.Calculator = NewCalculator(c.Store, FlatRateTax{Rate: taxRate}, shipping)

	registry, err := suppliersync.NewRegistry(map[string]suppliersync.Strategy{
		suppliersync.GenericSupplierID: suppliersync.NewGenericStrategy(NewWorksheetSource(c.Store, shipping)),
	})
	if err != nil {
		return err
	}
	c.Suppliers = suppliersync.NewDispatcher(registry)

	return nil
}

func (c *Components) openStore(ctx context.Context, cfg *Config) (Store, error) {
	switch cfg.Store.Backend {
	case "postgres", "pg", "":
		if cfg.Store.DSN == "" {
			return nil, fmt.Errorf("DB_DSN is required for postgres backend")
		}
		db, err := sql.Open("postgres", cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxIdleConns(5)
		db.SetMaxOpenConns(10)
		c.closers = append(c.closers, func(context.Context) error { return db.Close() })
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		return NewPGRepository(db), nil
	case "mongo":
		if cfg.Store.MongoURI == "" {
			return nil, fmt.Errorf("MONGO_URI is required for mongo backend")
		}
		store, err := NewMongoStore(ctx, cfg.Store.MongoURI, cfg.Store.MongoDB)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, store.Close)
		if err := store.Ping(ctx); err != nil {
			return nil, fmt.Errorf("ping mongo: %w", err)
		}
		return store, nil
	case "memory", "mem":
		if !cfg.Store.AllowMemory {
			return nil, fmt.Errorf("memory store is disabled at runtime; set ALLOW_MEM_BACKEND_FOR_TESTS=true only in tests")
		}
		return NewRepository(), nil
	default:
		return nil, fmt.Errorf("unsupported STORE_BACKEND=%s", cfg.Store.Backend)
	}
}

func (c *Components) openProcessor(cfg *Config) (processor.Processor, error) {
	switch cfg.Processor.Kind {
	case "cardconnect", "":
		if cfg.Processor.URL == "" {
			return nil, fmt.Errorf("CARDCONNECT_URL is required for cardconnect processor")
		}
		hc := &http.Client{Timeout: cfg.Processor.Timeout}
		return cardconnect.New(cfg.Processor.URL, cfg.Processor.Username, cfg.Processor.Password, hc), nil
	case "iso8583":
		client, err := iso8583.Dial(cfg.Processor.ISO8583Addr, cfg.Processor.Timeout)
		if err != nil {
			return nil, fmt.Errorf("connecting to iso8583 host: %w", err)
		}
		c.closers = append(c.closers, func(context.Context) error { return client.Close() })
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported PROCESSOR=%s", cfg.Processor.Kind)
	}
}

func (c *Components) openPublisher(logger *slog.Logger, cfg *Config) (events.Publisher, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		logger.Info("no kafka brokers configured; payment events are dropped")
		return events.Noop{}, nil
	}
	producer, err := events.NewSyncProducer(cfg.Kafka.Brokers)
	if err != nil {
		return nil, err
	}
	pub := events.NewKafkaPublisher(producer, cfg.Kafka.Topic)
	c.closers = append(c.closers, func(context.Context) error { return pub.Close() })
	return pub, nil
}

// Close releases the backends in reverse order of opening.
func (c *Components) Close(ctx context.Context) error {
	var first error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil && first == nil {
			first = err
		}
	}
	c.closers = nil
	return first
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
