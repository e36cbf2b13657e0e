package checkout

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is a configuration for the checkout application. It is read from a
// YAML file and environment variables, the latter taking precedence.
type Config struct {
	HTTPAddr  string `yaml:"http_addr" env:"HTTP_ADDR" env-default:"localhost:9190"`
	DevRoutes bool   `yaml:"dev_routes" env:"DEV_ROUTES" env-default:"false"`

	// BaseCurrency is used for buyers without a currency preference.
	BaseCurrency string `yaml:"base_currency" env:"BASE_CURRENCY" env-default:"USD"`
	// Merchants maps a currency code to the processor merchant account, e.g. USD:496160873888.
	Merchants map[string]string `yaml:"merchants" env:"MERCHANTS"`

	// BookkeepingTimeout bounds the ledger writes after a processor call.
	BookkeepingTimeout time.Duration `yaml:"bookkeeping_timeout" env:"BOOKKEEPING_TIMEOUT" env-default:"30s"`

	Store struct {
		// Backend is postgres, mongo or memory.
		Backend string `yaml:"backend" env:"STORE_BACKEND" env-default:"postgres"`
		// AllowMemory must be set for the memory backend; it keeps nothing across restarts.
		AllowMemory bool   `yaml:"allow_memory" env:"ALLOW_MEM_BACKEND_FOR_TESTS" env-default:"false"`
		DSN         string `yaml:"dsn" env:"DB_DSN"`
		MongoURI    string `yaml:"mongo_uri" env:"MONGO_URI"`
		MongoDB     string `yaml:"mongo_database" env:"MONGO_DATABASE" env-default:"checkout"`
	} `yaml:"store"`

	Processor struct {
		// Kind is cardconnect or iso8583.
		Kind        string        `yaml:"kind" env:"PROCESSOR" env-default:"cardconnect"`
		URL         string        `yaml:"url" env:"CARDCONNECT_URL"`
		Username    string        `yaml:"username" env:"CARDCONNECT_USERNAME"`
		Password    string        `yaml:"password" env:"CARDCONNECT_PASSWORD"`
		ISO8583Addr string        `yaml:"iso8583_addr" env:"ISO8583_ADDR" env-default:"localhost:8583"`
		Timeout     time.Duration `yaml:"timeout" env:"PROCESSOR_TIMEOUT" env-default:"30s"`
	} `yaml:"processor"`

	Kafka struct {
		Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:","`
		Topic   string   `yaml:"topic" env:"KAFKA_TOPIC" env-default:"checkout.payments"`
	} `yaml:"kafka"`

	Pricing struct {
		TaxRate      string `yaml:"tax_rate" env:"TAX_RATE" env-default:"0"`
		ShippingFlat string `yaml:"shipping_flat" env:"SHIPPING_FLAT" env-default:"0"`
	} `yaml:"pricing"`

	// ExpiryTZ is an IANA timezone name for card expiry checks.
	ExpiryTZ string `yaml:"expiry_tz" env:"EXPIRY_TZ"`
}

func DefaultConfig() *Config {
	cfg := &Config{
		HTTPAddr:           "localhost:9190",
		BaseCurrency:       "USD",
		Merchants:          map[string]string{},
		BookkeepingTimeout: defaultBookkeepingTimeout,
	}
	cfg.Store.Backend = "postgres"
	cfg.Store.MongoDB = "checkout"
	cfg.Processor.Kind = "cardconnect"
	cfg.Processor.ISO8583Addr = "localhost:8583"
	cfg.Processor.Timeout = 30 * time.Second
	cfg.Kafka.Topic = "checkout.payments"
	cfg.Pricing.TaxRate = "0"
	cfg.Pricing.ShippingFlat = "0"
	return cfg
}

// LoadConfig reads path (when not empty) and then the environment.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}

	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, cfg)
	} else {
		err = cleanenv.ReadEnv(cfg)
	}
	if err != nil {
		desc, _ := cleanenv.GetDescription(cfg, nil)
		return nil, fmt.Errorf("load config: %w; %s", err, desc)
	}

	if cfg.Merchants == nil {
		cfg.Merchants = map[string]string{}
	}
	return cfg, nil
}
