package checkout_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alovak/cardflow-checkout/checkout"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	err := os.WriteFile(path, []byte(`
http_addr: "0.0.0.0:8080"
base_currency: CAD
merchants:
  USD: "496160873888"
  CAD: "800000000123"
bookkeeping_timeout: 45s
store:
  backend: mongo
  mongo_uri: mongodb://localhost:27017
processor:
  kind: iso8583
  iso8583_addr: "acquirer:8583"
kafka:
  brokers: ["k1:9092", "k2:9092"]
`), 0o600)
	require.NoError(t, err)

	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("DB_DSN", "postgres://checkout@localhost/checkout")

	cfg, err := checkout.LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, "0.0.0.0:8080", cfg.HTTPAddr)
	require.Equal(t, "CAD", cfg.BaseCurrency)
	require.Equal(t, "800000000123", cfg.Merchants["CAD"])
	require.Equal(t, 45*time.Second, cfg.BookkeepingTimeout)
	require.Equal(t, "postgres", cfg.Store.Backend)
	require.Equal(t, "postgres://checkout@localhost/checkout", cfg.Store.DSN)
	require.Equal(t, "iso8583", cfg.Processor.Kind)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	require.Equal(t, "checkout.payments", cfg.Kafka.Topic)
	require.Equal(t, 30*time.Second, cfg.Processor.Timeout)
}

func TestLoadConfig_EnvOnly(t *testing.T) {
	t.Setenv("HTTP_ADDR", "127.0.0.1:0")
	t.Setenv("MERCHANTS", "USD:111,CAD:222")

	cfg, err := checkout.LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:0", cfg.HTTPAddr)
	require.Equal(t, map[string]string{"USD": "111", "CAD": "222"}, cfg.Merchants)
	require.Equal(t, "USD", cfg.BaseCurrency)
}
