package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
database:
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "db"
kafka:
  host: "localhost"
  port: 9092
  order_dispatched_topic_name: "order.dispatched"
  tracking_imported_topic_name: "tracking.imported"
redis:
  host: "localhost"
  port: 6379
dispatchbox:
  http_addr: ":8080"
  kafka_consumer_group: "dispatch-api"
  pool_count_ttl_seconds: 60
  gateway_mode: "shipox"
  gateway_base_url: "http://localhost:9100"
  gateway_api_key: "demo"
  gateway_rate_limit_per_minute: 120
`), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "order.dispatched", cfg.Kafka.OrderDispatchedTopicName)
	require.Equal(t, "tracking.imported", cfg.Kafka.TrackingImportedTopicName)
	require.Equal(t, 6379, cfg.Redis.Port)
	require.Equal(t, ":8080", cfg.DispatchBox.HTTPAddr)
	require.Equal(t, "shipox", cfg.DispatchBox.GatewayMode)
	require.Equal(t, 120, cfg.DispatchBox.GatewayRateLimitPerMinute)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/cfg.yaml")
	require.Error(t, err)
}
