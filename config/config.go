package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Redis       RedisConfig       `yaml:"redis"`
	DispatchBox DispatchBoxConfig `yaml:"dispatchbox"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                      string `yaml:"host"`
	Port                      int    `yaml:"port"`
	OrderDispatchedTopicName  string `yaml:"order_dispatched_topic_name"`
	TrackingImportedTopicName string `yaml:"tracking_imported_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DispatchBoxConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	PoolCountTTLSeconds int `yaml:"pool_count_ttl_seconds"`

	// Gateway — внешний курьерский API. mode: "shipox" | "fake".
	GatewayMode               string `yaml:"gateway_mode"`
	GatewayBaseURL            string `yaml:"gateway_base_url"`
	GatewayAPIKey             string `yaml:"gateway_api_key"`
	GatewayRateLimitPerMinute int    `yaml:"gateway_rate_limit_per_minute"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
