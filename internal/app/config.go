package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/vladislavdragonenkov/settlement/internal/messaging/kafka"
	ordersvc "github.com/vladislavdragonenkov/settlement/internal/service/order"
)

const (
	// StorageDriverMemory хранит каталог и заказы в памяти процесса.
	StorageDriverMemory = "memory"
	// StorageDriverPostgres хранит каталог и заказы в PostgreSQL.
	StorageDriverPostgres = "postgres"

	// NumberBackendMemory держит счётчик номеров в памяти и годится только для одного экземпляра.
	NumberBackendMemory = "memory"
	// NumberBackendPostgres — sequence в PostgreSQL.
	NumberBackendPostgres = "postgres"
	// NumberBackendRedis — INCR в Redis.
	NumberBackendRedis = "redis"

	envPrefix      = "SETTLEMENT"
	configFileName = "settlement"
	devJWTSecret   = "dev-secret-change-me"
)

// Config описывает настройки запуска сервиса расчётов.
type Config struct {
	HTTPAddr    string
	MetricsAddr string
	GRPCAddr    string
	LogLevel    string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	// CatalogSeedFile указывает JSON со списком товаров, заводимых при старте.
	CatalogSeedFile string

	OrderNumberBackend string
	RedisAddr          string

	KafkaBrokers []string
	KafkaTopic   string

	JWTSecret string
	JWTIssuer string
	JWTTTL    time.Duration

	TaxRate             decimal.Decimal
	ShippingBase        decimal.Decimal
	ShippingPerWeight   decimal.Decimal
	ExternalCallTimeout time.Duration
	RequestTimeout      time.Duration
	ShutdownTimeout     time.Duration
}

// DefaultConfig возвращает настройки для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:            ":8080",
		MetricsAddr:         ":9090",
		GRPCAddr:            ":50051",
		LogLevel:            "info",
		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		OrderNumberBackend:  NumberBackendMemory,
		RedisAddr:           "localhost:6379",
		KafkaTopic:          kafka.TopicOrderEvents,
		JWTSecret:           devJWTSecret,
		JWTIssuer:           "settlement",
		JWTTTL:              time.Hour,
		TaxRate:             decimal.RequireFromString("0.08"),
		ShippingBase:        decimal.RequireFromString("5.00"),
		ShippingPerWeight:   decimal.RequireFromString("0.50"),
		ExternalCallTimeout: ordersvc.DefaultExternalCallTimeout,
		RequestTimeout:      15 * time.Second,
		ShutdownTimeout:     10 * time.Second,
	}
}

// LoadConfig читает настройки. Приоритет: переменные SETTLEMENT_*, затем
// settlement.yaml (в path или рабочем каталоге), затем DefaultConfig.
func LoadConfig(path string) (Config, error) {
	def := DefaultConfig()
	v := viper.New()

	v.SetDefault("http_addr", def.HTTPAddr)
	v.SetDefault("metrics_addr", def.MetricsAddr)
	v.SetDefault("grpc_addr", def.GRPCAddr)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("storage_driver", def.StorageDriver)
	v.SetDefault("postgres_dsn", def.PostgresDSN)
	v.SetDefault("postgres_auto_migrate", def.PostgresAutoMigrate)
	v.SetDefault("catalog_seed_file", "")
	v.SetDefault("order_number_backend", def.OrderNumberBackend)
	v.SetDefault("redis_addr", def.RedisAddr)
	v.SetDefault("kafka_brokers", "")
	v.SetDefault("kafka_topic", def.KafkaTopic)
	v.SetDefault("jwt_secret", def.JWTSecret)
	v.SetDefault("jwt_issuer", def.JWTIssuer)
	v.SetDefault("jwt_ttl", def.JWTTTL)
	v.SetDefault("tax_rate", def.TaxRate.String())
	v.SetDefault("shipping_base", def.ShippingBase.String())
	v.SetDefault("shipping_per_weight", def.ShippingPerWeight.String())
	v.SetDefault("external_call_timeout", def.ExternalCallTimeout)
	v.SetDefault("request_timeout", def.RequestTimeout)
	v.SetDefault("shutdown_timeout", def.ShutdownTimeout)

	v.SetConfigName(configFileName)
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Config{
		HTTPAddr:            v.GetString("http_addr"),
		MetricsAddr:         v.GetString("metrics_addr"),
		GRPCAddr:            v.GetString("grpc_addr"),
		LogLevel:            v.GetString("log_level"),
		StorageDriver:       strings.ToLower(strings.TrimSpace(v.GetString("storage_driver"))),
		PostgresDSN:         strings.TrimSpace(v.GetString("postgres_dsn")),
		PostgresAutoMigrate: v.GetBool("postgres_auto_migrate"),
		CatalogSeedFile:     strings.TrimSpace(v.GetString("catalog_seed_file")),
		OrderNumberBackend:  strings.ToLower(strings.TrimSpace(v.GetString("order_number_backend"))),
		RedisAddr:           v.GetString("redis_addr"),
		KafkaBrokers:        splitList(v.GetString("kafka_brokers")),
		KafkaTopic:          v.GetString("kafka_topic"),
		JWTSecret:           v.GetString("jwt_secret"),
		JWTIssuer:           v.GetString("jwt_issuer"),
		JWTTTL:              v.GetDuration("jwt_ttl"),
		ExternalCallTimeout: v.GetDuration("external_call_timeout"),
		RequestTimeout:      v.GetDuration("request_timeout"),
		ShutdownTimeout:     v.GetDuration("shutdown_timeout"),
	}

	var err error
	if cfg.TaxRate, err = decimalSetting(v, "tax_rate"); err != nil {
		return Config{}, err
	}
	if cfg.ShippingBase, err = decimalSetting(v, "shipping_base"); err != nil {
		return Config{}, err
	}
	if cfg.ShippingPerWeight, err = decimalSetting(v, "shipping_per_weight"); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек до запуска.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if c.PostgresDSN == "" {
			return errors.New("postgres storage driver requires SETTLEMENT_POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", c.StorageDriver)
	}

	switch c.OrderNumberBackend {
	case NumberBackendMemory:
	case NumberBackendPostgres:
		if c.StorageDriver != StorageDriverPostgres {
			return errors.New("postgres order number backend requires postgres storage driver")
		}
	case NumberBackendRedis:
		if c.RedisAddr == "" {
			return errors.New("redis order number backend requires SETTLEMENT_REDIS_ADDR")
		}
	default:
		return fmt.Errorf("unsupported order number backend %q", c.OrderNumberBackend)
	}

	if c.JWTSecret == "" {
		return errors.New("jwt secret must not be empty")
	}
	if c.TaxRate.IsNegative() || c.ShippingBase.IsNegative() || c.ShippingPerWeight.IsNegative() {
		return errors.New("tax rate and shipping fees must not be negative")
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	return nil
}

func decimalSetting(v *viper.Viper, key string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(v.GetString(key)))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
