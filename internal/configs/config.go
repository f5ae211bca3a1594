package configs

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// RabbitMQConfig хранит конфигурацию для RabbitMQ
type RabbitMQConfig struct {
	URL               string
	ReconnectInterval time.Duration
}

// ListenerConfig - глобальные настройки слушателя
type ListenerConfig struct {
	// Глобальный QoS на канал; nil - не задан, тогда QoS выставляется по первому сервису
	PrefetchCount   *int64
	PrefetchSize    *int64
	ShutdownTimeout time.Duration
}

// OrdersConfig - сервис заказов: ручное подтверждение и ретраи
type OrdersConfig struct {
	Queue      string
	Prefetch   int
	MaxRetries int
	RetryTTL   time.Duration
}

// AuditConfig - сервис аудита: auto-ack, последовательная обработка
type AuditConfig struct {
	Queue string
}

// DBconfig хранит конфигурацию для БД. Пустой URL - журнал в памяти.
type DBconfig struct {
	URL      string
	MaxConns int32
}

type RestConfig struct {
	PORT           string
	AllowedOrigins []string
}

type StdoutLogConfig struct {
	Level  string
	IsJSON bool
}

type FluentBitConfig struct {
	Host    string
	Port    int
	Enabled bool
	Level   string
}

// TracingConfig - экспорт трасс OTLP/HTTP. Пустой endpoint - спаны только сэмплируются, без экспорта.
type TracingConfig struct {
	OTLPEndpoint string
	SampleRatio  float64
	Insecure     bool
}

// AppConfig хранит всю конфигурацию приложения
type AppConfig struct {
	AppName      string
	RabbitMQ     RabbitMQConfig
	Listener     ListenerConfig
	Orders       OrdersConfig
	Audit        AuditConfig
	Database     DBconfig
	Rest         RestConfig
	FluentBit    FluentBitConfig
	StdoutLogger StdoutLogConfig
	Tracing      TracingConfig
}

// LoadConfig загружает конфигурацию из .env (если он есть) и переменных окружения
func LoadConfig(envPath ...string) (*AppConfig, error) {
	var err error
	if len(envPath) > 0 {
		err = godotenv.Load(envPath[0])
	} else {
		err = godotenv.Load()
	}
	if err != nil {
		// в контейнере переменные приходят из окружения, .env необязателен
		log.Printf("Info: Could not load .env file (path: %v): %v. Using environment only.\n", envPath, err)
	}

	cfg := &AppConfig{}

	cfg.AppName = getEnvAsString("APP_NAME", "queue-listener-service")

	cfg.RabbitMQ.URL = os.Getenv("RABBITMQ_URL")
	if cfg.RabbitMQ.URL == "" {
		return nil, fmt.Errorf("RABBITMQ_URL environment variable is required")
	}
	cfg.RabbitMQ.ReconnectInterval = getEnvAsDuration("RABBITMQ_RECONNECT_INTERVAL", 10*time.Second)

	cfg.Listener.PrefetchCount = getEnvAsOptionalInt64("LISTENER_PREFETCH_COUNT")
	cfg.Listener.PrefetchSize = getEnvAsOptionalInt64("LISTENER_PREFETCH_SIZE")
	cfg.Listener.ShutdownTimeout = getEnvAsDuration("LISTENER_SHUTDOWN_TIMEOUT", 15*time.Second)

	cfg.Orders.Queue = getEnvAsString("ORDERS_QUEUE", "orders")
	cfg.Orders.Prefetch = getEnvAsInt("ORDERS_PREFETCH", 10)
	cfg.Orders.MaxRetries = getEnvAsInt("ORDERS_MAX_RETRIES", 3)
	cfg.Orders.RetryTTL = time.Duration(getEnvAsInt("ORDERS_RETRY_TTL_MS", 10000)) * time.Millisecond
	if cfg.Orders.Prefetch < 0 {
		return nil, fmt.Errorf("ORDERS_PREFETCH cannot be negative: %d", cfg.Orders.Prefetch)
	}

	cfg.Audit.Queue = getEnvAsString("AUDIT_QUEUE", "audit_events")
	if cfg.Audit.Queue == cfg.Orders.Queue {
		return nil, fmt.Errorf("AUDIT_QUEUE and ORDERS_QUEUE must differ, both are %q", cfg.Audit.Queue)
	}

	cfg.Database.URL = os.Getenv("DATABASE_URL")
	cfg.Database.MaxConns = int32(getEnvAsInt("DATABASE_MAX_CONNS", 0))

	cfg.Rest.PORT = getEnvAsString("HTTP_PORT", "8080")
	cfg.Rest.AllowedOrigins = getEnvAsList("CORS_ALLOWED_ORIGINS")

	cfg.FluentBit.Enabled = getEnvAsBool("FLUENTBIT_ENABLED", false)
	if cfg.FluentBit.Enabled {
		cfg.FluentBit.Host = os.Getenv("FLUENTBIT_HOST")
		if cfg.FluentBit.Host == "" {
			log.Println("WARNING: FLUENTBIT_ENABLED is true, but FLUENTBIT_HOST is not set. Disabling Fluent Bit.")
			cfg.FluentBit.Enabled = false
		}
		cfg.FluentBit.Port = getEnvAsInt("FLUENTBIT_PORT", 24224)
		cfg.FluentBit.Level = getEnvAsString("FLUENTBIT_LOG_LEVEL", "info")
	}

	cfg.StdoutLogger.Level = getEnvAsString("STDOUT_LOG_LEVEL", "debug")
	cfg.StdoutLogger.IsJSON = getEnvAsBool("STDOUT_LOG_JSON", false)

	cfg.Tracing.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	cfg.Tracing.SampleRatio = getEnvAsFloat("OTEL_TRACES_SAMPLER_RATIO", 1.0)
	cfg.Tracing.Insecure = getEnvAsBool("OTEL_EXPORTER_OTLP_INSECURE", false)
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		return nil, fmt.Errorf("OTEL_TRACES_SAMPLER_RATIO must be within [0, 1], got %v", cfg.Tracing.SampleRatio)
	}

	return cfg, nil
}

// getEnvAsString читает переменную окружения как строку или возвращает значение по умолчанию
func getEnvAsString(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvAsInt читает переменную окружения как int или возвращает значение по умолчанию.
// Логирует ошибку, если переменная есть, но не может быть преобразована в int
func getEnvAsInt(key string, defaultValue int) int {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}

	valueInt, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Warning: Environment variable %s (value: %s) could not be parsed as int: %v. Using default value: %d\n", key, valueStr, err, defaultValue)
		return defaultValue
	}
	return valueInt
}

// getEnvAsOptionalInt64 возвращает nil, если переменная не задана или некорректна
func getEnvAsOptionalInt64(key string) *int64 {
	valueStr, exists := os.LookupEnv(key)
	if !exists || valueStr == "" {
		return nil
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		log.Printf("Warning: Environment variable %s (value: %s) could not be parsed as int64: %v. Ignoring.\n", key, valueStr, err)
		return nil
	}
	return &value
}

// getEnvAsBool читает переменную окружения как bool или возвращает значение по умолчанию
func getEnvAsBool(key string, defaultValue bool) bool {
	valStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	valBool, err := strconv.ParseBool(valStr)
	if err != nil {
		log.Printf("Warning: Environment variable %s (value: %s) could not be parsed as bool: %v. Using default value: %t\n", key, valStr, err, defaultValue)
		return defaultValue
	}
	return valBool
}

// getEnvAsFloat читает переменную окружения как float64 или возвращает значение по умолчанию
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valStr, 64)
	if err != nil {
		log.Printf("Warning: Environment variable %s (value: %s) could not be parsed as float: %v. Using default value: %v\n", key, valStr, err, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	value, err := time.ParseDuration(valStr)
	if err != nil {
		log.Printf("Warning: Environment variable %s (value: %s) could not be parsed as duration: %v. Using default value: %s\n", key, valStr, err, defaultValue)
		return defaultValue
	}
	return value
}

// getEnvAsList читает список через запятую
func getEnvAsList(key string) []string {
	valStr := os.Getenv(key)
	if valStr == "" {
		return nil
	}
	var list []string
	for _, v := range strings.Split(valStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			list = append(list, v)
		}
	}
	return list
}
