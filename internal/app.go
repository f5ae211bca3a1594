package internal

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	logger_adapter "queue-listener-service/internal/adapters/logger"
	"queue-listener-service/internal/adapters/memory"
	postgres_adapter "queue-listener-service/internal/adapters/postgres"
	rabbitmq_adapter "queue-listener-service/internal/adapters/rabbitmq"
	"queue-listener-service/internal/adapters/rest"
	"queue-listener-service/internal/configs"
	"queue-listener-service/internal/constants"
	"queue-listener-service/internal/contracts"
	"queue-listener-service/internal/core/port"
	"queue-listener-service/internal/core/usecase"
	fluentlogger "queue-listener-service/pkg/fluent_logger"
	"queue-listener-service/pkg/postgres"
	"queue-listener-service/pkg/rabbitmq/rabbitmq_common"
	"queue-listener-service/pkg/rabbitmq/rabbitmq_listener"
	"queue-listener-service/pkg/rabbitmq/rabbitmq_metrics"
	"queue-listener-service/pkg/rabbitmq/rabbitmq_producer"
	"queue-listener-service/pkg/tracing"

	"github.com/fluent/fluent-logger-golang/fluent"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"
)

// App – структура приложения
type App struct {
	config       *configs.AppConfig
	dbPool       *pgxpool.Pool
	apiServer    *rest.Server
	fluentClient *fluent.Fluent
	logger       port.LoggerPort

	tracerProvider *sdktrace.TracerProvider

	connManager *rabbitmq_common.ConnectionManager
	listener    *rabbitmq_listener.Listener
	dlqProducer *rabbitmq_producer.Publisher
}

// NewApp создает новый экземпляр приложения.
// Это "Composition Root", где все зависимости создаются и связываются.
func NewApp() (*App, error) {
	appConfig, err := configs.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("error loading application configuration: %w", err)
	}

	// --- 1. ЛОГГЕРЫ ---
	var activeLoggers []port.LoggerPort

	stdoutLogger := logger_adapter.NewSlogAdapter(logger_adapter.SlogConfig{
		Level:    parseLogLevel(appConfig.StdoutLogger.Level),
		IsJSON:   appConfig.StdoutLogger.IsJSON,
		UseColor: true,
	})
	activeLoggers = append(activeLoggers, stdoutLogger)

	var fluentClient *fluent.Fluent
	if appConfig.FluentBit.Enabled {
		fluentClient, err = fluentlogger.NewClient(fluentlogger.Config{
			Host:      appConfig.FluentBit.Host,
			Port:      appConfig.FluentBit.Port,
			TagPrefix: appConfig.AppName,
			Async:     true,
		})
		if err != nil {
			stdoutLogger.Error("Failed to create fluentbit client", err, nil)
			return nil, fmt.Errorf("failed to create fluentbit client: %w", err)
		}

		fluentAdapter, err := logger_adapter.NewFluentLoggerAdapter(fluentClient, parseLogLevel(appConfig.FluentBit.Level))
		if err != nil {
			stdoutLogger.Error("Failed to create fluentbit adapter", err, nil)
			fluentClient.Close()
			return nil, err
		}
		activeLoggers = append(activeLoggers, fluentAdapter)
	}

	multiLogger, err := logger_adapter.NewMultiloggerAdapter(activeLoggers...)
	if err != nil {
		return nil, fmt.Errorf("failed to create multi-logger: %w", err)
	}

	baseLogger := multiLogger.WithFields(port.Fields{"service_name": appConfig.AppName})
	appLogger := baseLogger.WithFields(port.Fields{"component": "app"})
	appLogger.Info("Logger system initialized", port.Fields{
		"active_loggers": len(activeLoggers), "fluent_enabled": appConfig.FluentBit.Enabled,
	})

	application := &App{
		config:       appConfig,
		fluentClient: fluentClient,
		logger:       appLogger,
	}
	if err := application.wire(baseLogger); err != nil {
		appLogger.Error("Failed to initialize application", err, nil)
		if application.listener != nil {
			_ = application.listener.Abort()
		}
		application.closeResources()
		application.shutdownTracing(context.Background())
		return nil, err
	}
	return application, nil
}

// wire создает все остальные компоненты. При ошибке уже созданное
// закрывает вызывающий через closeResources.
func (a *App) wire(baseLogger port.LoggerPort) error {
	cfg := a.config
	ctx := context.Background()

	// --- 2. ТРАССИРОВКА ---
	tp, err := tracing.NewTracerProvider(ctx, tracing.Config{
		ServiceName:  cfg.AppName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SampleRatio:  cfg.Tracing.SampleRatio,
		Insecure:     cfg.Tracing.Insecure,
	})
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	tracing.Install(tp)
	a.tracerProvider = tp
	a.logger.Info("Tracer provider installed.", port.Fields{
		"otlp_endpoint": cfg.Tracing.OTLPEndpoint, "sample_ratio": cfg.Tracing.SampleRatio,
	})

	// --- 3. ЖУРНАЛ СОБЫТИЙ ---
	var journal port.EventJournalPort
	if cfg.Database.URL != "" {
		dbPool, err := postgres.NewClient(ctx, postgres.Config{
			DatabaseURL: cfg.Database.URL,
			MaxConns:    cfg.Database.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		a.dbPool = dbPool
		a.logger.Info("Successfully connected to PostgreSQL pool!", nil)

		repo, err := postgres_adapter.NewEventJournalRepository(dbPool)
		if err != nil {
			return fmt.Errorf("failed to create event journal repository: %w", err)
		}
		if err := repo.Migrate(ctx); err != nil {
			return err
		}
		journal = repo
	} else {
		a.logger.Warn("DATABASE_URL is not set, events are journaled in memory", nil)
		journal = memory.NewEventJournal()
	}

	// --- 4. RABBITMQ ---
	connManagerBridge := rabbitmq_adapter.NewPkgLoggerBridge(baseLogger.WithFields(port.Fields{"component": "rabbitmq_conn_manager"}))
	connManager, err := rabbitmq_common.NewManager(rabbitmq_common.Config{
		URL:               cfg.RabbitMQ.URL,
		ReconnectInterval: cfg.RabbitMQ.ReconnectInterval,
	}, connManagerBridge)
	if err != nil {
		return fmt.Errorf("failed to create connection manager: %w", err)
	}
	a.connManager = connManager
	a.logger.Info("RabbitMQ Connection Manager initialized.", nil)

	// финальный DLX: сюда уходят сообщения, исчерпавшие ретраи
	dlqProducer, err := rabbitmq_producer.NewPublisher(rabbitmq_producer.PublisherConfig{
		ExchangeName:             constants.FinalDLXExchange,
		ExchangeType:             "direct",
		DurableExchange:          true,
		DeclareExchangeIfMissing: true,
		Logger:                   rabbitmq_adapter.NewPkgLoggerBridge(baseLogger.WithFields(port.Fields{"component": "rabbitmq_producer"})),
	}, connManager)
	if err != nil {
		return fmt.Errorf("failed to create final DLX producer: %w", err)
	}
	a.dlqProducer = dlqProducer

	// у слушателя собственное соединение: Stop/Abort закрывают его целиком
	conn, ch, err := connManager.OpenDedicated()
	if err != nil {
		return fmt.Errorf("failed to open listener connection: %w", err)
	}

	// --- 5. МЕТРИКИ И СЛУШАТЕЛЬ ---
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	listener := rabbitmq_listener.NewListener(
		rabbitmq_listener.WithLogger(rabbitmq_adapter.NewPkgLoggerBridge(baseLogger.WithFields(port.Fields{"component": "rabbitmq_listener"}))),
		rabbitmq_listener.WithObserver(rabbitmq_metrics.NewObserver(registry)),
		rabbitmq_listener.WithRepublisher(dlqProducer),
		rabbitmq_listener.WithTracerProvider(tp),
		rabbitmq_listener.WithPropagator(propagation.TraceContext{}),
	)
	listener.Init(rabbitmq_listener.NewAMQPChannel(conn, ch))
	a.listener = listener

	if cfg.Listener.PrefetchCount != nil || cfg.Listener.PrefetchSize != nil {
		if err := listener.SetQosSettings(cfg.Listener.PrefetchCount, cfg.Listener.PrefetchSize); err != nil {
			return fmt.Errorf("failed to apply listener QoS: %w", err)
		}
	}

	// --- 6. USE CASES И ВХОДЯЩИЕ АДАПТЕРЫ ---
	validator, err := contracts.Default()
	if err != nil {
		return fmt.Errorf("failed to load event schemas: %w", err)
	}
	recordEventUseCase := usecase.NewRecordEventUseCase(journal)

	adapters := []*rabbitmq_adapter.EventConsumerAdapter{
		rabbitmq_adapter.NewEventConsumerAdapter(rabbitmq_adapter.OrdersService(cfg.Orders), "OrderEvent", recordEventUseCase, validator, baseLogger),
		rabbitmq_adapter.NewEventConsumerAdapter(rabbitmq_adapter.AuditService(cfg.Audit), "AuditEvent", recordEventUseCase, validator, baseLogger),
	}
	for _, adapter := range adapters {
		if err := listener.RegisterService(adapter.Descriptor()); err != nil {
			return fmt.Errorf("failed to register service: %w", err)
		}
	}
	a.logger.Info("Listener services registered.", port.Fields{"count": len(adapters)})

	// --- 7. REST API ---
	router := rest.NewRouter(
		rest.NewListenerHandlers(listener, journal),
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		cfg.Rest.AllowedOrigins,
		baseLogger,
	)
	a.apiServer = rest.NewServer(cfg.Rest.PORT, router, baseLogger)
	a.logger.Info("REST API server configured.", nil)

	return nil
}

// Run запускает слушатель и HTTP-сервер и ждет сигнала или ошибки одного из них.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.logger.Info("Application is starting...", nil)
	if err := startServices(a.listener, a.logger); err != nil {
		a.shutdown()
		return fmt.Errorf("failed to start listener: %w", err)
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("Starting HTTP server...", port.Fields{"port": a.config.Rest.PORT})
		if err := a.apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		if ctx.Err() != nil {
			a.logger.Warn("Received OS signal, shutting down...", nil)
		}
		a.shutdown()
		return nil
	})

	a.logger.Info("Application running. Waiting for signals or server error...", nil)
	if err := g.Wait(); err != nil {
		a.logger.Error("A critical component failed", err, nil)
		return err
	}
	return nil
}

// shutdown: сначала входящий HTTP, затем слушатель (с ожиданием обработчиков),
// затем исходящие ресурсы
func (a *App) shutdown() {
	a.logger.Info("Shutdown sequence initiated...", nil)

	stopCtx, cancel := context.WithTimeout(context.Background(), a.config.Listener.ShutdownTimeout)
	defer cancel()

	if a.apiServer != nil {
		if err := a.apiServer.Stop(stopCtx); err != nil {
			a.logger.Error("Error during API server shutdown", err, nil)
		}
	}

	if a.listener != nil {
		if err := a.listener.Stop(stopCtx); err != nil {
			a.logger.Error("Graceful listener stop failed, aborting", err, nil)
			if err := a.listener.Abort(); err != nil {
				a.logger.Error("Listener abort failed", err, nil)
			}
		}
	}

	a.closeResources()
	a.shutdownTracing(stopCtx)
	a.logger.Info("Application shut down gracefully.", nil)

	if a.fluentClient != nil {
		if err := a.fluentClient.Close(); err != nil {
			// fluent может быть уже недоступен
			log.Printf("ERROR: Error closing fluent client: %v\n", err)
		}
	}
}

// serviceStarter - часть слушателя, нужная для запуска
type serviceStarter interface {
	Start() error
	Services() []rabbitmq_listener.ServiceStatus
}

// startServices запускает слушатель. Ошибка отдельного сервиса не останавливает
// приложение, пока хотя бы один сервис потребляет сообщения.
func startServices(listener serviceStarter, logger port.LoggerPort) error {
	startErr := listener.Start()
	if startErr == nil {
		return nil
	}

	var started, failed []string
	for _, svc := range listener.Services() {
		if svc.Started {
			started = append(started, svc.Name)
		} else {
			failed = append(failed, svc.Name)
		}
	}
	if len(started) == 0 {
		return startErr
	}

	logger.Error("Some listener services failed to start, continuing with the rest", startErr, port.Fields{
		"started": started, "failed": failed,
	})
	return nil
}

// shutdownTracing выгружает накопленные спаны в экспортер
func (a *App) shutdownTracing(ctx context.Context) {
	if a.tracerProvider == nil {
		return
	}
	if err := a.tracerProvider.Shutdown(ctx); err != nil {
		a.logger.Error("Error shutting down tracer provider", err, nil)
	}
	a.tracerProvider = nil
}

func (a *App) closeResources() {
	if a.dlqProducer != nil {
		if err := a.dlqProducer.Close(); err != nil {
			a.logger.Error("Error closing final DLX producer", err, nil)
		}
	}
	if a.connManager != nil {
		if err := a.connManager.Close(); err != nil {
			a.logger.Error("Error closing connection manager", err, nil)
		}
	}
	if a.dbPool != nil {
		a.dbPool.Close()
		a.logger.Info("PostgreSQL pool closed.", nil)
	}
}

func parseLogLevel(levelStr string) slog.Level {
	level, ok := logger_adapter.ParseLevel(levelStr)
	if !ok {
		log.Printf("Warning: Unknown log level '%s'. Defaulting to 'info'.", levelStr)
	}
	return level
}
