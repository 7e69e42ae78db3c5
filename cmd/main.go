package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stripe/stripe-go/v75"
	"github.com/stripe/stripe-go/v75/paymentintent"
	"golang.org/x/sync/errgroup"

	"github.com/sbilibin2017/gw-deposit-settler/internal/facades"
	"github.com/sbilibin2017/gw-deposit-settler/internal/handlers"
	"github.com/sbilibin2017/gw-deposit-settler/internal/jwt"
	"github.com/sbilibin2017/gw-deposit-settler/internal/logger"
	"github.com/sbilibin2017/gw-deposit-settler/internal/middlewares"
	"github.com/sbilibin2017/gw-deposit-settler/internal/repositories"
	"github.com/sbilibin2017/gw-deposit-settler/internal/services"
	"github.com/sbilibin2017/gw-deposit-settler/internal/workers"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Build info variables, set via ldflags at build time.
var (
	buildVersion = "N/A" // Version of the service
	buildDate    = "N/A" // Build date
	buildCommit  = "N/A" // Git commit hash
)

const serviceName = "deposit-settler"

// Balance store backends.
const (
	storePostgres = "postgres"
	storeDynamoDB = "dynamodb"
)

var errUnknownBalanceStore = errors.New("unknown balance store")

// config is the whole runtime configuration, read from the environment.
type config struct {
	AppHost  string
	AppPort  string
	LogLevel string

	KafkaBrokers       []string
	DepositsTopic      string
	NotificationsTopic string
	DLQTopic           string
	GroupID            string
	MaxWait            time.Duration

	Workers         int
	MaxRetries      int
	CallTimeout     time.Duration
	RejectionPolicy services.RejectionPolicy

	FinancialServiceURL string
	StripeKey           string

	BalanceStore string

	PGHost         string
	PGPort         int
	PGUser         string
	PGPassword     string
	PGDB           string
	PGMaxOpenConns int
	PGMaxIdleConns int

	DynamoRegion    string
	DynamoEndpoint  string
	DynamoTable     string
	DynamoAccessKey string
	DynamoSecretKey string

	RedisHost          string
	RedisPort          int
	RedisDB            int
	RedisPassword      string
	RedisPoolSize      int
	RedisMinIdleConns  int
	ConversionCacheTTL time.Duration

	JWTSecret string
	JWTExp    time.Duration
}

func main() {
	printBuildInfo()
	configPath, issueTokenFor := parseFlags()

	cfg, err := parseConfig(configPath)
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}

	if issueTokenFor != "" {
		token, err := jwt.New(jwt.WithSecretKey(cfg.JWTSecret), jwt.WithExpiration(cfg.JWTExp)).
			Generate(context.Background(), issueTokenFor)
		if err != nil {
			log.Fatalf("failed to issue token: %v", err)
		}
		fmt.Println(token)
		return
	}

	if err := run(context.Background(), cfg); err != nil {
		log.Fatalf("application stopped with error: %v", err)
	}
}

// printBuildInfo prints the build version, commit hash, and build date.
func printBuildInfo() {
	fmt.Printf("Starting %s. Version: %s, Commit: %s, Build: %s\n", serviceName, buildVersion, buildCommit, buildDate)
}

// parseFlags parses command-line flags and returns the config file path and,
// when set, the account to issue an ops API token for.
func parseFlags() (configPath, issueTokenFor string) {
	c := flag.String("c", "config.env", "Path to configuration file")
	t := flag.String("issue-token", "", "Print an ops API token for the given account and exit")
	flag.Parse()
	return *c, *t
}

// parseConfig loads environment variables from a file and returns the
// application, Kafka, collaborator, store, Redis, and JWT configuration.
func parseConfig(path string) (cfg config, err error) {
	_ = godotenv.Load(path)

	getEnv := func(key, defaultValue string) string {
		if val, ok := os.LookupEnv(key); ok && val != "" {
			return val
		}
		return defaultValue
	}
	getInt := func(key, defaultValue string) (int, error) {
		v, err := strconv.Atoi(getEnv(key, defaultValue))
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		return v, nil
	}
	var n int

	// Application config
	cfg.AppHost = getEnv("APP_HOST", "localhost")
	cfg.AppPort = getEnv("APP_PORT", "8080")
	cfg.LogLevel = getEnv("APP_LOG_LEVEL", "info")

	// Kafka config
	cfg.KafkaBrokers = splitList(getEnv("KAFKA_BROKERS", "localhost:9092"))
	cfg.DepositsTopic = getEnv("KAFKA_DEPOSITS_TOPIC", "deposits")
	cfg.NotificationsTopic = getEnv("KAFKA_NOTIFICATIONS_TOPIC", "emails")
	cfg.DLQTopic = getEnv("KAFKA_DLQ_TOPIC", "deposits.dlq")
	cfg.GroupID = getEnv("KAFKA_GROUP_ID", "deposits-group")
	if n, err = getInt("KAFKA_MAX_WAIT_MS", "100"); err != nil {
		return
	}
	cfg.MaxWait = time.Duration(n) * time.Millisecond

	// Pipeline config
	if cfg.Workers, err = getInt("WORKERS", "1"); err != nil {
		return
	}
	if cfg.Workers < 1 {
		err = fmt.Errorf("WORKERS: must be at least 1, got %d", cfg.Workers)
		return
	}
	if cfg.MaxRetries, err = getInt("MAX_RETRIES", "5"); err != nil {
		return
	}
	if cfg.MaxRetries < 0 {
		err = fmt.Errorf("MAX_RETRIES: must not be negative, got %d", cfg.MaxRetries)
		return
	}
	if n, err = getInt("EXTERNAL_CALL_TIMEOUT_MS", "5000"); err != nil {
		return
	}
	cfg.CallTimeout = time.Duration(n) * time.Millisecond
	if cfg.RejectionPolicy, err = services.ParseRejectionPolicy(getEnv("CAPTURE_REJECTION_POLICY", "halt")); err != nil {
		return
	}

	// Collaborators
	cfg.FinancialServiceURL = getEnv("FINANCIAL_SERVICE_URL", "http://localhost:8082")
	cfg.StripeKey = getEnv("STRIPE_KEY", "")

	// Balance store config
	cfg.BalanceStore = strings.ToLower(getEnv("BALANCE_STORE", storePostgres))
	if cfg.BalanceStore != storePostgres && cfg.BalanceStore != storeDynamoDB {
		err = fmt.Errorf("%w: %q", errUnknownBalanceStore, cfg.BalanceStore)
		return
	}

	// PostgreSQL config
	cfg.PGHost = getEnv("POSTGRES_HOST", "localhost")
	cfg.PGUser = getEnv("POSTGRES_USER", "user")
	cfg.PGPassword = getEnv("POSTGRES_PASSWORD", "password")
	cfg.PGDB = getEnv("POSTGRES_DB", "database")
	if cfg.PGPort, err = getInt("POSTGRES_PORT", "5432"); err != nil {
		return
	}
	if cfg.PGMaxOpenConns, err = getInt("POSTGRES_MAX_OPEN_CONNS", "16"); err != nil {
		return
	}
	if cfg.PGMaxIdleConns, err = getInt("POSTGRES_MAX_IDLE_CONNS", "8"); err != nil {
		return
	}

	// DynamoDB config
	cfg.DynamoRegion = getEnv("DYNAMODB_REGION", "us-east-1")
	cfg.DynamoEndpoint = getEnv("DYNAMODB_ENDPOINT", "")
	cfg.DynamoTable = getEnv("DYNAMODB_TABLE", "accounts")
	cfg.DynamoAccessKey = getEnv("DYNAMODB_ACCESS_KEY_ID", "")
	cfg.DynamoSecretKey = getEnv("DYNAMODB_SECRET_ACCESS_KEY", "")

	// Redis config
	cfg.RedisHost = getEnv("REDIS_HOST", "localhost")
	if cfg.RedisPort, err = getInt("REDIS_PORT", "6379"); err != nil {
		return
	}
	if cfg.RedisDB, err = getInt("REDIS_DB", "0"); err != nil {
		return
	}
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	if cfg.RedisPoolSize, err = getInt("REDIS_POOL_SIZE", "10"); err != nil {
		return
	}
	if cfg.RedisMinIdleConns, err = getInt("REDIS_MIN_IDLE_CONNS", "2"); err != nil {
		return
	}
	if n, err = getInt("CONVERSION_CACHE_TTL_SECOND", "86400"); err != nil {
		return
	}
	cfg.ConversionCacheTTL = time.Duration(n) * time.Second

	// JWT config
	cfg.JWTSecret = getEnv("JWT_SECRET_KEY", "my_super_secret_key")
	if n, err = getInt("JWT_EXP_SECOND", "3600"); err != nil {
		return
	}
	cfg.JWTExp = time.Duration(n) * time.Second

	return
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// balanceStore is what the pipeline and the ops API need from a backend.
type balanceStore interface {
	services.BalanceCreditor
	handlers.BalanceReader
	EnsureSchema(ctx context.Context) error
}

// openBalanceStore connects the configured backend and returns it with its cleanup.
func openBalanceStore(ctx context.Context, cfg config) (balanceStore, func(), error) {
	switch cfg.BalanceStore {
	case storeDynamoDB:
		opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.DynamoRegion)}
		if cfg.DynamoEndpoint != "" {
			opts = append(opts, awsconfig.WithBaseEndpoint(cfg.DynamoEndpoint))
		}
		if cfg.DynamoAccessKey != "" {
			opts = append(opts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.DynamoAccessKey, cfg.DynamoSecretKey, "")))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("load aws config: %w", err)
		}
		logger.Log.Infow("Using DynamoDB balance store", "region", cfg.DynamoRegion,
			"endpoint", cfg.DynamoEndpoint, "table", cfg.DynamoTable)
		client := dynamodb.NewFromConfig(awsCfg)
		return repositories.NewBalanceDynamoDBRepository(client, cfg.DynamoTable), func() {}, nil

	default:
		dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
			cfg.PGUser, cfg.PGPassword, cfg.PGHost, cfg.PGPort, cfg.PGDB)
		logger.Log.Infow("Connecting to PostgreSQL", "host", cfg.PGHost, "port", cfg.PGPort, "db", cfg.PGDB)

		db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("PostgreSQL connection error: %w", err)
		}
		db.SetMaxOpenConns(cfg.PGMaxOpenConns)
		db.SetMaxIdleConns(cfg.PGMaxIdleConns)
		return repositories.NewBalancePostgresRepository(db), func() { db.Close() }, nil
	}
}

// newRouter builds the ops HTTP API.
func newRouter(tokener middlewares.Tokener, balances handlers.BalanceReader) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(middlewares.LoggingMiddleware)

	r.Get("/health", handlers.NewHealthHandler())
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middlewares.AuthMiddleware(tokener))
		r.Get("/accounts/{email}/balance", handlers.NewGetBalanceHandler(balances))
	})
	return r
}

// run initializes the logger, the balance store, Redis, the collaborators, the
// Kafka consumer, and the ops HTTP server, and stops them all on a signal.
func run(ctx context.Context, cfg config) error {
	// Initialize logger
	if err := logger.Initialize(cfg.LogLevel, serviceName); err != nil {
		fmt.Println("failed to initialize logger:", err)
		return err
	}
	defer logger.Sync()
	logger.Log.Infof("Logger initialized with level %s", cfg.LogLevel)

	// Balance store
	store, closeStore, err := openBalanceStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	// Connect to Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort),
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     cfg.RedisPoolSize,
		MinIdleConns: cfg.RedisMinIdleConns,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("Redis connection error: %w", err)
	}
	defer rdb.Close()

	// Collaborators
	converter := facades.NewExchangeRateHTTPFacade(&http.Client{Timeout: cfg.CallTimeout}, cfg.FinancialServiceURL)
	if cfg.StripeKey == "" {
		logger.Log.Warn("STRIPE_KEY is empty, payment captures will fail")
	}
	capturer := facades.NewPaymentStripeFacade(&paymentintent.Client{
		B:   stripe.GetBackend(stripe.APIBackend),
		Key: cfg.StripeKey,
	})

	// Kafka producers
	notificationsWriter := &kafka.Writer{
		Addr:         kafka.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.NotificationsTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		ErrorLogger:  kafka.LoggerFunc(logger.Log.Errorf),
	}
	defer notificationsWriter.Close()
	dlqWriter := &kafka.Writer{
		Addr:         kafka.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.DLQTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		ErrorLogger:  kafka.LoggerFunc(logger.Log.Errorf),
	}
	defer dlqWriter.Close()

	// Pipeline
	depositService := services.NewDepositService(
		converter,
		repositories.NewConversionCacheRepository(rdb, cfg.ConversionCacheTTL),
		capturer,
		store,
		services.NewNotificationService(notificationsWriter),
		services.WithRejectionPolicy(cfg.RejectionPolicy),
		services.WithCallTimeout(cfg.CallTimeout),
	)

	readers := make([]workers.MessageReader, 0, cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		readers = append(readers, kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.KafkaBrokers,
			GroupID:     cfg.GroupID,
			Topic:       cfg.DepositsTopic,
			MaxWait:     cfg.MaxWait,
			ErrorLogger: kafka.LoggerFunc(logger.Log.Errorf),
		}))
	}
	consumer := workers.NewConsumer(readers, depositService,
		workers.WithDeadLetterWriter(dlqWriter),
		workers.WithMaxRetries(uint64(cfg.MaxRetries)),
	)

	logger.Log.Infow("Deposit pipeline configured",
		"workers", cfg.Workers, "topic", cfg.DepositsTopic, "group", cfg.GroupID,
		"rejection_policy", cfg.RejectionPolicy, "balance_store", cfg.BalanceStore)

	// Ops HTTP server
	tokener := jwt.New(jwt.WithSecretKey(cfg.JWTSecret), jwt.WithExpiration(cfg.JWTExp))
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.AppHost, cfg.AppPort),
		Handler:           newRouter(tokener, store),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Graceful shutdown
	ctxShutdown, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()
	g, gctx := errgroup.WithContext(ctxShutdown)

	g.Go(func() error {
		logger.Log.Infof("HTTP server listening on %s:%s", cfg.AppHost, cfg.AppPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Log.Infow("Consuming deposits", "brokers", cfg.KafkaBrokers)
		return consumer.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Log.Info("Shutdown signal received, stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Log.Errorw("HTTP server shutdown error", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Log.Info("Service stopped gracefully")
	return nil
}
