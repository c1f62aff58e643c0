package config

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Config represents the global configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Queue        QueueConfig        `mapstructure:"queue"`
	Worker       WorkerConfig       `mapstructure:"worker"`
	Checkout     CheckoutConfig     `mapstructure:"checkout"`
	Payment      PaymentConfig      `mapstructure:"payment"`
	Notification NotificationConfig `mapstructure:"notification"`
	Log          LogConfig          `mapstructure:"log"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Tracing      TracingConfig      `mapstructure:"tracing"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
	CircuitBreak CircuitBreakConfig `mapstructure:"circuit_break"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Security     SecurityConfig     `mapstructure:"security"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"` // debug, release, test
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	MaxHeaderMB  int           `mapstructure:"max_header_mb"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // mysql, postgres
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	Charset         string        `mapstructure:"charset"`
	ParseTime       bool          `mapstructure:"parse_time"`
	Loc             string        `mapstructure:"loc"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// RedisConfig represents Redis configuration
type RedisConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolTimeout  time.Duration `mapstructure:"pool_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// QueueConfig represents the order task queue configuration
type QueueConfig struct {
	Driver            string        `mapstructure:"driver"` // memory, redis
	Name              string        `mapstructure:"name"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
	MaxReceiveCount   int           `mapstructure:"max_receive_count"`
	BatchSize         int           `mapstructure:"batch_size"`
	WaitTime          time.Duration `mapstructure:"wait_time"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
}

// WorkerConfig represents fulfillment worker configuration
type WorkerConfig struct {
	Embedded   bool `mapstructure:"embedded"` // run consumers inside the API process
	Pollers    int  `mapstructure:"pollers"`
	DeadLetter struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"dead_letter"`
	Reconcile struct {
		Enabled    bool          `mapstructure:"enabled"`
		Interval   time.Duration `mapstructure:"interval"`
		StaleAfter time.Duration `mapstructure:"stale_after"`
		BatchSize  int           `mapstructure:"batch_size"`
		LockTTL    time.Duration `mapstructure:"lock_ttl"`
	} `mapstructure:"reconcile"`
}

// RetryConfig represents a bounded exponential retry policy
type RetryConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
}

// CheckoutConfig represents checkout orchestration configuration
type CheckoutConfig struct {
	TaxRate        string        `mapstructure:"tax_rate"`        // decimal fraction, e.g. "0.08"
	PriceTolerance string        `mapstructure:"price_tolerance"` // allowed relative drift of cart prices
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	PaymentRetry   RetryConfig   `mapstructure:"payment_retry"`
	EnqueueRetry   RetryConfig   `mapstructure:"enqueue_retry"`
	IDNode         int64         `mapstructure:"id_node"`
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"` // how long a client Idempotency-Key maps to its order
}

// PaymentConfig represents payment authorizer configuration
type PaymentConfig struct {
	Driver   string        `mapstructure:"driver"` // sandbox, http
	Endpoint string        `mapstructure:"endpoint"`
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// NotificationConfig represents confirmation channel configuration
type NotificationConfig struct {
	Driver       string        `mapstructure:"driver"` // log, kafka
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig represents metrics configuration
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// TracingConfig represents tracing configuration
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

// RateLimitConfig represents rate limiting configuration
type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`
	PerUser struct {
		RPS   int `mapstructure:"rps"`
		Burst int `mapstructure:"burst"`
	} `mapstructure:"per_user"`
	Checkout struct {
		Limit  int           `mapstructure:"limit"`
		Window time.Duration `mapstructure:"window"`
	} `mapstructure:"checkout"`
}

// CircuitBreakConfig represents circuit breaker configuration
type CircuitBreakConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	MaxRequests     uint32        `mapstructure:"max_requests"`
	Interval        time.Duration `mapstructure:"interval"`
	Timeout         time.Duration `mapstructure:"timeout"`
	FailureRatio    float64       `mapstructure:"failure_ratio"`
	MinRequestCount uint32        `mapstructure:"min_request_count"`
}

// CacheConfig represents product cache configuration
type CacheConfig struct {
	Local struct {
		Enabled bool          `mapstructure:"enabled"`
		SizeMB  int           `mapstructure:"size_mb"`
		TTL     time.Duration `mapstructure:"ttl"`
	} `mapstructure:"local"`
	Bloom struct {
		Enabled           bool    `mapstructure:"enabled"`
		ExpectedItems     uint    `mapstructure:"expected_items"`
		FalsePositiveRate float64 `mapstructure:"false_positive_rate"`
	} `mapstructure:"bloom"`
}

// SecurityConfig represents security configuration
type SecurityConfig struct {
	JWT struct {
		Secret string        `mapstructure:"secret"`
		Expire time.Duration `mapstructure:"expire"`
		Issuer string        `mapstructure:"issuer"`
	} `mapstructure:"jwt"`
	CORS struct {
		Enabled          bool     `mapstructure:"enabled"`
		AllowOrigins     []string `mapstructure:"allow_origins"`
		AllowMethods     []string `mapstructure:"allow_methods"`
		AllowHeaders     []string `mapstructure:"allow_headers"`
		ExposeHeaders    []string `mapstructure:"expose_headers"`
		AllowCredentials bool     `mapstructure:"allow_credentials"`
		MaxAge           int      `mapstructure:"max_age"`
	} `mapstructure:"cors"`
}

// GetAddr returns the server address
func (s *ServerConfig) GetAddr() string {
	if s.Host == "" {
		s.Host = "0.0.0.0"
	}
	if s.Port == 0 {
		s.Port = 8080
	}
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GetDSN returns the database DSN for the configured driver
func (d *DatabaseConfig) GetDSN() string {
	if d.Driver == "postgres" {
		sslMode := d.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.Username, d.Password, d.DBName, sslMode)
	}

	if d.Charset == "" {
		d.Charset = "utf8mb4"
	}
	if d.Loc == "" {
		d.Loc = "Local"
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=%t&loc=%s",
		d.Username, d.Password, d.Host, d.Port, d.DBName, d.Charset, d.ParseTime, d.Loc)
}

// GetAddr returns the Redis address
func (r *RedisConfig) GetAddr() string {
	if r.Host == "" {
		r.Host = "localhost"
	}
	if r.Port == 0 {
		r.Port = 6379
	}
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// TaxRateDecimal parsed tax rate
func (c *CheckoutConfig) TaxRateDecimal() decimal.Decimal {
	return decimal.RequireFromString(c.TaxRate)
}

// PriceToleranceDecimal parsed price tolerance
func (c *CheckoutConfig) PriceToleranceDecimal() decimal.Decimal {
	return decimal.RequireFromString(c.PriceTolerance)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Driver != "mysql" && c.Database.Driver != "postgres" {
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Username == "" {
		return fmt.Errorf("database username is required")
	}

	if c.Database.DBName == "" {
		return fmt.Errorf("database name is required")
	}

	if c.Redis.Host == "" {
		return fmt.Errorf("redis host is required")
	}

	if c.Security.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}

	switch c.Queue.Driver {
	case "memory":
		if !c.Worker.Embedded {
			return fmt.Errorf("memory queue requires worker.embedded")
		}
	case "redis":
	default:
		return fmt.Errorf("unsupported queue driver: %s", c.Queue.Driver)
	}

	if c.Queue.BatchSize < 1 || c.Queue.BatchSize > 10 {
		return fmt.Errorf("queue batch size must be between 1 and 10, got %d", c.Queue.BatchSize)
	}

	if c.Queue.MaxReceiveCount < 1 {
		return fmt.Errorf("invalid queue max receive count: %d", c.Queue.MaxReceiveCount)
	}

	rate, err := decimal.NewFromString(c.Checkout.TaxRate)
	if err != nil || rate.IsNegative() {
		return fmt.Errorf("invalid checkout tax rate: %q", c.Checkout.TaxRate)
	}

	tolerance, err := decimal.NewFromString(c.Checkout.PriceTolerance)
	if err != nil || tolerance.IsNegative() {
		return fmt.Errorf("invalid checkout price tolerance: %q", c.Checkout.PriceTolerance)
	}

	if c.Checkout.PaymentRetry.MaxAttempts < 1 {
		return fmt.Errorf("payment retry needs at least one attempt")
	}

	switch c.Payment.Driver {
	case "sandbox":
	case "http":
		if c.Payment.Endpoint == "" {
			return fmt.Errorf("payment endpoint is required for http driver")
		}
	default:
		return fmt.Errorf("unsupported payment driver: %s", c.Payment.Driver)
	}

	switch c.Notification.Driver {
	case "log":
	case "kafka":
		if len(c.Notification.Brokers) == 0 {
			return fmt.Errorf("kafka brokers are required for kafka notifications")
		}
	default:
		return fmt.Errorf("unsupported notification driver: %s", c.Notification.Driver)
	}

	return nil
}

// SetDefaults sets default values for configuration
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "debug"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Server.MaxHeaderMB == 0 {
		c.Server.MaxHeaderMB = 1
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == 0 {
		if c.Database.Driver == "postgres" {
			c.Database.Port = 5432
		} else {
			c.Database.Port = 3306
		}
	}
	if c.Database.Charset == "" {
		c.Database.Charset = "utf8mb4"
	}
	if c.Database.Loc == "" {
		c.Database.Loc = "Local"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 100
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 10
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = time.Hour
	}
	if c.Database.ConnMaxIdleTime == 0 {
		c.Database.ConnMaxIdleTime = 10 * time.Minute
	}
	if c.Database.LogLevel == "" {
		c.Database.LogLevel = "warn"
	}

	if c.Redis.Host == "" {
		c.Redis.Host = "localhost"
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 100
	}
	if c.Redis.MinIdleConns == 0 {
		c.Redis.MinIdleConns = 10
	}
	if c.Redis.MaxRetries == 0 {
		c.Redis.MaxRetries = 3
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}
	if c.Redis.PoolTimeout == 0 {
		c.Redis.PoolTimeout = 4 * time.Second
	}
	if c.Redis.IdleTimeout == 0 {
		c.Redis.IdleTimeout = 5 * time.Minute
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Name == "" {
		c.Queue.Name = "order-tasks"
	}
	if c.Queue.VisibilityTimeout == 0 {
		c.Queue.VisibilityTimeout = 90 * time.Second
	}
	if c.Queue.MaxReceiveCount == 0 {
		c.Queue.MaxReceiveCount = 3
	}
	if c.Queue.BatchSize == 0 {
		c.Queue.BatchSize = 10
	}
	if c.Queue.WaitTime == 0 {
		c.Queue.WaitTime = 5 * time.Second
	}
	if c.Queue.PollInterval == 0 {
		c.Queue.PollInterval = 100 * time.Millisecond
	}

	if c.Worker.Pollers == 0 {
		c.Worker.Pollers = 2
	}
	if c.Worker.Reconcile.Interval == 0 {
		c.Worker.Reconcile.Interval = time.Minute
	}
	if c.Worker.Reconcile.StaleAfter == 0 {
		c.Worker.Reconcile.StaleAfter = 10 * time.Minute
	}
	if c.Worker.Reconcile.BatchSize == 0 {
		c.Worker.Reconcile.BatchSize = 100
	}
	if c.Worker.Reconcile.LockTTL == 0 {
		c.Worker.Reconcile.LockTTL = 30 * time.Second
	}

	if c.Checkout.TaxRate == "" {
		c.Checkout.TaxRate = "0.08"
	}
	if c.Checkout.PriceTolerance == "" {
		c.Checkout.PriceTolerance = "0.01"
	}
	if c.Checkout.RequestTimeout == 0 {
		c.Checkout.RequestTimeout = 20 * time.Second
	}
	if c.Checkout.IdempotencyTTL == 0 {
		c.Checkout.IdempotencyTTL = 24 * time.Hour
	}
	if c.Checkout.PaymentRetry.MaxAttempts == 0 {
		c.Checkout.PaymentRetry.MaxAttempts = 3
	}
	if c.Checkout.PaymentRetry.InitialDelay == 0 {
		c.Checkout.PaymentRetry.InitialDelay = 2 * time.Second
	}
	if c.Checkout.PaymentRetry.Multiplier == 0 {
		c.Checkout.PaymentRetry.Multiplier = 2
	}
	if c.Checkout.EnqueueRetry.MaxAttempts == 0 {
		c.Checkout.EnqueueRetry.MaxAttempts = 3
	}
	if c.Checkout.EnqueueRetry.InitialDelay == 0 {
		c.Checkout.EnqueueRetry.InitialDelay = 200 * time.Millisecond
	}
	if c.Checkout.EnqueueRetry.Multiplier == 0 {
		c.Checkout.EnqueueRetry.Multiplier = 2
	}
	if c.Checkout.IDNode == 0 {
		c.Checkout.IDNode = 1
	}

	if c.Payment.Driver == "" {
		c.Payment.Driver = "sandbox"
	}
	if c.Payment.Timeout == 0 {
		c.Payment.Timeout = 5 * time.Second
	}

	if c.Notification.Driver == "" {
		c.Notification.Driver = "log"
	}
	if c.Notification.Topic == "" {
		c.Notification.Topic = "order-confirmations"
	}
	if c.Notification.WriteTimeout == 0 {
		c.Notification.WriteTimeout = 10 * time.Second
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "storefront"
	}

	if c.RateLimit.PerUser.RPS == 0 {
		c.RateLimit.PerUser.RPS = 20
	}
	if c.RateLimit.PerUser.Burst == 0 {
		c.RateLimit.PerUser.Burst = 40
	}
	if c.RateLimit.Checkout.Limit == 0 {
		c.RateLimit.Checkout.Limit = 5
	}
	if c.RateLimit.Checkout.Window == 0 {
		c.RateLimit.Checkout.Window = time.Minute
	}

	if c.CircuitBreak.MaxRequests == 0 {
		c.CircuitBreak.MaxRequests = 5
	}
	if c.CircuitBreak.Interval == 0 {
		c.CircuitBreak.Interval = time.Minute
	}
	if c.CircuitBreak.Timeout == 0 {
		c.CircuitBreak.Timeout = 30 * time.Second
	}
	if c.CircuitBreak.FailureRatio == 0 {
		c.CircuitBreak.FailureRatio = 0.5
	}
	if c.CircuitBreak.MinRequestCount == 0 {
		c.CircuitBreak.MinRequestCount = 10
	}

	if c.Cache.Local.SizeMB == 0 {
		c.Cache.Local.SizeMB = 64
	}
	if c.Cache.Local.TTL == 0 {
		c.Cache.Local.TTL = 30 * time.Second
	}
	if c.Cache.Bloom.ExpectedItems == 0 {
		c.Cache.Bloom.ExpectedItems = 100000
	}
	if c.Cache.Bloom.FalsePositiveRate == 0 {
		c.Cache.Bloom.FalsePositiveRate = 0.01
	}

	if c.Security.JWT.Expire == 0 {
		c.Security.JWT.Expire = 2 * time.Hour
	}
	if c.Security.JWT.Issuer == "" {
		c.Security.JWT.Issuer = "storefront"
	}
}
