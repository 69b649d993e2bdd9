package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis config (optional: tick lock + API rate limiting)
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Push transport
	PushTransport      string // sns | fcm | log
	AWSRegion          string
	SNSRegion          string
	SNSPlatformAppARN  string // platform application the device tokens are registered under
	FCMProjectID       string // defaults to the credentials' project
	FCMCredentialsFile string // empty uses application default credentials
	DeepLinkScheme     string

	// Trigger
	TickSchedule       string // cron expression evaluated in Timezone
	SQSRegion          string
	SQSTriggerQueueURL string // empty disables the SQS trigger

	// Tick evaluation
	Timezone            string
	WindowMinutes       int
	DispatchConcurrency int
	DispatchTimeout     time.Duration
	StaleJobAfter       time.Duration
	TickLockTTL         time.Duration

	// Circuit breaker around the push transport
	BreakerMaxFailures int
	BreakerRecovery    time.Duration
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		// Local postgres defaults
		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "zenpush",
		DBPassword: "",
		DBName:     "zenpush",
		DBSSLMode:  "disable",

		// Redis defaults (empty host disables Redis)
		RedisHost: "",
		RedisPort: 6379,
		RedisDB:   0,

		PushTransport:  "log",
		AWSRegion:      "us-east-1",
		DeepLinkScheme: "mentalzen",

		TickSchedule: "*/5 * * * *",

		Timezone:            "America/New_York",
		WindowMinutes:       5,
		DispatchConcurrency: 1,
		DispatchTimeout:     30 * time.Second,
		StaleJobAfter:       15 * time.Minute,
		TickLockTTL:         5 * time.Minute,

		BreakerMaxFailures: 5,
		BreakerRecovery:    30 * time.Second,
	}

	var err error

	if cfg.Port, err = intEnv("PORT", cfg.Port); err != nil {
		return nil, err
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if cfg.DBPort, err = intEnv("DB_PORT", cfg.DBPort); err != nil {
		return nil, err
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if cfg.RedisPort, err = intEnv("REDIS_PORT", cfg.RedisPort); err != nil {
		return nil, err
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if cfg.RedisDB, err = intEnv("REDIS_DB", cfg.RedisDB); err != nil {
		return nil, err
	}

	// Push transport
	if transport := os.Getenv("PUSH_TRANSPORT"); transport != "" {
		cfg.PushTransport = transport
	}
	switch cfg.PushTransport {
	case "sns", "fcm", "log":
	default:
		return nil, fmt.Errorf("invalid PUSH_TRANSPORT: %q (want sns, fcm or log)", cfg.PushTransport)
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	if region := os.Getenv("SNS_REGION"); region != "" {
		cfg.SNSRegion = region
	} else {
		cfg.SNSRegion = cfg.AWSRegion
	}

	cfg.SNSPlatformAppARN = os.Getenv("SNS_PLATFORM_APP_ARN")
	if cfg.PushTransport == "sns" && cfg.SNSPlatformAppARN == "" {
		return nil, fmt.Errorf("SNS_PLATFORM_APP_ARN is required when PUSH_TRANSPORT=sns")
	}

	cfg.FCMProjectID = os.Getenv("FCM_PROJECT_ID")
	cfg.FCMCredentialsFile = os.Getenv("FCM_CREDENTIALS_FILE")

	if scheme := os.Getenv("DEEP_LINK_SCHEME"); scheme != "" {
		cfg.DeepLinkScheme = scheme
	}

	// Trigger config
	if schedule := os.Getenv("TICK_SCHEDULE"); schedule != "" {
		cfg.TickSchedule = schedule
	}

	if region := os.Getenv("SQS_REGION"); region != "" {
		cfg.SQSRegion = region
	} else {
		cfg.SQSRegion = cfg.AWSRegion
	}

	cfg.SQSTriggerQueueURL = os.Getenv("SQS_TRIGGER_QUEUE_URL")

	// Tick evaluation
	if tz := os.Getenv("TIMEZONE"); tz != "" {
		cfg.Timezone = tz
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}

	if cfg.WindowMinutes, err = intEnv("WINDOW_MINUTES", cfg.WindowMinutes); err != nil {
		return nil, err
	}
	if cfg.WindowMinutes <= 0 || 1440%cfg.WindowMinutes != 0 {
		return nil, fmt.Errorf("invalid WINDOW_MINUTES: %d must divide a day evenly", cfg.WindowMinutes)
	}

	if cfg.DispatchConcurrency, err = intEnv("DISPATCH_CONCURRENCY", cfg.DispatchConcurrency); err != nil {
		return nil, err
	}
	if cfg.DispatchConcurrency < 1 {
		cfg.DispatchConcurrency = 1
	}

	if cfg.DispatchTimeout, err = durationEnv("DISPATCH_TIMEOUT_SEC", time.Second, cfg.DispatchTimeout); err != nil {
		return nil, err
	}

	if cfg.StaleJobAfter, err = durationEnv("STALE_JOB_AFTER_MIN", time.Minute, cfg.StaleJobAfter); err != nil {
		return nil, err
	}

	if cfg.TickLockTTL, err = durationEnv("TICK_LOCK_TTL_SEC", time.Second, cfg.TickLockTTL); err != nil {
		return nil, err
	}

	if cfg.BreakerMaxFailures, err = intEnv("BREAKER_MAX_FAILURES", cfg.BreakerMaxFailures); err != nil {
		return nil, err
	}

	if cfg.BreakerRecovery, err = durationEnv("BREAKER_RECOVERY_SEC", time.Second, cfg.BreakerRecovery); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Location returns the configured evaluation timezone.
// Load has already validated it, so the error is only possible on a hand-built Config.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func durationEnv(key string, unit time.Duration, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return time.Duration(n) * unit, nil
}
