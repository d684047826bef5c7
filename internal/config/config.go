package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Configuration struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Logging  LoggingConfig  `mapstructure:"logging" validate:"required"`
	Auth     AuthConfig     `mapstructure:"auth" validate:"required"`
	Terminal TerminalConfig `mapstructure:"terminal" validate:"required"`
	Ledger   LedgerConfig   `mapstructure:"ledger" validate:"required"`
	Sync     SyncConfig     `mapstructure:"sync" validate:"required"`
	Coupon   CouponConfig   `mapstructure:"coupon" validate:"required"`
	Methods  MethodsConfig  `mapstructure:"methods" validate:"required"`
	Devices  DevicesConfig  `mapstructure:"devices" validate:"required"`
	Journal  JournalConfig  `mapstructure:"journal" validate:"required"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
}

type ServerConfig struct {
	Address string `mapstructure:"address" validate:"required"`
}

type PostgresConfig struct {
	URL string `mapstructure:"url"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
}

type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret" validate:"required"`
	TokenTTL      time.Duration `mapstructure:"token_ttl" validate:"gt=0"`
	FinalizeRoles []string      `mapstructure:"finalize_roles" validate:"min=1"`
}

// TerminalConfig describes the till this process drives.
type TerminalConfig struct {
	StoreID        string `mapstructure:"store_id" validate:"required"`
	Currency       string `mapstructure:"currency" validate:"required,len=3"`
	BackendURL     string `mapstructure:"backend_url" validate:"required,url"`
	BackendToken   string `mapstructure:"backend_token"`
	CashMethodKind string `mapstructure:"cash_method_kind"`
	// ClosedOrderRetention keeps synced and cancelled orders readable.
	ClosedOrderRetention time.Duration `mapstructure:"closed_order_retention" validate:"gt=0"`
}

type LedgerConfig struct {
	Timeout        time.Duration `mapstructure:"timeout" validate:"gt=0"`
	MaxRetries     int           `mapstructure:"max_retries" validate:"gte=0,lte=5"`
	CacheFreshness time.Duration `mapstructure:"cache_freshness" validate:"gt=0"`
}

type SyncConfig struct {
	Timeout    time.Duration `mapstructure:"timeout" validate:"gt=0"`
	MaxRetries int           `mapstructure:"max_retries" validate:"gte=0,lte=5"`
}

type CouponConfig struct {
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

type MethodsConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl" validate:"gt=0"`
}

type DevicesConfig struct {
	DrawerURL      string        `mapstructure:"drawer_url"`
	PoleDisplayURL string        `mapstructure:"pole_display_url"`
	PrintURL       string        `mapstructure:"print_url"`
	DrawerTimeout  time.Duration `mapstructure:"drawer_timeout" validate:"gt=0"`
	DisplayTimeout time.Duration `mapstructure:"display_timeout" validate:"gt=0"`
	PrintTimeout   time.Duration `mapstructure:"print_timeout" validate:"gt=0"`
	Workers        int           `mapstructure:"workers" validate:"gte=1"`
	QueueSize      int           `mapstructure:"queue_size" validate:"gte=1"`
	MaxAttempts    int           `mapstructure:"max_attempts" validate:"gte=1"`
}

type JournalConfig struct {
	Dir string `mapstructure:"dir" validate:"required"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

func NewConfig() (*Configuration, error) {
	// .env is optional; the real environment wins over it.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Printf("Error loading .env file: %v\n", err)
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/printa")

	v.SetEnvPrefix("PRINTA")
	v.SetEnvKeyReplacer(strings.NewReplacer(
		".", "_",
		"-", "_",
	))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, err
		}
	} else {
		fmt.Printf("Using config file: %s\n", v.ConfigFileUsed())
	}

	var config Configuration
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// DATABASE_URL is what the deployment scripts have always exported.
	if config.Postgres.URL == "" {
		config.Postgres.URL = os.Getenv("DATABASE_URL")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c Configuration) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

func setDefaults(v *viper.Viper) {
	d := GetDefaultConfig()

	v.SetDefault("server.address", d.Server.Address)
	v.SetDefault("postgres.url", d.Postgres.URL)
	v.SetDefault("logging.level", d.Logging.Level)

	v.SetDefault("auth.jwt_secret", d.Auth.JWTSecret)
	v.SetDefault("auth.token_ttl", d.Auth.TokenTTL)
	v.SetDefault("auth.finalize_roles", d.Auth.FinalizeRoles)

	v.SetDefault("terminal.store_id", d.Terminal.StoreID)
	v.SetDefault("terminal.currency", d.Terminal.Currency)
	v.SetDefault("terminal.backend_url", d.Terminal.BackendURL)
	v.SetDefault("terminal.backend_token", d.Terminal.BackendToken)
	v.SetDefault("terminal.cash_method_kind", d.Terminal.CashMethodKind)
	v.SetDefault("terminal.closed_order_retention", d.Terminal.ClosedOrderRetention)

	v.SetDefault("ledger.timeout", d.Ledger.Timeout)
	v.SetDefault("ledger.max_retries", d.Ledger.MaxRetries)
	v.SetDefault("ledger.cache_freshness", d.Ledger.CacheFreshness)

	v.SetDefault("sync.timeout", d.Sync.Timeout)
	v.SetDefault("sync.max_retries", d.Sync.MaxRetries)
	v.SetDefault("coupon.timeout", d.Coupon.Timeout)
	v.SetDefault("methods.cache_ttl", d.Methods.CacheTTL)

	v.SetDefault("devices.drawer_url", d.Devices.DrawerURL)
	v.SetDefault("devices.pole_display_url", d.Devices.PoleDisplayURL)
	v.SetDefault("devices.print_url", d.Devices.PrintURL)
	v.SetDefault("devices.drawer_timeout", d.Devices.DrawerTimeout)
	v.SetDefault("devices.display_timeout", d.Devices.DisplayTimeout)
	v.SetDefault("devices.print_timeout", d.Devices.PrintTimeout)
	v.SetDefault("devices.workers", d.Devices.Workers)
	v.SetDefault("devices.queue_size", d.Devices.QueueSize)
	v.SetDefault("devices.max_attempts", d.Devices.MaxAttempts)

	v.SetDefault("journal.dir", d.Journal.Dir)
	v.SetDefault("kafka.brokers", d.Kafka.Brokers)
	v.SetDefault("kafka.topic", d.Kafka.Topic)
}

// GetDefaultConfig returns a configuration suitable for local development.
func GetDefaultConfig() *Configuration {
	return &Configuration{
		Server:  ServerConfig{Address: ":8080"},
		Logging: LoggingConfig{Level: "info"},
		Auth: AuthConfig{
			JWTSecret:     "change-me",
			TokenTTL:      12 * time.Hour,
			FinalizeRoles: []string{"cashier", "supervisor", "manager"},
		},
		Terminal: TerminalConfig{
			StoreID:        "store-001",
			Currency:       "ZMW",
			BackendURL:     "http://localhost:8080",
			CashMethodKind: "cash",
			// ClosedOrderRetention keeps finished orders readable for reprints
			ClosedOrderRetention: 15 * time.Minute,
		},
		Ledger: LedgerConfig{
			Timeout:        3 * time.Second,
			MaxRetries:     2,
			CacheFreshness: 30 * time.Second,
		},
		Sync:    SyncConfig{Timeout: 10 * time.Second, MaxRetries: 2},
		Coupon:  CouponConfig{Timeout: 3 * time.Second},
		Methods: MethodsConfig{CacheTTL: 5 * time.Minute},
		Devices: DevicesConfig{
			DrawerTimeout:  2 * time.Second,
			DisplayTimeout: 2 * time.Second,
			PrintTimeout:   5 * time.Second,
			Workers:        2,
			QueueSize:      64,
			MaxAttempts:    3,
		},
		Journal: JournalConfig{Dir: "./data/journal"},
		Kafka:   KafkaConfig{Topic: "sale.synced"},
	}
}
