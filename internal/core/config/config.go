package config

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/spf13/viper"
)

// AppConfig holds the configuration for the application.
// Tags used:
// - mapstructure: used by viper to unmarshal
// - default: default value to set if missing
// - required: if "true", error if missing
type AppConfig struct {
	// Environment specifies the runtime environment (e.g., development, production).
	Environment string `mapstructure:"APP_ENV" default:"development"`
	// LogLevel defines the logging verbosity (e.g., debug, info, error).
	LogLevel string `mapstructure:"LOG_LEVEL" default:"info"`
	// ServerPort is the port where the server will listen.
	ServerPort int `mapstructure:"SERVER_PORT" default:"8080"`

	// Shop holds the shop backend API configuration.
	Shop ShopConfig `mapstructure:",squash"`

	// Gateway holds the payment gateway configuration.
	Gateway GatewayConfig `mapstructure:",squash"`

	// Redis holds the redis connection configuration.
	Redis RedisConfig `mapstructure:",squash"`

	// Checkout holds tunables for the checkout flow.
	Checkout CheckoutConfig `mapstructure:",squash"`
}

// ShopConfig holds the connection details for the shop backend API
// (pricing preview, payment verification, order creation).
type ShopConfig struct {
	// URL is the base URL of the shop backend.
	URL string `mapstructure:"SHOP_API_URL" required:"true"`
	// APIKey authenticates this client against the shop backend.
	APIKey string `mapstructure:"SHOP_API_KEY" required:"true"`
}

// GatewayConfig holds the connection details for the external payment gateway.
type GatewayConfig struct {
	// URL is the base URL of the payment gateway API.
	URL string `mapstructure:"PAY_GATEWAY_URL" required:"true"`
	// MerchantID identifies the shop to the gateway.
	MerchantID string `mapstructure:"PAY_MERCHANT_ID" required:"true"`
	// APISecret is the gateway API credential.
	APISecret string `mapstructure:"PAY_API_SECRET" required:"true"`
	// PollIntervalMs is the delay between result polls while a charge is pending.
	PollIntervalMs int `mapstructure:"PAY_POLL_INTERVAL_MS" default:"2000"`
}

// RedisConfig holds redis connection details.
type RedisConfig struct {
	// URL is the redis connection string, e.g. redis://localhost:6379/0.
	URL string `mapstructure:"REDIS_URL" default:"redis://localhost:6379/0"`
}

// CheckoutConfig holds tunables for the checkout orchestrator.
type CheckoutConfig struct {
	// StepTimeoutSeconds bounds each backend call (preview, verify, create order).
	// The gateway await is deliberately unbounded.
	StepTimeoutSeconds int `mapstructure:"CHECKOUT_STEP_TIMEOUT_SECONDS" default:"10"`
	// OrderCreateRetries is the number of automatic order-creation retries
	// performed with the same verified transaction reference.
	OrderCreateRetries int `mapstructure:"CHECKOUT_ORDER_CREATE_RETRIES" default:"3"`
	// LockTTLMinutes is the lifetime of the per-cart attempt lock.
	LockTTLMinutes int `mapstructure:"CHECKOUT_LOCK_TTL_MINUTES" default:"30"`
	// ArchiveTTLHours is the retention for archived terminal attempts.
	ArchiveTTLHours int `mapstructure:"CHECKOUT_ARCHIVE_TTL_HOURS" default:"168"`
}

// Load loads configuration from .env files and environment variables.
func Load(path string) (*AppConfig, error) {
	v := viper.New()

	v.AutomaticEnv()

	v.AddConfigPath(path)
	v.SetConfigName(".env")
	v.SetConfigType("env")

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config AppConfig

	if err := processTags(v, &config); err != nil {
		return nil, err
	}

	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if err := validateRequired(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// processTags iterates over the struct fields and sets default values in Viper.
func processTags(v *viper.Viper, config interface{}) error {
	val := reflect.ValueOf(config)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	t := val.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		if field.Type.Kind() == reflect.Struct {
			if err := processTags(v, val.Field(i).Addr().Interface()); err != nil {
				return err
			}
			continue
		}

		key := field.Tag.Get("mapstructure")
		defaultValue := field.Tag.Get("default")

		if key != "" {
			v.BindEnv(key)
		}

		if key != "" && defaultValue != "" {
			v.SetDefault(key, defaultValue)
		}
	}
	return nil
}

// validateRequired checks if fields marked as required have non-zero values.
func validateRequired(config interface{}) error {
	val := reflect.ValueOf(config)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	t := val.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		if field.Type.Kind() == reflect.Struct {
			if err := validateRequired(val.Field(i).Addr().Interface()); err != nil {
				return err
			}
			continue
		}

		required := field.Tag.Get("required")
		if required == "true" {
			value := val.Field(i)
			if isZero(value) {
				key := field.Tag.Get("mapstructure")
				return fmt.Errorf("missing required configuration: %s", key)
			}
		}
	}
	return nil
}

// isZero checks if a reflect.Value is the zero value for its type.
func isZero(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.String:
		return v.String() == ""
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Slice, reflect.Map:
		return v.Len() == 0
	default:
		return v.IsZero()
	}
}
