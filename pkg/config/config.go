package config

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type RateBucket struct {
	RequestsPerMinute int `yaml:"requestsPerMinute"`
	BurstSize         int `yaml:"burstSize"`
}

type RateLimitConfig struct {
	CreateTask RateBucket `yaml:"createTask"`
	ClaimTask  RateBucket `yaml:"claimTask"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"serviceName"`
	OTLPEndpoint string  `yaml:"otlpEndpoint"`
	OTLPInsecure bool    `yaml:"otlpInsecure"`
	SampleRatio  float64 `yaml:"sampleRatio"`
}

type Config struct {
	Port          int    `yaml:"port"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	Timezone      string `yaml:"timezone"`
	LogLevel      string `yaml:"logLevel"`
	LogFormat     string `yaml:"logFormat"`
	Env           string `yaml:"env"`

	PersistenceProvider string         `yaml:"persistenceProvider"`
	PersistenceConfig   map[string]any `yaml:"persistenceConfig"`

	LedgerGatewayURL            string `yaml:"ledgerGatewayUrl"`
	LedgerGatewayToken          string `yaml:"ledgerGatewayToken"`
	LedgerRequestTimeoutSeconds int    `yaml:"ledgerRequestTimeoutSeconds"`

	FeeRecipientAddress string `yaml:"feeRecipientAddress"`
	FeeRateBps          int    `yaml:"feeRateBps"`

	ConfirmTimeoutSeconds  int    `yaml:"confirmTimeoutSeconds"`
	ConfirmPollBaseSeconds int    `yaml:"confirmPollBaseSeconds"`
	ConfirmPollMaxSeconds  int    `yaml:"confirmPollMaxSeconds"`
	BackoffPolicy          string `yaml:"backoffPolicy"`

	AdminAuthProvider string         `yaml:"adminAuthProvider"`
	AdminAuthConfig   map[string]any `yaml:"adminAuthConfig"`

	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// PersistenceConfigJSON returns the plugin configuration as JSON for the
// persistence provider registry.
func (c *Config) PersistenceConfigJSON() (json.RawMessage, error) {
	if len(c.PersistenceConfig) == 0 {
		return nil, nil
	}
	return json.Marshal(c.PersistenceConfig)
}

// AdminAuthConfigJSON returns the validator configuration as JSON for the
// auth provider registry.
func (c *Config) AdminAuthConfigJSON() (json.RawMessage, error) {
	if len(c.AdminAuthConfig) == 0 {
		return nil, nil
	}
	return json.Marshal(c.AdminAuthConfig)
}

func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return finish(&c)
}

// LoadConfigOptional behaves like LoadConfig but tolerates an empty or missing
// config file, falling back to env overrides and defaults.
func LoadConfigOptional(filePath string) (*Config, error) {
	filePath = strings.TrimSpace(filePath)
	var c Config
	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err == nil {
			if err := yaml.Unmarshal(data, &c); err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}
	return finish(&c)
}

func finish(c *Config) (*Config, error) {
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.RedisPassword = v
	}
	if v := os.Getenv("PERSISTENCE_PROVIDER"); v != "" {
		c.PersistenceProvider = v
	}
	if v := os.Getenv("LEDGER_GATEWAY_URL"); v != "" {
		c.LedgerGatewayURL = v
	}
	if v := os.Getenv("LEDGER_GATEWAY_TOKEN"); v != "" {
		c.LedgerGatewayToken = v
	}
	if v := os.Getenv("FEE_RECIPIENT_ADDRESS"); v != "" {
		c.FeeRecipientAddress = v
	}
	if v := os.Getenv("FEE_RATE_BPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.FeeRateBps = n
		}
	}
	if v := os.Getenv("CONFIRM_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.ConfirmTimeoutSeconds = n
		}
	}
	if v := os.Getenv("BACKOFF_POLICY"); v != "" {
		c.BackoffPolicy = v
	}
	if v := os.Getenv("ADMIN_AUTH_PROVIDER"); v != "" {
		c.AdminAuthProvider = v
	}
	if v := os.Getenv("ADMIN_AUTH_CONFIG"); v != "" {
		var m map[string]any
		if err := json.Unmarshal([]byte(v), &m); err == nil {
			c.AdminAuthConfig = m
		}
	}

	if c.Port == 0 {
		c.Port = 8080
	}
	if c.RedisAddr == "" {
		c.RedisAddr = "localhost:6379"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.Env == "" {
		c.Env = "dev"
	}
	if c.PersistenceProvider == "" {
		c.PersistenceProvider = "redis"
	}
	if c.LedgerRequestTimeoutSeconds <= 0 {
		c.LedgerRequestTimeoutSeconds = 15
	}
	if c.FeeRateBps <= 0 {
		c.FeeRateBps = 100
	}
	if c.ConfirmTimeoutSeconds <= 0 {
		c.ConfirmTimeoutSeconds = 120
	}
	if c.ConfirmPollBaseSeconds <= 0 {
		c.ConfirmPollBaseSeconds = 1
	}
	if c.ConfirmPollMaxSeconds <= 0 {
		c.ConfirmPollMaxSeconds = 10
	}
	if c.BackoffPolicy == "" {
		c.BackoffPolicy = "exp_equal_jitter"
	}

	log.Printf("TaskHub Config: {Port:%d Redis:%s Persistence:%s Ledger:%s FeeBps:%d TZ:%s}\n",
		c.Port, c.RedisAddr, c.PersistenceProvider, c.LedgerGatewayURL, c.FeeRateBps, c.Timezone)
	return c, nil
}

func (c *Config) Validate() error {
	var errs []string
	env := strings.ToLower(strings.TrimSpace(c.Env))
	dev := env == "dev"

	if c.LedgerGatewayURL == "" {
		if !dev {
			errs = append(errs, "ledgerGatewayUrl is required in non-dev")
		}
	} else {
		u, err := url.Parse(c.LedgerGatewayURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, "ledgerGatewayUrl must be a valid http(s) URL")
		}
	}
	if strings.TrimSpace(c.FeeRecipientAddress) == "" && !dev {
		errs = append(errs, "feeRecipientAddress is required in non-dev")
	}
	if c.FeeRateBps < 0 || c.FeeRateBps > 10000 {
		errs = append(errs, "feeRateBps must be between 0 and 10000")
	}
	if c.AdminAuthProvider == "" && !dev {
		errs = append(errs, "adminAuthProvider is required in non-dev")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
