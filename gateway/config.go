package gateway

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kreezus/yengapay-bridge/internal/aggregator"
	"gopkg.in/yaml.v3"
)

// WebhookPath is where the aggregator delivers payment notifications.
const WebhookPath = "/webhooks/yengapay"

// Config is a configuration for the gateway application
type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	// PublicURL is the externally reachable base URL, used to show the webhook URL to operators.
	PublicURL string `yaml:"public_url"`
	// Enabled turns the payment method on for checkout. Webhooks are processed either way.
	Enabled bool `yaml:"enabled"`

	GroupID       string `yaml:"group_id"`
	APIKey        string `yaml:"api_key"`
	ProjectID     string `yaml:"project_id"`
	WebhookSecret string `yaml:"webhook_secret"`

	BaseURL      string        `yaml:"base_url"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRedirects int           `yaml:"max_redirects"`

	// Rates maps a currency code to its XOF rate, e.g. USD: "602.5".
	Rates map[string]string `yaml:"rates"`

	RepoBackend string `yaml:"repo_backend"`
	DBDSN       string `yaml:"db_dsn"`

	LogLevel string `yaml:"log_level"`

	// WebhookRateRPS limits webhook calls per client IP; 0 disables the limit.
	WebhookRateRPS   float64 `yaml:"webhook_rate_rps"`
	WebhookRateBurst int     `yaml:"webhook_rate_burst"`

	HSM HSMConfig `yaml:"hsm"`
}

// HSMConfig points at a PKCS#11 module holding the webhook key. When Lib is set the
// webhook secret is the key label instead of the key itself.
type HSMConfig struct {
	Lib  string `yaml:"lib"`
	Slot uint   `yaml:"slot"`
	PIN  string `yaml:"pin"`
}

func DefaultConfig() *Config {
	return &Config{
		HTTPAddr:         "localhost:8080",
		PublicURL:        "http://localhost:8080",
		Enabled:          true,
		BaseURL:          aggregator.DefaultBaseURL,
		Timeout:          aggregator.DefaultTimeout,
		MaxRedirects:     aggregator.MaxRedirects,
		RepoBackend:      "pg",
		LogLevel:         "info",
		WebhookRateBurst: 20,
	}
}

// LoadConfig reads defaults, then the YAML file at path when given, then the environment.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.HTTPAddr = getenv("HTTP_ADDR", c.HTTPAddr)
	c.PublicURL = getenv("PUBLIC_URL", c.PublicURL)
	c.GroupID = getenv("YENGAPAY_GROUP_ID", c.GroupID)
	c.APIKey = getenv("YENGAPAY_API_KEY", c.APIKey)
	c.ProjectID = getenv("YENGAPAY_PROJECT_ID", c.ProjectID)
	c.WebhookSecret = getenv("YENGAPAY_WEBHOOK_SECRET", c.WebhookSecret)
	c.BaseURL = getenv("YENGAPAY_BASE_URL", c.BaseURL)
	c.RepoBackend = getenv("REPO_BACKEND", c.RepoBackend)
	c.DBDSN = getenv("DB_DSN", c.DBDSN)
	c.LogLevel = getenv("LOG_LEVEL", c.LogLevel)
	c.HSM.Lib = getenv("HSM_LIB", c.HSM.Lib)
	c.HSM.PIN = getenv("HSM_PIN", c.HSM.PIN)

	if v := os.Getenv("YENGAPAY_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("YENGAPAY_ENABLED: %w", err)
		}
		c.Enabled = b
	}
	if v := os.Getenv("YENGAPAY_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("YENGAPAY_TIMEOUT: %w", err)
		}
		c.Timeout = d
	}
	if v := os.Getenv("WEBHOOK_RATE_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("WEBHOOK_RATE_RPS: %w", err)
		}
		c.WebhookRateRPS = f
	}
	if v := os.Getenv("WEBHOOK_RATE_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("WEBHOOK_RATE_BURST: %w", err)
		}
		c.WebhookRateBurst = n
	}
	if v := os.Getenv("HSM_SLOT"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("HSM_SLOT: %w", err)
		}
		c.HSM.Slot = uint(n)
	}
	return nil
}

// Credentials returns the aggregator credentials for outbound calls.
func (c *Config) Credentials() aggregator.Credentials {
	return aggregator.Credentials{
		GroupID:   strings.TrimSpace(c.GroupID),
		APIKey:    strings.TrimSpace(c.APIKey),
		ProjectID: strings.TrimSpace(c.ProjectID),
	}
}

// MissingSettings lists the settings checkout and webhooks cannot work without.
func (c *Config) MissingSettings() []string {
	var missing []string
	creds := c.Credentials()
	if creds.GroupID == "" {
		missing = append(missing, "group_id")
	}
	if creds.APIKey == "" {
		missing = append(missing, "api_key")
	}
	if creds.ProjectID == "" {
		missing = append(missing, "project_id")
	}
	if c.WebhookSecret == "" {
		missing = append(missing, "webhook_secret")
	}
	return missing
}

// WebhookURL is the address to paste into the YengaPay dashboard.
func (c *Config) WebhookURL() string {
	return strings.TrimRight(c.PublicURL, "/") + WebhookPath
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
