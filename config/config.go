/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT            = "5001"
	DEFAULT_MONITORING_PORT = "5004"
	DEFAULT_HOOK_QUEUE      = "order_hooks"

	defaultGatewayTimeoutSec = 45
	defaultResolveDelayMs    = 3000
	defaultMinimumAmount     = 200
	defaultMinPhoneDigits    = 8
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"PAYRELAY_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"PAYRELAY_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"PAYRELAY_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"PAYRELAY_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"PAYRELAY_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"PAYRELAY_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"PAYRELAY_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"PAYRELAY_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"PAYRELAY_REDIS_SKIP_TLS_VERIFY"`
}

// GatewayConfig points the relay at the mobile-money gateway.
type GatewayConfig struct {
	BaseUrl         string `json:"base_url" envconfig:"PAYRELAY_GATEWAY_BASE_URL"`
	CallbackBaseUrl string `json:"callback_base_url" envconfig:"PAYRELAY_GATEWAY_CALLBACK_BASE_URL"`
	TimeoutSec      int    `json:"timeout_sec" envconfig:"PAYRELAY_GATEWAY_TIMEOUT_SEC"`
	ArticleName     string `json:"article_name" envconfig:"PAYRELAY_GATEWAY_ARTICLE_NAME"`
}

// PaymentPolicy holds the validation thresholds applied before a transaction is created.
type PaymentPolicy struct {
	MinimumAmount  float64 `json:"minimum_amount" envconfig:"PAYRELAY_PAYMENT_MINIMUM_AMOUNT"`
	MinPhoneDigits int     `json:"min_phone_digits" envconfig:"PAYRELAY_PAYMENT_MIN_PHONE_DIGITS"`
}

type WebhookConfig struct {
	ResolveDelayMs int `json:"resolve_delay_ms" envconfig:"PAYRELAY_WEBHOOK_RESOLVE_DELAY_MS"`
	LockTimeoutSec int `json:"lock_timeout_sec" envconfig:"PAYRELAY_WEBHOOK_LOCK_TIMEOUT_SEC"`
	LockWaitSec    int `json:"lock_wait_sec" envconfig:"PAYRELAY_WEBHOOK_LOCK_WAIT_SEC"`
	TokenCacheSec  int `json:"token_cache_sec" envconfig:"PAYRELAY_WEBHOOK_TOKEN_CACHE_SEC"`
}

type QueueConfig struct {
	HookQueue      string `json:"hook_queue" envconfig:"PAYRELAY_QUEUE_HOOK_QUEUE"`
	MaxRetry       int    `json:"max_retry" envconfig:"PAYRELAY_QUEUE_MAX_RETRY"`
	Concurrency    int    `json:"concurrency" envconfig:"PAYRELAY_QUEUE_CONCURRENCY"`
	MonitoringPort string `json:"monitoring_port" envconfig:"PAYRELAY_QUEUE_MONITORING_PORT"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"PAYRELAY_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"PAYRELAY_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"PAYRELAY_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"PAYRELAY_SLACK_WEBHOOK_URL"`
}

type Notification struct {
	Slack SlackWebhook `json:"slack"`
}

type TracingConfig struct {
	Enabled     bool   `json:"enabled" envconfig:"PAYRELAY_TRACING_ENABLED"`
	ServiceName string `json:"service_name" envconfig:"PAYRELAY_TRACING_SERVICE_NAME"`
	Endpoint    string `json:"endpoint" envconfig:"PAYRELAY_TRACING_ENDPOINT"`
}

type Configuration struct {
	ProjectName  string           `json:"project_name" envconfig:"PAYRELAY_PROJECT_NAME"`
	Server       ServerConfig     `json:"server"`
	DataSource   DataSourceConfig `json:"data_source"`
	Redis        RedisConfig      `json:"redis"`
	Gateway      GatewayConfig    `json:"gateway"`
	Payment      PaymentPolicy    `json:"payment"`
	Webhook      WebhookConfig    `json:"webhook"`
	Queue        QueueConfig      `json:"queue"`
	Notification Notification     `json:"notification"`
	RateLimit    RateLimitConfig  `json:"rate_limit"`
	Tracing      TracingConfig    `json:"tracing"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// a missing .env file is not an error
	_ = godotenv.Load()

	// override config from environment variables
	err = envconfig.Process("payrelay", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return nil
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called payrelay.json with your config")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		cnf.ProjectName = "Payrelay"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.Gateway.BaseUrl = strings.TrimRight(strings.TrimSpace(cnf.Gateway.BaseUrl), "/")
	cnf.Gateway.CallbackBaseUrl = strings.TrimRight(strings.TrimSpace(cnf.Gateway.CallbackBaseUrl), "/")

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Gateway.BaseUrl == "" {
		log.Println("Warning: Gateway base url is empty. Payment initiation will fail until it is set.")
	}
	if cnf.Gateway.TimeoutSec <= 0 {
		cnf.Gateway.TimeoutSec = defaultGatewayTimeoutSec
	}
	if cnf.Gateway.ArticleName == "" {
		cnf.Gateway.ArticleName = "Order payment"
	}

	if cnf.Payment.MinimumAmount <= 0 {
		cnf.Payment.MinimumAmount = defaultMinimumAmount
	}
	if cnf.Payment.MinPhoneDigits <= 0 {
		cnf.Payment.MinPhoneDigits = defaultMinPhoneDigits
	}

	if cnf.Webhook.ResolveDelayMs <= 0 {
		cnf.Webhook.ResolveDelayMs = defaultResolveDelayMs
	}
	if cnf.Webhook.LockTimeoutSec <= 0 {
		cnf.Webhook.LockTimeoutSec = 30
	}
	if cnf.Webhook.LockWaitSec <= 0 {
		cnf.Webhook.LockWaitSec = 10
	}
	if cnf.Webhook.TokenCacheSec <= 0 {
		cnf.Webhook.TokenCacheSec = 3600
	}

	if cnf.Queue.HookQueue == "" {
		cnf.Queue.HookQueue = DEFAULT_HOOK_QUEUE
	}
	if cnf.Queue.MaxRetry <= 0 {
		cnf.Queue.MaxRetry = 5
	}
	if cnf.Queue.Concurrency <= 0 {
		cnf.Queue.Concurrency = 5
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = DEFAULT_MONITORING_PORT
	}

	if cnf.Tracing.ServiceName == "" {
		cnf.Tracing.ServiceName = "payrelay"
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

// GatewayTimeout is the bound on a single gateway call.
func (g GatewayConfig) GatewayTimeout() time.Duration {
	return time.Duration(g.TimeoutSec) * time.Second
}

// ResolveDelay is how long the webhook processor waits for a token before its second lookup.
func (w WebhookConfig) ResolveDelay() time.Duration {
	return time.Duration(w.ResolveDelayMs) * time.Millisecond
}

func (w WebhookConfig) LockTimeout() time.Duration {
	return time.Duration(w.LockTimeoutSec) * time.Second
}

func (w WebhookConfig) LockWait() time.Duration {
	return time.Duration(w.LockWaitSec) * time.Second
}

func (w WebhookConfig) TokenCacheTTL() time.Duration {
	return time.Duration(w.TokenCacheSec) * time.Second
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(logger.Writer())
}
