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
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT               = "3001"
	DEFAULT_MOCK_PROCESSING_MS = 120000
	DEFAULT_PROVIDER_TIMEOUT   = 30
	DEFAULT_WORKER_COUNT       = 4
	DEFAULT_QUEUE_SIZE         = 256
	DEFAULT_DOCUMENT_QUEUE     = "new:document"
	DEFAULT_WEBHOOK_QUEUE      = "new:webhook"
	DEFAULT_EVENTS_CHANNEL     = "docflow:events"
	DEFAULT_TASK_TIMEOUT_SEC   = 300
	DEFAULT_MONITORING_PORT    = "5004"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"DOCFLOW_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"DOCFLOW_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"DOCFLOW_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"DOCFLOW_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"DOCFLOW_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"DOCFLOW_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"DOCFLOW_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"DOCFLOW_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"DOCFLOW_REDIS_SKIP_TLS_VERIFY"`
	// EventsChannel is the pub/sub channel used to relay lifecycle events between processes.
	EventsChannel string `json:"events_channel" envconfig:"DOCFLOW_REDIS_EVENTS_CHANNEL"`
}

type QueueConfig struct {
	DocumentQueue  string `json:"document_queue" envconfig:"DOCFLOW_QUEUE_DOCUMENT_QUEUE"`
	WebhookQueue   string `json:"webhook_queue" envconfig:"DOCFLOW_QUEUE_WEBHOOK_QUEUE"`
	WorkerCount    int    `json:"worker_count" envconfig:"DOCFLOW_QUEUE_WORKER_COUNT"`
	Size           int    `json:"size" envconfig:"DOCFLOW_QUEUE_SIZE"`
	TaskTimeoutSec int    `json:"task_timeout_sec" envconfig:"DOCFLOW_QUEUE_TASK_TIMEOUT_SEC"`
	MonitoringPort string `json:"monitoring_port" envconfig:"DOCFLOW_QUEUE_MONITORING_PORT"`
}

// ProviderConfig holds the IDP provider endpoints and client credentials.
type ProviderConfig struct {
	AuthURL       string `json:"auth_url" envconfig:"DOCFLOW_PROVIDER_AUTH_URL"`
	ContentAPIURL string `json:"content_api_url" envconfig:"DOCFLOW_PROVIDER_CONTENT_API_URL"`
	ClientID      string `json:"client_id" envconfig:"DOCFLOW_PROVIDER_CLIENT_ID"`
	ClientSecret  string `json:"client_secret" envconfig:"DOCFLOW_PROVIDER_CLIENT_SECRET"`
	FolderID      string `json:"folder_id" envconfig:"DOCFLOW_PROVIDER_FOLDER_ID"`
	TimeoutSec    int    `json:"timeout_sec" envconfig:"DOCFLOW_PROVIDER_TIMEOUT_SEC"`
}

type MockConfigSettings struct {
	Enabled          bool `json:"enabled" envconfig:"DOCFLOW_MOCK_ENABLED"`
	ProcessingTimeMs int  `json:"processing_time_ms" envconfig:"DOCFLOW_MOCK_PROCESSING_TIME_MS"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"DOCFLOW_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"DOCFLOW_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"DOCFLOW_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"DOCFLOW_SLACK_WEBHOOK_URL"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url" envconfig:"DOCFLOW_WEBHOOK_URL"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName     string             `json:"project_name" envconfig:"DOCFLOW_PROJECT_NAME"`
	BackendURL      string             `json:"backend_url" envconfig:"DOCFLOW_BACKEND_URL"`
	FrontendURL     string             `json:"frontend_url" envconfig:"DOCFLOW_FRONTEND_URL"`
	EnableTelemetry bool               `json:"enable_telemetry" envconfig:"DOCFLOW_ENABLE_TELEMETRY"`
	Server          ServerConfig       `json:"server"`
	DataSource      DataSourceConfig   `json:"data_source"`
	Redis           RedisConfig        `json:"redis"`
	Queue           QueueConfig        `json:"queue"`
	Provider        ProviderConfig     `json:"provider"`
	Mock            MockConfigSettings `json:"mock"`
	Notification    Notification       `json:"notification"`
	RateLimit       RateLimitConfig    `json:"rate_limit"`
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

	// override config from environment variables
	err = envconfig.Process("docflow", &cnf)
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
		return nil, errors.New("config not loaded from file. Create a json file called docflow.json with your config ❌")
	}
	return c, nil
}

// MockMode reports whether extraction is simulated instead of delegated to the provider.
func (cnf *Configuration) MockMode() bool {
	return cnf.Mock.Enabled
}

// Mode is the human readable processing mode reported by the health endpoint.
func (cnf *Configuration) Mode() string {
	if cnf.MockMode() {
		return "mock"
	}
	return "production"
}

// MockProcessingDelay is how long the simulator waits before completing a document.
func (cnf *Configuration) MockProcessingDelay() time.Duration {
	return time.Duration(cnf.Mock.ProcessingTimeMs) * time.Millisecond
}

// ExtractionWebhookURL is the callback address handed to the provider.
func (cnf *Configuration) ExtractionWebhookURL() string {
	return strings.TrimRight(cnf.BackendURL, "/") + "/webhook/extraction"
}

func (p ProviderConfig) configured() bool {
	return p.AuthURL != "" || p.ContentAPIURL != "" || p.ClientID != "" || p.ClientSecret != "" || p.FolderID != ""
}

func (p ProviderConfig) validate() error {
	missing := []string{}
	if p.AuthURL == "" {
		missing = append(missing, "auth_url")
	}
	if p.ContentAPIURL == "" {
		missing = append(missing, "content_api_url")
	}
	if p.ClientID == "" {
		missing = append(missing, "client_id")
	}
	if p.ClientSecret == "" {
		missing = append(missing, "client_secret")
	}
	if p.FolderID == "" {
		missing = append(missing, "folder_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("provider %s required when mock mode is disabled", strings.Join(missing, ", "))
	}
	return nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Docflow Server"
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.BackendURL = strings.TrimSpace(cnf.BackendURL)
	cnf.FrontendURL = strings.TrimSpace(cnf.FrontendURL)

	if cnf.DataSource.Dns == "" {
		log.Println("Warning: Data source DNS is empty. Documents will be kept in memory.")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Warning: Redis DNS is empty. Tasks will run on the in-process worker pool.")
	} else if cnf.DataSource.Dns == "" {
		log.Println("Error: Redis DNS is set without a data source DNS. Workers cannot share an in-memory store.")
		return errors.New("data source DNS is required when redis DNS is set")
	}

	if !cnf.Mock.Enabled {
		if !cnf.Provider.configured() {
			log.Println("Warning: No extraction provider configured. Enabling mock mode.")
			cnf.Mock.Enabled = true
		} else {
			if err := cnf.Provider.validate(); err != nil {
				log.Printf("Error: %v", err)
				return err
			}
			if cnf.BackendURL == "" {
				log.Println("Error: Backend URL is empty. It's required for the extraction callback.")
				return errors.New("backend URL is required when mock mode is disabled")
			}
		}
	}

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Mock.ProcessingTimeMs <= 0 {
		cnf.Mock.ProcessingTimeMs = DEFAULT_MOCK_PROCESSING_MS
	}

	if cnf.Provider.TimeoutSec <= 0 {
		cnf.Provider.TimeoutSec = DEFAULT_PROVIDER_TIMEOUT
	}

	if cnf.Queue.DocumentQueue == "" {
		cnf.Queue.DocumentQueue = DEFAULT_DOCUMENT_QUEUE
	}
	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = DEFAULT_WEBHOOK_QUEUE
	}
	if cnf.Queue.WorkerCount <= 0 {
		cnf.Queue.WorkerCount = DEFAULT_WORKER_COUNT
	}
	if cnf.Queue.Size <= 0 {
		cnf.Queue.Size = DEFAULT_QUEUE_SIZE
	}
	if cnf.Queue.TaskTimeoutSec <= 0 {
		cnf.Queue.TaskTimeoutSec = DEFAULT_TASK_TIMEOUT_SEC
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = DEFAULT_MONITORING_PORT
	}
	if cnf.Redis.EventsChannel == "" {
		cnf.Redis.EventsChannel = DEFAULT_EVENTS_CHANNEL
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}

	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
