package config

import (
	"encoding/json"
	"os"
	"testing"
	"time"
)

func TestValidateAndAddDefaults(t *testing.T) {
	// No provider at all falls back to mock mode
	cnf := Configuration{}
	err := cnf.validateAndAddDefaults()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !cnf.Mock.Enabled {
		t.Errorf("Expected mock mode to be enabled when no provider is configured")
	}
	if cnf.Server.Port != DEFAULT_PORT {
		t.Errorf("Expected default port %s, got %s", DEFAULT_PORT, cnf.Server.Port)
	}
	if cnf.Mock.ProcessingTimeMs != DEFAULT_MOCK_PROCESSING_MS {
		t.Errorf("Expected default mock processing time %d, got %d", DEFAULT_MOCK_PROCESSING_MS, cnf.Mock.ProcessingTimeMs)
	}
	if cnf.Queue.WorkerCount != DEFAULT_WORKER_COUNT || cnf.Queue.Size != DEFAULT_QUEUE_SIZE || cnf.Queue.MonitoringPort != DEFAULT_MONITORING_PORT {
		t.Errorf("Expected queue defaults, got %+v", cnf.Queue)
	}
	if cnf.ProjectName != "Docflow Server" {
		t.Errorf("Expected default project name, got %s", cnf.ProjectName)
	}

	// Partially configured provider is rejected
	cnf = Configuration{
		Provider: ProviderConfig{
			AuthURL:  "https://auth.example.com/token",
			ClientID: "client",
		},
	}
	err = cnf.validateAndAddDefaults()
	if err == nil || err.Error() != "provider content_api_url, client_secret, folder_id required when mock mode is disabled" {
		t.Errorf("Expected provider validation error, got %v", err)
	}

	// Production mode requires a backend URL for the callback
	cnf = Configuration{
		Provider: ProviderConfig{
			AuthURL:       "https://auth.example.com/token",
			ContentAPIURL: "https://content.example.com/api",
			ClientID:      "client",
			ClientSecret:  "secret",
			FolderID:      "folder",
		},
	}
	err = cnf.validateAndAddDefaults()
	if err == nil || err.Error() != "backend URL is required when mock mode is disabled" {
		t.Errorf("Expected backend URL required error, got %v", err)
	}

	cnf.BackendURL = "https://api.example.com/"
	err = cnf.validateAndAddDefaults()
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if cnf.MockMode() {
		t.Errorf("Expected production mode")
	}
	if cnf.Mode() != "production" {
		t.Errorf("Expected production mode name, got %s", cnf.Mode())
	}
	if cnf.ExtractionWebhookURL() != "https://api.example.com/webhook/extraction" {
		t.Errorf("Unexpected webhook URL %s", cnf.ExtractionWebhookURL())
	}
}

func TestValidateAndAddDefaults_RedisRequiresDataSource(t *testing.T) {
	cnf := Configuration{Redis: RedisConfig{Dns: "redis://localhost:6379"}}
	err := cnf.validateAndAddDefaults()
	if err == nil || err.Error() != "data source DNS is required when redis DNS is set" {
		t.Errorf("Expected data source required error, got %v", err)
	}

	cnf = Configuration{
		Redis:      RedisConfig{Dns: "redis://localhost:6379"},
		DataSource: DataSourceConfig{Dns: "  "},
	}
	if err := cnf.validateAndAddDefaults(); err == nil {
		t.Errorf("Expected blank data source DNS to be rejected")
	}

	cnf = Configuration{
		Redis:      RedisConfig{Dns: "redis://localhost:6379"},
		DataSource: DataSourceConfig{Dns: "postgres://localhost:5432/docflow"},
	}
	if err := cnf.validateAndAddDefaults(); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
}

func TestMockProcessingDelay(t *testing.T) {
	cnf := Configuration{Mock: MockConfigSettings{Enabled: true, ProcessingTimeMs: 1500}}
	if cnf.MockProcessingDelay() != 1500*time.Millisecond {
		t.Errorf("Expected 1.5s delay, got %s", cnf.MockProcessingDelay())
	}
	if cnf.Mode() != "mock" {
		t.Errorf("Expected mock mode name, got %s", cnf.Mode())
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "docflow.json")
	if err != nil {
		t.Fatalf("Unable to create temporary file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	sampleConfig := Configuration{
		ProjectName: "Temp Project",
		DataSource: DataSourceConfig{
			Dns: "temp-dns",
		},
		Mock: MockConfigSettings{Enabled: true, ProcessingTimeMs: 10},
	}
	if err := json.NewEncoder(tmpFile).Encode(sampleConfig); err != nil {
		t.Fatalf("Unable to write to temporary file: %v", err)
	}
	tmpFile.Close()

	os.Setenv("DOCFLOW_PROJECT_NAME", "Env Project")
	defer os.Unsetenv("DOCFLOW_PROJECT_NAME")
	os.Setenv("DOCFLOW_MOCK_PROCESSING_TIME_MS", "250")
	defer os.Unsetenv("DOCFLOW_MOCK_PROCESSING_TIME_MS")

	if err := loadConfigFromFile(tmpFile.Name()); err != nil {
		t.Fatalf("loadConfigFromFile failed: %v", err)
	}

	loadedConfig, err := Fetch()
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if loadedConfig.ProjectName != "Env Project" {
		t.Errorf("Expected ProjectName to be 'Env Project', got '%s'", loadedConfig.ProjectName)
	}
	if loadedConfig.DataSource.Dns != "temp-dns" {
		t.Errorf("Expected DataSource.Dns to be 'temp-dns', got '%s'", loadedConfig.DataSource.Dns)
	}
	if loadedConfig.Mock.ProcessingTimeMs != 250 {
		t.Errorf("Expected env override of processing time, got %d", loadedConfig.Mock.ProcessingTimeMs)
	}
}

func TestInitConfig(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "docflow.json")
	if err != nil {
		t.Fatalf("Unable to create temporary file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	sampleConfig := Configuration{
		ProjectName: "InitConfig Test",
		DataSource:  DataSourceConfig{Dns: "postgres://localhost:5432/docflow"},
		Redis:       RedisConfig{Dns: "localhost:6379"},
	}
	if err := json.NewEncoder(tmpFile).Encode(sampleConfig); err != nil {
		t.Fatalf("Unable to write to temporary file: %v", err)
	}
	tmpFile.Close()

	if err := InitConfig(tmpFile.Name()); err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}

	loadedConfig, err := Fetch()
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if loadedConfig.ProjectName != "InitConfig Test" {
		t.Errorf("Expected ProjectName to be 'InitConfig Test', got '%s'", loadedConfig.ProjectName)
	}
	if loadedConfig.Redis.EventsChannel != DEFAULT_EVENTS_CHANNEL {
		t.Errorf("Expected default events channel, got '%s'", loadedConfig.Redis.EventsChannel)
	}
}
