package config

import (
	"log"
	"os"

	"github.com/BurntSushi/toml"
)

type MainConfig struct {
	AppName string `toml:"appName"`
}

type MysqlConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	DatabaseName string `toml:"databaseName"`
}

type LogConfig struct {
	LogPath string `toml:"logPath"`
}

type MilvusConfig struct {
	Address    string `toml:"address"`
	Username   string `toml:"username"`
	Password   string `toml:"password"`
	DBName     string `toml:"dbName"`
	VectorDim  int    `toml:"vectorDim"`
	MetricType string `toml:"metricType"`
}

type KafkaConfig struct {
	Enabled         bool     `toml:"enabled"`
	Brokers         []string `toml:"brokers"`
	ClientID        string   `toml:"clientID"`
	ProcessTopic    string   `toml:"processTopic"`
	ConsumerGroupID string   `toml:"consumerGroupID"`
	Partitions      int32    `toml:"partitions"`
	Replication     int16    `toml:"replication"`
}

type StorageConfig struct {
	Type     string `toml:"type"` // local / http
	LocalDir string `toml:"localDir"`
	BaseURL  string `toml:"baseURL"`
}

type ProcessConfig struct {
	PollIntervalSeconds  int `toml:"pollIntervalSeconds"`
	PendingBatchSize     int `toml:"pendingBatchSize"`
	RetryBatchSize       int `toml:"retryBatchSize"`
	RetryCooldownSeconds int `toml:"retryCooldownSeconds"`
	MaxRetries           int `toml:"maxRetries"`
	ChunkSize            int `toml:"chunkSize"`
	ChunkOverlap         int `toml:"chunkOverlap"`
	StaleCeilingMinutes  int `toml:"staleCeilingMinutes"`
}

type SyncConfig struct {
	PollIntervalSeconds  int `toml:"pollIntervalSeconds"`
	PendingBatchSize     int `toml:"pendingBatchSize"`
	RetryBatchSize       int `toml:"retryBatchSize"`
	RetryCooldownSeconds int `toml:"retryCooldownSeconds"`
	MaxRetries           int `toml:"maxRetries"`
}

type EmbeddingConfig struct {
	Provider       string `toml:"provider"`
	APIKey         string `toml:"apiKey"`
	BaseURL        string `toml:"baseURL"`
	Model          string `toml:"model"`
	Dimensions     int    `toml:"dimensions"`
	TimeoutSeconds int    `toml:"timeoutSeconds"`
}

type Config struct {
	MainConfig      `toml:"mainConfig"`
	MysqlConfig     `toml:"mysqlConfig"`
	MilvusConfig    `toml:"milvusConfig"`
	KafkaConfig     `toml:"kafkaConfig"`
	StorageConfig   `toml:"storageConfig"`
	ProcessConfig   `toml:"processConfig"`
	SyncConfig      `toml:"syncConfig"`
	EmbeddingConfig `toml:"embeddingConfig"`
	LogConfig       `toml:"logConfig"`
}

var config *Config

func LoadConfig() error {
	configPath := os.Getenv("LLAMADOC_CONFIG")
	if configPath == "" {
		configPath = "configs/config_local.toml"
	}
	if _, err := toml.DecodeFile(configPath, config); err != nil {
		log.Printf("load config failed: %v, falling back to defaults", err)
		return err
	}
	return nil
}

func GetConfig() *Config {
	if config == nil {
		config = new(Config)
		_ = LoadConfig()
		config.applyDefaults()
	}
	return config
}

func (c *Config) applyDefaults() {
	if c.ProcessConfig.PollIntervalSeconds <= 0 {
		c.ProcessConfig.PollIntervalSeconds = 2
	}
	if c.ProcessConfig.PendingBatchSize <= 0 {
		c.ProcessConfig.PendingBatchSize = 5
	}
	if c.ProcessConfig.RetryBatchSize <= 0 {
		c.ProcessConfig.RetryBatchSize = 3
	}
	if c.ProcessConfig.RetryCooldownSeconds <= 0 {
		c.ProcessConfig.RetryCooldownSeconds = 300
	}
	if c.ProcessConfig.MaxRetries <= 0 {
		c.ProcessConfig.MaxRetries = 3
	}
	if c.ProcessConfig.ChunkSize <= 0 {
		c.ProcessConfig.ChunkSize = 1024
	}
	if c.ProcessConfig.ChunkOverlap <= 0 {
		c.ProcessConfig.ChunkOverlap = 200
	}
	if c.ProcessConfig.StaleCeilingMinutes <= 0 {
		c.ProcessConfig.StaleCeilingMinutes = 30
	}
	if c.SyncConfig.PollIntervalSeconds <= 0 {
		c.SyncConfig.PollIntervalSeconds = 2
	}
	if c.SyncConfig.PendingBatchSize <= 0 {
		c.SyncConfig.PendingBatchSize = 10
	}
	if c.SyncConfig.RetryBatchSize <= 0 {
		c.SyncConfig.RetryBatchSize = 5
	}
	if c.SyncConfig.RetryCooldownSeconds <= 0 {
		c.SyncConfig.RetryCooldownSeconds = 300
	}
	if c.SyncConfig.MaxRetries <= 0 {
		c.SyncConfig.MaxRetries = 3
	}
	if c.MilvusConfig.VectorDim <= 0 {
		c.MilvusConfig.VectorDim = 768
	}
	if c.StorageConfig.Type == "" {
		c.StorageConfig.Type = "local"
	}
	if c.StorageConfig.LocalDir == "" {
		c.StorageConfig.LocalDir = "uploads"
	}
}
