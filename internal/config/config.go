package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xxxsen/common/logger"
)

type Config struct {
	Port       int             `json:"port"`
	Database   DatabaseConfig  `json:"database"`
	AI         AIConfig        `json:"ai"`
	Embedding  EmbeddingConfig `json:"embedding"`
	Retrieval  RetrievalConfig `json:"retrieval"`
	Ingest     IngestConfig    `json:"ingest"`
	CORSOrigin []string        `json:"cors_origin"`
	LogConfig  logger.LogConfig `json:"log_config"`
}

type DatabaseConfig struct {
	// DSN overrides the individual fields when set.
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	SSLMode  string `json:"ssl_mode"`
}

// AIConfig selects the generation backend. Data carries provider-specific
// fields (api keys, base urls) decoded by the provider factory itself.
type AIConfig struct {
	Provider string      `json:"provider"`
	Model    string      `json:"model"`
	Timeout  int         `json:"timeout"`
	Data     interface{} `json:"data"`
}

type EmbeddingConfig struct {
	Provider  string      `json:"provider"`
	Model     string      `json:"model"`
	Dimension int         `json:"dimension"`
	Timeout   int         `json:"timeout"`
	Data      interface{} `json:"data"`
}

type RetrievalConfig struct {
	TopN         int `json:"top_n"`
	HistoryLimit int `json:"history_limit"`
}

type IngestConfig struct {
	ChunkSize         int    `json:"chunk_size"`
	ChunkOverlap      int    `json:"chunk_overlap"`
	Workers           int    `json:"workers"`
	QueueBuffer       int    `json:"queue_buffer"`
	MaxAttempts       int    `json:"max_attempts"`
	RetryDelaySeconds int    `json:"retry_delay_seconds"`
	RequeueCron       string `json:"requeue_cron"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Port == 0 {
		return nil, fmt.Errorf("port is required")
	}
	if cfg.Database.DSN == "" && (cfg.Database.Host == "" || cfg.Database.DBName == "" || cfg.Database.User == "") {
		return nil, fmt.Errorf("database host/db_name/user are required")
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.AI.Provider == "" {
		return nil, fmt.Errorf("ai.provider is required")
	}
	if cfg.AI.Model == "" {
		return nil, fmt.Errorf("ai.model is required")
	}
	if cfg.AI.Timeout == 0 {
		cfg.AI.Timeout = 60
	}
	if cfg.Embedding.Provider == "" {
		return nil, fmt.Errorf("embedding.provider is required")
	}
	if cfg.Embedding.Model == "" {
		return nil, fmt.Errorf("embedding.model is required")
	}
	if cfg.Embedding.Dimension == 0 {
		cfg.Embedding.Dimension = 384
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 30
	}
	if cfg.Retrieval.TopN == 0 {
		cfg.Retrieval.TopN = 5
	}
	if cfg.Retrieval.HistoryLimit == 0 {
		cfg.Retrieval.HistoryLimit = 20
	}
	if cfg.Ingest.ChunkSize == 0 {
		cfg.Ingest.ChunkSize = 2048
	}
	if cfg.Ingest.ChunkOverlap == 0 {
		cfg.Ingest.ChunkOverlap = 200
	}
	if cfg.Ingest.Workers == 0 {
		cfg.Ingest.Workers = 2
	}
	if cfg.Ingest.QueueBuffer == 0 {
		cfg.Ingest.QueueBuffer = 128
	}
	if cfg.Ingest.MaxAttempts == 0 {
		cfg.Ingest.MaxAttempts = 3
	}
	if cfg.Ingest.RetryDelaySeconds == 0 {
		cfg.Ingest.RetryDelaySeconds = 2
	}
	if cfg.Ingest.RequeueCron == "" {
		cfg.Ingest.RequeueCron = "*/5 * * * *"
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	return &cfg, nil
}
