package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all environment-driven settings.
type Config struct {
	TelegramToken      string
	TelegramDebug      bool
	DriveFolderID      string
	SheetID            string
	SheetRange         string
	ServiceAccountFile string
	DataDir            string
	CollectionName     string
	WorkDir            string
	DBPath             string
	HTTPPort           string
	WorkerCount        int
	QueueSize          int
	SinkTimeoutSec     int
	PhotoMaxEdge       int
	Timezone           string
	Location           *time.Location
	ConfigPath         string
	CatalogPath        string
	EnableCatalogWatch bool
	GroupMeBotID       string
	GroupMeURL         string
	PostGISDSN         string
	StrictConfig       bool
	Catalog            Catalog
}

type fileConfig struct {
	DriveFolderID      string `json:"drive_folder_id" yaml:"drive_folder_id"`
	SheetID            string `json:"sheet_id" yaml:"sheet_id"`
	SheetRange         string `json:"sheet_range" yaml:"sheet_range"`
	ServiceAccountFile string `json:"service_account_file" yaml:"service_account_file"`
	DataDir            string `json:"data_dir" yaml:"data_dir"`
	CollectionName     string `json:"collection_name" yaml:"collection_name"`
	WorkDir            string `json:"work_dir" yaml:"work_dir"`
	DBPath             string `json:"db_path" yaml:"db_path"`
	HTTPPort           string `json:"http_port" yaml:"http_port"`
	Timezone           string `json:"timezone" yaml:"timezone"`
	PhotoMaxEdge       *int   `json:"photo_max_edge" yaml:"photo_max_edge"`
}

const (
	defaultPort           = ":8080"
	defaultDataDir        = "runtime/data"
	defaultWorkDir        = "runtime/work"
	defaultCollection     = "segnalazioni"
	defaultDBFile         = "ledger.db"
	defaultSheetRange     = "A1"
	defaultServiceAccount = "service_account.json"
	defaultGroupMeURL     = "https://api.groupme.com/v3/bots/post"
	defaultTimezone       = "Europe/Rome"
	minQueueSize          = 1
	defaultQueueSize      = 100
	maxQueueSize          = 1024
	defaultWorkerCount    = 4
	defaultSinkTimeoutSec = 60
	defaultPhotoMaxEdge   = 2048
)

// Load reads configuration from .env, the optional config file and the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		TelegramToken:      strings.TrimSpace(os.Getenv("TELEGRAM_TOKEN")),
		TelegramDebug:      parseBoolEnv("TELEGRAM_DEBUG"),
		GroupMeBotID:       os.Getenv("GROUPME_BOT_ID"),
		GroupMeURL:         getEnv("GROUPME_URL", defaultGroupMeURL),
		PostGISDSN:         os.Getenv("POSTGIS_DSN"),
		StrictConfig:       parseBoolEnv("STRICT_CONFIG"),
		EnableCatalogWatch: parseBoolEnvDefault("ENABLE_CATALOG_WATCH", true),
		WorkerCount:        defaultWorkerCount,
		QueueSize:          defaultQueueSize,
		SinkTimeoutSec:     defaultSinkTimeoutSec,
		PhotoMaxEdge:       defaultPhotoMaxEdge,
	}

	cfg.ConfigPath = getEnv("CONFIG_PATH", filepath.Join("config", "config.yaml"))
	cfg.CatalogPath = getEnv("CATALOG_PATH", cfg.ConfigPath)

	fileCfg, fileErr := loadFileConfig(cfg.ConfigPath)
	if fileErr != nil {
		if cfg.StrictConfig {
			return cfg, fmt.Errorf("config load failed (%s): %w", cfg.ConfigPath, fileErr)
		}
		log.Printf("config load failed (%s): %v (using defaults)", cfg.ConfigPath, fileErr)
	}

	cfg.DriveFolderID = firstNonEmpty(os.Getenv("DRIVE_FOLDER_ID"), fileCfg.DriveFolderID)
	cfg.SheetID = firstNonEmpty(os.Getenv("SHEET_ID"), fileCfg.SheetID)
	cfg.SheetRange = firstNonEmpty(os.Getenv("SHEET_RANGE"), fileCfg.SheetRange, defaultSheetRange)
	cfg.ServiceAccountFile = firstNonEmpty(os.Getenv("SERVICE_ACCOUNT_FILE"), fileCfg.ServiceAccountFile, defaultServiceAccount)
	cfg.DataDir = firstNonEmpty(os.Getenv("DATA_DIR"), fileCfg.DataDir, defaultDataDir)
	cfg.CollectionName = firstNonEmpty(os.Getenv("COLLECTION_NAME"), fileCfg.CollectionName, defaultCollection)
	cfg.WorkDir = firstNonEmpty(os.Getenv("WORK_DIR"), fileCfg.WorkDir, defaultWorkDir)
	cfg.DBPath = firstNonEmpty(os.Getenv("DB_PATH"), fileCfg.DBPath, filepath.Join(cfg.DataDir, defaultDBFile))
	cfg.Timezone = firstNonEmpty(os.Getenv("TIMEZONE"), fileCfg.Timezone, defaultTimezone)

	cfg.HTTPPort = firstNonEmpty(os.Getenv("HTTP_PORT"), fileCfg.HTTPPort, defaultPort)
	if legacyPort := os.Getenv("PORT"); legacyPort != "" && cfg.HTTPPort == defaultPort {
		cfg.HTTPPort = legacyPort
	}
	if !strings.HasPrefix(cfg.HTTPPort, ":") {
		cfg.HTTPPort = ":" + cfg.HTTPPort
	}

	if fileCfg.PhotoMaxEdge != nil && *fileCfg.PhotoMaxEdge >= 0 {
		cfg.PhotoMaxEdge = *fileCfg.PhotoMaxEdge
	}
	if v, ok, err := parseIntEnv("PHOTO_MAX_EDGE"); err != nil {
		log.Printf("invalid PHOTO_MAX_EDGE: %v (using %d)", err, cfg.PhotoMaxEdge)
	} else if ok && v >= 0 {
		cfg.PhotoMaxEdge = v
	}

	if v, ok, err := parseIntEnv("WORKER_COUNT"); err != nil {
		log.Printf("invalid WORKER_COUNT: %v (using default %d)", err, defaultWorkerCount)
	} else if ok {
		if v <= 0 {
			log.Printf("WORKER_COUNT must be positive, using default %d", defaultWorkerCount)
			v = defaultWorkerCount
		}
		cfg.WorkerCount = v
	}

	if v, ok, err := parseIntEnv("QUEUE_SIZE"); err != nil {
		log.Printf("invalid QUEUE_SIZE: %v (using default %d)", err, defaultQueueSize)
	} else if ok {
		cfg.QueueSize = clampInt(v, minQueueSize, maxQueueSize)
		if cfg.QueueSize != v {
			log.Printf("QUEUE_SIZE clamped to %d (was %d)", cfg.QueueSize, v)
		}
	}
	if cfg.QueueSize < cfg.WorkerCount {
		log.Printf("QUEUE_SIZE must be >= WORKER_COUNT; using %d", cfg.WorkerCount)
		cfg.QueueSize = cfg.WorkerCount
	}

	if v, ok, err := parseIntEnv("SINK_TIMEOUT_SEC"); err != nil {
		return cfg, fmt.Errorf("invalid SINK_TIMEOUT_SEC: %w", err)
	} else if ok {
		if v <= 0 {
			return cfg, errors.New("SINK_TIMEOUT_SEC must be positive")
		}
		cfg.SinkTimeoutSec = v
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Printf("unknown TIMEZONE=%q: %v (using local time)", cfg.Timezone, err)
		loc = time.Local
	}
	cfg.Location = loc

	catalog, err := LoadCatalog(cfg.CatalogPath)
	if err != nil {
		if cfg.StrictConfig && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("catalog load failed (%s): %w", cfg.CatalogPath, err)
		}
		log.Printf("catalog load failed (%s): %v (using defaults)", cfg.CatalogPath, err)
		catalog = DefaultCatalog()
	}
	cfg.Catalog = catalog

	if err := Validate(cfg); err != nil {
		if cfg.StrictConfig {
			return cfg, err
		}
		log.Printf("config validation failed: %v (continuing)", err)
	}

	log.Printf("config: data_dir=%s collection=%s work_dir=%s db=%s workers=%d", cfg.DataDir, cfg.CollectionName, cfg.WorkDir, cfg.DBPath, cfg.WorkerCount)
	return cfg, nil
}

// Validate reports the first setting that would keep the bot from running.
func Validate(cfg Config) error {
	if cfg.TelegramToken == "" {
		return errors.New("TELEGRAM_TOKEN is required")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return errors.New("DATA_DIR is required")
	}
	if strings.TrimSpace(cfg.CollectionName) == "" {
		return errors.New("COLLECTION_NAME is required")
	}
	if cfg.SinkTimeoutSec <= 0 {
		return errors.New("sink timeout must be positive")
	}
	if len(cfg.Catalog.Categories) == 0 {
		return errors.New("catalog must define at least one category")
	}
	return nil
}

// SinkTimeout returns the per-call deadline applied to remote sinks.
func (c Config) SinkTimeout() time.Duration {
	return time.Duration(c.SinkTimeoutSec) * time.Second
}

// CollectionBase is the shapefile path without extension.
func (c Config) CollectionBase() string {
	return filepath.Join(c.DataDir, c.CollectionName)
}

func loadFileConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if len(data) == 0 {
		return cfg, errors.New("empty config file")
	}
	if err := decodeFile(path, data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decodeFile(path string, data []byte, out any) error {
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		return json.Unmarshal(data, out)
	}
	return yaml.Unmarshal(data, out)
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseBoolEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseBoolEnvDefault(key string, defaultVal bool) bool {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return defaultVal
	}
	return parseBoolEnv(key)
}

func parseIntEnv(key string) (int, bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false, nil
	}
	val, err := strconv.Atoi(raw)
	return val, true, err
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
