// Package config loads service configuration from an optional YAML file with
// environment variable overrides. Env wins over file, file wins over
// defaults.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		ListenAddr    string `yaml:"listen_addr"`
		JWTSigningKey string `yaml:"jwt_signing_key"`
		MaxUploadMB   int64  `yaml:"max_upload_mb"`
		UploadDir     string `yaml:"upload_dir"`
	} `yaml:"server"`

	AI struct {
		BaseURL        string `yaml:"base_url"`
		APIKey         string `yaml:"api_key"`
		VisionModel    string `yaml:"vision_model"`
		EvaluatorModel string `yaml:"evaluator_model"`
		SpeechModel    string `yaml:"speech_model"`
		MaxPerMinute   int    `yaml:"max_per_minute"`
		MaxPerHour     int    `yaml:"max_per_hour"`
	} `yaml:"ai"`

	GPU struct {
		ProxyURL string `yaml:"proxy_url"`
		ModelID  string `yaml:"model_id"`
	} `yaml:"gpu"`

	Detector struct {
		ChangeThreshold   float64 `yaml:"change_threshold"`
		MinChangeInterval float64 `yaml:"min_change_interval"`
		MaxGap            float64 `yaml:"max_gap"`
		SampleInterval    float64 `yaml:"sample_interval"`
		MaxWebcamFrames   int     `yaml:"max_webcam_frames"`
	} `yaml:"detector"`

	Storage struct {
		KeyframesDir  string `yaml:"keyframes_dir"`
		ChecklistPath string `yaml:"checklist_path"`
		RedisAddr     string `yaml:"redis_addr"`
		RedisPassword string `yaml:"redis_password"`
		RedisDB       int    `yaml:"redis_db"`
		PostgresDSN   string `yaml:"postgres_dsn"`
		NATSURL       string `yaml:"nats_url"`
		NATSSubject   string `yaml:"nats_subject"`
	} `yaml:"storage"`
}

// Load reads path (if non-empty and present) then applies env overrides and
// defaults. A missing file is not an error; a malformed one is.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			log.Printf("[INFO] Config: no file at %s, using env/defaults", path)
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(raw, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	overrideStr(&cfg.Server.ListenAddr, "LISTEN_ADDR")
	overrideStr(&cfg.Server.JWTSigningKey, "JWT_SIGNING_KEY")
	overrideInt64(&cfg.Server.MaxUploadMB, "MAX_UPLOAD_MB")
	overrideStr(&cfg.Server.UploadDir, "UPLOAD_DIR")
	overrideStr(&cfg.AI.BaseURL, "OPENAI_BASE_URL")
	overrideStr(&cfg.AI.APIKey, "OPENAI_API_KEY")
	overrideStr(&cfg.AI.VisionModel, "VISION_MODEL")
	overrideStr(&cfg.AI.EvaluatorModel, "EVALUATOR_MODEL")
	overrideStr(&cfg.AI.SpeechModel, "SPEECH_MODEL")
	overrideInt(&cfg.AI.MaxPerMinute, "AI_MAX_PER_MINUTE")
	overrideInt(&cfg.AI.MaxPerHour, "AI_MAX_PER_HOUR")
	overrideStr(&cfg.GPU.ProxyURL, "GPU_PROXY_URL")
	overrideStr(&cfg.GPU.ModelID, "GPU_MODEL_ID")
	overrideFloat(&cfg.Detector.ChangeThreshold, "CHANGE_THRESHOLD")
	overrideFloat(&cfg.Detector.SampleInterval, "SAMPLE_INTERVAL")
	overrideStr(&cfg.Storage.KeyframesDir, "KEYFRAMES_DIR")
	overrideStr(&cfg.Storage.ChecklistPath, "CHECKLIST_PATH")
	overrideStr(&cfg.Storage.RedisAddr, "REDIS_ADDR")
	overrideStr(&cfg.Storage.RedisPassword, "REDIS_PASSWORD")
	overrideInt(&cfg.Storage.RedisDB, "REDIS_DB")
	overrideStr(&cfg.Storage.PostgresDSN, "POSTGRES_DSN")
	overrideStr(&cfg.Storage.NATSURL, "NATS_URL")
	overrideStr(&cfg.Storage.NATSSubject, "NATS_SUBJECT")

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.JWTSigningKey == "" {
		c.Server.JWTSigningKey = "dev-secret-do-not-use-in-prod"
	}
	if c.Server.MaxUploadMB <= 0 {
		c.Server.MaxUploadMB = 200
	}
	if c.Server.UploadDir == "" {
		c.Server.UploadDir = os.TempDir()
	}
	if c.AI.BaseURL == "" {
		c.AI.BaseURL = "https://api.openai.com/v1"
	}
	if c.AI.VisionModel == "" {
		c.AI.VisionModel = "gpt-4o-mini"
	}
	if c.AI.EvaluatorModel == "" {
		c.AI.EvaluatorModel = "gpt-4o-mini"
	}
	if c.AI.SpeechModel == "" {
		c.AI.SpeechModel = "whisper-1"
	}
	if c.AI.MaxPerMinute <= 0 {
		c.AI.MaxPerMinute = 50
	}
	if c.AI.MaxPerHour <= 0 {
		c.AI.MaxPerHour = 1000
	}
	if c.Detector.MaxWebcamFrames <= 0 {
		c.Detector.MaxWebcamFrames = 3
	}
	if c.Storage.KeyframesDir == "" {
		c.Storage.KeyframesDir = "data/keyframes"
	}
	if c.Storage.ChecklistPath == "" {
		c.Storage.ChecklistPath = "data/checklist_state.json"
	}
	if c.Storage.NATSSubject == "" {
		c.Storage.NATSSubject = "comply.incidents"
	}
}

func overrideStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func overrideInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func overrideInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func overrideFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
