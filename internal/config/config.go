// Package config loads runtime configuration for deepswap from the
// environment, with an optional .env file in the working directory.
package config

import (
	"fmt"

	"github.com/caarlos0/env"
	"github.com/joho/godotenv"
)

// Default values shared by the CLI and the server.
const (
	DefaultWorkers    = 20
	DefaultQueueRatio = 1.0
	DefaultVideoFPS   = 30
	DefaultQuality    = 70
	DefaultListenAddr = ":80"
)

// Config holds model locations, pipeline sizing and external service settings.
// Compatible with "github.com/caarlos0/env"
type Config struct {
	DetectorModel string `env:"DEEPSWAP_DETECTOR_MODEL" envDefault:"models/yolox.onnx"`
	EmbedderModel string `env:"DEEPSWAP_EMBEDDER_MODEL" envDefault:"models/face_recognizer.onnx"`
	SwapperModel  string `env:"DEEPSWAP_SWAPPER_MODEL" envDefault:"models/inswapper.onnx"`
	OccluderModel string `env:"DEEPSWAP_OCCLUDER_MODEL" envDefault:"models/face_occluder.onnx"`
	EnhancerModel string `env:"DEEPSWAP_ENHANCER_MODEL"`
	// EmapPath points at a raw 512x512 float32 matrix. When empty the
	// matrix is read from the swapper model's last initializer.
	EmapPath string `env:"DEEPSWAP_EMAP"`

	ORTLibrary string `env:"ONNXRUNTIME_LIB" envDefault:"lib/libonnxruntime.so"`
	// Providers is a comma separated execution provider list. Empty means
	// detect from the host.
	Providers string `env:"DEEPSWAP_PROVIDERS"`

	WorkDir      string  `env:"DEEPSWAP_WORK_DIR" envDefault:"temp"`
	Workers      int     `env:"DEEPSWAP_WORKERS" envDefault:"20"`
	QueueRatio   float64 `env:"DEEPSWAP_QUEUE_RATIO" envDefault:"1.0"`
	Adaptive     bool    `env:"DEEPSWAP_ADAPTIVE_SIZING" envDefault:"false"`
	VideoFPS     int     `env:"DEEPSWAP_VIDEO_FPS" envDefault:"30"`
	VideoQuality int     `env:"DEEPSWAP_VIDEO_QUALITY" envDefault:"70"`
	NMSThreshold float64 `env:"DEEPSWAP_NMS_THRESHOLD" envDefault:"0"`

	// Bucket credentials come from the application default chain
	// (GOOGLE_APPLICATION_CREDENTIALS or the metadata server).
	Bucket string `env:"GCS_BUCKET" envDefault:"df-backend"`

	ListenAddr string `env:"DEEPSWAP_LISTEN" envDefault:":80"`
	LogLevel   string `env:"DEEPSWAP_LOG_LEVEL" envDefault:"info"`
}

// Load reads an optional .env file and parses the environment into a Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	cfg.Validate()
	return cfg, nil
}

// Validate clamps values back into usable ranges.
func (c *Config) Validate() {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.QueueRatio <= 0 || c.QueueRatio > 1 {
		c.QueueRatio = DefaultQueueRatio
	}
	if c.VideoFPS <= 0 {
		c.VideoFPS = DefaultVideoFPS
	}
	if c.VideoQuality < 0 || c.VideoQuality > 100 {
		c.VideoQuality = DefaultQuality
	}
	if c.NMSThreshold < 0 || c.NMSThreshold >= 1 {
		c.NMSThreshold = 0
	}
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}
