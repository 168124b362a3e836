// Package config loads the single declarative YAML document that
// configures a running access controller.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kestrel-systems/faceaccess/internal/constants"
	"github.com/kestrel-systems/faceaccess/internal/faulterr"
)

// Config is the root of the configuration document.
type Config struct {
	Camera   CameraConfig   `yaml:"camera"`
	Face     FaceConfig     `yaml:"face"`
	BLE      BLEConfig      `yaml:"ble"`
	Access   AccessConfig   `yaml:"access"`
	Lock     LockConfig     `yaml:"lock"`
	Database DatabaseConfig `yaml:"database"`
	LogLevel string         `yaml:"log_level"`
}

type CameraConfig struct {
	Type             string `yaml:"type"` // usb | rtsp | csi
	DeviceID         int    `yaml:"device_id"`
	URL              string `yaml:"url"`
	Width            int    `yaml:"width"`
	Height           int    `yaml:"height"`
	FPS              int    `yaml:"fps"`
	Transport        string `yaml:"transport"` // tcp | udp, rtsp only
	Rotation         int    `yaml:"rotation"`
	HFlip            bool   `yaml:"hflip"`
	VFlip            bool   `yaml:"vflip"`
	MaxReadFailures  int    `yaml:"max_read_failures"`
	MaxReopenAttempts int   `yaml:"max_reopen_attempts"`
}

type FaceConfig struct {
	ModelPath           string  `yaml:"model_path"`
	DetectorType        string  `yaml:"detector_type"`
	DetectorScale       float64 `yaml:"detector_scale"`
	DetectorNeighbors   int     `yaml:"detector_neighbors"`
	DetectorMinSize     int     `yaml:"detector_min_size"`
	EmbeddingDim        int     `yaml:"embedding_dim"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	QualityMinFaceSize  int     `yaml:"quality_min_face_size"`
	QualityBlurThreshold float64 `yaml:"quality_blur_threshold"`
	AlignEnabled        bool    `yaml:"align_enabled"`
	InputSize           int     `yaml:"input_size"`
	NormMean            float64 `yaml:"norm_mean"`
	NormStd             float64 `yaml:"norm_std"`
	EmbedderBackend     string  `yaml:"embedder_backend"` // onnx | opencv | openai | gemini
	EmbedderURL         string  `yaml:"embedder_url"`
	EmbedderModel       string  `yaml:"embedder_model"`
	EmbedderAPIKey      string  `yaml:"embedder_api_key"`
	ANNEnabled          bool    `yaml:"ann_enabled"`
}

type BLEConfig struct {
	DeviceName       string `yaml:"device_name"`
	ServiceUUID      string `yaml:"service_uuid"`
	CommandCharUUID  string `yaml:"command_char_uuid"`
	ResponseCharUUID string `yaml:"response_char_uuid"`
	PhotoChunkSize   int    `yaml:"photo_chunk_size"`
	MaxPhotoSize     int    `yaml:"max_photo_size"`
	SharedSecret     string `yaml:"shared_secret"`
	HMACEnabled      bool   `yaml:"hmac_enabled"`
	UseRealBLE       bool   `yaml:"use_real_ble"`
}

type AccessConfig struct {
	AdminModeEnabled     bool    `yaml:"admin_mode_enabled"`
	UnlockDurationSec    float64 `yaml:"unlock_duration_sec"`
	CooldownSec          float64 `yaml:"cooldown_sec"`
	MaxAttemptsPerMinute int     `yaml:"max_attempts_per_minute"`
	GrantedLockoutSec    float64 `yaml:"granted_lockout_sec"`
}

type LockConfig struct {
	GPIOPin           int    `yaml:"gpio_pin"`
	GPIOChip          string `yaml:"gpio_chip"`
	ActiveHigh        bool   `yaml:"active_high"`
	MockMode          bool   `yaml:"mock_mode"`
	ButtonPin         *int   `yaml:"button_pin"`
	ButtonActiveLow   bool   `yaml:"button_active_low"`
	ButtonDebounceMs  int    `yaml:"button_debounce_ms"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// Load reads, parses, defaults, and validates the configuration document at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, faulterr.New(faulterr.ConfigInvalid, "config.Load", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, faulterr.New(faulterr.ConfigInvalid, "config.Load", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, faulterr.New(faulterr.ConfigInvalid, "config.Load", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Camera.Type == "" {
		c.Camera.Type = "usb"
	}
	if c.Camera.Width == 0 {
		c.Camera.Width = 640
	}
	if c.Camera.Height == 0 {
		c.Camera.Height = 480
	}
	if c.Camera.FPS == 0 {
		c.Camera.FPS = 30
	}
	if c.Camera.Transport == "" {
		c.Camera.Transport = "tcp"
	}
	if c.Camera.MaxReadFailures == 0 {
		c.Camera.MaxReadFailures = constants.DefaultMaxReadFailures
	}
	if c.Camera.MaxReopenAttempts == 0 {
		c.Camera.MaxReopenAttempts = constants.DefaultMaxReopenAttempts
	}

	if c.Face.EmbeddingDim == 0 {
		c.Face.EmbeddingDim = constants.DefaultEmbeddingDim
	}
	if c.Face.SimilarityThreshold == 0 {
		c.Face.SimilarityThreshold = 0.5
	}
	if c.Face.InputSize == 0 {
		c.Face.InputSize = 112
	}
	if c.Face.EmbedderBackend == "" {
		c.Face.EmbedderBackend = "onnx"
	}

	if c.BLE.DeviceName == "" {
		c.BLE.DeviceName = "RP3_FaceAccess"
	}
	if c.BLE.ServiceUUID == "" {
		c.BLE.ServiceUUID = constants.ServiceUUID
	}
	if c.BLE.CommandCharUUID == "" {
		c.BLE.CommandCharUUID = constants.CommandCharUUID
	}
	if c.BLE.ResponseCharUUID == "" {
		c.BLE.ResponseCharUUID = constants.ResponseCharUUID
	}
	if c.BLE.PhotoChunkSize == 0 {
		c.BLE.PhotoChunkSize = 512
	}
	if c.BLE.MaxPhotoSize == 0 {
		c.BLE.MaxPhotoSize = constants.DefaultMaxCommandSize
	}

	if c.Access.UnlockDurationSec == 0 {
		c.Access.UnlockDurationSec = constants.DefaultUnlockDurationSeconds
	}
	if c.Access.CooldownSec == 0 {
		c.Access.CooldownSec = constants.DefaultGlobalCooldownSeconds
	}
	if c.Access.MaxAttemptsPerMinute == 0 {
		c.Access.MaxAttemptsPerMinute = constants.DefaultMaxAttemptsPerMinute
	}
	if c.Access.GrantedLockoutSec == 0 {
		c.Access.GrantedLockoutSec = constants.DefaultGrantLockoutSeconds
	}

	if c.Lock.GPIOChip == "" {
		c.Lock.GPIOChip = "gpiochip0"
	}
	if c.Lock.ButtonDebounceMs == 0 {
		c.Lock.ButtonDebounceMs = constants.DefaultButtonDebounceMillis
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c *Config) validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Face.EmbeddingDim <= 0 {
		return fmt.Errorf("face.embedding_dim must be positive")
	}
	if c.Face.SimilarityThreshold < 0 || c.Face.SimilarityThreshold > 1 {
		return fmt.Errorf("face.similarity_threshold must be within [0, 1]")
	}
	if c.Access.GrantedLockoutSec < 0 {
		return fmt.Errorf("access.granted_lockout_sec must be non-negative")
	}
	if c.Access.CooldownSec < 0 {
		return fmt.Errorf("access.cooldown_sec must be non-negative")
	}
	if c.Access.MaxAttemptsPerMinute <= 0 {
		return fmt.Errorf("access.max_attempts_per_minute must be positive")
	}
	switch c.Camera.Type {
	case "usb", "rtsp", "csi":
	default:
		return fmt.Errorf("camera.type must be one of usb, rtsp, csi, got %q", c.Camera.Type)
	}
	return nil
}
