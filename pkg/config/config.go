// Package config provides configuration management for FaceLogin.
// It loads configuration from YAML files with sensible defaults and
// FACELOGIN_* environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all FaceLogin configuration.
type Config struct {
	Camera      CameraConfig      `yaml:"camera"`
	Detection   DetectionConfig   `yaml:"detection"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Enrollment  EnrollmentConfig  `yaml:"enrollment"`
	Training    TrainingConfig    `yaml:"training"`
	Storage     StorageConfig     `yaml:"storage"`
	Database    DatabaseConfig    `yaml:"database"`
	Logging     LoggingConfig     `yaml:"logging"`

	// Source is the file the configuration was read from, empty when only
	// defaults were used.
	Source string `yaml:"-"`
}

// CameraConfig holds camera settings.
type CameraConfig struct {
	// DevicePattern is formatted with the probe index, e.g. /dev/video%d.
	DevicePattern string `yaml:"device_pattern"`
	MaxProbes     int    `yaml:"max_probes"`
	Width         int    `yaml:"width"`
	Height        int    `yaml:"height"`
	FPS           int    `yaml:"fps"`
}

// DetectorParams mirrors detect.Params so the config package stays a leaf.
type DetectorParams struct {
	ScaleFactor  float64 `yaml:"scale_factor"`
	MinNeighbors int     `yaml:"min_neighbors"`
	MinSize      int     `yaml:"min_size"`
}

// DetectionConfig holds face locator settings.
type DetectionConfig struct {
	Backend          string         `yaml:"backend"`
	CascadePath      string         `yaml:"cascade_path"`
	DlibModelPath    string         `yaml:"dlib_model_path"`
	QualityThreshold float32        `yaml:"quality_threshold"`
	Enrollment       DetectorParams `yaml:"enrollment"`
	Login            DetectorParams `yaml:"login"`
}

// RecognitionConfig holds face recognition settings.
type RecognitionConfig struct {
	Threshold float64 `yaml:"threshold"`
	ModelPath string  `yaml:"model_path"`
	Radius    int     `yaml:"radius"`
	Neighbors int     `yaml:"neighbors"`
	GridX     int     `yaml:"grid_x"`
	GridY     int     `yaml:"grid_y"`
}

// EnrollmentConfig holds sample acquisition settings.
type EnrollmentConfig struct {
	Samples         int           `yaml:"samples"`
	MinRegion       int           `yaml:"min_region"`
	CompletionDelay time.Duration `yaml:"completion_delay"`
}

// TrainingConfig selects how the background training job runs.
type TrainingConfig struct {
	Mode    string   `yaml:"mode"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	DataDir           string `yaml:"data_dir"`
	EncryptionEnabled bool   `yaml:"encryption_enabled"`
}

// DatabaseConfig holds credential store settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Training modes.
const (
	TrainingInProcess  = "inprocess"
	TrainingSubprocess = "subprocess"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Camera: CameraConfig{
			DevicePattern: "/dev/video%d",
			MaxProbes:     3,
			Width:         640,
			Height:        480,
			FPS:           30,
		},
		Detection: DetectionConfig{
			Backend:          "pigo",
			CascadePath:      "models/facefinder",
			DlibModelPath:    "models/dlib",
			QualityThreshold: 5.0,
			Enrollment:       DetectorParams{ScaleFactor: 1.3, MinNeighbors: 5},
			Login:            DetectorParams{ScaleFactor: 1.1, MinNeighbors: 5, MinSize: 30},
		},
		Recognition: RecognitionConfig{
			Threshold: 85,
			ModelPath: "models/recognizer.yml",
			Radius:    1,
			Neighbors: 8,
			GridX:     8,
			GridY:     8,
		},
		Enrollment: EnrollmentConfig{
			Samples:         5,
			MinRegion:       20,
			CompletionDelay: 2 * time.Second,
		},
		Training: TrainingConfig{
			Mode:    TrainingInProcess,
			Command: "facelogin-train",
		},
		Storage: StorageConfig{
			DataDir: "data",
		},
		Database: DatabaseConfig{
			DSN: "models/users.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from the specified file.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return config, err
	}

	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	config.Source = path
	return config, nil
}

// LoadDefault tries to load configuration from default locations.
func LoadDefault() (*Config, error) {
	if _, err := os.Stat("/etc/facelogin/facelogin.yaml"); err == nil {
		return Load("/etc/facelogin/facelogin.yaml")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfig(), nil
	}

	userConfig := filepath.Join(homeDir, ".config/facelogin/facelogin.yaml")
	if _, err := os.Stat(userConfig); err == nil {
		return Load(userConfig)
	}

	return DefaultConfig(), nil
}

// ApplyEnv overrides selected settings from FACELOGIN_* environment
// variables. Malformed numeric values are reported, not ignored.
func (c *Config) ApplyEnv() error {
	strs := map[string]*string{
		"FACELOGIN_DATA_DIR":      &c.Storage.DataDir,
		"FACELOGIN_MODEL_PATH":    &c.Recognition.ModelPath,
		"FACELOGIN_CASCADE_PATH":  &c.Detection.CascadePath,
		"FACELOGIN_DB_DSN":        &c.Database.DSN,
		"FACELOGIN_LOG_LEVEL":     &c.Logging.Level,
		"FACELOGIN_LOG_FILE":      &c.Logging.File,
		"FACELOGIN_TRAINING_MODE": &c.Training.Mode,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	if v, ok := os.LookupEnv("FACELOGIN_THRESHOLD"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("FACELOGIN_THRESHOLD: %w", err)
		}
		c.Recognition.Threshold = f
	}
	if v, ok := os.LookupEnv("FACELOGIN_SAMPLES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FACELOGIN_SAMPLES: %w", err)
		}
		c.Enrollment.Samples = n
	}
	if v, ok := os.LookupEnv("FACELOGIN_ENCRYPTION"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("FACELOGIN_ENCRYPTION: %w", err)
		}
		c.Storage.EncryptionEnabled = b
	}
	return nil
}

// ExpandPath expands ~ and environment variables in a path.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

func validateDetector(name string, p DetectorParams) error {
	// The cascade scan grows its window by ScaleFactor from 24px; smaller
	// factors never advance past the first window size.
	if p.ScaleFactor < 1.05 {
		return fmt.Errorf("detection.%s.scale_factor must be at least 1.05, got %f", name, p.ScaleFactor)
	}
	if p.MinNeighbors < 0 {
		return fmt.Errorf("detection.%s.min_neighbors must not be negative, got %d", name, p.MinNeighbors)
	}
	if p.MinSize < 0 {
		return fmt.Errorf("detection.%s.min_size must not be negative, got %d", name, p.MinSize)
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return fmt.Errorf("invalid camera resolution: %dx%d", c.Camera.Width, c.Camera.Height)
	}
	if c.Camera.FPS <= 0 {
		return fmt.Errorf("invalid camera FPS: %d", c.Camera.FPS)
	}
	if c.Camera.MaxProbes <= 0 {
		return fmt.Errorf("max_probes must be positive, got %d", c.Camera.MaxProbes)
	}
	if !strings.Contains(c.Camera.DevicePattern, "%d") {
		return fmt.Errorf("device_pattern must contain %%d, got %q", c.Camera.DevicePattern)
	}

	validBackends := map[string]bool{"pigo": true, "dlib": true}
	if !validBackends[c.Detection.Backend] {
		return fmt.Errorf("invalid detection backend: %s (must be pigo or dlib)", c.Detection.Backend)
	}
	if err := validateDetector("enrollment", c.Detection.Enrollment); err != nil {
		return err
	}
	if err := validateDetector("login", c.Detection.Login); err != nil {
		return err
	}

	if c.Recognition.Threshold <= 0 {
		return fmt.Errorf("recognition threshold must be positive, got %f", c.Recognition.Threshold)
	}
	if c.Recognition.Radius <= 0 || c.Recognition.Neighbors <= 0 || c.Recognition.Neighbors > 16 {
		return fmt.Errorf("invalid LBP parameters: radius=%d neighbors=%d", c.Recognition.Radius, c.Recognition.Neighbors)
	}
	if c.Recognition.GridX <= 0 || c.Recognition.GridY <= 0 {
		return fmt.Errorf("invalid LBP grid: %dx%d", c.Recognition.GridX, c.Recognition.GridY)
	}

	if c.Enrollment.Samples <= 0 {
		return fmt.Errorf("enrollment samples must be positive, got %d", c.Enrollment.Samples)
	}
	if c.Enrollment.MinRegion < 0 {
		return fmt.Errorf("enrollment min_region must not be negative, got %d", c.Enrollment.MinRegion)
	}

	switch c.Training.Mode {
	case TrainingInProcess:
	case TrainingSubprocess:
		if c.Training.Command == "" {
			return fmt.Errorf("training command required in %s mode", TrainingSubprocess)
		}
	default:
		return fmt.Errorf("invalid training mode: %s (must be %s or %s)", c.Training.Mode, TrainingInProcess, TrainingSubprocess)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}

// ExpandPaths expands all paths in the configuration.
func (c *Config) ExpandPaths() {
	c.Detection.CascadePath = ExpandPath(c.Detection.CascadePath)
	c.Detection.DlibModelPath = ExpandPath(c.Detection.DlibModelPath)
	c.Recognition.ModelPath = ExpandPath(c.Recognition.ModelPath)
	c.Storage.DataDir = ExpandPath(c.Storage.DataDir)
	c.Database.DSN = ExpandPath(c.Database.DSN)
	c.Logging.File = ExpandPath(c.Logging.File)
}

// EnsureDirectories creates the data, model and log directories.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.Storage.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.Recognition.ModelPath), 0755); err != nil {
		return fmt.Errorf("failed to create models directory: %w", err)
	}

	if c.Database.DSN != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(c.Database.DSN), 0700); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	if c.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(c.Logging.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	return nil
}

// DevicePath returns the camera device path for a probe index.
func (c *Config) DevicePath(index int) string {
	return fmt.Sprintf(c.Camera.DevicePattern, index)
}

// RefreshInterval is the preview refresh period derived from the FPS.
func (c *Config) RefreshInterval() time.Duration {
	return time.Second / time.Duration(c.Camera.FPS)
}
