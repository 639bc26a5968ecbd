// Package config loads janken settings from ~/.janken/config.json and the
// environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ayusman/janken/internal/capture"
)

// Environment variables that override the config file.
const (
	EnvAddr          = "JANKEN_ADDR"
	EnvModel         = "JANKEN_MODEL"
	EnvCamera        = "JANKEN_CAMERA"
	EnvDataDir       = "JANKEN_DATA_DIR"
	EnvSharedLibrary = "ORT_SHARED_LIBRARY_PATH"
)

// UI modes for the run command.
const (
	UIWindow = "window"
	UITray   = "tray"
	UINone   = "none"
)

// Config holds every runtime setting.
type Config struct {
	// DataDir holds the config file, the history database and the worker
	// virtualenv.
	DataDir string `json:"data_dir"`
	Addr    string `json:"addr"`
	UI      string `json:"ui"`

	Camera CameraConfig `json:"camera"`
	Model  ModelConfig  `json:"model"`
	Pose   PoseConfig   `json:"pose"`

	// History stores every outcome in the SQLite database when set.
	History bool `json:"history"`
	// DropFailures keeps failed frames off the display.
	DropFailures bool `json:"drop_failures"`
	// IdleSlowdown lowers the frame rate while nothing moves.
	IdleSlowdown bool `json:"idle_slowdown"`
	// TensorBuffers bounds pooled tensor buffers; 0 allocates per frame.
	TensorBuffers int `json:"tensor_buffers"`
}

// CameraConfig selects the capture device.
type CameraConfig struct {
	Device int    `json:"device"`
	Preset string `json:"preset"`
	FPS    int    `json:"fps"`
}

// ModelConfig locates the classifier artifact.
type ModelConfig struct {
	// Path is the ONNX model. Empty uses the built-in templates.
	Path              string   `json:"path"`
	Metadata          string   `json:"metadata"`
	SharedLibraryPath string   `json:"shared_library_path"`
	RetryDelay        Duration `json:"retry_delay"`
}

// PoseConfig tunes the hand-pose estimator.
type PoseConfig struct {
	MinConfidence float64 `json:"min_confidence"`
	FlipY         bool    `json:"flip_y"`
	Script        string  `json:"script"`
	Python        string  `json:"python"`
}

// Duration is a time.Duration written as a string such as "500ms".
type Duration time.Duration

// MarshalJSON encodes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(v)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid duration %s", data)
	}
	*d = Duration(n)
	return nil
}

// DefaultDataDir returns ~/.janken.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".janken"
	}
	return filepath.Join(home, ".janken")
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DataDir: DefaultDataDir(),
		Addr:    "127.0.0.1:8080",
		UI:      UIWindow,
		Camera: CameraConfig{
			Device: 0,
			Preset: string(capture.DefaultPreset),
			FPS:    capture.DefaultFPS,
		},
		Model: ModelConfig{
			RetryDelay: Duration(500 * time.Millisecond),
		},
		Pose: PoseConfig{
			MinConfidence: 0.3,
			FlipY:         true,
		},
	}
}

// Path returns the config file location inside dataDir.
func Path(dataDir string) string {
	return filepath.Join(dataDir, "config.json")
}

// Load reads the config file at path over the defaults and then applies
// environment overrides. A missing file is not an error. An empty path
// uses the data directory from the environment or the default.
func Load(path string) (Config, error) {
	cfg := Default()
	if dir := os.Getenv(EnvDataDir); dir != "" {
		cfg.DataDir = dir
	}
	if path == "" {
		path = Path(cfg.DataDir)
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvDataDir); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv(EnvAddr); v != "" {
		c.Addr = v
	}
	if v := os.Getenv(EnvModel); v != "" {
		c.Model.Path = v
	}
	if v := os.Getenv(EnvSharedLibrary); v != "" {
		c.Model.SharedLibraryPath = v
	}
	if v := os.Getenv(EnvCamera); v != "" {
		device, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: invalid device %q", EnvCamera, v)
		}
		c.Camera.Device = device
	}
	return nil
}

// Save writes the config file at path, creating its directory.
func (c Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

// Validate rejects settings the pipeline cannot run with.
func (c Config) Validate() error {
	var errs []error

	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	switch c.UI {
	case UIWindow, UITray, UINone:
	default:
		errs = append(errs, fmt.Errorf("ui must be %s, %s or %s, got %q", UIWindow, UITray, UINone, c.UI))
	}
	if _, err := capture.ParsePreset(c.Camera.Preset); err != nil {
		errs = append(errs, err)
	}
	if c.Camera.Device < 0 {
		errs = append(errs, fmt.Errorf("camera.device must not be negative"))
	}
	if c.Camera.FPS < 0 || c.Camera.FPS > 120 {
		errs = append(errs, fmt.Errorf("camera.fps must be between 0 and 120, got %d", c.Camera.FPS))
	}
	if c.Pose.MinConfidence < 0 || c.Pose.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("pose.min_confidence must be in [0,1], got %g", c.Pose.MinConfidence))
	}
	if c.Model.RetryDelay < 0 {
		errs = append(errs, errors.New("model.retry_delay must not be negative"))
	}
	if c.TensorBuffers < 0 {
		errs = append(errs, errors.New("tensor_buffers must not be negative"))
	}

	return errors.Join(errs...)
}

// HistoryPath returns the SQLite database location.
func (c Config) HistoryPath() string {
	return filepath.Join(c.DataDir, "janken.db")
}

// EnsureDataDir creates the data directory.
func (c Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return nil
}
