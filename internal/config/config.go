package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Model   ModelConfig   `json:"model" yaml:"model"`
	Cropper CropperConfig `json:"cropper" yaml:"cropper"`
	Server  ServerConfig  `json:"server" yaml:"server"`
}

// ModelConfig selects and configures the language model backend
type ModelConfig struct {
	Backend     string  `json:"backend" yaml:"backend"`
	Name        string  `json:"name" yaml:"name"` // empty selects the backend's default
	URL         string  `json:"url" yaml:"url"`
	APIKey      string  `json:"-" yaml:"-"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
	SendSize    int     `json:"send_size" yaml:"send_size"`
	SendQuality int     `json:"send_quality" yaml:"send_quality"`
}

// CropperConfig holds configuration for the crop box and extraction
type CropperConfig struct {
	BoxWidth        float64 `json:"box_width" yaml:"box_width"`
	BoxHeight       float64 `json:"box_height" yaml:"box_height"`
	Format          string  `json:"format" yaml:"format"`
	Quality         int     `json:"quality" yaml:"quality"`
	Lossless        bool    `json:"lossless" yaml:"lossless"`
	MaxCanvasPixels int     `json:"max_canvas_pixels" yaml:"max_canvas_pixels"`
}

// ServerConfig holds configuration for the host surface
type ServerConfig struct {
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Backend:     "gemini",
			Temperature: 0.3,
			SendSize:    1536,
			SendQuality: 85,
		},
		Cropper: CropperConfig{
			BoxWidth:        256,
			BoxHeight:       256,
			Format:          "jpg",
			Quality:         92,
			MaxCanvasPixels: 16384 * 16384,
		},
		Server: ServerConfig{
			ListenAddr: "127.0.0.1:8790",
		},
	}
}

// LoadFromFile loads configuration from a JSON or YAML file on top of the
// defaults. The format follows the file extension.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	default:
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON or YAML file
func (c *Config) SaveToFile(filename string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overrides values from the environment. The API credential is only
// ever read from the environment.
func (c *Config) ApplyEnv() error {
	c.Model.APIKey = firstEnv("API_KEY", "GEMINI_API_KEY")
	c.Model.Backend = envString("IMAGE_ASSISTANT_BACKEND", c.Model.Backend)
	c.Model.Name = envString("IMAGE_ASSISTANT_MODEL", c.Model.Name)
	c.Model.URL = envString("IMAGE_ASSISTANT_MODEL_URL", c.Model.URL)
	c.Server.ListenAddr = envString("IMAGE_ASSISTANT_LISTEN", c.Server.ListenAddr)

	if v := strings.TrimSpace(os.Getenv("IMAGE_ASSISTANT_TEMPERATURE")); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("IMAGE_ASSISTANT_TEMPERATURE: %w", err)
		}
		c.Model.Temperature = t
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Model.Backend {
	case "gemini", "ollama", "llamacpp":
	default:
		return fmt.Errorf("model.backend must be one of gemini, ollama, llamacpp")
	}

	if c.Model.Backend == "gemini" && c.Model.APIKey == "" {
		return fmt.Errorf("API_KEY environment variable not set. Please configure it to use the Gemini API")
	}

	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		return fmt.Errorf("model.temperature must be between 0 and 2")
	}

	if c.Model.SendSize < 0 {
		return fmt.Errorf("model.send_size must not be negative")
	}

	if c.Model.SendQuality < 1 || c.Model.SendQuality > 100 {
		return fmt.Errorf("model.send_quality must be between 1 and 100")
	}

	if c.Cropper.BoxWidth <= 0 || c.Cropper.BoxHeight <= 0 {
		return fmt.Errorf("cropper.box_width and cropper.box_height must be positive")
	}

	switch strings.ToLower(c.Cropper.Format) {
	case "jpg", "jpeg", "png", "webp":
	default:
		return fmt.Errorf("cropper.format must be jpg, png or webp")
	}

	if c.Cropper.Quality < 1 || c.Cropper.Quality > 100 {
		return fmt.Errorf("cropper.quality must be between 1 and 100")
	}

	if c.Cropper.MaxCanvasPixels < 1 {
		return fmt.Errorf("cropper.max_canvas_pixels must be positive")
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "image-assistant", "config.json")
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}
