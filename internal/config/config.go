package config

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
}

// NewManager creates a new config manager and loads initial config.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{
		callbacks: make([]func(*Config), 0),
	}

	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// initViper sets up viper with defaults and config file.
func (cm *Manager) initViper(cfgFile string) error {
	defaults := DefaultConfig()
	viper.SetDefault("ocr.engine", defaults.OCR.Engine)
	viper.SetDefault("ocr.text_density_threshold", defaults.OCR.TextDensityThreshold)
	viper.SetDefault("ocr.dpi", defaults.OCR.DPI)
	viper.SetDefault("ocr.confidence_floor", defaults.OCR.ConfidenceFloor)
	viper.SetDefault("ocr.workers", defaults.OCR.Workers)
	viper.SetDefault("ocr.languages", defaults.OCR.Languages)
	viper.SetDefault("sources.precedence", defaults.Sources.Precedence)
	viper.SetDefault("matcher.wrap_join_tolerance", defaults.Matcher.WrapJoinTolerance)
	viper.SetDefault("matrix.aggregation", defaults.Matrix.Aggregation)
	viper.SetDefault("matrix.colors.ok", defaults.Matrix.Colors.OK)
	viper.SetDefault("matrix.colors.conditional", defaults.Matrix.Colors.Conditional)
	viper.SetDefault("matrix.colors.remove", defaults.Matrix.Colors.Remove)
	viper.SetDefault("matrix.colors.unknown", defaults.Matrix.Colors.Unknown)
	viper.SetDefault("annotate.inflate_margin", defaults.Annotate.InflateMargin)
	viper.SetDefault("pipeline.workers", defaults.Pipeline.Workers)

	// Environment variables with REDLINE_ prefix
	viper.SetEnvPrefix("REDLINE")
	viper.AutomaticEnv()

	// Config file
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("redline")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.redline")
	}

	// Try to read config file (not required)
	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// load parses the current viper state into a Config struct.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Family grammars are a nested map viper has no leaf defaults for.
	if len(cfg.Matcher.Families) == 0 {
		cfg.Matcher.Families = DefaultConfig().Matcher.Families
	}

	return &cfg, nil
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration.
func (cm *Manager) WatchConfig() {
	viper.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()
		if err != nil {
			return
		}

		cm.mu.Lock()
		cm.config = cfg
		callbacks := make([]func(*Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	viper.WatchConfig()
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# Redline configuration
# Clause database sources go in database/, documents to review in solicitations/.
# Any value here can be overridden with a REDLINE_* environment variable.

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
