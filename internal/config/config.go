// Package config provides configuration management for sdn-contacts.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/spacedatanetwork/sdn-contacts/internal/contact"
	"github.com/spacedatanetwork/sdn-contacts/internal/keys"
	"github.com/spacedatanetwork/sdn-contacts/internal/storage"
	"github.com/spacedatanetwork/sdn-contacts/internal/vcard"
)

// PassphraseEnv is the environment variable holding the keyring passphrase.
const PassphraseEnv = "SDN_CONTACTS_PASSPHRASE"

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

var logLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
	"dpanic": true, "panic": true, "fatal": true,
}

// Config represents the sdn-contacts configuration.
type Config struct {
	DataDir   string         `yaml:"data_dir"`
	Keyring   string         `yaml:"keyring"`  // defaults to <data_dir>/keyring.json
	Database  string         `yaml:"database"` // defaults to <data_dir>/contacts.db
	LogLevel  string         `yaml:"log_level"`
	KDF       keys.KDFParams `yaml:"kdf"`
	QR        QRConfig       `yaml:"qr"`
	UIDPrefix string         `yaml:"uid_prefix"`
}

// QRConfig contains QR export settings.
type QRConfig struct {
	Size int `yaml:"size"`
}

// Default returns a default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".sdn-contacts", "data")

	return &Config{
		DataDir:   dataDir,
		LogLevel:  "info",
		KDF:       keys.DefaultKDFParams,
		QR:        QRConfig{Size: vcard.DefaultQRSize},
		UIDPrefix: contact.DefaultUIDPrefix,
	}
}

// DefaultPath returns the default configuration file path.
func DefaultPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".sdn-contacts", "config.yaml")
}

// KeyringPath returns the keyring file path.
func (c *Config) KeyringPath() string {
	if c.Keyring != "" {
		return c.Keyring
	}
	return filepath.Join(c.DataDir, keys.KeyringFile)
}

// DatabasePath returns the card database path.
func (c *Config) DatabasePath() string {
	if c.Database != "" {
		return c.Database
	}
	return filepath.Join(c.DataDir, storage.DatabaseFile)
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.DataDir == "" && (c.Keyring == "" || c.Database == "") {
		return fmt.Errorf("%w: data_dir is required", ErrInvalidConfig)
	}
	if c.LogLevel != "" && !logLevels[c.LogLevel] {
		return fmt.Errorf("%w: unknown log_level %q", ErrInvalidConfig, c.LogLevel)
	}
	if err := c.KDF.Validate(); err != nil {
		return fmt.Errorf("%w: kdf: %v", ErrInvalidConfig, err)
	}
	if c.QR.Size < 0 || c.QR.Size > vcard.MaxQRSize {
		return fmt.Errorf("%w: qr.size must be between 0 and %d", ErrInvalidConfig, vcard.MaxQRSize)
	}
	return nil
}

// Load loads the configuration from a file. Fields missing from the file
// keep their default values.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return default config if file doesn't exist
			return Default(), nil
		}
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves the configuration to a file.
func Save(path string, cfg *Config) error {
	if path == "" {
		path = DefaultPath()
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
