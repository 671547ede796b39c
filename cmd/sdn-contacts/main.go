// Package main provides the sdn-contacts command line tool, which encodes
// address-book entries into signed and encrypted cards and decodes them back.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	fslock "github.com/ipfs/go-fs-lock"
	logging "github.com/ipfs/go-log/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/spacedatanetwork/sdn-contacts/internal/cardcrypto"
	"github.com/spacedatanetwork/sdn-contacts/internal/config"
	"github.com/spacedatanetwork/sdn-contacts/internal/contact"
	"github.com/spacedatanetwork/sdn-contacts/internal/keys"
	"github.com/spacedatanetwork/sdn-contacts/internal/storage"
)

var log = logging.Logger("sdn-contacts")

var errNoPassphrase = errors.New("no passphrase: use --passphrase or " + config.PassphraseEnv)

var rootCmd = &cobra.Command{
	Use:   "sdn-contacts",
	Short: "Signed and encrypted contact cards",
	Long: `sdn-contacts splits address-book entries into independently protected cards:
plain category memberships, signed emails, and encrypted details. Cards are
stored in a local SQLite database and decoded with the keys in your keyring.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize sdn-contacts configuration",
	Long:  `Write a default configuration file and create the data directory.`,
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

var (
	configPath string
	passphrase string
	debug      bool

	cfg *config.Config
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "keyring passphrase (or "+config.PassphraseEnv+" env)")

	rootCmd.AddCommand(initCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads .env and the config file and applies the log level.
func setup(cmd *cobra.Command, args []string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warnf("Failed to load .env: %v", err)
	}
	if passphrase == "" {
		passphrase = os.Getenv(config.PassphraseEnv)
	}

	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if debug {
		logging.SetAllLoggers(logging.LevelDebug)
	} else if cfg.LogLevel != "" {
		if err := logging.SetLogLevel("*", cfg.LogLevel); err != nil {
			return fmt.Errorf("failed to set log level: %w", err)
		}
	}
	return nil
}

func runInit(cmd *cobra.Command, args []string) error {
	if err := config.Save(configPath, cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	log.Infof("Initialized sdn-contacts configuration at %s", path)
	return nil
}

func requirePassphrase() (string, error) {
	if passphrase == "" {
		return "", errNoPassphrase
	}
	return passphrase, nil
}

func openKeyring() (*keys.Manager, error) {
	m, err := keys.NewManager(cfg.KeyringPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}
	return m, nil
}

func openStore() (*storage.Store, error) {
	store, err := storage.NewStore(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	return store, nil
}

func newCodec() (*contact.Codec, error) {
	provider, err := cardcrypto.New(cardcrypto.DefaultUnlockCacheSize)
	if err != nil {
		return nil, err
	}
	return contact.New(provider, cfg.UIDPrefix), nil
}

// lockFile guards the data directory against concurrent writers.
const lockFile = "contacts.lock"

// lockDataDir takes the data directory lock for commands that write cards.
func lockDataDir() (io.Closer, error) {
	dir := cfg.DataDir
	if dir == "" {
		dir = filepath.Dir(cfg.DatabasePath())
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	lk, err := fslock.Lock(dir, lockFile)
	if err != nil {
		return nil, fmt.Errorf("data directory %s is in use: %w", dir, err)
	}
	return lk, nil
}

// ring builds the decode keyring from every key in m.
func ring(m *keys.Manager) contact.Keyring {
	r := contact.Keyring{Keys: m.Keys(), Passphrase: passphrase}
	if primary, err := m.Primary(); err == nil {
		r.Primary = primary
	}
	return r
}
