package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/spacedatanetwork/sdn-contacts/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Encode record files dropped into a folder",
	Long: `Watch a folder for YAML contact records. Each <contact-id>.yaml file is encoded
and stored once it has stopped changing, then moved to done/ or failed/.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

var watchSettle time.Duration

func init() {
	watchCmd.Flags().DurationVar(&watchSettle, "settle", watch.DefaultSettle, "time a file must be unchanged before it is processed")
	watchCmd.Flags().StringVarP(&encodeRecipient, "recipient", "r", "", "key id to encrypt details to (default: primary key)")

	rootCmd.AddCommand(watchCmd)
}

// contactIDFromPath names a contact after its record file.
func contactIDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func runWatch(cmd *cobra.Command, args []string) error {
	pass, err := requirePassphrase()
	if err != nil {
		return err
	}

	lk, err := lockDataDir()
	if err != nil {
		return err
	}
	defer lk.Close()

	enc, err := newContactEncoder(pass)
	if err != nil {
		return err
	}
	defer enc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fw := watch.NewFolderWatcher(args[0], func(_ context.Context, path string) error {
		r, err := readRecord(path)
		if err != nil {
			return err
		}
		return enc.save(r, contactIDFromPath(path))
	}, watch.Options{Settle: watchSettle})

	err = fw.Run(ctx)
	log.Info("Shutting down watcher...")
	return err
}
