package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/spf13/cobra"

	"github.com/spacedatanetwork/sdn-contacts/internal/keys"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a contact key",
	Long: `Generate an Ed25519 signing key and an X25519 encryption key, sealed with
the keyring passphrase. The first key in the keyring is the primary key.`,
	Args: cobra.NoArgs,
	RunE: runKeygen,
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List keys in the keyring",
	Args:  cobra.NoArgs,
	RunE:  runKeysList,
}

var keysExportCmd = &cobra.Command{
	Use:   "export <key-id>",
	Short: "Print the public half of a key as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysExport,
}

var keysImportCmd = &cobra.Command{
	Use:   "import <key.json>",
	Short: "Import someone's public key as an encryption recipient",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysImport,
}

var keysPrimaryCmd = &cobra.Command{
	Use:   "primary <key-id>",
	Short: "Make a key the primary signing key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysPrimary,
}

var keysPasswdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Reseal every private key under a new passphrase",
	Args:  cobra.NoArgs,
	RunE:  runKeysPasswd,
}

var newPassphrase string

var keysRemoveCmd = &cobra.Command{
	Use:   "remove <key-id>",
	Short: "Remove a key from the keyring",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysRemove,
}

func init() {
	keysCmd.AddCommand(keysExportCmd)
	keysCmd.AddCommand(keysImportCmd)
	keysCmd.AddCommand(keysPrimaryCmd)
	keysCmd.AddCommand(keysRemoveCmd)
	keysCmd.AddCommand(keysPasswdCmd)

	keysPasswdCmd.Flags().StringVar(&newPassphrase, "new-passphrase", "", "passphrase to reseal the keys under")

	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(keysCmd)
}

func runKeygen(cmd *cobra.Command, args []string) error {
	pass, err := requirePassphrase()
	if err != nil {
		return err
	}
	m, err := openKeyring()
	if err != nil {
		return err
	}

	k, err := m.Generate(pass, cfg.KDF)
	if err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), k.ID)
	return nil
}

func runKeysList(cmd *cobra.Command, args []string) error {
	m, err := openKeyring()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFINGERPRINT\tTYPE\tCREATED")
	for i, k := range m.Keys() {
		kind := "public"
		if k.HasPrivate() {
			kind = "private"
		}
		if i == 0 {
			kind += ",primary"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", k.ID, k.Fingerprint(), kind, humanize.Time(k.CreatedAt))
	}
	return w.Flush()
}

func parseKeyID(s string) (peer.ID, error) {
	id, err := peer.Decode(s)
	if err != nil {
		return "", fmt.Errorf("invalid key id %q: %w", s, err)
	}
	return id, nil
}

func runKeysExport(cmd *cobra.Command, args []string) error {
	id, err := parseKeyID(args[0])
	if err != nil {
		return err
	}
	m, err := openKeyring()
	if err != nil {
		return err
	}

	data, err := m.Export(id)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func runKeysImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read key file: %w", err)
	}
	m, err := openKeyring()
	if err != nil {
		return err
	}

	k, err := m.Import(data)
	if err != nil {
		return fmt.Errorf("failed to import key: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), k.ID)
	return nil
}

func runKeysPrimary(cmd *cobra.Command, args []string) error {
	id, err := parseKeyID(args[0])
	if err != nil {
		return err
	}
	m, err := openKeyring()
	if err != nil {
		return err
	}
	k, err := m.Get(id)
	if err != nil {
		return err
	}
	if !k.HasPrivate() {
		return fmt.Errorf("key %s has no private half and cannot sign", id)
	}
	return m.SetPrimary(id)
}

func runKeysRemove(cmd *cobra.Command, args []string) error {
	id, err := parseKeyID(args[0])
	if err != nil {
		return err
	}
	m, err := openKeyring()
	if err != nil {
		return err
	}
	return m.Remove(id)
}

func runKeysPasswd(cmd *cobra.Command, args []string) error {
	pass, err := requirePassphrase()
	if err != nil {
		return err
	}
	if newPassphrase == "" {
		return fmt.Errorf("--new-passphrase is required")
	}
	m, err := openKeyring()
	if err != nil {
		return err
	}

	// Reseal everything first so a wrong passphrase leaves the keyring untouched.
	var resealed []*keys.Key
	for _, k := range m.Keys() {
		if !k.HasPrivate() {
			continue
		}
		r, err := k.Reseal(pass, newPassphrase, cfg.KDF)
		if err != nil {
			return fmt.Errorf("failed to reseal key %s: %w", k.ID, err)
		}
		resealed = append(resealed, r)
	}
	for _, r := range resealed {
		if err := m.Replace(r); err != nil {
			return err
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Resealed %d keys\n", len(resealed))
	return nil
}
