package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spacedatanetwork/sdn-contacts/internal/contact"
	"github.com/spacedatanetwork/sdn-contacts/internal/vcard"
)

var qrCmd = &cobra.Command{
	Use:   "qr",
	Short: "Exchange clear-text cards as QR codes",
}

var qrExportCmd = &cobra.Command{
	Use:   "export <contact-id> <kind> <out.png>",
	Short: "Render a stored card as a QR code PNG",
	Long: `Render the body of a stored plain-categories (0) or signed-emails (2) card as
a QR code. Encrypted cards cannot be exported. The signature is not carried.`,
	Args: cobra.ExactArgs(3),
	RunE: runQRExport,
}

var qrImportCmd = &cobra.Command{
	Use:   "import <in.png>",
	Short: "Scan a QR code PNG and print the card it carries",
	Args:  cobra.ExactArgs(1),
	RunE:  runQRImport,
}

var qrSize int

func init() {
	qrExportCmd.Flags().IntVarP(&qrSize, "size", "s", 0, "QR code size in pixels (default: config qr.size)")

	qrCmd.AddCommand(qrExportCmd)
	qrCmd.AddCommand(qrImportCmd)
	rootCmd.AddCommand(qrCmd)
}

// parseCardKind accepts a kind number or name.
func parseCardKind(s string) (contact.CardKind, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return contact.CardKind(n), nil
	}
	for k := contact.PlainCategories; k <= contact.EncryptedDetails; k++ {
		if strings.EqualFold(k.String(), s) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown card kind %q", s)
}

func runQRExport(cmd *cobra.Command, args []string) error {
	kind, err := parseCardKind(args[1])
	if err != nil {
		return err
	}
	if kind != contact.PlainCategories && kind != contact.SignedEmails {
		return fmt.Errorf("card kind %s is not clear text", kind)
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	cards, err := store.Load(args[0])
	if err != nil {
		return err
	}
	matching := contact.CardSet(cards).ByKind(kind)
	if len(matching) == 0 {
		return fmt.Errorf("contact %s has no %s card", args[0], kind)
	}

	size := qrSize
	if size == 0 {
		size = cfg.QR.Size
	}
	bag, err := vcard.Parse(matching[0].Data)
	if err != nil {
		return fmt.Errorf("stored %s card of %s is unreadable: %w", kind, args[0], err)
	}
	png, err := bag.QR(size)
	if err != nil {
		return err
	}
	if err := os.WriteFile(args[2], png, 0644); err != nil {
		return fmt.Errorf("failed to write QR code: %w", err)
	}

	log.Infof("Wrote %s card of %s to %s", kind, args[0], args[2])
	return nil
}

func runQRImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read QR code: %w", err)
	}
	bag, err := vcard.ParseQR(data)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if uid := bag.UID(); uid != "" {
		fmt.Fprintf(out, "UID: %s\n", uid)
	}
	if fn := bag.FormattedName(); fn != "" {
		fmt.Fprintf(out, "Name: %s\n", fn)
	}
	for _, e := range bag.Emails() {
		fmt.Fprintf(out, "Email: %s", e.Address)
		if e.Label != "" {
			fmt.Fprintf(out, " (%s)", e.Label)
		}
		fmt.Fprintf(out, " [%s]\n", e.Group)
	}
	for _, gc := range bag.Categories() {
		fmt.Fprintf(out, "Categories [%s]: %s\n", gc.Group, strings.Join(gc.Names, ", "))
	}
	return nil
}
