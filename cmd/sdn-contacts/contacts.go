package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/spacedatanetwork/sdn-contacts/internal/contact"
	"github.com/spacedatanetwork/sdn-contacts/internal/keys"
	"github.com/spacedatanetwork/sdn-contacts/internal/storage"
)

var encodeCmd = &cobra.Command{
	Use:   "encode <record.yaml> <contact-id>",
	Short: "Encode a contact record and store its cards",
	Long: `Encode a YAML contact record into cards, signed with the primary key and with
details encrypted to --recipient (default: the primary key), and store them
under contact-id. A stored contact's UID is kept when the record has none.`,
	Args: cobra.ExactArgs(2),
	RunE: runEncode,
}

var decodeCmd = &cobra.Command{
	Use:   "decode <contact-id>",
	Short: "Decode a stored contact",
	Long: `Decode the stored cards of a contact with every key in the keyring and print
the record with its trust outcome as YAML.`,
	Args: cobra.ExactArgs(1),
	RunE: runDecode,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored contacts",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <contact-id>",
	Short: "Delete a stored contact",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var (
	encodeRecipient string
	encodePhoto     string
)

func init() {
	encodeCmd.Flags().StringVarP(&encodeRecipient, "recipient", "r", "", "key id to encrypt details to (default: primary key)")
	encodeCmd.Flags().StringVar(&encodePhoto, "photo", "", "image file to attach as the contact photo")

	rootCmd.AddCommand(encodeCmd)
	rootCmd.AddCommand(decodeCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(deleteCmd)
}

func readRecord(path string) (*contact.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read record: %w", err)
	}
	var r contact.Record
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse record: %w", err)
	}

	if encodePhoto != "" {
		img, err := os.ReadFile(encodePhoto)
		if err != nil {
			return nil, fmt.Errorf("failed to read photo: %w", err)
		}
		r.Photo = &contact.Photo{Data: img, MediaType: http.DetectContentType(img)}
	}
	return &r, nil
}

func runEncode(cmd *cobra.Command, args []string) error {
	pass, err := requirePassphrase()
	if err != nil {
		return err
	}
	r, err := readRecord(args[0])
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

	return enc.save(r, args[1])
}

// contactEncoder encodes records and stores their cards.
type contactEncoder struct {
	keyring    *keys.Manager
	store      *storage.Store
	codec      *contact.Codec
	primary    *keys.Key
	recipient  *keys.Key
	passphrase string
}

// newContactEncoder opens the keyring and the store. The details
// recipient is --recipient, or the primary key.
func newContactEncoder(pass string) (*contactEncoder, error) {
	m, err := openKeyring()
	if err != nil {
		return nil, err
	}
	primary, err := m.Primary()
	if err != nil {
		return nil, fmt.Errorf("no primary key, run keygen first: %w", err)
	}
	var recipient *keys.Key
	if encodeRecipient != "" {
		id, err := parseKeyID(encodeRecipient)
		if err != nil {
			return nil, err
		}
		if recipient, err = m.Get(id); err != nil {
			return nil, err
		}
	}

	codec, err := newCodec()
	if err != nil {
		return nil, err
	}
	store, err := openStore()
	if err != nil {
		return nil, err
	}

	return &contactEncoder{
		keyring:    m,
		store:      store,
		codec:      codec,
		primary:    primary,
		recipient:  recipient,
		passphrase: pass,
	}, nil
}

// Close closes the store.
func (e *contactEncoder) Close() error {
	return e.store.Close()
}

func (e *contactEncoder) save(r *contact.Record, contactID string) error {
	if r.UID == "" {
		if existing, err := e.store.Load(contactID); err == nil {
			prev, _ := e.codec.Decode(existing, ring(e.keyring))
			r.UID = prev.UID
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
	}

	cards, err := e.codec.Encode(r, e.primary, e.passphrase, e.recipient)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", contactID, err)
	}

	changed, err := e.store.Changed(contactID, cards)
	if err != nil {
		return err
	}
	if !changed {
		log.Infof("Contact %s unchanged", contactID)
		return nil
	}
	if err := e.store.Save(contactID, cards); err != nil {
		return err
	}

	log.Infof("Stored contact %s as %d cards", contactID, len(cards))
	return nil
}

type decodeReport struct {
	Record  *contact.Record `yaml:"record"`
	Photo   *photoReport    `yaml:"photo,omitempty"`
	Outcome outcomeReport   `yaml:"outcome"`
}

type photoReport struct {
	MediaType string `yaml:"media_type"`
	Bytes     int    `yaml:"bytes"`
	Size      string `yaml:"size"`
}

type outcomeReport struct {
	SignatureValid       bool         `yaml:"signature_valid"`
	DetailSignatureValid bool         `yaml:"detail_signature_valid"`
	DecryptionFailed     bool         `yaml:"decryption_failed"`
	Cards                []cardReport `yaml:"cards"`
}

type cardReport struct {
	Kind  string `yaml:"kind"`
	State string `yaml:"state"`
	Key   string `yaml:"key,omitempty"`
	Error string `yaml:"error,omitempty"`
}

func newDecodeReport(r *contact.Record, outcome contact.DecodeOutcome) *decodeReport {
	rep := &decodeReport{
		Record: r,
		Outcome: outcomeReport{
			SignatureValid:       outcome.SignatureValid,
			DetailSignatureValid: outcome.DetailSignatureValid,
			DecryptionFailed:     outcome.DecryptionFailed,
		},
	}
	if r.Photo != nil {
		rep.Photo = &photoReport{
			MediaType: r.Photo.MediaType,
			Bytes:     len(r.Photo.Data),
			Size:      humanize.Bytes(uint64(len(r.Photo.Data))),
		}
		stripped := *r
		stripped.Photo = nil
		rep.Record = &stripped
	}
	for _, res := range outcome.Cards {
		cr := cardReport{Kind: res.Kind.String(), State: res.State.String()}
		if res.Key != nil {
			cr.Key = res.Key.ID.String()
		}
		if res.Err != nil {
			cr.Error = res.Err.Error()
		}
		rep.Outcome.Cards = append(rep.Outcome.Cards, cr)
	}
	return rep
}

func runDecode(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	cards, err := store.Load(args[0])
	if err != nil {
		return err
	}

	m, err := openKeyring()
	if err != nil {
		return err
	}
	codec, err := newCodec()
	if err != nil {
		return err
	}

	r, outcome := codec.Decode(cards, ring(m))
	if outcome.Degraded() {
		log.Warnf("Contact %s decoded with trust problems", args[0])
	}

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(newDecodeReport(r, outcome)); err != nil {
		return err
	}
	return enc.Close()
}

func runList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	list, err := store.List()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CONTACT\tCARDS\tUPDATED")
	for _, s := range list {
		fmt.Fprintf(w, "%s\t%d\t%s\n", s.ContactID, s.Cards, humanize.Time(s.UpdatedAt))
	}
	return w.Flush()
}

func runDelete(cmd *cobra.Command, args []string) error {
	lk, err := lockDataDir()
	if err != nil {
		return err
	}
	defer lk.Close()

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Delete(args[0]); err != nil {
		return err
	}
	log.Infof("Deleted contact %s", args[0])
	return nil
}
