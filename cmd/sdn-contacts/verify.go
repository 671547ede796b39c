package main

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/spacedatanetwork/sdn-contacts/internal/contact"
	"github.com/spacedatanetwork/sdn-contacts/internal/storage"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Decode every stored contact and report its trust state",
	Args:  cobra.NoArgs,
	RunE:  runVerify,
}

var verifyWorkers int

func init() {
	verifyCmd.Flags().IntVar(&verifyWorkers, "workers", runtime.NumCPU(), "contacts decoded in parallel")

	rootCmd.AddCommand(verifyCmd)
}

type verifyResult struct {
	contactID string
	name      string
	outcome   contact.DecodeOutcome
}

// verifyAll decodes each contact on its own goroutine. The keyring is only
// read, so every worker shares it.
func verifyAll(ctx context.Context, store *storage.Store, codec *contact.Codec, kr contact.Keyring, ids []string, workers int) ([]verifyResult, error) {
	results := make([]verifyResult, len(ids))

	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			cards, err := store.Load(id)
			if err != nil {
				return fmt.Errorf("failed to load %s: %w", id, err)
			}
			r, outcome := codec.Decode(cards, kr)
			results[i] = verifyResult{contactID: id, name: r.DisplayName, outcome: outcome}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].contactID < results[j].contactID })
	return results, nil
}

func trustLabel(o contact.DecodeOutcome) string {
	switch {
	case o.DecryptionFailed:
		return "undecryptable"
	case !o.SignatureValid || !o.DetailSignatureValid:
		return "unverified"
	default:
		return "ok"
	}
}

func runVerify(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	list, err := store.List()
	if err != nil {
		return err
	}
	ids := make([]string, len(list))
	for i, s := range list {
		ids[i] = s.ContactID
	}

	m, err := openKeyring()
	if err != nil {
		return err
	}
	codec, err := newCodec()
	if err != nil {
		return err
	}

	results, err := verifyAll(cmd.Context(), store, codec, ring(m), ids, verifyWorkers)
	if err != nil {
		return err
	}

	degraded := 0
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CONTACT\tNAME\tTRUST")
	for _, r := range results {
		if r.outcome.Degraded() {
			degraded++
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.contactID, r.name, trustLabel(r.outcome))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if degraded > 0 {
		log.Warnf("%d of %d contacts have trust problems", degraded, len(results))
	}
	return nil
}
