// Package contact splits an address-book entry into independently protected
// cards and reassembles it.
//
// A contact is stored as up to three cards:
//
//	kind 0  plain categories   group memberships, clear text, unsigned
//	kind 2  signed emails      emails and per-email crypto metadata, clear text, detached signature
//	kind 3  encrypted details  every other field, encrypted, signature over the plaintext
//
// Kind 1 is a legacy encrypted card that is still decoded but never written.
//
// Decode never fails: each card degrades on its own and the outcome flags
// say what could not be trusted. Encode is all-or-nothing.
package contact

import (
	"github.com/go-playground/validator/v10"
	logging "github.com/ipfs/go-log/v2"

	"github.com/spacedatanetwork/sdn-contacts/internal/cardcrypto"
	"github.com/spacedatanetwork/sdn-contacts/internal/keys"
)

var log = logging.Logger("contacts")

// DefaultUIDPrefix is prepended to generated UIDs.
const DefaultUIDPrefix = "sdn-contacts-"

// Codec encodes records to card sets and decodes them back. It holds no
// per-call state and is safe for concurrent use.
type Codec struct {
	provider  cardcrypto.Provider
	validate  *validator.Validate
	uidPrefix string
}

// New creates a Codec over provider. An empty uidPrefix selects
// DefaultUIDPrefix.
func New(provider cardcrypto.Provider, uidPrefix string) *Codec {
	if uidPrefix == "" {
		uidPrefix = DefaultUIDPrefix
	}
	return &Codec{
		provider:  provider,
		validate:  validator.New(),
		uidPrefix: uidPrefix,
	}
}

// Decode reconstructs a record from cards. Cards are processed in kind
// order whatever order they are given in; unknown kinds are skipped.
func (c *Codec) Decode(cards []Card, ring Keyring) (*Record, DecodeOutcome) {
	d := &decoder{provider: c.provider, ring: ring}
	asm := newAssembler()

	known, unknown := dispatch(cards)
	for _, dc := range known {
		res := d.decodeCard(dc.strategy, dc.card)
		if res.State == Decoded {
			log.Debugf("Card %s: %s", res.Kind, res.State)
		} else {
			log.Warnf("Card %s: %s: %v", res.Kind, res.State, res.Err)
		}
		asm.add(res)
	}
	for _, uc := range unknown {
		log.Debugf("Skipping card of unknown kind %d", int(uc.Kind))
		asm.add(CardResult{Kind: uc.Kind, State: Skipped})
	}

	return asm.finish()
}

// Encode builds the card set for r. Signing always uses primary; the
// details card is encrypted to recipient, or to primary when recipient is
// nil. Any invalid email or unusable primary key aborts the whole encode.
func (c *Codec) Encode(r *Record, primary *keys.Key, passphrase string, recipient *keys.Key) ([]Card, error) {
	enc := &encoder{
		provider:   c.provider,
		validate:   c.validate,
		uidPrefix:  c.uidPrefix,
		primary:    primary,
		recipient:  recipient,
		passphrase: passphrase,
	}
	cards, err := enc.encode(r)
	if err != nil {
		return nil, err
	}
	log.Debugf("Encoded contact into %d cards", len(cards))
	return cards, nil
}
