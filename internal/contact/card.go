package contact

import (
	"fmt"
	"sort"
)

// CardKind is the persisted card type. The values are stable.
type CardKind int

const (
	// PlainCategories carries group memberships. Never signed or encrypted.
	PlainCategories CardKind = 0
	// EncryptedOnly is the legacy encrypted card without a signature.
	// It is decoded but never produced.
	EncryptedOnly CardKind = 1
	// SignedEmails carries emails and their crypto metadata in clear text
	// with a detached signature over the body.
	SignedEmails CardKind = 2
	// EncryptedDetails carries every non-email field. The body is
	// ciphertext; the signature covers the plaintext.
	EncryptedDetails CardKind = 3
)

// String returns the kind's name.
func (k CardKind) String() string {
	switch k {
	case PlainCategories:
		return "plain-categories"
	case EncryptedOnly:
		return "encrypted-only"
	case SignedEmails:
		return "signed-emails"
	case EncryptedDetails:
		return "encrypted-details"
	default:
		return fmt.Sprintf("CardKind(%d)", int(k))
	}
}

// Known reports whether the kind has a decode strategy.
func (k CardKind) Known() bool {
	return k >= PlainCategories && k <= EncryptedDetails
}

// Card is one serialized fragment of a contact. Signature is empty for
// unsigned kinds.
type Card struct {
	Kind      CardKind `json:"type" yaml:"type"`
	Data      string   `json:"data" yaml:"data"`
	Signature string   `json:"signature,omitempty" yaml:"signature,omitempty"`
}

// CardSet is the collection of cards for one contact.
type CardSet []Card

// Sorted returns a copy ordered ascending by kind. Cards of the same kind
// keep their relative order.
func (s CardSet) Sorted() CardSet {
	out := make(CardSet, len(s))
	copy(out, s)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Kind < out[j].Kind
	})
	return out
}

// ByKind returns the cards of the given kind in set order.
func (s CardSet) ByKind(kind CardKind) []Card {
	var out []Card
	for _, c := range s {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}
