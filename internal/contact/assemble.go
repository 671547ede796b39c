package contact

import (
	"bytes"
	"strings"

	"github.com/spacedatanetwork/sdn-contacts/internal/vcard"
)

// DecodeOutcome is the advisory trust state of a decoded record.
type DecodeOutcome struct {
	// SignatureValid is false when a signed-emails card did not verify.
	SignatureValid bool
	// DetailSignatureValid is false when an encrypted-details card
	// decrypted but its signature did not verify.
	DetailSignatureValid bool
	// DecryptionFailed is true when an encrypted card could not be
	// decrypted with any supplied key.
	DecryptionFailed bool
	// Cards holds the per-card results in processing order.
	Cards []CardResult
}

// Degraded reports whether any flag indicates a trust problem.
func (o DecodeOutcome) Degraded() bool {
	return !o.SignatureValid || !o.DetailSignatureValid || o.DecryptionFailed
}

// assembler accumulates card results into a record.
type assembler struct {
	record     Record
	categories []vcard.GroupCategories
	outcome    DecodeOutcome
}

func newAssembler() *assembler {
	return &assembler{
		outcome: DecodeOutcome{SignatureValid: true, DetailSignatureValid: true},
	}
}

// add merges one card result. Results must be added in kind order.
func (a *assembler) add(res CardResult) {
	a.outcome.Cards = append(a.outcome.Cards, res)

	switch res.Kind {
	case SignedEmails:
		if !res.Verified {
			a.outcome.SignatureValid = false
		}
	case EncryptedOnly, EncryptedDetails:
		if res.State == DecodedWithDecryptError {
			a.outcome.DecryptionFailed = true
		} else if res.Kind == EncryptedDetails && !res.Verified {
			a.outcome.DetailSignatureValid = false
		}
	}

	if res.fields == nil {
		return
	}
	p := res.fields
	r := &a.record

	r.UID = mergeScalar("uid", r.UID, p.uid)
	r.DisplayName = mergeScalar("display name", r.DisplayName, p.displayName)
	r.Emails = append(r.Emails, p.emails...)
	a.categories = append(a.categories, p.categories...)
	r.Phones = append(r.Phones, p.phones...)
	r.Addresses = append(r.Addresses, p.addresses...)
	r.URLs = append(r.URLs, p.urls...)
	r.Information = append(r.Information, p.information...)
	r.Customs = append(r.Customs, p.customs...)

	switch {
	case p.note == "" || p.note == r.Note:
	case r.Note == "":
		r.Note = p.note
	default:
		r.Note = r.Note + "\n" + p.note
	}

	if p.photo != nil {
		if r.Photo == nil {
			r.Photo = p.photo
		} else if !bytes.Equal(r.Photo.Data, p.photo.Data) {
			log.Warnf("Contact has more than one photo, keeping the first")
		}
	}
}

func mergeScalar(name, current, next string) string {
	if next == "" || next == current {
		return current
	}
	if current == "" {
		return next
	}
	log.Warnf("Contact has conflicting %s values, keeping the first", name)
	return current
}

// finish attaches category memberships to emails by group id and returns
// the record with its outcome.
func (a *assembler) finish() (*Record, DecodeOutcome) {
	for i := range a.record.Emails {
		e := &a.record.Emails[i]
		if e.Group == "" {
			continue
		}
		for _, gc := range a.categories {
			if strings.EqualFold(gc.Group, e.Group) {
				e.Categories = append(e.Categories, gc.Names...)
			}
		}
	}
	record := a.record
	return &record, a.outcome
}
