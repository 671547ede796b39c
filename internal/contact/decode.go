package contact

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spacedatanetwork/sdn-contacts/internal/cardcrypto"
	"github.com/spacedatanetwork/sdn-contacts/internal/keys"
	"github.com/spacedatanetwork/sdn-contacts/internal/vcard"
)

// CardState is the terminal state of one card's decode.
type CardState int

const (
	// Decoded means the card's fields were extracted and, where the kind
	// is signed, the signature verified.
	Decoded CardState = iota
	// DecodedUnverified means fields were extracted but the signature
	// did not verify under any supplied key.
	DecodedUnverified
	// DecodedWithDecryptError means no supplied key decrypted the card.
	// It contributes no fields.
	DecodedWithDecryptError
	// Skipped means the card contributed nothing: its body was malformed
	// or its kind is unknown.
	Skipped
)

// String returns the state's name.
func (s CardState) String() string {
	switch s {
	case Decoded:
		return "decoded"
	case DecodedUnverified:
		return "decoded-unverified"
	case DecodedWithDecryptError:
		return "decrypt-error"
	case Skipped:
		return "skipped"
	default:
		return fmt.Sprintf("CardState(%d)", int(s))
	}
}

// Keyring is the key material a decode runs with. Primary defaults to the
// first of Keys.
type Keyring struct {
	Keys       []*keys.Key
	Primary    *keys.Key
	Passphrase string
}

func (r Keyring) primary() *keys.Key {
	if r.Primary != nil {
		return r.Primary
	}
	for _, k := range r.Keys {
		if k != nil {
			return k
		}
	}
	return nil
}

func (r Keyring) empty() bool {
	for _, k := range r.Keys {
		if k != nil {
			return false
		}
	}
	return true
}

// CardResult is the outcome of decoding one card.
type CardResult struct {
	Kind  CardKind
	State CardState
	// Err is the condition that degraded the card, nil when State is Decoded.
	Err error
	// Verified is set for signed kinds when a key verified the signature.
	Verified bool
	// Key is the key that verified (signed kinds) or decrypted
	// (encrypted kinds) the card.
	Key *keys.Key

	fields *partial
}

// partial holds the sub-entities one card contributes to a record.
type partial struct {
	uid         string
	displayName string
	emails      []EmailField
	categories  []vcard.GroupCategories
	phones      []PhoneField
	addresses   []AddressField
	urls        []URLField
	information []InformationField
	customs     []CustomField
	note        string
	photo       *Photo
}

// decoder runs the per-kind strategies for one Decode call.
type decoder struct {
	provider cardcrypto.Provider
	ring     Keyring
}

func (d *decoder) decodeCard(s strategy, c Card) CardResult {
	res := s.decode(d, c)
	res.Kind = c.Kind
	return res
}

func malformed(kind CardKind, err error) CardResult {
	return CardResult{
		Kind:  kind,
		State: Skipped,
		Err:   fmt.Errorf("%w: %v", ErrMalformedSerialization, err),
	}
}

func (plainCategoriesStrategy) decode(_ *decoder, c Card) CardResult {
	bag, err := vcard.Parse(c.Data)
	if err != nil {
		return malformed(c.Kind, err)
	}
	return CardResult{
		State:  Decoded,
		fields: &partial{categories: bag.Categories()},
	}
}

func (signedEmailsStrategy) decode(d *decoder, c Card) CardResult {
	var (
		verified bool
		signer   *keys.Key
	)
	if !d.ring.empty() && c.Signature != "" {
		_, signer, verified = tryKeys(d.ring.Keys, func(k *keys.Key) (struct{}, bool) {
			if !d.provider.Verify(c.Signature, c.Data, k) {
				return struct{}{}, false
			}
			// A verifying key only counts if the caller can actually use it.
			return struct{}{}, d.provider.KeyUnlocks(k, d.ring.Passphrase)
		})
	}

	res := CardResult{State: Decoded, Verified: verified, Key: signer}
	switch {
	case d.ring.empty():
		res.State = DecodedUnverified
		res.Err = fmt.Errorf("%w: %w", ErrSignatureInvalid, ErrKeyUnavailable)
	case !verified:
		res.State = DecodedUnverified
		res.Err = ErrSignatureInvalid
	}

	bag, err := vcard.Parse(c.Data)
	if err != nil {
		m := malformed(c.Kind, err)
		m.Verified, m.Key = res.Verified, res.Key
		return m
	}
	res.fields = signedFields(bag)
	return res
}

func signedFields(bag *vcard.Bag) *partial {
	p := &partial{
		uid:         bag.UID(),
		displayName: bag.FormattedName(),
	}
	for _, e := range bag.Emails() {
		p.emails = append(p.emails, EmailField{
			Address: e.Address,
			Label:   e.Label,
			Group:   e.Group,
			Crypto:  emailCrypto(bag, e.Group),
		})
	}
	return p
}

func emailCrypto(bag *vcard.Bag, group string) *EmailCrypto {
	if group == "" {
		return nil
	}
	ec := &EmailCrypto{Keys: bag.GroupValues("KEY", group)}
	if v, ok := bag.GroupValue(vcard.PropEncrypt, group); ok {
		ec.Encrypt = parseBool(v)
	}
	if v, ok := bag.GroupValue(vcard.PropSign, group); ok {
		ec.Sign = parseBool(v)
	}
	ec.Scheme, _ = bag.GroupValue(vcard.PropScheme, group)
	ec.MIMEType, _ = bag.GroupValue(vcard.PropMIMEType, group)
	if ec.empty() {
		return nil
	}
	return ec
}

func parseBool(v string) *bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil
	}
	return &b
}

// decrypt runs the key trial shared by both encrypted kinds.
func (d *decoder) decrypt(c Card) (string, *keys.Key, error) {
	if d.ring.empty() {
		return "", nil, fmt.Errorf("%w: %w", ErrDecryptionFailed, ErrKeyUnavailable)
	}
	plaintext, key, ok := tryKeys(d.ring.Keys, func(k *keys.Key) (string, bool) {
		pt, err := d.provider.Decrypt(c.Data, k, d.ring.Passphrase)
		if err != nil {
			log.Debugf("Key %s did not decrypt %s card: %v", k.ID, c.Kind, err)
			return "", false
		}
		return pt, true
	})
	if !ok {
		return "", nil, ErrDecryptionFailed
	}
	return plaintext, key, nil
}

func (encryptedOnlyStrategy) decode(d *decoder, c Card) CardResult {
	plaintext, key, err := d.decrypt(c)
	if err != nil {
		return CardResult{State: DecodedWithDecryptError, Err: err}
	}

	bag, err := vcard.Parse(plaintext)
	if err != nil {
		m := malformed(c.Kind, err)
		m.Key = key
		return m
	}
	return CardResult{State: Decoded, Key: key, fields: detailFields(bag)}
}

func (encryptedDetailsStrategy) decode(d *decoder, c Card) CardResult {
	plaintext, key, err := d.decrypt(c)
	if err != nil {
		return CardResult{State: DecodedWithDecryptError, Err: err}
	}

	// The signature covers the plaintext and is checked with the key that
	// decrypted the card, then the primary key.
	var verified bool
	if c.Signature != "" {
		candidates := []*keys.Key{key}
		if p := d.ring.primary(); p != nil && p != key {
			candidates = append(candidates, p)
		}
		_, _, verified = tryKeys(candidates, func(k *keys.Key) (struct{}, bool) {
			return struct{}{}, d.provider.Verify(c.Signature, plaintext, k)
		})
	}

	res := CardResult{State: Decoded, Verified: verified, Key: key}
	if !verified {
		res.State = DecodedUnverified
		res.Err = ErrSignatureInvalid
	}

	bag, err := vcard.Parse(plaintext)
	if err != nil {
		m := malformed(c.Kind, err)
		m.Verified, m.Key = res.Verified, res.Key
		return m
	}
	res.fields = detailFields(bag)
	return res
}

func detailFields(bag *vcard.Bag) *partial {
	p := &partial{uid: bag.UID()}

	for _, t := range bag.Telephones() {
		p.phones = append(p.phones, PhoneField{Number: t.Number, Label: t.Label})
	}
	for _, a := range bag.Addresses() {
		p.addresses = append(p.addresses, AddressField{
			POBox:    a.POBox,
			Street:   a.Street,
			Street2:  a.Extended,
			Locality: a.Locality,
			Region:   a.Region,
			Postal:   a.PostalCode,
			Country:  a.Country,
			Label:    a.Label,
		})
	}

	// Information properties carry their record position, so they are read
	// per name and then put back in record order. Unindexed values follow
	// the indexed ones in ORG, NICKNAME, TITLE, BDAY, GENDER order.
	type indexedInfo struct {
		field InformationField
		index int
	}
	var infos []indexedInfo
	for _, prop := range []struct {
		name string
		kind InformationKind
		max  int
	}{
		{"ORG", Organization, 0},
		{"NICKNAME", Nickname, 0},
		{"TITLE", Title, 0},
		{"BDAY", Birthday, 1},
		{"GENDER", Gender, 1},
	} {
		values := bag.IndexedValues(prop.name)
		if prop.max > 0 && len(values) > prop.max {
			values = values[:prop.max]
		}
		for _, v := range values {
			infos = append(infos, indexedInfo{
				field: InformationField{Kind: prop.kind, Value: v.Value},
				index: v.Index,
			})
		}
	}
	sort.SliceStable(infos, func(i, j int) bool {
		a, b := infos[i].index, infos[j].index
		if a < 0 || b < 0 {
			return a >= 0 && b < 0
		}
		return a < b
	})
	for _, info := range infos {
		p.information = append(p.information, info.field)
	}

	for _, u := range bag.URLs() {
		p.urls = append(p.urls, URLField{URL: u.Value, Label: u.Label})
	}
	if note, ok := bag.Note(); ok {
		p.note = note
	}
	for _, c := range bag.Customs() {
		p.customs = append(p.customs, CustomField{Label: c.Label, Value: c.Value})
	}

	photo, err := bag.Photo()
	if err != nil {
		log.Warnf("Ignoring unreadable photo: %v", err)
	} else if photo != nil {
		p.photo = &Photo{Data: photo.Data, MediaType: photo.MediaType}
	}

	return p
}
