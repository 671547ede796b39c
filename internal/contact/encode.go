package contact

import (
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/spacedatanetwork/sdn-contacts/internal/cardcrypto"
	"github.com/spacedatanetwork/sdn-contacts/internal/keys"
	"github.com/spacedatanetwork/sdn-contacts/internal/vcard"
)

// groupID returns the group id of the email at index i.
func groupID(i int) string {
	return "Item" + strconv.Itoa(i+1)
}

var informationProps = map[InformationKind]string{
	Organization: "ORG",
	Nickname:     "NICKNAME",
	Title:        "TITLE",
	Birthday:     "BDAY",
	Gender:       "GENDER",
}

// encoder builds the card set for one record.
type encoder struct {
	provider   cardcrypto.Provider
	validate   *validator.Validate
	uidPrefix  string
	primary    *keys.Key
	recipient  *keys.Key
	passphrase string
}

// validateEmails rejects the record if any address is not an email.
func (e *encoder) validateEmails(r *Record) error {
	for i, email := range r.Emails {
		if err := e.validate.Var(email.Address, "required,email"); err != nil {
			return &EmailError{Index: i, Address: email.Address}
		}
	}
	return nil
}

func (e *encoder) encode(r *Record) ([]Card, error) {
	if err := e.validateEmails(r); err != nil {
		return nil, err
	}
	if e.primary == nil {
		return nil, ErrKeyUnavailable
	}
	if !e.provider.KeyUnlocks(e.primary, e.passphrase) {
		return nil, fmt.Errorf("%w: primary key %s does not unlock", ErrKeyUnavailable, e.primary.ID)
	}
	if e.recipient == nil {
		e.recipient = e.primary
	}

	uid := r.UID
	if uid == "" {
		uid = e.uidPrefix + uuid.NewString()
	}

	var cards []Card

	if c, ok, err := e.categoriesCard(r); err != nil {
		return nil, err
	} else if ok {
		cards = append(cards, c)
	}

	signed := len(r.Emails) > 0 || r.DisplayName != ""
	if signed {
		c, err := e.signedCard(r, uid)
		if err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}

	if r.HasDetails() {
		detailUID := ""
		if !signed {
			detailUID = uid
		}
		c, err := e.detailsCard(r, detailUID)
		if err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}

	return cards, nil
}

func (e *encoder) categoriesCard(r *Record) (Card, bool, error) {
	bag := vcard.New()
	for i, email := range r.Emails {
		if len(email.Categories) > 0 {
			bag.AddCategories(groupID(i), email.Categories)
		}
	}
	if bag.Len() == 0 {
		return Card{}, false, nil
	}

	body, err := bag.String()
	if err != nil {
		return Card{}, false, fmt.Errorf("failed to write categories card: %w", err)
	}
	return Card{Kind: PlainCategories, Data: body}, true, nil
}

func (e *encoder) signedCard(r *Record, uid string) (Card, error) {
	bag := vcard.New()
	bag.SetUID(uid)

	name := r.DisplayName
	for _, email := range r.Emails {
		if name != "" {
			break
		}
		name = email.Address
	}
	bag.SetFormattedName(name)

	for i, email := range r.Emails {
		group := groupID(i)
		bag.AddEmail(vcard.Email{Group: group, Address: email.Address, Label: email.Label})

		ec := email.Crypto
		if ec.empty() {
			continue
		}
		for _, k := range ec.Keys {
			bag.AddGroupValue("KEY", group, k)
		}
		if ec.Encrypt != nil {
			bag.AddGroupValue(vcard.PropEncrypt, group, strconv.FormatBool(*ec.Encrypt))
		}
		if ec.Sign != nil {
			bag.AddGroupValue(vcard.PropSign, group, strconv.FormatBool(*ec.Sign))
		}
		if ec.Scheme != "" {
			bag.AddGroupValue(vcard.PropScheme, group, ec.Scheme)
		}
		if ec.MIMEType != "" {
			bag.AddGroupValue(vcard.PropMIMEType, group, ec.MIMEType)
		}
	}

	body, err := bag.String()
	if err != nil {
		return Card{}, fmt.Errorf("failed to write signed card: %w", err)
	}
	sig, err := e.provider.Sign(body, e.primary, e.passphrase)
	if err != nil {
		return Card{}, fmt.Errorf("%w: failed to sign emails card: %w", ErrKeyUnavailable, err)
	}
	return Card{Kind: SignedEmails, Data: body, Signature: sig}, nil
}

func (e *encoder) detailsCard(r *Record, uid string) (Card, error) {
	bag := vcard.New()
	if uid != "" {
		bag.SetUID(uid)
	}

	for _, p := range r.Phones {
		bag.AddTelephone(vcard.Telephone{Number: p.Number, Label: p.Label})
	}
	for _, a := range r.Addresses {
		bag.AddAddress(vcard.Address{
			Label:      a.Label,
			POBox:      a.POBox,
			Extended:   a.Street2,
			Street:     a.Street,
			Locality:   a.Locality,
			Region:     a.Region,
			PostalCode: a.Postal,
			Country:    a.Country,
		})
	}
	for i, info := range r.Information {
		prop, ok := informationProps[info.Kind]
		if !ok {
			log.Warnf("Skipping information field of unknown kind %d", int(info.Kind))
			continue
		}
		bag.AddIndexedValue(prop, info.Value, i)
	}
	for _, u := range r.URLs {
		bag.AddURL(vcard.URL{Value: u.URL, Label: u.Label})
	}
	if r.Note != "" {
		bag.SetNote(r.Note)
	}
	for _, c := range r.Customs {
		bag.AddCustom(vcard.Custom{Label: c.Label, Value: c.Value})
	}
	if r.Photo != nil {
		bag.SetPhoto(vcard.Photo{Data: r.Photo.Data, MediaType: r.Photo.MediaType})
	}

	plaintext, err := bag.String()
	if err != nil {
		return Card{}, fmt.Errorf("failed to write details card: %w", err)
	}

	ciphertext, err := e.provider.Encrypt(plaintext, e.recipient)
	if err != nil {
		return Card{}, fmt.Errorf("%w: failed to encrypt details card: %w", ErrKeyUnavailable, err)
	}
	sig, err := e.provider.Sign(plaintext, e.primary, e.passphrase)
	if err != nil {
		return Card{}, fmt.Errorf("%w: failed to sign details card: %w", ErrKeyUnavailable, err)
	}
	return Card{Kind: EncryptedDetails, Data: ciphertext, Signature: sig}, nil
}
