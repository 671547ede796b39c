package contact

import (
	"fmt"
	"strings"
)

// Record is a structured address-book entry. It is what Decode produces and
// what Encode consumes; Encode never mutates it.
type Record struct {
	UID         string             `yaml:"uid,omitempty" json:"uid,omitempty"`
	DisplayName string             `yaml:"display_name,omitempty" json:"display_name,omitempty"`
	Emails      []EmailField       `yaml:"emails,omitempty" json:"emails,omitempty"`
	Phones      []PhoneField       `yaml:"phones,omitempty" json:"phones,omitempty"`
	Addresses   []AddressField     `yaml:"addresses,omitempty" json:"addresses,omitempty"`
	URLs        []URLField         `yaml:"urls,omitempty" json:"urls,omitempty"`
	Information []InformationField `yaml:"information,omitempty" json:"information,omitempty"`
	Customs     []CustomField      `yaml:"customs,omitempty" json:"customs,omitempty"`
	Note        string             `yaml:"note,omitempty" json:"note,omitempty"`
	Photo       *Photo             `yaml:"photo,omitempty" json:"photo,omitempty"`
}

// EmailField is an email address with its group id, category memberships
// and the sender preferences published for it.
type EmailField struct {
	Address    string       `yaml:"address" json:"address"`
	Label      string       `yaml:"label,omitempty" json:"label,omitempty"`
	Group      string       `yaml:"group,omitempty" json:"group,omitempty"`
	Categories []string     `yaml:"categories,omitempty" json:"categories,omitempty"`
	Crypto     *EmailCrypto `yaml:"crypto,omitempty" json:"crypto,omitempty"`
}

// EmailCrypto is the per-email crypto metadata carried by the signed card.
// Nil pointers mean "no preference stated".
type EmailCrypto struct {
	Keys     []string `yaml:"keys,omitempty" json:"keys,omitempty"`
	Encrypt  *bool    `yaml:"encrypt,omitempty" json:"encrypt,omitempty"`
	Sign     *bool    `yaml:"sign,omitempty" json:"sign,omitempty"`
	Scheme   string   `yaml:"scheme,omitempty" json:"scheme,omitempty"`
	MIMEType string   `yaml:"mime_type,omitempty" json:"mime_type,omitempty"`
}

func (c *EmailCrypto) empty() bool {
	return c == nil || (len(c.Keys) == 0 && c.Encrypt == nil && c.Sign == nil && c.Scheme == "" && c.MIMEType == "")
}

// PhoneField is a telephone number.
type PhoneField struct {
	Number string `yaml:"number" json:"number"`
	Label  string `yaml:"label,omitempty" json:"label,omitempty"`
}

// AddressField is a postal address.
type AddressField struct {
	POBox    string `yaml:"po_box,omitempty" json:"po_box,omitempty"`
	Street   string `yaml:"street,omitempty" json:"street,omitempty"`
	Street2  string `yaml:"street2,omitempty" json:"street2,omitempty"`
	Locality string `yaml:"locality,omitempty" json:"locality,omitempty"`
	Region   string `yaml:"region,omitempty" json:"region,omitempty"`
	Postal   string `yaml:"postal,omitempty" json:"postal,omitempty"`
	Country  string `yaml:"country,omitempty" json:"country,omitempty"`
	Label    string `yaml:"label,omitempty" json:"label,omitempty"`
}

// URLField is a web address.
type URLField struct {
	URL   string `yaml:"url" json:"url"`
	Label string `yaml:"label,omitempty" json:"label,omitempty"`
}

// InformationKind enumerates the single-valued informational properties.
type InformationKind int

const (
	Organization InformationKind = iota
	Nickname
	Title
	Birthday
	Gender
)

var informationNames = map[InformationKind]string{
	Organization: "organization",
	Nickname:     "nickname",
	Title:        "title",
	Birthday:     "birthday",
	Gender:       "gender",
}

// String returns the kind's name.
func (k InformationKind) String() string {
	if name, ok := informationNames[k]; ok {
		return name
	}
	return fmt.Sprintf("InformationKind(%d)", int(k))
}

// ParseInformationKind parses a kind name as produced by String.
func ParseInformationKind(s string) (InformationKind, error) {
	for k, name := range informationNames {
		if strings.EqualFold(name, s) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown information kind %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (k InformationKind) MarshalText() ([]byte, error) {
	if _, ok := informationNames[k]; !ok {
		return nil, fmt.Errorf("unknown information kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *InformationKind) UnmarshalText(text []byte) error {
	parsed, err := ParseInformationKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// InformationField is one organization, nickname, title, birthday or gender value.
type InformationField struct {
	Kind  InformationKind `yaml:"kind" json:"kind"`
	Value string          `yaml:"value" json:"value"`
}

// CustomField is a free-form labelled value.
type CustomField struct {
	Label string `yaml:"label,omitempty" json:"label,omitempty"`
	Value string `yaml:"value" json:"value"`
}

// Photo is an embedded picture.
type Photo struct {
	Data      []byte `yaml:"data" json:"data"`
	MediaType string `yaml:"media_type,omitempty" json:"media_type,omitempty"`
}

// HasDetails reports whether the record has any field that belongs on the
// encrypted details card.
func (r *Record) HasDetails() bool {
	return len(r.Phones) > 0 ||
		len(r.Addresses) > 0 ||
		len(r.URLs) > 0 ||
		len(r.Information) > 0 ||
		len(r.Customs) > 0 ||
		r.Note != "" ||
		r.Photo != nil
}
