package vcard

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/emersion/go-vcard"
)

// Errors
var (
	ErrEmptyVCard = errors.New("vCard data is empty")
	ErrMalformed  = errors.New("malformed vCard")
)

// Extended property names used by contact cards.
const (
	PropEncrypt  = "X-SDN-ENCRYPT"
	PropSign     = "X-SDN-SIGN"
	PropScheme   = "X-SDN-SCHEME"
	PropMIMEType = "X-SDN-MIMETYPE"
	PropCustom   = "X-SDN-CUSTOM"
)

// ParamIndex records a property's position among properties of different
// names that make up one ordered list.
const ParamIndex = "X-SDN-INDEX"

// Version is the vCard version written by New.
const Version = "4.0"

// Bag is a parsed vCard fragment with typed accessors for the properties
// contact cards use. Properties without an accessor are carried along
// untouched.
type Bag struct {
	card vcard.Card
}

// Email is an EMAIL property with its group and TYPE label.
type Email struct {
	Group   string
	Address string
	Label   string
}

// GroupCategories are the CATEGORIES attached to one group.
type GroupCategories struct {
	Group string
	Names []string
}

// Telephone is a TEL property.
type Telephone struct {
	Number string
	Label  string
}

// Address is an ADR property (pobox;ext;street;locality;region;code;country).
type Address struct {
	Label      string
	POBox      string
	Extended   string
	Street     string
	Locality   string
	Region     string
	PostalCode string
	Country    string
}

// URL is a URL property.
type URL struct {
	Value string
	Label string
}

// Photo is a PHOTO payload.
type Photo struct {
	Data      []byte
	MediaType string
}

// Indexed is a property value with its ParamIndex position. Index is -1
// when the property carries none.
type Indexed struct {
	Value string
	Index int
}

// Custom is a labelled X-SDN-CUSTOM property.
type Custom struct {
	Label string
	Value string
}

// New returns an empty bag carrying only VERSION.
func New() *Bag {
	card := make(vcard.Card)
	card.SetValue(vcard.FieldVersion, Version)
	return &Bag{card: card}
}

// Parse decodes the first vCard in text.
func Parse(text string) (*Bag, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyVCard
	}

	dec := vcard.NewDecoder(strings.NewReader(text))
	card, err := dec.Decode()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: no vCard found", ErrMalformed)
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if card.Get(vcard.FieldVersion) == nil {
		card.SetValue(vcard.FieldVersion, Version)
	}

	return &Bag{card: card}, nil
}

// String encodes the bag as vCard text.
func (b *Bag) String() (string, error) {
	var sb strings.Builder
	enc := vcard.NewEncoder(&sb)
	if err := enc.Encode(b.card); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// Len returns the number of properties, VERSION excluded.
func (b *Bag) Len() int {
	n := 0
	for k, fields := range b.card {
		if k != vcard.FieldVersion {
			n += len(fields)
		}
	}
	return n
}

var componentEscaper = strings.NewReplacer(`\`, `\\`, `;`, `\;`, `,`, `\,`)

// joinEscaped joins parts with sep, escaping backslashes, semicolons and
// commas inside each part.
func joinEscaped(parts []string, sep string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = componentEscaper.Replace(p)
	}
	return strings.Join(escaped, sep)
}

// splitEscaped splits s on every sep not preceded by a backslash and
// unescapes the parts.
func splitEscaped(s string, sep byte) []string {
	var (
		parts []string
		cur   strings.Builder
	)
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\\' && i+1 < len(s):
			i++
			cur.WriteByte(s[i])
		case c == sep:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	return append(parts, cur.String())
}

// label joins the TYPE values of f. labelled stores a label holding commas
// as several TYPE values, so joining restores it.
func label(f *vcard.Field) string {
	if f.Params == nil {
		return ""
	}
	return strings.Join(f.Params[vcard.ParamType], ",")
}

func labelled(value, lbl string) *vcard.Field {
	f := &vcard.Field{Value: value}
	if lbl == "" {
		return f
	}
	types := strings.Split(lbl, ",")
	for i, t := range types {
		// Parameter values are only delimited by ; and : when unquoted.
		if strings.ContainsAny(t, ";:") && !strings.Contains(t, `"`) {
			types[i] = `"` + t + `"`
		}
	}
	f.Params = vcard.Params{vcard.ParamType: types}
	return f
}

func sameGroup(a, b string) bool {
	return strings.EqualFold(a, b)
}

// FormattedName returns the first FN value.
func (b *Bag) FormattedName() string {
	return b.card.Value(vcard.FieldFormattedName)
}

// SetFormattedName replaces FN.
func (b *Bag) SetFormattedName(name string) {
	b.card.SetValue(vcard.FieldFormattedName, name)
}

// UID returns the UID value.
func (b *Bag) UID() string {
	return b.card.Value(vcard.FieldUID)
}

// SetUID replaces UID.
func (b *Bag) SetUID(uid string) {
	b.card.SetValue(vcard.FieldUID, uid)
}

// Emails returns the EMAIL properties in card order.
func (b *Bag) Emails() []Email {
	var out []Email
	for _, f := range b.card[vcard.FieldEmail] {
		out = append(out, Email{Group: f.Group, Address: f.Value, Label: label(f)})
	}
	return out
}

// AddEmail appends an EMAIL property.
func (b *Bag) AddEmail(e Email) {
	f := labelled(e.Address, e.Label)
	f.Group = e.Group
	b.card.Add(vcard.FieldEmail, f)
}

// Categories returns the CATEGORIES properties grouped by their group id.
func (b *Bag) Categories() []GroupCategories {
	var out []GroupCategories
	for _, f := range b.card[vcard.FieldCategories] {
		var names []string
		for _, n := range splitEscaped(f.Value, ',') {
			if n != "" {
				names = append(names, n)
			}
		}
		out = append(out, GroupCategories{Group: f.Group, Names: names})
	}
	return out
}

// AddCategories appends a CATEGORIES property under group.
func (b *Bag) AddCategories(group string, names []string) {
	b.card.Add(vcard.FieldCategories, &vcard.Field{
		Value: joinEscaped(names, ","),
		Group: group,
	})
}

// GroupValues returns the values of prop whose group matches group.
func (b *Bag) GroupValues(prop, group string) []string {
	var out []string
	for _, f := range b.card[strings.ToUpper(prop)] {
		if sameGroup(f.Group, group) {
			out = append(out, f.Value)
		}
	}
	return out
}

// GroupValue returns the first value of prop under group.
func (b *Bag) GroupValue(prop, group string) (string, bool) {
	values := b.GroupValues(prop, group)
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// AddGroupValue appends prop under group.
func (b *Bag) AddGroupValue(prop, group, value string) {
	b.card.Add(strings.ToUpper(prop), &vcard.Field{Value: value, Group: group})
}

// Telephones returns the TEL properties.
func (b *Bag) Telephones() []Telephone {
	var out []Telephone
	for _, f := range b.card[vcard.FieldTelephone] {
		out = append(out, Telephone{Number: f.Value, Label: label(f)})
	}
	return out
}

// AddTelephone appends a TEL property.
func (b *Bag) AddTelephone(t Telephone) {
	b.card.Add(vcard.FieldTelephone, labelled(t.Number, t.Label))
}

// Addresses returns the ADR properties.
func (b *Bag) Addresses() []Address {
	var out []Address
	for _, f := range b.card[vcard.FieldAddress] {
		parts := splitEscaped(f.Value, ';')
		part := func(i int) string {
			if i < len(parts) {
				return parts[i]
			}
			return ""
		}
		out = append(out, Address{
			Label:      label(f),
			POBox:      part(0),
			Extended:   part(1),
			Street:     part(2),
			Locality:   part(3),
			Region:     part(4),
			PostalCode: part(5),
			Country:    part(6),
		})
	}
	return out
}

// AddAddress appends an ADR property.
func (b *Bag) AddAddress(a Address) {
	value := joinEscaped([]string{
		a.POBox, a.Extended, a.Street, a.Locality, a.Region, a.PostalCode, a.Country,
	}, ";")
	b.card.Add(vcard.FieldAddress, labelled(value, a.Label))
}

// Values returns every value of prop in card order.
func (b *Bag) Values(prop string) []string {
	return b.card.Values(strings.ToUpper(prop))
}

// AddValue appends prop with value.
func (b *Bag) AddValue(prop, value string) {
	b.card.AddValue(strings.ToUpper(prop), value)
}

// IndexedValues returns every value of prop in card order with its
// ParamIndex position.
func (b *Bag) IndexedValues(prop string) []Indexed {
	var out []Indexed
	for _, f := range b.card[strings.ToUpper(prop)] {
		idx := -1
		if v := f.Params.Get(ParamIndex); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				idx = n
			}
		}
		out = append(out, Indexed{Value: f.Value, Index: idx})
	}
	return out
}

// AddIndexedValue appends prop with value at list position index.
func (b *Bag) AddIndexedValue(prop, value string, index int) {
	b.card.Add(strings.ToUpper(prop), &vcard.Field{
		Value:  value,
		Params: vcard.Params{ParamIndex: {strconv.Itoa(index)}},
	})
}

// URLs returns the URL properties.
func (b *Bag) URLs() []URL {
	var out []URL
	for _, f := range b.card[vcard.FieldURL] {
		out = append(out, URL{Value: f.Value, Label: label(f)})
	}
	return out
}

// AddURL appends a URL property.
func (b *Bag) AddURL(u URL) {
	b.card.Add(vcard.FieldURL, labelled(u.Value, u.Label))
}

// Note returns the first NOTE value.
func (b *Bag) Note() (string, bool) {
	f := b.card.Get(vcard.FieldNote)
	if f == nil {
		return "", false
	}
	return f.Value, true
}

// SetNote replaces NOTE.
func (b *Bag) SetNote(note string) {
	b.card.SetValue(vcard.FieldNote, note)
}

// Photo decodes the first PHOTO property. Both the vCard 4 data URI form
// and the vCard 3 ENCODING=b form are accepted; remote URIs are not.
func (b *Bag) Photo() (*Photo, error) {
	f := b.card.Get(vcard.FieldPhoto)
	if f == nil {
		return nil, nil
	}

	if rest, ok := strings.CutPrefix(f.Value, "data:"); ok {
		meta, payload, found := strings.Cut(rest, ",")
		if !found {
			return nil, fmt.Errorf("%w: photo data URI has no payload", ErrMalformed)
		}
		mediaType, isBase64 := strings.CutSuffix(meta, ";base64")
		if !isBase64 {
			return nil, fmt.Errorf("%w: photo data URI is not base64", ErrMalformed)
		}
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: photo: %v", ErrMalformed, err)
		}
		return &Photo{Data: data, MediaType: mediaType}, nil
	}

	enc := strings.ToLower(f.Params.Get("ENCODING"))
	if enc == "b" || enc == "base64" {
		data, err := base64.StdEncoding.DecodeString(f.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: photo: %v", ErrMalformed, err)
		}
		mediaType := f.Params.Get(vcard.ParamMediaType)
		if mediaType == "" {
			if t := f.Params.Get(vcard.ParamType); t != "" {
				mediaType = "image/" + strings.ToLower(t)
			}
		}
		return &Photo{Data: data, MediaType: mediaType}, nil
	}

	return nil, fmt.Errorf("%w: unsupported photo encoding", ErrMalformed)
}

// SetPhoto replaces PHOTO with a data URI.
func (b *Bag) SetPhoto(p Photo) {
	b.card.SetValue(vcard.FieldPhoto,
		"data:"+p.MediaType+";base64,"+base64.StdEncoding.EncodeToString(p.Data))
}

// Customs returns the X-SDN-CUSTOM properties.
func (b *Bag) Customs() []Custom {
	var out []Custom
	for _, f := range b.card[PropCustom] {
		out = append(out, Custom{Label: label(f), Value: f.Value})
	}
	return out
}

// AddCustom appends an X-SDN-CUSTOM property.
func (b *Bag) AddCustom(c Custom) {
	b.card.Add(PropCustom, labelled(c.Value, c.Label))
}
