package contact

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacedatanetwork/sdn-contacts/internal/keys"
	"github.com/spacedatanetwork/sdn-contacts/internal/vcard"
)

func TestRoundTrip(t *testing.T) {
	codec := newTestCodec(t)
	k := newTestKey(t)

	tests := []struct {
		name   string
		record *Record
	}{
		{"full", fullRecord()},
		{"emails only", &Record{
			UID:         "uid-emails-only",
			DisplayName: "Charles Babbage",
			Emails:      []EmailField{{Address: "charles@example.com", Label: "work"}},
		}},
		{"categories without crypto", &Record{
			UID:         "uid-categories",
			DisplayName: "Mary Somerville",
			Emails: []EmailField{
				{Address: "mary@example.com"},
				{Address: "mary@work.example", Categories: []string{"Colleagues"}},
			},
		}},
		{"details without emails", &Record{
			UID:         "uid-no-email",
			DisplayName: "Anonymous",
			Phones:      []PhoneField{{Number: "+1 555 0100"}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cards, err := codec.Encode(tt.record, k, testPassphrase, k)
			require.NoError(t, err)

			got, outcome := codec.Decode(cards, Keyring{Keys: []*keys.Key{k}, Passphrase: testPassphrase})
			assert.True(t, outcome.SignatureValid)
			assert.True(t, outcome.DetailSignatureValid)
			assert.False(t, outcome.DecryptionFailed)
			assert.False(t, outcome.Degraded())

			assert.Equal(t, withoutGroups(tt.record), withoutGroups(got))
		})
	}
}

func TestRoundTripAssignsGroupIDs(t *testing.T) {
	codec := newTestCodec(t)
	k := newTestKey(t)

	r := fullRecord()
	r.Emails[0].Group = "stale-group"

	cards, err := codec.Encode(r, k, testPassphrase, nil)
	require.NoError(t, err)
	require.Len(t, cards, 3)

	assert.Equal(t, PlainCategories, cards[0].Kind)
	assert.Empty(t, cards[0].Signature)
	assert.Contains(t, cards[0].Data, "Item1.CATEGORIES")
	assert.NotContains(t, cards[0].Data, "Item2.CATEGORIES")

	assert.Equal(t, SignedEmails, cards[1].Kind)
	assert.Contains(t, cards[1].Data, "Item1.EMAIL")
	assert.Contains(t, cards[1].Data, "Item2.EMAIL")
	assert.NotContains(t, cards[1].Data, "stale-group")

	assert.Equal(t, EncryptedDetails, cards[2].Kind)
	assert.NotContains(t, cards[2].Data, "Countess")

	got, _ := codec.Decode(cards, Keyring{Keys: []*keys.Key{k}, Passphrase: testPassphrase})
	require.Len(t, got.Emails, 2)
	assert.Equal(t, "Item1", got.Emails[0].Group)
	assert.Equal(t, "Item2", got.Emails[1].Group)
}

func TestPartialFailureIsolation(t *testing.T) {
	codec := newTestCodec(t)
	k := newTestKey(t)

	cards, err := codec.Encode(fullRecord(), k, testPassphrase, k)
	require.NoError(t, err)
	require.Len(t, cards, 3)

	// Flip one character in the middle of the details ciphertext
	data := []byte(cards[2].Data)
	mid := len(data) / 2
	if data[mid] == 'A' {
		data[mid] = 'B'
	} else {
		data[mid] = 'A'
	}
	cards[2].Data = string(data)

	got, outcome := codec.Decode(cards, Keyring{Keys: []*keys.Key{k}, Passphrase: testPassphrase})
	assert.True(t, outcome.DecryptionFailed)
	assert.True(t, outcome.SignatureValid)

	require.Len(t, got.Emails, 2)
	assert.Equal(t, "ada@example.com", got.Emails[0].Address)
	assert.Equal(t, []string{"Friends", "Engines"}, got.Emails[0].Categories)
	assert.Equal(t, "Ada Lovelace", got.DisplayName)

	assert.Empty(t, got.Phones)
	assert.Empty(t, got.Information)
	assert.Empty(t, got.Note)
	assert.Nil(t, got.Photo)

	require.Len(t, outcome.Cards, 3)
	assert.Equal(t, DecodedWithDecryptError, outcome.Cards[2].State)
	assert.ErrorIs(t, outcome.Cards[2].Err, ErrDecryptionFailed)
}

func TestKeyTrialOrder(t *testing.T) {
	codec := newTestCodec(t)
	k1 := newTestKey(t)
	k2 := newTestKey(t)

	// Details encrypted to and signed by k2 only
	cards, err := codec.Encode(fullRecord(), k2, testPassphrase, k2)
	require.NoError(t, err)

	got, outcome := codec.Decode(cards, Keyring{Keys: []*keys.Key{k1, k2}, Passphrase: testPassphrase})
	assert.False(t, outcome.DecryptionFailed)
	assert.True(t, outcome.DetailSignatureValid)
	assert.True(t, outcome.SignatureValid)
	assert.Equal(t, withoutGroups(fullRecord()), withoutGroups(got))

	details := outcome.Cards[len(outcome.Cards)-1]
	assert.Equal(t, EncryptedDetails, details.Kind)
	assert.Equal(t, k2.ID, details.Key.ID)
}

func TestSignatureIndependenceFromContent(t *testing.T) {
	codec := newTestCodec(t)
	signer := newTestKey(t)
	reader := newTestKey(t)

	r := &Record{
		UID:         "uid-1",
		DisplayName: "Grace Hopper",
		Emails:      []EmailField{{Address: "grace@example.com"}},
	}
	cards, err := codec.Encode(r, signer, testPassphrase, nil)
	require.NoError(t, err)

	got, outcome := codec.Decode(cards, Keyring{Keys: []*keys.Key{reader}, Passphrase: testPassphrase})
	assert.False(t, outcome.SignatureValid)
	require.Len(t, got.Emails, 1)
	assert.Equal(t, "grace@example.com", got.Emails[0].Address)
	assert.Equal(t, DecodedUnverified, outcome.Cards[0].State)
	assert.ErrorIs(t, outcome.Cards[0].Err, ErrSignatureInvalid)
}

func TestTamperedSignedBody(t *testing.T) {
	codec := newTestCodec(t)
	k := newTestKey(t)

	cards, err := codec.Encode(&Record{UID: "u", Emails: []EmailField{{Address: "a@example.com"}}}, k, testPassphrase, nil)
	require.NoError(t, err)
	require.Len(t, cards, 1)

	cards[0].Data = strings.ReplaceAll(cards[0].Data, "a@example.com", "mallory@example.com")

	got, outcome := codec.Decode(cards, Keyring{Keys: []*keys.Key{k}, Passphrase: testPassphrase})
	assert.False(t, outcome.SignatureValid)
	require.Len(t, got.Emails, 1)
	assert.Equal(t, "mallory@example.com", got.Emails[0].Address)
}

func TestEncodeValidationGate(t *testing.T) {
	codec := newTestCodec(t)
	k := newTestKey(t)

	r := fullRecord()
	r.Emails = append(r.Emails, EmailField{Address: "not-an-email"})

	cards, err := codec.Encode(r, k, testPassphrase, k)
	assert.Empty(t, cards)
	require.ErrorIs(t, err, ErrInvalidEmail)

	var emailErr *EmailError
	require.True(t, errors.As(err, &emailErr))
	assert.Equal(t, 2, emailErr.Index)
	assert.Equal(t, "not-an-email", emailErr.Address)

	cards, err = codec.Encode(&Record{Emails: []EmailField{{Address: ""}}}, k, testPassphrase, k)
	assert.Empty(t, cards)
	assert.ErrorIs(t, err, ErrInvalidEmail)
}

func TestEncodeKeyUnavailable(t *testing.T) {
	codec := newTestCodec(t)
	k := newTestKey(t)
	r := fullRecord()

	cards, err := codec.Encode(r, nil, testPassphrase, nil)
	assert.Empty(t, cards)
	assert.ErrorIs(t, err, ErrKeyUnavailable)

	cards, err = codec.Encode(r, k, "wrong passphrase", nil)
	assert.Empty(t, cards)
	assert.ErrorIs(t, err, ErrKeyUnavailable)

	cards, err = codec.Encode(r, k.Public(), testPassphrase, nil)
	assert.Empty(t, cards)
	assert.ErrorIs(t, err, ErrKeyUnavailable)
}

func TestBirthdaySingleValue(t *testing.T) {
	codec := newTestCodec(t)
	k := newTestKey(t)

	bag := vcard.New()
	bag.AddValue("BDAY", "19060509")
	bag.AddValue("BDAY", "19991231")
	bag.AddValue("GENDER", "F")
	bag.AddValue("GENDER", "X")
	plaintext, err := bag.String()
	require.NoError(t, err)

	ciphertext, err := codec.provider.Encrypt(plaintext, k)
	require.NoError(t, err)
	sig, err := codec.provider.Sign(plaintext, k, testPassphrase)
	require.NoError(t, err)

	got, outcome := codec.Decode([]Card{{Kind: EncryptedDetails, Data: ciphertext, Signature: sig}},
		Keyring{Keys: []*keys.Key{k}, Passphrase: testPassphrase})
	assert.True(t, outcome.DetailSignatureValid)
	assert.Equal(t, []string{"19060509"}, informationOf(got, Birthday))
	assert.Equal(t, []string{"F"}, informationOf(got, Gender))
}

func TestEmptyDetailOmission(t *testing.T) {
	codec := newTestCodec(t)
	k := newTestKey(t)

	cards, err := codec.Encode(&Record{
		DisplayName: "Katherine Johnson",
		Emails:      []EmailField{{Address: "katherine@example.com"}},
	}, k, testPassphrase, k)
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, SignedEmails, cards[0].Kind)

	for _, c := range cards {
		assert.NotEqual(t, EncryptedDetails, c.Kind)
		assert.NotEqual(t, PlainCategories, c.Kind)
	}
}

func TestEncodeUIDAndFormattedName(t *testing.T) {
	codec := New(newTestCodec(t).provider, "test-")
	k := newTestKey(t)

	cards, err := codec.Encode(&Record{
		Emails: []EmailField{{Address: "first@example.com"}, {Address: "second@example.com"}},
	}, k, testPassphrase, nil)
	require.NoError(t, err)

	got, _ := codec.Decode(cards, Keyring{Keys: []*keys.Key{k}, Passphrase: testPassphrase})
	assert.True(t, strings.HasPrefix(got.UID, "test-"), "uid %q", got.UID)
	// FN is mandatory, so a nameless record comes back named after its first email
	assert.Equal(t, "first@example.com", got.DisplayName)

	// Details-only records carry the UID on the details card
	cards, err = codec.Encode(&Record{Note: "just a note"}, k, testPassphrase, nil)
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, EncryptedDetails, cards[0].Kind)

	got, _ = codec.Decode(cards, Keyring{Keys: []*keys.Key{k}, Passphrase: testPassphrase})
	assert.True(t, strings.HasPrefix(got.UID, "test-"), "uid %q", got.UID)
	assert.Equal(t, "just a note", got.Note)
}

// Encode signs with the single primary key while decode tries every key.
// This asymmetry is deliberate: a card set signed by a non-first key only
// verifies for readers holding that key.
func TestEncodeSignsOnlyWithPrimary(t *testing.T) {
	codec := newTestCodec(t)
	k1 := newTestKey(t)
	k2 := newTestKey(t)

	cards, err := codec.Encode(&Record{UID: "u", Emails: []EmailField{{Address: "x@example.com"}}}, k2, testPassphrase, nil)
	require.NoError(t, err)

	_, outcome := codec.Decode(cards, Keyring{Keys: []*keys.Key{k1}, Passphrase: testPassphrase})
	assert.False(t, outcome.SignatureValid)

	_, outcome = codec.Decode(cards, Keyring{Keys: []*keys.Key{k1, k2}, Passphrase: testPassphrase})
	assert.True(t, outcome.SignatureValid)
}

func TestDetailSignatureFallsBackToPrimary(t *testing.T) {
	codec := newTestCodec(t)
	primary := newTestKey(t)
	old := newTestKey(t)

	// Encrypted to an older key but signed by the primary key
	cards, err := codec.Encode(&Record{Note: "rotated"}, primary, testPassphrase, old)
	require.NoError(t, err)

	ring := Keyring{Keys: []*keys.Key{old}, Primary: primary, Passphrase: testPassphrase}
	got, outcome := codec.Decode(cards, ring)
	assert.False(t, outcome.DecryptionFailed)
	assert.True(t, outcome.DetailSignatureValid)
	assert.Equal(t, "rotated", got.Note)

	ring.Primary = nil
	_, outcome = codec.Decode(cards, ring)
	assert.False(t, outcome.DetailSignatureValid)
}

func TestDecodeWithoutKeys(t *testing.T) {
	codec := newTestCodec(t)
	k := newTestKey(t)

	cards, err := codec.Encode(fullRecord(), k, testPassphrase, nil)
	require.NoError(t, err)

	got, outcome := codec.Decode(cards, Keyring{})
	assert.False(t, outcome.SignatureValid)
	assert.True(t, outcome.DecryptionFailed)
	require.Len(t, got.Emails, 2)
	assert.Equal(t, []string{"Friends", "Engines"}, got.Emails[0].Categories)
	assert.Empty(t, got.Phones)

	for _, res := range outcome.Cards {
		if res.Kind == EncryptedDetails || res.Kind == SignedEmails {
			assert.ErrorIs(t, res.Err, ErrKeyUnavailable)
		}
	}
}

func TestRoundTripKeepsSeparators(t *testing.T) {
	codec := newTestCodec(t)
	k := newTestKey(t)

	r := &Record{
		UID:         "uid-separators",
		DisplayName: "Ada; Countess, of Lovelace",
		Emails: []EmailField{{
			Address:    "ada@example.com",
			Label:      "Work,Home",
			Categories: []string{"Friends, close", " Work "},
		}},
		Phones: []PhoneField{{Number: "+44 20 7946 0000", Label: "cell;main"}},
		Addresses: []AddressField{{
			Street:   "Unit 4; Block B",
			Street2:  `Back\Stairs`,
			Locality: "Stoke; on Trent",
			Country:  "UK, GB",
			Label:    "home,work",
		}},
		Customs: []CustomField{{Label: "a,b", Value: "x;y,z"}},
	}

	cards, err := codec.Encode(r, k, testPassphrase, k)
	require.NoError(t, err)

	got, outcome := codec.Decode(cards, Keyring{Keys: []*keys.Key{k}, Passphrase: testPassphrase})
	require.False(t, outcome.Degraded())
	assert.Equal(t, withoutGroups(r), withoutGroups(got))
}

func TestRoundTripKeepsInformationOrder(t *testing.T) {
	codec := newTestCodec(t)
	k := newTestKey(t)

	r := &Record{
		UID:         "uid-information-order",
		DisplayName: "Dr Who",
		Information: []InformationField{
			{Kind: Title, Value: "Dr"},
			{Kind: Organization, Value: "Acme"},
			{Kind: Gender, Value: "X"},
			{Kind: Nickname, Value: "Doc"},
			{Kind: Organization, Value: "Torchwood"},
		},
	}

	cards, err := codec.Encode(r, k, testPassphrase, k)
	require.NoError(t, err)

	got, _ := codec.Decode(cards, Keyring{Keys: []*keys.Key{k}, Passphrase: testPassphrase})
	assert.Equal(t, r.Information, got.Information)
}

func TestUnindexedInformationFollowsIndexed(t *testing.T) {
	codec := newTestCodec(t)
	k := newTestKey(t)

	bag := vcard.New()
	bag.AddValue("ORG", "Unindexed Org")
	bag.AddValue("TITLE", "Unindexed Title")
	bag.AddIndexedValue("NICKNAME", "Doc", 0)
	plaintext, err := bag.String()
	require.NoError(t, err)

	ciphertext, err := codec.provider.Encrypt(plaintext, k)
	require.NoError(t, err)

	got, _ := codec.Decode([]Card{{Kind: EncryptedOnly, Data: ciphertext}},
		Keyring{Keys: []*keys.Key{k}, Passphrase: testPassphrase})
	assert.Equal(t, []InformationField{
		{Kind: Nickname, Value: "Doc"},
		{Kind: Organization, Value: "Unindexed Org"},
		{Kind: Title, Value: "Unindexed Title"},
	}, got.Information)
}

func TestEncodeKeepsProviderCause(t *testing.T) {
	f := newFakeProvider()
	f.signErr = keys.ErrWrongPassphrase
	k := fakeKey("k")
	f.unlocks[k.ID] = true
	codec := New(f, "")

	cards, err := codec.Encode(fullRecord(), k, testPassphrase, k)
	assert.Empty(t, cards)
	assert.ErrorIs(t, err, ErrKeyUnavailable)
	assert.ErrorIs(t, err, keys.ErrWrongPassphrase)
}
