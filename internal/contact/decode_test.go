package contact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacedatanetwork/sdn-contacts/internal/keys"
	"github.com/spacedatanetwork/sdn-contacts/internal/vcard"
)

func vcardText(t *testing.T, build func(b *vcard.Bag)) string {
	t.Helper()
	b := vcard.New()
	build(b)
	s, err := b.String()
	require.NoError(t, err)
	return s
}

func kinds(results []CardResult) []CardKind {
	var out []CardKind
	for _, r := range results {
		out = append(out, r.Kind)
	}
	return out
}

func TestDispatchOrdersByKind(t *testing.T) {
	cards := []Card{
		{Kind: EncryptedDetails, Data: "d"},
		{Kind: CardKind(7), Data: "x"},
		{Kind: PlainCategories, Data: "a"},
		{Kind: SignedEmails, Data: "c"},
		{Kind: PlainCategories, Data: "b"},
	}

	known, unknown := dispatch(cards)
	require.Len(t, known, 4)
	assert.Equal(t, "a", known[0].card.Data)
	assert.Equal(t, "b", known[1].card.Data)
	assert.Equal(t, SignedEmails, known[2].strategy.Kind())
	assert.Equal(t, EncryptedDetails, known[3].strategy.Kind())

	require.Len(t, unknown, 1)
	assert.Equal(t, CardKind(7), unknown[0].Kind)

	// The input is left untouched
	assert.Equal(t, EncryptedDetails, cards[0].Kind)
}

func TestDecodeSkipsUnknownKinds(t *testing.T) {
	f := newFakeProvider()
	codec := New(f, "")

	body := vcardText(t, func(b *vcard.Bag) {
		b.AddCategories("Item1", []string{"Friends"})
	})
	cards := []Card{
		{Kind: CardKind(9), Data: "whatever"},
		{Kind: PlainCategories, Data: body},
	}

	_, outcome := codec.Decode(cards, Keyring{})
	assert.Equal(t, []CardKind{PlainCategories, CardKind(9)}, kinds(outcome.Cards))
	assert.Equal(t, Decoded, outcome.Cards[0].State)
	assert.Equal(t, Skipped, outcome.Cards[1].State)
	assert.NoError(t, outcome.Cards[1].Err)
	assert.False(t, outcome.Degraded())
}

func TestDecodeWithoutKeysMakesNoCryptoCalls(t *testing.T) {
	f := newFakeProvider()
	codec := New(f, "")

	signed := vcardText(t, func(b *vcard.Bag) {
		b.SetFormattedName("Nobody")
		b.AddEmail(vcard.Email{Group: "Item1", Address: "nobody@example.com"})
	})
	cards := []Card{
		{Kind: SignedEmails, Data: signed, Signature: "sig:k1"},
		{Kind: EncryptedDetails, Data: "ct:k1:a", Signature: "sig:k1"},
		{Kind: EncryptedOnly, Data: "ct:k1:b"},
	}

	got, outcome := codec.Decode(cards, Keyring{Keys: []*keys.Key{nil}, Passphrase: "ignored"})
	assert.Empty(t, f.Calls())

	assert.False(t, outcome.SignatureValid)
	assert.True(t, outcome.DecryptionFailed)
	require.Len(t, got.Emails, 1)
	assert.Equal(t, "nobody@example.com", got.Emails[0].Address)

	for _, res := range outcome.Cards {
		assert.ErrorIs(t, res.Err, ErrKeyUnavailable, "card %s", res.Kind)
	}
}

func TestDecryptKeyTrialOrder(t *testing.T) {
	f := newFakeProvider()
	codec := New(f, "")
	k1, k2 := fakeKey("k1"), fakeKey("k2")
	f.decrypts[k2.ID] = true
	f.verifies[k2.ID] = true

	plaintext := vcardText(t, func(b *vcard.Bag) {
		b.AddTelephone(vcard.Telephone{Number: "+1 555 0199"})
	})
	ct, err := f.Encrypt(plaintext, k2)
	require.NoError(t, err)
	sig, err := f.Sign(plaintext, k2, "")
	require.NoError(t, err)
	setup := len(f.Calls())

	got, outcome := codec.Decode([]Card{{Kind: EncryptedDetails, Data: ct, Signature: sig}},
		Keyring{Keys: []*keys.Key{k1, k2}})

	assert.Equal(t, []string{"decrypt:k1", "decrypt:k2", "verify:k2"}, f.Calls()[setup:])
	assert.False(t, outcome.DecryptionFailed)
	assert.True(t, outcome.DetailSignatureValid)
	require.Len(t, got.Phones, 1)
	assert.Equal(t, "+1 555 0199", got.Phones[0].Number)
	assert.Equal(t, k2, outcome.Cards[0].Key)
}

func TestDecryptFailureWithKeys(t *testing.T) {
	f := newFakeProvider()
	codec := New(f, "")
	k1 := fakeKey("k1")

	_, outcome := codec.Decode([]Card{{Kind: EncryptedDetails, Data: "ct:unknown", Signature: "sig:k1"}},
		Keyring{Keys: []*keys.Key{k1}})

	assert.True(t, outcome.DecryptionFailed)
	assert.True(t, outcome.DetailSignatureValid)
	require.Len(t, outcome.Cards, 1)
	assert.Equal(t, DecodedWithDecryptError, outcome.Cards[0].State)
	assert.ErrorIs(t, outcome.Cards[0].Err, ErrDecryptionFailed)
	assert.NotErrorIs(t, outcome.Cards[0].Err, ErrKeyUnavailable)
	assert.Equal(t, []string{"decrypt:k1"}, f.Calls())
}

func TestVerifyingKeyMustUnlock(t *testing.T) {
	signed := vcardText(t, func(b *vcard.Bag) {
		b.SetFormattedName("Signed")
		b.AddEmail(vcard.Email{Group: "Item1", Address: "signed@example.com"})
	})
	card := Card{Kind: SignedEmails, Data: signed, Signature: "sig:any"}

	t.Run("next key", func(t *testing.T) {
		f := newFakeProvider()
		codec := New(f, "")
		k1, k2 := fakeKey("k1"), fakeKey("k2")
		f.verifies[k1.ID] = true
		f.verifies[k2.ID] = true
		f.unlocks[k2.ID] = true

		_, outcome := codec.Decode([]Card{card}, Keyring{Keys: []*keys.Key{k1, k2}})
		assert.True(t, outcome.SignatureValid)
		assert.Equal(t, k2, outcome.Cards[0].Key)
		assert.Equal(t, []string{"verify:k1", "unlock:k1", "verify:k2", "unlock:k2"}, f.Calls())
	})

	t.Run("no usable key", func(t *testing.T) {
		f := newFakeProvider()
		codec := New(f, "")
		k1 := fakeKey("k1")
		f.verifies[k1.ID] = true

		got, outcome := codec.Decode([]Card{card}, Keyring{Keys: []*keys.Key{k1}})
		assert.False(t, outcome.SignatureValid)
		assert.Equal(t, DecodedUnverified, outcome.Cards[0].State)
		assert.ErrorIs(t, outcome.Cards[0].Err, ErrSignatureInvalid)
		require.Len(t, got.Emails, 1)
	})
}

func TestMissingSignatureIsUnverified(t *testing.T) {
	f := newFakeProvider()
	codec := New(f, "")
	k1 := fakeKey("k1")
	f.verifies[k1.ID] = true
	f.unlocks[k1.ID] = true

	signed := vcardText(t, func(b *vcard.Bag) {
		b.SetFormattedName("Unsigned")
	})

	got, outcome := codec.Decode([]Card{{Kind: SignedEmails, Data: signed}}, Keyring{Keys: []*keys.Key{k1}})
	assert.False(t, outcome.SignatureValid)
	assert.Equal(t, "Unsigned", got.DisplayName)
	assert.Empty(t, f.Calls())
}

func TestLegacyEncryptedOnly(t *testing.T) {
	f := newFakeProvider()
	codec := New(f, "")
	k := fakeKey("k")
	f.decrypts[k.ID] = true

	plaintext := vcardText(t, func(b *vcard.Bag) {
		b.AddValue("ORG", "Legacy Corp")
		b.SetNote("migrated")
	})
	ct, err := f.Encrypt(plaintext, k)
	require.NoError(t, err)
	setup := len(f.Calls())

	got, outcome := codec.Decode([]Card{{Kind: EncryptedOnly, Data: ct}}, Keyring{Keys: []*keys.Key{k}})
	assert.False(t, outcome.Degraded())
	assert.Equal(t, Decoded, outcome.Cards[0].State)
	assert.Equal(t, []string{"Legacy Corp"}, informationOf(got, Organization))
	assert.Equal(t, "migrated", got.Note)
	assert.Equal(t, []string{"decrypt:k"}, f.Calls()[setup:])
}

func TestDuplicateKindsConcatenate(t *testing.T) {
	f := newFakeProvider()
	codec := New(f, "")
	k := fakeKey("k")
	f.verifies[k.ID] = true
	f.unlocks[k.ID] = true

	cats1 := vcardText(t, func(b *vcard.Bag) { b.AddCategories("Item1", []string{"Family"}) })
	cats2 := vcardText(t, func(b *vcard.Bag) { b.AddCategories("item1", []string{"Work"}) })
	emails1 := vcardText(t, func(b *vcard.Bag) {
		b.SetUID("uid-1")
		b.SetFormattedName("First")
		b.AddEmail(vcard.Email{Group: "Item1", Address: "one@example.com"})
	})
	emails2 := vcardText(t, func(b *vcard.Bag) {
		b.SetUID("uid-2")
		b.SetFormattedName("Second")
		b.AddEmail(vcard.Email{Group: "Item2", Address: "two@example.com"})
	})

	got, outcome := codec.Decode([]Card{
		{Kind: SignedEmails, Data: emails1, Signature: "sig:k"},
		{Kind: PlainCategories, Data: cats1},
		{Kind: SignedEmails, Data: emails2, Signature: "sig:k"},
		{Kind: PlainCategories, Data: cats2},
	}, Keyring{Keys: []*keys.Key{k}})

	assert.True(t, outcome.SignatureValid)
	require.Len(t, got.Emails, 2)
	assert.Equal(t, []string{"Family", "Work"}, got.Emails[0].Categories)
	assert.Empty(t, got.Emails[1].Categories)
	assert.Equal(t, "uid-1", got.UID)
	assert.Equal(t, "First", got.DisplayName)
}

func TestMalformedCardsAreSkipped(t *testing.T) {
	f := newFakeProvider()
	codec := New(f, "")
	k := fakeKey("k")
	f.verifies[k.ID] = true
	f.unlocks[k.ID] = true
	f.decrypts[k.ID] = true

	emails := vcardText(t, func(b *vcard.Bag) {
		b.SetFormattedName("Survivor")
		b.AddEmail(vcard.Email{Group: "Item1", Address: "survivor@example.com"})
	})
	ct, err := f.Encrypt("this is not a vcard", k)
	require.NoError(t, err)

	got, outcome := codec.Decode([]Card{
		{Kind: PlainCategories, Data: "this is not a vcard"},
		{Kind: SignedEmails, Data: emails, Signature: "sig:k"},
		{Kind: EncryptedDetails, Data: ct, Signature: "sig:k"},
	}, Keyring{Keys: []*keys.Key{k}})

	require.Len(t, outcome.Cards, 3)
	assert.Equal(t, Skipped, outcome.Cards[0].State)
	assert.ErrorIs(t, outcome.Cards[0].Err, ErrMalformedSerialization)
	assert.Equal(t, Decoded, outcome.Cards[1].State)
	assert.Equal(t, Skipped, outcome.Cards[2].State)
	assert.ErrorIs(t, outcome.Cards[2].Err, ErrMalformedSerialization)
	assert.True(t, outcome.Cards[2].Verified)

	require.Len(t, got.Emails, 1)
	assert.Equal(t, "Survivor", got.DisplayName)
	assert.Empty(t, got.Emails[0].Categories)
}

func TestTryKeysSkipsNil(t *testing.T) {
	k1, k2 := fakeKey("k1"), fakeKey("k2")
	var tried []string

	v, k, ok := tryKeys([]*keys.Key{nil, k1, nil, k2}, func(k *keys.Key) (int, bool) {
		tried = append(tried, string(k.ID))
		return len(tried), k == k2
	})
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, k2, k)
	assert.Equal(t, []string{"k1", "k2"}, tried)

	_, k, ok = tryKeys(nil, func(*keys.Key) (int, bool) { return 0, true })
	assert.False(t, ok)
	assert.Nil(t, k)
}
