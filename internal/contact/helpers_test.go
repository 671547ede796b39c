package contact

import (
	"strings"
	"sync"
	"testing"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"

	"github.com/spacedatanetwork/sdn-contacts/internal/cardcrypto"
	"github.com/spacedatanetwork/sdn-contacts/internal/keys"
)

const testPassphrase = "correct horse battery staple"

var testParams = keys.KDFParams{Time: 1, MemoryKiB: 64, Threads: 1}

func newTestKey(t *testing.T) *keys.Key {
	t.Helper()
	k, err := keys.Generate(testPassphrase, testParams)
	require.NoError(t, err)
	return k
}

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	p, err := cardcrypto.New(cardcrypto.DefaultUnlockCacheSize)
	require.NoError(t, err)
	return New(p, "")
}

func boolPtr(b bool) *bool { return &b }

// fullRecord exercises every field kind, with information in decode order.
func fullRecord() *Record {
	return &Record{
		UID:         "sdn-contacts-fixture",
		DisplayName: "Ada Lovelace",
		Emails: []EmailField{
			{
				Address:    "ada@example.com",
				Label:      "work",
				Categories: []string{"Friends", "Engines"},
				Crypto: &EmailCrypto{
					Keys:     []string{"key-material-one", "key-material-two"},
					Encrypt:  boolPtr(true),
					Sign:     boolPtr(false),
					Scheme:   "pgp-mime",
					MIMEType: "text/plain",
				},
			},
			{Address: "ada@home.example"},
		},
		Phones:    []PhoneField{{Number: "+44 20 7946 0000", Label: "home"}},
		Addresses: []AddressField{{Street: "12 St James's Square", Street2: "Flat 1", Locality: "London", Postal: "SW1Y 4JH", Country: "UK", Label: "home"}},
		URLs:      []URLField{{URL: "https://example.com/ada", Label: "blog"}},
		Information: []InformationField{
			{Kind: Organization, Value: "Analytical Engines"},
			{Kind: Nickname, Value: "Enchantress of Numbers"},
			{Kind: Title, Value: "Countess"},
			{Kind: Birthday, Value: "18151210"},
			{Kind: Gender, Value: "F"},
		},
		Customs: []CustomField{{Label: "badge", Value: "42"}},
		Note:    "Wrote the first program.\nSecond line, with a comma",
		Photo:   &Photo{Data: []byte{0xff, 0xd8, 0xff, 0xe0}, MediaType: "image/jpeg"},
	}
}

// withoutGroups clears group ids so records compare modulo renumbering.
func withoutGroups(r *Record) *Record {
	out := *r
	out.Emails = make([]EmailField, len(r.Emails))
	for i, e := range r.Emails {
		e.Group = ""
		out.Emails[i] = e
	}
	return &out
}

// fakeProvider is a Provider with scripted per-key behaviour that records
// every call it receives.
type fakeProvider struct {
	mu         sync.Mutex
	decrypts   map[peer.ID]bool
	verifies   map[peer.ID]bool
	unlocks    map[peer.ID]bool
	calls      []string
	plaintexts map[string]string
	signErr    error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		decrypts:   map[peer.ID]bool{},
		verifies:   map[peer.ID]bool{},
		unlocks:    map[peer.ID]bool{},
		plaintexts: map[string]string{},
	}
}

func fakeKey(name string) *keys.Key {
	return &keys.Key{ID: peer.ID(name)}
}

func (f *fakeProvider) record(op string, k *keys.Key) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op+":"+string(k.ID))
}

func (f *fakeProvider) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeProvider) Sign(plaintext string, key *keys.Key, _ string) (string, error) {
	f.record("sign", key)
	if f.signErr != nil {
		return "", f.signErr
	}
	return "sig:" + string(key.ID), nil
}

func (f *fakeProvider) Verify(signature, _ string, key *keys.Key) bool {
	f.record("verify", key)
	return f.verifies[key.ID] && strings.HasPrefix(signature, "sig:")
}

func (f *fakeProvider) Encrypt(plaintext string, key *keys.Key) (string, error) {
	f.record("encrypt", key)
	ct := "ct:" + string(key.ID) + ":" + string(rune('a'+len(f.plaintexts)))
	f.plaintexts[ct] = plaintext
	return ct, nil
}

func (f *fakeProvider) Decrypt(ciphertext string, key *keys.Key, _ string) (string, error) {
	f.record("decrypt", key)
	pt, ok := f.plaintexts[ciphertext]
	if !ok || !f.decrypts[key.ID] {
		return "", keys.ErrWrongPassphrase
	}
	return pt, nil
}

func (f *fakeProvider) KeyUnlocks(key *keys.Key, _ string) bool {
	f.record("unlock", key)
	return f.unlocks[key.ID]
}

// informationOf returns the values of the given kind in record order.
func informationOf(r *Record, kind InformationKind) []string {
	var out []string
	for _, info := range r.Information {
		if info.Kind == kind {
			out = append(out, info.Value)
		}
	}
	return out
}
