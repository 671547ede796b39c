package keys

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/facebookgo/atomicfile"
	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/peer"
)

var log = logging.Logger("contacts-keys")

// KeyringFile is the default keyring file name inside the data directory.
const KeyringFile = "keyring.json"

type keyringFile struct {
	Version int    `json:"version"`
	Keys    []*Key `json:"keys"`
}

// Manager is an on-disk keyring. The first key is the primary key used for
// signing and as the default encryption recipient.
type Manager struct {
	path string
	mu   sync.RWMutex
	keys []*Key
}

// NewManager opens the keyring at path, creating its directory if needed.
// A missing keyring file yields an empty keyring.
func NewManager(path string) (*Manager, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create keyring directory: %w", err)
	}

	m := &Manager{path: path}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read keyring: %w", err)
	}

	var kf keyringFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return fmt.Errorf("%w: keyring: %v", ErrInvalidKey, err)
	}
	for _, k := range kf.Keys {
		if err := k.Validate(); err != nil {
			return fmt.Errorf("keyring entry %s: %w", k.ID, err)
		}
	}

	m.keys = kf.Keys
	log.Debugf("Loaded %d keys from %s", len(m.keys), m.path)
	return nil
}

// save writes the keyring with owner-only permissions. Caller holds mu.
func (m *Manager) save() error {
	data, err := json.MarshalIndent(keyringFile{Version: 1, Keys: m.keys}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal keyring: %w", err)
	}

	f, err := atomicfile.New(m.path, 0600)
	if err != nil {
		return fmt.Errorf("failed to create keyring: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Abort()
		return fmt.Errorf("failed to write keyring: %w", err)
	}
	return f.Close()
}

// Path returns the keyring file path.
func (m *Manager) Path() string {
	return m.path
}

// Keys returns the keys in keyring order.
func (m *Manager) Keys() []*Key {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Key, len(m.keys))
	copy(out, m.keys)
	return out
}

// Primary returns the first key in the keyring.
func (m *Manager) Primary() (*Key, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.keys) == 0 {
		return nil, ErrKeyNotFound
	}
	return m.keys[0], nil
}

// Get returns the key with the given id.
func (m *Manager) Get(id peer.ID) (*Key, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, k := range m.keys {
		if k.ID == id {
			return k, nil
		}
	}
	return nil, ErrKeyNotFound
}

// Generate creates a new key, appends it to the keyring and saves.
func (m *Manager) Generate(passphrase string, params KDFParams) (*Key, error) {
	k, err := Generate(passphrase, params)
	if err != nil {
		return nil, err
	}
	if err := m.Add(k); err != nil {
		return nil, err
	}

	log.Infof("Generated contact key %s (fingerprint %s)", k.ID, k.Fingerprint())
	return k, nil
}

// Add appends an existing key to the keyring and saves.
func (m *Manager) Add(k *Key) error {
	if err := k.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.keys {
		if existing.ID == k.ID {
			return ErrKeyAlreadyExists
		}
	}
	m.keys = append(m.keys, k)
	return m.save()
}

// Import adds the public half of a key exported by Export. Private
// material in data is discarded.
func (m *Manager) Import(data []byte) (*Key, error) {
	var k Key
	if err := json.Unmarshal(data, &k); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	pub := k.Public()
	if err := m.Add(pub); err != nil {
		return nil, err
	}

	log.Infof("Imported contact key %s (fingerprint %s)", pub.ID, pub.Fingerprint())
	return pub, nil
}

// Export returns the public half of the key with the given id as JSON.
func (m *Manager) Export(id peer.ID) ([]byte, error) {
	k, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(k.Public(), "", "  ")
}

// SetPrimary moves the key with the given id to the front of the keyring.
func (m *Manager) SetPrimary(id peer.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, k := range m.keys {
		if k.ID != id {
			continue
		}
		copy(m.keys[1:i+1], m.keys[:i])
		m.keys[0] = k
		return m.save()
	}
	return ErrKeyNotFound
}

// Replace swaps the stored key with the same id, keeping its position.
func (m *Manager) Replace(k *Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, existing := range m.keys {
		if existing.ID == k.ID {
			m.keys[i] = k
			return m.save()
		}
	}
	return ErrKeyNotFound
}

// Remove deletes the key with the given id.
func (m *Manager) Remove(id peer.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, k := range m.keys {
		if k.ID == id {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			if err := m.save(); err != nil {
				return err
			}
			log.Infof("Removed contact key %s", id)
			return nil
		}
	}
	return ErrKeyNotFound
}
