// Package storage provides SQLite-based storage for contact card sets.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/multiformats/go-multihash"

	"github.com/spacedatanetwork/sdn-contacts/internal/contact"
)

var log = logging.Logger("contacts-storage")

// DatabaseFile is the default database file name inside the data directory.
const DatabaseFile = "contacts.db"

// Errors
var (
	ErrNotFound       = errors.New("contact not found")
	ErrEmptyContactID = errors.New("contact id is empty")
)

// Store persists card sets keyed by contact id. Every save replaces the
// whole set.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Summary describes one stored contact.
type Summary struct {
	ContactID string
	Cards     int
	UpdatedAt time.Time
}

// NewStore opens (creating if needed) the database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db, dbPath: dbPath}
	if err := store.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}

	return store, nil
}

func (s *Store) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS contact_cards (
			contact_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			kind INTEGER NOT NULL,
			cid TEXT NOT NULL,
			data TEXT NOT NULL,
			signature TEXT NOT NULL DEFAULT '',
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (contact_id, position)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create cards table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_contact_cards_kind
		ON contact_cards (contact_id, kind, position)
	`); err != nil {
		log.Warnf("Failed to create kind index: %v", err)
	}

	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// CardCID computes the content identifier of a card: a CIDv1 over the
// sha2-256 of its kind, body and signature.
func CardCID(c contact.Card) (cid.Cid, error) {
	payload := fmt.Sprintf("%d\n%s\n%s", int(c.Kind), c.Data, c.Signature)
	mh, err := multihash.Sum([]byte(payload), multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, fmt.Errorf("failed to hash card: %w", err)
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}

// Save replaces the card set stored for contactID.
func (s *Store) Save(contactID string, cards []contact.Card) error {
	if contactID == "" {
		return ErrEmptyContactID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM contact_cards WHERE contact_id = ?`, contactID); err != nil {
		return fmt.Errorf("failed to clear card set: %w", err)
	}

	now := time.Now().Unix()
	for i, c := range cards {
		id, err := CardCID(c)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`
			INSERT INTO contact_cards (contact_id, position, kind, cid, data, signature, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, contactID, i, int(c.Kind), id.String(), c.Data, c.Signature, now); err != nil {
			return fmt.Errorf("failed to store card %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit card set: %w", err)
	}

	log.Debugf("Stored %d cards for contact %s", len(cards), contactID)
	return nil
}

// Load returns the cards of contactID ordered by kind.
func (s *Store) Load(contactID string) ([]contact.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT kind, data, signature FROM contact_cards
		WHERE contact_id = ?
		ORDER BY kind, position
	`, contactID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cards: %w", err)
	}
	defer rows.Close()

	var cards []contact.Card
	for rows.Next() {
		var (
			kind int
			c    contact.Card
		)
		if err := rows.Scan(&kind, &c.Data, &c.Signature); err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}
		c.Kind = contact.CardKind(kind)
		cards = append(cards, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read cards: %w", err)
	}

	if len(cards) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, contactID)
	}
	return cards, nil
}

// List returns a summary of every stored contact ordered by id.
func (s *Store) List() ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT contact_id, COUNT(*), MAX(updated_at) FROM contact_cards
		GROUP BY contact_id
		ORDER BY contact_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum     Summary
			updated int64
		)
		if err := rows.Scan(&sum.ContactID, &sum.Cards, &updated); err != nil {
			log.Warnf("Failed to scan row: %v", err)
			continue
		}
		sum.UpdatedAt = time.Unix(updated, 0)
		out = append(out, sum)
	}

	return out, rows.Err()
}

// Delete removes every card of contactID.
func (s *Store) Delete(contactID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`DELETE FROM contact_cards WHERE contact_id = ?`, contactID)
	if err != nil {
		return fmt.Errorf("failed to delete: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, contactID)
	}

	log.Debugf("Deleted %d cards for contact %s", affected, contactID)
	return nil
}

// Changed reports whether cards differ from the stored set of contactID.
// Card order within a kind matters, order across kinds does not. A contact
// with nothing stored has always changed.
func (s *Store) Changed(contactID string, cards []contact.Card) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT cid FROM contact_cards
		WHERE contact_id = ?
		ORDER BY kind, position
	`, contactID)
	if err != nil {
		return false, fmt.Errorf("failed to query cards: %w", err)
	}
	defer rows.Close()

	var stored []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return false, fmt.Errorf("failed to scan card: %w", err)
		}
		stored = append(stored, id)
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("failed to read cards: %w", err)
	}

	sorted := contact.CardSet(cards).Sorted()
	if len(stored) == 0 || len(stored) != len(sorted) {
		return true, nil
	}
	for i, c := range sorted {
		id, err := CardCID(c)
		if err != nil {
			return false, err
		}
		if id.String() != stored[i] {
			return true, nil
		}
	}
	return false, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
