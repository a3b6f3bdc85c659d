package repo

import (
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/opsforge/remedy/internal/models"
)

// Key prefixes namespace the shared Badger database.
const (
	prefixCatalog  = "catalog:"
	prefixIncident = "incident:"
	prefixAction   = "action:"
)

// KV wraps a Badger database shared by the catalog and the incident ledger.
type KV struct {
	db *badger.DB
}

// OpenKV opens (or creates) the Badger database at path.
func OpenKV(path string) (*KV, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	return &KV{db: db}, nil
}

// Close releases the database.
func (kv *KV) Close() error {
	if kv == nil || kv.db == nil {
		return nil
	}
	return kv.db.Close()
}

func (kv *KV) putJSON(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return kv.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

func (kv *KV) scanJSON(prefix string, each func(data []byte) error) error {
	return kv.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := it.Item().Value(func(val []byte) error {
				return each(val)
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// CatalogStore persists catalog entries keyed by (issue, action).
type CatalogStore struct {
	kv *KV
}

// NewCatalogStore wraps the shared database for catalog persistence.
func NewCatalogStore(kv *KV) *CatalogStore {
	return &CatalogStore{kv: kv}
}

// LoadEntries returns every persisted catalog entry.
func (s *CatalogStore) LoadEntries() ([]models.CatalogEntry, error) {
	var entries []models.CatalogEntry
	err := s.kv.scanJSON(prefixCatalog, func(data []byte) error {
		var entry models.CatalogEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return fmt.Errorf("decode catalog entry: %w", err)
		}
		entries = append(entries, entry)
		return nil
	})
	return entries, err
}

// SaveEntry snapshots a single entry.
func (s *CatalogStore) SaveEntry(entry models.CatalogEntry) error {
	return s.kv.putJSON(prefixCatalog+entry.Key(), entry)
}

// LedgerStore persists incidents and action records append-only.
type LedgerStore struct {
	kv *KV
}

// NewLedgerStore wraps the shared database for ledger persistence.
func NewLedgerStore(kv *KV) *LedgerStore {
	return &LedgerStore{kv: kv}
}

// SaveIncident writes the current state of an incident.
func (s *LedgerStore) SaveIncident(incident models.Incident) error {
	return s.kv.putJSON(prefixIncident+incident.ID, incident)
}

// SaveAction writes the current state of an action record.
func (s *LedgerStore) SaveAction(record models.ActionRecord) error {
	return s.kv.putJSON(prefixAction+record.ID, record)
}

// LoadIncidents returns every persisted incident.
func (s *LedgerStore) LoadIncidents() ([]models.Incident, error) {
	var incidents []models.Incident
	err := s.kv.scanJSON(prefixIncident, func(data []byte) error {
		var inc models.Incident
		if err := json.Unmarshal(data, &inc); err != nil {
			return fmt.Errorf("decode incident: %w", err)
		}
		incidents = append(incidents, inc)
		return nil
	})
	return incidents, err
}

// LoadActions returns every persisted action record.
func (s *LedgerStore) LoadActions() ([]models.ActionRecord, error) {
	var records []models.ActionRecord
	err := s.kv.scanJSON(prefixAction, func(data []byte) error {
		var rec models.ActionRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("decode action record: %w", err)
		}
		records = append(records, rec)
		return nil
	})
	return records, err
}
