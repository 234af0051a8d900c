// Package storage provides persistent local storage for detection results
// using BoltDB. It keeps fingerprint history with the supersede lifecycle,
// threat assessments, and drift results, keyed by model and timestamp for
// efficient range queries.
//
// Storage is a best-effort collaborator: the detection core never assumes
// a write succeeded synchronously.
package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"modelguard/internal/detect"
	"modelguard/internal/integrity"
	"modelguard/internal/theft"
)

const (
	fingerprintsBucket = "fingerprints"
	assessmentsBucket  = "assessments"
	driftBucket        = "drift"
	theftBucket        = "theft"
)

// Store persists detection artifacts in BoltDB. Safe for concurrent use.
type Store struct {
	db *bbolt.DB
}

// New opens (or creates) the database under dataPath and ensures all
// buckets exist.
func New(dataPath string) (*Store, error) {
	dbPath := filepath.Join(dataPath, "modelguard.db")

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{fingerprintsBucket, assessmentsBucket, driftBucket, theftBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveFingerprint stores a new fingerprint and marks the previously active
// fingerprint for the same model inactive. Superseded fingerprints are
// kept; nothing is deleted here.
func (s *Store) SaveFingerprint(fp *integrity.ModelFingerprint) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(fingerprintsBucket))

		// Supersede the current active fingerprint, if any.
		prefix := []byte(fp.ModelID + "_")
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var prior integrity.ModelFingerprint
			if err := json.Unmarshal(v, &prior); err != nil {
				continue
			}
			if !prior.Active {
				continue
			}
			prior.Active = false
			data, err := json.Marshal(&prior)
			if err != nil {
				return fmt.Errorf("marshal superseded fingerprint: %w", err)
			}
			if err := b.Put(k, data); err != nil {
				return err
			}
		}

		data, err := json.Marshal(fp)
		if err != nil {
			return fmt.Errorf("marshal fingerprint: %w", err)
		}
		key := fmt.Sprintf("%s_%d", fp.ModelID, fp.CreatedAt.UnixNano())
		return b.Put([]byte(key), data)
	})
}

// ActiveFingerprint returns the active fingerprint for a model, or nil if
// none has been stored yet.
func (s *Store) ActiveFingerprint(modelID string) (*integrity.ModelFingerprint, error) {
	var active *integrity.ModelFingerprint

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(fingerprintsBucket))
		c := b.Cursor()
		prefix := []byte(modelID + "_")
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var fp integrity.ModelFingerprint
			if err := json.Unmarshal(v, &fp); err != nil {
				continue
			}
			if fp.Active {
				active = &fp
			}
		}
		return nil
	})
	return active, err
}

// FingerprintHistory returns all fingerprints for a model in ascending
// creation order, superseded ones included.
func (s *Store) FingerprintHistory(modelID string) ([]integrity.ModelFingerprint, error) {
	var history []integrity.ModelFingerprint

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(fingerprintsBucket))
		c := b.Cursor()
		prefix := []byte(modelID + "_")
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var fp integrity.ModelFingerprint
			if err := json.Unmarshal(v, &fp); err != nil {
				continue // skip malformed records
			}
			history = append(history, fp)
		}
		return nil
	})
	return history, err
}

// storedDrift wraps a drift result with its observation time.
type storedDrift struct {
	Ts     time.Time              `json:"ts"`
	Result *integrity.DriftResult `json:"result"`
}

// SaveDriftResult appends a drift observation for a model.
func (s *Store) SaveDriftResult(modelID string, result *integrity.DriftResult) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(driftBucket))
		data, err := json.Marshal(storedDrift{Ts: time.Now().UTC(), Result: result})
		if err != nil {
			return fmt.Errorf("marshal drift result: %w", err)
		}
		key := fmt.Sprintf("%s_%d", modelID, time.Now().UnixNano())
		return b.Put([]byte(key), data)
	})
}

// RecentDrift returns up to n most recent drift results for a model,
// newest first.
func (s *Store) RecentDrift(modelID string, n int) ([]integrity.DriftResult, error) {
	var results []integrity.DriftResult

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(driftBucket))
		prefix := []byte(modelID + "_")

		var keys [][]byte
		c := b.Cursor()
		for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for i := len(keys) - 1; i >= 0 && len(results) < n; i-- {
			var rec storedDrift
			if err := json.Unmarshal(b.Get(keys[i]), &rec); err != nil {
				continue
			}
			results = append(results, *rec.Result)
		}
		return nil
	})
	return results, err
}

// storedAssessment wraps a threat assessment with its pipeline and time.
type storedAssessment struct {
	Ts       time.Time                `json:"ts"`
	Pipeline string                   `json:"pipeline"`
	Result   *detect.ThreatAssessment `json:"result"`
}

// SaveAssessment persists one pipeline outcome for a model.
func (s *Store) SaveAssessment(modelID, pipeline string, assessment *detect.ThreatAssessment) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(assessmentsBucket))
		data, err := json.Marshal(storedAssessment{
			Ts:       time.Now().UTC(),
			Pipeline: pipeline,
			Result:   assessment,
		})
		if err != nil {
			return fmt.Errorf("marshal assessment: %w", err)
		}
		key := fmt.Sprintf("%s_%d", modelID, time.Now().UnixNano())
		return b.Put([]byte(key), data)
	})
}

// SaveTheftAssessment persists one extraction analysis outcome.
func (s *Store) SaveTheftAssessment(assessment *theft.TheftAssessment) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(theftBucket))
		data, err := json.Marshal(assessment)
		if err != nil {
			return fmt.Errorf("marshal theft assessment: %w", err)
		}
		key := fmt.Sprintf("%s_%d", assessment.ModelID, time.Now().UnixNano())
		return b.Put([]byte(key), data)
	})
}

func hasPrefix(data, prefix []byte) bool {
	return bytes.HasPrefix(data, prefix)
}
