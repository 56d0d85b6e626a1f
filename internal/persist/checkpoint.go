// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package persist implements the run's durable state: a bbolt-backed
// checkpoint store standing in for status.pickle/report_data.pickle, and
// the all_data.csv/reduced_data.csv result writers.
package persist

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const (
	statusBucket = "status"
	statusKey    = "status"

	reportBucket = "report"
	reportKey    = "report"
)

// StatusCheckpointFile and ReportCheckpointFile keep the original Python
// filenames for filesystem-layout compatibility, even though the on-disk
// format underneath is a bbolt database rather than a pickle.
const (
	StatusCheckpointFile = "status.pickle"
	ReportCheckpointFile = "report_data.pickle"
)

// Store wraps a bbolt database for a single result directory.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) the checkpoint database for file under
// resultDir.
func Open(resultDir, file string) (*Store, error) {
	path := filepath.Join(resultDir, file)
	db, err := bbolt.Open(path, 0o644, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveStatus persists the optimizer's checkpoint state, keyed as a single
// gob-encoded blob per run.
func (s *Store) SaveStatus(state any) error {
	return s.save(statusBucket, statusKey, state)
}

// LoadStatus decodes a previously-saved checkpoint into state, reporting
// false if none exists yet.
func (s *Store) LoadStatus(state any) (bool, error) {
	return s.load(statusBucket, statusKey, state)
}

// SaveReportData persists the accumulated result rows used for
// all_data.csv/reduced_data.csv regeneration after a resume.
func (s *Store) SaveReportData(state any) error {
	return s.save(reportBucket, reportKey, state)
}

// LoadReportData decodes previously-saved report rows, reporting false if
// none exist yet.
func (s *Store) LoadReportData(state any) (bool, error) {
	return s.load(reportBucket, reportKey, state)
}

func (s *Store) save(bucket, key string, state any) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(state); err != nil {
		return fmt.Errorf("encode %s: %w", bucket, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}
		return b.Put([]byte(key), buf.Bytes())
	})
}

func (s *Store) load(bucket, key string, state any) (bool, error) {
	var found bool
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		v := b.Get([]byte(key))
		if v == nil {
			return nil
		}
		found = true
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil || !found {
		return found, err
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(state); err != nil {
		return true, fmt.Errorf("decode %s: %w", bucket, err)
	}
	return true, nil
}
