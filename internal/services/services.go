// Package services provides FileStore, the device's on-disk state
// store, which the application shell constructs and passes to the
// components that need it. FileStore is the concrete on-disk implementation of the
// secretmgr.Store and alert.Store persistence interfaces, left out of
// scope for the protocol core itself (only the opaque blob format is
// specified).
//
// Grounded on server/internal/blob/store.go's temp-file-then-rename
// write pattern, simplified from that store's sqlite-metadata-plus-blob
// split down to single flat files, since a device has no multi-blob
// catalog to maintain.
package services

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/aia-voice/deviceclient/internal/alert"
)

// FileStore persists the device's secret key, topic root, and scheduled
// alerts as flat files under a single directory.
type FileStore struct {
	dir string
}

// NewFileStore creates (if needed) dir and returns a FileStore rooted
// there.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("services: state directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("services: create state directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// writeAtomic writes data to name via a temp file plus rename, so a
// crash mid-write never leaves a half-written file in place.
func (f *FileStore) writeAtomic(name string, data []byte) error {
	path := filepath.Join(f.dir, name)
	tmp, err := os.CreateTemp(f.dir, "."+name+"-*")
	if err != nil {
		return fmt.Errorf("services: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if writeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("services: write %s: %w", name, writeErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("services: close temp file for %s: %w", name, closeErr)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("services: chmod %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("services: install %s: %w", name, err)
	}
	return nil
}

const secretFile = "secret.key"

// SaveSecret persists key, satisfying secretmgr.Store.
func (f *FileStore) SaveSecret(key []byte) error {
	return f.writeAtomic(secretFile, key)
}

// LoadSecret reads the previously persisted key, if any. A missing file
// is not an error: a freshly registered device has no secret yet.
func (f *FileStore) LoadSecret() ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(f.dir, secretFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("services: load secret: %w", err)
	}
	return data, nil
}

const topicRootFile = "topic_root"

// SaveTopicRoot persists the server-assigned topic root string.
func (f *FileStore) SaveTopicRoot(root string) error {
	return f.writeAtomic(topicRootFile, []byte(root))
}

// LoadTopicRoot reads the previously persisted topic root, if any.
func (f *FileStore) LoadTopicRoot() (string, error) {
	data, err := os.ReadFile(filepath.Join(f.dir, topicRootFile))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("services: load topic root: %w", err)
	}
	return string(data), nil
}

const alertsFile = "alerts.bin"

// SaveAlerts persists the alert set as concatenated fixed-size records,
// satisfying alert.Store.
func (f *FileStore) SaveAlerts(records []alert.Record) error {
	data := make([]byte, 0, len(records)*alert.RecordLen)
	for _, r := range records {
		data = append(data, r.Encode()...)
	}
	return f.writeAtomic(alertsFile, data)
}

// LoadAlerts decodes the previously persisted alert set, if any.
func (f *FileStore) LoadAlerts() ([]alert.Record, error) {
	data, err := os.ReadFile(filepath.Join(f.dir, alertsFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("services: load alerts: %w", err)
	}
	if len(data)%alert.RecordLen != 0 {
		return nil, fmt.Errorf("services: alerts file has truncated trailing record")
	}
	records := make([]alert.Record, 0, len(data)/alert.RecordLen)
	for off := 0; off < len(data); off += alert.RecordLen {
		rec, err := alert.DecodeRecord(data[off : off+alert.RecordLen])
		if err != nil {
			return nil, fmt.Errorf("services: decode alert record at offset %d: %w", off, err)
		}
		records = append(records, rec)
	}
	return records, nil
}
