package services

import (
	"path/filepath"
	"testing"

	"github.com/aia-voice/deviceclient/internal/alert"
)

func TestNewFileStoreRejectsEmptyDir(t *testing.T) {
	if _, err := NewFileStore(""); err == nil {
		t.Fatal("NewFileStore(\"\"): want error, got nil")
	}
}

func TestLoadSecretMissingReturnsNilNotError(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	key, err := fs.LoadSecret()
	if err != nil {
		t.Fatalf("LoadSecret: %v", err)
	}
	if key != nil {
		t.Fatalf("got %v, want nil", key)
	}
}

func TestSaveThenLoadSecretRoundTrips(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if err := fs.SaveSecret(want); err != nil {
		t.Fatalf("SaveSecret: %v", err)
	}
	got, err := fs.LoadSecret()
	if err != nil {
		t.Fatalf("LoadSecret: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestSaveThenLoadTopicRootRoundTrips(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := fs.SaveTopicRoot("aia/device/deadbeef"); err != nil {
		t.Fatalf("SaveTopicRoot: %v", err)
	}
	got, err := fs.LoadTopicRoot()
	if err != nil {
		t.Fatalf("LoadTopicRoot: %v", err)
	}
	if got != "aia/device/deadbeef" {
		t.Fatalf("got %q, want %q", got, "aia/device/deadbeef")
	}
}

func TestSaveThenLoadAlertsRoundTrips(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	records := []alert.Record{
		{Type: alert.Alarm, Token: [8]byte{'a', 'b', 'c', 'd', '1', '2', '3', '4'}, Scheduled: 1700000000000, DurationMs: 60000},
		{Type: alert.Timer, Token: [8]byte{'z', 'z', 'z', 'z', '0', '0', '0', '0'}, Scheduled: 1700000060000, DurationMs: 30000},
	}
	if err := fs.SaveAlerts(records); err != nil {
		t.Fatalf("SaveAlerts: %v", err)
	}
	got, err := fs.LoadAlerts()
	if err != nil {
		t.Fatalf("LoadAlerts: %v", err)
	}
	if len(got) != len(records) {
		t.Fatalf("got %d records, want %d", len(got), len(records))
	}
	for i := range records {
		if got[i] != records[i] {
			t.Fatalf("record %d: got %+v, want %+v", i, got[i], records[i])
		}
	}
}

func TestLoadAlertsMissingFileReturnsNil(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	got, err := fs.LoadAlerts()
	if err != nil {
		t.Fatalf("LoadAlerts: %v", err)
	}
	if got != nil {
		t.Fatalf("got %v, want nil", got)
	}
}

func TestLoadAlertsTruncatedFileErrors(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := fs.writeAtomic(alertsFile, []byte{1, 2, 3}); err != nil {
		t.Fatalf("writeAtomic: %v", err)
	}
	if _, err := fs.LoadAlerts(); err == nil {
		t.Fatal("LoadAlerts: want error for truncated file, got nil")
	}
}

func TestWriteAtomicLeavesNoTempFilesBehind(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := fs.SaveSecret([]byte("k")); err != nil {
		t.Fatalf("SaveSecret: %v", err)
	}
	entries, err := filepath.Glob(filepath.Join(dir, ".*-*"))
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("leftover temp files: %v", entries)
	}
}
