package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ducminhle1904/futures-risk-bot/internal/portfolio"
)

// staleLockAge is how old a lock file may be before it is treated as
// left behind by a dead process.
const staleLockAge = 5 * time.Minute

// FileStorage implements portfolio.StateStore with JSON files. Writes
// go through a temp file and an atomic rename so a crash mid-save never
// leaves a torn snapshot on disk.
type FileStorage struct {
	mu       sync.RWMutex
	filePath string
	lockFile string
	isLocked bool
}

// NewFileStorage creates a file-backed snapshot store at filePath.
func NewFileStorage(filePath string) *FileStorage {
	if filePath == "" {
		filePath = "portfolio_state.json"
	}

	dir := filepath.Dir(filePath)
	if dir != "." {
		os.MkdirAll(dir, 0755)
	}

	return &FileStorage{
		filePath: filePath,
		lockFile: filePath + ".lock",
	}
}

// Save writes the snapshot atomically, stamping SavedAt.
func (f *FileStorage) Save(snapshot *portfolio.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if snapshot == nil {
		return fmt.Errorf("cannot save nil snapshot")
	}

	snapshot.Version = portfolio.SnapshotVersion
	snapshot.SavedAt = time.Now()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	tempFile := f.filePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary snapshot file: %w", err)
	}

	if err := os.Rename(tempFile, f.filePath); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to commit snapshot file: %w", err)
	}

	return nil
}

// Load reads and validates the snapshot from disk.
func (f *FileStorage) Load() (*portfolio.Snapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if _, err := os.Stat(f.filePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("snapshot file does not exist: %s", f.filePath)
	}

	data, err := os.ReadFile(f.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}

	var snapshot portfolio.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	if err := validateSnapshot(&snapshot); err != nil {
		return nil, fmt.Errorf("invalid snapshot: %w", err)
	}

	return &snapshot, nil
}

// Exists reports whether a snapshot file is present on disk.
func (f *FileStorage) Exists() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	_, err := os.Stat(f.filePath)
	return err == nil
}

// Lock creates a lock file so two processes cannot own the same
// snapshot. A lock older than staleLockAge is removed as abandoned.
func (f *FileStorage) Lock() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.isLocked {
		return fmt.Errorf("storage is already locked")
	}

	if _, err := os.Stat(f.lockFile); err == nil {
		if err := f.checkStaleLock(); err != nil {
			return err
		}
	}

	lockInfo := map[string]interface{}{
		"timestamp": time.Now(),
		"pid":       os.Getpid(),
		"hostname":  hostname(),
	}

	lockData, err := json.Marshal(lockInfo)
	if err != nil {
		return fmt.Errorf("failed to create lock data: %w", err)
	}

	if err := os.WriteFile(f.lockFile, lockData, 0644); err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}

	f.isLocked = true
	return nil
}

// Unlock removes the lock file.
func (f *FileStorage) Unlock() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.isLocked {
		return nil
	}

	if err := os.Remove(f.lockFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}

	f.isLocked = false
	return nil
}

// Backup copies the current snapshot file to a timestamped sibling.
func (f *FileStorage) Backup() (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if _, err := os.Stat(f.filePath); os.IsNotExist(err) {
		return "", fmt.Errorf("no snapshot file to backup")
	}

	timestamp := time.Now().Format("20060102_150405")
	backupPath := fmt.Sprintf("%s.backup_%s", f.filePath, timestamp)

	data, err := os.ReadFile(f.filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read snapshot for backup: %w", err)
	}

	if err := os.WriteFile(backupPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to create backup file: %w", err)
	}

	return backupPath, nil
}

func validateSnapshot(snapshot *portfolio.Snapshot) error {
	if snapshot.Version != portfolio.SnapshotVersion {
		return fmt.Errorf("unsupported snapshot version %q (want %q)", snapshot.Version, portfolio.SnapshotVersion)
	}

	if snapshot.InitialBalance <= 0 {
		return fmt.Errorf("invalid initial balance: %.2f", snapshot.InitialBalance)
	}

	if snapshot.CurrentBalance < 0 {
		return fmt.Errorf("negative current balance: %.2f", snapshot.CurrentBalance)
	}

	for symbol, pos := range snapshot.Positions {
		if pos.Symbol != symbol {
			return fmt.Errorf("symbol mismatch in positions: key %s, position %s", symbol, pos.Symbol)
		}
		if pos.Quantity < 0 {
			return fmt.Errorf("negative quantity for %s: %f", symbol, pos.Quantity)
		}
	}

	return nil
}

func (f *FileStorage) checkStaleLock() error {
	lockData, err := os.ReadFile(f.lockFile)
	if err != nil {
		return fmt.Errorf("failed to read lock file: %w", err)
	}

	var lockInfo map[string]interface{}
	if err := json.Unmarshal(lockData, &lockInfo); err != nil {
		// unreadable lock file, treat as abandoned
		os.Remove(f.lockFile)
		return nil
	}

	if timestampStr, ok := lockInfo["timestamp"].(string); ok {
		if timestamp, err := time.Parse(time.RFC3339, timestampStr); err == nil {
			if age := time.Since(timestamp); age > staleLockAge {
				os.Remove(f.lockFile)
				return nil
			}
		}
	}

	return fmt.Errorf("portfolio storage is locked by another process")
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return name
}
