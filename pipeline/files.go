package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// fileLocks hands out one mutex per base name so concurrent workers never
// interleave writes to the same files.
type fileLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *fileLocks) lock(name string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[name]
	if !ok {
		m = &sync.Mutex{}
		l.locks[name] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// BaseName returns the extension-less file name for an activity.
func BaseName(naming FileNaming, activityID string, startEpochMs int64) string {
	base := strconv.FormatInt(startEpochMs, 10)
	if naming == NamingTimestampID {
		base += "_" + sanitizeID(activityID)
	}
	return base
}

func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, id)
}

// writeFileAtomic writes data to a temp file in dir and renames it over
// name, so readers see either the old file or the complete new one.
func writeFileAtomic(dir, name string, data []byte) (string, error) {
	path := filepath.Join(dir, name)
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp for %s: %w", name, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("rename %s: %w", name, err)
	}
	return path, nil
}

func writeJSONAtomic(dir, name string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", name, err)
	}
	return writeFileAtomic(dir, name, append(data, '\n'))
}

func manifestFile(activityID, name, kind string, data []byte) ManifestFile {
	sum := sha256.Sum256(data)
	return ManifestFile{
		ActivityID: activityID,
		Name:       name,
		Kind:       kind,
		Bytes:      int64(len(data)),
		SHA256:     hex.EncodeToString(sum[:]),
	}
}

// deleteRegularFiles removes every regular file directly inside dir,
// creating dir when it does not exist. Subdirectories are left alone.
func deleteRegularFiles(dir string) (int, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create export dir: %w", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read export dir: %w", err)
	}
	deleted := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return deleted, fmt.Errorf("delete %s: %w", e.Name(), err)
		}
		deleted++
	}
	return deleted, nil
}
