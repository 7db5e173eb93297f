package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StoredClip describes a persisted audio file.
type StoredClip struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
	Type     string `json:"type"`
	Size     int    `json:"size"`
	MimeType string `json:"mimeType"`
}

// AudioStore persists audio clips on the local filesystem.
type AudioStore struct {
	dir string

	// Serializes DeleteAll against concurrent saves.
	mu sync.Mutex
}

// NewAudioStore creates the audio directory if needed.
func NewAudioStore(dir string) (*AudioStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio dir: %w", err)
	}
	return &AudioStore{dir: dir}, nil
}

// Dir returns the directory clips are stored in.
func (s *AudioStore) Dir() string {
	return s.dir
}

// Save writes a clip under a collision-resistant name and returns its metadata.
func (s *AudioStore) Save(kind string, data []byte, mimeType string) (*StoredClip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := fmt.Sprintf("%s-%d-%s%s", kind, time.Now().UnixNano(), uuid.NewString(), extensionForMimeType(mimeType))
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("write audio clip: %w", err)
	}

	return &StoredClip{
		Filename: name,
		URL:      "/audio/" + name,
		Type:     kind,
		Size:     len(data),
		MimeType: mimeType,
	}, nil
}

// DeleteAll removes every stored clip and returns how many were deleted.
func (s *AudioStore) DeleteAll() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read audio dir: %w", err)
	}

	deleted := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
			return deleted, fmt.Errorf("delete %s: %w", entry.Name(), err)
		}
		deleted++
	}
	return deleted, nil
}

func extensionForMimeType(mimeType string) string {
	mt := strings.ToLower(mimeType)
	switch {
	case strings.Contains(mt, "webm"):
		return ".webm"
	case strings.Contains(mt, "mpeg"), strings.Contains(mt, "mp3"):
		return ".mp3"
	case strings.Contains(mt, "wav"):
		return ".wav"
	default:
		return ".webm"
	}
}
