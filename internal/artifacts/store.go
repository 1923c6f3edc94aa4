package artifacts

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Store persists post-call artifacts (recordings, transcripts)
type Store interface {
	SaveRecording(recordingID, legID string, body io.Reader) (string, error)
	SaveTranscript(recordingID string, body io.Reader) (string, error)
}

// FileStore writes artifacts to a local directory, keyed by recording and
// leg identifiers. Recordings and transcripts are the only durable output
// of the system; call state itself is never persisted.
type FileStore struct {
	dir    string
	logger zerolog.Logger
}

// NewFileStore creates the artifact directory if needed
func NewFileStore(dir string, logger zerolog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory %s: %w", dir, err)
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

// SaveRecording stores a recording as <recordingID>_<legID>.mp3 and
// returns the path written
func (s *FileStore) SaveRecording(recordingID, legID string, body io.Reader) (string, error) {
	name := fmt.Sprintf("%s_%s.mp3", recordingID, legID)
	return s.write(name, body)
}

// SaveTranscript stores a transcript as <recordingID>.txt and returns the
// path written
func (s *FileStore) SaveTranscript(recordingID string, body io.Reader) (string, error) {
	return s.write(recordingID+".txt", body)
}

func (s *FileStore) write(name string, body io.Reader) (string, error) {
	path := filepath.Join(s.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	n, err := io.Copy(f, body)
	if err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}

	s.logger.Info().
		Str("path", path).
		Int64("bytes", n).
		Msg("artifact saved")
	return path, nil
}
