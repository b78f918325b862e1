package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// ArchiveData is one call-history archive snapshot
type ArchiveData struct {
	Version   string                 `json:"version"`
	Timestamp time.Time              `json:"timestamp"`
	Calls     map[string]interface{} `json:"calls,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Storage defines interface for archive storage
type Storage interface {
	Save(ctx context.Context, name string, data io.Reader) error
	Load(ctx context.Context, name string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, name string) error
}

// ArchiveService handles archive operations
type ArchiveService struct {
	storage Storage
	version string
}

// NewArchiveService creates a new archive service
func NewArchiveService(storage Storage, version string) *ArchiveService {
	return &ArchiveService{
		storage: storage,
		version: version,
	}
}

const archiveNamePrefix = "calls-"

// CreateArchive writes the provided data as a new archive and returns its name
func (as *ArchiveService) CreateArchive(ctx context.Context, data *ArchiveData) (string, error) {
	data.Version = as.version
	data.Timestamp = time.Now()

	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal archive data: %w", err)
	}

	archiveName := fmt.Sprintf("%s%s.json", archiveNamePrefix, data.Timestamp.Format("20060102-150405"))

	reader := &byteReader{data: jsonData}
	if err := as.storage.Save(ctx, archiveName, reader); err != nil {
		return "", fmt.Errorf("failed to save archive: %w", err)
	}

	return archiveName, nil
}

// LoadArchive reads an archive back from storage
func (as *ArchiveService) LoadArchive(ctx context.Context, name string) (*ArchiveData, error) {
	reader, err := as.storage.Load(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load archive: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive data: %w", err)
	}

	var archiveData ArchiveData
	if err := json.Unmarshal(data, &archiveData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal archive data: %w", err)
	}

	return &archiveData, nil
}

// ListArchives lists all available archives
func (as *ArchiveService) ListArchives(ctx context.Context) ([]string, error) {
	return as.storage.List(ctx, archiveNamePrefix)
}

// DeleteArchive deletes an archive
func (as *ArchiveService) DeleteArchive(ctx context.Context, name string) error {
	return as.storage.Delete(ctx, name)
}

// ArchiveTimestamp parses the creation time encoded in an archive name
func ArchiveTimestamp(name string) (time.Time, error) {
	trimmed := name
	if len(trimmed) > len(archiveNamePrefix) {
		trimmed = trimmed[len(archiveNamePrefix):]
	}
	if len(trimmed) < 15 {
		return time.Time{}, fmt.Errorf("archive name too short: %s", name)
	}
	return time.Parse("20060102-150405", trimmed[:15])
}

// byteReader implements io.Reader for byte slice
type byteReader struct {
	data []byte
	pos  int
}

func (br *byteReader) Read(p []byte) (n int, err error) {
	if br.pos >= len(br.data) {
		return 0, io.EOF
	}
	n = copy(p, br.data[br.pos:])
	br.pos += n
	return n, nil
}
