package media

import (
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// Kind is the media kind of a track.
type Kind string

const (
	Audio Kind = "audio"
	Video Kind = "video"
)

// CaptureFile describes a validated capture source on disk
type CaptureFile struct {
	// Path is the absolute path to the file
	Path string

	// Kind is the track kind the file feeds
	Kind Kind

	// Size is the file size in bytes
	Size int64

	// Type is the container MIME type (e.g., "video/x-ivf", "audio/ogg")
	Type string
}

var containers = map[string]struct {
	kind     Kind
	mimeType string
}{
	".ivf":  {Video, "video/x-ivf"},
	".ogg":  {Audio, "audio/ogg"},
	".opus": {Audio, "audio/ogg"},
}

// ValidateFiles checks that the configured capture files exist, are readable
// and use a supported container. Empty paths are skipped, but at least one
// source must be configured.
func ValidateFiles(videoPath, audioPath string) ([]CaptureFile, error) {
	var files []CaptureFile

	for _, want := range []struct {
		path string
		kind Kind
	}{{videoPath, Video}, {audioPath, Audio}} {
		if want.path == "" {
			continue
		}
		file, err := validateSingleFile(want.path, want.kind)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}

	if len(files) == 0 {
		return nil, classify("", ErrNoSources)
	}
	return files, nil
}

// validateSingleFile checks a single file and returns its info
func validateSingleFile(path string, kind Kind) (CaptureFile, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return CaptureFile{}, classify(path, fmt.Errorf("failed to get absolute path: %w", err))
	}

	stat, err := os.Stat(absPath)
	if err != nil {
		return CaptureFile{}, classify(absPath, err)
	}

	if stat.IsDir() {
		return CaptureFile{}, classify(absPath, fmt.Errorf("is a directory: %w", fs.ErrNotExist))
	}

	if stat.Size() == 0 {
		return CaptureFile{}, classify(absPath, fmt.Errorf("file is empty: %w", ErrUnsupported))
	}

	// Check if file is readable
	file, err := os.Open(absPath)
	if err != nil {
		return CaptureFile{}, classify(absPath, err)
	}
	file.Close()

	ext := strings.ToLower(filepath.Ext(absPath))
	container, ok := containers[ext]
	if !ok {
		detected := mime.TypeByExtension(ext)
		if detected == "" {
			detected = "application/octet-stream"
		}
		return CaptureFile{}, classify(absPath, fmt.Errorf("%w: container %s", ErrUnsupported, detected))
	}
	if container.kind != kind {
		return CaptureFile{}, classify(absPath, fmt.Errorf("%w: %s file used as %s source", ErrUnsupported, container.kind, kind))
	}

	return CaptureFile{
		Path: absPath,
		Kind: kind,
		Size: stat.Size(),
		Type: container.mimeType,
	}, nil
}
