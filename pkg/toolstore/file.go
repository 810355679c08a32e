package toolstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/harun/toolns/pkg/registry"
	"gopkg.in/yaml.v3"
)

// FileStore keeps tools in a single JSON or YAML document. The format
// follows the file extension: .yaml and .yml select YAML.
type FileStore struct {
	path string
	yaml bool
}

// NewFileStore creates a store at path. The file is created on first save.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("file store requires a path")
	}
	ext := strings.ToLower(filepath.Ext(path))
	return &FileStore{path: path, yaml: ext == ".yaml" || ext == ".yml"}, nil
}

// Path returns the document path.
func (s *FileStore) Path() string { return s.path }

// Load implements Store. A missing file holds no tools.
func (s *FileStore) Load(ctx context.Context) ([]registry.Definition, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	var doc Document
	if s.yaml {
		err = yaml.Unmarshal(data, &doc)
	} else {
		err = json.Unmarshal(data, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", s.path, err)
	}
	if doc.Version != DocumentVersion {
		return nil, fmt.Errorf("%s: unsupported document version %d", s.path, doc.Version)
	}

	return definitions(doc.Tools)
}

// Save implements Store. The document is written to a temporary file and
// renamed into place.
func (s *FileStore) Save(ctx context.Context, defs []registry.Definition) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	doc := Document{Version: DocumentVersion, Tools: make([]Record, 0, len(defs))}
	for _, def := range defs {
		doc.Tools = append(doc.Tools, NewRecord(def))
	}

	var (
		data []byte
		err  error
	)
	if s.yaml {
		data, err = yaml.Marshal(doc)
	} else {
		data, err = json.MarshalIndent(doc, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to encode tools: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write tools: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write tools: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}
	return nil
}

// Close implements Store.
func (s *FileStore) Close() error { return nil }
