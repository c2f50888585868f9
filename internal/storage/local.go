// Package storage stages uploaded documents, names produced artifacts, and
// optionally mirrors artifacts to object storage.
package storage

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/a3tai/formaudit/internal/recognition"
)

const (
	uploadsDir   = "uploads"
	artifactsDir = "artifacts"
)

var (
	ErrEmptyUpload     = errors.New("no files in upload")
	ErrFileTooLarge    = errors.New("file exceeds size limit")
	ErrUnknownHandle   = errors.New("unknown upload handle")
	ErrUnknownArtifact = errors.New("unknown artifact")
)

// Handle identifies a staged upload.
type Handle string

// ArtifactID identifies a produced file for download. It encodes the file's
// location under the storage root, so it survives restarts.
type ArtifactID string

// Upload is one file submitted for staging.
type Upload struct {
	Name   string
	Reader io.Reader
}

// Local keeps uploads and artifacts under a single root directory.
type Local struct {
	paths       *PathValidator
	maxFileSize int64
	newID       func() string
}

// NewLocal creates the storage layout under root.
func NewLocal(root string, maxFileSize int64) (*Local, error) {
	paths, err := NewPathValidator(root)
	if err != nil {
		return nil, err
	}
	for _, dir := range []string{uploadsDir, artifactsDir} {
		if err := os.MkdirAll(filepath.Join(paths.Root(), dir), 0o755); err != nil {
			return nil, fmt.Errorf("create %s directory: %w", dir, err)
		}
	}
	return &Local{paths: paths, maxFileSize: maxFileSize, newID: uuid.NewString}, nil
}

// Root returns the storage root.
func (l *Local) Root() string { return l.paths.Root() }

// Stage writes files into a fresh upload directory and returns its handle
// and the number of files staged. A failed stage leaves nothing behind.
func (l *Local) Stage(files []Upload) (Handle, int, error) {
	if len(files) == 0 {
		return "", 0, ErrEmptyUpload
	}
	h := Handle(l.newID())
	dir := filepath.Join(l.Root(), uploadsDir, string(h))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create upload directory: %w", err)
	}

	used := map[string]int{}
	for i, f := range files {
		name := uniqueName(sanitizeName(f.Name, i), used)
		if err := l.writeLimited(filepath.Join(dir, name), f.Reader); err != nil {
			os.RemoveAll(dir)
			return "", 0, fmt.Errorf("stage %s: %w", f.Name, err)
		}
	}
	return h, len(files), nil
}

func (l *Local) writeLimited(path string, r io.Reader) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	src := r
	if l.maxFileSize > 0 {
		src = io.LimitReader(r, l.maxFileSize+1)
	}
	n, err := io.Copy(out, src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if l.maxFileSize > 0 && n > l.maxFileSize {
		return fmt.Errorf("%w (%d bytes)", ErrFileTooLarge, l.maxFileSize)
	}
	return nil
}

// Documents lists the staged files of an upload in name order.
func (l *Local) Documents(h Handle) ([]recognition.Document, error) {
	if _, err := uuid.Parse(string(h)); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandle, h)
	}
	dir := filepath.Join(l.Root(), uploadsDir, string(h))
	docs, err := ListDocuments(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandle, h)
	}
	return docs, err
}

// ArtifactPath returns a path for a new artifact in its own directory.
func (l *Local) ArtifactPath(name string) (string, error) {
	dir := filepath.Join(l.Root(), artifactsDir, l.newID())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact directory: %w", err)
	}
	return filepath.Join(dir, sanitizeName(name, 0)), nil
}

// Register returns the download identifier of a file under the root.
func (l *Local) Register(path string) (ArtifactID, error) {
	rel, err := l.paths.Rel(path)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(filepath.Join(l.Root(), rel)); err != nil {
		return "", fmt.Errorf("register artifact: %w", err)
	}
	return ArtifactID(base64.RawURLEncoding.EncodeToString([]byte(filepath.ToSlash(rel)))), nil
}

// Resolve maps a download identifier back to its file.
func (l *Local) Resolve(id ArtifactID) (string, error) {
	rel, err := base64.RawURLEncoding.DecodeString(string(id))
	if err != nil || len(rel) == 0 {
		return "", fmt.Errorf("%w: %s", ErrUnknownArtifact, id)
	}
	path, err := l.paths.Resolve(filepath.FromSlash(string(rel)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnknownArtifact, err)
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrUnknownArtifact, id)
	}
	return path, nil
}

// ListDocuments returns the regular, non-hidden files of dir in name order.
func ListDocuments(dir string) ([]recognition.Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var docs []recognition.Document
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		docs = append(docs, recognition.Document{Name: e.Name(), Path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Name < docs[j].Name })
	return docs, nil
}

// sanitizeName keeps the base name of an uploaded file and drops characters
// that are unsafe in paths.
func sanitizeName(name string, index int) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, r == '/', r == ':', r == '*', r == '?', r == '"', r == '<', r == '>', r == '|':
			return '_'
		}
		return r
	}, name)
	name = strings.TrimLeft(name, ".")
	if name == "" {
		name = fmt.Sprintf("document-%03d", index+1)
	}
	return name
}

func uniqueName(name string, used map[string]int) string {
	n := used[name]
	used[name] = n + 1
	if n == 0 {
		return name
	}
	ext := filepath.Ext(name)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), n+1, ext)
}
