package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"memoshare/share"
)

// ErrUnsafeName is returned for attachment names that escape their root.
var ErrUnsafeName = errors.New("storage: unsafe attachment name")

var (
	_ share.AttachmentStore    = (*FileStore)(nil)
	_ share.AttachmentResolver = (*DirResolver)(nil)
	_ share.NoteStore          = (*Store)(nil)
)

// FileStore persists received attachment bytes under a single directory,
// one uuid-named file per attachment.
type FileStore struct {
	dir string
}

// NewFileStore creates the attachment directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("attachment directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create attachment directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Save streams r into a new file and returns its stored identifier. The
// original name contributes only its extension; the identifier is random.
func (fs *FileStore) Save(name string, r io.Reader) (string, error) {
	storedID := uuid.NewString() + safeExtension(name)
	finalPath := filepath.Join(fs.dir, storedID)

	tmp, err := os.CreateTemp(fs.dir, ".incoming-*")
	if err != nil {
		return "", fmt.Errorf("create attachment temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write attachment %q: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("close attachment temp file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("store attachment %q: %w", name, err)
	}

	return storedID, nil
}

// Remove deletes a stored attachment file.
func (fs *FileStore) Remove(storedID string) error {
	if err := validateStoredID(storedID); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(fs.dir, storedID)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("remove attachment %q: %w", storedID, err)
	}
	return nil
}

// Open opens a stored attachment for reading.
func (fs *FileStore) Open(storedID string) (io.ReadCloser, error) {
	if err := validateStoredID(storedID); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(fs.dir, storedID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open attachment %q: %w", storedID, err)
	}
	return f, nil
}

// Path returns the on-disk location of a stored attachment.
func (fs *FileStore) Path(storedID string) (string, error) {
	if err := validateStoredID(storedID); err != nil {
		return "", err
	}
	return filepath.Join(fs.dir, storedID), nil
}

// DirResolver resolves logical attachment names to files under a root
// directory on the sending side. Names may contain forward-slash
// subdirectories but must stay inside the root.
type DirResolver struct {
	Root string
}

// Resolve opens the named file and reports its size.
func (d DirResolver) Resolve(name string) (io.ReadCloser, int64, error) {
	rel, err := localizeName(name)
	if err != nil {
		return nil, 0, err
	}

	fullPath := filepath.Join(d.Root, rel)
	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("open attachment %q: %w", name, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("stat attachment %q: %w", name, err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, 0, fmt.Errorf("attachment %q: %w", name, ErrNotFound)
	}

	return f, info.Size(), nil
}

func localizeName(name string) (string, error) {
	cleaned := path.Clean(strings.TrimSpace(name))
	if cleaned == "" || cleaned == "." {
		return "", ErrUnsafeName
	}
	rel := filepath.FromSlash(cleaned)
	if !filepath.IsLocal(rel) {
		return "", ErrUnsafeName
	}
	return rel, nil
}

func validateStoredID(storedID string) error {
	if storedID == "" || strings.ContainsAny(storedID, `/\`) || storedID != filepath.Base(storedID) {
		return ErrUnsafeName
	}
	return nil
}

func safeExtension(name string) string {
	ext := path.Ext(path.Base(strings.TrimSpace(name)))
	if len(ext) > 16 || strings.ContainsAny(ext, `/\`) {
		return ""
	}
	return ext
}
