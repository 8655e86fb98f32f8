package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"pdf-rag/internal/helper"
	"pdf-rag/internal/models"
)

// FileStore keeps the original uploaded bytes on disk as <root>/<scope>/<filename>.
type FileStore struct {
	root string
}

// StoredFile names one document held by the store.
type StoredFile struct {
	Scope    string
	Filename string
}

func NewFileStore(root string) (*FileStore, error) {
	if err := helper.CreateFolder(root); err != nil {
		return nil, models.NewError(models.KindConfig, "storage.new", err)
	}
	return &FileStore{root: root}, nil
}

// ValidName rejects names that could escape the store directory.
func ValidName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return models.Errorf(models.KindInvalidRequest, "storage.name", "invalid name %q", name)
	}
	return nil
}

func (s *FileStore) path(scope, filename string) (string, error) {
	if err := ValidName(scope); err != nil {
		return "", err
	}
	if err := ValidName(filename); err != nil {
		return "", err
	}
	return filepath.Join(s.root, scope, filename), nil
}

// Save writes data through a temporary file so readers never see a partial document.
func (s *FileStore) Save(scope, filename string, data []byte) error {
	const op = "storage.save"
	p, err := s.path(scope, filename)
	if err != nil {
		return err
	}
	if err := helper.CreateFolder(filepath.Dir(p)); err != nil {
		return models.NewError(models.KindStore, op, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return models.NewError(models.KindStore, op, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return models.NewError(models.KindStore, op, err)
	}
	if err := tmp.Close(); err != nil {
		return models.NewError(models.KindStore, op, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return models.NewError(models.KindStore, op, err)
	}
	return nil
}

func (s *FileStore) Read(scope, filename string) ([]byte, error) {
	p, err := s.path(scope, filename)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, models.Errorf(models.KindNotFound, "storage.read", "document %s not found", models.DocumentID(scope, filename))
	}
	if err != nil {
		return nil, models.NewError(models.KindStore, "storage.read", err)
	}
	return data, nil
}

// Delete removes a stored file. A missing file is not an error.
func (s *FileStore) Delete(scope, filename string) error {
	p, err := s.path(scope, filename)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return models.NewError(models.KindStore, "storage.delete", err)
	}
	return nil
}

// List returns every stored document ordered by scope then filename.
func (s *FileStore) List() ([]StoredFile, error) {
	scopes, err := os.ReadDir(s.root)
	if err != nil {
		return nil, models.NewError(models.KindStore, "storage.list", err)
	}
	var out []StoredFile
	for _, scope := range scopes {
		if !scope.IsDir() {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(s.root, scope.Name()))
		if err != nil {
			return nil, models.NewError(models.KindStore, "storage.list", fmt.Errorf("scope %s: %w", scope.Name(), err))
		}
		for _, e := range entries {
			if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
				continue
			}
			out = append(out, StoredFile{Scope: scope.Name(), Filename: e.Name()})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Scope != out[j].Scope {
			return out[i].Scope < out[j].Scope
		}
		return out[i].Filename < out[j].Filename
	})
	return out, nil
}
