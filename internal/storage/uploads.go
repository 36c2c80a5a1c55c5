package storage

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
)

// UploadStore materializes incoming image payloads as files whose lifetime is
// bounded to a single request. Callers must Remove every saved path on every
// exit path, typically via defer.
type UploadStore struct {
	dir string
}

func NewUploadStore(dir string) (*UploadStore, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "worm-uploads")
	}
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("failed to create upload dir %s: %w", dir, err)
	}
	return &UploadStore{dir: dir}, nil
}

// SaveMultipart persists an uploaded file part verbatim under its original
// filename. The name is reduced to its base to keep writes inside the store.
func (s *UploadStore) SaveMultipart(file multipart.File, header *multipart.FileHeader) (string, error) {
	name := filepath.Base(header.Filename)
	if name == "." || name == string(filepath.Separator) {
		name = "upload"
	}
	path := filepath.Join(s.dir, name)

	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write upload file: %w", err)
	}

	return path, nil
}

// SaveRaw persists a raw image body as a generic image file. The suffix is
// cosmetic: the decoder sniffs the real format.
func (s *UploadStore) SaveRaw(body io.Reader) (string, error) {
	f, err := os.CreateTemp(s.dir, "upload-*.jpg")
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, body); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write upload file: %w", err)
	}

	return f.Name(), nil
}

// Remove deletes a previously saved upload. An already-missing file is not an
// error so that cleanup can run unconditionally.
func (s *UploadStore) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
