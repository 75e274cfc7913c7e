package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ovaphlow/pitchfork/service-collab-go/pkg/utilities"
)

// Store is the opaque blob storage collaborator: upload a local file,
// get back a serving URL and an id usable for later deletion.
type Store interface {
	Upload(ctx context.Context, path string) (url string, id string, err error)
	Delete(ctx context.Context, id string) error
}

// LocalStore is the development implementation backed by a directory
// served under BaseURL. It stands in for the external object store.
type LocalStore struct {
	Dir     string
	BaseURL string
}

func (s LocalStore) Upload(ctx context.Context, path string) (string, string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", "", fmt.Errorf("open upload source: %w", err)
	}
	defer src.Close()

	id := utilities.NewKSUID() + filepath.Ext(path)
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", "", err
	}
	dst, err := os.Create(filepath.Join(s.Dir, id))
	if err != nil {
		return "", "", err
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return "", "", err
	}
	return s.BaseURL + "/" + id, id, nil
}

func (s LocalStore) Delete(ctx context.Context, id string) error {
	// ignore missing files so delete stays idempotent
	err := os.Remove(filepath.Join(s.Dir, filepath.Base(id)))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
