package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// ErrFileMissing is returned when the local file to upload does not exist.
var ErrFileMissing = errors.New("local file not found")

// Uploader pushes a local file to remote storage and returns its remote id.
type Uploader interface {
	Upload(ctx context.Context, path string) (string, error)
}

// Drive uploads into a fixed Google Drive folder.
type Drive struct {
	svc      *drive.Service
	folderID string
}

// NewDrive builds a Drive uploader authorized by a service account file.
// Extra options are appended after the credentials, which lets tests point
// the client at a fake endpoint.
func NewDrive(ctx context.Context, credentialsFile, folderID string, opts ...option.ClientOption) (*Drive, error) {
	base := []option.ClientOption{option.WithScopes(drive.DriveFileScope)}
	if credentialsFile != "" {
		base = append(base, option.WithCredentialsFile(credentialsFile))
	}
	svc, err := drive.NewService(ctx, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("drive service: %w", err)
	}
	return &Drive{svc: svc, folderID: folderID}, nil
}

func (d *Drive) Upload(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%s: %w", path, ErrFileMissing)
		}
		return "", err
	}
	defer f.Close()

	meta := &drive.File{Name: filepath.Base(path)}
	if d.folderID != "" {
		meta.Parents = []string{d.folderID}
	}
	created, err := d.svc.Files.Create(meta).Media(f).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("drive upload %s: %w", filepath.Base(path), err)
	}
	log.Printf("drive upload name=%s id=%s", meta.Name, created.Id)
	return created.Id, nil
}

// UploadAll uploads every existing path and skips missing ones. It returns
// the remote ids of the files that made it and the joined upload errors.
func UploadAll(ctx context.Context, up Uploader, paths []string) ([]string, error) {
	var ids []string
	var errs []error
	for _, p := range paths {
		id, err := up.Upload(ctx, p)
		if errors.Is(err, ErrFileMissing) {
			log.Printf("upload skipped, file %s not found", p)
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ids = append(ids, id)
	}
	return ids, errors.Join(errs...)
}
