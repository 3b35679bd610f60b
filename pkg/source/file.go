package source

import (
	"context"
	"errors"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
)

// FileBackend resolves local filesystem paths.
type FileBackend struct{}

func (FileBackend) Stat(_ context.Context, ref Ref) (Meta, error) {
	info, err := os.Stat(ref.Path)
	if err != nil {
		wrapped := &Error{Op: "Stat", Scheme: SchemeFile, Ref: ref.Raw, Err: err}
		switch {
		case errors.Is(err, fs.ErrNotExist):
			wrapped.Err = ErrNotFound
		case errors.Is(err, fs.ErrPermission):
			wrapped.Err = ErrAccessDenied
		}
		return Meta{}, wrapped
	}
	if info.IsDir() {
		return Meta{}, &Error{Op: "Stat", Scheme: SchemeFile, Ref: ref.Raw, Err: ErrInvalidRef}
	}

	return Meta{
		Ref:          ref.Raw,
		Scheme:       SchemeFile,
		Size:         info.Size(),
		ContentType:  mime.TypeByExtension(filepath.Ext(ref.Path)),
		LastModified: info.ModTime().UTC(),
	}, nil
}
