// Package source resolves the opaque input references handed to detection
// jobs (local files, S3 objects, HTTP URLs and live cameras) without reading
// the referenced media.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Sentinel errors for source resolution.
var (
	// ErrInvalidRef indicates the reference could not be parsed.
	ErrInvalidRef = errors.New("invalid source reference")

	// ErrNotFound indicates the referenced media does not exist.
	ErrNotFound = errors.New("source not found")

	// ErrAccessDenied indicates insufficient permissions to reach the media.
	ErrAccessDenied = errors.New("source access denied")

	// ErrUnsupported indicates no backend is configured for the reference scheme.
	ErrUnsupported = errors.New("unsupported source scheme")

	// ErrUnavailable indicates the backing service could not be reached.
	ErrUnavailable = errors.New("source backend unavailable")
)

// Scheme identifies the backend that serves a reference.
type Scheme string

const (
	SchemeFile   Scheme = "file"
	SchemeS3     Scheme = "s3"
	SchemeHTTP   Scheme = "http"
	SchemeCamera Scheme = "camera"
)

// Ref is a parsed source reference.
type Ref struct {
	Raw    string
	Scheme Scheme

	// Host is the bucket for s3 refs, the host for http refs and the camera
	// id for camera refs.
	Host string

	// Path is the object key for s3 refs and the filesystem path for file refs.
	Path string
}

// Meta describes a resolved source.
type Meta struct {
	Ref          string    `json:"ref"`
	Scheme       Scheme    `json:"scheme"`
	Size         int64     `json:"size,omitempty"`
	ContentType  string    `json:"content_type,omitempty"`
	LastModified time.Time `json:"last_modified,omitempty"`

	// Live is set for streaming sources (cameras) that have no fixed size.
	Live bool `json:"live,omitempty"`
}

// Error wraps backend failures with the operation and reference.
type Error struct {
	Op     string
	Scheme Scheme
	Ref    string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Scheme, e.Op, e.Ref, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// ParseRef parses a raw reference. Bare paths are treated as file refs and
// camera refs use the form camera:<id>.
func ParseRef(raw string) (Ref, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Ref{}, fmt.Errorf("%w: empty reference", ErrInvalidRef)
	}

	if id, ok := strings.CutPrefix(raw, "camera:"); ok {
		id = strings.TrimPrefix(id, "//")
		if id == "" {
			return Ref{}, fmt.Errorf("%w: camera id is required", ErrInvalidRef)
		}
		return Ref{Raw: raw, Scheme: SchemeCamera, Host: id}, nil
	}

	if !strings.Contains(raw, "://") {
		return Ref{Raw: raw, Scheme: SchemeFile, Path: raw}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Ref{}, fmt.Errorf("%w: %v", ErrInvalidRef, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "file":
		return Ref{Raw: raw, Scheme: SchemeFile, Path: u.Path}, nil
	case "s3":
		key := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || key == "" {
			return Ref{}, fmt.Errorf("%w: s3 reference needs bucket and key", ErrInvalidRef)
		}
		return Ref{Raw: raw, Scheme: SchemeS3, Host: u.Host, Path: key}, nil
	case "http", "https":
		if u.Host == "" {
			return Ref{}, fmt.Errorf("%w: http reference needs a host", ErrInvalidRef)
		}
		return Ref{Raw: raw, Scheme: SchemeHTTP, Host: u.Host, Path: u.Path}, nil
	case "rtsp":
		return Ref{Raw: raw, Scheme: SchemeCamera, Host: u.Host}, nil
	default:
		return Ref{}, fmt.Errorf("%w: %s", ErrUnsupported, u.Scheme)
	}
}

// Backend resolves references of one scheme.
type Backend interface {
	Stat(ctx context.Context, ref Ref) (Meta, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, ref Ref) (Meta, error)

func (f BackendFunc) Stat(ctx context.Context, ref Ref) (Meta, error) {
	return f(ctx, ref)
}

// Resolver dispatches references to the backend registered for their scheme.
type Resolver struct {
	backends map[Scheme]Backend
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithBackend registers (or replaces) the backend for scheme.
func WithBackend(scheme Scheme, b Backend) Option {
	return func(r *Resolver) {
		r.backends[scheme] = b
	}
}

// NewResolver creates a resolver with the file, camera and http backends.
// S3 is only available when registered with WithBackend.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{backends: map[Scheme]Backend{
		SchemeFile:   FileBackend{},
		SchemeCamera: BackendFunc(statCamera),
		SchemeHTTP:   BackendFunc(statHTTP),
	}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Stat resolves raw and returns its metadata.
func (r *Resolver) Stat(ctx context.Context, raw string) (Meta, error) {
	ref, err := ParseRef(raw)
	if err != nil {
		return Meta{}, err
	}
	b, ok := r.backends[ref.Scheme]
	if !ok || b == nil {
		return Meta{}, &Error{Op: "Stat", Scheme: ref.Scheme, Ref: ref.Raw, Err: ErrUnsupported}
	}
	if err := ctx.Err(); err != nil {
		return Meta{}, err
	}
	return b.Stat(ctx, ref)
}

func statCamera(_ context.Context, ref Ref) (Meta, error) {
	return Meta{Ref: ref.Raw, Scheme: SchemeCamera, Live: true}, nil
}

// statHTTP accepts remote URLs without fetching them; the inference backend
// that consumes the URL reports its own failures.
func statHTTP(_ context.Context, ref Ref) (Meta, error) {
	return Meta{Ref: ref.Raw, Scheme: SchemeHTTP}, nil
}
