package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRef(t *testing.T) {
	tests := []struct {
		raw     string
		scheme  Scheme
		host    string
		path    string
		wantErr error
	}{
		{raw: "videos/clip.mp4", scheme: SchemeFile, path: "videos/clip.mp4"},
		{raw: "file:///tmp/clip.mp4", scheme: SchemeFile, path: "/tmp/clip.mp4"},
		{raw: "s3://footage/2026/03/entrance.mp4", scheme: SchemeS3, host: "footage", path: "2026/03/entrance.mp4"},
		{raw: "https://cdn.example.com/a.mp4", scheme: SchemeHTTP, host: "cdn.example.com", path: "/a.mp4"},
		{raw: "camera:lobby-2", scheme: SchemeCamera, host: "lobby-2"},
		{raw: "rtsp://10.0.0.5/stream1", scheme: SchemeCamera, host: "10.0.0.5"},
		{raw: "", wantErr: ErrInvalidRef},
		{raw: "camera:", wantErr: ErrInvalidRef},
		{raw: "s3://bucket-only", wantErr: ErrInvalidRef},
		{raw: "ftp://host/file", wantErr: ErrUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			ref, err := ParseRef(tt.raw)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.scheme, ref.Scheme)
			assert.Equal(t, tt.host, ref.Host)
			assert.Equal(t, tt.path, ref.Path)
		})
	}
}

func TestResolver_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("not really a video"), 0o644))

	r := NewResolver()

	meta, err := r.Stat(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, SchemeFile, meta.Scheme)
	assert.Equal(t, int64(18), meta.Size)
	assert.Equal(t, "video/mp4", meta.ContentType)

	_, err = r.Stat(context.Background(), filepath.Join(dir, "missing.mp4"))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = r.Stat(context.Background(), dir)
	assert.ErrorIs(t, err, ErrInvalidRef)
}

func TestResolver_CameraAndHTTP(t *testing.T) {
	r := NewResolver()

	meta, err := r.Stat(context.Background(), "camera:main-entrance")
	require.NoError(t, err)
	assert.True(t, meta.Live)

	meta, err = r.Stat(context.Background(), "https://example.com/upload/123.mp4")
	require.NoError(t, err)
	assert.Equal(t, SchemeHTTP, meta.Scheme)
}

func TestResolver_S3WithoutBackend(t *testing.T) {
	r := NewResolver()
	_, err := r.Stat(context.Background(), "s3://bucket/key.mp4")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestResolver_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewResolver().Stat(ctx, "camera:x")
	assert.ErrorIs(t, err, context.Canceled)
}

type fakeHead struct {
	out *s3.HeadObjectOutput
	err error
	got *s3.HeadObjectInput
}

func (f *fakeHead) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.got = in
	return f.out, f.err
}

func TestS3Backend_Stat(t *testing.T) {
	modified := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	fake := &fakeHead{out: &s3.HeadObjectOutput{
		ContentLength: aws.Int64(2048),
		ContentType:   aws.String("video/mp4"),
		LastModified:  aws.Time(modified),
	}}
	r := NewResolver(WithBackend(SchemeS3, &S3Backend{client: fake}))

	meta, err := r.Stat(context.Background(), "s3://footage/cam1/clip.mp4")
	require.NoError(t, err)
	assert.Equal(t, "footage", aws.ToString(fake.got.Bucket))
	assert.Equal(t, "cam1/clip.mp4", aws.ToString(fake.got.Key))
	assert.Equal(t, int64(2048), meta.Size)
	assert.Equal(t, modified, meta.LastModified)
}

func TestS3Backend_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"typed not found", &types.NotFound{}, ErrNotFound},
		{"api access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, ErrAccessDenied},
		{"api throttled", &smithy.GenericAPIError{Code: "SlowDown"}, ErrUnavailable},
		{"message 404", errors.New("StatusCode: 404"), ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &S3Backend{client: &fakeHead{err: tt.err}}
			_, err := b.Stat(context.Background(), Ref{Raw: "s3://b/k", Scheme: SchemeS3, Host: "b", Path: "k"})
			assert.ErrorIs(t, err, tt.want)

			var srcErr *Error
			require.ErrorAs(t, err, &srcErr)
			assert.Equal(t, SchemeS3, srcErr.Scheme)
		})
	}
}

func TestS3Config_Validate(t *testing.T) {
	assert.NoError(t, S3Config{}.Validate())
	assert.NoError(t, S3Config{AccessKeyID: "a", SecretAccessKey: "b"}.Validate())
	assert.Error(t, S3Config{AccessKeyID: "a"}.Validate())
}

func TestResolveRegion(t *testing.T) {
	assert.Equal(t, "eu-west-1", resolveRegion("", "eu-west-1"))
	assert.Equal(t, DefaultAWSRegion, resolveRegion("", ""))
	assert.Equal(t, "", resolveRegion("http://localhost:9000", ""))
}
