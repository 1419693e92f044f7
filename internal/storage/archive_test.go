package storage

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*params.Bucket+"/"+*params.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[*params.Bucket+"/"+*params.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, *params.Bucket+"/"+*params.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestArchives(t *testing.T) {
	fake := newFakeS3()
	backends := map[string]func(t *testing.T) Archive{
		"memory": func(t *testing.T) Archive { return NewMemoryArchive() },
		"bolt": func(t *testing.T) Archive {
			a, err := NewBoltArchive(filepath.Join(t.TempDir(), "nested", "logs.db"))
			require.NoError(t, err)
			return a
		},
		"s3": func(t *testing.T) Archive { return NewS3ArchiveWithClient(fake, "spi-logs", "/builds/") },
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			archive := open(t)
			t.Cleanup(func() { require.NoError(t, archive.Close()) })

			_, err := archive.Fetch(ctx, "build-logs", "missing")
			require.True(t, IsNotFound(err), "got %v", err)

			require.NoError(t, archive.Store(ctx, "build-logs", "b1", []byte("Compiling...\nBuild complete!")))
			require.NoError(t, archive.Store(ctx, "build-logs", "b1", []byte("Build complete!")))

			data, err := archive.Fetch(ctx, "build-logs", "b1")
			require.NoError(t, err)
			require.Equal(t, "Build complete!", string(data))

			_, err = archive.Fetch(ctx, "other", "b1")
			require.True(t, IsNotFound(err))

			require.NoError(t, archive.Remove(ctx, "build-logs", "b1"))
			require.NoError(t, archive.Remove(ctx, "build-logs", "b1"))
			require.NoError(t, archive.Remove(ctx, "never-created", "b1"))

			_, err = archive.Fetch(ctx, "build-logs", "b1")
			require.True(t, IsNotFound(err))
		})
	}
}

func TestS3ArchiveObjectKeys(t *testing.T) {
	fake := newFakeS3()
	archive := NewS3ArchiveWithClient(fake, "bucket", "/prefix/")
	require.NoError(t, archive.Store(t.Context(), "build-logs", "abc", []byte("x")))

	_, ok := fake.objects["bucket/prefix/build-logs/abc"]
	require.True(t, ok, "objects: %v", fake.objects)
}

func TestNewS3ArchiveRequiresBucket(t *testing.T) {
	_, err := NewS3Archive(S3Config{})
	require.Error(t, err)

	a, err := NewS3Archive(S3Config{Bucket: "logs", Endpoint: "http://localhost:9000", UsePathStyle: true, AccessKeyID: "k", SecretAccessKey: "s"})
	require.NoError(t, err)
	require.NotNil(t, a)
}

func TestBoltArchiveRequiresPath(t *testing.T) {
	_, err := NewBoltArchive("")
	require.Error(t, err)
}
