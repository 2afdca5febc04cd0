package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 is an in-memory bucket that pages listings two keys at a time.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	failGet error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet != nil {
		return nil, f.failGet
	}
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("no such key")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if tok := aws.ToString(in.ContinuationToken); tok != "" {
		start, _ = strconv.Atoi(tok)
	}
	end := min(start+2, len(keys))
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(k),
			Size:         aws.Int64(int64(len(f.objects[k]))),
			LastModified: aws.Time(time.Unix(1700000000, 0)),
		})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}

func TestS3Storage_PrefixedObjects(t *testing.T) {
	fake := newFakeS3()
	s := NewS3StorageWithClient(fake, "bucket", "prod")
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "snapshots/ks/v1", []byte("one")))
	assert.Contains(t, fake.objects, "prod/snapshots/ks/v1")

	got, err := s.Get(ctx, "snapshots/ks/v1")
	require.NoError(t, err)
	assert.Equal(t, "one", string(got))

	_, err = s.Get(ctx, "snapshots/ks/v9")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	require.NoError(t, s.Delete(ctx, "snapshots/ks/v1"))
	assert.Empty(t, fake.objects)

	assert.ErrorIs(t, s.Put(ctx, "", nil), ErrInvalidPath)
}

func TestS3Storage_ListPages(t *testing.T) {
	fake := newFakeS3()
	s := NewS3StorageWithClient(fake, "bucket", "prod/")
	ctx := context.Background()

	for _, p := range []string{"snapshots/a/v1", "snapshots/a/v2", "snapshots/b/v1", "snapshots/c/v1", "other/x"} {
		require.NoError(t, s.Put(ctx, p, []byte(p)))
	}
	fake.objects["unrelated"] = []byte("outside the prefix")

	objects, err := s.List(ctx, "snapshots/")
	require.NoError(t, err)
	var paths []string
	for _, o := range objects {
		paths = append(paths, o.Path)
	}
	assert.Equal(t, []string{"snapshots/a/v1", "snapshots/a/v2", "snapshots/b/v1", "snapshots/c/v1"}, paths)
	assert.Equal(t, int64(len("snapshots/a/v1")), objects[0].Size)
	assert.Equal(t, time.Unix(1700000000, 0), objects[0].ModTime)
}

func TestS3Storage_ReadFailure(t *testing.T) {
	fake := newFakeS3()
	fake.failGet = errors.New("connection reset")
	s := NewS3StorageWithClient(fake, "bucket", "")

	_, err := s.Get(context.Background(), "snapshots/ks/v1")
	assert.ErrorIs(t, err, ErrReadFailed)
	assert.NotErrorIs(t, err, ErrObjectNotFound)
}
