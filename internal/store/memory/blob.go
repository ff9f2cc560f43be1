package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mohammednour-ai/MatEx-sub001/internal/domain"
)

type blobObject struct {
	data        []byte
	contentType string
	modified    time.Time
}

// Blobs is an in-process object store used when no S3 bucket is configured.
type Blobs struct {
	mu      sync.Mutex
	objects map[string]blobObject
}

// NewBlobs creates an empty Blobs.
func NewBlobs() *Blobs {
	return &Blobs{objects: make(map[string]blobObject)}
}

func (b *Blobs) put(path string, data io.Reader, contentType string) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("memory: read blob %s: %w", path, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[path] = blobObject{data: buf, contentType: contentType, modified: time.Now().UTC()}
	return nil
}

func (b *Blobs) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	return b.put(path, data, contentType)
}

func (b *Blobs) PutMultipart(_ context.Context, path string, data io.Reader, _ int64) error {
	return b.put(path, data, "application/x-ndjson")
}

func (b *Blobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	obj, ok := b.objects[path]
	if !ok {
		return nil, fmt.Errorf("memory: get %s: %w", path, domain.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

// List returns objects under prefix sorted by path.
func (b *Blobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.BlobInfo
	for path, obj := range b.objects {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		out = append(out, domain.BlobInfo{
			Path:         path,
			Size:         int64(len(obj.data)),
			ContentType:  obj.contentType,
			LastModified: obj.modified,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (b *Blobs) Exists(_ context.Context, path string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[path]
	return ok, nil
}

var (
	_ domain.BlobWriter = (*Blobs)(nil)
	_ domain.BlobReader = (*Blobs)(nil)
)
