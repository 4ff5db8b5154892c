package results

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

const blobScheme = "blob:"

type Blob struct {
	Data        []byte
	ContentType string
}

// ObjectURLs hands out transient URLs for in-memory content. Every URL stays resolvable
// until it is revoked; forgetting to revoke leaks the content for the life of the process.
type ObjectURLs struct {
	mu    sync.Mutex
	blobs map[string]Blob
}

func NewObjectURLs() *ObjectURLs {
	return &ObjectURLs{blobs: make(map[string]Blob)}
}

func (o *ObjectURLs) Create(data []byte, contentType string) string {
	id := uuid.New().String()
	o.mu.Lock()
	o.blobs[id] = Blob{Data: data, ContentType: contentType}
	o.mu.Unlock()
	return blobScheme + id
}

// Revoke releases url and reports whether it was live. Revoking twice is harmless.
func (o *ObjectURLs) Revoke(url string) bool {
	id, ok := BlobID(url)
	if !ok {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, live := o.blobs[id]; !live {
		return false
	}
	delete(o.blobs, id)
	return true
}

func (o *ObjectURLs) Resolve(url string) (Blob, bool) {
	id, ok := BlobID(url)
	if !ok {
		return Blob{}, false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	b, live := o.blobs[id]
	return b, live
}

// Len is the number of live URLs.
func (o *ObjectURLs) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.blobs)
}

// BlobID extracts the id from a blob: URL.
func BlobID(url string) (string, bool) {
	if !strings.HasPrefix(url, blobScheme) {
		return "", false
	}
	id := strings.TrimPrefix(url, blobScheme)
	return id, id != ""
}

func IsBlobURL(url string) bool {
	_, ok := BlobID(url)
	return ok
}
