package features

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ricesearch/mcqa/internal/config"
	"github.com/ricesearch/mcqa/internal/pkg/logger"
)

// fakeS3 serves the path-style GetObject, PutObject and DeleteObjects calls
// S3Store makes, for a single bucket.
type fakeS3 struct {
	bucket string

	mu      sync.Mutex
	objects map[string][]byte
	deletes int
}

func newFakeS3(bucket string) *fakeS3 {
	return &fakeS3{bucket: bucket, objects: make(map[string][]byte)}
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	prefix := "/" + f.bucket
	if !strings.HasPrefix(r.URL.Path, prefix) {
		writeS3Error(w, http.StatusNotFound, "NoSuchBucket")
		return
	}
	key := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, prefix), "/")

	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodGet:
		data, ok := f.objects[key]
		if !ok {
			writeS3Error(w, http.StatusNotFound, "NoSuchKey")
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Write(data)

	case r.Method == http.MethodPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			writeS3Error(w, http.StatusBadRequest, "IncompleteBody")
			return
		}
		f.objects[key] = data
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)

	case r.Method == http.MethodPost && r.URL.Query().Has("delete"):
		var req struct {
			Objects []struct {
				Key string `xml:"Key"`
			} `xml:"Object"`
		}
		if err := xml.NewDecoder(r.Body).Decode(&req); err != nil {
			writeS3Error(w, http.StatusBadRequest, "MalformedXML")
			return
		}
		f.deletes++
		for _, o := range req.Objects {
			delete(f.objects, o.Key)
		}
		w.Header().Set("Content-Type", "application/xml")
		io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><DeleteResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/"></DeleteResult>`)

	default:
		writeS3Error(w, http.StatusMethodNotAllowed, "MethodNotAllowed")
	}
}

func (f *fakeS3) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	return keys
}

func writeS3Error(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>`+code+`</Code><Message>`+code+`</Message><RequestId>test</RequestId></Error>`)
}

func newTestS3Store(t *testing.T, fake *fakeS3) *S3Store {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	s, err := NewS3Store(context.Background(), config.CacheConfig{
		S3Bucket:    fake.bucket,
		S3Prefix:    "mcqa/features",
		S3Endpoint:  srv.URL,
		S3Region:    "us-east-1",
		S3AccessKey: "test",
		S3SecretKey: "test",
	})
	if err != nil {
		t.Fatalf("NewS3Store() error = %v", err)
	}
	return s
}

func TestS3Store(t *testing.T) {
	fake := newFakeS3("artifacts")
	s := newTestS3Store(t, fake)

	exerciseStore(t, s)

	if fake.deletes != 1 {
		t.Errorf("delete requests = %d, want 1 batch", fake.deletes)
	}
}

func TestS3Store_KeysArePrefixed(t *testing.T) {
	fake := newFakeS3("artifacts")
	s := newTestS3Store(t, fake)

	if err := s.Put(context.Background(), "train_manifest.yaml", []byte("split: train\n")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	keys := fake.keys()
	if len(keys) != 1 || keys[0] != "mcqa/features/train_manifest.yaml" {
		t.Errorf("stored keys = %v, want [mcqa/features/train_manifest.yaml]", keys)
	}
}

func TestS3Store_CacheMissThenHit(t *testing.T) {
	fake := newFakeS3("artifacts")
	emb := &fakeEmbedder{dim: 3}
	cache := NewCache(newTestS3Store(t, fake), emb, config.EmbedConfig{Workers: 2}, logger.Discard())
	records := testRecords(3)
	ctx := context.Background()

	if _, err := cache.LoadOrCompute(ctx, "train", records); err != nil {
		t.Fatalf("first LoadOrCompute() error = %v", err)
	}
	if _, err := cache.LoadOrCompute(ctx, "train", records); err != nil {
		t.Fatalf("second LoadOrCompute() error = %v", err)
	}
	if got := emb.calls.Load(); got != 3 {
		t.Errorf("embed calls = %d, want 3 (second load served from S3)", got)
	}
}

func TestS3Store_OtherErrorsAreNotMisses(t *testing.T) {
	fake := newFakeS3("artifacts")
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	s, err := NewS3Store(context.Background(), config.CacheConfig{
		S3Bucket:    "missing-bucket",
		S3Endpoint:  srv.URL,
		S3AccessKey: "test",
		S3SecretKey: "test",
	})
	if err != nil {
		t.Fatalf("NewS3Store() error = %v", err)
	}

	_, err = s.Get(context.Background(), "train_cq.txt")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("Get() from missing bucket error = %v, want a non-miss error", err)
	}
}
