package archive

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/richinsley/viewcomfy/config"
	"github.com/richinsley/viewcomfy/results"
)

func job(id, url string) *results.Job {
	secs := 1.5
	return &results.Job{
		PromptID:             id,
		Status:               results.StatusCompleted,
		Outputs:              []results.Output{{Name: "a.png", ContentType: "image/png", Source: results.RemoteRef{URL: url}}},
		ExecutionTimeSeconds: &secs,
	}
}

// exercise runs the behaviour every Archive must share.
func exercise(t *testing.T, a Archive) {
	t.Helper()
	ctx := context.Background()

	created, err := a.Record(ctx, job("p1", "https://cdn/first.png"))
	if err != nil || !created {
		t.Fatalf("Record(p1) = %v, %v", created, err)
	}
	created, err = a.Record(ctx, job("p1", "https://cdn/second.png"))
	if err != nil || created {
		t.Fatalf("Expected the duplicate to be ignored, got %v, %v", created, err)
	}
	if _, err := a.Record(ctx, job("p2", "https://cdn/p2.png")); err != nil {
		t.Fatalf("Record(p2) failed: %v", err)
	}
	errJob := &results.Job{PromptID: "p3", Status: results.StatusError, ErrorMessage: "CUDA out of memory", Outputs: []results.Output{}}
	if _, err := a.Record(ctx, errJob); err != nil {
		t.Fatalf("Record(p3) failed: %v", err)
	}

	got, err := a.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("Get(p1) failed: %v", err)
	}
	ref, ok := got.Outputs[0].Source.(results.RemoteRef)
	if !ok || ref.URL != "https://cdn/first.png" {
		t.Errorf("Expected the first record to win, got %+v", got.Outputs)
	}
	if got.ExecutionTimeSeconds == nil || *got.ExecutionTimeSeconds != 1.5 {
		t.Errorf("Expected the execution time to survive, got %v", got.ExecutionTimeSeconds)
	}

	if _, err := a.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	list, err := a.List(ctx, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 3 || list[0].PromptID != "p3" || list[2].PromptID != "p1" {
		t.Errorf("Expected newest first, got %v", ids(list))
	}
	if list[0].Status != results.StatusError || list[0].ErrorMessage != "CUDA out of memory" {
		t.Errorf("Unexpected error job %+v", list[0])
	}

	list, err = a.List(ctx, 2)
	if err != nil || len(list) != 2 || list[0].PromptID != "p3" {
		t.Errorf("Expected the 2 newest, got %v, %v", ids(list), err)
	}
}

func ids(jobs []*results.Job) []string {
	out := make([]string, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.PromptID)
	}
	return out
}

func TestSQLiteArchive(t *testing.T) {
	a, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "nested", "archive.db"))
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	defer a.Close()
	exercise(t, a)
}

func TestSQLiteArchiveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")
	ctx := context.Background()

	a, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	a.Record(ctx, job("p1", "u"))
	a.Close()

	a, err = OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer a.Close()
	if created, _ := a.Record(ctx, job("p1", "other")); created {
		t.Error("Expected the record to persist across reopen")
	}
}

// fakeRedis is an in-memory RedisClient.
type fakeRedis struct {
	mu     sync.Mutex
	values map[string]string
	zset   map[string]float64
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, zset: map[string]float64{}}
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.values[key]; ok {
		return false, nil
	}
	switch v := value.(type) {
	case []byte:
		f.values[key] = string(v)
	case string:
		f.values[key] = v
	}
	return true, nil
}

func (f *fakeRedis) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	if !ok {
		return "", redis.Nil // Simulate key not found
	}
	return v, nil
}

func (f *fakeRedis) ZAdd(ctx context.Context, key string, score float64, member string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.zset[member] = score
	return nil
}

func (f *fakeRedis) ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	members := make([]string, 0, len(f.zset))
	for m := range f.zset {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool { return f.zset[members[i]] > f.zset[members[j]] })
	if stop < 0 || stop >= int64(len(members)) {
		stop = int64(len(members)) - 1
	}
	if start > stop {
		return []string{}, nil
	}
	return members[start : stop+1], nil
}

func (f *fakeRedis) ZRem(ctx context.Context, key string, member string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.zset, member)
	return nil
}

func (f *fakeRedis) Close() error { return nil }

func TestRedisArchive(t *testing.T) {
	a := NewRedisArchive(newFakeRedis(), time.Hour)
	tick := time.Unix(1700000000, 0)
	a.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	exercise(t, a)
}

func TestRedisArchivePrunesExpired(t *testing.T) {
	f := newFakeRedis()
	a := NewRedisArchive(f, time.Minute)
	ctx := context.Background()
	a.Record(ctx, job("p1", "u"))

	// simulate expiry of the record but not the index
	f.mu.Lock()
	delete(f.values, resultKeyPrefix+"p1")
	f.mu.Unlock()

	list, err := a.List(ctx, 0)
	if err != nil || len(list) != 0 {
		t.Fatalf("Expected no jobs, got %v, %v", ids(list), err)
	}
	if len(f.zset) != 0 {
		t.Error("Expected the stale index entry to be pruned")
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	a, err := Open(ctx, config.ArchiveConfig{})
	if err != nil || a != nil {
		t.Errorf("Expected no archive without a driver, got %v, %v", a, err)
	}
	if _, err := Open(ctx, config.ArchiveConfig{Driver: "mongo"}); err == nil {
		t.Error("Expected an unknown driver to fail")
	}
	a, err = Open(ctx, config.ArchiveConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "a.db")})
	if err != nil || a == nil {
		t.Fatalf("Expected a sqlite archive, got %v", err)
	}
	a.Close()
}

func TestRecorder(t *testing.T) {
	a := NewRedisArchive(newFakeRedis(), 0)
	hook := Recorder(a, zerolog.Nop())
	hook(context.Background(), job("p1", "u"))
	hook(context.Background(), job("p1", "u"))
	if list, _ := a.List(context.Background(), 0); len(list) != 1 {
		t.Errorf("Expected one archived job, got %d", len(list))
	}
}
