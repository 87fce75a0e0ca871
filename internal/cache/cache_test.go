package cache

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testEntry(key string, body string, now time.Time) *Entry {
	return &Entry{
		Key:        key,
		URL:        "https://cdn.example.com/" + key,
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"image/jpeg"}},
		Body:       []byte(body),
		ETag:       `"v1"`,
		StoredAt:   now,
		ExpiresAt:  now.Add(time.Hour),
	}
}

func TestStore_PutLookup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Put(ctx, testEntry("k1", "cover bytes", now)))

	got, err := s.Lookup(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("cover bytes"), got.Body)
	assert.Equal(t, http.StatusOK, got.StatusCode)
	assert.Equal(t, "image/jpeg", got.Header.Get("Content-Type"))
	assert.Equal(t, `"v1"`, got.ETag)
	assert.True(t, got.Fresh(now))
	assert.False(t, got.Fresh(now.Add(2*time.Hour)))
}

func TestStore_LookupMiss(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Lookup(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestStore_ReplaceDropsOldBlob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Put(ctx, testEntry("k", "old", now)))
	require.NoError(t, s.Put(ctx, testEntry("k", "new", now)))

	got, err := s.Lookup(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "new", string(got.Body))

	_, err = os.Stat(s.blobPath(digest([]byte("old"))))
	assert.True(t, os.IsNotExist(err), "old blob should be removed")
}

func TestStore_SharedBlobSurvivesDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Put(ctx, testEntry("a", "same", now)))
	require.NoError(t, s.Put(ctx, testEntry("b", "same", now)))
	require.NoError(t, s.Delete(ctx, "a"))

	got, err := s.Lookup(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "same", string(got.Body))
}

func TestStore_CorruptBlobIsEvicted(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, testEntry("k", "payload", time.Now())))
	require.NoError(t, os.WriteFile(s.blobPath(digest([]byte("payload"))), []byte("garbage"), 0644))

	_, err := s.Lookup(ctx, "k")
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = s.Lookup(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestStore_MissingBlobIsMiss(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, testEntry("k", "payload", time.Now())))
	require.NoError(t, os.Remove(s.blobPath(digest([]byte("payload")))))

	_, err := s.Lookup(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestStore_Refresh(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	e := testEntry("k", "body", now.Add(-2*time.Hour))
	e.ExpiresAt = now.Add(-time.Hour)
	require.NoError(t, s.Put(ctx, e))

	require.NoError(t, s.Refresh(ctx, "k", now, now.Add(time.Hour)))

	got, err := s.Lookup(ctx, "k")
	require.NoError(t, err)
	assert.True(t, got.Fresh(now))
	assert.Equal(t, "body", string(got.Body))

	assert.ErrorIs(t, s.Refresh(ctx, "missing", now, now), ErrMiss)
}

func TestStore_Prune(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	expired := testEntry("expired", "x", now.Add(-2*time.Hour))
	expired.ETag = ""
	expired.ExpiresAt = now.Add(-time.Hour)
	require.NoError(t, s.Put(ctx, expired))

	revalidatable := testEntry("stale", "y", now.Add(-2*time.Hour))
	revalidatable.ExpiresAt = now.Add(-time.Hour)
	require.NoError(t, s.Put(ctx, revalidatable))

	require.NoError(t, s.Put(ctx, testEntry("fresh", "z", now)))

	orphan := filepath.Join(s.blobDir, digest([]byte("orphan")))
	require.NoError(t, os.WriteFile(orphan, []byte("orphan"), 0644))

	n, err := s.Prune(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Lookup(ctx, "expired")
	assert.ErrorIs(t, err, ErrMiss)
	_, err = s.Lookup(ctx, "stale")
	assert.NoError(t, err)
	_, err = s.Lookup(ctx, "fresh")
	assert.NoError(t, err)

	_, err = os.Stat(orphan)
	assert.True(t, os.IsNotExist(err))
}

func TestStore_PruneKeepsBlobsBeingWritten(t *testing.T) {
	s := openTestStore(t)

	inFlight := filepath.Join(s.blobDir, blobTempPrefix+"123")
	require.NoError(t, os.WriteFile(inFlight, []byte("partial"), 0644))

	_, err := s.Prune(context.Background(), time.Now())
	require.NoError(t, err)
	assert.FileExists(t, inFlight)
}

func TestStore_ReopenKeepsEntries(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(dir, nil)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, testEntry("k", "persisted", time.Now())))
	require.NoError(t, s.Close())

	s, err = Open(dir, nil)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Lookup(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "persisted", string(got.Body))
}

func TestStore_ConcurrentPutSameKey(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	bodies := []string{"alpha", "bravo", "charlie", "delta"}
	var wg sync.WaitGroup
	for _, b := range bodies {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Put(ctx, testEntry("k", b, now)))
		}()
		go func() {
			defer wg.Done()
			got, err := s.Lookup(ctx, "k")
			if err != nil {
				return
			}
			assert.Contains(t, bodies, string(got.Body))
		}()
	}
	wg.Wait()

	got, err := s.Lookup(ctx, "k")
	require.NoError(t, err)
	assert.Contains(t, bodies, string(got.Body))
}

func TestParseCacheControl(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  Directives
	}{
		{"empty", "", Directives{}},
		{"no-store", "no-store", Directives{NoStore: true}},
		{"max-age", "public, max-age=60", Directives{MaxAge: time.Minute, HasMaxAge: true}},
		{"s-maxage wins", "max-age=60, s-maxage=120", Directives{MaxAge: 2 * time.Minute, HasMaxAge: true}},
		{"no-cache with field", `no-cache="set-cookie", max-age=60`, Directives{NoCache: true, MaxAge: time.Minute, HasMaxAge: true}},
		{"unparsable is no-store", "max-age=abc", Directives{NoStore: true}},
		{"case insensitive", "No-Cache, IMMUTABLE", Directives{NoCache: true, Immutable: true}},
		{"unknown directive ignored", "max-age=5, x-custom", Directives{MaxAge: 5 * time.Second, HasMaxAge: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseCacheControl(tt.value))
		})
	}
}

func TestFreshness_Expiry(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f := Freshness{DefaultTTL: 24 * time.Hour}

	tests := []struct {
		name     string
		status   int
		header   http.Header
		expires  time.Time
		storable bool
	}{
		{"non-200", http.StatusNotFound, http.Header{}, time.Time{}, false},
		{"no-store", 200, http.Header{"Cache-Control": {"no-store"}}, time.Time{}, false},
		{"no-cache without validator", 200, http.Header{"Cache-Control": {"no-cache"}}, now, false},
		{"no-cache with etag", 200, http.Header{"Cache-Control": {"no-cache"}, "Etag": {`"a"`}}, now, true},
		{"max-age", 200, http.Header{"Cache-Control": {"max-age=600"}}, now.Add(10 * time.Minute), true},
		{"max-age zero no validator", 200, http.Header{"Cache-Control": {"max-age=0"}}, now, false},
		{"immutable", 200, http.Header{"Cache-Control": {"immutable"}}, now.Add(immutableTTL), true},
		{"expires", 200, http.Header{"Expires": {now.Add(time.Hour).Format(http.TimeFormat)}}, now.Add(time.Hour), true},
		{"expires in past", 200, http.Header{"Expires": {now.Add(-time.Hour).Format(http.TimeFormat)}}, now, false},
		{"validators only", 200, http.Header{"Last-Modified": {now.Format(http.TimeFormat)}}, now, true},
		{"heuristic", 200, http.Header{}, now.Add(24 * time.Hour), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp, ok := f.Expiry(tt.status, tt.header, now)
			assert.Equal(t, tt.storable, ok)
			if ok {
				assert.Equal(t, tt.expires, exp)
			}
		})
	}
}

func TestRequestBypasses(t *testing.T) {
	assert.False(t, RequestBypasses(http.Header{}))
	assert.True(t, RequestBypasses(http.Header{"Cache-Control": {"no-store"}}))
	assert.True(t, RequestBypasses(http.Header{"Cache-Control": {"no-cache"}}))
	assert.True(t, RequestBypasses(http.Header{"Pragma": {"no-cache"}}))
	assert.False(t, RequestBypasses(http.Header{"Cache-Control": {"max-age=0"}}))
	assert.True(t, RequestBypasses(http.Header{"Cache-Control": {"max-age=abc"}}))
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"HTTPS://CDN.Example.com:443/a.jpg", "https://cdn.example.com/a.jpg"},
		{"http://example.com:80", "http://example.com/"},
		{"http://example.com:8080/x", "http://example.com:8080/x"},
		{"https://example.com/x?b=2&a=1#frag", "https://example.com/x?a=1&b=2"},
		{"https://[::1]:443/x", "https://[::1]/x"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeURL(tt.in))
		})
	}
}

func TestKey(t *testing.T) {
	base := Key(http.MethodGet, "https://example.com/a?x=1&y=2", http.Header{})
	assert.Equal(t, base, Key("get", "https://EXAMPLE.com/a?y=2&x=1", http.Header{}))
	assert.NotEqual(t, base, Key(http.MethodHead, "https://example.com/a?x=1&y=2", http.Header{}))
	assert.NotEqual(t, base, Key(http.MethodGet, "https://example.com/a?x=1&y=2", http.Header{"Range": {"bytes=0-10"}}))
	assert.Equal(t, base, Key(http.MethodGet, "https://example.com/a?x=1&y=2", http.Header{"User-Agent": {"tdl"}}))
}
