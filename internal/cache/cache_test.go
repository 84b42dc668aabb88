package cache

import (
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestLookupFileMissReturnsNotOK(t *testing.T) {
	c := newTestCache(t)
	_, ok, err := c.LookupFile("/a/b.txt", 10, 100)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected miss on empty cache")
	}
}

func TestPutThenLookupFileHit(t *testing.T) {
	c := newTestCache(t)
	want := []string{"hash1", "hash2"}
	if err := c.PutFile("/a/b.txt", 10, 100, want); err != nil {
		t.Fatal(err)
	}
	got, ok, err := c.LookupFile("/a/b.txt", 10, 100)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestLookupFileStaleMtimeMisses(t *testing.T) {
	c := newTestCache(t)
	if err := c.PutFile("/a/b.txt", 10, 100, []string{"hash1"}); err != nil {
		t.Fatal(err)
	}
	_, ok, err := c.LookupFile("/a/b.txt", 10, 200)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected stale mtime to miss")
	}
}

func TestPutFileUpsertsExistingRow(t *testing.T) {
	c := newTestCache(t)
	if err := c.PutFile("/a/b.txt", 10, 100, []string{"old"}); err != nil {
		t.Fatal(err)
	}
	if err := c.PutFile("/a/b.txt", 20, 200, []string{"new1", "new2"}); err != nil {
		t.Fatal(err)
	}
	got, ok, err := c.LookupFile("/a/b.txt", 20, 200)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(got, []string{"new1", "new2"}) {
		t.Fatalf("got %v", got)
	}
}

func TestHasRemoteRespectsDeleteEpoch(t *testing.T) {
	c := newTestCache(t)
	fixed := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return fixed }

	if err := c.PutRemote("chunk1"); err != nil {
		t.Fatal(err)
	}
	has, err := c.HasRemote("chunk1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if !has {
		t.Fatal("expected remote hit before any delete")
	}
	has, err = c.HasRemote("chunk1", fixed.Unix()+1000)
	if err != nil {
		t.Fatal(err)
	}
	if has {
		t.Fatal("expected remote entry to be invalidated by a later delete epoch")
	}
}

func TestHasRemoteMissOnUnknownChunk(t *testing.T) {
	c := newTestCache(t)
	has, err := c.HasRemote("unknown", 0)
	if err != nil {
		t.Fatal(err)
	}
	if has {
		t.Fatal("expected miss for unrecorded chunk")
	}
}
