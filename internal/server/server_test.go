package server

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"mbackup/internal/auth"
	"mbackup/internal/store"
)

var (
	testBucket = strings.Repeat("0a", 32)
	testHash   = strings.Repeat("ab", 32)
)

func mustUser(t *testing.T, name, password string, level auth.Level) auth.User {
	t.Helper()
	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatal(err)
	}
	return auth.User{Name: name, PasswordHash: hash, Level: level}
}

func newTestServer(t *testing.T) (*Server, *http.ServeMux) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "store.db"), dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	users := auth.NewUsers([]auth.User{
		mustUser(t, "getter", "pw", auth.Get),
		mustUser(t, "putter", "pw", auth.Put),
		mustUser(t, "deleter", "pw", auth.Delete),
	})

	s := New(Config{Users: users, Store: st})
	return s, s.buildMux()
}

func doReq(mux *http.ServeMux, method, path, user, pass, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if user != "" {
		req.SetBasicAuth(user, pass)
	}
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func TestPutHeadGetChunkRoundTrip(t *testing.T) {
	_, mux := newTestServer(t)
	path := "/chunks/" + testBucket + "/" + testHash

	rr := doReq(mux, "PUT", path, "putter", "pw", "hello")
	if rr.Code != http.StatusOK {
		t.Fatalf("PUT status = %d, body = %s", rr.Code, rr.Body)
	}

	rr = doReq(mux, "HEAD", path, "putter", "pw", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("HEAD status = %d", rr.Code)
	}

	rr = doReq(mux, "GET", path, "getter", "pw", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("GET status = %d", rr.Code)
	}
	if rr.Body.String() != "hello" {
		t.Fatalf("GET body = %q", rr.Body.String())
	}
}

func TestPutDuplicateReturns409(t *testing.T) {
	_, mux := newTestServer(t)
	path := "/chunks/" + testBucket + "/" + testHash

	doReq(mux, "PUT", path, "putter", "pw", "hello")
	rr := doReq(mux, "PUT", path, "putter", "pw", "hello")
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rr.Code)
	}
}

// A Put-level user also satisfies a Get-level requirement: access levels are
// totally ordered and higher includes lower.
func TestGetAllowsHigherLevelUser(t *testing.T) {
	_, mux := newTestServer(t)
	path := "/chunks/" + testBucket + "/" + testHash
	doReq(mux, "PUT", path, "putter", "pw", "hello")

	rr := doReq(mux, "GET", path, "putter", "pw", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

func TestHeadRequiresPutGetUserRejected(t *testing.T) {
	_, mux := newTestServer(t)
	path := "/chunks/" + testBucket + "/" + testHash
	doReq(mux, "PUT", path, "putter", "pw", "hello")

	rr := doReq(mux, "HEAD", path, "getter", "pw", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestFailedAuthRateLimitingIgnoresGoodCredentials(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "store.db"), dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	users := auth.NewUsers([]auth.User{mustUser(t, "getter", "pw", auth.Get)})
	s := New(Config{Users: users, Store: st, RateLimit: 5, RateBurst: 1})
	mux := s.buildMux()

	path := "/roots/" + testBucket
	for i := 0; i < 10; i++ {
		rr := doReq(mux, "GET", path, "getter", "pw", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200 (correct credentials must never be rate-limited)", i, rr.Code)
		}
	}
}

func TestFailedAuthRateLimitingThrottlesRepeatedBadCredentials(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "store.db"), dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	users := auth.NewUsers([]auth.User{mustUser(t, "getter", "pw", auth.Get)})
	s := New(Config{Users: users, Store: st, RateLimit: 5, RateBurst: 1})
	mux := s.buildMux()

	path := "/roots/" + testBucket
	first := doReq(mux, "GET", path, "getter", "wrong", "")
	if first.Code != http.StatusUnauthorized {
		t.Fatalf("first bad attempt: status = %d, want 401", first.Code)
	}

	second := doReq(mux, "GET", path, "getter", "wrong", "")
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second bad attempt within the burst window: status = %d, want 429", second.Code)
	}
}

func TestBadIdentifierRejected(t *testing.T) {
	_, mux := newTestServer(t)
	rr := doReq(mux, "GET", "/chunks/short/"+testHash, "getter", "pw", "")
	if rr.Code != http.StatusUnauthorized && rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestBulkDeletePartialMissing(t *testing.T) {
	_, mux := newTestServer(t)
	h1 := testHash
	h2 := strings.Repeat("11", 32)
	doReq(mux, "PUT", "/chunks/"+testBucket+"/"+h1, "putter", "pw", "a")
	doReq(mux, "PUT", "/chunks/"+testBucket+"/"+h2, "putter", "pw", "b")

	missing := strings.Repeat("22", 32)
	body := h1 + "\x00" + h2 + "\x00" + missing
	rr := doReq(mux, "DELETE", "/chunks/"+testBucket, "deleter", "pw", body)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}

	rr = doReq(mux, "HEAD", "/chunks/"+testBucket+"/"+h1, "putter", "pw", "")
	if rr.Code != http.StatusNotFound {
		t.Fatal("expected h1 deleted despite partial failure")
	}
}

func TestStatusAdvancesAfterDelete(t *testing.T) {
	_, mux := newTestServer(t)
	path := "/chunks/" + testBucket + "/" + testHash
	doReq(mux, "PUT", path, "putter", "pw", "hello")

	before := doReq(mux, "GET", "/status/"+testBucket, "putter", "pw", "").Body.String()
	doReq(mux, "DELETE", path, "deleter", "pw", "")
	after := doReq(mux, "GET", "/status/"+testBucket, "putter", "pw", "").Body.String()

	if before == after {
		t.Fatalf("expected delete epoch to advance: before=%s after=%s", before, after)
	}
}

func TestRootRoundTrip(t *testing.T) {
	_, mux := newTestServer(t)
	rr := doReq(mux, "PUT", "/roots/"+testBucket+"/myhost", "putter", "pw", testHash)
	if rr.Code != http.StatusOK {
		t.Fatalf("PUT root status = %d", rr.Code)
	}
	rr = doReq(mux, "GET", "/roots/"+testBucket, "getter", "pw", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("GET roots status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "myhost") || !strings.Contains(rr.Body.String(), testHash) {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}
}

func TestListChunksValidateAllowsGetLevel(t *testing.T) {
	_, mux := newTestServer(t)
	path := "/chunks/" + testBucket + "/" + testHash
	doReq(mux, "PUT", path, "putter", "pw", "hello")

	rr := doReq(mux, "GET", "/chunks/"+testBucket+"?validate", "getter", "pw", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	rr = doReq(mux, "GET", "/chunks/"+testBucket, "getter", "pw", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected Get-level user rejected without ?validate, got %d", rr.Code)
	}
}
