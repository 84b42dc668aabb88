package chunkmodel

import (
	"math/rand"
	"testing"
)

func TestSerializeOrderIndependence(t *testing.T) {
	a := []DirEnt{
		{Name: "b.txt", EType: File, Content: "h2", Size: 2},
		{Name: "a.txt", EType: File, Content: "h1", Size: 1},
	}
	b := []DirEnt{
		{Name: "a.txt", EType: File, Content: "h1", Size: 1},
		{Name: "b.txt", EType: File, Content: "h2", Size: 2},
	}

	// Shuffle a to simulate arbitrary filesystem enumeration order.
	rand.Shuffle(len(a), func(i, j int) { a[i], a[j] = a[j], a[i] })

	SortEntries(a)
	SortEntries(b)

	sa := Serialize(a)
	sb := Serialize(b)
	if string(sa) != string(sb) {
		t.Fatalf("serialization depends on pre-sort order:\n%q\n%q", sa, sb)
	}
}

func TestSerializeFieldOrder(t *testing.T) {
	entries := []DirEnt{
		{Name: "f", EType: File, Content: "abc", Size: 3, Mode: 0644, UID: 1, GID: 2, Mtime: 100, Atime: 101, Ctime: 102},
	}
	got := string(Serialize(entries))
	want := "f\x00file\x003\x00abc\x00420\x001\x002\x00100\x00101\x00102"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSerializeInterRecordSeparator(t *testing.T) {
	entries := []DirEnt{
		{Name: "a", EType: File, Content: "x"},
		{Name: "b", EType: File, Content: "y"},
	}
	got := string(Serialize(entries))
	if want := "\x00\x00"; !contains(got, want) {
		t.Fatalf("expected double-NUL separator between records, got %q", got)
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}

func TestEstimateSizeMatchesFormula(t *testing.T) {
	entries := []DirEnt{
		{Name: "aa", Content: "hash1"},
		{Name: "bbb", Content: "hash22"},
	}
	got := EstimateSize(entries)
	want := uint64(len("aa")+25+len("hash1")) + 1 + uint64(len("bbb")+25+len("hash22"))
	if got != want {
		t.Fatalf("got %d want %d", got, want)
	}
}

func TestIsHex64(t *testing.T) {
	good := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	if len(good) != 64 {
		t.Fatalf("test fixture wrong length: %d", len(good))
	}
	if !IsHex64(good) {
		t.Fatalf("expected valid hex64")
	}
	if IsHex64(good + "0") {
		t.Fatalf("expected length 65 to be rejected")
	}
	if IsHex64("0123456789ABCDEF0123456789abcdef0123456789abcdef0123456789abcdef") {
		t.Fatalf("expected uppercase to be rejected")
	}
}

func TestPlaceholderHashLength(t *testing.T) {
	if len(PlaceholderHash) != HashHexLen {
		t.Fatalf("placeholder hash length = %d, want %d", len(PlaceholderHash), HashHexLen)
	}
	if !IsHex64(PlaceholderHash) {
		t.Fatalf("placeholder hash is not valid hex64")
	}
}
