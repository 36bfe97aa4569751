package shopsync

import (
	"strings"
	"testing"
)

func TestCanonicalJSONSortsKeysRecursively(t *testing.T) {
	in := []byte(`{"b":1,"a":{"z":true,"m":[{"k2":"v","k1":"u"}]}}`)
	got, err := CanonicalJSON(in)
	if err != nil {
		t.Fatalf("CanonicalJSON: %v", err)
	}
	want := `{"a":{"m":[{"k1":"u","k2":"v"}],"z":true},"b":1}`
	if string(got) != want {
		t.Fatalf("canonical form mismatch:\n got  %s\n want %s", got, want)
	}
}

func TestCanonicalJSONPreservesNumbersVerbatim(t *testing.T) {
	in := []byte(`{"price":"19.90","qty":10000000000000001,"rate":0.10}`)
	got, err := CanonicalJSON(in)
	if err != nil {
		t.Fatalf("CanonicalJSON: %v", err)
	}
	if !strings.Contains(string(got), "10000000000000001") {
		t.Fatalf("large integer mangled: %s", got)
	}
	if !strings.Contains(string(got), "0.10") {
		t.Fatalf("decimal trailing zero lost: %s", got)
	}
}

func TestCanonicalHashIgnoresKeyOrder(t *testing.T) {
	a := []byte(`{"id":1,"name":"x","nested":{"p":1,"q":2}}`)
	b := []byte(`{"nested":{"q":2,"p":1},"name":"x","id":1}`)

	hashA, err := CanonicalHash(a)
	if err != nil {
		t.Fatalf("CanonicalHash(a): %v", err)
	}
	hashB, err := CanonicalHash(b)
	if err != nil {
		t.Fatalf("CanonicalHash(b): %v", err)
	}
	if hashA != hashB {
		t.Fatalf("reordered payloads hash differently: %s vs %s", hashA, hashB)
	}
	if len(hashA) != 64 {
		t.Fatalf("expected hex sha256, got %q", hashA)
	}
}

func TestCanonicalHashDistinguishesContent(t *testing.T) {
	hashA, _ := CanonicalHash([]byte(`{"id":1}`))
	hashB, _ := CanonicalHash([]byte(`{"id":2}`))
	if hashA == hashB {
		t.Fatal("different payloads produced the same hash")
	}
}

func TestCanonicalJSONRejectsInvalidInput(t *testing.T) {
	if _, err := CanonicalJSON([]byte(`{"unterminated":`)); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if _, err := CanonicalHash([]byte(``)); err == nil {
		t.Fatal("expected error for empty input")
	}
}
