package storage

import (
	"bytes"
	"testing"
)

func TestMemDBTriStateGet(t *testing.T) {
	db := NewMemDB()

	_, found, err := db.Get([]byte("missing"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if found {
		t.Fatal("missing key reported found")
	}

	if err := db.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	value, found, err := db.Get([]byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !found || !bytes.Equal(value, []byte("v")) {
		t.Fatalf("unexpected value: %q found=%v", value, found)
	}

	if err := db.Delete([]byte("k")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, found, _ := db.Get([]byte("k")); found {
		t.Fatal("deleted key still found")
	}
}

func TestMemDBCopiesValues(t *testing.T) {
	db := NewMemDB()
	original := []byte("value")
	if err := db.Put([]byte("k"), original); err != nil {
		t.Fatalf("put: %v", err)
	}
	original[0] = 'X'

	stored, _, err := db.Get([]byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(stored, []byte("value")) {
		t.Fatalf("stored value aliased the caller's slice: %q", stored)
	}

	stored[0] = 'Y'
	again, _, _ := db.Get([]byte("k"))
	if !bytes.Equal(again, []byte("value")) {
		t.Fatalf("returned value aliased the store: %q", again)
	}
}

func TestLevelDBRoundTrip(t *testing.T) {
	db, err := NewLevelDB(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = db.Close() }()

	if _, found, err := db.Get([]byte("missing")); err != nil || found {
		t.Fatalf("missing key: found=%v err=%v", found, err)
	}
	if err := db.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	value, found, err := db.Get([]byte("k"))
	if err != nil || !found || !bytes.Equal(value, []byte("v")) {
		t.Fatalf("round trip failed: %q found=%v err=%v", value, found, err)
	}
	if err := db.Delete([]byte("k")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, found, _ := db.Get([]byte("k")); found {
		t.Fatal("deleted key still found")
	}
}
