// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-qrlive.
//
// go-qrlive is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package memory

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/jeremyhahn/go-qrlive/pkg/storage"
)

func TestPutGet(t *testing.T) {
	store := New()
	defer store.Close()

	value := []byte("wrapped-key-material")
	if err := store.Put("keys/test", value, nil); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := store.Get("keys/test")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !bytes.Equal(got, value) {
		t.Errorf("Get() = %q, want %q", got, value)
	}
}

func TestGetNotFound(t *testing.T) {
	store := New()
	defer store.Close()

	_, err := store.Get("missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestPutOverwrites(t *testing.T) {
	store := New()
	defer store.Close()

	if err := store.Put("key", []byte("first"), nil); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := store.Put("key", []byte("second"), nil); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := store.Get("key")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "second" {
		t.Errorf("Get() = %q, want %q", got, "second")
	}
}

func TestPutEmptyKey(t *testing.T) {
	store := New()
	defer store.Close()

	err := store.Put("", []byte("value"), nil)
	if !errors.Is(err, storage.ErrInvalidKey) {
		t.Errorf("Put() error = %v, want ErrInvalidKey", err)
	}
}

func TestValueIsolation(t *testing.T) {
	store := New()
	defer store.Close()

	value := []byte("original")
	if err := store.Put("key", value, nil); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	// Mutating the caller's slice must not affect the stored value
	value[0] = 'X'

	got, err := store.Get("key")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "original" {
		t.Errorf("stored value mutated through caller slice: %q", got)
	}

	// Mutating a returned slice must not affect subsequent reads
	got[0] = 'Y'
	again, err := store.Get("key")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(again) != "original" {
		t.Errorf("stored value mutated through returned slice: %q", again)
	}
}

func TestDelete(t *testing.T) {
	store := New()
	defer store.Close()

	if err := store.Put("key", []byte("value"), nil); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := store.Delete("key"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if _, err := store.Get("key"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}

	if err := store.Delete("key"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Delete() missing key error = %v, want ErrNotFound", err)
	}
}

func TestListPrefix(t *testing.T) {
	store := New()
	defer store.Close()

	for _, key := range []string{"keys/b", "keys/a", "public/a", "meta/index"} {
		if err := store.Put(key, []byte("v"), nil); err != nil {
			t.Fatalf("Put(%q) error = %v", key, err)
		}
	}

	keys, err := store.List("keys/")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []string{"keys/a", "keys/b"}
	if !reflect.DeepEqual(keys, want) {
		t.Errorf("List(keys/) = %v, want %v", keys, want)
	}

	all, err := store.List("")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 4 {
		t.Errorf("List(\"\") returned %d keys, want 4", len(all))
	}
}

func TestExists(t *testing.T) {
	store := New()
	defer store.Close()

	if err := store.Put("key", []byte("v"), nil); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	exists, err := store.Exists("key")
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if !exists {
		t.Error("Exists() = false, want true")
	}

	exists, err = store.Exists("missing")
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if exists {
		t.Error("Exists(missing) = true, want false")
	}
}

func TestClosed(t *testing.T) {
	store := New()
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	// Second close is a no-op
	if err := store.Close(); err != nil {
		t.Fatalf("Close() twice error = %v", err)
	}

	if _, err := store.Get("key"); !errors.Is(err, storage.ErrClosed) {
		t.Errorf("Get() after close error = %v, want ErrClosed", err)
	}
	if err := store.Put("key", []byte("v"), nil); !errors.Is(err, storage.ErrClosed) {
		t.Errorf("Put() after close error = %v, want ErrClosed", err)
	}
	if err := store.Delete("key"); !errors.Is(err, storage.ErrClosed) {
		t.Errorf("Delete() after close error = %v, want ErrClosed", err)
	}
	if _, err := store.List(""); !errors.Is(err, storage.ErrClosed) {
		t.Errorf("List() after close error = %v, want ErrClosed", err)
	}
	if _, err := store.Exists("key"); !errors.Is(err, storage.ErrClosed) {
		t.Errorf("Exists() after close error = %v, want ErrClosed", err)
	}
}

func TestConcurrentAccess(t *testing.T) {
	store := New()
	defer store.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				key := fmt.Sprintf("keys/%d-%d", n, j)
				if err := store.Put(key, []byte("v"), nil); err != nil {
					t.Errorf("Put(%q) error = %v", key, err)
					return
				}
				if _, err := store.Get(key); err != nil {
					t.Errorf("Get(%q) error = %v", key, err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	keys, err := store.List("")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(keys) != 500 {
		t.Errorf("List() returned %d keys, want 500", len(keys))
	}
}
