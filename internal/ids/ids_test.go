package ids

import (
	"strings"
	"sync"
	"testing"
)

func TestNewIsSortable(t *testing.T) {
	prev := New()
	for range 100 {
		next := New()
		if next <= prev {
			t.Fatalf("New() = %q not after %q", next, prev)
		}
		prev = next
	}
}

func TestNewSession(t *testing.T) {
	id := NewSession()
	if !strings.HasPrefix(id, "ses_") {
		t.Errorf("NewSession() = %q, want ses_ prefix", id)
	}
	if len(id) != len("ses_")+26 {
		t.Errorf("len(NewSession()) = %d, want %d", len(id), len("ses_")+26)
	}
}

func TestNewSessionConcurrentUnique(t *testing.T) {
	const n = 200
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]bool, n)
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := NewSession()
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(seen) != n {
		t.Errorf("got %d unique ids, want %d", len(seen), n)
	}
}

func TestNewEntity(t *testing.T) {
	id := NewEntity(PrefixUser)
	if !strings.HasPrefix(id, "usr-") || len(id) != len("usr-")+36 {
		t.Errorf("NewEntity(usr) = %q", id)
	}
	if NewEntity(PrefixRole) == NewEntity(PrefixRole) {
		t.Error("NewEntity returned duplicate ids")
	}
}
