package id

import (
	"regexp"
	"sync"
	"testing"

	"github.com/google/uuid"
)

func TestNew_Format(t *testing.T) {
	s := New()

	re := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-7[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	if !re.MatchString(s) {
		t.Errorf("New() = %q, does not match UUIDv7 format", s)
	}
}

func TestNew_Version(t *testing.T) {
	u, err := uuid.Parse(New())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Version() != 7 {
		t.Errorf("version = %d, want 7", u.Version())
	}
}

func TestNew_ConcurrentUniqueness(t *testing.T) {
	const goroutines = 10
	const perGoroutine = 500

	var mu sync.Mutex
	seen := make(map[string]bool, goroutines*perGoroutine)
	var wg sync.WaitGroup

	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]string, 0, perGoroutine)
			for range perGoroutine {
				local = append(local, New())
			}
			mu.Lock()
			defer mu.Unlock()
			for _, s := range local {
				if seen[s] {
					t.Errorf("duplicate ID: %s", s)
				}
				seen[s] = true
			}
		}()
	}
	wg.Wait()
}

func TestShort(t *testing.T) {
	s := Short()
	if len(s) != 16 {
		t.Errorf("Short() length = %d, want 16", len(s))
	}
	if !regexp.MustCompile(`^[0-9a-f]{16}$`).MatchString(s) {
		t.Errorf("Short() = %q, not lowercase hex", s)
	}
}

func TestValid(t *testing.T) {
	if !Valid(New()) {
		t.Error("Valid(New()) = false")
	}
	if Valid("req-001") {
		t.Error("Valid(\"req-001\") = true")
	}
}
