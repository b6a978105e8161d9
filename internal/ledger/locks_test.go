package ledger

import (
	"sync"
	"testing"
	"time"
)

func TestKeyLocks_ExcludesSameKey(t *testing.T) {
	kl := newKeyLocks()
	unlock := kl.lock("a")

	acquired := make(chan struct{})
	go func() {
		u := kl.lock("a")
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held key")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the key after unlock")
	}
}

func TestKeyLocks_DistinctKeysIndependent(t *testing.T) {
	kl := newKeyLocks()
	ua := kl.lock("a")
	defer ua()

	done := make(chan struct{})
	go func() {
		kl.lock("b")()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key blocked")
	}
}

func TestKeyLocks_ReleasesEntries(t *testing.T) {
	kl := newKeyLocks()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := kl.lock("k")
			unlock()
			unlock()
		}()
	}
	wg.Wait()
	if n := kl.size(); n != 0 {
		t.Errorf("expected no retained keys, got %d", n)
	}
}
