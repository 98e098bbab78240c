package verify

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestSheetLockManagerSerializesPerSheet(t *testing.T) {
	m := NewSheetLockManager()
	m.Lock("Sales")

	acquired := make(chan struct{})
	go func() {
		m.Lock("Sales")
		close(acquired)
		m.Unlock("Sales")
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock on the same sheet succeeded while held")
	case <-time.After(20 * time.Millisecond):
	}

	// A different sheet is independent.
	m.Lock("ProductMaster")
	m.Unlock("ProductMaster")

	m.Unlock("Sales")
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Lock never acquired after Unlock")
	}
}

func TestLockAllOverlappingSetsDoNotDeadlock(t *testing.T) {
	m := NewSheetLockManager()

	var wg sync.WaitGroup
	for _, names := range [][]string{
		{"Sales", "ProductMaster"},
		{"ProductMaster", "Sales"},
		{"Sales", "ProductMaster", "RegionMaster"},
	} {
		names := names
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				m.LockAll(names)
				m.UnlockAll(names)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("overlapping LockAll sets deadlocked")
	}
}

func TestEngineLockSetCoversMasterSheets(t *testing.T) {
	m := salesWorkbook(false)
	m.SetSheet("ProductMaster", [][]string{
		{"Product ID", "Unit Price"},
		{"P001", "100"},
	})
	m.SetSheet("Notes", [][]string{{"text"}, {"hello"}})

	engine := NewEngine(m)
	rc := &Context{Sheet: "SalesTransactions", Kind: KindTransaction}

	held := engine.lockSet(context.Background(), rc)
	want := map[string]bool{"SalesTransactions": true, "ProductMaster": true}
	if len(held) != len(want) {
		t.Fatalf("lock set = %v, want the transaction sheet and its master", held)
	}
	for _, name := range held {
		if !want[name] {
			t.Errorf("lock set contains unexpected sheet %q", name)
		}
	}

	t.Run("master sheets lock only themselves", func(t *testing.T) {
		rc := &Context{Sheet: "ProductMaster", Kind: KindMaster}
		held := engine.lockSet(context.Background(), rc)
		if len(held) != 1 || held[0] != "ProductMaster" {
			t.Errorf("lock set = %v, want only the master itself", held)
		}
	})
}
