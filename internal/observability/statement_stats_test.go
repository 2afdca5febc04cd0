package observability

import (
	"sync"
	"testing"
	"time"
)

// TestRecordStatementConcurrent tests concurrent RecordStatement calls for race conditions.
func TestRecordStatementConcurrent(t *testing.T) {
	ss := NewStatementStats(1 * time.Hour)
	var wg sync.WaitGroup
	numGoroutines := 10
	recordsPerGoroutine := 100

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < recordsPerGoroutine; j++ {
				ss.RecordStatement("INSERT", "ks", time.Millisecond, "")
				ss.RecordStatement("CREATE TYPE", "ks", time.Millisecond, "")
				ss.RecordStatement("DROP TYPE", "ks", time.Millisecond, "IN_USE")
			}
		}()
	}

	wg.Wait()

	top := ss.GetTopKinds(10)
	if len(top) != 3 {
		t.Fatalf("expected 3 kinds, got %d", len(top))
	}

	expectedFreq := int64(numGoroutines * recordsPerGoroutine)
	for _, c := range top {
		if c.Frequency != expectedFreq {
			t.Errorf("expected frequency %d for %s, got %d", expectedFreq, c.Name, c.Frequency)
		}
		if c.Keyspaces["ks"] != int(expectedFreq) {
			t.Errorf("expected %d statements in ks for %s, got %d", expectedFreq, c.Name, c.Keyspaces["ks"])
		}
	}

	errs := ss.GetTopErrors(10)
	if len(errs) != 1 || errs[0].Name != "IN_USE" || errs[0].Frequency != expectedFreq {
		t.Errorf("unexpected error stats: %+v", errs)
	}
}

// TestGetTopKindsOrdering tests that GetTopKinds returns results sorted by frequency.
func TestGetTopKindsOrdering(t *testing.T) {
	ss := NewStatementStats(1 * time.Hour)

	for i := 0; i < 10; i++ {
		ss.RecordStatement("INSERT", "", 0, "")
	}
	for i := 0; i < 5; i++ {
		ss.RecordStatement("SELECT", "", 0, "")
	}
	for i := 0; i < 20; i++ {
		ss.RecordStatement("UPDATE", "", 0, "")
	}

	top := ss.GetTopKinds(3)
	if len(top) != 3 {
		t.Fatalf("expected 3 kinds, got %d", len(top))
	}

	// Should be ordered: UPDATE (20), INSERT (10), SELECT (5)
	if top[0].Name != "UPDATE" || top[0].Frequency != 20 {
		t.Errorf("expected UPDATE with frequency 20, got %s with %d", top[0].Name, top[0].Frequency)
	}
	if top[1].Name != "INSERT" || top[1].Frequency != 10 {
		t.Errorf("expected INSERT with frequency 10, got %s with %d", top[1].Name, top[1].Frequency)
	}
	if top[2].Name != "SELECT" || top[2].Frequency != 5 {
		t.Errorf("expected SELECT with frequency 5, got %s with %d", top[2].Name, top[2].Frequency)
	}
}

// TestRecordStatementFailures tests that failures count against both the kind and the code.
func TestRecordStatementFailures(t *testing.T) {
	ss := NewStatementStats(1 * time.Hour)

	ss.RecordStatement("INSERT", "ks", 2*time.Millisecond, "")
	ss.RecordStatement("INSERT", "ks", 4*time.Millisecond, "FIELD_TYPE_MISMATCH")
	ss.RecordStatement("UPDATE", "other", 0, "FIELD_TYPE_MISMATCH")

	kinds := ss.GetTopKinds(1)
	if kinds[0].Name != "INSERT" || kinds[0].Failures != 1 {
		t.Errorf("expected INSERT with 1 failure, got %s with %d", kinds[0].Name, kinds[0].Failures)
	}
	if kinds[0].Mean() != 3*time.Millisecond {
		t.Errorf("expected mean 3ms, got %v", kinds[0].Mean())
	}

	errs := ss.GetTopErrors(5)
	if len(errs) != 1 {
		t.Fatalf("expected 1 error code, got %d", len(errs))
	}
	if errs[0].Frequency != 2 || errs[0].Keyspaces["ks"] != 1 || errs[0].Keyspaces["other"] != 1 {
		t.Errorf("unexpected error counter: %+v", errs[0])
	}
}

// TestGetTopReturnsCopies tests that callers cannot modify the tracked counters.
func TestGetTopReturnsCopies(t *testing.T) {
	ss := NewStatementStats(1 * time.Hour)
	ss.RecordStatement("INSERT", "ks", 0, "")

	top := ss.GetTopKinds(1)
	top[0].Keyspaces["ks"] = 100
	top[0].Frequency = 100

	again := ss.GetTopKinds(1)
	if again[0].Frequency != 1 || again[0].Keyspaces["ks"] != 1 {
		t.Errorf("expected tracked counter to be unchanged, got %+v", again[0])
	}
}

// TestPruneRemovesOldEntries tests that Prune removes entries older than the window.
func TestPruneRemovesOldEntries(t *testing.T) {
	window := 100 * time.Millisecond
	ss := NewStatementStats(window)

	ss.RecordStatement("DROP TYPE", "ks", 0, "IN_USE")
	if len(ss.GetTopKinds(10)) != 1 || len(ss.GetTopErrors(10)) != 1 {
		t.Fatal("expected one kind and one error before prune")
	}

	time.Sleep(window + 50*time.Millisecond)
	ss.Prune()

	if n := len(ss.GetTopKinds(10)); n != 0 {
		t.Errorf("expected 0 kinds after prune, got %d", n)
	}
	if n := len(ss.GetTopErrors(10)); n != 0 {
		t.Errorf("expected 0 errors after prune, got %d", n)
	}
}

// TestGetTopEmpty tests the top lists with no data.
func TestGetTopEmpty(t *testing.T) {
	ss := NewStatementStats(1 * time.Hour)
	if top := ss.GetTopKinds(10); len(top) != 0 {
		t.Errorf("expected 0 kinds, got %d", len(top))
	}
	if top := ss.GetTopErrors(0); len(top) != 0 {
		t.Errorf("expected 0 errors, got %d", len(top))
	}
}
