package lvp

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/pricefeed/internal/model"
)

var t0 = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

func quote(key string, mid float64, ts time.Time) model.Quote {
	return model.Quote{InstrumentKey: key, Bid: mid - 0.0001, Ask: mid + 0.0001, Mid: mid, Timestamp: ts}
}

func TestStore_UpdateGetFresh(t *testing.T) {
	s := NewStore(90 * time.Second)

	s.Update("EURUSD", quote("EURUSD", 1.085, t0), t0)

	got, err := s.Get("EURUSD", t0.Add(time.Second))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Stale {
		t.Error("Stale = true, want false")
	}
	if got.Quote.Mid != 1.085 {
		t.Errorf("Mid = %v, want 1.085", got.Quote.Mid)
	}
	if got.Age != time.Second {
		t.Errorf("Age = %v, want 1s", got.Age)
	}
}

func TestStore_FreshnessBoundary(t *testing.T) {
	s := NewStore(90000 * time.Millisecond)
	s.Update("XAUUSD", quote("XAUUSD", 2030.5, t0), t0)

	tests := []struct {
		name      string
		elapsed   time.Duration
		wantStale bool
	}{
		{"just received", 0, false},
		{"at max age", 90000 * time.Millisecond, false},
		{"one ms past max age", 90001 * time.Millisecond, true},
		{"long past", time.Hour, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Get("XAUUSD", t0.Add(tt.elapsed))
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if got.Stale != tt.wantStale {
				t.Errorf("Stale = %v, want %v", got.Stale, tt.wantStale)
			}
			// Stale reads still carry the last good value.
			if got.Quote.Mid != 2030.5 {
				t.Errorf("Mid = %v, want 2030.5", got.Quote.Mid)
			}
		})
	}
}

func TestStore_NotFound(t *testing.T) {
	s := NewStore(0)

	_, err := s.Get("GBPUSD", t0)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if s.MaxAge() != DefaultMaxAge {
		t.Errorf("MaxAge = %v, want %v", s.MaxAge(), DefaultMaxAge)
	}
}

func TestStore_OverwriteAndOutOfOrder(t *testing.T) {
	s := NewStore(time.Minute)

	if ooo := s.Update("EURUSD", quote("EURUSD", 1.08, t0), t0); ooo {
		t.Error("first update reported out of order")
	}
	if ooo := s.Update("EURUSD", quote("EURUSD", 1.09, t0.Add(time.Second)), t0.Add(time.Second)); ooo {
		t.Error("newer update reported out of order")
	}

	// Older provider timestamp: accepted, overwritten, flagged.
	if ooo := s.Update("EURUSD", quote("EURUSD", 1.07, t0.Add(-time.Second)), t0.Add(2*time.Second)); !ooo {
		t.Error("older update not reported out of order")
	}

	got, _ := s.Get("EURUSD", t0.Add(2*time.Second))
	if got.Quote.Mid != 1.07 {
		t.Errorf("Mid = %v, want 1.07", got.Quote.Mid)
	}
	if !got.Quote.OutOfOrder {
		t.Error("OutOfOrder = false, want true")
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestStore_KeysAndSnapshot(t *testing.T) {
	s := NewStore(time.Minute)
	for _, k := range []string{"XAUUSD", "EURUSD", "GBPUSD"} {
		s.Update(k, quote(k, 1, t0), t0)
	}

	keys := s.Keys()
	want := []string{"EURUSD", "GBPUSD", "XAUUSD"}
	if len(keys) != len(want) {
		t.Fatalf("Keys = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("Keys[%d] = %s, want %s", i, keys[i], want[i])
		}
	}

	snap := s.Snapshot()
	if len(snap) != 3 || snap[0].Quote.InstrumentKey != "EURUSD" {
		t.Errorf("Snapshot = %+v", snap)
	}
	if !snap[0].ReceivedAt.Equal(t0) {
		t.Errorf("ReceivedAt = %v, want %v", snap[0].ReceivedAt, t0)
	}
}

func TestStore_Restore(t *testing.T) {
	s := NewStore(time.Minute)
	s.Update("EURUSD", quote("EURUSD", 1.09, t0), t0)

	applied := s.Restore([]Entry{
		{Quote: quote("EURUSD", 1.00, t0), ReceivedAt: t0.Add(-time.Minute)}, // older, ignored
		{Quote: quote("GBPUSD", 1.27, t0), ReceivedAt: t0.Add(-30 * time.Second)},
		{Quote: model.Quote{}, ReceivedAt: t0}, // no key, ignored
	})
	if applied != 1 {
		t.Errorf("applied = %d, want 1", applied)
	}

	eur, _ := s.Get("EURUSD", t0)
	if eur.Quote.Mid != 1.09 {
		t.Errorf("EURUSD Mid = %v, want live value 1.09", eur.Quote.Mid)
	}

	gbp, err := s.Get("GBPUSD", t0.Add(31*time.Second))
	if err != nil {
		t.Fatalf("Get GBPUSD failed: %v", err)
	}
	if !gbp.Stale {
		t.Error("restored entry should age from its original ReceivedAt")
	}
}

func TestStore_ConcurrentReaders(t *testing.T) {
	s := NewStore(time.Minute)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					s.Get("EURUSD", t0)
					s.Keys()
				}
			}
		}()
	}

	for i := 0; i < 1000; i++ {
		s.Update("EURUSD", quote("EURUSD", float64(i), t0.Add(time.Duration(i))), t0)
	}
	close(stop)
	wg.Wait()

	got, _ := s.Get("EURUSD", t0)
	if got.Quote.Mid != 999 {
		t.Errorf("Mid = %v, want 999", got.Quote.Mid)
	}
}
