package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

func TestFake_TickerFiresOnCadence(t *testing.T) {
	c := NewFake(epoch)
	tk := c.NewTicker(100 * time.Millisecond)
	defer tk.Stop()

	c.Advance(350 * time.Millisecond)

	want := []time.Time{
		epoch.Add(100 * time.Millisecond),
		epoch.Add(200 * time.Millisecond),
		epoch.Add(300 * time.Millisecond),
	}
	for i, w := range want {
		select {
		case got := <-tk.C():
			if !got.Equal(w) {
				t.Errorf("tick %d = %v, want %v", i, got, w)
			}
		default:
			t.Fatalf("tick %d missing", i)
		}
	}

	select {
	case got := <-tk.C():
		t.Errorf("unexpected extra tick at %v", got)
	default:
	}

	if !c.Now().Equal(epoch.Add(350 * time.Millisecond)) {
		t.Errorf("Now() = %v, want %v", c.Now(), epoch.Add(350*time.Millisecond))
	}
}

func TestFake_TickerStop(t *testing.T) {
	c := NewFake(epoch)
	tk := c.NewTicker(time.Second)
	tk.Stop()

	c.Advance(5 * time.Second)

	select {
	case <-tk.C():
		t.Error("stopped ticker fired")
	default:
	}
	if c.Waiters() != 0 {
		t.Errorf("Waiters() = %d, want 0", c.Waiters())
	}
}

func TestFake_Timer(t *testing.T) {
	c := NewFake(epoch)
	tm := c.NewTimer(2 * time.Second)

	c.Advance(time.Second)
	select {
	case <-tm.C():
		t.Fatal("timer fired early")
	default:
	}

	c.Advance(time.Second)
	select {
	case got := <-tm.C():
		if !got.Equal(epoch.Add(2 * time.Second)) {
			t.Errorf("fired at %v, want %v", got, epoch.Add(2*time.Second))
		}
	default:
		t.Fatal("timer did not fire")
	}

	if tm.Stop() {
		t.Error("Stop() after fire = true, want false")
	}
}

func TestFake_TimerStopBeforeFire(t *testing.T) {
	c := NewFake(epoch)
	tm := c.NewTimer(time.Second)

	if !tm.Stop() {
		t.Error("Stop() = false, want true")
	}

	c.Advance(time.Minute)
	select {
	case <-tm.C():
		t.Error("stopped timer fired")
	default:
	}
}

func TestFake_ZeroTimerFiresImmediately(t *testing.T) {
	c := NewFake(epoch)
	tm := c.NewTimer(0)

	select {
	case <-tm.C():
	default:
		t.Fatal("zero-duration timer did not fire")
	}
}
