package testutil

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/HerbHall/hostscout/pkg/models"
)

func TestLogger_Level(t *testing.T) {
	t.Setenv(LogLevelEnv, "")
	if l := Logger(); l.Core().Enabled(zapcore.WarnLevel) {
		t.Error("default logger should drop warnings")
	}

	t.Setenv(LogLevelEnv, "debug")
	if l := Logger(); !l.Core().Enabled(zapcore.DebugLevel) {
		t.Errorf("%s=debug should enable debug logs", LogLevelEnv)
	}
}

func TestNewStore_Usable(t *testing.T) {
	db := NewStore(t)
	if db == nil {
		t.Fatal("expected non-nil store")
	}
	if err := db.DB().PingContext(context.Background()); err != nil {
		t.Fatalf("PingContext: %v", err)
	}
}

func TestClock_Advance(t *testing.T) {
	c := NewClock()
	start := c.Now()
	c.Advance(5 * time.Minute)
	if got := c.Now().Sub(start); got != 5*time.Minute {
		t.Errorf("Advance: elapsed = %v, want 5m", got)
	}
}

func TestClock_Set(t *testing.T) {
	c := NewClock()
	target := time.Date(2030, 6, 15, 12, 0, 0, 0, time.UTC)
	c.Set(target)
	if !c.Now().Equal(target) {
		t.Errorf("Set: got %v, want %v", c.Now(), target)
	}
}

func TestClock_TimerFiresOnAdvance(t *testing.T) {
	c := NewClock()
	timer := c.NewTimer(time.Second)
	if c.Pending() != 1 {
		t.Fatalf("Pending = %d, want 1", c.Pending())
	}

	c.Advance(999 * time.Millisecond)
	select {
	case <-timer.C():
		t.Fatal("timer fired early")
	default:
	}

	c.Advance(time.Millisecond)
	select {
	case got := <-timer.C():
		if !got.Equal(c.Now()) {
			t.Errorf("fired at %v, want %v", got, c.Now())
		}
	default:
		t.Fatal("timer did not fire at its deadline")
	}
}

func TestClock_StoppedTimerDoesNotFire(t *testing.T) {
	c := NewClock()
	timer := c.NewTimer(time.Second)
	if !timer.Stop() {
		t.Fatal("Stop = false on an active timer")
	}
	c.Advance(time.Minute)
	select {
	case <-timer.C():
		t.Fatal("stopped timer fired")
	default:
	}
}

func TestClock_BlockUntil(t *testing.T) {
	c := NewClock()
	go func() { c.NewTimer(time.Second) }()
	if !c.BlockUntil(1, time.Second) {
		t.Fatal("BlockUntil timed out waiting for a timer")
	}
	if c.BlockUntil(2, 10*time.Millisecond) {
		t.Fatal("BlockUntil reported 2 timers, only 1 exists")
	}
}

func TestNewSample_Defaults(t *testing.T) {
	s := NewSample()
	if s.Kind != models.MetricCPULoad {
		t.Errorf("Kind = %q, want CPU_LOAD", s.Kind)
	}
	if !s.Timestamp.Equal(Epoch) {
		t.Errorf("Timestamp = %v, want %v", s.Timestamp, Epoch)
	}
}

func TestNewSample_WithOptions(t *testing.T) {
	s := NewSample(
		WithKind(models.MetricNetRxBytes),
		WithSource("eth0"),
		WithValue(42),
	)
	if s.Kind != models.MetricNetRxBytes {
		t.Errorf("Kind = %q, want NET_RX_BYTES", s.Kind)
	}
	if s.Source != "eth0" {
		t.Errorf("Source = %q, want eth0", s.Source)
	}
	if s.Value != 42 {
		t.Errorf("Value = %v, want 42", s.Value)
	}
}

func TestNewBatch(t *testing.T) {
	b := NewBatch(Epoch, 3)
	if b.Len() != 3 {
		t.Fatalf("Len = %d, want 3", b.Len())
	}
	if got := b.Samples[2].Timestamp.Sub(Epoch); got != 2*time.Millisecond {
		t.Errorf("third sample offset = %v, want 2ms", got)
	}
}
