package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	provider "github.com/MrWong99/livevox/pkg/provider/live"
	livemock "github.com/MrWong99/livevox/pkg/provider/live/mock"
)

var errTest = errors.New("test error")

// fakeClock is a settable time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestBreaker(maxFailures int) (*Breaker, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	return NewBreaker(BreakerConfig{
		Name:        "test",
		MaxFailures: maxFailures,
		Cooldown:    10 * time.Second,
		Now:         clk.Now,
	}), clk
}

func fail() error    { return errTest }
func succeed() error { return nil }

func TestNewBreaker_Defaults(t *testing.T) {
	b := NewBreaker(BreakerConfig{})
	if b.maxFailures != 3 {
		t.Errorf("maxFailures = %d, want 3", b.maxFailures)
	}
	if b.cooldown != 30*time.Second {
		t.Errorf("cooldown = %v, want 30s", b.cooldown)
	}
	if b.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", b.State())
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(3)

	_ = b.Do(fail, nil)
	_ = b.Do(fail, nil)
	_ = b.Do(succeed, nil)
	_ = b.Do(fail, nil)
	_ = b.Do(fail, nil)
	if b.State() != StateClosed {
		t.Fatalf("a success should reset the count; state = %v", b.State())
	}

	_ = b.Do(fail, nil)
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	called := false
	err := b.Do(func() error { called = true; return nil }, nil)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("fn called while open")
	}
	var oe *OpenError
	if !errors.As(err, &oe) || oe.RetryAfter != 10*time.Second {
		t.Errorf("OpenError = %+v", oe)
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	tests := []struct {
		name  string
		probe func() error
		want  State
	}{
		{"success closes", succeed, StateClosed},
		{"failure reopens", fail, StateOpen},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b, clk := newTestBreaker(1)
			_ = b.Do(fail, nil)
			clk.Advance(10 * time.Second)
			if b.State() != StateHalfOpen {
				t.Fatalf("state = %v, want half-open after cooldown", b.State())
			}
			_ = b.Do(tc.probe, nil)
			if got := b.State(); got != tc.want {
				t.Errorf("state = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestBreaker_SingleProbe(t *testing.T) {
	b, clk := newTestBreaker(1)
	_ = b.Do(fail, nil)
	clk.Advance(time.Minute)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Do(func() error {
			close(started)
			<-release
			return nil
		}, nil)
	}()
	<-started

	if err := b.Do(succeed, nil); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second call during probe = %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe = %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_IgnoredErrors(t *testing.T) {
	b, _ := newTestBreaker(1)
	ignore := func(err error) bool { return errors.Is(err, context.Canceled) }

	err := b.Do(func() error { return context.Canceled }, ignore)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("ignored error opened the breaker")
	}
}

func TestBreaker_Reset(t *testing.T) {
	b, _ := newTestBreaker(1)
	_ = b.Do(fail, nil)
	b.Reset()
	if b.State() != StateClosed {
		t.Fatalf("state = %v after Reset", b.State())
	}
	if err := b.Do(succeed, nil); err != nil {
		t.Errorf("Do after Reset = %v", err)
	}
}

func TestGuardProvider(t *testing.T) {
	b, clk := newTestBreaker(2)
	mock := &livemock.Provider{ConnectErr: errTest, VoiceList: []string{"Kore"}}
	p := GuardProvider(mock, b)

	if v := p.Voices(); len(v) != 1 || v[0] != "Kore" {
		t.Errorf("Voices = %v", v)
	}

	for range 2 {
		if _, err := p.Connect(context.Background(), provider.Config{}); !errors.Is(err, errTest) {
			t.Fatalf("Connect = %v, want errTest", err)
		}
	}
	if _, err := p.Connect(context.Background(), provider.Config{}); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Connect while open = %v", err)
	}
	if n := mock.ConnectCount(); n != 2 {
		t.Errorf("provider saw %d connects, want 2", n)
	}

	clk.Advance(10 * time.Second)
	mock2 := &livemock.Provider{}
	p = GuardProvider(mock2, b)
	sess, err := p.Connect(context.Background(), provider.Config{})
	if err != nil || sess == nil {
		t.Fatalf("probe Connect = %v, %v", sess, err)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v after successful probe", b.State())
	}
}

func TestGuardProvider_CancelledContextNotCounted(t *testing.T) {
	b, _ := newTestBreaker(1)
	mock := &livemock.Provider{Block: make(chan struct{})}
	p := GuardProvider(mock, b)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Connect(ctx, provider.Config{}); err == nil {
		t.Fatal("expected cancellation error")
	}
	if b.State() != StateClosed {
		t.Errorf("cancelled connect opened the breaker")
	}
}

func TestBreaker_Err(t *testing.T) {
	b, clk := newTestBreaker(1)
	if err := b.Err(); err != nil {
		t.Fatalf("Err while closed = %v", err)
	}
	_ = b.Do(fail, nil)

	clk.Advance(4 * time.Second)
	var oe *OpenError
	if err := b.Err(); !errors.As(err, &oe) || oe.RetryAfter != 6*time.Second {
		t.Fatalf("Err while open = %v", err)
	}

	clk.Advance(6 * time.Second)
	if err := b.Err(); err != nil {
		t.Errorf("Err after cooldown = %v, want nil", err)
	}
}
