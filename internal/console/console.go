package console

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/livevox/internal/live"
)

// DefaultRefresh is the redraw period.
const DefaultRefresh = 100 * time.Millisecond

// clearScreen homes the cursor and clears the terminal.
const clearScreen = "\x1b[H\x1b[2J"

// Controller is the session surface the console drives.
type Controller interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Snapshot() live.Snapshot
}

// Option configures a [Console].
type Option func(*Console)

// WithRefresh sets the redraw period.
func WithRefresh(d time.Duration) Option {
	return func(c *Console) {
		if d > 0 {
			c.refresh = d
		}
	}
}

// WithView replaces the default renderer.
func WithView(v *View) Option {
	return func(c *Console) { c.view = v }
}

// Console redraws the session view on out and reads commands from in, one
// per line: c connects, d disconnects, q quits.
type Console struct {
	ctrl    Controller
	in      io.Reader
	out     io.Writer
	view    *View
	refresh time.Duration

	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// New creates a console. It does nothing until [Console.Run].
func New(ctrl Controller, in io.Reader, out io.Writer, opts ...Option) *Console {
	c := &Console{
		ctrl:    ctrl,
		in:      in,
		out:     out,
		view:    NewView(),
		refresh: DefaultRefresh,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run draws until ctx is done or the user quits. It returns nil in both
// cases. End of input does not quit; the view keeps refreshing. A read
// blocked on in is not interrupted when Run returns.
func (c *Console) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		c.mu.Lock()
		c.closing = true
		c.mu.Unlock()
		c.wg.Wait()
	}()

	quit := make(chan struct{})
	go c.readCommands(ctx, quit)

	ticker := time.NewTicker(c.refresh)
	defer ticker.Stop()

	var last string
	for frame := 0; ; frame++ {
		if s := c.view.Render(c.ctrl.Snapshot(), frame); s != last {
			if _, err := io.WriteString(c.out, clearScreen+s); err != nil {
				return err
			}
			last = s
		}
		select {
		case <-ctx.Done():
			return nil
		case <-quit:
			return nil
		case <-ticker.C:
		}
	}
}

// readCommands scans lines from c.in. A connect runs in the background so a
// disconnect typed while it is pending can abort it.
func (c *Console) readCommands(ctx context.Context, quit chan<- struct{}) {
	sc := bufio.NewScanner(c.in)
	for sc.Scan() {
		cmd := strings.ToLower(strings.TrimSpace(sc.Text()))
		switch cmd {
		case "c", "connect":
			c.goConnect(ctx)
		case "d", "disconnect":
			if err := c.ctrl.Disconnect(ctx); err != nil {
				slog.Debug("console: disconnect", "err", err)
			}
		case "q", "quit", "exit":
			close(quit)
			return
		case "":
		default:
			slog.Debug("console: unknown command", "cmd", cmd)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (c *Console) goConnect(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.ctrl.Connect(ctx); err != nil {
			slog.Debug("console: connect", "err", err)
		}
	}()
}
