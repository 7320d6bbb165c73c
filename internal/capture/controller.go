package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrCaptureBusy is returned when a capture is already starting, running or
// being torn down.
var ErrCaptureBusy = errors.New("capture already in progress")

type State int

const (
	StateIdle State = iota
	StateStarting
	StateActive
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Relay forwards captured frames to the server.
type Relay interface {
	Open(ctx context.Context) error
	Send(ctx context.Context, frame []float32) error
	// Close flushes anything buffered and releases the connection.
	Close(ctx context.Context) error
}

// Controller owns the single capture session of this process:
// idle -> starting -> active -> stopping -> idle.
type Controller struct {
	relay Relay

	mu     sync.Mutex
	state  State
	source FrameSource
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func NewController(relay Relay) *Controller {
	return &Controller{relay: relay}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start opens the relay and pumps frames from src in the background.
func (c *Controller) Start(ctx context.Context, src FrameSource) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrCaptureBusy
	}
	c.state = StateStarting
	c.mu.Unlock()

	if err := c.relay.Open(ctx); err != nil {
		if cerr := c.relay.Close(ctx); cerr != nil {
			log.Debug().Err(cerr).Msg("relay cleanup after failed open")
		}
		c.setState(StateIdle)
		return fmt.Errorf("open relay: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.state = StateActive
	c.source = src
	c.cancel = cancel
	c.done = done
	c.err = nil
	c.mu.Unlock()

	go c.pump(runCtx, src, done)

	log.Info().Msg("capture started")
	return nil
}

func (c *Controller) pump(ctx context.Context, src FrameSource, done chan struct{}) {
	defer close(done)

	frames := 0
	for ctx.Err() == nil {
		frame, err := src.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				c.fail(fmt.Errorf("read frame: %w", err))
			}
			break
		}
		if err := c.relay.Send(ctx, frame); err != nil {
			if ctx.Err() == nil {
				c.fail(fmt.Errorf("send frame: %w", err))
			}
			break
		}
		frames++
	}

	log.Debug().Int("frames", frames).Msg("capture pump finished")
}

// Done is closed when the frame pump exits, either on Stop or at end of input.
// It is nil while idle.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Stop halts the pump, flushes the relay and returns to idle. Stopping an idle
// controller is a no-op. The returned error is the first failure seen while
// the capture ran, if any.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateIdle:
		c.mu.Unlock()
		return nil
	case StateStarting, StateStopping:
		c.mu.Unlock()
		return ErrCaptureBusy
	}
	c.state = StateStopping
	cancel, src, done := c.cancel, c.source, c.done
	c.mu.Unlock()

	cancel()
	if err := src.Close(); err != nil {
		log.Debug().Err(err).Msg("close frame source")
	}

	select {
	case <-done:
	case <-ctx.Done():
		log.Warn().Msg("capture pump did not exit before deadline")
	}

	closeErr := c.relay.Close(ctx)

	c.mu.Lock()
	runErr := c.err
	c.state = StateIdle
	c.source = nil
	c.cancel = nil
	c.done = nil
	c.mu.Unlock()

	log.Info().Msg("capture stopped")

	if runErr != nil {
		return runErr
	}
	if closeErr != nil {
		return fmt.Errorf("close relay: %w", closeErr)
	}
	return nil
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Controller) fail(err error) {
	log.Error().Err(err).Msg("capture failed")
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
}
