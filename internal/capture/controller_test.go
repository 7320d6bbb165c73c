package capture

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRelay struct {
	mu      sync.Mutex
	openErr error
	sendErr error
	opened  int
	closed  int
	frames  [][]float32
}

func (r *fakeRelay) Open(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opened++
	return r.openErr
}

func (r *fakeRelay) Send(ctx context.Context, frame []float32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame)
	return r.sendErr
}

func (r *fakeRelay) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
	return nil
}

func (r *fakeRelay) frameCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

// blockingSource emits frames from a channel until closed.
type blockingSource struct {
	frames chan []float32
	once   sync.Once
	closed chan struct{}
}

func newBlockingSource() *blockingSource {
	return &blockingSource{frames: make(chan []float32), closed: make(chan struct{})}
}

func (s *blockingSource) ReadFrame() ([]float32, error) {
	select {
	case f := <-s.frames:
		return f, nil
	case <-s.closed:
		return nil, io.ErrClosedPipe
	}
}

func (s *blockingSource) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type sliceSource struct {
	frames [][]float32
	err    error
}

func (s *sliceSource) ReadFrame() ([]float32, error) {
	if len(s.frames) == 0 {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f, nil
}

func (s *sliceSource) Close() error { return nil }

func TestController(t *testing.T) {
	ctx := context.Background()

	t.Run("runs through the full state machine", func(t *testing.T) {
		relay := &fakeRelay{}
		c := NewController(relay)
		src := newBlockingSource()
		assert.Equal(t, StateIdle, c.State())

		require.NoError(t, c.Start(ctx, src))
		assert.Equal(t, StateActive, c.State())

		src.frames <- []float32{0.1}
		src.frames <- []float32{0.2}
		require.Eventually(t, func() bool { return relay.frameCount() == 2 }, time.Second, time.Millisecond)

		require.NoError(t, c.Stop(ctx))
		assert.Equal(t, StateIdle, c.State())
		assert.Equal(t, 1, relay.closed)
	})

	t.Run("second start is busy", func(t *testing.T) {
		c := NewController(&fakeRelay{})
		src := newBlockingSource()
		require.NoError(t, c.Start(ctx, src))
		defer c.Stop(ctx)

		err := c.Start(ctx, newBlockingSource())

		assert.ErrorIs(t, err, ErrCaptureBusy)
	})

	t.Run("stop from idle is a no-op", func(t *testing.T) {
		relay := &fakeRelay{}
		c := NewController(relay)

		assert.NoError(t, c.Stop(ctx))
		assert.Equal(t, 0, relay.closed)
	})

	t.Run("failed open returns to idle and can retry", func(t *testing.T) {
		relay := &fakeRelay{openErr: errors.New("connection refused")}
		c := NewController(relay)

		err := c.Start(ctx, newBlockingSource())
		require.Error(t, err)
		assert.Equal(t, StateIdle, c.State())
		assert.Equal(t, 1, relay.closed, "partial setup is cleaned up")

		relay.openErr = nil
		require.NoError(t, c.Start(ctx, newBlockingSource()))
		require.NoError(t, c.Stop(ctx))
	})

	t.Run("end of input closes Done", func(t *testing.T) {
		relay := &fakeRelay{}
		c := NewController(relay)
		src := &sliceSource{frames: [][]float32{{0.1}, {0.2}, {0.3}}}

		require.NoError(t, c.Start(ctx, src))

		select {
		case <-c.Done():
		case <-time.After(time.Second):
			t.Fatal("pump did not finish")
		}
		require.NoError(t, c.Stop(ctx))
		assert.Equal(t, 3, relay.frameCount())
	})

	t.Run("send failure is reported by stop", func(t *testing.T) {
		relay := &fakeRelay{sendErr: errors.New("broken pipe")}
		c := NewController(relay)

		require.NoError(t, c.Start(ctx, &sliceSource{frames: [][]float32{{0.1}}}))
		<-c.Done()

		err := c.Stop(ctx)
		assert.ErrorContains(t, err, "broken pipe")
		assert.Equal(t, StateIdle, c.State())
	})
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "stopping", StateStopping.String())
	assert.Equal(t, "State(9)", State(9).String())
}
