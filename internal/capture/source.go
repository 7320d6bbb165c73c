package capture

import (
	"errors"
	"io"

	"github.com/interviewace/session-server/internal/audio"
)

// FrameSamples is the number of mono samples in one capture frame.
const FrameSamples = 4096

// FrameSource yields fixed-size PCM frames until io.EOF. Close unblocks a
// pending ReadFrame.
type FrameSource interface {
	ReadFrame() ([]float32, error)
	Close() error
}

// ReaderSource reads raw little-endian float32 PCM, as written by the OS
// capture pipeline, from a stream.
type ReaderSource struct {
	r   io.ReadCloser
	buf []byte
}

func NewReaderSource(r io.ReadCloser) *ReaderSource {
	return &ReaderSource{
		r:   r,
		buf: make([]byte, FrameSamples*4),
	}
}

// ReadFrame returns the next full frame. A trailing partial frame is returned
// once, trimmed to whole samples, before io.EOF.
func (s *ReaderSource) ReadFrame() ([]float32, error) {
	n, err := io.ReadFull(s.r, s.buf)
	switch {
	case err == nil:
		return audio.DecodeFloat32LE(s.buf)
	case errors.Is(err, io.ErrUnexpectedEOF):
		n -= n % 4
		if n == 0 {
			return nil, io.EOF
		}
		return audio.DecodeFloat32LE(s.buf[:n])
	default:
		return nil, err
	}
}

func (s *ReaderSource) Close() error {
	return s.r.Close()
}
