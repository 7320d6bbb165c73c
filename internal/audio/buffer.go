package audio

import "sync"

// Buffer accumulates PCM samples and hands them out in fixed-size blocks.
// It is safe for concurrent use.
type Buffer struct {
	mu        sync.Mutex
	samples   []float32
	blockSize int
}

func NewBuffer(blockSize int) *Buffer {
	if blockSize <= 0 {
		blockSize = 1
	}
	return &Buffer{
		samples:   make([]float32, 0, blockSize),
		blockSize: blockSize,
	}
}

// Append adds samples and returns every block that became full.
func (b *Buffer) Append(samples []float32) [][]float32 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.samples = append(b.samples, samples...)

	var blocks [][]float32
	for len(b.samples) >= b.blockSize {
		block := make([]float32, b.blockSize)
		copy(block, b.samples[:b.blockSize])
		blocks = append(blocks, block)
		b.samples = b.samples[b.blockSize:]
	}
	if len(blocks) > 0 {
		rest := make([]float32, len(b.samples), b.blockSize)
		copy(rest, b.samples)
		b.samples = rest
	}
	return blocks
}

// Flush returns and clears any buffered partial block.
func (b *Buffer) Flush() []float32 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.samples) == 0 {
		return nil
	}
	out := b.samples
	b.samples = make([]float32, 0, b.blockSize)
	return out
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

func (b *Buffer) BlockSize() int {
	return b.blockSize
}
