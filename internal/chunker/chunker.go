// Package chunker splits normalized text into overlapping fixed-size fragments.
package chunker

import (
	"errors"
	"fmt"
)

// Default window parameters, in runes.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// ErrInvalidWindow is returned when chunkSize <= overlap or overlap < 0.
var ErrInvalidWindow = errors.New("chunk size must be greater than overlap, and overlap must be non-negative")

// Chunker holds a validated window configuration.
type Chunker struct {
	chunkSize int
	overlap   int
}

// New returns a Chunker for the given window, measured in runes.
func New(chunkSize, overlap int) (*Chunker, error) {
	if err := validate(chunkSize, overlap); err != nil {
		return nil, err
	}
	return &Chunker{chunkSize: chunkSize, overlap: overlap}, nil
}

// ChunkSize returns the window length in runes.
func (c *Chunker) ChunkSize() int { return c.chunkSize }

// Overlap returns the number of runes shared by consecutive fragments.
func (c *Chunker) Overlap() int { return c.overlap }

// Chunk normalizes text and splits it with the configured window.
func (c *Chunker) Chunk(text string) []string {
	// window was validated in New
	out, _ := Split(text, c.chunkSize, c.overlap)
	return out
}

// Split normalizes text and slides a window of chunkSize runes across it,
// advancing by chunkSize-overlap. Each window is clamped to the text length;
// splitting stops after the window that reaches the end of the text.
// Empty text yields no fragments.
func Split(text string, chunkSize, overlap int) ([]string, error) {
	if err := validate(chunkSize, overlap); err != nil {
		return nil, err
	}
	runes := []rune(Normalize(text))
	n := len(runes)
	if n == 0 {
		return nil, nil
	}
	step := chunkSize - overlap
	out := make([]string, 0, n/step+1)
	for start := 0; start < n; start += step {
		end := start + chunkSize
		if end > n {
			end = n
		}
		out = append(out, string(runes[start:end]))
		if end == n {
			break
		}
	}
	return out, nil
}

func validate(chunkSize, overlap int) error {
	if overlap < 0 || chunkSize <= overlap {
		return fmt.Errorf("%w (chunk_size=%d, overlap=%d)", ErrInvalidWindow, chunkSize, overlap)
	}
	return nil
}
