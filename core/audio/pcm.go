package audio

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrDeviceUnavailable is returned by device clients when no usable capture
// or playback hardware can be opened.
var ErrDeviceUnavailable = errors.New("audio device unavailable")

// RMS computes the root-mean-square energy of linear16 little-endian audio,
// normalized to [0, 1] of full scale. Empty or odd-length input reports 0.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < n*2; i += 2 {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i:]))) / 32768.0
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// Samples decodes linear16 little-endian audio into normalized float64
// samples in [-1, 1).
func Samples(pcm []byte) []float64 {
	samples := make([]float64, len(pcm)/2)
	for i := range samples {
		samples[i] = float64(int16(binary.LittleEndian.Uint16(pcm[2*i:]))) / 32768.0
	}
	return samples
}

// Bytes encodes normalized float64 samples back to linear16 little-endian
// audio, clipping to the int16 range.
func Bytes(samples []float64) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := math.Round(s * 32767.0)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(int16(v)))
	}
	return pcm
}

// Chunker reslices arbitrarily sized device callbacks into exact
// fixed-size chunks, carrying the remainder across calls. It neither drops
// nor reorders bytes. Not safe for concurrent use.
type Chunker struct {
	size     int
	leftover []byte
}

func NewChunker(chunkSize int) *Chunker {
	return &Chunker{size: chunkSize}
}

// Push appends audio and returns every complete chunk it now holds, in
// order. Returned slices are freshly allocated.
func (c *Chunker) Push(audio []byte) [][]byte {
	c.leftover = append(c.leftover, audio...)

	var chunks [][]byte
	for len(c.leftover) >= c.size {
		chunk := make([]byte, c.size)
		copy(chunk, c.leftover[:c.size])
		chunks = append(chunks, chunk)
		c.leftover = c.leftover[c.size:]
	}
	return chunks
}

// Flush returns any incomplete remainder and resets the chunker.
func (c *Chunker) Flush() []byte {
	rest := c.leftover
	c.leftover = nil
	return rest
}
