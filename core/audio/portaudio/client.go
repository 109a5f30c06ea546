package portaudio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
	audiopkg "github.com/koscakluka/aura-core/core/audio"
)

// Client is an alternative device backend built on PortAudio's blocking
// streams. It exposes the same capture and playback surface as the miniaudio
// client: 100ms capture chunks through a lossless queue and an
// interruptible playback queue.
type Client struct {
	captureEncoding  audiopkg.EncodingInfo
	playbackEncoding audiopkg.EncodingInfo

	captureStream  *portaudio.Stream
	playbackStream *portaudio.Stream

	in  []int16
	out []int16

	captureQueue *audiopkg.ChunkQueue
	playQueue    *audiopkg.PlayQueue

	captureCancel context.CancelFunc
	playerCancel  context.CancelFunc
	wg            sync.WaitGroup
	closeOnce     sync.Once
}

func NewClient() (*Client, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: portaudio init failed: %v", audiopkg.ErrDeviceUnavailable, err)
	}

	captureEncoding := audiopkg.GetDefaultEncodingInfo()
	playbackEncoding := audiopkg.GetDefaultPlaybackEncodingInfo()

	client := &Client{
		captureEncoding:  captureEncoding,
		playbackEncoding: playbackEncoding,
		in:               make([]int16, captureEncoding.ChunkBytes()/2),
		out:              make([]int16, playbackEncoding.ChunkBytes()/2),
		captureQueue:     audiopkg.NewChunkQueue(),
		playQueue:        audiopkg.NewPlayQueue(),
	}

	var err error
	client.captureStream, err = portaudio.OpenDefaultStream(
		1, 0, float64(captureEncoding.SampleRate), len(client.in), client.in,
	)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: failed to open capture stream: %v", audiopkg.ErrDeviceUnavailable, err)
	}

	client.playbackStream, err = portaudio.OpenDefaultStream(
		0, 1, float64(playbackEncoding.SampleRate), len(client.out), client.out,
	)
	if err != nil {
		client.captureStream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: failed to open playback stream: %v", audiopkg.ErrDeviceUnavailable, err)
	}

	if err := client.playbackStream.Start(); err != nil {
		client.captureStream.Close()
		client.playbackStream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: failed to start playback stream: %v", audiopkg.ErrDeviceUnavailable, err)
	}

	playerCtx, cancel := context.WithCancel(context.Background())
	client.playerCancel = cancel
	client.wg.Add(1)
	go client.playLoop(playerCtx)

	return client, nil
}

func (c *Client) StartCapture(ctx context.Context) error {
	if err := c.captureStream.Start(); err != nil {
		return fmt.Errorf("failed to start capture stream: %w", err)
	}

	captureCtx, cancel := context.WithCancel(ctx)
	c.captureCancel = cancel
	c.wg.Add(1)
	go c.captureLoop(captureCtx)
	return nil
}

func (c *Client) StopCapture() error {
	if c.captureCancel != nil {
		c.captureCancel()
		c.captureCancel = nil
	}
	return c.captureStream.Stop()
}

func (c *Client) captureLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := c.captureStream.Read(); err != nil {
			log.Printf("Failed to read from PortAudio stream: %v", err)
			continue
		}

		buf := bytes.Buffer{}
		_ = binary.Write(&buf, binary.LittleEndian, c.in)
		c.captureQueue.Push(buf.Bytes())
	}
}

func (c *Client) NextChunk(ctx context.Context) ([]byte, error) {
	return c.captureQueue.Next(ctx)
}

func (c *Client) Enqueue(audio []byte) error {
	c.playQueue.Push(audio)
	return nil
}

func (c *Client) Clear() {
	c.playQueue.Clear()
}

func (c *Client) Drain(ctx context.Context) error {
	return c.playQueue.Drain(ctx)
}

func (c *Client) playLoop(ctx context.Context) {
	defer c.wg.Done()
	chunkBytes := len(c.out) * 2
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		chunk := c.playQueue.Pull(chunkBytes)
		if chunk == nil {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if len(chunk) < chunkBytes {
			padded := make([]byte, chunkBytes)
			copy(padded, chunk)
			chunk = padded
		}

		_ = binary.Read(bytes.NewBuffer(chunk), binary.LittleEndian, c.out)
		if err := c.playbackStream.Write(); err != nil {
			log.Printf("Failed to write to PortAudio stream: %v", err)
		}
	}
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		if c.captureCancel != nil {
			c.captureCancel()
		}
		c.playerCancel()
		// Stop aborts a capture loop parked in a blocking Read.
		_ = c.captureStream.Stop()
		c.captureQueue.Close()
		c.wg.Wait()

		c.captureStream.Close()
		c.playbackStream.Close()
		portaudio.Terminate()
	})
}

func (c *Client) CaptureEncodingInfo() audiopkg.EncodingInfo {
	return c.captureEncoding
}

func (c *Client) PlaybackEncodingInfo() audiopkg.EncodingInfo {
	return c.playbackEncoding
}
