package providers

import (
	"context"
	"fmt"
	"io"

	"github.com/gallerio/go-storage/core"
)

const DefaultChunkSize int64 = 8 << 20

// ChunkAck reports how far the provider has durably received the stream.
type ChunkAck struct {
	// AckedBytes is the total acknowledged byte count from offset zero.
	AckedBytes int64
	Done       bool
}

// ResumableSession drives a provider chunked-upload protocol. The session
// retries transient chunk failures, re-probing the acknowledged offset first
// so a byte the provider confirmed is never sent twice.
type ResumableSession struct {
	ChunkSize int64
	Retry     core.RetryPolicy

	// Send transmits stream bytes starting at offset; isLast marks the chunk
	// that completes the payload.
	Send func(ctx context.Context, chunk []byte, offset int64, totalSize int64, isLast bool) (ChunkAck, error)
	// Probe asks the provider how many bytes it has acknowledged; called
	// before retrying a failed chunk. Nil means resend the whole chunk.
	Probe func(ctx context.Context) (int64, error)
}

// Run streams size bytes through the session. The reader must deliver
// exactly size bytes.
func (s ResumableSession) Run(ctx context.Context, stream io.Reader, size int64) error {
	if s.Send == nil {
		return fmt.Errorf("providers: resumable session requires a send function")
	}
	if size <= 0 {
		return fmt.Errorf("providers: resumable payload size must be > 0")
	}
	chunkSize := s.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	buffer := make([]byte, chunkSize)
	var acked int64
	for acked < size {
		remaining := size - acked
		if remaining < chunkSize {
			buffer = buffer[:remaining]
		}
		if _, err := io.ReadFull(stream, buffer); err != nil {
			return core.NewTransientError("providers: reading upload stream failed", err)
		}

		offset := acked
		isLast := offset+int64(len(buffer)) == size
		err := core.Retry(ctx, s.Retry, func(ctx context.Context) error {
			start := offset
			chunk := buffer
			if s.Probe != nil && acked > offset {
				// A previous attempt landed partially; skip what the
				// provider already holds.
				delta := acked - offset
				if delta >= int64(len(buffer)) {
					return nil
				}
				chunk = buffer[delta:]
				start = acked
			}
			result, sendErr := s.Send(ctx, chunk, start, size, isLast)
			if sendErr != nil {
				if core.IsRetryable(sendErr) && s.Probe != nil {
					if confirmed, probeErr := s.Probe(ctx); probeErr == nil && confirmed > acked {
						acked = confirmed
					}
				}
				return sendErr
			}
			if result.AckedBytes > acked {
				acked = result.AckedBytes
			} else {
				acked = start + int64(len(chunk))
			}
			return nil
		})
		if err != nil {
			return err
		}
		if acked < offset+int64(len(buffer)) {
			// Provider accepted the request but acknowledged less than the
			// chunk; treat the gap as fatal rather than looping forever.
			return core.NewTransientError(
				fmt.Sprintf("providers: short acknowledgement at offset %d", acked), nil,
			)
		}
	}
	return nil
}
