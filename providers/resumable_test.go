package providers

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/gallerio/go-storage/core"
)

func TestResumableSessionDeliversAllBytesInOrder(t *testing.T) {
	payload := bytes.Repeat([]byte("abcdefgh"), 1024)
	var received bytes.Buffer

	session := ResumableSession{
		ChunkSize: 1 << 10,
		Send: func(_ context.Context, chunk []byte, offset int64, totalSize int64, isLast bool) (ChunkAck, error) {
			if offset != int64(received.Len()) {
				t.Fatalf("chunk offset %d does not match received %d", offset, received.Len())
			}
			received.Write(chunk)
			return ChunkAck{AckedBytes: int64(received.Len()), Done: isLast}, nil
		},
	}
	if err := session.Run(context.Background(), bytes.NewReader(payload), int64(len(payload))); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !bytes.Equal(received.Bytes(), payload) {
		t.Fatalf("received payload differs from input")
	}
}

func TestResumableSessionResumesWithoutResendingAckedBytes(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 4096)
	var received bytes.Buffer
	failures := 1

	policy := core.DefaultRetryPolicy()
	policy.Sleep = func(context.Context, time.Duration) error { return nil }

	session := ResumableSession{
		ChunkSize: 1024,
		Retry:     policy,
		Send: func(_ context.Context, chunk []byte, offset int64, totalSize int64, isLast bool) (ChunkAck, error) {
			if offset < int64(received.Len()) {
				t.Fatalf("resent acknowledged bytes: offset %d, already have %d", offset, received.Len())
			}
			if offset == 2048 && failures > 0 {
				failures--
				// Half the chunk landed before the failure.
				received.Write(chunk[:512])
				return ChunkAck{}, core.NewTransientError("connection reset", nil)
			}
			received.Write(chunk)
			return ChunkAck{AckedBytes: int64(received.Len()), Done: isLast}, nil
		},
		Probe: func(context.Context) (int64, error) {
			return int64(received.Len()), nil
		},
	}

	if err := session.Run(context.Background(), bytes.NewReader(payload), int64(len(payload))); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if received.Len() != len(payload) {
		t.Fatalf("expected %d bytes delivered, got %d", len(payload), received.Len())
	}
}

func TestResumableSessionRejectsMissingSend(t *testing.T) {
	session := ResumableSession{}
	if err := session.Run(context.Background(), bytes.NewReader([]byte("x")), 1); err == nil {
		t.Fatalf("expected missing send function to error")
	}
}
