package sink

import (
	"context"
	"log"
	"log/slog"
	"time"

	"github.com/you/ytchat-export/internal/core"
)

// Stream yields messages until ok is false.
type Stream interface {
	Next(ctx context.Context) (msg core.Message, ok bool, err error)
}

type ArchiveOptions struct {
	BatchSize     int
	FlushInterval time.Duration
	// OnError observes write failures. The archive keeps draining after one.
	OnError func(error)
}

// Archive writes every message of stream to base under sessionID, numbering
// them from 1 in arrival order. It returns the number of messages read.
// Write failures do not stop the drain; only stream errors are returned.
func Archive(ctx context.Context, stream Stream, base Writer, sessionID string, opts ArchiveOptions) (int64, error) {
	bw := NewBufferedWriter(base, BufferedOptions{
		BatchSize:     opts.BatchSize,
		FlushInterval: opts.FlushInterval,
	})

	report := func(err error) {
		if err == nil {
			return
		}
		slog.Warn("sink: archive write failed", "session", sessionID, "err", err)
		if opts.OnError != nil {
			opts.OnError(err)
		}
	}

	var seq int64
	defer func() {
		report(bw.Close())
		log.Printf("sink: archived %d messages for session %s", seq, sessionID)
	}()

	for {
		msg, ok, err := stream.Next(ctx)
		if err != nil {
			return seq, err
		}
		if !ok {
			return seq, nil
		}
		seq++
		report(bw.Write(Entry{SessionID: sessionID, Seq: seq, Message: msg}))
	}
}
