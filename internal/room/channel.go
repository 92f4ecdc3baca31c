package room

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	replayPollInterval = 100 * time.Millisecond
	replayChunkSize    = 32 * 1024
)

// Peer is one connected client of a channel, from the channel's point of
// view: somewhere to stream bytes, with a flag marking catch-up in progress.
type Peer interface {
	Send(p []byte) error
	SetInHistory(v bool)
}

// DurableChannel is one persisted broadcast stream: an append-only log plus
// catch-up replay for late joiners. Live fan-out is the transport's job; the
// channel only records traffic and replays it.
//
// The logical size advances synchronously when a packet is submitted, while
// the physical append happens on a dedicated writer goroutine. Replay
// therefore waits until the file on disk has caught up with the size
// promised at connection time before it starts reading.
type DurableChannel struct {
	path   string
	logger *zap.Logger

	size atomic.Int64 // bytes submitted, >= bytes flushed

	// welcome, when set, runs before replay so greeting text lands ahead
	// of history.
	welcome       func(Peer)
	onHistoryDone func(Peer)

	pollInterval time.Duration

	mu     sync.RWMutex
	closed bool
	ops    chan logOp
	done   chan struct{}
}

type logOp struct {
	data  []byte
	reset bool
	errc  chan error
}

// newDurableChannel opens (fresh: truncates, recovery: appends to) the log
// at path and starts the writer.
func newDurableChannel(path string, recovery bool, logger *zap.Logger) (*DurableChannel, error) {
	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if !recovery {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", path, err)
	}

	ch := &DurableChannel{
		path:         path,
		logger:       logger,
		pollInterval: replayPollInterval,
		ops:          make(chan logOp, 256),
		done:         make(chan struct{}),
	}
	if recovery {
		st, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("stat log %s: %w", path, err)
		}
		ch.size.Store(st.Size())
	}

	go ch.writeLoop(f)
	return ch, nil
}

func (ch *DurableChannel) writeLoop(f *os.File) {
	defer func() {
		f.Close()
		close(ch.done)
	}()

	for op := range ch.ops {
		if op.reset {
			err := f.Truncate(0)
			if err == nil {
				_, err = f.Seek(0, io.SeekStart)
			}
			op.errc <- err
			continue
		}
		if _, err := f.Write(op.data); err != nil {
			ch.logger.Error("log append failed", zap.String("path", ch.path), zap.Error(err))
		}
	}
}

// Append records one packet. The logical size advances immediately; the
// bytes reach disk asynchronously.
func (ch *DurableChannel) Append(p []byte) {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	if ch.closed {
		return
	}
	ch.size.Add(int64(len(p)))
	buf := make([]byte, len(p))
	copy(buf, p)
	ch.ops <- logOp{data: buf}
}

// Size is the logical log size in bytes.
func (ch *DurableChannel) Size() int64 {
	return ch.size.Load()
}

// Clear truncates the log and resets the logical size. Pending appends are
// flushed first because the writer drains in order. The write lock is held
// until the size reset so a concurrent append cannot count bytes the reset
// is about to wipe.
func (ch *DurableChannel) Clear() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return fmt.Errorf("channel %s is closed", ch.path)
	}
	errc := make(chan error, 1)
	ch.ops <- logOp{reset: true, errc: errc}
	if err := <-errc; err != nil {
		return fmt.Errorf("truncate log %s: %w", ch.path, err)
	}
	ch.size.Store(0)
	return nil
}

// StartReplay streams the prior history of the channel to a newly connected
// peer in the background. The peer keeps receiving live broadcasts from the
// transport while it catches up; packets seen both ways are tolerated as
// idempotent display operations.
func (ch *DurableChannel) StartReplay(p Peer) {
	go ch.replay(p)
}

func (ch *DurableChannel) replay(p Peer) {
	if ch.welcome != nil {
		ch.welcome(p)
	}

	// Snapshot the promised size now; later submissions belong to the live
	// stream, not to history.
	target := ch.size.Load()

	p.SetInHistory(true)
	defer p.SetInHistory(false)

	// The physical append lags the logical size. Starting the read too
	// early would hand the peer a truncated history, so poll the on-disk
	// size until the promised bytes are actually there.
	for {
		st, err := os.Stat(ch.path)
		if err != nil {
			ch.logger.Error("replay stat failed", zap.String("path", ch.path), zap.Error(err))
			return
		}
		if st.Size() >= target {
			break
		}
		time.Sleep(ch.pollInterval)
	}

	f, err := os.Open(ch.path)
	if err != nil {
		ch.logger.Error("replay open failed", zap.String("path", ch.path), zap.Error(err))
		return
	}
	defer f.Close()

	buf := make([]byte, replayChunkSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if err := p.Send(chunk); err != nil {
				return // peer went away mid-replay
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			ch.logger.Error("replay read failed", zap.String("path", ch.path), zap.Error(err))
			return
		}
	}

	p.SetInHistory(false)
	if ch.onHistoryDone != nil {
		ch.onHistoryDone(p)
	}
}

// Close stops the writer after draining pending appends.
func (ch *DurableChannel) Close() {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return
	}
	ch.closed = true
	close(ch.ops)
	ch.mu.Unlock()
	<-ch.done
}

// Remove deletes the log file from disk. Call after Close.
func (ch *DurableChannel) Remove() error {
	return os.Remove(ch.path)
}

func (ch *DurableChannel) Path() string { return ch.path }
