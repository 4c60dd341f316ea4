package walog

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hivellm/nexus/internal/config"
)

// request is a single caller's entry plus the channel it blocks on for the
// durability result, fed into the writer goroutine's batch loop.
type request struct {
	entry *Entry
	done  chan error
}

// Writer is Nexus's group-commit WAL writer. Rather than serializing
// every WriteEntry call behind one mutex and syncing inline, Writer
// accepts concurrent writers over a channel and batches them: a single
// background goroutine drains the channel, flushes when either
// MaxBatchSize entries or MaxBatchAge has elapsed, then releases every
// waiting caller at once.
type Writer struct {
	file   *os.File
	bw     *bufio.Writer
	cfg    config.WALConfig
	log    *zap.Logger
	reqs   chan request
	done   chan struct{}
	wg     sync.WaitGroup
	closed chan struct{}
	closeOnce sync.Once
}

func NewWriter(path string, cfg config.WALConfig, log *zap.Logger) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open wal file: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	w := &Writer{
		file:   f,
		bw:     bufio.NewWriterSize(f, cfg.BufferBytes),
		cfg:    cfg,
		log:    log,
		reqs:   make(chan request, 1024),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w, nil
}

// WriteEntry enqueues an entry and blocks until it (and its batch) has been
// flushed and, per the configured sync mode, durably synced.
func (w *Writer) WriteEntry(entry *Entry) error {
	select {
	case <-w.closed:
		return fmt.Errorf("wal writer is closed")
	default:
	}
	done := make(chan error, 1)
	select {
	case w.reqs <- request{entry: entry, done: done}:
	case <-w.closed:
		return fmt.Errorf("wal writer is closed")
	}
	return <-done
}

func (w *Writer) run() {
	defer w.wg.Done()
	timer := time.NewTimer(w.cfg.MaxBatchAge)
	defer timer.Stop()

	var pending []request

	flush := func() {
		if len(pending) == 0 {
			return
		}
		var err error
		for _, r := range pending {
			if r.entry == nil {
				continue
			}
			if _, werr := r.entry.WriteTo(w.bw); werr != nil {
				err = werr
				break
			}
		}
		if err == nil {
			if ferr := w.bw.Flush(); ferr != nil {
				err = ferr
			}
		}
		if err == nil && w.cfg.SyncMode == config.SyncFsync {
			if serr := w.file.Sync(); serr != nil {
				err = serr
			}
		}
		if err != nil {
			w.log.Warn("wal batch flush failed", zap.Error(err), zap.Int("batch_size", len(pending)))
		}
		for _, r := range pending {
			r.done <- err
		}
		pending = pending[:0]
	}

	for {
		select {
		case req, ok := <-w.reqs:
			if !ok {
				flush()
				return
			}
			pending = append(pending, req)
			if len(pending) >= w.cfg.MaxBatchSize {
				flush()
				timer.Reset(w.cfg.MaxBatchAge)
			}
		case <-timer.C:
			flush()
			timer.Reset(w.cfg.MaxBatchAge)
		case <-w.done:
			flush()
			return
		}
	}
}

// Sync forces an immediate flush of anything buffered, bypassing the
// batch-age/batch-size thresholds.
func (w *Writer) Sync() error {
	done := make(chan error, 1)
	select {
	case w.reqs <- request{entry: nil, done: done}:
	case <-w.closed:
		return nil
	}
	return <-done
}

func (w *Writer) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.closed)
		close(w.done)
		w.wg.Wait()
		err = w.file.Close()
	})
	return err
}
