package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/timings"
)

// loopStream emits one log line per Read, cycling through workers, until closed.
type loopStream struct {
	workers []string
	next    int
	closed  atomic.Bool
}

func (s *loopStream) Read(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, os.ErrClosed
	}
	time.Sleep(time.Millisecond)
	worker := s.workers[s.next%len(s.workers)]
	s.next++
	line := fmt.Sprintf("app[%s]: GET / 200 512 0.100\n", worker)
	return copy(p, line), nil
}

func (s *loopStream) Close() error {
	s.closed.Store(true)
	return nil
}

// silentStream never yields data and blocks until closed.
type silentStream struct {
	once   sync.Once
	done   chan struct{}
	closed atomic.Bool
}

func newSilentStream() *silentStream {
	return &silentStream{done: make(chan struct{})}
}

func (s *silentStream) Read(p []byte) (int, error) {
	<-s.done
	return 0, os.ErrClosed
}

func (s *silentStream) Close() error {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.done)
	})
	return nil
}

type sourceFunc func(ctx context.Context, role string) (io.ReadCloser, error)

func (f sourceFunc) TailLogs(ctx context.Context, role string) (io.ReadCloser, error) {
	return f(ctx, role)
}

func streamSource(stream io.ReadCloser) LogSource {
	return sourceFunc(func(context.Context, string) (io.ReadCloser, error) {
		return stream, nil
	})
}

func TestPipelineEarlyExit(t *testing.T) {
	stream := &loopStream{workers: []string{"web.1", "web.2"}}
	pipeline := NewPipeline(nil, streamSource(stream), Config{
		Role:       "web",
		MinWindow:  30 * time.Millisecond,
		MaxWindow:  5 * time.Second,
		MinTimings: 3,
		Grace:      100 * time.Millisecond,
	})

	store := timings.NewStore()
	res, err := pipeline.Run(context.Background(), store)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.EarlyExit {
		t.Fatalf("expected early exit")
	}
	if res.Elapsed >= 5*time.Second {
		t.Fatalf("expected capture to end before max window, took %v", res.Elapsed)
	}
	if res.Elapsed < 30*time.Millisecond {
		t.Fatalf("expected capture to honour min window, took %v", res.Elapsed)
	}
	if store.Count("web.1") < 3 || store.Count("web.2") < 3 {
		t.Fatalf("expected at least 3 samples per worker, got %d/%d", store.Count("web.1"), store.Count("web.2"))
	}
	if res.TimedWorkers != 2 || res.TotalSamples != store.Total() {
		t.Fatalf("unexpected summary: %+v", res)
	}
	if !stream.closed.Load() {
		t.Fatalf("expected log stream to be closed after capture")
	}
}

func TestPipelineSilentStreamBoundedByMaxWindow(t *testing.T) {
	stream := newSilentStream()
	pipeline := NewPipeline(nil, streamSource(stream), Config{
		Role:       "web",
		MinWindow:  20 * time.Millisecond,
		MaxWindow:  80 * time.Millisecond,
		MinTimings: 1,
		Grace:      50 * time.Millisecond,
	})

	store := timings.NewStore()
	start := time.Now()
	res, err := pipeline.Run(context.Background(), store)
	took := time.Since(start)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if took < 80*time.Millisecond {
		t.Fatalf("expected capture to wait for the max window, took %v", took)
	}
	if took > 80*time.Millisecond+50*time.Millisecond+500*time.Millisecond {
		t.Fatalf("capture exceeded max window + grace: %v", took)
	}
	if res.EarlyExit || store.Total() != 0 {
		t.Fatalf("expected empty capture, got %+v", res)
	}
	if !stream.closed.Load() {
		t.Fatalf("expected reader to be stopped")
	}
}

func TestPipelineDrainsQueuedLines(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 100; i++ {
		fmt.Fprintf(&b, "app[web.%d]: GET / 200 10 0.%d\n", i%4+1, i%10)
		b.WriteString("heroku[router]: noise\n")
	}
	stream := io.NopCloser(strings.NewReader(b.String()))
	pipeline := NewPipeline(nil, streamSource(stream), Config{
		Role:       "web",
		MinWindow:  10 * time.Millisecond,
		MaxWindow:  40 * time.Millisecond,
		MinTimings: 1000,
		Grace:      20 * time.Millisecond,
		BufferSize: 512,
	})

	store := timings.NewStore()
	res, err := pipeline.Run(context.Background(), store)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Lines != 200 || res.Matched != 100 {
		t.Fatalf("expected 200 lines and 100 matches, got %d/%d", res.Lines, res.Matched)
	}
	if store.Total() != 100 || store.Count("web.1") != 25 {
		t.Fatalf("unexpected store contents: total=%d web.1=%d", store.Total(), store.Count("web.1"))
	}
}

func TestPipelineSkipsOverLongLines(t *testing.T) {
	var b strings.Builder
	b.WriteString("app[web.1]: GET / 200 10 0.100\n")
	b.WriteString("app[web.9]: " + strings.Repeat("x", maxLineBytes+10) + " 200 10 0.100\n")
	b.WriteString("app[web.2]: GET / 200 10 0.200\n")
	b.WriteString("app[web.3]: GET / 200 10 0.300")
	stream := io.NopCloser(strings.NewReader(b.String()))
	pipeline := NewPipeline(nil, streamSource(stream), Config{
		Role:       "web",
		MinWindow:  10 * time.Millisecond,
		MaxWindow:  40 * time.Millisecond,
		MinTimings: 1000,
		Grace:      20 * time.Millisecond,
	})

	store := timings.NewStore()
	res, err := pipeline.Run(context.Background(), store)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ReaderErr != nil {
		t.Fatalf("over-long line must not stop the reader: %v", res.ReaderErr)
	}
	if res.Lines != 3 || res.Matched != 3 {
		t.Fatalf("expected 3 lines and 3 matches, got %d/%d", res.Lines, res.Matched)
	}
	if store.Count("web.9") != 0 || store.Count("web.3") != 1 {
		t.Fatalf("unexpected store contents: web.9=%d web.3=%d", store.Count("web.9"), store.Count("web.3"))
	}
}

func TestPipelineReaderErrorSurfaces(t *testing.T) {
	source := sourceFunc(func(context.Context, string) (io.ReadCloser, error) {
		return nil, errors.New("log session refused")
	})
	pipeline := NewPipeline(nil, source, Config{
		Role:       "web",
		MinWindow:  10 * time.Millisecond,
		MaxWindow:  30 * time.Millisecond,
		MinTimings: 1,
		Grace:      10 * time.Millisecond,
	})

	res, err := pipeline.Run(context.Background(), timings.NewStore())
	if err != nil {
		t.Fatalf("reader failure must not fail capture: %v", err)
	}
	if res.ReaderErr == nil || !strings.Contains(res.ReaderErr.Error(), "log session refused") {
		t.Fatalf("expected reader error to be reported, got %v", res.ReaderErr)
	}
}

func TestPipelineContextCancelled(t *testing.T) {
	stream := newSilentStream()
	pipeline := NewPipeline(nil, streamSource(stream), Config{
		Role:       "web",
		MinWindow:  time.Second,
		MaxWindow:  10 * time.Second,
		MinTimings: 1,
	})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := pipeline.Run(ctx, timings.NewStore())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !stream.closed.Load() {
		t.Fatalf("expected reader to be stopped on cancellation")
	}
}
