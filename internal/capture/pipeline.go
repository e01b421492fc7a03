// Package capture tails a live log stream for a bounded window and records
// per-worker latency samples.
package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-sentinel/internal/logline"
	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/timings"
)

const maxLineBytes = 1 << 20

// LogSource opens a live, unbounded stream of raw log lines for a worker role.
// Closing the returned stream must unblock pending reads. Lines longer than
// 1 MiB are skipped.
type LogSource interface {
	TailLogs(ctx context.Context, role string) (io.ReadCloser, error)
}

// Config bounds one capture run.
type Config struct {
	Role       string
	MinWindow  time.Duration
	MaxWindow  time.Duration
	MinTimings int
	// Grace is how long the consumer keeps waiting past the max window for
	// lines that are already in flight.
	Grace      time.Duration
	BufferSize int
}

// Result summarises a capture run.
type Result struct {
	Elapsed      time.Duration
	Lines        int
	Matched      int
	TimedWorkers int
	TotalSamples int
	EarlyExit    bool
	ReaderErr    error
}

// Summary converts the result into its reportable form.
func (r Result) Summary() models.CaptureSummary {
	return models.CaptureSummary{
		TimedWorkers: r.TimedWorkers,
		TotalSamples: r.TotalSamples,
		Lines:        r.Lines,
		Elapsed:      r.Elapsed,
		EarlyExit:    r.EarlyExit,
	}
}

// Pipeline runs one log reader goroutine against a consumer loop on the
// caller's goroutine.
type Pipeline struct {
	cfg    Config
	source LogSource
	parser *logline.Parser
	logger *slog.Logger
	now    func() time.Time
}

// NewPipeline constructs a capture pipeline for cfg.Role.
func NewPipeline(logger *slog.Logger, source LogSource, cfg Config) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Grace <= 0 {
		cfg.Grace = time.Second
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	return &Pipeline{
		cfg:    cfg,
		source: source,
		parser: logline.NewParser(cfg.Role),
		logger: logger,
		now:    time.Now,
	}
}

// Run captures samples into store until the window closes or every observed
// worker has MinTimings samples after MinWindow. The reader goroutine is
// stopped and joined before Run returns. The only error returned is the
// cancellation of ctx; stream failures are reported in Result.ReaderErr.
func (p *Pipeline) Run(ctx context.Context, store *timings.Store) (res Result, err error) {
	start := p.now()
	minStop := start.Add(p.cfg.MinWindow)
	maxStop := start.Add(p.cfg.MaxWindow)

	lines := make(chan string, p.cfg.BufferSize)
	readerCtx, stopReader := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(readerCtx)
	group.Go(func() error {
		return p.read(groupCtx, lines)
	})

	defer func() {
		stopReader()
		if readerErr := group.Wait(); readerErr != nil {
			res.ReaderErr = readerErr
			p.logger.Warn("log reader failed", slog.Any("error", readerErr))
		}
		res.Elapsed = p.now().Sub(start)
		res.TimedWorkers = len(store.Workers())
		res.TotalSamples = store.Total()
	}()

	p.logger.Debug("capture started",
		slog.String("role", p.cfg.Role),
		slog.Duration("min_window", p.cfg.MinWindow),
		slog.Duration("max_window", p.cfg.MaxWindow))

	readerStopped := false
	for {
		remaining := maxStop.Sub(p.now())
		if remaining <= 0 && !readerStopped {
			// Hard deadline: stop producing but keep draining what is queued.
			stopReader()
			readerStopped = true
			p.logger.Debug("max window reached, log reader stopped")
		}

		line, ok, recvErr := receive(ctx, lines, remaining+p.cfg.Grace)
		if recvErr != nil {
			return res, recvErr
		}
		if !ok {
			return res, nil
		}

		res.Lines++
		if worker, seconds, matched := p.parser.Parse(line); matched {
			store.Record(worker, seconds)
			res.Matched++
		}

		if !p.now().Before(minStop) && store.MinCount() >= p.cfg.MinTimings {
			res.EarlyExit = true
			return res, nil
		}
	}
}

// receive takes a queued line without waiting if one is available, otherwise
// waits up to wait for the next one.
func receive(ctx context.Context, lines <-chan string, wait time.Duration) (string, bool, error) {
	select {
	case line := <-lines:
		return line, true, nil
	default:
	}
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	if wait <= 0 {
		return "", false, nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case line := <-lines:
		return line, true, nil
	case <-timer.C:
		return "", false, nil
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
}

func (p *Pipeline) read(ctx context.Context, lines chan<- string) error {
	stream, err := p.source.TailLogs(ctx, p.cfg.Role)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("open log stream: %w", err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = stream.Close()
	})
	defer func() {
		if stop() {
			_ = stream.Close()
		}
	}()

	reader := bufio.NewReaderSize(stream, 64*1024)
	for {
		line, err := readLine(reader)
		if errors.Is(err, errLineTooLong) {
			p.logger.Warn("skipped over-long log line", slog.Int("max_bytes", maxLineBytes))
			continue
		}
		if err == nil || line != "" {
			select {
			case lines <- line:
			case <-ctx.Done():
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				p.logger.Debug("log stream ended")
				return nil
			}
			return fmt.Errorf("read log stream: %w", err)
		}
	}
}

var errLineTooLong = errors.New("log line exceeds maximum length")

// readLine returns the next line without its terminator. A line longer than
// maxLineBytes is consumed through its newline and reported as errLineTooLong.
func readLine(r *bufio.Reader) (string, error) {
	var line []byte
	tooLong := false
	for {
		chunk, err := r.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(chunk) > maxLineBytes+1 {
				tooLong = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if tooLong {
			return "", errLineTooLong
		}
		return strings.TrimRight(string(line), "\r\n"), err
	}
}
