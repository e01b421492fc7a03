package repo

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

// sharedStdin is the single reader of the process's stdin. Every stdin stream
// draws lines from it, so lines not consumed by one pass go to the next.
var sharedStdin = sync.OnceValue(func() *linePump {
	return newLinePump(os.Stdin)
})

// FileLogSource replays log lines from a file, or from stdin when the path is "-".
// The role is applied by the line parser, not here.
type FileLogSource struct {
	path  string
	stdin func() *linePump
}

// NewFileLogSource constructs a source for path.
func NewFileLogSource(path string) *FileLogSource {
	return &FileLogSource{path: path, stdin: sharedStdin}
}

// TailLogs opens the file, or a new view of stdin. Closing a stdin stream
// leaves stdin itself open.
func (s *FileLogSource) TailLogs(_ context.Context, _ string) (io.ReadCloser, error) {
	const op = "file.TailLogs"
	if s.path == "" || s.path == "-" {
		return newStdinStream(s.stdin()), nil
	}
	f, err := os.Open(s.path)
	if err != nil {
		return nil, utils.NewAppError(op, "open "+s.path, err)
	}
	return f, nil
}

// linePump reads r line by line on one goroutine for its whole life.
type linePump struct {
	lines chan []byte
	err   error
}

func newLinePump(r io.Reader) *linePump {
	p := &linePump{lines: make(chan []byte, 256)}
	go func() {
		reader := bufio.NewReader(r)
		for {
			line, err := reader.ReadBytes('\n')
			if len(line) > 0 {
				p.lines <- line
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					p.err = err
				}
				close(p.lines)
				return
			}
		}
	}()
	return p
}

// stdinStream reads lines from the pump until it is closed.
type stdinStream struct {
	pump    *linePump
	pending []byte
	done    chan struct{}
	once    sync.Once
}

func newStdinStream(pump *linePump) *stdinStream {
	return &stdinStream{pump: pump, done: make(chan struct{})}
}

func (s *stdinStream) Read(p []byte) (int, error) {
	if len(s.pending) == 0 {
		select {
		case <-s.done:
			return 0, io.ErrClosedPipe
		default:
		}
		select {
		case <-s.done:
			return 0, io.ErrClosedPipe
		case line, ok := <-s.pump.lines:
			if !ok {
				if s.pump.err != nil {
					return 0, s.pump.err
				}
				return 0, io.EOF
			}
			s.pending = line
		}
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *stdinStream) Close() error {
	s.once.Do(func() {
		close(s.done)
	})
	return nil
}
