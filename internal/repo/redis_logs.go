package repo

import (
	"context"
	"io"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

// RedisLogSource tails log lines published on a Redis pub/sub channel per role.
type RedisLogSource struct {
	client *redis.Client
	prefix string
}

// NewRedisLogSource constructs a source reading from "<prefix>:<role>".
func NewRedisLogSource(client *redis.Client, prefix string) *RedisLogSource {
	return &RedisLogSource{client: client, prefix: prefix}
}

// Channel returns the pub/sub channel carrying lines for role.
func (s *RedisLogSource) Channel(role string) string {
	if s.prefix == "" {
		return role
	}
	return s.prefix + ":" + role
}

// TailLogs subscribes to the role's channel. Messages published before the
// subscription is confirmed are not seen.
func (s *RedisLogSource) TailLogs(ctx context.Context, role string) (io.ReadCloser, error) {
	const op = "redis.TailLogs"
	sub := s.client.Subscribe(ctx, s.Channel(role))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, utils.NewAppError(op, "subscribe "+s.Channel(role), err)
	}
	return newMessageStream(sub.Channel(), sub), nil
}

// messageStream adapts a pub/sub message channel to a line-oriented reader.
type messageStream struct {
	reader *io.PipeReader
	writer *io.PipeWriter
	sub    io.Closer
	once   sync.Once
	stop   chan struct{}
	done   chan struct{}
}

func newMessageStream(messages <-chan *redis.Message, sub io.Closer) *messageStream {
	pr, pw := io.Pipe()
	s := &messageStream{
		reader: pr,
		writer: pw,
		sub:    sub,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.pump(messages)
	return s
}

func (s *messageStream) pump(messages <-chan *redis.Message) {
	defer close(s.done)
	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				_ = s.writer.Close()
				return
			}
			if _, err := io.WriteString(s.writer, msg.Payload+"\n"); err != nil {
				return
			}
		case <-s.stop:
			return
		}
	}
}

func (s *messageStream) Read(p []byte) (int, error) {
	return s.reader.Read(p)
}

// Close unblocks pending reads, ends the subscription and waits for the pump.
func (s *messageStream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.stop)
		_ = s.reader.Close()
		if s.sub != nil {
			err = s.sub.Close()
		}
	})
	<-s.done
	return err
}
