package mail

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
)

// ConsoleTransport writes messages to the log instead of delivering them.
type ConsoleTransport struct {
	logger     *slog.Logger
	subjPrefix string
	seq        atomic.Int64
}

var _ Transport = (*ConsoleTransport)(nil)

func NewConsoleTransport(logger *slog.Logger, subjectPrefix string) *ConsoleTransport {
	return &ConsoleTransport{logger: logger, subjPrefix: subjectPrefix}
}

func (t *ConsoleTransport) Send(ctx context.Context, msg Message) (string, error) {
	id := fmt.Sprintf("console-%d", t.seq.Add(1))
	t.logger.InfoContext(ctx, "email",
		"id", id,
		"to", msg.To.String(),
		"subject", t.subjPrefix+msg.Subject,
		"html_bytes", len(msg.HTML))
	return id, nil
}

// Recorder keeps every message it is asked to send. Addresses listed in
// Fail are rejected with the given error.
type Recorder struct {
	mu   sync.Mutex
	sent []Message
	Fail map[string]error
}

var _ Transport = (*Recorder)(nil)

func NewRecorder() *Recorder {
	return &Recorder{Fail: make(map[string]error)}
}

func (r *Recorder) Send(_ context.Context, msg Message) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.Fail[strings.ToLower(msg.To.Address)]; ok {
		return "", err
	}
	r.sent = append(r.sent, msg)
	return fmt.Sprintf("rec-%d", len(r.sent)), nil
}

func (r *Recorder) Sent() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.sent...)
}

func (r *Recorder) FailFor(address string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Fail[strings.ToLower(address)] = err
}
