package repair

import (
	"context"
	"sync"

	"techclinic/internal/models"
)

// Notice is a transient message for the operator.
type Notice = models.Notice

// Notifier receives workflow notices.
type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

// Recorder collects notices. It is safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *Recorder) Notify(n Notice) {
	r.mu.Lock()
	r.notices = append(r.notices, n)
	r.mu.Unlock()
}

// Notices returns a copy of everything recorded so far.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

// Levels returns the recorded levels in order.
func (r *Recorder) Levels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.notices))
	for i, n := range r.notices {
		out[i] = n.Level
	}
	return out
}

type notifierKey struct{}

// WithNotifier returns a context whose workflow notices are also delivered
// to n. Handlers use it to return a request's notices in its response.
func WithNotifier(ctx context.Context, n Notifier) context.Context {
	return context.WithValue(ctx, notifierKey{}, n)
}

func notifierFrom(ctx context.Context) Notifier {
	n, _ := ctx.Value(notifierKey{}).(Notifier)
	return n
}

func success(msg string) Notice { return Notice{Level: models.LevelSuccess, Message: msg} }
func warning(msg string) Notice { return Notice{Level: models.LevelWarning, Message: msg} }
func failure(msg string) Notice { return Notice{Level: models.LevelError, Message: msg} }
