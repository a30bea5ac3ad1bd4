package realtime

import (
	"context"
	"sync"

	"github.com/oportunyfam/chatsync/internal/entity"
	"github.com/oportunyfam/chatsync/pkg/errcode"
)

// Channel is a push-based store holding a mirrored copy of each conversation,
// keyed by message id. It is never authoritative.
type Channel interface {
	// Seed merges msgs into the conversation node. Children missing from msgs are kept,
	// children present in both are overwritten.
	Seed(ctx context.Context, conversationId int64, msgs []*entity.Message) error
	// Append writes one child. Rewriting identical content produces no change event.
	Append(ctx context.Context, msg *entity.Message) error
	// Snapshot reads the node once, ordered by createdAt then id.
	Snapshot(ctx context.Context, conversationId int64) ([]*entity.Message, error)
	// Subscribe attaches to the node. The current snapshot is delivered first,
	// then a full ordered snapshot after every change.
	Subscribe(ctx context.Context, conversationId int64) (Subscription, error)
}

// Subscription is a live view of one conversation node.
type Subscription interface {
	// Snapshots delivers full ordered snapshots. Only the newest undelivered
	// snapshot is kept; the channel is closed when the subscription ends.
	Snapshots() <-chan []*entity.Message
	// Done is closed once the subscription has ended.
	Done() <-chan struct{}
	// Err is nil while running; errcode.ErrCancelled after Close, or a
	// *errcode.RealtimeError for a non-retryable store failure.
	Err() error
	// Close detaches. It is idempotent and safe after the connection was lost.
	Close()
}

// subscription is the delivery side shared by the stores. A single producer
// goroutine publishes into it and calls finish when it stops.
type subscription struct {
	mu      sync.Mutex
	out     chan []*entity.Message
	done    chan struct{}
	closing bool
	err     error
	ctx     context.Context
	cancel  context.CancelFunc
	onClose func()
}

func newSubscription(parent context.Context, onClose func()) *subscription {
	ctx, cancel := context.WithCancel(parent)
	return &subscription{
		out:     make(chan []*entity.Message, 1),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		onClose: onClose,
	}
}

func (s *subscription) Snapshots() <-chan []*entity.Message { return s.out }

func (s *subscription) Done() <-chan struct{} { return s.done }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *subscription) Close() {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	if s.err == nil {
		s.err = errcode.ErrCancelled
	}
	// drop anything not yet received so nothing is delivered after detach
	select {
	case <-s.out:
	default:
	}
	s.mu.Unlock()

	s.cancel()
	if s.onClose != nil {
		s.onClose()
	}
}

// isClosing reports whether Close was called
func (s *subscription) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// publish replaces any undelivered snapshot with snap. It never blocks.
func (s *subscription) publish(snap []*entity.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing {
		return false
	}
	for {
		select {
		case s.out <- snap:
			return true
		default:
		}
		select {
		case <-s.out:
		default:
		}
	}
}

// fail records a terminal error; the producer stops afterwards
func (s *subscription) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

// finish is called once by the producer goroutine on exit
func (s *subscription) finish() {
	s.mu.Lock()
	if s.err == nil {
		s.err = errcode.ErrCancelled
	}
	s.closing = true
	s.mu.Unlock()

	s.cancel()
	close(s.out)
	close(s.done)
}
