package service

import (
	"context"
	"sync"
	"time"

	"github.com/mbeoliero/kit/log"

	"github.com/oportunyfam/chatsync/internal/entity"
	"github.com/oportunyfam/chatsync/internal/realtime"
	"github.com/oportunyfam/chatsync/pkg/metrics"
)

// Mirrorer copies created messages into the realtime channel without blocking the sender
type Mirrorer interface {
	AsyncMirror(msg *entity.Message) bool
}

// MirrorTask represents a realtime mirror write
type MirrorTask struct {
	Msg      *entity.Message
	QueuedAt time.Time
}

// MirrorPool runs realtime Append calls on a fixed set of workers
type MirrorPool struct {
	channel   realtime.Channel
	taskChan  chan *MirrorTask
	workerNum int
	timeout   time.Duration

	mu      sync.RWMutex // guards stopped against sends on taskChan
	stopped bool
	wg      sync.WaitGroup
}

// NewMirrorPool creates a new MirrorPool
func NewMirrorPool(channel realtime.Channel, queueSize, workerNum int, timeout time.Duration) *MirrorPool {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if workerNum <= 0 {
		workerNum = 4
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &MirrorPool{
		channel:   channel,
		taskChan:  make(chan *MirrorTask, queueSize),
		workerNum: workerNum,
		timeout:   timeout,
	}
}

// Run starts the mirror workers
func (p *MirrorPool) Run() {
	for i := 0; i < p.workerNum; i++ {
		p.wg.Add(1)
		go p.mirrorLoop()
	}
	log.Info("started %d mirror workers", p.workerNum)
}

// Stop rejects new tasks and waits until queued ones are written or ctx expires
func (p *MirrorPool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.taskChan)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		log.Warn("mirror pool stop timed out: pending=%d", len(p.taskChan))
		return ctx.Err()
	}
}

// AsyncMirror queues msg for mirroring. It reports false if the task was dropped.
func (p *MirrorPool) AsyncMirror(msg *entity.Message) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		metrics.MirrorDroppedTotal.Inc()
		log.Warn("mirror pool stopped, message dropped: conversation_id=%d, message_id=%d", msg.ConversationId, msg.Id)
		return false
	}

	select {
	case p.taskChan <- &MirrorTask{Msg: msg.Clone(), QueuedAt: time.Now()}:
		return true
	default:
		metrics.MirrorDroppedTotal.Inc()
		log.Warn("mirror channel full, message dropped: conversation_id=%d, message_id=%d", msg.ConversationId, msg.Id)
		return false
	}
}

func (p *MirrorPool) mirrorLoop() {
	defer p.wg.Done()
	for task := range p.taskChan {
		p.processMirrorTask(task)
	}
}

// processMirrorTask writes one message. Failures are logged only; the message is durable upstream.
func (p *MirrorPool) processMirrorTask(task *MirrorTask) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.channel.Append(ctx, task.Msg); err != nil {
		metrics.MirrorFailuresTotal.Inc()
		log.Warn("mirror message failed: conversation_id=%d, message_id=%d, queued_for=%s, error=%v",
			task.Msg.ConversationId, task.Msg.Id, time.Since(task.QueuedAt), err)
		return
	}
	log.Debug("message mirrored: conversation_id=%d, message_id=%d", task.Msg.ConversationId, task.Msg.Id)
}
