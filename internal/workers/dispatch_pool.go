package workers

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// Job is one pending dispatch to the inference worker. Exactly one job is
// ever enqueued per request id, which keeps a single writer per id's state
// machine.
type Job struct {
	RequestID string
	Synth     string
	AudioRef  string
	Audio     []byte
}

// Handler runs one dispatch end to end. It must always settle the request in
// a terminal status; the pool does not retry.
type Handler func(ctx context.Context, job Job)

// DispatchPool fans dispatch jobs out to a fixed set of workers over a
// buffered in-process channel.
type DispatchPool struct {
	NumWorkers int
	QueueSize  int
	Handler    Handler
	Logger     *logrus.Logger

	jobs    chan Job
	once    sync.Once
	started bool
}

func (p *DispatchPool) Start(ctx context.Context) error {
	if p.Handler == nil {
		return errors.New("DispatchPool missing Handler")
	}
	if p.NumWorkers <= 0 {
		p.NumWorkers = 4
	}
	if p.QueueSize <= 0 {
		p.QueueSize = 64
	}
	if p.Logger == nil {
		p.Logger = logrus.New()
	}

	p.once.Do(func() {
		p.jobs = make(chan Job, p.QueueSize)
		for i := 0; i < p.NumWorkers; i++ {
			go p.run(ctx)
		}
		p.started = true
	})
	return nil
}

func (p *DispatchPool) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.jobs:
			p.Handler(ctx, job)
		}
	}
}

// Enqueue hands a job to the pool without ever blocking the submitter. When
// the queue is full the job runs on its own goroutine instead of being
// dropped; a dispatch must never be lost.
func (p *DispatchPool) Enqueue(job Job) {
	if !p.started {
		go p.Handler(context.Background(), job)
		return
	}
	select {
	case p.jobs <- job:
	default:
		p.Logger.WithField("request_id", job.RequestID).Warn("dispatch queue full, running job unpooled")
		go p.Handler(context.Background(), job)
	}
}
