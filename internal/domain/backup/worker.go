package backup

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// DefaultPollInterval is how often an idle worker checks the queue.
const DefaultPollInterval = 5 * time.Second

// Worker drains the backup and restore queues in the background. One worker
// per process is enough; SKIP LOCKED keeps extra replicas from colliding.
type Worker struct {
	svc      *Service
	interval time.Duration
	log      zerolog.Logger
	stop     chan struct{}
	done     chan struct{}
}

func NewWorker(svc *Service, interval time.Duration, log zerolog.Logger) *Worker {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Worker{
		svc:      svc,
		interval: interval,
		log:      log,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the poll loop. Call Stop to drain and exit.
func (w *Worker) Start() {
	go w.run()
}

func (w *Worker) run() {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.Info().Dur("interval", w.interval).Msg("backup worker started")
	for {
		select {
		case <-w.stop:
			w.log.Info().Msg("backup worker stopped")
			return
		case <-ticker.C:
			w.drain()
		}
	}
}

// drain runs queued jobs until both queues are empty. A running job is not
// interrupted by Stop; the loop checks between jobs.
func (w *Worker) drain() {
	for {
		select {
		case <-w.stop:
			return
		default:
		}

		ran, err := w.svc.RunNext(context.Background())
		if err != nil {
			w.log.Error().Err(err).Msg("claim backup job")
			return
		}
		if !ran {
			return
		}
	}
}

// Stop signals the loop and waits for the current job to finish.
func (w *Worker) Stop() {
	close(w.stop)
	<-w.done
}
