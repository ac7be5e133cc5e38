package workers

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/camden-git/framearchive/logging"
	"github.com/camden-git/framearchive/metrics"
)

// Ingester stores one FITS file under its canonical basename.
type Ingester interface {
	Ingest(ctx context.Context, r io.Reader, uploadName string) (string, error)
}

type IngestJob struct {
	Path string
}

// IngestResult reports the outcome of one job.
type IngestResult struct {
	Path     string
	Basename string
	Err      error
}

// IngestPool ingests local files with a fixed number of workers. a path is
// queued at most once while it is pending.
type IngestPool struct {
	JobQueue chan IngestJob
	Wg       sync.WaitGroup
	StopChan chan struct{}
	Pending  map[string]bool
	Mutex    sync.Mutex

	ctx      context.Context
	ingester Ingester
	onResult func(IngestResult)
	stopOnce sync.Once
}

// NewIngestPool starts numWorkers workers. onResult is called from the worker
// goroutines and must be safe for concurrent use.
func NewIngestPool(ctx context.Context, ingester Ingester, queueSize, numWorkers int, onResult func(IngestResult)) *IngestPool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	if onResult == nil {
		onResult = func(IngestResult) {}
	}
	pool := &IngestPool{
		JobQueue: make(chan IngestJob, queueSize),
		StopChan: make(chan struct{}),
		Pending:  make(map[string]bool),
		ctx:      ctx,
		ingester: ingester,
		onResult: onResult,
	}
	pool.Wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go pool.worker(i)
	}
	logging.Info().Int("workers", numWorkers).Int("queue_size", queueSize).Msg("started ingest workers")
	return pool
}

func (p *IngestPool) worker(id int) {
	defer p.Wg.Done()
	log := logging.With("ingest-pool").With().Int("worker", id).Logger()

	for {
		select {
		case job, ok := <-p.JobQueue:
			if !ok {
				log.Debug().Msg("job queue closed")
				return
			}
			metrics.IngestQueueDepth.Dec()
			p.onResult(p.process(job))

			p.Mutex.Lock()
			delete(p.Pending, job.Path)
			p.Mutex.Unlock()

		case <-p.StopChan:
			log.Debug().Msg("stop signal received")
			return
		}
	}
}

func (p *IngestPool) process(job IngestJob) IngestResult {
	result := IngestResult{Path: job.Path}
	f, err := os.Open(job.Path)
	if err != nil {
		result.Err = err
		return result
	}
	defer f.Close()

	result.Basename, result.Err = p.ingester.Ingest(p.ctx, f, filepath.Base(job.Path))
	return result
}

// QueueJob adds path to the queue. it returns false when the path is already
// pending or the queue is full.
func (p *IngestPool) QueueJob(path string) bool {
	p.Mutex.Lock()
	if p.Pending[path] {
		p.Mutex.Unlock()
		return false
	}
	p.Pending[path] = true
	p.Mutex.Unlock()

	select {
	case p.JobQueue <- IngestJob{Path: path}:
		metrics.IngestQueueDepth.Inc()
		return true
	default:
		logging.Warn().Str("path", path).Msg("ingest queue full, dropping file")
		p.Mutex.Lock()
		delete(p.Pending, path)
		p.Mutex.Unlock()
		return false
	}
}

// Drain processes every queued job and stops the workers. no job may be
// queued afterwards.
func (p *IngestPool) Drain() {
	close(p.JobQueue)
	p.Wg.Wait()
}

// Stop signals workers to exit without processing the remaining queue.
func (p *IngestPool) Stop() {
	p.stopOnce.Do(func() { close(p.StopChan) })
	p.Wg.Wait()
}
