package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jar-trace/jar-trace-go/internal/service"
	"github.com/sirupsen/logrus"
)

// Job 一个待污染的 jar
// 每个任务对应一次完整的容器遍历和一个独立会话；
// 单次遍历内部保持单线程，池只在任务之间并行
type Job struct {
	JarPath string
}

// Pool Worker 池
type Pool struct {
	workers      int
	jobChan      chan *Job
	traceService service.TraceService
	metrics      TaintObserver
	logger       *logrus.Logger
	wg           sync.WaitGroup
}

// TaintObserver 污点结果的指标回调
type TaintObserver interface {
	ObserveTaint(result *service.TaintResult, duration time.Duration)
}

// NewPool 创建 Worker 池
func NewPool(workers, queueSize int, traceService service.TraceService, metrics TaintObserver, logger *logrus.Logger) *Pool {
	return &Pool{
		workers:      workers,
		jobChan:      make(chan *Job, queueSize),
		traceService: traceService,
		metrics:      metrics,
		logger:       logger,
	}
}

// Start 启动 Worker 池
func (p *Pool) Start(ctx context.Context) {
	p.logger.WithField("workers", p.workers).Info("Starting worker pool")

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Submit 投递任务，队列满时返回错误而不是阻塞调用方
func (p *Pool) Submit(job *Job) error {
	select {
	case p.jobChan <- job:
		return nil
	default:
		return fmt.Errorf("job queue full")
	}
}

// Stop 关闭队列并等待在途任务完成
func (p *Pool) Stop() {
	close(p.jobChan)
	p.wg.Wait()
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	p.logger.WithField("worker_id", id).Info("Worker started")

	for {
		select {
		case <-ctx.Done():
			p.logger.WithField("worker_id", id).Info("Worker shutting down")
			return

		case job, ok := <-p.jobChan:
			if !ok {
				return
			}

			p.logger.WithFields(logrus.Fields{
				"worker_id": id,
				"jar_path":  job.JarPath,
			}).Info("Processing taint job")

			start := time.Now()
			result, err := p.traceService.Taint(ctx, job.JarPath)
			if err != nil {
				p.logger.WithError(err).WithFields(logrus.Fields{
					"worker_id": id,
					"jar_path":  job.JarPath,
				}).Error("Taint job failed")
				continue
			}
			if p.metrics != nil {
				p.metrics.ObserveTaint(result, time.Since(start))
			}

			p.logger.WithFields(logrus.Fields{
				"worker_id":  id,
				"session_id": result.SessionID,
				"tainted":    result.TaintedPath,
			}).Info("Taint job completed")
		}
	}
}
