package scheduler

import (
	"sync"
	"time"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("fitsedit.scheduler")

type Task struct {
	Name    string
	Execute func() error
}

// Scheduler runs tasks one at a time on a single worker goroutine.
// Periodic tasks never overlap with themselves.
type Scheduler struct {
	taskQueue chan Task
	stopChan  chan struct{}
	stopOnce  sync.Once
	worker    sync.WaitGroup
	tickers   sync.WaitGroup
}

// NewScheduler creates a Scheduler with the given queue size.
func NewScheduler(queueSize int) *Scheduler {
	return &Scheduler{
		taskQueue: make(chan Task, queueSize),
		stopChan:  make(chan struct{}),
	}
}

// Run starts the worker.
func (s *Scheduler) Run() {
	s.worker.Add(1)
	go func() {
		defer s.worker.Done()
		for {
			select {
			case task := <-s.taskQueue:
				s.execute(task)
			case <-s.stopChan:
				// Drain what was already accepted.
				for {
					select {
					case task := <-s.taskQueue:
						s.execute(task)
					default:
						return
					}
				}
			}
		}
	}()
}

func (s *Scheduler) execute(task Task) {
	log.Debugf("executing %s", task.Name)
	if err := task.Execute(); err != nil {
		log.Errorf("%s failed: %s", task.Name, err)
	}
}

// Schedule queues task to run as soon as the worker is free. It reports
// false once the scheduler is stopped.
func (s *Scheduler) Schedule(task Task) bool {
	select {
	case <-s.stopChan:
		return false
	default:
	}
	select {
	case s.taskQueue <- task:
		return true
	case <-s.stopChan:
		return false
	}
}

// SchedulePeriodic queues task every interval, and once right away. A tick
// is skipped when the queue is full.
func (s *Scheduler) SchedulePeriodic(interval time.Duration, task Task) {
	s.Schedule(task)

	ticker := time.NewTicker(interval)
	s.tickers.Add(1)
	go func() {
		defer s.tickers.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				select {
				case s.taskQueue <- task:
					log.Debugf("scheduled %s", task.Name)
				default:
					log.Infof("skipped scheduling %s, queue is full", task.Name)
				}
			case <-s.stopChan:
				return
			}
		}
	}()
}

// Stop stops accepting tasks, runs what is already queued and waits for
// the worker to exit.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		log.Debug("stopping scheduler")
		close(s.stopChan)
		s.tickers.Wait()
		s.worker.Wait()
	})
}
