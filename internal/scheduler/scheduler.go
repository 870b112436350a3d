package scheduler

import (
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// Job is one schedulable unit of background work.
type Job interface {
	Run() error
	Name() string
}

// Scheduler drives the periodic jobs: the alert tick and the daily
// report. Jobs run sequentially within the cron runner's goroutines;
// cross-process exclusion is the lock manager's responsibility, not
// the scheduler's.
type Scheduler struct {
	cron *cron.Cron
}

func New() *Scheduler {
	return &Scheduler{cron: cron.New()}
}

func (s *Scheduler) Start() {
	s.cron.Start()
	log.Info("Scheduler started")
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Scheduler stopped")
}

// AddJob registers a job under a cron schedule ("@every 5m",
// "55 23 * * *", ...).
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		log.Debugf("Running job %s", job.Name())
		if err := job.Run(); err != nil {
			log.Errorf("Job %s failed: %v", job.Name(), err)
			return
		}
		log.Debugf("Job %s completed", job.Name())
	})
	if err != nil {
		return err
	}

	log.Infof("Job %s registered with schedule %q", job.Name(), schedule)
	return nil
}
