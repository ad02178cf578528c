package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hearthai/hearth/internal/core"
	"github.com/redis/go-redis/v9"
)

// JobStore persists core.DownloadJob records in Redis and exposes the
// level-triggered pause/cancel signals through ShouldStop. Downloader's
// copy loop does not consult the JobStore, so these signals do not
// interrupt a download already in progress.
type JobStore struct {
	rdb    *redis.Client
	prefix string
}

// NewJobStore constructs a JobStore against the given Redis address.
func NewJobStore(addr, password string, db int) *JobStore {
	return &JobStore{
		rdb: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		prefix: "hearth:registry:job:",
	}
}

func (s *JobStore) key(jobID string) string { return s.prefix + jobID }

// Put writes (or overwrites) a job's full state.
func (s *JobStore) Put(ctx context.Context, job core.DownloadJob) error {
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("registry: encoding job: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key(job.JobID), b, 7*24*time.Hour).Err(); err != nil {
		return fmt.Errorf("registry: writing job to redis: %w", err)
	}
	return nil
}

// Get reads a job's current state.
func (s *JobStore) Get(ctx context.Context, jobID string) (core.DownloadJob, error) {
	b, err := s.rdb.Get(ctx, s.key(jobID)).Bytes()
	if err == redis.Nil {
		return core.DownloadJob{}, ErrNotFound
	}
	if err != nil {
		return core.DownloadJob{}, fmt.Errorf("registry: reading job from redis: %w", err)
	}
	var job core.DownloadJob
	if err := json.Unmarshal(b, &job); err != nil {
		return core.DownloadJob{}, fmt.Errorf("registry: decoding job: %w", err)
	}
	return job, nil
}

// SetStatus transitions a job to a new status, used by a running
// download's goroutine to request pause/cancel and by the goroutine
// itself to report progress transitions.
func (s *JobStore) SetStatus(ctx context.Context, jobID string, status core.DownloadStatus) error {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}
	job.Status = status
	job.UpdatedAt = time.Now()
	return s.Put(ctx, job)
}

// Cancel marks a job cancelled, which ShouldStop then reports. It does not
// touch the job's .part file.
func (s *JobStore) Cancel(ctx context.Context, jobID string) error {
	return s.SetStatus(ctx, jobID, core.DownloadCancelled)
}

// Pause marks a job paused. Unlike Cancel, a paused download's .part file
// is a valid resume point for a subsequent Resume.
func (s *JobStore) Pause(ctx context.Context, jobID string) error {
	return s.SetStatus(ctx, jobID, core.DownloadPaused)
}

// Resume marks a paused job running again.
func (s *JobStore) Resume(ctx context.Context, jobID string) error {
	return s.SetStatus(ctx, jobID, core.DownloadRunning)
}

// ShouldStop polls a job's current status and reports whether the
// in-flight download loop should stop reading from its source.
func (s *JobStore) ShouldStop(ctx context.Context, jobID string) (bool, error) {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return false, err
	}
	return job.Status == core.DownloadCancelled || job.Status == core.DownloadPaused, nil
}

// Close releases the underlying Redis connection pool.
func (s *JobStore) Close() error { return s.rdb.Close() }
