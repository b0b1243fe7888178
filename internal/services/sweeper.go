package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"wesal-sync-backend/internal/metrics"
	"wesal-sync-backend/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Archiver stores a snapshot of a session before it is deleted
type Archiver interface {
	Archive(ctx context.Context, session *models.Session) error
}

// S3Archiver writes session snapshots to `sessions/<couple>/<id>.json`
type S3Archiver struct {
	client *s3.Client
	bucket string
}

// S3Options configures the archive bucket. Endpoint is for S3-compatible storage.
type S3Options struct {
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	Endpoint  string
}

// NewS3Archiver creates an archiver for opts.Bucket
func NewS3Archiver(ctx context.Context, opts S3Options) (*S3Archiver, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(opts.Region)}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Archiver{client: client, bucket: opts.Bucket}, nil
}

// ArchiveKey returns the object key of a session snapshot
func ArchiveKey(session *models.Session) string {
	return fmt.Sprintf("sessions/%s/%s.json", session.CoupleID, session.ID)
}

func (a *S3Archiver) Archive(ctx context.Context, session *models.Session) error {
	body, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(ArchiveKey(session)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to archive session: %w", err)
	}
	return nil
}

// Sweeper deletes sessions idle for longer than maxIdle on a cron schedule.
// With an archiver, each session is archived first and kept if that fails.
// Each sweep resumes after the previous batch, so kept rows do not block
// newer ones; a short batch starts the next sweep from the oldest row again.
type Sweeper struct {
	sessions  SessionStore
	archiver  Archiver
	maxIdle   time.Duration
	batchSize int
	now       func() time.Time

	mu     sync.Mutex
	cursor models.IdleCursor

	cron *cron.Cron
}

// NewSweeper creates a sweeper. archiver may be nil.
func NewSweeper(sessions SessionStore, archiver Archiver, maxIdle time.Duration, batchSize int) *Sweeper {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Sweeper{
		sessions:  sessions,
		archiver:  archiver,
		maxIdle:   maxIdle,
		batchSize: batchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start schedules the sweep. schedule uses robfig/cron syntax, e.g. "@every 1h".
func (s *Sweeper) Start(schedule string) error {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := s.Sweep(ctx); err != nil {
			log.Error().Err(err).Msg("Session sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweeper schedule %q: %w", schedule, err)
	}
	s.cron = c
	c.Start()
	log.Info().Str("schedule", schedule).Dur("max_idle", s.maxIdle).Msg("Session sweeper started")
	return nil
}

// Stop waits for a running sweep to finish
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Sweep removes one batch of idle sessions and returns how many were deleted
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idle, err := s.sessions.ListIdle(ctx, s.now().Add(-s.maxIdle), s.cursor, s.batchSize)
	if err != nil {
		return 0, err
	}
	if len(idle) < s.batchSize {
		s.cursor = models.IdleCursor{}
	} else {
		s.cursor = idle[len(idle)-1].Cursor()
	}

	deleted := 0
	for _, session := range idle {
		if s.archiver != nil {
			if err := s.archiver.Archive(ctx, session); err != nil {
				log.Error().Err(err).Str("session_id", session.ID).Msg("Failed to archive idle session")
				continue
			}
		}
		if err := s.sessions.Delete(ctx, session.ID); err != nil {
			log.Error().Err(err).Str("session_id", session.ID).Msg("Failed to delete idle session")
			continue
		}
		deleted++
		metrics.SessionsSwept.Inc()
	}

	if deleted > 0 {
		log.Info().Int("deleted", deleted).Msg("Idle sessions swept")
	}
	return deleted, nil
}
