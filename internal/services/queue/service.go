package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/optiscan/internal/common"
	"github.com/ternarybob/optiscan/internal/interfaces"
	"github.com/ternarybob/optiscan/internal/models"
)

// defaultSecondsPerScan seeds wait estimates before any scan has completed
const defaultSecondsPerScan = 120.0

// Service implements the persistent fair-share scan queue. Ordering lives in
// the scan_jobs table via priority_score; this service owns admission
// control, priority computation, aging and cooldown.
type Service struct {
	config  *common.Config
	logger  arbor.ILogger
	storage interfaces.StorageManager
	events  interfaces.EventService

	// Cooldown tracking is in-memory: a restart forgiving cooldowns is
	// acceptable, the caps in storage still hold.
	cooldownMu sync.Mutex
	lastAccept map[string]time.Time

	now func() time.Time
}

// NewService creates the queue service
func NewService(config *common.Config, logger arbor.ILogger, storage interfaces.StorageManager, events interfaces.EventService) *Service {
	return &Service{
		config:     config,
		logger:     logger,
		storage:    storage,
		events:     events,
		lastAccept: make(map[string]time.Time),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue admits a validated submission into the queue. Returns the created
// job and its initial 1-based position.
func (s *Service) Enqueue(ctx context.Context, url, email, submitterIP string) (*models.ScanJob, int, error) {
	now := s.now()

	if retryAfter, onCooldown := s.cooldownRemaining(submitterIP, now); onCooldown {
		return nil, 0, &models.QueueError{
			Code:              models.ErrCodeCooldown,
			Message:           "submission cooldown active",
			RetryAfterSeconds: retryAfter,
		}
	}

	queued, err := s.storage.Scans().QueuedCount(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to check queue size: %w", err)
	}
	if queued >= s.config.Queue.MaxQueueSize {
		return nil, 0, &models.QueueError{
			Code:    models.ErrCodeQueueFull,
			Message: "scan queue is full",
		}
	}

	perIP, err := s.storage.Scans().QueuedCountByIP(ctx, submitterIP)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to check per-ip queue count: %w", err)
	}
	if perIP >= s.config.Queue.MaxQueuedPerIP {
		return nil, 0, &models.QueueError{
			Code:    models.ErrCodeIPLimit,
			Message: "too many queued scans for this address",
		}
	}

	active, err := s.storage.Scans().ActiveCountByIP(ctx, submitterIP)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count active scans for ip: %w", err)
	}
	submissions := active + 1

	scan := &models.ScanJob{
		ID:              common.NewScanID(),
		URL:             url,
		Email:           email,
		SubmitterIP:     submitterIP,
		Status:          models.ScanStatusQueued,
		SubmissionCount: submissions,
		PriorityScore:   PriorityScore(submissions, s.config.Queue.FairnessSlotTicks, now),
		CreatedAt:       now,
	}

	if err := s.storage.Scans().CreateScan(ctx, scan); err != nil {
		return nil, 0, fmt.Errorf("failed to persist scan: %w", err)
	}

	s.markAccepted(submitterIP, now)

	position, err := s.storage.Scans().PositionOf(ctx, scan.ID)
	if err != nil {
		s.logger.Warn().Err(err).Str("scan_id", scan.ID).Msg("Failed to compute initial queue position")
		position = queued + 1
	}

	s.logger.Info().
		Str("scan_id", scan.ID).
		Str("url", url).
		Int("position", position).
		Int("submission_count", submissions).
		Int64("priority_score", scan.PriorityScore).
		Msg("Scan enqueued")

	s.publishQueueChanged(ctx)

	return scan, position, nil
}

// Dequeue pops the highest-priority queued scan and marks it processing.
// Returns nil when the queue is empty.
func (s *Service) Dequeue(ctx context.Context) (*models.ScanJob, error) {
	head, err := s.storage.Scans().GetQueuedOrdered(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue head: %w", err)
	}
	if len(head) == 0 {
		return nil, nil
	}

	scan := head[0]
	started := s.now()
	scan.Status = models.ScanStatusProcessing
	scan.StartedAt = &started

	if err := s.storage.Scans().UpdateScan(ctx, scan); err != nil {
		return nil, fmt.Errorf("failed to mark scan processing: %w", err)
	}

	s.publishQueueChanged(ctx)

	return scan, nil
}

// AgePriorities boosts every queued scan one step toward the head. Scores
// are floored at the oldest queued scan's time tick so aging converges
// instead of racing past new arrivals.
func (s *Service) AgePriorities(ctx context.Context) error {
	queued, err := s.storage.Scans().GetQueuedOrdered(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to load queued scans: %w", err)
	}
	if len(queued) == 0 {
		return nil
	}

	oldest, ok, err := s.storage.Scans().OldestQueuedCreatedAt(ctx)
	if err != nil {
		return fmt.Errorf("failed to find aging floor: %w", err)
	}
	if !ok {
		return nil
	}
	floor := oldest.Unix()

	var changed []*models.ScanJob
	for _, scan := range queued {
		aged := scan.PriorityScore - s.config.Queue.AgingBoostSeconds
		if aged < floor {
			aged = floor
		}
		if aged != scan.PriorityScore {
			scan.PriorityScore = aged
			changed = append(changed, scan)
		}
	}

	if len(changed) == 0 {
		return nil
	}

	if err := s.storage.Scans().UpdateScans(ctx, changed); err != nil {
		return fmt.Errorf("failed to persist aged priorities: %w", err)
	}

	s.logger.Debug().Int("aged", len(changed)).Msg("Queue priorities aged")
	s.publishQueueChanged(ctx)

	return nil
}

// Complete records the terminal transition side effects for a scan's
// submitter and notifies queued subscribers that positions moved.
func (s *Service) Complete(ctx context.Context, scan *models.ScanJob) {
	s.markAccepted(scan.SubmitterIP, s.now())
	s.publishQueueChanged(ctx)
}

// PositionOf returns the 1-based position of a queued scan, 0 if not queued
func (s *Service) PositionOf(ctx context.Context, scanID string) (int, error) {
	return s.storage.Scans().PositionOf(ctx, scanID)
}

// EstimateWaitSeconds predicts queue wait for a given position from the
// historical pace of completed scans
func (s *Service) EstimateWaitSeconds(ctx context.Context, position int) int64 {
	if position <= 0 {
		return 0
	}

	perScan := defaultSecondsPerScan
	if pace, err := s.storage.Scans().AverageSecondsPerPage(ctx); err == nil && pace > 0 {
		perScan = pace * float64(s.config.Crawler.MaxPagesPerScan)
	}

	concurrency := s.config.Queue.MaxConcurrentScans
	if concurrency < 1 {
		concurrency = 1
	}

	return int64(float64(position) * perScan / float64(concurrency))
}

// LeadingPositions returns the first n queued scans with their positions,
// used for position-change broadcasts
func (s *Service) LeadingPositions(ctx context.Context, n int) ([]models.QueuePositionPayload, error) {
	queued, err := s.storage.Scans().GetQueuedOrdered(ctx, n)
	if err != nil {
		return nil, err
	}

	payloads := make([]models.QueuePositionPayload, 0, len(queued))
	for i, scan := range queued {
		payloads = append(payloads, models.QueuePositionPayload{
			ScanID:               scan.ID,
			Position:             i + 1,
			EstimatedWaitSeconds: s.EstimateWaitSeconds(ctx, i+1),
		})
	}
	return payloads, nil
}

// PriorityScore computes the fair-share ordering key. Lower runs first:
// each scan the submitter already has queued or processing costs one
// fairness slot of queue time, so a first-time submitter arriving later
// still interleaves ahead of a bulk submitter's backlog.
func PriorityScore(submissionCount int, fairnessSlotTicks int64, createdAt time.Time) int64 {
	return int64(submissionCount)*fairnessSlotTicks + createdAt.Unix()
}

func (s *Service) cooldownRemaining(ip string, now time.Time) (int64, bool) {
	if s.config.Queue.CooldownSeconds <= 0 {
		return 0, false
	}

	s.cooldownMu.Lock()
	defer s.cooldownMu.Unlock()

	last, ok := s.lastAccept[ip]
	if !ok {
		return 0, false
	}
	elapsed := now.Sub(last)
	cooldown := time.Duration(s.config.Queue.CooldownSeconds) * time.Second
	if elapsed >= cooldown {
		return 0, false
	}
	return int64((cooldown - elapsed).Seconds()) + 1, true
}

func (s *Service) markAccepted(ip string, now time.Time) {
	s.cooldownMu.Lock()
	defer s.cooldownMu.Unlock()
	s.lastAccept[ip] = now
}

func (s *Service) publishQueueChanged(ctx context.Context) {
	positions, err := s.LeadingPositions(ctx, s.config.Queue.PositionBroadcast)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to compute queue positions for broadcast")
		return
	}
	if err := s.events.Publish(ctx, interfaces.Event{
		Type:    interfaces.EventQueueChanged,
		Payload: positions,
	}); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to publish queue change")
	}
}
