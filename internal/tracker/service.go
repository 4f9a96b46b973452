package tracker

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/opencivic/srhistory/internal/domain"
	"github.com/opencivic/srhistory/internal/repository"
)

// ErrOutOfOrderSnapshot marks a snapshot whose timestamp precedes the
// current row's valid_from for its key. Applying it would overlap intervals,
// so it is skipped (or, in strict mode, fails the key's sub-batch).
var ErrOutOfOrderSnapshot = errors.New("snapshot precedes current row's valid_from")

// Options tunes batch reconciliation behavior.
type Options struct {
	// StrictOutOfOrder fails a key's remaining sub-batch on the first
	// out-of-order snapshot instead of skipping it.
	StrictOutOfOrder bool
	// MaxRetries bounds conflict retries per snapshot.
	MaxRetries int
	// Workers bounds cross-key parallelism.
	Workers int
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.Workers <= 0 {
		o.Workers = 8
	}
	return o
}

// Service reconciles batches of entity snapshots into versioned history rows.
// Keys are independent and processed concurrently; snapshots within a key are
// strictly sequential in source-timestamp order.
type Service struct {
	historyRepo   repository.HistoryRepository
	rejectionRepo repository.RejectionRepository
	policy        domain.AttributePolicy
	opts          Options
	log           *zap.Logger
}

// NewService creates a new tracker service.
func NewService(
	historyRepo repository.HistoryRepository,
	rejectionRepo repository.RejectionRepository,
	policy domain.AttributePolicy,
	opts Options,
	log *zap.Logger,
) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		historyRepo:   historyRepo,
		rejectionRepo: rejectionRepo,
		policy:        policy,
		opts:          opts.withDefaults(),
		log:           log,
	}
}

// KeyResult reports what one key's sub-batch produced.
type KeyResult struct {
	BusinessKey     string `json:"businessKey"`
	VersionsCreated int    `json:"versionsCreated"`
	Absorbed        int    `json:"absorbed"`
	Rejected        int    `json:"rejected"`
	OutOfOrder      int    `json:"outOfOrder"`
	Retired         bool   `json:"retired"`
	Error           string `json:"error,omitempty"`
}

// Report aggregates a full batch apply so operators can audit drift.
type Report struct {
	TotalSnapshots  int                   `json:"totalSnapshots"`
	Malformed       int                   `json:"malformed"`
	VersionsCreated int                   `json:"versionsCreated"`
	Absorbed        int                   `json:"absorbed"`
	Rejected        int                   `json:"rejected"`
	FailedKeys      int                   `json:"failedKeys"`
	Keys            map[string]*KeyResult `json:"keys"`
}

// Apply reconciles a batch of snapshots against the history store. Malformed
// snapshots are rejected individually; a failure on one key never affects
// another key's processing.
func (s *Service) Apply(ctx context.Context, batch []domain.Snapshot) (Report, error) {
	report := Report{
		TotalSnapshots: len(batch),
		Keys:           map[string]*KeyResult{},
	}

	grouped := make(map[string][]domain.Snapshot)
	var keys []string
	for _, snapshot := range batch {
		if err := snapshot.Validate(); err != nil {
			report.Malformed++
			report.Rejected++
			s.recordRejection(ctx, snapshot, err.Error())
			continue
		}
		key := snapshot.BusinessKey
		if _, seen := grouped[key]; !seen {
			keys = append(keys, key)
		}
		grouped[key] = append(grouped[key], snapshot)
	}

	// Stable sort keeps arrival order as the tie-break for identical
	// timestamps; the outcome is deterministic for a fixed input ordering.
	for _, key := range keys {
		snapshots := grouped[key]
		sort.SliceStable(snapshots, func(i, j int) bool {
			return snapshots[i].ObservedAt.Before(snapshots[j].ObservedAt)
		})
	}

	results := make([]*KeyResult, len(keys))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.opts.Workers)
	for i, key := range keys {
		i, key := i, key
		group.Go(func() error {
			results[i] = s.applyKey(groupCtx, key, grouped[key])
			return nil
		})
	}
	// Per-key failures are reported, never propagated.
	_ = group.Wait()

	for _, result := range results {
		report.Keys[result.BusinessKey] = result
		report.VersionsCreated += result.VersionsCreated
		report.Absorbed += result.Absorbed
		report.Rejected += result.Rejected
		if result.Error != "" {
			report.FailedKeys++
		}
	}

	return report, nil
}

// applyKey walks one key's snapshots in timestamp order against its current
// row. Conflicts re-fetch the current row and retry the same snapshot a
// bounded number of times.
func (s *Service) applyKey(ctx context.Context, key string, snapshots []domain.Snapshot) *KeyResult {
	result := &KeyResult{BusinessKey: key}

	current, found, err := s.historyRepo.GetCurrent(ctx, key)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	lastVersion := int64(0)
	if found {
		lastVersion = current.Version
	} else {
		count, countErr := s.historyRepo.CountByKey(ctx, key)
		if countErr != nil {
			result.Error = countErr.Error()
			return result
		}
		lastVersion = count
	}

	for _, snapshot := range snapshots {
		var stepErr error
		for attempt := 0; attempt <= s.opts.MaxRetries; attempt++ {
			if attempt > 0 {
				current, found, stepErr = s.historyRepo.GetCurrent(ctx, key)
				if stepErr != nil {
					break
				}
				if found && current.Version > lastVersion {
					lastVersion = current.Version
				}
			}
			stepErr = s.applySnapshot(ctx, snapshot, &current, &found, &lastVersion, result)
			if !errors.Is(stepErr, repository.ErrConflict) {
				break
			}
			s.log.Warn("retrying after concurrent modification",
				zap.String("business_key", key),
				zap.Int("attempt", attempt+1))
		}

		if errors.Is(stepErr, ErrOutOfOrderSnapshot) {
			result.OutOfOrder++
			result.Rejected++
			s.recordRejection(ctx, snapshot, stepErr.Error())
			if s.opts.StrictOutOfOrder {
				result.Error = stepErr.Error()
				return result
			}
			continue
		}
		if stepErr != nil {
			// Conflict retries exhausted or storage failure. The key's
			// remaining sub-batch depends on state we no longer trust.
			result.Error = stepErr.Error()
			s.log.Error("key sub-batch failed",
				zap.String("business_key", key),
				zap.Error(stepErr))
			return result
		}
	}

	return result
}

func (s *Service) applySnapshot(
	ctx context.Context,
	snapshot domain.Snapshot,
	current *domain.HistoryRow,
	found *bool,
	lastVersion *int64,
	result *KeyResult,
) error {
	if snapshot.Retired {
		if !*found {
			// Nothing to retire; absorb rather than fabricate a row.
			result.Absorbed++
			return nil
		}
		if err := s.historyRepo.Close(ctx, current.ID, snapshot.ObservedAt); err != nil {
			return err
		}
		*found = false
		result.Retired = true
		return nil
	}

	if !*found {
		next := domain.NewHistoryRow(snapshot.BusinessKey, snapshot.EntityType, snapshot.Attributes, snapshot.ObservedAt, *lastVersion+1)
		if err := s.historyRepo.InsertCurrent(ctx, next); err != nil {
			return err
		}
		*current = next
		*found = true
		*lastVersion = next.Version
		result.VersionsCreated++
		result.Retired = false
		return nil
	}

	if snapshot.ObservedAt.Before(current.ValidFrom) {
		return fmt.Errorf("%w: snapshot at %s, valid_from %s",
			ErrOutOfOrderSnapshot, snapshot.ObservedAt.Format("2006-01-02 15:04:05"), current.ValidFrom.Format("2006-01-02 15:04:05"))
	}

	if s.policy.TrackedEqual(current.Attributes, snapshot.Attributes) {
		// Duplicate poll or untracked-only change: no new version, but the
		// stored current row carries the latest untracked values.
		if !domain.ValuesEqual(current.Attributes, snapshot.Attributes) {
			if err := s.historyRepo.RefreshAttributes(ctx, current.ID, snapshot.Attributes); err != nil {
				return err
			}
			*current = current.WithAttributes(snapshot.Attributes)
		}
		result.Absorbed++
		return nil
	}

	next := domain.NewHistoryRow(snapshot.BusinessKey, snapshot.EntityType, snapshot.Attributes, snapshot.ObservedAt, current.Version+1)
	if err := s.historyRepo.Transition(ctx, current.ID, snapshot.ObservedAt, next); err != nil {
		return err
	}
	*current = next
	*lastVersion = next.Version
	result.VersionsCreated++
	return nil
}

func (s *Service) recordRejection(ctx context.Context, snapshot domain.Snapshot, reason string) {
	if s.rejectionRepo == nil {
		return
	}
	entry := domain.SnapshotRejection{
		BusinessKey: snapshot.BusinessKey,
		EntityType:  snapshot.EntityType,
		RowNumber:   snapshot.RowNumber,
		Reason:      reason,
	}
	if err := s.rejectionRepo.Record(ctx, entry); err != nil {
		s.log.Warn("failed to record rejection",
			zap.String("business_key", snapshot.BusinessKey),
			zap.Error(err))
	}
}
