package profile

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/chronofi/chronolend/internal/chronotype"
	"github.com/chronofi/chronolend/internal/fixedpoint"
	"github.com/chronofi/chronolend/internal/syncutil"
)

// Risk score adjustments applied on repayment outcomes.
const (
	onTimeReward   = 25 // subtracted for on-time or early repayment
	lateBasePenalty = 50 // added for any late repayment
	latePerDay      = 10 // added per day overdue
)

// alignmentHours is the size of a borrower's personal optimal-hour set.
const alignmentHours = 5

// Service is the single writer of circadian profiles. Updates are
// read-modify-write against the store, serialized per borrower so the
// admin override and the ledger's session recording cannot interleave.
type Service struct {
	store     Store
	predictor chronotype.Predictor

	minSessionsForML  int
	mlUpdateFrequency time.Duration

	logger *slog.Logger
	now    func() time.Time
	locks  syncutil.ShardedMutex
}

// NewService creates a profile service. predictor may be nil, in which
// case chronotype updates are skipped entirely.
func NewService(store Store, predictor chronotype.Predictor, minSessionsForML int, mlUpdateFrequency time.Duration, logger *slog.Logger) *Service {
	if minSessionsForML <= 0 {
		minSessionsForML = 5
	}
	return &Service{
		store:             store,
		predictor:         predictor,
		minSessionsForML:  minSessionsForML,
		mlUpdateFrequency: mlUpdateFrequency,
		logger:            logger,
		now:               time.Now,
	}
}

// WithClock overrides the time source. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// MinSessionsForML exposes the ML eligibility threshold for engines that
// must apply the same gate.
func (s *Service) MinSessionsForML() int { return s.minSessionsForML }

// Get returns the stored profile, or the neutral default for borrowers
// with no history. Never fails on absence.
func (s *Service) Get(ctx context.Context, borrower string) (*Profile, error) {
	borrower = strings.ToLower(borrower)
	p, err := s.store.Get(ctx, borrower)
	if err != nil {
		if err == ErrProfileNotFound {
			return Neutral(borrower), nil
		}
		return nil, err
	}
	return p, nil
}

// RecordBorrowSession registers a borrow event at the given hour of day,
// creating the profile on first use. Consistency and alignment are
// recomputed from the updated histogram.
func (s *Service) RecordBorrowSession(ctx context.Context, borrower string, hour int) (*Profile, error) {
	if hour < 0 || hour > 23 {
		return nil, fmt.Errorf("hour %d out of range", hour)
	}
	borrower = strings.ToLower(borrower)
	defer s.locks.Lock(borrower)()

	p, err := s.store.Get(ctx, borrower)
	if err == ErrProfileNotFound {
		p = Neutral(borrower)
		p.CreatedAt = s.now()
	} else if err != nil {
		return nil, err
	}

	p.TotalBorrowSessions++
	p.HourHistogram[hour]++
	p.ConsistencyScore = consistencyScore(p.HourHistogram)
	p.CurrentAlignment = alignmentScore(p.HourHistogram)
	p.UpdatedAt = s.now()

	if err := s.store.Upsert(ctx, p); err != nil {
		return nil, fmt.Errorf("persist borrow session: %w", err)
	}
	return p, nil
}

// RecordRepayment registers a repayment outcome. On-time repayment moves
// the risk score down (bounded at 0); late repayment moves it up in
// proportion to days late (bounded at 1000).
func (s *Service) RecordRepayment(ctx context.Context, borrower string, onTime bool, daysLate int) (*Profile, error) {
	borrower = strings.ToLower(borrower)
	defer s.locks.Lock(borrower)()

	p, err := s.store.Get(ctx, borrower)
	if err == ErrProfileNotFound {
		p = Neutral(borrower)
		p.CreatedAt = s.now()
	} else if err != nil {
		return nil, err
	}

	p.TotalRepaymentSessions++
	if onTime {
		p.RiskScore = fixedpoint.ClampScore(int64(p.RiskScore) - onTimeReward)
	} else {
		if daysLate < 0 {
			daysLate = 0
		}
		p.RiskScore = fixedpoint.ClampScore(int64(p.RiskScore) + lateBasePenalty + int64(daysLate)*latePerDay)
	}
	p.UpdatedAt = s.now()

	if err := s.store.Upsert(ctx, p); err != nil {
		return nil, fmt.Errorf("persist repayment: %w", err)
	}
	return p, nil
}

// MaybeUpdateChronotype consults the classifier when the borrower has
// enough sessions and the previous verdict is stale. Classifier failure
// is soft: the stored chronotype stays in place and no error surfaces.
func (s *Service) MaybeUpdateChronotype(ctx context.Context, borrower string, pattern [24]float64) error {
	if s.predictor == nil {
		return nil
	}
	borrower = strings.ToLower(borrower)

	p, err := s.store.Get(ctx, borrower)
	if err != nil {
		if err == ErrProfileNotFound {
			return nil
		}
		return err
	}

	if p.TotalBorrowSessions < s.minSessionsForML {
		return nil
	}
	if !p.LastMLUpdate.IsZero() && s.now().Sub(p.LastMLUpdate) < s.mlUpdateFrequency {
		return nil
	}

	pred, err := s.predictor.Predict(ctx, pattern)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("chronotype update skipped",
				"borrower", borrower,
				"error", err,
			)
		}
		return nil
	}

	// Re-read under the borrower lock: session counters may have moved
	// while the classifier was running.
	unlock := s.locks.Lock(borrower)
	p, err = s.store.Get(ctx, borrower)
	if err != nil {
		unlock()
		return err
	}
	p.Chronotype = pred.Chronotype
	p.ConfidenceBps = fixedpoint.ClampScore(int64(pred.ConfidenceBps))
	p.LastMLUpdate = s.now()
	p.UpdatedAt = s.now()

	if err := s.store.Upsert(ctx, p); err != nil {
		unlock()
		return fmt.Errorf("persist chronotype: %w", err)
	}
	unlock()

	if s.logger != nil {
		s.logger.Info("chronotype updated",
			"borrower", borrower,
			"chronotype", p.Chronotype.String(),
			"confidence", p.ConfidenceBps,
		)
	}
	return nil
}

// SetChronotype is the administrative override. It stamps the same
// fields a classifier verdict would.
func (s *Service) SetChronotype(ctx context.Context, borrower string, ct chronotype.Chronotype, confidenceBps uint64) (*Profile, error) {
	if !ct.Valid() {
		return nil, fmt.Errorf("invalid chronotype %d", int(ct))
	}
	borrower = strings.ToLower(borrower)
	defer s.locks.Lock(borrower)()

	p, err := s.store.Get(ctx, borrower)
	if err == ErrProfileNotFound {
		p = Neutral(borrower)
		p.CreatedAt = s.now()
	} else if err != nil {
		return nil, err
	}

	p.Chronotype = ct
	p.ConfidenceBps = fixedpoint.ClampScore(int64(confidenceBps))
	p.LastMLUpdate = s.now()
	p.UpdatedAt = s.now()

	if err := s.store.Upsert(ctx, p); err != nil {
		return nil, fmt.Errorf("persist chronotype override: %w", err)
	}
	return p, nil
}

// consistencyScore maps the hour histogram's dispersion to [0,1000]:
// 1000 * (1 - H/Hmax) where H is the Shannon entropy of the hourly
// distribution. All sessions in one hour scores 1000; a uniform spread
// scores 0; an empty histogram scores 0.
func consistencyScore(hist [24]int) uint64 {
	total := 0
	for _, c := range hist {
		total += c
	}
	if total == 0 {
		return 0
	}

	var entropy float64
	for _, c := range hist {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(total)
		entropy -= p * math.Log(p)
	}

	maxEntropy := math.Log(24)
	score := 1000 * (1 - entropy/maxEntropy)
	return fixedpoint.ClampScore(int64(math.Round(score)))
}

// alignmentScore is the share of sessions falling inside the borrower's
// own top-5 hour set, scaled to [0,1000].
func alignmentScore(hist [24]int) uint64 {
	total := 0
	for _, c := range hist {
		total += c
	}
	if total == 0 {
		return 0
	}

	counts := make([]int, 24)
	copy(counts, hist[:])
	// Partial selection of the five largest counts.
	inTop := 0
	for i := 0; i < alignmentHours; i++ {
		best := -1
		bestIdx := -1
		for j, c := range counts {
			if c > best {
				best = c
				bestIdx = j
			}
		}
		if bestIdx < 0 || best == 0 {
			break
		}
		inTop += best
		counts[bestIdx] = -1
	}

	return fixedpoint.ClampScore(int64(math.Round(1000 * float64(inTop) / float64(total))))
}
