package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/chronofi/chronolend/internal/collateral"
	"github.com/chronofi/chronolend/internal/fixedpoint"
	"github.com/chronofi/chronolend/internal/metrics"
	"github.com/chronofi/chronolend/internal/pagination"
	"github.com/chronofi/chronolend/internal/penalty"
	"github.com/chronofi/chronolend/internal/profile"
	"github.com/chronofi/chronolend/internal/rates"
	"github.com/chronofi/chronolend/internal/syncutil"
	"github.com/chronofi/chronolend/internal/tokens"
	"github.com/chronofi/chronolend/internal/traces"
)

// Broadcaster pushes committed ledger events to live subscribers.
// Narrow so the service doesn't depend on the websocket hub directly.
type Broadcaster interface {
	BroadcastLoanEvent(kind string, data map[string]interface{})
}

// IssueRequest carries the parameters for opening a loan.
type IssueRequest struct {
	Borrower   string
	TokenType  tokens.Type
	Amount     *big.Int
	Collateral *big.Int
	// Pattern, when present, is the borrower's 24-hour activity vector
	// forwarded to the chronotype classifier.
	Pattern *[24]float64
}

// Terms is the read-only preview of what a loan would cost right now.
type Terms struct {
	Borrower           string                  `json:"borrower"`
	TokenType          tokens.Type             `json:"tokenType"`
	Amount             string                  `json:"amount"`
	RequiredCollateral string                  `json:"requiredCollateral"`
	CollateralPctBps   uint64                  `json:"collateralPctBps"`
	RateBps            uint64                  `json:"rateBps"`
	Hour               int                     `json:"hour"`
	RiskScore          uint64                  `json:"riskScore"`
	Chronotype         string                  `json:"chronotype"`
	Requirement        *collateral.Requirement `json:"requirement"`
	Quote              *rates.Quote            `json:"quote"`
}

// Service implements the loan lifecycle. Mutating operations are
// serialized per borrower around the full read-modify-write; reads go
// straight to the stores.
type Service struct {
	loans      Store
	events     EventStore
	vault      Vault
	profiles   *profile.Service
	collateral *collateral.Engine
	rates      *rates.Engine
	penalties  *penalty.Schedule
	registry   *tokens.Registry

	loanTerm time.Duration

	broadcaster Broadcaster
	logger      *slog.Logger
	now         func() time.Time

	// locks serializes mutations per borrower so concurrent operations
	// on one borrower's loans cannot interleave vault transfers.
	locks *syncutil.ContextShardedMutex
}

// NewService creates a loan ledger service.
func NewService(
	loans Store,
	events EventStore,
	vault Vault,
	profiles *profile.Service,
	collateralEngine *collateral.Engine,
	rateEngine *rates.Engine,
	penalties *penalty.Schedule,
	registry *tokens.Registry,
	loanTermDays int,
	logger *slog.Logger,
) *Service {
	if loanTermDays <= 0 {
		loanTermDays = 30
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		loans:      loans,
		events:     events,
		vault:      vault,
		profiles:   profiles,
		collateral: collateralEngine,
		rates:      rateEngine,
		penalties:  penalties,
		registry:   registry,
		loanTerm:   time.Duration(loanTermDays) * 24 * time.Hour,
		logger:     logger,
		now:        time.Now,
		locks:      syncutil.NewContextShardedMutex(),
	}
}

// WithBroadcaster attaches a live event broadcaster.
func (s *Service) WithBroadcaster(b Broadcaster) *Service {
	s.broadcaster = b
	return s
}

// WithClock overrides the time source. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// PreviewTerms computes the collateral requirement and rate a borrower
// would get right now. Read-only; never fails for unknown borrowers.
func (s *Service) PreviewTerms(ctx context.Context, borrower string, tokenType tokens.Type, amount *big.Int) (*Terms, error) {
	borrower = strings.ToLower(borrower)

	prof, err := s.profiles.Get(ctx, borrower)
	if err != nil {
		return nil, err
	}

	req, err := s.collateral.Required(prof, tokenType, amount)
	if err != nil {
		return nil, err
	}

	hour := s.now().UTC().Hour()
	quote, err := s.rates.ML(prof, tokenType, hour)
	if err != nil {
		return nil, err
	}

	return &Terms{
		Borrower:           borrower,
		TokenType:          tokenType,
		Amount:             fixedpoint.Format(amount),
		RequiredCollateral: fixedpoint.Format(req.Collateral),
		CollateralPctBps:   req.PctBps,
		RateBps:            quote.RateBps,
		Hour:               hour,
		RiskScore:          prof.RiskScore,
		Chronotype:         prof.EffectiveChronotype(s.profiles.MinSessionsForML()).String(),
		Requirement:        req,
		Quote:              quote,
	}, nil
}

// Issue opens a loan: verifies the supplied collateral against the
// engine's requirement, escrows it, and credits the borrowed tokens.
// The collateral check and the terms preview share one code path.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (*Loan, error) {
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.Collateral == nil || req.Collateral.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	borrower := strings.ToLower(req.Borrower)

	ctx, span := traces.StartSpan(ctx, "ledger.Issue",
		traces.Borrower(borrower),
		traces.Token(req.TokenType.String()),
		traces.Amount(fixedpoint.Format(req.Amount)),
	)
	defer span.End()

	unlock, err := s.locks.LockContext(ctx, borrower)
	if err != nil {
		return nil, err
	}
	defer unlock()

	terms, err := s.PreviewTerms(ctx, borrower, req.TokenType, req.Amount)
	if err != nil {
		return nil, err
	}

	required := terms.Requirement.Collateral
	if req.Collateral.Cmp(required) < 0 {
		return nil, fmt.Errorf("%w: need %s, offered %s", ErrInsufficientCollateral,
			fixedpoint.Format(required), fixedpoint.Format(req.Collateral))
	}

	// Escrow the posted collateral, then hand out the tokens. If the
	// second transfer fails the collateral is returned.
	if err := s.vault.Transfer(ctx, borrower, EscrowAccount, CashAsset, req.Collateral); err != nil {
		return nil, fmt.Errorf("escrow collateral: %w", err)
	}
	if err := s.vault.Transfer(ctx, ProtocolAccount, borrower, req.TokenType.String(), req.Amount); err != nil {
		_ = s.vault.Transfer(ctx, EscrowAccount, borrower, CashAsset, req.Collateral)
		return nil, fmt.Errorf("disburse tokens: %w", err)
	}

	now := s.now()
	loan := &Loan{
		Borrower:         borrower,
		TokenType:        req.TokenType,
		TokenAmount:      fixedpoint.Format(req.Amount),
		CollateralAmount: fixedpoint.Format(req.Collateral),
		RateBps:          terms.RateBps,
		IssuedAt:         now,
		Deadline:         now.Add(s.loanTerm),
		Status:           StatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.loans.Create(ctx, loan); err != nil {
		_ = s.vault.Transfer(ctx, borrower, ProtocolAccount, req.TokenType.String(), req.Amount)
		_ = s.vault.Transfer(ctx, EscrowAccount, borrower, CashAsset, req.Collateral)
		return nil, fmt.Errorf("create loan record: %w", err)
	}

	if _, err := s.profiles.RecordBorrowSession(ctx, borrower, now.UTC().Hour()); err != nil {
		s.logger.Warn("borrow session not recorded", "loanId", loan.ID, "error", err)
	}
	if req.Pattern != nil {
		if err := s.profiles.MaybeUpdateChronotype(ctx, borrower, *req.Pattern); err != nil {
			s.logger.Warn("chronotype update failed", "borrower", borrower, "error", err)
		}
	}

	s.emit(ctx, &Event{
		Kind:       EventLoanIssued,
		LoanID:     loan.ID,
		Borrower:   borrower,
		Token:      loan.TokenType.String(),
		Amount:     loan.TokenAmount,
		Collateral: loan.CollateralAmount,
	})

	metrics.LoansIssuedTotal.WithLabelValues(loan.TokenType.String()).Inc()
	metrics.ActiveLoans.Inc()

	s.logger.Info("loan issued",
		"loanId", loan.ID,
		"borrower", borrower,
		"token", loan.TokenType.String(),
		"amount", loan.TokenAmount,
		"collateral", loan.CollateralAmount,
		"rateBps", loan.RateBps,
	)
	return loan, nil
}

// Repay settles an active loan: the borrower pays principal plus
// accrued interest in the borrowed token, any lateness penalty is
// retained from the escrowed collateral, and the remainder is returned.
func (s *Service) Repay(ctx context.Context, loanID int64, caller string) (*Loan, error) {
	ctx, span := traces.StartSpan(ctx, "ledger.Repay", traces.LoanID(loanID))
	defer span.End()

	// The caller must be the borrower, so their address is the lock key.
	unlock, err := s.locks.LockContext(ctx, strings.ToLower(caller))
	if err != nil {
		return nil, err
	}
	defer unlock()

	loan, err := s.loans.Get(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(caller, loan.Borrower) {
		return nil, ErrUnauthorized
	}
	if loan.Status != StatusActive {
		return nil, ErrLoanNotActive
	}

	now := s.now()
	principal, _ := fixedpoint.Parse(loan.TokenAmount)
	collateralAmt, _ := fixedpoint.Parse(loan.CollateralAmount)

	interest := rates.Accrued(principal, loan.RateBps, now.Sub(loan.IssuedAt))
	owed := new(big.Int).Add(principal, interest)

	available, err := s.vault.Balance(ctx, loan.Borrower, loan.TokenType.String())
	if err != nil {
		return nil, err
	}
	if available.Cmp(owed) < 0 {
		return nil, &InsufficientBalanceError{
			TokenType: loan.TokenType,
			Required:  owed,
			Available: available,
		}
	}

	daysOverdue := loan.DaysOverdue(now)
	penaltyAmt := s.penalties.Amount(collateralAmt, daysOverdue)
	returned := new(big.Int).Sub(collateralAmt, penaltyAmt)

	if err := s.vault.Transfer(ctx, loan.Borrower, ProtocolAccount, loan.TokenType.String(), owed); err != nil {
		return nil, fmt.Errorf("collect repayment: %w", err)
	}
	if penaltyAmt.Sign() > 0 {
		if err := s.vault.Transfer(ctx, EscrowAccount, ProtocolAccount, CashAsset, penaltyAmt); err != nil {
			_ = s.vault.Transfer(ctx, ProtocolAccount, loan.Borrower, loan.TokenType.String(), owed)
			return nil, fmt.Errorf("retain penalty: %w", err)
		}
	}
	if returned.Sign() > 0 {
		if err := s.vault.Transfer(ctx, EscrowAccount, loan.Borrower, CashAsset, returned); err != nil {
			_ = s.vault.Transfer(ctx, ProtocolAccount, EscrowAccount, CashAsset, penaltyAmt)
			_ = s.vault.Transfer(ctx, ProtocolAccount, loan.Borrower, loan.TokenType.String(), owed)
			return nil, fmt.Errorf("release collateral: %w", err)
		}
	}

	loan.Status = StatusRepaid
	loan.InterestAccrued = fixedpoint.Format(interest)
	loan.PenaltyAmount = fixedpoint.Format(penaltyAmt)
	loan.ResolvedAt = &now
	loan.UpdatedAt = now

	if err := s.loans.Update(ctx, loan); err != nil {
		// Funds already moved; retry once before surfacing.
		if retryErr := s.loans.Update(ctx, loan); retryErr != nil {
			s.logger.Error("loan repaid but record update failed, manual resolution required",
				"loanId", loan.ID, "error", retryErr)
			return nil, fmt.Errorf("persist repayment: %w", retryErr)
		}
	}

	onTime := daysOverdue == 0 && !now.After(loan.Deadline)
	if _, err := s.profiles.RecordRepayment(ctx, loan.Borrower, onTime, daysOverdue); err != nil {
		s.logger.Warn("repayment outcome not recorded", "loanId", loan.ID, "error", err)
	}

	s.emit(ctx, &Event{
		Kind:       EventLoanRepaid,
		LoanID:     loan.ID,
		Borrower:   loan.Borrower,
		Token:      loan.TokenType.String(),
		Amount:     fixedpoint.Format(owed),
		Collateral: loan.CollateralAmount,
		Interest:   loan.InterestAccrued,
		Penalty:    loan.PenaltyAmount,
	})

	timing := "on_time"
	if !onTime {
		timing = "late"
	}
	metrics.LoansRepaidTotal.WithLabelValues(timing).Inc()
	if penaltyAmt.Sign() > 0 {
		metrics.PenaltiesAppliedTotal.Inc()
	}
	metrics.ActiveLoans.Dec()
	metrics.LoanDuration.Observe(now.Sub(loan.IssuedAt).Seconds())

	s.logger.Info("loan repaid",
		"loanId", loan.ID,
		"borrower", loan.Borrower,
		"owed", fixedpoint.Format(owed),
		"interest", loan.InterestAccrued,
		"penalty", loan.PenaltyAmount,
		"daysOverdue", daysOverdue,
	)
	return loan, nil
}

// Forfeit seizes the full collateral of a far-overdue loan. Only loans
// past the terminal penalty tier are eligible.
func (s *Service) Forfeit(ctx context.Context, loanID int64) (*Loan, error) {
	ctx, span := traces.StartSpan(ctx, "ledger.Forfeit", traces.LoanID(loanID))
	defer span.End()

	loan, err := s.loans.Get(ctx, loanID)
	if err != nil {
		return nil, err
	}
	unlock, err := s.locks.LockContext(ctx, loan.Borrower)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.forfeitLocked(ctx, loanID)
}

func (s *Service) forfeitLocked(ctx context.Context, loanID int64) (*Loan, error) {
	loan, err := s.loans.Get(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != StatusActive {
		return nil, ErrLoanNotActive
	}

	now := s.now()
	daysOverdue := loan.DaysOverdue(now)
	if !s.penalties.ForfeitEligible(daysOverdue) {
		return nil, fmt.Errorf("%w: %d days overdue", ErrForfeitureNotEligible, daysOverdue)
	}

	collateralAmt, _ := fixedpoint.Parse(loan.CollateralAmount)
	if err := s.vault.Transfer(ctx, EscrowAccount, ProtocolAccount, CashAsset, collateralAmt); err != nil {
		return nil, fmt.Errorf("seize collateral: %w", err)
	}

	loan.Status = StatusForfeited
	loan.PenaltyAmount = loan.CollateralAmount
	loan.ResolvedAt = &now
	loan.UpdatedAt = now

	if err := s.loans.Update(ctx, loan); err != nil {
		if retryErr := s.loans.Update(ctx, loan); retryErr != nil {
			s.logger.Error("collateral seized but record update failed, manual resolution required",
				"loanId", loan.ID, "error", retryErr)
			return nil, fmt.Errorf("persist forfeiture: %w", retryErr)
		}
	}

	if _, err := s.profiles.RecordRepayment(ctx, loan.Borrower, false, daysOverdue); err != nil {
		s.logger.Warn("forfeiture outcome not recorded", "loanId", loan.ID, "error", err)
	}

	s.emit(ctx, &Event{
		Kind:       EventLoanForfeited,
		LoanID:     loan.ID,
		Borrower:   loan.Borrower,
		Token:      loan.TokenType.String(),
		Amount:     loan.TokenAmount,
		Collateral: loan.CollateralAmount,
		Penalty:    loan.CollateralAmount,
	})

	metrics.LoansForfeitedTotal.Inc()
	metrics.ActiveLoans.Dec()
	metrics.LoanDuration.Observe(now.Sub(loan.IssuedAt).Seconds())

	s.logger.Info("loan forfeited",
		"loanId", loan.ID,
		"borrower", loan.Borrower,
		"collateral", loan.CollateralAmount,
		"daysOverdue", daysOverdue,
	)
	return loan, nil
}

// SweepForfeitures forfeits every active loan past the terminal penalty
// tier and returns how many were seized. Called by the timer and the
// admin endpoint.
func (s *Service) SweepForfeitures(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-time.Duration(s.penalties.MajorDays) * 24 * time.Hour)
	overdue, err := s.loans.ListOverdue(ctx, cutoff, 100)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, loan := range overdue {
		if err := s.sweepOne(ctx, loan); err != nil {
			if err == ErrLoanNotActive || errors.Is(err, ErrForfeitureNotEligible) {
				continue
			}
			s.logger.Warn("sweep could not forfeit loan", "loanId", loan.ID, "error", err)
			continue
		}
		count++
	}
	return count, nil
}

func (s *Service) sweepOne(ctx context.Context, loan *Loan) error {
	unlock, err := s.locks.LockContext(ctx, loan.Borrower)
	if err != nil {
		return err
	}
	defer unlock()
	_, err = s.forfeitLocked(ctx, loan.ID)
	return err
}

// Deposit credits a vault account. Administrative: funds borrower cash
// or the protocol's token liquidity.
func (s *Service) Deposit(ctx context.Context, account, asset string, amount *big.Int) error {
	account = strings.ToLower(account)
	if asset != CashAsset {
		if _, err := tokens.ParseType(asset); err != nil {
			return err
		}
	}
	if err := s.vault.Credit(ctx, account, asset, amount); err != nil {
		return err
	}

	s.emit(ctx, &Event{
		Kind:     EventDeposit,
		Borrower: account,
		Token:    asset,
		Amount:   fixedpoint.Format(amount),
	})
	return nil
}

// GetLoan returns a loan by ID.
func (s *Service) GetLoan(ctx context.Context, id int64) (*Loan, error) {
	return s.loans.Get(ctx, id)
}

// ListByBorrower returns a page of a borrower's loans, newest first.
// An empty cursor starts from the most recent loan. The returned cursor
// is empty when no further pages exist.
func (s *Service) ListByBorrower(ctx context.Context, borrower, cursor string, limit int) ([]*Loan, string, error) {
	if limit <= 0 {
		limit = 50
	}
	beforeID, err := pagination.Decode(cursor)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s", ErrInvalidCursor, cursor)
	}

	// Fetch one extra row to learn whether another page exists.
	loans, err := s.loans.ListByBorrower(ctx, strings.ToLower(borrower), beforeID, limit+1)
	if err != nil {
		return nil, "", err
	}
	loans, next, _ := pagination.ComputePage(loans, limit, func(l *Loan) int64 { return l.ID })
	return loans, next, nil
}

// RecentEvents returns the tail of the mutation event log.
func (s *Service) RecentEvents(ctx context.Context, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.events.ListRecent(ctx, limit)
}

// BorrowerTotals reconstructs a borrower's lifetime aggregates from the
// event log.
func (s *Service) BorrowerTotals(ctx context.Context, borrower string) (*Totals, error) {
	return TotalsFor(ctx, s.events, strings.ToLower(borrower))
}

// CompareRates contrasts the legacy and behavioral rate for a borrower
// at the given hour.
func (s *Service) CompareRates(ctx context.Context, borrower string, tokenType tokens.Type, hour int) (*rates.Comparison, error) {
	prof, err := s.profiles.Get(ctx, strings.ToLower(borrower))
	if err != nil {
		return nil, err
	}
	return s.rates.Compare(prof, tokenType, hour)
}

// OptimalHours returns the borrower's cheapest borrowing hours for a token.
func (s *Service) OptimalHours(ctx context.Context, borrower string, tokenType tokens.Type) ([]rates.HourRate, error) {
	prof, err := s.profiles.Get(ctx, strings.ToLower(borrower))
	if err != nil {
		return nil, err
	}
	return s.rates.OptimalHours(prof, tokenType)
}

// VaultBalance reads one vault balance.
func (s *Service) VaultBalance(ctx context.Context, account, asset string) (*big.Int, error) {
	return s.vault.Balance(ctx, strings.ToLower(account), asset)
}

// emit appends an event to the log and pushes it to live subscribers.
// Append failure is logged, not surfaced: the mutation is already
// committed.
func (s *Service) emit(ctx context.Context, event *Event) {
	event.CreatedAt = s.now()
	if err := s.events.AppendEvent(ctx, event); err != nil {
		s.logger.Error("event append failed", "kind", event.Kind, "loanId", event.LoanID, "error", err)
	}
	if s.broadcaster != nil {
		s.broadcaster.BroadcastLoanEvent(event.Kind, map[string]interface{}{
			"loanId":     event.LoanID,
			"borrower":   event.Borrower,
			"token":      event.Token,
			"amount":     event.Amount,
			"collateral": event.Collateral,
			"interest":   event.Interest,
			"penalty":    event.Penalty,
		})
	}
}
