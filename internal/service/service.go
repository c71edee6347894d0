package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Dan9191/p2p-lending/internal/config"
	"github.com/Dan9191/p2p-lending/internal/contract"
	"github.com/Dan9191/p2p-lending/internal/metrics"
	"github.com/Dan9191/p2p-lending/internal/models"
	"github.com/Dan9191/p2p-lending/internal/repository"
	"github.com/Dan9191/p2p-lending/internal/scoring"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var (
	ErrNotFound                 = repository.ErrNotFound
	ErrNotAcceptingInvestments  = repository.ErrNotAccepting
	ErrInvestmentExceedsRequest = repository.ErrExceedsRequest
	ErrNotRepayable             = repository.ErrNotRepayable

	ErrNotApproved    = errors.New("loan application was not approved")
	ErrSelfInvestment = errors.New("borrowers cannot invest in their own loan")
	ErrForbidden      = errors.New("operation not permitted for this wallet")
)

const historyLimit = 50

// Store is the persistence the service needs; *repository.Repository implements it
type Store interface {
	GetOrCreateUser(ctx context.Context, wallet string, details models.UserDetails) (*models.User, error)
	FindUserByWallet(ctx context.Context, wallet string) (*models.User, error)
	MarkRegistered(ctx context.Context, wallet, txHash string) (*models.User, error)
	SaveEvaluation(ctx context.Context, userID int64, res *scoring.Result) (int64, error)
	GetEvaluation(ctx context.Context, id int64) (*models.Evaluation, error)
	ListEvaluationsByWallet(ctx context.Context, wallet string, limit int) ([]models.Evaluation, error)
	SaveSimulation(ctx context.Context, sim *models.Simulation) error
	CreateLoanRequest(ctx context.Context, loan *models.LoanRequest) error
	GetLoanRequest(ctx context.Context, id int64) (*models.LoanRequest, error)
	LinkContractRequest(ctx context.Context, id int64, ref, txHash string) error
	ListLoansByWallet(ctx context.Context, wallet string) ([]models.LoanRequest, error)
	ListMarketplace(ctx context.Context, excludeWallet string) ([]models.LoanRequest, error)
	RecordInvestment(ctx context.Context, inv *models.Investment) (*models.LoanRequest, error)
	RecordRepayment(ctx context.Context, rep *models.Repayment) (*models.LoanRequest, error)
	ListInvestments(ctx context.Context, loanID int64) ([]models.Investment, error)
	PlatformStats(ctx context.Context) (*models.PlatformStats, error)
}

// Notifier sends borrower notifications; *email.Sender implements it
type Notifier interface {
	SendLoanConfirmation(to, name string, loan *models.LoanRequest) error
	SendInvestmentReceived(to, name string, loan *models.LoanRequest, amount float64) error
	SendRepaymentReceived(to, name string, loan *models.LoanRequest, amount float64) error
}

// RateSource quotes the fiat price of one native token
type RateSource interface {
	FiatPerNative(ctx context.Context) (decimal.Decimal, error)
}

// Service handles business logic
type Service struct {
	store  Store
	engine *scoring.Engine
	units  *contract.Converter
	notify Notifier
	log    *logrus.Logger
	config *config.Config
	now    func() time.Time
}

// NewService initializes a new service
func NewService(store Store, engine *scoring.Engine, units *contract.Converter, notify Notifier, log *logrus.Logger, cfg *config.Config) *Service {
	return &Service{
		store:  store,
		engine: engine,
		units:  units,
		notify: notify,
		log:    log,
		config: cfg,
		now:    time.Now,
	}
}

// Policy returns the scoring policy in effect.
func (s *Service) Policy() scoring.Policy {
	return s.engine.Policy()
}

func normalizeWallet(wallet string) string {
	return strings.ToLower(strings.TrimSpace(wallet))
}

// evaluate runs the engine, accepting fallback results with a warning.
func (s *Service) evaluate(in scoring.Input) (*scoring.Result, error) {
	res, err := s.engine.Evaluate(in)
	if err != nil {
		if !errors.Is(err, scoring.ErrFallback) {
			if errors.Is(err, scoring.ErrInvalidInput) {
				metrics.ValidationFailures.Inc()
			}
			return nil, err
		}
		s.log.Warnf("Accepted fallback evaluation: %v", err)
	}
	metrics.Evaluations.WithLabelValues(res.Source, string(res.Category)).Inc()
	return res, nil
}

// EvaluateRequest is a scoring request, optionally tied to a wallet
type EvaluateRequest struct {
	scoring.Input
	WalletAddress  string             `json:"wallet_address"`
	SaveToDatabase bool               `json:"save_to_database"`
	User           models.UserDetails `json:"user"`
}

// EvaluationOutcome is a scoring result plus where it was stored
type EvaluationOutcome struct {
	*scoring.Result
	EvaluationID int64 `json:"evaluation_id,omitempty"`
	UserID       int64 `json:"user_id,omitempty"`
	Saved        bool  `json:"saved"`
}

// CalculateCreditScore scores an application. Persistence is best-effort:
// a failed write is logged and counted, and the result is still returned.
func (s *Service) CalculateCreditScore(ctx context.Context, req EvaluateRequest) (*EvaluationOutcome, error) {
	res, err := s.evaluate(req.Input)
	if err != nil {
		return nil, err
	}
	out := &EvaluationOutcome{Result: res}

	wallet := normalizeWallet(req.WalletAddress)
	if !req.SaveToDatabase || wallet == "" {
		return out, nil
	}
	user, err := s.store.GetOrCreateUser(ctx, wallet, req.User)
	if err != nil {
		s.persistFailed("user", err)
		return out, nil
	}
	id, err := s.store.SaveEvaluation(ctx, user.ID, res)
	if err != nil {
		s.persistFailed("evaluation", err)
		return out, nil
	}
	out.EvaluationID, out.UserID, out.Saved = id, user.ID, true
	s.log.Infof("Evaluation %d saved for %s: score %d", id, wallet, res.FinalScore)
	return out, nil
}

func (s *Service) persistFailed(op string, err error) {
	metrics.PersistenceFailures.WithLabelValues(op).Inc()
	s.log.Warnf("Failed to persist %s: %v", op, err)
}

// CheckLoanEligibility answers whether the application would be approved.
func (s *Service) CheckLoanEligibility(ctx context.Context, wallet string, in scoring.Input) (*scoring.Eligibility, error) {
	res, err := s.evaluate(in)
	if err != nil {
		return nil, err
	}
	el := scoring.EligibilityFor(res, s.engine.Policy().MinimumScore)
	if wallet != "" {
		s.log.Infof("Eligibility for %s: eligible=%t score=%d", normalizeWallet(wallet), el.Eligible, res.FinalScore)
	}
	return el, nil
}

// Variation changes parts of a base application
type Variation struct {
	Name           string                     `json:"name"`
	Factors        map[scoring.Factor]float64 `json:"factors"`
	LoanAmount     *float64                   `json:"loan_amount,omitempty"`
	LoanTermMonths *int                       `json:"loan_term_months,omitempty"`
	MonthlyIncome  *float64                   `json:"monthly_income,omitempty"`
}

func (v Variation) apply(in scoring.Input) scoring.Input {
	for name, score := range v.Factors {
		in.Factors = in.Factors.With(name, score)
	}
	if v.LoanAmount != nil {
		in.LoanAmount = *v.LoanAmount
	}
	if v.LoanTermMonths != nil {
		in.LoanTermMonths = *v.LoanTermMonths
	}
	if v.MonthlyIncome != nil {
		in.MonthlyIncome = *v.MonthlyIncome
	}
	return in
}

// SimulationRequest compares variations against a base application
type SimulationRequest struct {
	WalletAddress string        `json:"wallet_address"`
	Base          scoring.Input `json:"base"`
	Variations    []Variation   `json:"variations"`
}

// Scenario is one evaluated variation
type Scenario struct {
	Name        string          `json:"name"`
	Result      *scoring.Result `json:"result"`
	Improvement int             `json:"improvement"`
}

// SimulationResult holds the base evaluation and every scenario
type SimulationResult struct {
	Base      *scoring.Result `json:"base"`
	Scenarios []Scenario      `json:"scenarios"`
}

// SimulateScenarios evaluates the base application and each variation
// without saving evaluations. The comparison itself is stored best-effort
// when a known wallet is given.
func (s *Service) SimulateScenarios(ctx context.Context, req SimulationRequest) (*SimulationResult, error) {
	base, err := s.evaluate(req.Base)
	if err != nil {
		return nil, err
	}
	out := &SimulationResult{Base: base, Scenarios: make([]Scenario, 0, len(req.Variations))}
	for i, v := range req.Variations {
		res, err := s.evaluate(v.apply(req.Base))
		if err != nil {
			return nil, fmt.Errorf("variation %d: %w", i, err)
		}
		name := v.Name
		if name == "" {
			name = fmt.Sprintf("scenario_%d", i+1)
		}
		out.Scenarios = append(out.Scenarios, Scenario{
			Name:        name,
			Result:      res,
			Improvement: res.FinalScore - base.FinalScore,
		})
	}

	wallet := normalizeWallet(req.WalletAddress)
	if wallet == "" {
		return out, nil
	}
	user, err := s.store.FindUserByWallet(ctx, wallet)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.persistFailed("simulation", err)
		}
		return out, nil
	}
	variations, err := json.Marshal(out.Scenarios)
	if err != nil {
		s.persistFailed("simulation", err)
		return out, nil
	}
	sim := &models.Simulation{
		UserID:     user.ID,
		BaseInput:  req.Base,
		BaseScore:  base.FinalScore,
		Variations: variations,
		Type:       "what_if",
	}
	if err := s.store.SaveSimulation(ctx, sim); err != nil {
		s.persistFailed("simulation", err)
	}
	return out, nil
}

// GetEvaluation retrieves a stored evaluation
func (s *Service) GetEvaluation(ctx context.Context, id int64) (*models.Evaluation, error) {
	return s.store.GetEvaluation(ctx, id)
}

// UserCreditHistory lists a wallet's evaluations, most recent first
func (s *Service) UserCreditHistory(ctx context.Context, wallet string) ([]models.Evaluation, error) {
	return s.store.ListEvaluationsByWallet(ctx, normalizeWallet(wallet), historyLimit)
}

// PlatformStats returns platform-wide totals
func (s *Service) PlatformStats(ctx context.Context) (*models.PlatformStats, error) {
	return s.store.PlatformStats(ctx)
}

// RefreshExchangeRate pulls a fresh rate and applies it to contract conversions.
func (s *Service) RefreshExchangeRate(ctx context.Context, src RateSource) error {
	rate, err := src.FiatPerNative(ctx)
	if err == nil {
		err = s.units.SetFiatPerNative(rate)
	}
	if err != nil {
		metrics.RateRefreshes.WithLabelValues("error").Inc()
		s.log.Errorf("Failed to refresh exchange rate: %v", err)
		return fmt.Errorf("failed to refresh exchange rate: %w", err)
	}
	metrics.RateRefreshes.WithLabelValues("ok").Inc()
	s.log.Infof("Exchange rate updated: %s fiat per native unit", rate)
	return nil
}
