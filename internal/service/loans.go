package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Dan9191/p2p-lending/internal/contract"
	"github.com/Dan9191/p2p-lending/internal/models"
	"github.com/Dan9191/p2p-lending/internal/scoring"
)

var (
	// ErrInvalidRequest is returned for malformed amounts, hashes and references
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNotOnChain is returned when a loan has no linked contract request yet
	ErrNotOnChain = errors.New("loan has no contract request yet")
)

const daysPerMonth = 30

// LoanApplication is a borrower's request to list a loan
type LoanApplication struct {
	scoring.Input
	WalletAddress string             `json:"-"`
	Purpose       string             `json:"purpose"`
	Description   string             `json:"description"`
	User          models.UserDetails `json:"user"`
}

// LoanSubmission is a listed loan plus the contract calls the borrower
// submits to open it on chain, in order
type LoanSubmission struct {
	Loan       *models.LoanRequest `json:"loan"`
	Evaluation *scoring.Result     `json:"evaluation"`
	Calls      []contract.Call     `json:"calls"`
}

// LoanDetails is a loan with its investments and progress
type LoanDetails struct {
	*models.LoanRequest
	Investments       []models.Investment `json:"investments"`
	TotalDue          float64             `json:"total_due"`
	FundingProgress   int                 `json:"funding_progress"`
	RepaymentProgress int                 `json:"repayment_progress"`
}

// SubmitLoanRequest scores the application and, when approved, records the
// borrower, the evaluation and an active loan request.
func (s *Service) SubmitLoanRequest(ctx context.Context, app LoanApplication) (*LoanSubmission, error) {
	wallet := normalizeWallet(app.WalletAddress)
	if wallet == "" {
		return nil, fmt.Errorf("%w: wallet address is required", ErrInvalidRequest)
	}
	res, err := s.evaluate(app.Input)
	if err != nil {
		return nil, err
	}
	if !res.Approved() {
		return nil, fmt.Errorf("%w: score %d (%s)", ErrNotApproved, res.FinalScore, res.CategoryLabel)
	}

	purpose := app.Purpose
	if purpose == "" {
		purpose = "other"
	}
	create, err := contract.CreateRequestCall(s.units.Units(), res.ApprovedAmount, res.InterestRate, res.Input.LoanTermMonths, purpose)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare contract call: %w", err)
	}

	user, err := s.store.GetOrCreateUser(ctx, wallet, app.User)
	if err != nil {
		return nil, err
	}
	evalID, err := s.store.SaveEvaluation(ctx, user.ID, res)
	if err != nil {
		return nil, err
	}

	now := s.now()
	loan := &models.LoanRequest{
		BorrowerID:         user.ID,
		WalletAddress:      wallet,
		CreditEvaluationID: evalID,
		RequestedAmount:    res.Input.LoanAmount,
		ApprovedAmount:     res.ApprovedAmount,
		TermMonths:         res.Input.LoanTermMonths,
		InterestRate:       res.InterestRate,
		MonthlyPayment:     res.MonthlyPayment,
		Purpose:            purpose,
		Description:        app.Description,
		Status:             models.LoanStatusActive,
		BlockchainNetwork:  s.config.ChainNetwork,
		FundingDeadline:    now.AddDate(0, 0, s.config.FundingWindowDays),
		StartDate:          now,
		EndDate:            now.Add(time.Duration(res.Input.LoanTermMonths*daysPerMonth) * 24 * time.Hour),
		CreditScore:        res.FinalScore,
		Category:           res.Category,
	}
	if err := s.store.CreateLoanRequest(ctx, loan); err != nil {
		return nil, err
	}
	s.log.Infof("Loan request %d listed for %s: %.2f at %.2f%%", loan.ID, wallet, loan.ApprovedAmount, loan.InterestRate)

	calls := make([]contract.Call, 0, 2)
	if !user.RegisteredOnChain {
		register, err := contract.RegisterCall(res.FinalScore)
		if err != nil {
			return nil, err
		}
		calls = append(calls, register)
	}
	calls = append(calls, create)

	email := user.Email
	if email == "" {
		email = app.User.Email
	}
	if err := s.notify.SendLoanConfirmation(email, user.FullName, loan); err != nil {
		s.log.Warnf("Loan %d confirmation not delivered: %v", loan.ID, err)
	}

	return &LoanSubmission{Loan: loan, Evaluation: res, Calls: calls}, nil
}

// LinkContractRequest records the on-chain request created for a loan.
// Only the borrower may link it. The contract only opens requests for
// registered wallets, so a linked request also confirms the borrower's
// registration.
func (s *Service) LinkContractRequest(ctx context.Context, wallet string, loanID int64, ref, txHash string) (*models.LoanRequest, error) {
	if _, err := contract.ParseRequestRef(ref); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if txHash == "" {
		return nil, fmt.Errorf("%w: transaction hash is required", ErrInvalidRequest)
	}
	loan, err := s.store.GetLoanRequest(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.WalletAddress != normalizeWallet(wallet) {
		return nil, ErrForbidden
	}
	if err := s.store.LinkContractRequest(ctx, loanID, ref, txHash); err != nil {
		return nil, err
	}
	loan.ContractRequestRef, loan.TransactionHash = ref, txHash
	s.recordRegistration(ctx, loan.WalletAddress, txHash)
	return loan, nil
}

// ConfirmRegistration records a submitted registerUser transaction
func (s *Service) ConfirmRegistration(ctx context.Context, wallet, txHash string) (*models.User, error) {
	wallet = normalizeWallet(wallet)
	if wallet == "" {
		return nil, fmt.Errorf("%w: wallet address is required", ErrInvalidRequest)
	}
	if txHash == "" {
		return nil, fmt.Errorf("%w: transaction hash is required", ErrInvalidRequest)
	}
	user, err := s.store.MarkRegistered(ctx, wallet, txHash)
	if err != nil {
		return nil, err
	}
	s.log.Infof("Wallet %s registered on chain in %s", wallet, txHash)
	return user, nil
}

func (s *Service) recordRegistration(ctx context.Context, wallet, txHash string) {
	if _, err := s.store.MarkRegistered(ctx, wallet, txHash); err != nil {
		s.persistFailed("registration", err)
	}
}

// registrationCalls returns the registerUser call wallet must submit before
// anything else, or nothing when it is already registered. The wallet's
// latest stored score is used; wallets never scored register with 0.
func (s *Service) registrationCalls(ctx context.Context, wallet string) ([]contract.Call, error) {
	user, err := s.store.FindUserByWallet(ctx, wallet)
	if err == nil && user.RegisteredOnChain {
		return nil, nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	score := 0
	evs, err := s.store.ListEvaluationsByWallet(ctx, wallet, 1)
	if err != nil {
		return nil, err
	}
	if len(evs) > 0 {
		score = evs[0].Result.FinalScore
	}
	call, err := contract.RegisterCall(score)
	if err != nil {
		return nil, err
	}
	return []contract.Call{call}, nil
}

// GetLoan returns a loan with its investments
func (s *Service) GetLoan(ctx context.Context, id int64) (*LoanDetails, error) {
	loan, err := s.store.GetLoanRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	investments, err := s.store.ListInvestments(ctx, id)
	if err != nil {
		return nil, err
	}
	return &LoanDetails{
		LoanRequest:       loan,
		Investments:       investments,
		TotalDue:          loan.TotalDue(),
		FundingProgress:   loan.FundingProgress(),
		RepaymentProgress: loan.RepaymentProgress(),
	}, nil
}

// LoanSchedule returns the amortization schedule for a loan
func (s *Service) LoanSchedule(ctx context.Context, id int64) ([]scoring.Installment, error) {
	loan, err := s.store.GetLoanRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	return scoring.Schedule(loan.ApprovedAmount, loan.InterestRate, loan.TermMonths, loan.StartDate), nil
}

// ListMarketplace returns loans open for investment, hiding the caller's own
func (s *Service) ListMarketplace(ctx context.Context, excludeWallet string) ([]models.LoanRequest, error) {
	return s.store.ListMarketplace(ctx, normalizeWallet(excludeWallet))
}

// ListUserLoans returns the loans a wallet requested
func (s *Service) ListUserLoans(ctx context.Context, wallet string) ([]models.LoanRequest, error) {
	return s.store.ListLoansByWallet(ctx, normalizeWallet(wallet))
}

func checkAmount(amount float64) error {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return fmt.Errorf("%w: amount must be a positive number", ErrInvalidRequest)
	}
	return nil
}

// fundable loads a loan and checks that wallet may put amount into it.
func (s *Service) fundable(ctx context.Context, wallet string, loanID int64, amount float64) (*models.LoanRequest, error) {
	if err := checkAmount(amount); err != nil {
		return nil, err
	}
	loan, err := s.store.GetLoanRequest(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.WalletAddress == normalizeWallet(wallet) {
		return nil, ErrSelfInvestment
	}
	if !loan.Status.AcceptsInvestment() {
		return nil, fmt.Errorf("loan %d is %s: %w", loanID, loan.Status, ErrNotAcceptingInvestments)
	}
	if remaining := loan.ApprovedAmount - loan.FundedAmount; amount > remaining {
		return nil, fmt.Errorf("%.2f remaining on loan %d: %w", remaining, loanID, ErrInvestmentExceedsRequest)
	}
	return loan, nil
}

// repayable loads a loan and checks that wallet is its borrower and it is funded.
func (s *Service) repayable(ctx context.Context, wallet string, loanID int64, amount float64) (*models.LoanRequest, error) {
	if err := checkAmount(amount); err != nil {
		return nil, err
	}
	loan, err := s.store.GetLoanRequest(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.WalletAddress != normalizeWallet(wallet) {
		return nil, ErrForbidden
	}
	if loan.Status != models.LoanStatusFunded {
		return nil, fmt.Errorf("loan %d is %s: %w", loanID, loan.Status, ErrNotRepayable)
	}
	return loan, nil
}

func requestID(loan *models.LoanRequest) (uint64, error) {
	if loan.ContractRequestRef == "" {
		return 0, ErrNotOnChain
	}
	return contract.ParseRequestRef(loan.ContractRequestRef)
}

// InvestmentCall prepares the calls an investor submits, in order: a
// registerUser call for wallets not yet registered, then investInLoan.
func (s *Service) InvestmentCall(ctx context.Context, wallet string, loanID int64, amount float64) ([]contract.Call, error) {
	loan, err := s.fundable(ctx, wallet, loanID, amount)
	if err != nil {
		return nil, err
	}
	id, err := requestID(loan)
	if err != nil {
		return nil, err
	}
	invest, err := contract.InvestCall(s.units.Units(), id, amount)
	if err != nil {
		return nil, err
	}
	calls, err := s.registrationCalls(ctx, normalizeWallet(wallet))
	if err != nil {
		return nil, err
	}
	return append(calls, invest), nil
}

// RepaymentCall prepares the repayLoan call a borrower submits
func (s *Service) RepaymentCall(ctx context.Context, wallet string, loanID int64, amount float64) (contract.Call, error) {
	loan, err := s.repayable(ctx, wallet, loanID, amount)
	if err != nil {
		return contract.Call{}, err
	}
	id, err := requestID(loan)
	if err != nil {
		return contract.Call{}, err
	}
	return contract.RepayCall(s.units.Units(), id, amount)
}

// InvestInLoan records a submitted investment transaction. The contract
// accepts investments from registered wallets only, so the investor is
// marked registered too.
func (s *Service) InvestInLoan(ctx context.Context, wallet string, loanID int64, amount float64, txHash string) (*models.LoanRequest, error) {
	if txHash == "" {
		return nil, fmt.Errorf("%w: transaction hash is required", ErrInvalidRequest)
	}
	if _, err := s.fundable(ctx, wallet, loanID, amount); err != nil {
		return nil, err
	}
	loan, err := s.store.RecordInvestment(ctx, &models.Investment{
		LoanID:          loanID,
		InvestorAddress: normalizeWallet(wallet),
		Amount:          amount,
		TransactionHash: txHash,
	})
	if err != nil {
		return nil, err
	}
	s.log.Infof("Investment of %.2f in loan %d by %s", amount, loanID, normalizeWallet(wallet))
	s.recordRegistration(ctx, normalizeWallet(wallet), txHash)
	s.notifyBorrower(ctx, loan, func(to, name string) error {
		return s.notify.SendInvestmentReceived(to, name, loan, amount)
	})
	return loan, nil
}

// RepayLoan records a submitted repayment transaction
func (s *Service) RepayLoan(ctx context.Context, wallet string, loanID int64, amount float64, txHash string) (*models.LoanRequest, error) {
	if txHash == "" {
		return nil, fmt.Errorf("%w: transaction hash is required", ErrInvalidRequest)
	}
	if _, err := s.repayable(ctx, wallet, loanID, amount); err != nil {
		return nil, err
	}
	loan, err := s.store.RecordRepayment(ctx, &models.Repayment{
		LoanID:          loanID,
		PayerAddress:    normalizeWallet(wallet),
		Amount:          amount,
		TransactionHash: txHash,
	})
	if err != nil {
		return nil, err
	}
	s.log.Infof("Repayment of %.2f on loan %d, status %s", amount, loanID, loan.Status)
	s.notifyBorrower(ctx, loan, func(to, name string) error {
		return s.notify.SendRepaymentReceived(to, name, loan, amount)
	})
	return loan, nil
}

func (s *Service) notifyBorrower(ctx context.Context, loan *models.LoanRequest, send func(to, name string) error) {
	borrower, err := s.store.FindUserByWallet(ctx, loan.WalletAddress)
	if err != nil {
		s.log.Warnf("Borrower of loan %d not notified: %v", loan.ID, err)
		return
	}
	if err := send(borrower.Email, borrower.FullName); err != nil {
		s.log.Warnf("Borrower of loan %d not notified: %v", loan.ID, err)
	}
}
