package repository

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Dan9191/p2p-lending/internal/models"
	"github.com/Dan9191/p2p-lending/internal/scoring"
	"github.com/pressly/goose/v3"
)

// ErrNotFound is returned when a looked-up row does not exist
var ErrNotFound = errors.New("not found")

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies the embedded schema migrations.
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Repository provides database operations
type Repository struct {
	db *sql.DB
}

// NewRepository initializes a new repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const userColumns = `id, wallet_address, full_name, email, monthly_income, occupation,
	employment_type, kyc_status, is_verified, registered_on_chain, registration_tx_hash,
	created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	u := &models.User{}
	err := row.Scan(&u.ID, &u.WalletAddress, &u.FullName, &u.Email, &u.MonthlyIncome, &u.Occupation,
		&u.EmploymentType, &u.KYCStatus, &u.IsVerified, &u.RegisteredOnChain, &u.RegistrationTxHash,
		&u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// FindUserByWallet retrieves a user by wallet address
func (r *Repository) FindUserByWallet(ctx context.Context, wallet string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM lending.users WHERE wallet_address = $1`
	user, err := scanUser(r.db.QueryRowContext(ctx, query, wallet))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %s: %w", wallet, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// GetOrCreateUser returns the user for a wallet, creating it from details
// when the wallet has not been seen.
func (r *Repository) GetOrCreateUser(ctx context.Context, wallet string, details models.UserDetails) (*models.User, error) {
	user, err := r.FindUserByWallet(ctx, wallet)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	employment := details.EmploymentType
	if employment == "" {
		employment = "unemployed"
	}
	// a concurrent insert for the same wallet returns the existing row
	query := `
		INSERT INTO lending.users (wallet_address, full_name, email, monthly_income, occupation, employment_type)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (wallet_address) DO UPDATE SET updated_at = lending.users.updated_at
		RETURNING ` + userColumns
	user, err = scanUser(r.db.QueryRowContext(ctx, query,
		wallet, details.FullName, details.Email, details.MonthlyIncome, details.Occupation, employment))
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// MarkRegistered records that a wallet is registered with the lending
// contract, creating the user when needed. The first confirming transaction
// hash is kept.
func (r *Repository) MarkRegistered(ctx context.Context, wallet, txHash string) (*models.User, error) {
	query := `
		INSERT INTO lending.users (wallet_address, registered_on_chain, registration_tx_hash)
		VALUES ($1, TRUE, $2)
		ON CONFLICT (wallet_address) DO UPDATE SET
			registered_on_chain = TRUE,
			registration_tx_hash = CASE WHEN lending.users.registered_on_chain
				THEN lending.users.registration_tx_hash ELSE EXCLUDED.registration_tx_hash END,
			updated_at = CURRENT_TIMESTAMP
		RETURNING ` + userColumns
	user, err := scanUser(r.db.QueryRowContext(ctx, query, wallet, txHash))
	if err != nil {
		return nil, fmt.Errorf("failed to mark registration: %w", err)
	}
	return user, nil
}

// SaveEvaluation stores a scoring result for a user and returns its id
func (r *Repository) SaveEvaluation(ctx context.Context, userID int64, res *scoring.Result) (int64, error) {
	payload, err := json.Marshal(res)
	if err != nil {
		return 0, fmt.Errorf("failed to encode evaluation: %w", err)
	}
	query := `
		INSERT INTO lending.credit_evaluations (
			user_id, loan_amount, loan_term_months, monthly_income, final_score, interest_rate,
			category, status, approved_amount, approved_ratio, monthly_payment, total_interest,
			net_profit, roi_percentage, model_version, source, confidence, result, evaluation_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING id`
	var id int64
	err = r.db.QueryRowContext(ctx, query,
		userID, res.Input.LoanAmount, res.Input.LoanTermMonths, res.Input.MonthlyIncome,
		res.FinalScore, res.InterestRate, string(res.Category), string(res.Status),
		res.ApprovedAmount, res.ApprovedRatio, res.MonthlyPayment, res.TotalInterest,
		res.NetProfit, res.ROIPercentage, res.ModelVersion, res.Source, res.Confidence,
		payload, res.EvaluatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to save evaluation: %w", err)
	}
	return id, nil
}

const evaluationQuery = `
	SELECT e.id, e.user_id, u.wallet_address, e.result, e.evaluation_date
	FROM lending.credit_evaluations e
	JOIN lending.users u ON u.id = e.user_id`

func scanEvaluation(row interface{ Scan(...any) error }) (*models.Evaluation, error) {
	ev := &models.Evaluation{}
	var payload []byte
	if err := row.Scan(&ev.ID, &ev.UserID, &ev.WalletAddress, &payload, &ev.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &ev.Result); err != nil {
		return nil, fmt.Errorf("failed to decode evaluation %d: %w", ev.ID, err)
	}
	return ev, nil
}

// GetEvaluation retrieves one evaluation by id
func (r *Repository) GetEvaluation(ctx context.Context, id int64) (*models.Evaluation, error) {
	ev, err := scanEvaluation(r.db.QueryRowContext(ctx, evaluationQuery+` WHERE e.id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("evaluation %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get evaluation: %w", err)
	}
	return ev, nil
}

// ListEvaluationsByWallet returns a wallet's evaluations, most recent first
func (r *Repository) ListEvaluationsByWallet(ctx context.Context, wallet string, limit int) ([]models.Evaluation, error) {
	rows, err := r.db.QueryContext(ctx,
		evaluationQuery+` WHERE u.wallet_address = $1 ORDER BY e.evaluation_date DESC, e.id DESC LIMIT $2`,
		wallet, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list evaluations: %w", err)
	}
	defer rows.Close()

	var out []models.Evaluation
	for rows.Next() {
		ev, err := scanEvaluation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan evaluation: %w", err)
		}
		out = append(out, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list evaluations: %w", err)
	}
	return out, nil
}

// SaveSimulation stores a what-if simulation
func (r *Repository) SaveSimulation(ctx context.Context, sim *models.Simulation) error {
	base, err := json.Marshal(sim.BaseInput)
	if err != nil {
		return fmt.Errorf("failed to encode simulation: %w", err)
	}
	query := `
		INSERT INTO lending.scoring_simulations (user_id, base_scenario, base_score, variations, simulation_type)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`
	err = r.db.QueryRowContext(ctx, query, sim.UserID, base, sim.BaseScore, []byte(sim.Variations), sim.Type).
		Scan(&sim.ID, &sim.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save simulation: %w", err)
	}
	return nil
}
