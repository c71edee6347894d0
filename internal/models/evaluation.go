package models

import (
	"encoding/json"
	"time"

	"github.com/Dan9191/p2p-lending/internal/scoring"
)

// Evaluation is a persisted scoring result
type Evaluation struct {
	ID            int64          `json:"id"`
	UserID        int64          `json:"user_id"`
	WalletAddress string         `json:"wallet_address"`
	Result        scoring.Result `json:"result"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Simulation records a what-if comparison against a base application
type Simulation struct {
	ID         int64           `json:"id"`
	UserID     int64           `json:"user_id"`
	BaseInput  scoring.Input   `json:"base_input"`
	BaseScore  int             `json:"base_score"`
	Variations json.RawMessage `json:"variations"`
	Type       string          `json:"type"`
	CreatedAt  time.Time       `json:"created_at"`
}
