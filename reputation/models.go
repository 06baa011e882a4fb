package reputation

import "time"

// Role selects which of the three scores an update applies to.
type Role string

const (
	RoleBuyer   Role = "buyer"
	RoleSeller  Role = "seller"
	RoleCreator Role = "creator"
)

// Score bounds and return-abuse thresholds.
const (
	InitialScore = 10
	MaxScore     = 1000

	BuyerPenaltyThreshold  = 10
	SellerPenaltyThreshold = 5
	BuyerReturnPenalty     = 10
	SellerReturnPenalty    = 15
)

// Record mirrors the reputations table. Scores are clamped to
// [0, MaxScore]; the return counters only ever grow.
type Record struct {
	UserID            string
	BuyerScore        int64
	SellerScore       int64
	CreatorScore      int64
	BuyerReturnCount  int64
	SellerReturnCount int64
	PersonaHash       string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
