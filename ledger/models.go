package ledger

import "time"

// System accounts. User accounts are keyed by the user's UUID in text form.
const (
	AccountEscrow       = "escrow"
	AccountJuryPool     = "jury_pool"
	AccountJuryTreasury = "jury_treasury"
)

// Entry kinds recorded per fund movement.
const (
	KindDeposit       = "deposit"
	KindEscrowLock    = "escrow_lock"
	KindSellerPayout  = "seller_payout"
	KindCreatorPayout = "creator_payout"
	KindPlatformFee   = "platform_fee"
	KindRefund        = "refund"
	KindStake         = "stake"
	KindUnstake       = "unstake"
	KindJurorReward   = "juror_reward"
	KindSlash         = "slash"
)

// Account mirrors the accounts table.
type Account struct {
	OwnerID   string
	Balance   int64
	IsSystem  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Entry is one row of the append-only fund movement log.
type Entry struct {
	ID          int64
	FromAccount string
	ToAccount   string
	Amount      int64
	Kind        string
	Ref         string
	CreatedAt   time.Time
}
