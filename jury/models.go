package jury

import "time"

// DisputeStatus is the dispute lifecycle. Creation and juror selection
// happen atomically inside the initiating transaction, so every persisted
// dispute starts at voting_active.
type DisputeStatus string

const (
	DisputeVotingActive DisputeStatus = "voting_active"
	DisputeResolved     DisputeStatus = "resolved"
	DisputeCancelled    DisputeStatus = "cancelled"
)

// Reward and slash parameters.
const (
	JurorRewardBps = 50
	SlashPercent   = 10

	DefaultMinimumStake = 100
	DefaultJurySize     = 7
	DefaultVotingPeriod = 3 * 24 * time.Hour

	MinJurySize     = 3
	MaxJurySize     = 15
	MinVotingPeriod = time.Hour
	MaxVotingPeriod = 30 * 24 * time.Hour
)

// Juror mirrors the jurors table. A juror is active while staked > 0.
type Juror struct {
	UserID        string
	Staked        int64
	TotalVotes    int64
	CorrectVotes  int64
	RewardsEarned int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Active reports whether the juror is eligible for selection.
func (j Juror) Active() bool {
	return j.Staked > 0
}

// Dispute mirrors the disputes table, keyed by the purchase under dispute.
type Dispute struct {
	PurchaseID     int64
	Value          int64
	PlaintiffID    string
	DefendantID    string
	PriorStatus    string
	Status         DisputeStatus
	Seed           []byte
	VotingDeadline time.Time
	WinnerID       *string
	CreatedAt      time.Time
	ResolvedAt     *time.Time
}

// Vote is one selected juror's slot on a dispute.
type Vote struct {
	PurchaseID       int64
	JurorID          string
	Slot             int
	HasVoted         bool
	VoteForPlaintiff *bool
}

// Settings is the single-row jury configuration.
type Settings struct {
	MinimumStake int64
	JurySize     int
	VotingPeriod time.Duration
	UpdatedAt    time.Time
}
