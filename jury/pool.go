// Package jury owns juror staking, stake-weighted dispute juries, voting
// and the reward/slash distribution. It calls back into the marketplace
// through the VerdictExecutor port exactly once per dispute, inside the
// same transaction as the tally.
package jury

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/duckrwx/jurisland/events"
	"github.com/duckrwx/jurisland/ledger"
)

var (
	// ErrInsufficientJurors signals the active pool cannot seat a jury.
	ErrInsufficientJurors = errors.New("jury: insufficient jurors")
	// ErrAlreadyVoted signals a second vote from the same juror.
	ErrAlreadyVoted = errors.New("jury: already voted")
	// ErrNotSelected signals a vote from a juror outside the jury.
	ErrNotSelected = errors.New("jury: caller not selected for dispute")
	// ErrStakeLocked signals an unstake while a dispute is still open.
	ErrStakeLocked = errors.New("jury: stake locked by active dispute")
	// ErrInvalidState signals an operation against a dispute that is not in
	// the required status.
	ErrInvalidState = errors.New("jury: invalid dispute state")
	// ErrInvalidAmount signals a stake below the minimum or over-unstake.
	ErrInvalidAmount = errors.New("jury: invalid amount")
	// ErrNotFound signals an unknown dispute or juror.
	ErrNotFound = errors.New("jury: not found")
	// ErrWindowOpen signals a resolve attempt before the voting deadline.
	ErrWindowOpen = errors.New("jury: voting window still open")
	// ErrWindowClosed signals a vote after the voting deadline.
	ErrWindowClosed = errors.New("jury: voting window closed")
	// ErrUnauthorized signals a caller without the required role.
	ErrUnauthorized = errors.New("jury: unauthorized caller")
)

// FundMover is the slice of the ledger the jury pool needs.
type FundMover interface {
	EnsureAccount(ctx context.Context, tx pgx.Tx, ownerID string) error
	Transfer(ctx context.Context, tx pgx.Tx, from, to string, amount int64, kind, ref string) error
}

// VerdictExecutor is the marketplace's callback surface. The token passed on
// every call is the shared secret fixed at wiring time.
type VerdictExecutor interface {
	ExecuteVerdict(ctx context.Context, tx pgx.Tx, purchaseID int64, winnerID, callerToken string) error
	RevertDispute(ctx context.Context, tx pgx.Tx, purchaseID int64, priorStatus, callerToken string) error
}

// Pool is the jury pool service.
type Pool struct {
	pool      *pgxpool.Pool
	funds     FundMover
	executor  VerdictExecutor
	outbox    events.Writer
	entropy   EntropySource
	juryToken string
	ownerID   string
	now       func() time.Time
}

// NewPool wires the jury pool. juryToken must match the token the
// marketplace escrow expects on verdict callbacks; ownerID gates the admin
// surface.
func NewPool(pool *pgxpool.Pool, funds FundMover, outbox events.Writer, juryToken, ownerID string) *Pool {
	return &Pool{
		pool:      pool,
		funds:     funds,
		outbox:    outbox,
		entropy:   CryptoEntropy{},
		juryToken: juryToken,
		ownerID:   ownerID,
		now:       time.Now,
	}
}

// BindExecutor attaches the marketplace callback after both services exist.
func (p *Pool) BindExecutor(executor VerdictExecutor) *Pool {
	p.executor = executor
	return p
}

// WithClock overrides the time source for tests.
func (p *Pool) WithClock(now func() time.Time) *Pool {
	p.now = now
	return p
}

// WithEntropy overrides the selection entropy source for tests.
func (p *Pool) WithEntropy(src EntropySource) *Pool {
	p.entropy = src
	return p
}

// Stake locks collateral into the jury pool. The cumulative stake must
// reach the configured minimum; exactly the minimum is accepted.
func (p *Pool) Stake(ctx context.Context, userID string, amount int64) error {
	if userID == "" {
		return ErrUnauthorized
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("jury: begin stake: %w", err)
	}
	defer tx.Rollback(ctx)

	settings, err := p.readSettings(ctx, tx)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `INSERT INTO jurors (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
		return fmt.Errorf("jury: ensure juror: %w", err)
	}

	var staked int64
	if err := tx.QueryRow(ctx, `SELECT staked FROM jurors WHERE user_id = $1 FOR UPDATE`, userID).Scan(&staked); err != nil {
		return fmt.Errorf("jury: lock juror: %w", err)
	}
	if staked+amount < settings.MinimumStake {
		return ErrInvalidAmount
	}

	if err := p.funds.Transfer(ctx, tx, userID, ledger.AccountJuryPool, amount, ledger.KindStake, ""); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE jurors SET staked = staked + $1, updated_at = now() WHERE user_id = $2`, amount, userID); err != nil {
		return fmt.Errorf("jury: apply stake: %w", err)
	}

	if err := p.outbox.Emit(ctx, tx, events.TopicStaked, map[string]any{
		"juror_id": userID,
		"amount":   amount,
		"staked":   staked + amount,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("jury: commit stake: %w", err)
	}
	return nil
}

// Unstake withdraws collateral. It fails while the juror sits on any
// unresolved dispute, so stake cannot be pulled to dodge a slash.
func (p *Pool) Unstake(ctx context.Context, userID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("jury: begin unstake: %w", err)
	}
	defer tx.Rollback(ctx)

	var staked int64
	if err := tx.QueryRow(ctx, `SELECT staked FROM jurors WHERE user_id = $1 FOR UPDATE`, userID).Scan(&staked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("jury: lock juror: %w", err)
	}
	if amount > staked {
		return ErrInvalidAmount
	}

	var locked bool
	if err := tx.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM dispute_jurors dj
            JOIN disputes d ON d.purchase_id = dj.purchase_id
            WHERE dj.juror_id = $1 AND d.status = 'voting_active'
        )
    `, userID).Scan(&locked); err != nil {
		return fmt.Errorf("jury: check active disputes: %w", err)
	}
	if locked {
		return ErrStakeLocked
	}

	if err := p.funds.Transfer(ctx, tx, ledger.AccountJuryPool, userID, amount, ledger.KindUnstake, ""); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE jurors SET staked = staked - $1, updated_at = now() WHERE user_id = $2`, amount, userID); err != nil {
		return fmt.Errorf("jury: apply unstake: %w", err)
	}

	if err := p.outbox.Emit(ctx, tx, events.TopicUnstaked, map[string]any{
		"juror_id": userID,
		"amount":   amount,
		"staked":   staked - amount,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("jury: commit unstake: %w", err)
	}
	return nil
}

// InitiateDispute seats a jury and opens voting. It runs inside the
// marketplace's transaction so the purchase status change and the dispute
// creation commit together.
func (p *Pool) InitiateDispute(ctx context.Context, tx pgx.Tx, purchaseID, value int64, plaintiffID, defendantID, priorStatus string) error {
	settings, err := p.readSettings(ctx, tx)
	if err != nil {
		return err
	}

	rows, err := tx.Query(ctx, `SELECT user_id::text FROM jurors WHERE staked > 0 ORDER BY user_id`)
	if err != nil {
		return fmt.Errorf("jury: load active jurors: %w", err)
	}
	candidates := make([]string, 0, 32)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("jury: scan juror: %w", err)
		}
		candidates = append(candidates, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("jury: iterate jurors: %w", err)
	}

	entropy, err := p.entropy.Entropy()
	if err != nil {
		return err
	}
	now := p.now()
	seed := deriveSeed(now, entropy, purchaseID)
	selected, err := selectJurors(seed, candidates, settings.JurySize)
	if err != nil {
		return err
	}

	deadline := now.Add(settings.VotingPeriod)
	if _, err := tx.Exec(ctx, `
        INSERT INTO disputes (purchase_id, dispute_value, plaintiff_id, defendant_id, prior_status, status, seed, voting_deadline)
        VALUES ($1, $2, $3, $4, $5::purchase_status, 'voting_active', $6, $7)
    `, purchaseID, value, plaintiffID, defendantID, priorStatus, seed, deadline); err != nil {
		return fmt.Errorf("jury: insert dispute: %w", err)
	}

	for slot, jurorID := range selected {
		if _, err := tx.Exec(ctx, `
            INSERT INTO dispute_jurors (purchase_id, juror_id, slot) VALUES ($1, $2, $3)
        `, purchaseID, jurorID, slot); err != nil {
			return fmt.Errorf("jury: insert dispute juror: %w", err)
		}
	}
	return nil
}

// CastVote records a selected juror's vote. When the last juror votes the
// tally runs immediately in the same transaction.
func (p *Pool) CastVote(ctx context.Context, jurorID string, purchaseID int64, forPlaintiff bool) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("jury: begin vote: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := p.lockDispute(ctx, tx, purchaseID)
	if err != nil {
		return err
	}
	if d.Status != DisputeVotingActive {
		return ErrInvalidState
	}
	if p.now().After(d.VotingDeadline) {
		return ErrWindowClosed
	}

	var hasVoted bool
	err = tx.QueryRow(ctx, `
        SELECT has_voted FROM dispute_jurors WHERE purchase_id = $1 AND juror_id = $2
    `, purchaseID, jurorID).Scan(&hasVoted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotSelected
		}
		return fmt.Errorf("jury: check vote slot: %w", err)
	}
	if hasVoted {
		return ErrAlreadyVoted
	}

	if _, err := tx.Exec(ctx, `
        UPDATE dispute_jurors SET has_voted = TRUE, vote_for_plaintiff = $1
        WHERE purchase_id = $2 AND juror_id = $3
    `, forPlaintiff, purchaseID, jurorID); err != nil {
		return fmt.Errorf("jury: record vote: %w", err)
	}
	if _, err := tx.Exec(ctx, `
        UPDATE jurors SET total_votes = total_votes + 1, updated_at = now() WHERE user_id = $1
    `, jurorID); err != nil {
		return fmt.Errorf("jury: bump total votes: %w", err)
	}

	if err := p.outbox.Emit(ctx, tx, events.TopicVoteCast, map[string]any{
		"purchase_id": purchaseID,
		"juror_id":    jurorID,
	}); err != nil {
		return err
	}

	var pending int
	if err := tx.QueryRow(ctx, `
        SELECT COUNT(*) FROM dispute_jurors WHERE purchase_id = $1 AND NOT has_voted
    `, purchaseID).Scan(&pending); err != nil {
		return fmt.Errorf("jury: count pending votes: %w", err)
	}
	if pending == 0 {
		if err := p.tally(ctx, tx, d); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("jury: commit vote: %w", err)
	}
	return nil
}

// ResolveDispute tallies an incomplete vote once the deadline has passed.
// Callable by anyone.
func (p *Pool) ResolveDispute(ctx context.Context, purchaseID int64) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("jury: begin resolve: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := p.lockDispute(ctx, tx, purchaseID)
	if err != nil {
		return err
	}
	if d.Status != DisputeVotingActive {
		return ErrInvalidState
	}
	if !p.now().After(d.VotingDeadline) {
		return ErrWindowOpen
	}

	if err := p.tally(ctx, tx, d); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("jury: commit resolve: %w", err)
	}
	return nil
}

// CancelDispute is the owner-only escape hatch: allowed only while voting is
// active and before any vote has been cast. The purchase reverts to its
// pre-dispute status.
func (p *Pool) CancelDispute(ctx context.Context, callerID string, purchaseID int64) error {
	if callerID != p.ownerID {
		return ErrUnauthorized
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("jury: begin cancel: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := p.lockDispute(ctx, tx, purchaseID)
	if err != nil {
		return err
	}
	if d.Status != DisputeVotingActive {
		return ErrInvalidState
	}

	var voted int
	if err := tx.QueryRow(ctx, `
        SELECT COUNT(*) FROM dispute_jurors WHERE purchase_id = $1 AND has_voted
    `, purchaseID).Scan(&voted); err != nil {
		return fmt.Errorf("jury: count votes: %w", err)
	}
	if voted > 0 {
		return ErrInvalidState
	}

	if _, err := tx.Exec(ctx, `
        UPDATE disputes SET status = 'cancelled', resolved_at = now() WHERE purchase_id = $1
    `, purchaseID); err != nil {
		return fmt.Errorf("jury: cancel dispute: %w", err)
	}

	if err := p.executor.RevertDispute(ctx, tx, purchaseID, d.PriorStatus, p.juryToken); err != nil {
		return err
	}

	if err := p.outbox.Emit(ctx, tx, events.TopicDisputeCancelled, map[string]any{
		"purchase_id": purchaseID,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("jury: commit cancel: %w", err)
	}
	return nil
}

// tally decides the winner, pays majority voters, slashes non-voters and
// executes the verdict. Ties favor the defendant: the plaintiff needs a
// strict majority of the seated jury, not of the votes cast.
func (p *Pool) tally(ctx context.Context, tx pgx.Tx, d Dispute) error {
	rows, err := tx.Query(ctx, `
        SELECT juror_id::text, has_voted, vote_for_plaintiff
        FROM dispute_jurors
        WHERE purchase_id = $1
        ORDER BY slot
    `, d.PurchaseID)
	if err != nil {
		return fmt.Errorf("jury: load votes: %w", err)
	}

	var (
		seated         int
		plaintiffVotes int
		voters         []Vote
	)
	for rows.Next() {
		var v Vote
		if err := rows.Scan(&v.JurorID, &v.HasVoted, &v.VoteForPlaintiff); err != nil {
			rows.Close()
			return fmt.Errorf("jury: scan vote: %w", err)
		}
		seated++
		if v.HasVoted && v.VoteForPlaintiff != nil && *v.VoteForPlaintiff {
			plaintiffVotes++
		}
		voters = append(voters, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("jury: iterate votes: %w", err)
	}

	plaintiffWins := 2*plaintiffVotes > seated
	winnerID := d.DefendantID
	if plaintiffWins {
		winnerID = d.PlaintiffID
	}

	var majority []string
	for _, v := range voters {
		if v.HasVoted && v.VoteForPlaintiff != nil && *v.VoteForPlaintiff == plaintiffWins {
			majority = append(majority, v.JurorID)
		}
	}

	ref := disputeRef(d.PurchaseID)

	rewardPool := d.Value * JurorRewardBps / 10000
	if len(majority) > 0 && rewardPool > 0 {
		each := rewardPool / int64(len(majority))
		for _, jurorID := range majority {
			if each > 0 {
				if err := p.funds.EnsureAccount(ctx, tx, jurorID); err != nil {
					return err
				}
				if err := p.funds.Transfer(ctx, tx, ledger.AccountJuryTreasury, jurorID, each, ledger.KindJurorReward, ref); err != nil {
					return err
				}
			}
			if _, err := tx.Exec(ctx, `
                UPDATE jurors
                SET correct_votes = correct_votes + 1, rewards_earned = rewards_earned + $1, updated_at = now()
                WHERE user_id = $2
            `, each, jurorID); err != nil {
				return fmt.Errorf("jury: credit juror: %w", err)
			}
		}
	}

	for _, v := range voters {
		if v.HasVoted {
			continue
		}
		var staked int64
		if err := tx.QueryRow(ctx, `SELECT staked FROM jurors WHERE user_id = $1 FOR UPDATE`, v.JurorID).Scan(&staked); err != nil {
			return fmt.Errorf("jury: lock absent juror: %w", err)
		}
		slash := staked * SlashPercent / 100
		if slash == 0 {
			continue
		}
		if err := p.funds.Transfer(ctx, tx, ledger.AccountJuryPool, ledger.AccountJuryTreasury, slash, ledger.KindSlash, ref); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
            UPDATE jurors SET staked = staked - $1, updated_at = now() WHERE user_id = $2
        `, slash, v.JurorID); err != nil {
			return fmt.Errorf("jury: apply slash: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `
        UPDATE disputes SET status = 'resolved', winner_id = $1, resolved_at = now() WHERE purchase_id = $2
    `, winnerID, d.PurchaseID); err != nil {
		return fmt.Errorf("jury: mark resolved: %w", err)
	}

	if err := p.executor.ExecuteVerdict(ctx, tx, d.PurchaseID, winnerID, p.juryToken); err != nil {
		return err
	}

	return p.outbox.Emit(ctx, tx, events.TopicDisputeResolved, map[string]any{
		"purchase_id":     d.PurchaseID,
		"winner_id":       winnerID,
		"plaintiff_votes": plaintiffVotes,
		"seated":          seated,
	})
}

func (p *Pool) lockDispute(ctx context.Context, tx pgx.Tx, purchaseID int64) (Dispute, error) {
	var (
		d      Dispute
		status string
	)
	err := tx.QueryRow(ctx, `
        SELECT purchase_id, dispute_value, plaintiff_id::text, defendant_id::text, prior_status::text,
               status::text, seed, voting_deadline, winner_id::text, created_at, resolved_at
        FROM disputes
        WHERE purchase_id = $1
        FOR UPDATE
    `, purchaseID).Scan(
		&d.PurchaseID,
		&d.Value,
		&d.PlaintiffID,
		&d.DefendantID,
		&d.PriorStatus,
		&status,
		&d.Seed,
		&d.VotingDeadline,
		&d.WinnerID,
		&d.CreatedAt,
		&d.ResolvedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, ErrNotFound
		}
		return Dispute{}, fmt.Errorf("jury: lock dispute: %w", err)
	}
	d.Status = DisputeStatus(status)
	return d, nil
}

func (p *Pool) readSettings(ctx context.Context, tx pgx.Tx) (Settings, error) {
	var (
		s       Settings
		seconds int64
	)
	err := tx.QueryRow(ctx, `
        SELECT minimum_stake, jury_size, voting_period_seconds, updated_at
        FROM jury_settings
        WHERE singleton
        FOR SHARE
    `).Scan(&s.MinimumStake, &s.JurySize, &seconds, &s.UpdatedAt)
	if err != nil {
		return Settings{}, fmt.Errorf("jury: read settings: %w", err)
	}
	s.VotingPeriod = time.Duration(seconds) * time.Second
	return s, nil
}

// GetDispute returns a dispute with its per-juror vote records.
func (p *Pool) GetDispute(ctx context.Context, purchaseID int64) (Dispute, []Vote, error) {
	var (
		d      Dispute
		status string
	)
	err := p.pool.QueryRow(ctx, `
        SELECT purchase_id, dispute_value, plaintiff_id::text, defendant_id::text, prior_status::text,
               status::text, seed, voting_deadline, winner_id::text, created_at, resolved_at
        FROM disputes
        WHERE purchase_id = $1
    `, purchaseID).Scan(
		&d.PurchaseID,
		&d.Value,
		&d.PlaintiffID,
		&d.DefendantID,
		&d.PriorStatus,
		&status,
		&d.Seed,
		&d.VotingDeadline,
		&d.WinnerID,
		&d.CreatedAt,
		&d.ResolvedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, nil, ErrNotFound
		}
		return Dispute{}, nil, fmt.Errorf("jury: get dispute: %w", err)
	}
	d.Status = DisputeStatus(status)

	rows, err := p.pool.Query(ctx, `
        SELECT purchase_id, juror_id::text, slot, has_voted, vote_for_plaintiff
        FROM dispute_jurors
        WHERE purchase_id = $1
        ORDER BY slot
    `, purchaseID)
	if err != nil {
		return Dispute{}, nil, fmt.Errorf("jury: list votes: %w", err)
	}
	defer rows.Close()

	votes := make([]Vote, 0, 16)
	for rows.Next() {
		var v Vote
		if err := rows.Scan(&v.PurchaseID, &v.JurorID, &v.Slot, &v.HasVoted, &v.VoteForPlaintiff); err != nil {
			return Dispute{}, nil, fmt.Errorf("jury: scan vote: %w", err)
		}
		votes = append(votes, v)
	}
	if err := rows.Err(); err != nil {
		return Dispute{}, nil, fmt.Errorf("jury: iterate votes: %w", err)
	}
	return d, votes, nil
}

// GetJuror returns a juror's stats.
func (p *Pool) GetJuror(ctx context.Context, userID string) (Juror, error) {
	var j Juror
	err := p.pool.QueryRow(ctx, `
        SELECT user_id::text, staked, total_votes, correct_votes, rewards_earned, created_at, updated_at
        FROM jurors
        WHERE user_id = $1
    `, userID).Scan(
		&j.UserID,
		&j.Staked,
		&j.TotalVotes,
		&j.CorrectVotes,
		&j.RewardsEarned,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Juror{}, ErrNotFound
		}
		return Juror{}, fmt.Errorf("jury: get juror: %w", err)
	}
	return j, nil
}

func disputeRef(purchaseID int64) string {
	return "dispute:" + strconv.FormatInt(purchaseID, 10)
}
