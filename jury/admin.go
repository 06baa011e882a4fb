package jury

import (
	"context"
	"fmt"
	"time"
)

// SetMinimumStake updates the stake floor for joining the pool. Owner only.
func (p *Pool) SetMinimumStake(ctx context.Context, callerID string, amount int64) error {
	if callerID != p.ownerID {
		return ErrUnauthorized
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}

	if _, err := p.pool.Exec(ctx, `
        UPDATE jury_settings SET minimum_stake = $1, updated_at = now() WHERE singleton
    `, amount); err != nil {
		return fmt.Errorf("jury: set minimum stake: %w", err)
	}
	return nil
}

// SetJurySize updates the number of jurors seated per dispute, bounded to
// [MinJurySize, MaxJurySize]. Disputes already opened keep their jury.
func (p *Pool) SetJurySize(ctx context.Context, callerID string, size int) error {
	if callerID != p.ownerID {
		return ErrUnauthorized
	}
	if size < MinJurySize || size > MaxJurySize {
		return ErrInvalidAmount
	}

	if _, err := p.pool.Exec(ctx, `
        UPDATE jury_settings SET jury_size = $1, updated_at = now() WHERE singleton
    `, size); err != nil {
		return fmt.Errorf("jury: set jury size: %w", err)
	}
	return nil
}

// SetVotingPeriod updates the voting window, bounded to
// [MinVotingPeriod, MaxVotingPeriod]. Open disputes keep their deadline.
func (p *Pool) SetVotingPeriod(ctx context.Context, callerID string, period time.Duration) error {
	if callerID != p.ownerID {
		return ErrUnauthorized
	}
	if period < MinVotingPeriod || period > MaxVotingPeriod {
		return ErrInvalidAmount
	}

	if _, err := p.pool.Exec(ctx, `
        UPDATE jury_settings SET voting_period_seconds = $1, updated_at = now() WHERE singleton
    `, int64(period/time.Second)); err != nil {
		return fmt.Errorf("jury: set voting period: %w", err)
	}
	return nil
}

// CurrentSettings reads the jury configuration outside any transaction.
func (p *Pool) CurrentSettings(ctx context.Context) (Settings, error) {
	var (
		s       Settings
		seconds int64
	)
	err := p.pool.QueryRow(ctx, `
        SELECT minimum_stake, jury_size, voting_period_seconds, updated_at
        FROM jury_settings
        WHERE singleton
    `).Scan(&s.MinimumStake, &s.JurySize, &seconds, &s.UpdatedAt)
	if err != nil {
		return Settings{}, fmt.Errorf("jury: read settings: %w", err)
	}
	s.VotingPeriod = time.Duration(seconds) * time.Second
	return s, nil
}
