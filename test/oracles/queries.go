package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_user_balance_non_negative",
			SQL: `SELECT owner_id, balance FROM accounts
                  WHERE is_system = false AND balance < 0`,
		},
		{
			Name: "O2_money_conserved",
			SQL: `SELECT SUM(balance) AS total FROM accounts
                  HAVING SUM(balance) <> 0`,
		},
		{
			Name: "O3_ledger_entries_well_formed",
			SQL: `SELECT id FROM ledger_entries
                  WHERE amount <= 0 OR from_account = to_account`,
		},
		{
			Name: "O4_escrow_settled_on_terminal",
			SQL: `WITH flows AS (
                      SELECT p.id,
                             p.price,
                             p.status::text AS status,
                             COALESCE(SUM(CASE WHEN e.to_account = 'escrow' THEN e.amount ELSE 0 END), 0) AS in_escrow,
                             COALESCE(SUM(CASE WHEN e.from_account = 'escrow' THEN e.amount ELSE 0 END), 0) AS out_escrow
                      FROM purchases p
                      LEFT JOIN ledger_entries e ON e.ref = 'purchase:' || p.id
                      GROUP BY p.id)
                  SELECT * FROM flows
                  WHERE in_escrow <> price
                     OR (status IN ('completed','refunded') AND out_escrow <> price)
                     OR (status NOT IN ('completed','refunded') AND out_escrow <> 0)`,
		},
		{
			Name: "O5_reputation_bounds",
			SQL: `SELECT user_id FROM reputations
                  WHERE buyer_score < 0 OR buyer_score > 1000
                     OR seller_score < 0 OR seller_score > 1000
                     OR creator_score < 0 OR creator_score > 1000`,
		},
		{
			Name: "O6_jury_pool_matches_stakes",
			SQL: `SELECT a.balance, COALESCE((SELECT SUM(staked) FROM jurors), 0) AS staked
                  FROM accounts a
                  WHERE a.owner_id = 'jury_pool'
                    AND a.balance <> COALESCE((SELECT SUM(staked) FROM jurors), 0)`,
		},
		{
			Name: "O7_resolved_dispute_terminal_purchase",
			SQL: `SELECT d.purchase_id FROM disputes d
                  JOIN purchases p ON p.id = d.purchase_id
                  WHERE d.status = 'resolved'
                    AND p.status NOT IN ('completed','refunded')`,
		},
		{
			Name: "O8_winner_is_party",
			SQL: `SELECT purchase_id FROM disputes
                  WHERE status = 'resolved'
                    AND (winner_id IS NULL OR winner_id NOT IN (plaintiff_id, defendant_id))`,
		},
		{
			Name: "O9_panel_size_bounds",
			SQL: `SELECT purchase_id FROM (
                      SELECT purchase_id, COUNT(*) AS seated
                      FROM dispute_jurors GROUP BY purchase_id) s
                  WHERE seated < 3 OR seated > 15`,
		},
		{
			Name: "O10_single_terminal_event",
			SQL: `SELECT payload->>'purchase_id', COUNT(*) FROM outbox
                  WHERE topic IN ('purchase.completed','purchase.refunded')
                  GROUP BY payload->>'purchase_id' HAVING COUNT(*) > 1`,
		},
		{
			Name: "O11_open_dispute_rows_present",
			SQL: `SELECT p.id FROM purchases p
                  WHERE p.status = 'dispute_open'
                    AND NOT EXISTS (SELECT 1 FROM disputes d WHERE d.purchase_id = p.id)`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
