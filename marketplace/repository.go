package marketplace

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals an unknown product or purchase id.
	ErrNotFound = errors.New("marketplace: not found")
	// ErrInvalidState signals a transition not allowed from the current status.
	ErrInvalidState = errors.New("marketplace: invalid state")
	// ErrUnauthorized signals the caller lacks the required role.
	ErrUnauthorized = errors.New("marketplace: unauthorized caller")
	// ErrInvalidAmount signals a payment or price that fails validation.
	ErrInvalidAmount = errors.New("marketplace: invalid amount")
	// ErrWindowClosed signals an action attempted after its deadline.
	ErrWindowClosed = errors.New("marketplace: window closed")
	// ErrWindowOpen signals an action attempted before its deadline.
	ErrWindowOpen = errors.New("marketplace: window still open")
)

const productColumns = `id, seller_id::text, deliverer_id::text, creator_id::text, price, commission_bps, metadata_ref, active, created_at, updated_at`

const purchaseColumns = `id, product_id, buyer_id::text, seller_id::text, creator_id::text, deliverer_id::text, price, commission_bps, status::text, release_at, inspection_at, created_at, updated_at`

// Repository handles data access for products, purchases and settings.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed marketplace repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertProduct creates a listing inside the caller's transaction.
func (r *Repository) InsertProduct(ctx context.Context, tx pgx.Tx, params ListProductParams) (Product, error) {
	insertSQL := `
        INSERT INTO products (seller_id, deliverer_id, creator_id, price, commission_bps, metadata_ref)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING ` + productColumns

	product, err := scanProduct(tx.QueryRow(ctx, insertSQL,
		params.SellerID,
		params.DelivererID,
		params.CreatorID,
		params.Price,
		params.CommissionBps,
		params.MetadataRef,
	))
	if err != nil {
		return Product{}, fmt.Errorf("marketplace: insert product: %w", err)
	}
	return product, nil
}

// GetProductForUpdate locks the product row for the remainder of the
// transaction.
func (r *Repository) GetProductForUpdate(ctx context.Context, tx pgx.Tx, id int64) (Product, error) {
	selectSQL := `SELECT ` + productColumns + ` FROM products WHERE id = $1 FOR UPDATE`

	product, err := scanProduct(tx.QueryRow(ctx, selectSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, fmt.Errorf("marketplace: lock product: %w", err)
	}
	return product, nil
}

// DeactivateProduct flips the active flag off inside the caller's
// transaction.
func (r *Repository) DeactivateProduct(ctx context.Context, tx pgx.Tx, id int64) error {
	tag, err := tx.Exec(ctx, `UPDATE products SET active = FALSE, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("marketplace: deactivate product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetProduct returns a product without locking.
func (r *Repository) GetProduct(ctx context.Context, id int64) (Product, error) {
	selectSQL := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	product, err := scanProduct(r.pool.QueryRow(ctx, selectSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, fmt.Errorf("marketplace: get product: %w", err)
	}
	return product, nil
}

// ListActiveProducts walks products in id order starting at offset,
// collecting active listings until limit is reached. The returned page also
// reports how many rows were processed, so callers can resume from
// offset + TotalProcessed.
func (r *Repository) ListActiveProducts(ctx context.Context, offset, limit int) (ProductPage, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	selectSQL := `SELECT ` + productColumns + ` FROM products ORDER BY id ASC OFFSET $1`

	rows, err := r.pool.Query(ctx, selectSQL, offset)
	if err != nil {
		return ProductPage{}, fmt.Errorf("marketplace: list products: %w", err)
	}
	defer rows.Close()

	page := ProductPage{Items: make([]Product, 0, limit)}
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return ProductPage{}, fmt.Errorf("marketplace: scan product: %w", err)
		}
		page.TotalProcessed++
		if product.Active {
			page.Items = append(page.Items, product)
			if len(page.Items) == limit {
				break
			}
		}
	}
	if err := rows.Err(); err != nil {
		return ProductPage{}, fmt.Errorf("marketplace: iterate products: %w", err)
	}
	return page, nil
}

// InsertPurchase snapshots the product terms into a new pending purchase.
func (r *Repository) InsertPurchase(ctx context.Context, tx pgx.Tx, product Product, buyerID string) (Purchase, error) {
	insertSQL := `
        INSERT INTO purchases (product_id, buyer_id, seller_id, creator_id, deliverer_id, price, commission_bps, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending')
        RETURNING ` + purchaseColumns

	purchase, err := scanPurchase(tx.QueryRow(ctx, insertSQL,
		product.ID,
		buyerID,
		product.SellerID,
		product.CreatorID,
		product.DelivererID,
		product.Price,
		product.CommissionBps,
	))
	if err != nil {
		return Purchase{}, fmt.Errorf("marketplace: insert purchase: %w", err)
	}
	return purchase, nil
}

// GetPurchaseForUpdate locks the purchase row for the remainder of the
// transaction. Every transition starts here, which serializes all mutations
// of one purchase.
func (r *Repository) GetPurchaseForUpdate(ctx context.Context, tx pgx.Tx, id int64) (Purchase, error) {
	selectSQL := `SELECT ` + purchaseColumns + ` FROM purchases WHERE id = $1 FOR UPDATE`

	purchase, err := scanPurchase(tx.QueryRow(ctx, selectSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Purchase{}, ErrNotFound
		}
		return Purchase{}, fmt.Errorf("marketplace: lock purchase: %w", err)
	}
	return purchase, nil
}

// SetPurchaseStatus writes the new status and optional deadline columns.
func (r *Repository) SetPurchaseStatus(ctx context.Context, tx pgx.Tx, id int64, status Status, releaseAt, inspectionAt *time.Time) error {
	updateSQL := `
        UPDATE purchases
        SET status = $1::purchase_status,
            release_at = COALESCE($2, release_at),
            inspection_at = COALESCE($3, inspection_at),
            updated_at = now()
        WHERE id = $4
    `
	if _, err := tx.Exec(ctx, updateSQL, string(status), releaseAt, inspectionAt, id); err != nil {
		return fmt.Errorf("marketplace: set purchase status: %w", err)
	}
	return nil
}

// GetPurchase returns a purchase without locking.
func (r *Repository) GetPurchase(ctx context.Context, id int64) (Purchase, error) {
	selectSQL := `SELECT ` + purchaseColumns + ` FROM purchases WHERE id = $1`

	purchase, err := scanPurchase(r.pool.QueryRow(ctx, selectSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Purchase{}, ErrNotFound
		}
		return Purchase{}, fmt.Errorf("marketplace: get purchase: %w", err)
	}
	return purchase, nil
}

// GetSettings reads the single settings row inside the caller's transaction
// so fee changes serialize against in-flight settlements.
func (r *Repository) GetSettings(ctx context.Context, tx pgx.Tx) (Settings, error) {
	var s Settings
	err := tx.QueryRow(ctx, `
        SELECT platform_fee_bps, fee_recipient_id::text, updated_at
        FROM marketplace_settings
        WHERE singleton
        FOR SHARE
    `).Scan(&s.PlatformFeeBps, &s.FeeRecipientID, &s.UpdatedAt)
	if err != nil {
		return Settings{}, fmt.Errorf("marketplace: read settings: %w", err)
	}
	return s, nil
}

// ReadSettings reads the settings row outside any transaction.
func (r *Repository) ReadSettings(ctx context.Context) (Settings, error) {
	var s Settings
	err := r.pool.QueryRow(ctx, `
        SELECT platform_fee_bps, fee_recipient_id::text, updated_at
        FROM marketplace_settings
        WHERE singleton
    `).Scan(&s.PlatformFeeBps, &s.FeeRecipientID, &s.UpdatedAt)
	if err != nil {
		return Settings{}, fmt.Errorf("marketplace: read settings: %w", err)
	}
	return s, nil
}

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(
		&p.ID,
		&p.SellerID,
		&p.DelivererID,
		&p.CreatorID,
		&p.Price,
		&p.CommissionBps,
		&p.MetadataRef,
		&p.Active,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return Product{}, err
	}
	return p, nil
}

func scanPurchase(row pgx.Row) (Purchase, error) {
	var (
		p      Purchase
		status string
	)
	err := row.Scan(
		&p.ID,
		&p.ProductID,
		&p.BuyerID,
		&p.SellerID,
		&p.CreatorID,
		&p.DelivererID,
		&p.Price,
		&p.CommissionBps,
		&status,
		&p.ReleaseAt,
		&p.InspectionAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return Purchase{}, err
	}
	p.Status = Status(status)
	return p, nil
}
