package marketplace

import "time"

// Status is the lifecycle of an escrowed purchase.
type Status string

const (
	StatusPending           Status = "pending"
	StatusDeliveryConfirmed Status = "delivery_confirmed"
	StatusReturnRequested   Status = "return_requested"
	StatusReturnReceived    Status = "return_received"
	StatusDisputeOpen       Status = "dispute_open"
	StatusCompleted         Status = "completed"
	StatusRefunded          Status = "refunded"
)

// Terminal reports whether no further transition can leave the status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRefunded
}

// Escrow timing and commission bounds.
const (
	ReleaseWindow    = 7 * 24 * time.Hour
	InspectionWindow = 3 * 24 * time.Hour

	MaxCommissionBps  = 5000
	MaxPlatformFeeBps = 1000
	BpsDenominator    = 10000
)

// Reputation deltas applied by the escrow.
const (
	SellerCompletionPoints  = 10
	BuyerCompletionPoints   = 5
	CreatorCompletionPoints = 8

	// Penalty variant: the milder of the two sampled policies.
	SellerDisputeLossPenalty = 20
	BuyerDisputeLossPenalty  = 15
)

// Product is a seller's listing. Immutable except for deactivation.
type Product struct {
	ID            int64
	SellerID      string
	DelivererID   string
	CreatorID     *string
	Price         int64
	CommissionBps int
	MetadataRef   string
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Purchase is an escrowed purchase. Price and commission are snapshots taken
// at purchase time; later product changes never affect an in-flight
// purchase.
type Purchase struct {
	ID            int64
	ProductID     int64
	BuyerID       string
	SellerID      string
	CreatorID     *string
	DelivererID   string
	Price         int64
	CommissionBps int
	Status        Status
	ReleaseAt     *time.Time
	InspectionAt  *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Settings is the single-row admin configuration.
type Settings struct {
	PlatformFeeBps int
	FeeRecipientID *string
	UpdatedAt      time.Time
}

// ListProductParams carries a new listing.
type ListProductParams struct {
	SellerID      string
	DelivererID   string
	CreatorID     *string
	Price         int64
	CommissionBps int
	MetadataRef   string
}

// ProductPage is one page of the active-product listing plus the number of
// rows processed to build it.
type ProductPage struct {
	Items          []Product
	TotalProcessed int
}
