package game

import "time"

type Player struct {
	ID              string     `json:"id"`
	Username        string     `json:"username"`
	Level           int32      `json:"level"`
	Experience      int64      `json:"experience"`
	Respect         int64      `json:"respect"`
	Heat            int32      `json:"heat"`
	Energy          int32      `json:"energy"`
	MaxEnergy       int32      `json:"max_energy"`
	NewbieProtected bool       `json:"newbie_protected"`
	ProtectedUntil  *time.Time `json:"protected_until,omitempty"`
	CrewID          string     `json:"crew_id,omitempty"`
	IsAdmin         bool       `json:"-"`
}

type Account struct {
	PlayerID  string    `json:"player_id"`
	Cash      int64     `json:"cash"`
	Bank      int64     `json:"bank"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a Account) NetWorth() int64 {
	return a.Cash + a.Bank
}

type ListingType string

const (
	ListingItem    ListingType = "item"
	ListingService ListingType = "service"
	ListingFavor   ListingType = "favor"
	ListingIntel   ListingType = "intel"
)

type ListingStatus string

const (
	ListingActive    ListingStatus = "active"
	ListingSold      ListingStatus = "sold"
	ListingCancelled ListingStatus = "cancelled"
	ListingExpired   ListingStatus = "expired"
)

type Listing struct {
	ID          string        `json:"id"`
	SellerID    string        `json:"seller_id"`
	Type        ListingType   `json:"type"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Price       int64         `json:"price"`
	ListingFee  int64         `json:"listing_fee"`
	MinOffer    int64         `json:"min_offer,omitempty"`
	DistrictID  string        `json:"district_id,omitempty"`
	Status      ListingStatus `json:"status"`
	BuyerID     string        `json:"buyer_id,omitempty"`
	SalePrice   int64         `json:"sale_price,omitempty"`
	ClosedAt    *time.Time    `json:"closed_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	ExpiresAt   time.Time     `json:"expires_at"`
}

// Expired reports whether an active listing is past its expiry at now.
func (l Listing) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

type ListingFilter struct {
	Type       ListingType
	DistrictID string
	SellerID   string
	Limit      int
}

type OfferStatus string

const (
	OfferPending   OfferStatus = "pending"
	OfferAccepted  OfferStatus = "accepted"
	OfferRejected  OfferStatus = "rejected"
	OfferWithdrawn OfferStatus = "withdrawn"
)

type Offer struct {
	ID        string      `json:"id"`
	ListingID string      `json:"listing_id"`
	BuyerID   string      `json:"buyer_id"`
	Amount    int64       `json:"amount"`
	Status    OfferStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

type ItemSnapshot struct {
	Type        ListingType `json:"type"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
}

type Transaction struct {
	ID         string       `json:"id"`
	ListingID  string       `json:"listing_id"`
	OfferID    string       `json:"offer_id,omitempty"`
	SellerID   string       `json:"seller_id"`
	BuyerID    string       `json:"buyer_id"`
	Price      int64        `json:"price"`
	Fee        int64        `json:"fee"`
	ListingFee int64        `json:"listing_fee"`
	Item       ItemSnapshot `json:"item"`
	CreatedAt  time.Time    `json:"created_at"`
}

type ScheduledEvent struct {
	Key             string        `json:"key"`
	Name            string        `json:"name"`
	Schedule        Schedule      `json:"schedule"`
	Duration        time.Duration `json:"duration"`
	Modifiers       []Modifier    `json:"modifiers"`
	DistrictID      string        `json:"district_id,omitempty"`
	Enabled         bool          `json:"enabled"`
	Running         bool          `json:"running"`
	NextTriggerAt   *time.Time    `json:"next_trigger_at,omitempty"`
	LastTriggeredAt *time.Time    `json:"last_triggered_at,omitempty"`
}

type RunStatus string

const (
	RunActive    RunStatus = "active"
	RunCompleted RunStatus = "completed"
	RunCancelled RunStatus = "cancelled"
)

type RunStats struct {
	Participants int64 `json:"participants"`
	Actions      int64 `json:"actions"`
	CashAwarded  int64 `json:"cash_awarded"`
}

type EventRun struct {
	ID             string     `json:"id"`
	EventKey       string     `json:"event_key"`
	Status         RunStatus  `json:"status"`
	StartedAt      time.Time  `json:"started_at"`
	ScheduledEndAt time.Time  `json:"scheduled_end_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	Stats          RunStats   `json:"stats"`
}

// WeeklyStat is both a stored row and, when passed to Tx.AddWeeklyStat, a delta.
type WeeklyStat struct {
	PlayerID        string    `json:"player_id"`
	WeekStart       time.Time `json:"week_start"`
	CashEarned      int64     `json:"cash_earned"`
	HeatGained      int64     `json:"heat_gained"`
	BestHeistPayout int64     `json:"best_heist_payout"`
	HeistsCompleted int64     `json:"heists_completed"`
	XPEarned        int64     `json:"xp_earned"`
}

type Business struct {
	ID              string     `json:"id"`
	OwnerID         string     `json:"owner_id"`
	Name            string     `json:"name"`
	Open            bool       `json:"open"`
	BaseIncome      int64      `json:"base_income"`
	UpgradeLevel    int32      `json:"upgrade_level"`
	EfficiencyBonus int32      `json:"efficiency_bonus"`
	EmployeeCount   int32      `json:"employee_count"`
	HourlyCost      int64      `json:"hourly_cost"`
	TotalRevenue    int64      `json:"total_revenue"`
	TotalExpenses   int64      `json:"total_expenses"`
	LastAccruedAt   *time.Time `json:"last_accrued_at,omitempty"`
}

type District struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	CrimeRate    float64 `json:"crime_rate"`
	EconomyLevel float64 `json:"economy_level"`
}

type DistrictActivity struct {
	Crimes int64
	Trades int64
}

type Crew struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Level      int32  `json:"level"`
	Experience int64  `json:"experience"`
	MaxMembers int32  `json:"max_members"`
}

// Standing is one player's leaderboard input row.
type Standing struct {
	PlayerID   string `json:"player_id"`
	Username   string `json:"username"`
	Cash       int64  `json:"cash"`
	Bank       int64  `json:"bank"`
	Experience int64  `json:"experience"`
	Level      int32  `json:"level"`
	Respect    int64  `json:"respect"`
}

type WeeklyStanding struct {
	WeeklyStat
	Username string `json:"username"`
}
