package vault

// RejectReason distinguishes the user-visible rejection classes. Each maps
// to a different client affordance: duplicates are idempotent no-ops, quota
// and inactive-set rejections are terminal for the season, unsupported cards
// indicate a card outside the recognized categories.
type RejectReason string

const (
	RejectNone            RejectReason = ""
	RejectDuplicateCard   RejectReason = "duplicate_card"
	RejectSetNotActive    RejectReason = "set_not_active"
	RejectQuotaExceeded   RejectReason = "max_boosters_reached"
	RejectUnsupportedCard RejectReason = "unsupported_card"
)

// AllocationResult reports the outcome of allocating one scanned card.
type AllocationResult struct {
	Accepted     bool
	BoosterID    string
	Completed    bool
	Reason       RejectReason
	LimitReached bool
}

func accepted(boosterID string, completed bool) AllocationResult {
	return AllocationResult{Accepted: true, BoosterID: boosterID, Completed: completed}
}

func rejected(reason RejectReason) AllocationResult {
	return AllocationResult{
		Reason:       reason,
		LimitReached: reason == RejectQuotaExceeded,
	}
}

// AddCardRequest is the canonical add-card surface: the physical token from
// the scan plus the catalog reference, resolved server-side so client
// supplied metadata is never trusted.
type AddCardRequest struct {
	PhysicalToken string
	Reference     string
}

// ScanEvent is published after a card is committed to the vault.
type ScanEvent struct {
	UserID            string `json:"user_id"`
	PhysicalToken     string `json:"physical_token"`
	Reference         string `json:"reference"`
	SetCode           string `json:"set_code"`
	BoosterID         string `json:"booster_id"`
	BoosterCompleted  bool   `json:"booster_completed"`
	OccurredAtSeconds int64  `json:"occurred_at_s"`
}

// EventPublisher receives scan events after commit. Publish failures must
// never fail the originating request.
type EventPublisher interface {
	PublishScanEvent(event ScanEvent)
}

// SnapshotInvalidator drops any cached vault snapshot for a user. The cache
// is a derived read-through view, never the source of truth, so it is
// invalidated on every successful allocation.
type SnapshotInvalidator interface {
	Invalidate(userID string)
}
