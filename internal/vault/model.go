package vault

// Booster is a virtual container modeling one physical pack. It is bound to
// exactly one (user, set) pair, only ever mutated by appending cards, and
// becomes immutable once completed.
type Booster struct {
	BoosterID          string `gorm:"column:booster_id;primaryKey;size:190;not null"`
	UserID             string `gorm:"column:user_id;size:190;not null;index:idx_boosters_user_set,priority:1"`
	SetCode            string `gorm:"column:set_code;size:32;not null;index:idx_boosters_user_set,priority:2"`
	SetName            string `gorm:"column:set_name;size:190;not null;default:''"`
	CreatedAtSeconds   int64  `gorm:"column:created_at_s;not null"`
	CompletedAtSeconds *int64 `gorm:"column:completed_at_s"`
}

// TableName provides the explicit table binding for GORM.
func (Booster) TableName() string {
	return "vault_boosters"
}

// Completed reports whether the booster has been sealed at twelve cards.
func (b Booster) Completed() bool {
	return b.CompletedAtSeconds != nil
}

// VaultCard is one accepted physical card. The auto-incremented row id
// preserves scan order within a booster. The (user_id, physical_token)
// unique index is the duplicate guard's backstop: re-inserting the same
// physical card can never double-count.
type VaultCard struct {
	ID               uint   `gorm:"column:id;primaryKey;autoIncrement"`
	UserID           string `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_cards_user_token,priority:1"`
	PhysicalToken    string `gorm:"column:physical_token;size:190;not null;uniqueIndex:idx_cards_user_token,priority:2"`
	BoosterID        string `gorm:"column:booster_id;size:190;not null;index"`
	Reference        string `gorm:"column:reference;size:190;not null"`
	CardType         string `gorm:"column:card_type;size:32;not null;default:''"`
	Rarity           string `gorm:"column:rarity;size:32;not null;default:''"`
	ScannedAtSeconds int64  `gorm:"column:scanned_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (VaultCard) TableName() string {
	return "vault_cards"
}

// FailedScan records a card that resolved but was rejected by the allocator.
// Kept per user for review; never part of the committed vault.
type FailedScan struct {
	ID              uint   `gorm:"column:id;primaryKey;autoIncrement"`
	UserID          string `gorm:"column:user_id;size:190;not null;index"`
	Reference       string `gorm:"column:reference;size:190;not null"`
	CardName        string `gorm:"column:card_name;size:320;not null;default:''"`
	SetCode         string `gorm:"column:set_code;size:32;not null;default:''"`
	Reason          string `gorm:"column:reason;size:64;not null"`
	FailedAtSeconds int64  `gorm:"column:failed_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (FailedScan) TableName() string {
	return "vault_failed_scans"
}
