package catalog

// SeasonSet is reference data describing one card set in the current season:
// whether it accepts new cards and how many boosters a user may hold for it.
type SeasonSet struct {
	SetCode          string `gorm:"column:set_code;primaryKey;size:32;not null"`
	SetName          string `gorm:"column:set_name;size:190;not null"`
	MaxPacks         int    `gorm:"column:max_packs;not null;default:0"`
	IsActive         bool   `gorm:"column:is_active;not null;default:false"`
	DisplayOrder     int    `gorm:"column:display_order;not null;default:0"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;default:0"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (SeasonSet) TableName() string {
	return "season_sets"
}
