package database

import (
	"errors"
	"time"

	"github.com/packvault/backend/internal/catalog"
	"github.com/packvault/backend/internal/vault"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationSeedSeasonCatalog   = "2026-07-14_seed_season_catalog"
	migrationNormalizeCardCasing = "2026-08-02_normalize_card_casing"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationSeedSeasonCatalog, apply: seedSeasonCatalog},
		{name: migrationNormalizeCardCasing, apply: normalizeCardCasing},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// seedSeasonCatalog installs the current season's set registry. Catalog
// changes between seasons ship as new migrations.
func seedSeasonCatalog(db *gorm.DB) error {
	now := time.Now().UTC().Unix()
	sets := []catalog.SeasonSet{
		{SetCode: "CORE", SetName: "Beyond the Gates", MaxPacks: 3, IsActive: true, DisplayOrder: 1},
		{SetCode: "COREKS", SetName: "Beyond the Gates Kickstarter", MaxPacks: 1, IsActive: true, DisplayOrder: 2},
		{SetCode: "ALIZE", SetName: "Trial by Frost", MaxPacks: 3, IsActive: true, DisplayOrder: 3},
		{SetCode: "BISE", SetName: "Whispers from the Maze", MaxPacks: 3, IsActive: true, DisplayOrder: 4},
		{SetCode: "CYCLONE", SetName: "Skybound Odyssey", MaxPacks: 0, IsActive: false, DisplayOrder: 5},
	}
	for i := range sets {
		sets[i].CreatedAtSeconds = now
		sets[i].UpdatedAtSeconds = now
		var existing catalog.SeasonSet
		err := db.Where("set_code = ?", sets[i].SetCode).Take(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := db.Create(&sets[i]).Error; err != nil {
			return err
		}
	}
	return nil
}

// normalizeCardCasing repairs rows persisted by early clients that stored
// mixed-case card types and rarities, which the allocator's category match
// would otherwise miss.
func normalizeCardCasing(db *gorm.DB) error {
	if err := db.Model(&vault.VaultCard{}).
		Where("card_type <> UPPER(card_type)").
		Update("card_type", gorm.Expr("UPPER(card_type)")).Error; err != nil {
		return err
	}
	return db.Model(&vault.VaultCard{}).
		Where("rarity <> UPPER(rarity)").
		Update("rarity", gorm.Expr("UPPER(rarity)")).Error
}
