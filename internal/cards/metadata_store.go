package cards

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errMissingMetadataDatabase = errors.New("cards: database handle is required")

// MetadataRecord persists resolved card metadata so vault reads never hit the
// upstream catalog. The raw payload is retained alongside the extracted
// fields used by allocation and snapshot assembly.
type MetadataRecord struct {
	Reference        string `gorm:"column:reference;primaryKey;size:190;not null"`
	Name             string `gorm:"column:name;size:320;not null;default:''"`
	CardType         string `gorm:"column:card_type;size:32;not null;default:''"`
	Rarity           string `gorm:"column:rarity;size:32;not null;default:''"`
	SetCode          string `gorm:"column:set_code;size:32;not null;default:'';index"`
	SetName          string `gorm:"column:set_name;size:190;not null;default:''"`
	FactionName      string `gorm:"column:faction_name;size:190;not null;default:''"`
	ImagePath        string `gorm:"column:image_path;size:512;not null;default:''"`
	CardJSON         string `gorm:"column:card_json;type:text;not null;default:''"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (MetadataRecord) TableName() string {
	return "cards_metadata"
}

// Metadata converts the persisted row back to the domain shape.
func (r MetadataRecord) Metadata() Metadata {
	return Metadata{
		Reference:   r.Reference,
		Name:        r.Name,
		CardType:    CardType(r.CardType),
		Rarity:      Rarity(r.Rarity),
		SetCode:     r.SetCode,
		SetName:     r.SetName,
		FactionName: r.FactionName,
		ImagePath:   r.ImagePath,
		RawJSON:     r.CardJSON,
	}
}

// MetadataStore caches resolved card metadata in the primary database.
type MetadataStore struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// MetadataStoreConfig describes the store dependencies.
type MetadataStoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// NewMetadataStore constructs the metadata cache.
func NewMetadataStore(cfg MetadataStoreConfig) (*MetadataStore, error) {
	if cfg.Database == nil {
		return nil, errMissingMetadataDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MetadataStore{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Upsert stores or refreshes the metadata row for the card's reference.
func (s *MetadataStore) Upsert(ctx context.Context, metadata Metadata) error {
	if metadata.Reference == "" {
		return ErrInvalidReference
	}

	record := MetadataRecord{
		Reference:        metadata.Reference,
		Name:             metadata.Name,
		CardType:         string(metadata.CardType),
		Rarity:           string(metadata.Rarity),
		SetCode:          metadata.SetCode,
		SetName:          metadata.SetName,
		FactionName:      metadata.FactionName,
		ImagePath:        metadata.ImagePath,
		CardJSON:         metadata.RawJSON,
		UpdatedAtSeconds: s.clock().UTC().Unix(),
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "reference"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "card_type", "rarity", "set_code", "set_name",
			"faction_name", "image_path", "card_json", "updated_at_s",
		}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("cards: metadata upsert failed: %w", err)
	}
	return nil
}

// Get returns the cached metadata for a reference, or ErrCardNotFound.
func (s *MetadataStore) Get(ctx context.Context, reference string) (Metadata, error) {
	if reference == "" {
		return Metadata{}, ErrInvalidReference
	}
	var record MetadataRecord
	err := s.db.WithContext(ctx).Where("reference = ?", reference).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Metadata{}, fmt.Errorf("%w: %s", ErrCardNotFound, reference)
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("cards: metadata lookup failed: %w", err)
	}
	return record.Metadata(), nil
}

// GetBatch returns cached metadata for the given references keyed by
// reference. Missing references are simply absent from the result.
func (s *MetadataStore) GetBatch(ctx context.Context, references []string) (map[string]Metadata, error) {
	result := make(map[string]Metadata, len(references))
	if len(references) == 0 {
		return result, nil
	}

	var records []MetadataRecord
	if err := s.db.WithContext(ctx).Where("reference IN ?", references).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("cards: metadata batch lookup failed: %w", err)
	}
	for _, record := range records {
		result[record.Reference] = record.Metadata()
	}
	return result, nil
}
