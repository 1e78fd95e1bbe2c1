package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrSetNotFound indicates the set code is absent from the season catalog.
	ErrSetNotFound = errors.New("catalog: set not found")
	// ErrInvalidSetCode indicates an empty set code.
	ErrInvalidSetCode  = errors.New("catalog: invalid set code")
	errMissingDatabase = errors.New("catalog: database handle is required")
)

// ServiceConfig describes the catalog dependencies.
type ServiceConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Service answers read-mostly queries against the season set registry.
// Catalog updates are an administrative concern handled by migrations.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewService constructs the catalog service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, logger: logger}, nil
}

// ActiveSets lists the sets accepting cards this season, ordered by display
// order then set code.
func (s *Service) ActiveSets(ctx context.Context) ([]SeasonSet, error) {
	var sets []SeasonSet
	err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("display_order ASC, set_code ASC").
		Find(&sets).Error
	if err != nil {
		s.logger.Error("season set query failed", zap.Error(err))
		return nil, fmt.Errorf("catalog: active set query failed: %w", err)
	}
	return sets, nil
}

// Set returns the season entry for a set code regardless of active state.
func (s *Service) Set(ctx context.Context, setCode string) (SeasonSet, error) {
	code := strings.TrimSpace(setCode)
	if code == "" {
		return SeasonSet{}, ErrInvalidSetCode
	}

	var set SeasonSet
	err := s.db.WithContext(ctx).Where("set_code = ?", code).Take(&set).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return SeasonSet{}, fmt.Errorf("%w: %s", ErrSetNotFound, code)
	}
	if err != nil {
		s.logger.Error("season set lookup failed", zap.String("set_code", code), zap.Error(err))
		return SeasonSet{}, fmt.Errorf("catalog: set lookup failed: %w", err)
	}
	return set, nil
}
