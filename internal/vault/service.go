package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/packvault/backend/internal/cards"
	"github.com/packvault/backend/internal/catalog"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingResolver   = errors.New("card resolver is required")
	errMissingMetadata   = errors.New("metadata store is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingUserID     = errors.New("user identifier is required")
	errMissingToken      = errors.New("physical token is required")
	errMissingReference  = errors.New("card reference is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError wraps internal vault failures with a dotted operation code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew  = "vault.service.new"
	opAddCard     = "vault.add_card"
	opImportCards = "vault.import_cards"
	opSnapshot    = "vault.snapshot"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig describes the dependencies of the vault service.
type ServiceConfig struct {
	Database   *gorm.DB
	Resolver   cards.Resolver
	Metadata   *cards.MetadataStore
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
	Events     EventPublisher
	Cache      SnapshotInvalidator
}

// Service owns the booster allocation state machine and the durable per-user
// vault. The allocator itself is stateless per call; all quota and duplicate
// discipline lives in the transactional read-modify-write here, serialized
// per user so concurrent scans cannot race the FIFO-fill or quota checks.
type Service struct {
	db         *gorm.DB
	resolver   cards.Resolver
	metadata   *cards.MetadataStore
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
	events     EventPublisher
	cache      SnapshotInvalidator

	userLocks sync.Map
}

// NewService constructs the vault service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Resolver == nil {
		return nil, newServiceError(opServiceNew, "missing_resolver", errMissingResolver)
	}
	if cfg.Metadata == nil {
		return nil, newServiceError(opServiceNew, "missing_metadata", errMissingMetadata)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		resolver:   cfg.Resolver,
		metadata:   cfg.Metadata,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
		events:     cfg.Events,
		cache:      cfg.Cache,
	}, nil
}

// AddCard resolves the card reference, then allocates the physical card into
// the user's vault under the booster composition and quota rules. Rejections
// are results, not errors; errors indicate resolution or storage failures.
func (s *Service) AddCard(ctx context.Context, userID string, request AddCardRequest) (AllocationResult, error) {
	userID = strings.TrimSpace(userID)
	token := strings.TrimSpace(request.PhysicalToken)
	reference := strings.TrimSpace(request.Reference)
	if userID == "" {
		return AllocationResult{}, newServiceError(opAddCard, "missing_user_id", errMissingUserID)
	}
	if token == "" {
		return AllocationResult{}, newServiceError(opAddCard, "missing_physical_token", errMissingToken)
	}
	if reference == "" {
		return AllocationResult{}, newServiceError(opAddCard, "missing_reference", errMissingReference)
	}

	metadata, err := s.resolver.Resolve(ctx, reference)
	if err != nil {
		// Resolution failures are surfaced as-is so callers can distinguish
		// a retryable transient failure from a terminal unknown reference.
		return AllocationResult{}, err
	}
	if err := s.metadata.Upsert(ctx, metadata); err != nil {
		s.logError(opAddCard, "metadata_upsert_failed", err, zap.String("reference", reference))
		return AllocationResult{}, newServiceError(opAddCard, "metadata_upsert_failed", err)
	}

	result, txErr := s.allocateLocked(ctx, userID, token, metadata)
	if txErr != nil {
		return AllocationResult{}, txErr
	}

	// Cache invalidation and the broker publish run after the user lock is
	// released; a slow or unreachable broker must not stall the next scan.
	if result.Accepted {
		if s.cache != nil {
			s.cache.Invalidate(userID)
		}
		if s.events != nil {
			s.events.PublishScanEvent(ScanEvent{
				UserID:            userID,
				PhysicalToken:     token,
				Reference:         reference,
				SetCode:           metadata.SetCode,
				BoosterID:         result.BoosterID,
				BoosterCompleted:  result.Completed,
				OccurredAtSeconds: s.clock().UTC().Unix(),
			})
		}
	}

	return result, nil
}

// allocateLocked serializes the transactional read-modify-write per user.
func (s *Service) allocateLocked(ctx context.Context, userID, token string, metadata cards.Metadata) (AllocationResult, error) {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	var result AllocationResult
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		allocated, err := s.allocate(tx, userID, token, metadata)
		if err != nil {
			return err
		}
		result = allocated
		return nil
	})
	if txErr != nil {
		return AllocationResult{}, txErr
	}
	return result, nil
}

// allocate runs the allocation state machine inside one transaction: check
// the duplicate guard, validate the season set, find the oldest open booster
// with room or open a new one under quota, append the card, and seal the
// booster at twelve cards.
func (s *Service) allocate(tx *gorm.DB, userID, token string, metadata cards.Metadata) (AllocationResult, error) {
	var seen int64
	err := tx.Model(&VaultCard{}).
		Where("user_id = ? AND physical_token = ?", userID, token).
		Count(&seen).Error
	if err != nil {
		s.logError(opAddCard, "duplicate_check_failed", err, zap.String("user_id", userID))
		return AllocationResult{}, newServiceError(opAddCard, "duplicate_check_failed", err)
	}
	if seen > 0 {
		return rejected(RejectDuplicateCard), nil
	}

	var seasonSet catalog.SeasonSet
	err = tx.Where("set_code = ?", metadata.SetCode).Take(&seasonSet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !seasonSet.IsActive) {
		if err := s.recordFailedScan(tx, userID, metadata, RejectSetNotActive); err != nil {
			return AllocationResult{}, err
		}
		return rejected(RejectSetNotActive), nil
	}
	if err != nil {
		s.logError(opAddCard, "set_lookup_failed", err, zap.String("set_code", metadata.SetCode))
		return AllocationResult{}, newServiceError(opAddCard, "set_lookup_failed", err)
	}

	category := categorize(metadata.CardType, metadata.Rarity)
	if category == slotUnknown {
		if err := s.recordFailedScan(tx, userID, metadata, RejectUnsupportedCard); err != nil {
			return AllocationResult{}, err
		}
		return rejected(RejectUnsupportedCard), nil
	}

	open, err := s.loadOpenBoosters(tx, userID, metadata.SetCode)
	if err != nil {
		return AllocationResult{}, err
	}

	var target Booster
	var targetCounts slotCounts
	if index, ok := chooseBooster(open, category); ok {
		target = open[index].booster
		targetCounts = open[index].counts
	} else {
		var total int64
		err := tx.Model(&Booster{}).
			Where("user_id = ? AND set_code = ?", userID, metadata.SetCode).
			Count(&total).Error
		if err != nil {
			s.logError(opAddCard, "booster_count_failed", err, zap.String("user_id", userID))
			return AllocationResult{}, newServiceError(opAddCard, "booster_count_failed", err)
		}
		if total >= int64(seasonSet.MaxPacks) {
			if err := s.recordFailedScan(tx, userID, metadata, RejectQuotaExceeded); err != nil {
				return AllocationResult{}, err
			}
			return rejected(RejectQuotaExceeded), nil
		}

		boosterID, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opAddCard, "id_generation_failed", err)
			return AllocationResult{}, newServiceError(opAddCard, "id_generation_failed", err)
		}
		target = Booster{
			BoosterID:        boosterID,
			UserID:           userID,
			SetCode:          seasonSet.SetCode,
			SetName:          seasonSet.SetName,
			CreatedAtSeconds: s.clock().UTC().Unix(),
		}
		if err := tx.Create(&target).Error; err != nil {
			s.logError(opAddCard, "booster_create_failed", err, zap.String("user_id", userID))
			return AllocationResult{}, newServiceError(opAddCard, "booster_create_failed", err)
		}
	}

	card := VaultCard{
		UserID:           userID,
		PhysicalToken:    token,
		BoosterID:        target.BoosterID,
		Reference:        metadata.Reference,
		CardType:         string(metadata.CardType),
		Rarity:           string(metadata.Rarity),
		ScannedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := tx.Create(&card).Error; err != nil {
		s.logError(opAddCard, "card_insert_failed", err,
			zap.String("user_id", userID),
			zap.String("booster_id", target.BoosterID))
		return AllocationResult{}, newServiceError(opAddCard, "card_insert_failed", err)
	}

	completed := false
	if targetCounts.total()+1 == BoosterSize {
		completedAt := s.clock().UTC().Unix()
		err := tx.Model(&Booster{}).
			Where("booster_id = ? AND completed_at_s IS NULL", target.BoosterID).
			Update("completed_at_s", completedAt).Error
		if err != nil {
			s.logError(opAddCard, "booster_complete_failed", err, zap.String("booster_id", target.BoosterID))
			return AllocationResult{}, newServiceError(opAddCard, "booster_complete_failed", err)
		}
		completed = true
	}

	return accepted(target.BoosterID, completed), nil
}

// loadOpenBoosters returns the user's open boosters for a set oldest-first
// with their current slot usage. Booster id breaks created_at ties; ids are
// time-ordered UUIDs, so the order stays chronological.
func (s *Service) loadOpenBoosters(tx *gorm.DB, userID, setCode string) ([]openBooster, error) {
	var boosters []Booster
	err := tx.
		Where("user_id = ? AND set_code = ? AND completed_at_s IS NULL", userID, setCode).
		Order("created_at_s ASC, booster_id ASC").
		Find(&boosters).Error
	if err != nil {
		s.logError(opAddCard, "open_booster_query_failed", err, zap.String("user_id", userID))
		return nil, newServiceError(opAddCard, "open_booster_query_failed", err)
	}
	if len(boosters) == 0 {
		return nil, nil
	}

	boosterIDs := make([]string, 0, len(boosters))
	for _, booster := range boosters {
		boosterIDs = append(boosterIDs, booster.BoosterID)
	}

	var stored []VaultCard
	if err := tx.Where("booster_id IN ?", boosterIDs).Find(&stored).Error; err != nil {
		s.logError(opAddCard, "booster_cards_query_failed", err, zap.String("user_id", userID))
		return nil, newServiceError(opAddCard, "booster_cards_query_failed", err)
	}

	cardsByBooster := make(map[string][]VaultCard, len(boosters))
	for _, card := range stored {
		cardsByBooster[card.BoosterID] = append(cardsByBooster[card.BoosterID], card)
	}

	open := make([]openBooster, 0, len(boosters))
	for _, booster := range boosters {
		open = append(open, openBooster{
			booster: booster,
			counts:  countSlots(cardsByBooster[booster.BoosterID]),
		})
	}
	return open, nil
}

func (s *Service) recordFailedScan(tx *gorm.DB, userID string, metadata cards.Metadata, reason RejectReason) error {
	record := FailedScan{
		UserID:          userID,
		Reference:       metadata.Reference,
		CardName:        metadata.Name,
		SetCode:         metadata.SetCode,
		Reason:          string(reason),
		FailedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := tx.Create(&record).Error; err != nil {
		s.logError(opAddCard, "failed_scan_insert_failed", err, zap.String("user_id", userID))
		return newServiceError(opAddCard, "failed_scan_insert_failed", err)
	}
	return nil
}

func (s *Service) userLock(userID string) *sync.Mutex {
	value, _ := s.userLocks.LoadOrStore(userID, &sync.Mutex{})
	return value.(*sync.Mutex)
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("vault service error", attrs...)
}
