package vault

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// CardView is one vault card with its resolved metadata attached.
type CardView struct {
	PhysicalToken    string `json:"physical_token"`
	Reference        string `json:"reference"`
	Name             string `json:"name"`
	CardType         string `json:"card_type"`
	Rarity           string `json:"rarity"`
	SetCode          string `json:"set_code"`
	SetName          string `json:"set_name"`
	FactionName      string `json:"faction_name,omitempty"`
	ImagePath        string `json:"image_path,omitempty"`
	ScannedAtSeconds int64  `json:"scanned_at_s"`
}

// BoosterView is one booster with its ordered card list.
type BoosterView struct {
	BoosterID          string     `json:"booster_id"`
	SetCode            string     `json:"set_code"`
	SetName            string     `json:"set_name"`
	CreatedAtSeconds   int64      `json:"created_at_s"`
	CompletedAtSeconds *int64     `json:"completed_at_s,omitempty"`
	Cards              []CardView `json:"cards"`
}

// CompletedSetGroup groups a user's completed boosters for one set.
type CompletedSetGroup struct {
	Count    int           `json:"count"`
	SetName  string        `json:"set_name"`
	Boosters []BoosterView `json:"boosters"`
}

// FailedScanView is a rejected scan kept for user review.
type FailedScanView struct {
	Reference       string `json:"reference"`
	CardName        string `json:"card_name"`
	SetCode         string `json:"set_code"`
	Reason          string `json:"reason"`
	FailedAtSeconds int64  `json:"failed_at_s"`
}

// Snapshot is the per-user vault read surface: open boosters newest-first,
// completed boosters grouped by set, and the failed scan list.
type Snapshot struct {
	OpenBoosters      []BoosterView                `json:"active_boosters"`
	CompletedBoosters map[string]CompletedSetGroup `json:"completed_boosters"`
	FailedScans       []FailedScanView             `json:"failed_scans"`
}

// Snapshot assembles the vault read surface for a user. Cards keep scan
// order inside each booster.
func (s *Service) Snapshot(ctx context.Context, userID string) (Snapshot, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Snapshot{}, newServiceError(opSnapshot, "missing_user_id", errMissingUserID)
	}

	var boosters []Booster
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at_s DESC, booster_id DESC").
		Find(&boosters).Error
	if err != nil {
		s.logError(opSnapshot, "booster_query_failed", err, zap.String("user_id", userID))
		return Snapshot{}, newServiceError(opSnapshot, "booster_query_failed", err)
	}

	var stored []VaultCard
	err = s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&stored).Error
	if err != nil {
		s.logError(opSnapshot, "card_query_failed", err, zap.String("user_id", userID))
		return Snapshot{}, newServiceError(opSnapshot, "card_query_failed", err)
	}

	references := make([]string, 0, len(stored))
	seenReferences := make(map[string]bool, len(stored))
	for _, card := range stored {
		if !seenReferences[card.Reference] {
			seenReferences[card.Reference] = true
			references = append(references, card.Reference)
		}
	}
	metadataByReference, err := s.metadata.GetBatch(ctx, references)
	if err != nil {
		s.logError(opSnapshot, "metadata_query_failed", err, zap.String("user_id", userID))
		return Snapshot{}, newServiceError(opSnapshot, "metadata_query_failed", err)
	}

	cardsByBooster := make(map[string][]CardView, len(boosters))
	for _, card := range stored {
		metadata := metadataByReference[card.Reference]
		cardsByBooster[card.BoosterID] = append(cardsByBooster[card.BoosterID], CardView{
			PhysicalToken:    card.PhysicalToken,
			Reference:        card.Reference,
			Name:             metadata.Name,
			CardType:         card.CardType,
			Rarity:           card.Rarity,
			SetCode:          metadata.SetCode,
			SetName:          metadata.SetName,
			FactionName:      metadata.FactionName,
			ImagePath:        metadata.ImagePath,
			ScannedAtSeconds: card.ScannedAtSeconds,
		})
	}

	snapshot := Snapshot{
		OpenBoosters:      []BoosterView{},
		CompletedBoosters: map[string]CompletedSetGroup{},
		FailedScans:       []FailedScanView{},
	}
	for _, booster := range boosters {
		view := BoosterView{
			BoosterID:          booster.BoosterID,
			SetCode:            booster.SetCode,
			SetName:            booster.SetName,
			CreatedAtSeconds:   booster.CreatedAtSeconds,
			CompletedAtSeconds: booster.CompletedAtSeconds,
			Cards:              cardsByBooster[booster.BoosterID],
		}
		if view.Cards == nil {
			view.Cards = []CardView{}
		}
		if booster.Completed() {
			group := snapshot.CompletedBoosters[booster.SetCode]
			group.Count++
			group.SetName = booster.SetName
			group.Boosters = append(group.Boosters, view)
			snapshot.CompletedBoosters[booster.SetCode] = group
		} else {
			snapshot.OpenBoosters = append(snapshot.OpenBoosters, view)
		}
	}

	var failed []FailedScan
	err = s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("failed_at_s DESC, id DESC").
		Find(&failed).Error
	if err != nil {
		s.logError(opSnapshot, "failed_scan_query_failed", err, zap.String("user_id", userID))
		return Snapshot{}, newServiceError(opSnapshot, "failed_scan_query_failed", err)
	}
	for _, record := range failed {
		snapshot.FailedScans = append(snapshot.FailedScans, FailedScanView{
			Reference:       record.Reference,
			CardName:        record.CardName,
			SetCode:         record.SetCode,
			Reason:          record.Reason,
			FailedAtSeconds: record.FailedAtSeconds,
		})
	}

	return snapshot, nil
}

// CardCountsBySetName returns how many committed vault cards the user holds
// per set, keyed by lower-cased set name. Used by the import preview to
// judge whether a batch would exceed season limits.
func (s *Service) CardCountsBySetName(ctx context.Context, userID string) (map[string]int, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, newServiceError(opSnapshot, "missing_user_id", errMissingUserID)
	}

	type setCount struct {
		SetName   string
		CardCount int
	}
	var rows []setCount
	err := s.db.WithContext(ctx).
		Table("vault_cards").
		Select("vault_boosters.set_name AS set_name, COUNT(vault_cards.id) AS card_count").
		Joins("JOIN vault_boosters ON vault_boosters.booster_id = vault_cards.booster_id").
		Where("vault_cards.user_id = ?", userID).
		Group("vault_boosters.set_name").
		Scan(&rows).Error
	if err != nil {
		s.logError(opSnapshot, "card_count_query_failed", err, zap.String("user_id", userID))
		return nil, newServiceError(opSnapshot, "card_count_query_failed", err)
	}

	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[strings.ToLower(row.SetName)] += row.CardCount
	}
	return counts, nil
}
