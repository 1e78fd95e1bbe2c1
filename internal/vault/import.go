package vault

import (
	"context"
	"errors"
	"strings"

	"github.com/packvault/backend/internal/cards"
	"go.uber.org/zap"
)

// ImportFailure records one batch row that could not be committed.
type ImportFailure struct {
	Reference string `json:"reference"`
	Reason    string `json:"reason"`
}

// ImportOutcome summarizes a confirmed batch commit.
type ImportOutcome struct {
	Imported          int             `json:"imported"`
	CompletedBoosters int             `json:"completed_boosters"`
	Failures          []ImportFailure `json:"failures"`
}

// ImportCards commits a confirmed import batch through the canonical
// allocation path, minting a fresh physical token per row. Per-card
// failures are collected rather than aborting the batch; only storage-level
// faults are fatal.
func (s *Service) ImportCards(ctx context.Context, userID string, references []string) (ImportOutcome, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ImportOutcome{}, newServiceError(opImportCards, "missing_user_id", errMissingUserID)
	}

	outcome := ImportOutcome{Failures: []ImportFailure{}}
	for _, reference := range references {
		reference = strings.TrimSpace(reference)
		if reference == "" {
			outcome.Failures = append(outcome.Failures, ImportFailure{Reason: "empty_reference"})
			continue
		}

		token, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opImportCards, "id_generation_failed", err)
			return ImportOutcome{}, newServiceError(opImportCards, "id_generation_failed", err)
		}

		result, err := s.AddCard(ctx, userID, AddCardRequest{PhysicalToken: token, Reference: reference})
		switch {
		case errors.Is(err, cards.ErrCardNotFound), errors.Is(err, cards.ErrInvalidReference):
			outcome.Failures = append(outcome.Failures, ImportFailure{Reference: reference, Reason: "unresolvable_card"})
		case cards.IsTransient(err):
			outcome.Failures = append(outcome.Failures, ImportFailure{Reference: reference, Reason: "resolver_unavailable"})
		case err != nil:
			return ImportOutcome{}, err
		case result.Accepted:
			outcome.Imported++
			if result.Completed {
				outcome.CompletedBoosters++
			}
		default:
			outcome.Failures = append(outcome.Failures, ImportFailure{Reference: reference, Reason: string(result.Reason)})
		}

		s.logger.Debug("import card processed",
			zap.String("user_id", userID),
			zap.String("reference", reference),
			zap.Bool("accepted", err == nil && result.Accepted))
	}

	return outcome, nil
}
