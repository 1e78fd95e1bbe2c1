package importer

import (
	"sort"
	"strings"

	"github.com/packvault/backend/internal/cards"
	"github.com/packvault/backend/internal/catalog"
	"github.com/packvault/backend/internal/vault"
)

// BoosterSummary previews how many complete boosters one set's cards in a
// batch would form, with leftover counts per slot pool. Rare and unique
// leftovers are reported combined because the pool is shared.
type BoosterSummary struct {
	SetName              string       `json:"set_name"`
	TotalCards           int          `json:"total_cards"`
	CompleteBoosters     int          `json:"complete_boosters"`
	RemainingCards       int          `json:"remaining_cards"`
	HeroCount            int          `json:"hero_count"`
	CommonCount          int          `json:"common_count"`
	RareCount            int          `json:"rare_count"`
	UniqueCount          int          `json:"unique_count"`
	RemainingHeroes      int          `json:"remaining_heroes"`
	RemainingCommons     int          `json:"remaining_commons"`
	RemainingRareUnique  int          `json:"remaining_rare_unique"`
	ExistingCardsInVault int          `json:"existing_cards_in_vault"`
	MaxAllowedCards      int          `json:"max_allowed_cards"`
	WouldExceedLimit     bool         `json:"would_exceed_limit"`
	Cards                []ParsedCard `json:"cards"`
}

// Summarize computes the import preview. It is a pure function: the packing
// arithmetic is the allocator's caps in closed form, valid because booster
// assignment order cannot change the complete/leftover totals, only which
// booster each card lands in. existingCounts is keyed by lower-cased set
// name, as returned by the vault's CardCountsBySetName.
func Summarize(parsed []ParsedCard, seasonSets []catalog.SeasonSet, existingCounts map[string]int) []BoosterSummary {
	bySet := make(map[string][]ParsedCard)
	for _, card := range parsed {
		bySet[card.SetName] = append(bySet[card.SetName], card)
	}

	setsByName := make(map[string]catalog.SeasonSet, len(seasonSets))
	for _, set := range seasonSets {
		setsByName[strings.ToLower(set.SetName)] = set
	}

	summaries := make([]BoosterSummary, 0, len(bySet))
	for setName, setCards := range bySet {
		var heroes, commons, rares, uniques int
		for _, card := range setCards {
			switch {
			case card.IsHero:
				heroes++
			case cards.NormalizeRarity(card.Rarity) == cards.RarityCommon:
				commons++
			case cards.NormalizeRarity(card.Rarity) == cards.RarityRare:
				rares++
			case cards.NormalizeRarity(card.Rarity) == cards.RarityUnique:
				uniques++
			}
		}
		rareUnique := rares + uniques

		complete := heroes / vault.HeroCapacity
		if fromCommons := commons / vault.CommonCapacity; fromCommons < complete {
			complete = fromCommons
		}
		if fromRareUnique := rareUnique / vault.RareUniqueCapacity; fromRareUnique < complete {
			complete = fromRareUnique
		}

		remainingHeroes := heroes - complete*vault.HeroCapacity
		remainingCommons := commons - complete*vault.CommonCapacity
		remainingRareUnique := rareUnique - complete*vault.RareUniqueCapacity

		existing := existingCounts[strings.ToLower(setName)]
		seasonSet, active := setsByName[strings.ToLower(setName)]
		maxAllowed := 0
		if active && seasonSet.IsActive {
			maxAllowed = seasonSet.MaxPacks * vault.BoosterSize
		} else {
			active = false
		}

		summaries = append(summaries, BoosterSummary{
			SetName:              setName,
			TotalCards:           len(setCards),
			CompleteBoosters:     complete,
			RemainingCards:       remainingHeroes + remainingCommons + remainingRareUnique,
			HeroCount:            heroes,
			CommonCount:          commons,
			RareCount:            rares,
			UniqueCount:          uniques,
			RemainingHeroes:      remainingHeroes,
			RemainingCommons:     remainingCommons,
			RemainingRareUnique:  remainingRareUnique,
			ExistingCardsInVault: existing,
			MaxAllowedCards:      maxAllowed,
			WouldExceedLimit:     !active || existing+len(setCards) > maxAllowed,
			Cards:                setCards,
		})
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		if summaries[i].TotalCards != summaries[j].TotalCards {
			return summaries[i].TotalCards > summaries[j].TotalCards
		}
		return summaries[i].SetName < summaries[j].SetName
	})
	return summaries
}
