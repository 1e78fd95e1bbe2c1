package vault

import (
	"github.com/packvault/backend/internal/cards"
)

// Booster composition caps. A booster holds exactly one hero, eight commons
// and three cards from the shared rare/unique pool; it seals at twelve.
const (
	HeroCapacity       = 1
	CommonCapacity     = 8
	RareUniqueCapacity = 3
	BoosterSize        = HeroCapacity + CommonCapacity + RareUniqueCapacity
)

// slotCategory names the slot pool a card competes for.
type slotCategory int

const (
	slotUnknown slotCategory = iota
	slotHero
	slotCommon
	slotRareUnique
)

// categorize maps a card to its slot pool. Heroes occupy the hero slot
// regardless of rarity; RARE and UNIQUE share one pool. Anything else is
// unsupported and must be rejected, never silently dropped.
func categorize(cardType cards.CardType, rarity cards.Rarity) slotCategory {
	if cardType.IsHero() {
		return slotHero
	}
	switch rarity {
	case cards.RarityCommon:
		return slotCommon
	case cards.RarityRare, cards.RarityUnique:
		return slotRareUnique
	default:
		return slotUnknown
	}
}

// slotCounts tallies how many cards of each pool a booster holds.
type slotCounts struct {
	Heroes      int
	Commons     int
	RareUniques int
}

// total returns the booster's card count.
func (c slotCounts) total() int {
	return c.Heroes + c.Commons + c.RareUniques
}

// fits reports whether a card of the given category has room.
func (c slotCounts) fits(category slotCategory) bool {
	switch category {
	case slotHero:
		return c.Heroes < HeroCapacity
	case slotCommon:
		return c.Commons < CommonCapacity
	case slotRareUnique:
		return c.RareUniques < RareUniqueCapacity
	default:
		return false
	}
}

// countSlots tallies slot usage for a booster's stored cards.
func countSlots(stored []VaultCard) slotCounts {
	var counts slotCounts
	for _, card := range stored {
		switch categorize(cards.CardType(card.CardType), cards.Rarity(card.Rarity)) {
		case slotHero:
			counts.Heroes++
		case slotCommon:
			counts.Commons++
		case slotRareUnique:
			counts.RareUniques++
		}
	}
	return counts
}

// openBooster pairs an open booster with its current slot usage.
type openBooster struct {
	booster Booster
	counts  slotCounts
}

// chooseBooster returns the index of the first open booster with room for the
// category. Callers must supply boosters ordered oldest-first so packs fill
// and seal in FIFO order.
func chooseBooster(open []openBooster, category slotCategory) (int, bool) {
	for i, candidate := range open {
		if candidate.counts.fits(category) {
			return i, true
		}
	}
	return -1, false
}
