package cards

import "strings"

// CardType classifies a card by its printed type line. Only HERO receives
// special slot treatment in the allocator; every other type competes for
// slots by rarity.
type CardType string

const (
	CardTypeHero      CardType = "HERO"
	CardTypeCharacter CardType = "CHARACTER"
	CardTypeSpell     CardType = "SPELL"
	CardTypePermanent CardType = "PERMANENT"
)

// Rarity classifies a card by print rarity. COMMON, RARE and UNIQUE are the
// only values the allocator recognizes; RARE and UNIQUE share one slot pool.
type Rarity string

const (
	RarityCommon Rarity = "COMMON"
	RarityRare   Rarity = "RARE"
	RarityUnique Rarity = "UNIQUE"
)

// NormalizeCardType maps raw input (wire payloads, CSV cells, legacy rows) to
// the canonical upper-case form.
func NormalizeCardType(raw string) CardType {
	return CardType(strings.ToUpper(strings.TrimSpace(raw)))
}

// NormalizeRarity maps raw input to the canonical upper-case form.
func NormalizeRarity(raw string) Rarity {
	return Rarity(strings.ToUpper(strings.TrimSpace(raw)))
}

// IsHero reports whether the card type occupies the dedicated hero slot.
func (t CardType) IsHero() bool {
	return t == CardTypeHero
}

// Metadata is the resolved description of a printed card, keyed by its
// catalog reference. Many physical copies share one reference.
type Metadata struct {
	Reference   string
	Name        string
	CardType    CardType
	Rarity      Rarity
	SetCode     string
	SetName     string
	FactionName string
	ImagePath   string
	RawJSON     string
}
