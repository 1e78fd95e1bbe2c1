package importer

import (
	"fmt"
	"strings"
)

const (
	fieldSeparator = ";"
	fieldsPerRow   = 7
)

// ParsedCard is one row of a collection export: display columns plus the
// catalog reference used to commit the card.
type ParsedCard struct {
	Name      string `json:"name"`
	Faction   string `json:"faction"`
	Rarity    string `json:"rarity"`
	SetName   string `json:"set_name"`
	Reference string `json:"reference"`
	IsHero    bool   `json:"is_hero"`
}

// MalformedBatchError reports the first row that does not match the expected
// shape. The whole batch is rejected; partial imports are never previewed.
type MalformedBatchError struct {
	LineNumber int
	Line       string
}

func (e *MalformedBatchError) Error() string {
	return fmt.Sprintf("importer: malformed row at line %d: %q", e.LineNumber, e.Line)
}

// ParseBatch parses a semicolon-delimited collection export. The header row
// is skipped, blank lines are ignored, and every remaining row must have
// exactly seven fields: name;faction;rarity;set;type;count;reference.
func ParseBatch(text string) ([]ParsedCard, error) {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	cards := make([]ParsedCard, 0, len(lines))

	for i := 1; i < len(lines); i++ {
		line := strings.TrimRight(lines[i], "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		parts := strings.Split(line, fieldSeparator)
		if len(parts) != fieldsPerRow {
			return nil, &MalformedBatchError{LineNumber: i + 1, Line: line}
		}

		cards = append(cards, ParsedCard{
			Name:      strings.TrimSpace(parts[0]),
			Faction:   strings.TrimSpace(parts[1]),
			Rarity:    strings.TrimSpace(parts[2]),
			SetName:   strings.TrimSpace(parts[3]),
			Reference: strings.TrimSpace(parts[6]),
			IsHero:    strings.EqualFold(strings.TrimSpace(parts[4]), "hero"),
		})
	}

	return cards, nil
}
