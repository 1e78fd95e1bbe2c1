package importer

import (
	"errors"
	"strings"
	"testing"
)

const sampleBatch = `Name;Faction;Rarity;Set;Type;Count;Reference
Sierra & Oddball;Axiom;Common;Beyond the Gates;Hero;1;ALT_CORE_B_AX_01_C
Gerald the Brave;Axiom;Common;Beyond the Gates;Character;2;ALT_CORE_B_AX_10_C

Tempest;Bravos;Rare;Trial by Frost;Spell;1;ALT_ALIZE_B_BR_21_R
`

func TestParseBatchSkipsHeaderAndBlankLines(t *testing.T) {
	parsed, err := ParseBatch(sampleBatch)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if len(parsed) != 3 {
		t.Fatalf("expected 3 parsed cards, got %d", len(parsed))
	}

	first := parsed[0]
	if first.Name != "Sierra & Oddball" {
		t.Fatalf("unexpected name %q", first.Name)
	}
	if first.SetName != "Beyond the Gates" {
		t.Fatalf("unexpected set name %q", first.SetName)
	}
	if first.Reference != "ALT_CORE_B_AX_01_C" {
		t.Fatalf("unexpected reference %q", first.Reference)
	}
	if !first.IsHero {
		t.Fatalf("type column Hero must mark the row as hero")
	}
	if parsed[1].IsHero {
		t.Fatalf("character row must not be marked hero")
	}
	if parsed[2].Rarity != "Rare" {
		t.Fatalf("unexpected rarity %q", parsed[2].Rarity)
	}
}

func TestParseBatchHandlesWindowsLineEndings(t *testing.T) {
	batch := strings.ReplaceAll(sampleBatch, "\n", "\r\n")
	parsed, err := ParseBatch(batch)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if len(parsed) != 3 {
		t.Fatalf("expected 3 parsed cards, got %d", len(parsed))
	}
	if parsed[0].Reference != "ALT_CORE_B_AX_01_C" {
		t.Fatalf("carriage return must be stripped, got %q", parsed[0].Reference)
	}
}

func TestParseBatchRejectsMalformedRow(t *testing.T) {
	batch := "Name;Faction;Rarity;Set;Type;Count;Reference\n" +
		"Sierra & Oddball;Axiom;Common;Beyond the Gates;Hero;1;ALT_CORE_B_AX_01_C\n" +
		"broken;row;with;too;few\n"

	_, err := ParseBatch(batch)
	var malformed *MalformedBatchError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedBatchError, got %v", err)
	}
	if malformed.LineNumber != 3 {
		t.Fatalf("expected failure at line 3, got %d", malformed.LineNumber)
	}
	if !strings.Contains(malformed.Error(), "line 3") {
		t.Fatalf("error message should name the line: %s", malformed.Error())
	}
}

func TestParseBatchHeaderOnly(t *testing.T) {
	parsed, err := ParseBatch("Name;Faction;Rarity;Set;Type;Count;Reference")
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if len(parsed) != 0 {
		t.Fatalf("expected no cards, got %d", len(parsed))
	}
}
