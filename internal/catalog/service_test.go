package catalog

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestCatalog(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:catalog_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&SeasonSet{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	service, err := NewService(ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct catalog service: %v", err)
	}
	return service, db
}

func TestActiveSetsOrdersByDisplayOrderThenCode(t *testing.T) {
	service, db := newTestCatalog(t)

	seed := []SeasonSet{
		{SetCode: "BISE", SetName: "Whispers from the Maze", MaxPacks: 3, IsActive: true, DisplayOrder: 2},
		{SetCode: "CORE", SetName: "Beyond the Gates", MaxPacks: 3, IsActive: true, DisplayOrder: 1},
		{SetCode: "ALIZE", SetName: "Trial by Frost", MaxPacks: 3, IsActive: true, DisplayOrder: 2},
		{SetCode: "CYCLONE", SetName: "Skybound Odyssey", MaxPacks: 3, IsActive: false, DisplayOrder: 0},
	}
	if err := db.Create(&seed).Error; err != nil {
		t.Fatalf("failed to seed: %v", err)
	}

	sets, err := service.ActiveSets(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sets) != 3 {
		t.Fatalf("inactive sets must be excluded, got %d", len(sets))
	}
	got := []string{sets[0].SetCode, sets[1].SetCode, sets[2].SetCode}
	want := []string{"CORE", "ALIZE", "BISE"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected order %v, want %v", got, want)
		}
	}
}

func TestSetLookup(t *testing.T) {
	service, db := newTestCatalog(t)

	seed := SeasonSet{SetCode: "CYCLONE", SetName: "Skybound Odyssey", MaxPacks: 3, IsActive: false}
	if err := db.Create(&seed).Error; err != nil {
		t.Fatalf("failed to seed: %v", err)
	}

	set, err := service.Set(context.Background(), "CYCLONE")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if set.IsActive {
		t.Fatalf("lookup must return inactive sets as stored")
	}

	if _, err := service.Set(context.Background(), "MISSING"); !errors.Is(err, ErrSetNotFound) {
		t.Fatalf("expected ErrSetNotFound, got %v", err)
	}
	if _, err := service.Set(context.Background(), "  "); !errors.Is(err, ErrInvalidSetCode) {
		t.Fatalf("expected ErrInvalidSetCode, got %v", err)
	}
}
