package users

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/packvault/backend/internal/auth"
	"gorm.io/gorm"
)

func newIdentityService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:users_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Identity{}); err != nil {
		t.Fatalf("failed to migrate identity schema: %v", err)
	}
	service, err := NewService(ServiceConfig{
		Database: db,
		Clock: func() time.Time {
			return time.Unix(1, 0)
		},
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service, db
}

func TestResolveCanonicalUserIDStripsProviderPrefix(t *testing.T) {
	service, db := newIdentityService(t)

	claims := auth.SessionClaims{
		UserID:          "google:12345",
		UserEmail:       "user@example.com",
		UserDisplayName: "Example User",
		UserAvatarURL:   "https://example.com/avatar.png",
	}
	userID, err := service.ResolveCanonicalUserID(claims)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if userID != "12345" {
		t.Fatalf("expected canonical user id without provider prefix, got %q", userID)
	}

	// second call should hit cache and not create a duplicate record.
	userID, err = service.ResolveCanonicalUserID(claims)
	if err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}
	if userID != "12345" {
		t.Fatalf("expected canonical user id to remain stable, got %q", userID)
	}

	var identityCount int64
	if err := db.Model(&Identity{}).Count(&identityCount).Error; err != nil {
		t.Fatalf("failed to count identities: %v", err)
	}
	if identityCount != 1 {
		t.Fatalf("expected a single identity row, got %d", identityCount)
	}
}

func TestResolveCanonicalUserIDFallsBackToSubject(t *testing.T) {
	service, _ := newIdentityService(t)

	if _, err := service.ResolveCanonicalUserID(auth.SessionClaims{}); err != ErrInvalidIdentity {
		t.Fatalf("empty claims must be rejected, got %v", err)
	}

	claims := auth.SessionClaims{}
	claims.Subject = "subject-9"
	userID, err := service.ResolveCanonicalUserID(claims)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if userID != "subject-9" {
		t.Fatalf("expected registered subject, got %q", userID)
	}
}

func TestResolveCanonicalUserIDRefreshesProfileFields(t *testing.T) {
	service, db := newIdentityService(t)

	first := auth.SessionClaims{UserID: "google:777", UserDisplayName: "Old Name"}
	if _, err := service.ResolveCanonicalUserID(first); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	// Drop the memoized id so the refresh path runs.
	service.cache.Delete("google:777")

	updated := auth.SessionClaims{UserID: "google:777", UserDisplayName: "New Name"}
	if _, err := service.ResolveCanonicalUserID(updated); err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}

	var identity Identity
	if err := db.Where("provider = ? AND subject = ?", "google", "777").Take(&identity).Error; err != nil {
		t.Fatalf("failed to reload identity: %v", err)
	}
	if identity.DisplayName != "New Name" {
		t.Fatalf("expected refreshed display name, got %q", identity.DisplayName)
	}
}
