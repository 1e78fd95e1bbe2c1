package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	githubsqlite "github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/packvault/backend/internal/auth"
	"github.com/packvault/backend/internal/cards"
	"github.com/packvault/backend/internal/catalog"
	"github.com/packvault/backend/internal/vault"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubSessionVerifier struct{}

func (stubSessionVerifier) ValidateToken(string) (auth.SessionClaims, error) {
	claims := auth.SessionClaims{UserID: "user-123"}
	claims.Subject = "user-123"
	return claims, nil
}

type stubCardResolver struct {
	metadata map[string]cards.Metadata
	scans    map[string]string
}

func (r *stubCardResolver) Resolve(_ context.Context, reference string) (cards.Metadata, error) {
	metadata, ok := r.metadata[reference]
	if !ok {
		return cards.Metadata{}, cards.ErrCardNotFound
	}
	return metadata, nil
}

func (r *stubCardResolver) DecodeScanCode(_ context.Context, code string) (string, error) {
	reference, ok := r.scans[code]
	if !ok {
		return "", cards.ErrInvalidScanCode
	}
	return reference, nil
}

type sequentialIDs struct {
	count int
}

func (g *sequentialIDs) NewID() (string, error) {
	g.count++
	return fmt.Sprintf("booster-%03d", g.count), nil
}

type vaultTestEnvironment struct {
	handler    http.Handler
	token      string
	dispatcher *RealtimeDispatcher
}

func newVaultTestEnvironment(t *testing.T) vaultTestEnvironment {
	t.Helper()

	dsn := fmt.Sprintf("file:server_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(githubsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	err = db.AutoMigrate(
		&catalog.SeasonSet{},
		&cards.MetadataRecord{},
		&vault.Booster{},
		&vault.VaultCard{},
		&vault.FailedScan{},
	)
	if err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	seasonSets := []catalog.SeasonSet{
		{SetCode: "CORE", SetName: "Beyond the Gates", MaxPacks: 3, IsActive: true, DisplayOrder: 1},
		{SetCode: "CYCLONE", SetName: "Skybound Odyssey", MaxPacks: 3, IsActive: false, DisplayOrder: 2},
	}
	if err := db.Create(&seasonSets).Error; err != nil {
		t.Fatalf("failed to seed season sets: %v", err)
	}

	resolver := &stubCardResolver{
		metadata: map[string]cards.Metadata{
			"ALT_CORE_B_AX_01_C": {
				Reference: "ALT_CORE_B_AX_01_C",
				Name:      "Sierra & Oddball",
				CardType:  cards.CardTypeHero,
				Rarity:    cards.RarityCommon,
				SetCode:   "CORE",
				SetName:   "Beyond the Gates",
				RawJSON:   `{"reference":"ALT_CORE_B_AX_01_C","name":"Sierra & Oddball"}`,
			},
			"ALT_CORE_B_AX_10_C": {
				Reference: "ALT_CORE_B_AX_10_C",
				Name:      "Gerald the Brave",
				CardType:  cards.CardTypeCharacter,
				Rarity:    cards.RarityCommon,
				SetCode:   "CORE",
				SetName:   "Beyond the Gates",
			},
			"ALT_CORE_B_AX_40_T": {
				Reference: "ALT_CORE_B_AX_40_T",
				Name:      "Training Token",
				CardType:  cards.CardType("TOKEN"),
				Rarity:    cards.Rarity("PROMO"),
				SetCode:   "CORE",
				SetName:   "Beyond the Gates",
			},
			"ALT_CYCLONE_B_AX_01_C": {
				Reference: "ALT_CYCLONE_B_AX_01_C",
				Name:      "Storm Chaser",
				CardType:  cards.CardTypeCharacter,
				Rarity:    cards.RarityCommon,
				SetCode:   "CYCLONE",
				SetName:   "Skybound Odyssey",
			},
		},
		scans: map[string]string{"qr-payload": "ALT_CORE_B_AX_01_C"},
	}

	metadataStore, err := cards.NewMetadataStore(cards.MetadataStoreConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct metadata store: %v", err)
	}
	catalogService, err := catalog.NewService(catalog.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct catalog service: %v", err)
	}
	vaultService, err := vault.NewService(vault.ServiceConfig{
		Database:   db,
		Resolver:   resolver,
		Metadata:   metadataStore,
		IDProvider: &sequentialIDs{},
	})
	if err != nil {
		t.Fatalf("failed to construct vault service: %v", err)
	}

	tokenIssuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "packvault-api",
		Audience:      "packvault-api",
		TokenTTL:      time.Minute,
	})

	dispatcher := NewRealtimeDispatcher()
	handler, err := NewHTTPHandler(Dependencies{
		SessionVerifier: stubSessionVerifier{},
		TokenManager:    tokenIssuer,
		VaultService:    vaultService,
		CatalogService:  catalogService,
		CardResolver:    resolver,
		ScanDecoder:     resolver,
		Realtime:        dispatcher,
		Logger:          zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	token, _, err := tokenIssuer.IssueBackendToken(context.Background(), "user-123")
	if err != nil {
		t.Fatalf("failed to issue backend token: %v", err)
	}

	return vaultTestEnvironment{handler: handler, token: token, dispatcher: dispatcher}
}

func (e vaultTestEnvironment) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Authorization", "Bearer "+e.token)
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	e.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeJSON(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}

func TestSessionExchangeIssuesBackendToken(t *testing.T) {
	env := newVaultTestEnvironment(t)

	request := httptest.NewRequest(http.MethodPost, "/auth/session", strings.NewReader(`{"session_token":"external"}`))
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeJSON(t, recorder)
	accessToken, _ := payload["access_token"].(string)
	if accessToken == "" {
		t.Fatalf("expected an access token, got %v", payload)
	}
	if payload["token_type"] != "Bearer" {
		t.Fatalf("unexpected token type %v", payload["token_type"])
	}

	// The issued token must work on protected routes.
	listRequest := httptest.NewRequest(http.MethodGet, "/season-sets", http.NoBody)
	listRequest.Header.Set("Authorization", "Bearer "+accessToken)
	listRecorder := httptest.NewRecorder()
	env.handler.ServeHTTP(listRecorder, listRequest)
	if listRecorder.Code != http.StatusOK {
		t.Fatalf("expected issued token to authorize, got %d", listRecorder.Code)
	}
}

func TestProtectedRoutesRejectMissingToken(t *testing.T) {
	env := newVaultTestEnvironment(t)

	request := httptest.NewRequest(http.MethodGet, "/vault/state", http.NoBody)
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestTokenIssuedForDifferentAudienceIsRejected(t *testing.T) {
	env := newVaultTestEnvironment(t)

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-123",
		Issuer:    "someone-else",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	signed, err := foreign.SignedString([]byte("test-signing-secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	request := httptest.NewRequest(http.MethodGet, "/vault/state", http.NoBody)
	request.Header.Set("Authorization", "Bearer "+signed)
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for foreign token, got %d", recorder.Code)
	}
}

func TestAddCardEndpointStatusMapping(t *testing.T) {
	env := newVaultTestEnvironment(t)

	accepted := env.do(t, http.MethodPost, "/vault/cards",
		`{"physical_token":"tok-1","reference":"ALT_CORE_B_AX_01_C"}`)
	if accepted.Code != http.StatusOK {
		t.Fatalf("expected 200 for accepted scan, got %d: %s", accepted.Code, accepted.Body.String())
	}
	acceptedPayload := decodeJSON(t, accepted)
	if acceptedPayload["accepted"] != true || acceptedPayload["booster_id"] == "" {
		t.Fatalf("unexpected accepted payload %v", acceptedPayload)
	}

	duplicate := env.do(t, http.MethodPost, "/vault/cards",
		`{"physical_token":"tok-1","reference":"ALT_CORE_B_AX_01_C"}`)
	if duplicate.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate, got %d", duplicate.Code)
	}
	duplicatePayload := decodeJSON(t, duplicate)
	if duplicatePayload["duplicate"] != true {
		t.Fatalf("duplicate response must carry the duplicate flag: %v", duplicatePayload)
	}

	inactive := env.do(t, http.MethodPost, "/vault/cards",
		`{"physical_token":"tok-2","reference":"ALT_CYCLONE_B_AX_01_C"}`)
	if inactive.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for inactive set, got %d", inactive.Code)
	}
	inactivePayload := decodeJSON(t, inactive)
	if inactivePayload["error"] != string(vault.RejectSetNotActive) {
		t.Fatalf("unexpected inactive payload %v", inactivePayload)
	}
	if inactivePayload["limit_reached"] != false {
		t.Fatalf("inactive set is not a quota rejection: %v", inactivePayload)
	}

	unsupported := env.do(t, http.MethodPost, "/vault/cards",
		`{"physical_token":"tok-3","reference":"ALT_CORE_B_AX_40_T"}`)
	if unsupported.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for unsupported card, got %d", unsupported.Code)
	}

	missing := env.do(t, http.MethodPost, "/vault/cards",
		`{"physical_token":"tok-4","reference":"ALT_NOT_A_CARD"}`)
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown reference, got %d", missing.Code)
	}

	invalid := env.do(t, http.MethodPost, "/vault/cards", `{"physical_token":"  "}`)
	if invalid.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing fields, got %d", invalid.Code)
	}
}

func TestRejectionResponseQuotaCarriesLimitFlag(t *testing.T) {
	status, body := rejectionResponse(vault.AllocationResult{
		Reason:       vault.RejectQuotaExceeded,
		LimitReached: true,
	})
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for quota rejection, got %d", status)
	}
	if body["limit_reached"] != true {
		t.Fatalf("quota rejection must set limit_reached: %v", body)
	}
}

func TestVaultStateEndpointReturnsSnapshot(t *testing.T) {
	env := newVaultTestEnvironment(t)

	env.do(t, http.MethodPost, "/vault/cards", `{"physical_token":"tok-1","reference":"ALT_CORE_B_AX_01_C"}`)

	recorder := env.do(t, http.MethodGet, "/vault/state", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", recorder.Code, recorder.Body.String())
	}

	var snapshot struct {
		ActiveBoosters []struct {
			BoosterID string `json:"booster_id"`
			Cards     []struct {
				Reference string `json:"reference"`
				Name      string `json:"name"`
			} `json:"cards"`
		} `json:"active_boosters"`
		CompletedBoosters map[string]any `json:"completed_boosters"`
		FailedScans       []any          `json:"failed_scans"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("failed to decode snapshot: %v", err)
	}
	if len(snapshot.ActiveBoosters) != 1 {
		t.Fatalf("expected 1 active booster, got %d", len(snapshot.ActiveBoosters))
	}
	booster := snapshot.ActiveBoosters[0]
	if len(booster.Cards) != 1 || booster.Cards[0].Name != "Sierra & Oddball" {
		t.Fatalf("unexpected booster contents %+v", booster)
	}
}

func TestImportPreviewEndpoint(t *testing.T) {
	env := newVaultTestEnvironment(t)

	batch := "Name;Faction;Rarity;Set;Type;Count;Reference\n" +
		"Sierra & Oddball;Axiom;Common;Beyond the Gates;Hero;1;ALT_CORE_B_AX_01_C\n" +
		"Gerald the Brave;Axiom;Common;Beyond the Gates;Character;1;ALT_CORE_B_AX_10_C\n"

	recorder := env.do(t, http.MethodPost, "/vault/import/preview", batch)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeJSON(t, recorder)
	if payload["total_cards"] != float64(2) {
		t.Fatalf("expected 2 total cards, got %v", payload["total_cards"])
	}
	sets, _ := payload["sets"].([]any)
	if len(sets) != 1 {
		t.Fatalf("expected 1 set summary, got %v", payload["sets"])
	}

	malformed := env.do(t, http.MethodPost, "/vault/import/preview",
		"Name;Faction;Rarity;Set;Type;Count;Reference\nbroken;row\n")
	if malformed.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed batch, got %d", malformed.Code)
	}
	malformedPayload := decodeJSON(t, malformed)
	if malformedPayload["line"] != float64(2) {
		t.Fatalf("expected failing line number, got %v", malformedPayload)
	}

	empty := env.do(t, http.MethodPost, "/vault/import/preview", "Name;Faction;Rarity;Set;Type;Count;Reference\n")
	if empty.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty batch, got %d", empty.Code)
	}
}

func TestImportPreviewRejectsOversizedBatch(t *testing.T) {
	env := newVaultTestEnvironment(t)

	row := "Sierra & Oddball;Axiom;Common;Beyond the Gates;Hero;1;ALT_CORE_B_AX_01_C\n"
	var batch strings.Builder
	batch.WriteString("Name;Faction;Rarity;Set;Type;Count;Reference\n")
	for batch.Len() <= importBodyLimitBytes {
		batch.WriteString(row)
	}

	recorder := env.do(t, http.MethodPost, "/vault/import/preview", batch.String())
	if recorder.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 for oversized batch, got %d", recorder.Code)
	}
	payload := decodeJSON(t, recorder)
	if payload["error"] != "batch_too_large" {
		t.Fatalf("expected batch_too_large error, got %v", payload)
	}
}

func TestImportCommitEndpoint(t *testing.T) {
	env := newVaultTestEnvironment(t)

	recorder := env.do(t, http.MethodPost, "/vault/import/commit",
		`{"references":["ALT_CORE_B_AX_01_C","ALT_MISSING"]}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeJSON(t, recorder)
	if payload["imported"] != float64(1) {
		t.Fatalf("expected 1 imported card, got %v", payload)
	}
	failures, _ := payload["failures"].([]any)
	if len(failures) != 1 {
		t.Fatalf("expected 1 failure, got %v", payload["failures"])
	}

	missingBody := env.do(t, http.MethodPost, "/vault/import/commit", `{}`)
	if missingBody.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty references, got %d", missingBody.Code)
	}
}

func TestCardLookupEndpointReturnsRawPayload(t *testing.T) {
	env := newVaultTestEnvironment(t)

	recorder := env.do(t, http.MethodGet, "/cards/ALT_CORE_B_AX_01_C", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", recorder.Code)
	}
	payload := decodeJSON(t, recorder)
	if payload["name"] != "Sierra & Oddball" {
		t.Fatalf("expected upstream payload passthrough, got %v", payload)
	}

	missing := env.do(t, http.MethodGet, "/cards/ALT_MISSING", "")
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", missing.Code)
	}
}

func TestScanDecodeEndpoint(t *testing.T) {
	env := newVaultTestEnvironment(t)

	recorder := env.do(t, http.MethodGet, "/card-scan?code=qr-payload", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", recorder.Code)
	}
	payload := decodeJSON(t, recorder)
	if payload["reference"] != "ALT_CORE_B_AX_01_C" {
		t.Fatalf("unexpected decode payload %v", payload)
	}

	unknown := env.do(t, http.MethodGet, "/card-scan?code=garbled", "")
	if unknown.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown code, got %d", unknown.Code)
	}

	missing := env.do(t, http.MethodGet, "/card-scan", "")
	if missing.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing code, got %d", missing.Code)
	}
}
