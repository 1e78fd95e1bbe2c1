package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/packvault/backend/internal/cards"
	"github.com/packvault/backend/internal/importer"
	"github.com/packvault/backend/internal/vault"
	"go.uber.org/zap"
)

const importBodyLimitBytes = 1 << 20

type seasonSetView struct {
	SetCode      string `json:"set_code"`
	SetName      string `json:"set_name"`
	MaxPacks     int    `json:"max_packs"`
	DisplayOrder int    `json:"display_order"`
}

func (h *httpHandler) handleSeasonSets(c *gin.Context) {
	if _, ok := h.requestUserID(c); !ok {
		return
	}

	if payload, hit := h.cache.GetSeasonSets(c.Request.Context()); hit {
		c.Data(http.StatusOK, "application/json; charset=utf-8", payload)
		return
	}

	sets, err := h.catalog.ActiveSets(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list season sets", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "season_sets_unavailable"})
		return
	}

	views := make([]seasonSetView, 0, len(sets))
	for _, set := range sets {
		views = append(views, seasonSetView{
			SetCode:      set.SetCode,
			SetName:      set.SetName,
			MaxPacks:     set.MaxPacks,
			DisplayOrder: set.DisplayOrder,
		})
	}
	response := gin.H{"season_sets": views}

	if payload, err := json.Marshal(response); err == nil {
		h.cache.SetSeasonSets(c.Request.Context(), payload)
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleVaultState(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}

	if payload, hit := h.cache.GetSnapshot(c.Request.Context(), userID); hit {
		c.Data(http.StatusOK, "application/json; charset=utf-8", payload)
		return
	}

	snapshot, err := h.vault.Snapshot(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to build vault snapshot", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "vault_state_unavailable"})
		return
	}

	if payload, err := json.Marshal(snapshot); err == nil {
		h.cache.SetSnapshot(c.Request.Context(), userID, payload)
	}
	c.JSON(http.StatusOK, snapshot)
}

type addCardPayload struct {
	PhysicalToken string `json:"physical_token"`
	Reference     string `json:"reference"`
}

type addCardResponse struct {
	Accepted  bool   `json:"accepted"`
	BoosterID string `json:"booster_id,omitempty"`
	Completed bool   `json:"completed,omitempty"`
}

func (h *httpHandler) handleAddCard(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}

	var payload addCardPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	payload.PhysicalToken = strings.TrimSpace(payload.PhysicalToken)
	payload.Reference = strings.TrimSpace(payload.Reference)
	if payload.PhysicalToken == "" || payload.Reference == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "physical_token and reference are required"})
		return
	}

	result, err := h.vault.AddCard(c.Request.Context(), userID, vault.AddCardRequest{
		PhysicalToken: payload.PhysicalToken,
		Reference:     payload.Reference,
	})
	if err != nil {
		h.respondAddCardError(c, err)
		return
	}

	h.publishScanResult(userID, payload.Reference, result)

	if !result.Accepted {
		status, body := rejectionResponse(result)
		c.JSON(status, body)
		return
	}

	c.JSON(http.StatusOK, addCardResponse{
		Accepted:  true,
		BoosterID: result.BoosterID,
		Completed: result.Completed,
	})
}

func (h *httpHandler) respondAddCardError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, cards.ErrCardNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "card_not_found"})
	case errors.Is(err, cards.ErrInvalidReference):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_reference"})
	case cards.IsTransient(err):
		c.JSON(http.StatusBadGateway, gin.H{"error": "card_catalog_unavailable"})
	default:
		h.logger.Error("add card failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

// rejectionResponse maps a typed rejection to its HTTP shape. Duplicates are
// conflicts, quota and inactive-set rejections are client errors with a
// limit_reached flag, unsupported cards are unprocessable.
func rejectionResponse(result vault.AllocationResult) (int, gin.H) {
	switch result.Reason {
	case vault.RejectDuplicateCard:
		return http.StatusConflict, gin.H{"error": string(result.Reason), "duplicate": true}
	case vault.RejectUnsupportedCard:
		return http.StatusUnprocessableEntity, gin.H{"error": string(result.Reason)}
	default:
		return http.StatusBadRequest, gin.H{
			"error":         string(result.Reason),
			"limit_reached": result.LimitReached,
		}
	}
}

func (h *httpHandler) publishScanResult(userID, reference string, result vault.AllocationResult) {
	if h.realtime == nil {
		return
	}
	h.realtime.Publish(RealtimeMessage{
		UserID:    userID,
		EventType: RealtimeEventScanResult,
		Reference: reference,
		BoosterID: result.BoosterID,
		Accepted:  result.Accepted,
		Completed: result.Completed,
		Reason:    string(result.Reason),
		Timestamp: time.Now().UTC(),
	})
}

func (h *httpHandler) handleImportPreview(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}

	// Read one byte past the cap so truncation is detected instead of
	// surfacing as a parse error on the cut line.
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, importBodyLimitBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable_body"})
		return
	}
	if len(body) > importBodyLimitBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "batch_too_large"})
		return
	}

	parsed, err := importer.ParseBatch(string(body))
	if err != nil {
		var malformed *importer.MalformedBatchError
		if errors.As(err, &malformed) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "malformed_batch",
				"line":  malformed.LineNumber,
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed_batch"})
		return
	}
	if len(parsed) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty_batch"})
		return
	}

	sets, err := h.catalog.ActiveSets(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list season sets for preview", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "season_sets_unavailable"})
		return
	}
	existingCounts, err := h.vault.CardCountsBySetName(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to count vault cards", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "vault_state_unavailable"})
		return
	}

	summaries := importer.Summarize(parsed, sets, existingCounts)
	c.JSON(http.StatusOK, gin.H{"sets": summaries, "total_cards": len(parsed)})
}

type importCommitPayload struct {
	References []string `json:"references"`
}

func (h *httpHandler) handleImportCommit(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}

	var payload importCommitPayload
	if err := c.ShouldBindJSON(&payload); err != nil || len(payload.References) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "references are required"})
		return
	}

	outcome, err := h.vault.ImportCards(c.Request.Context(), userID, payload.References)
	if err != nil {
		h.logger.Error("import commit failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "import_failed"})
		return
	}

	c.JSON(http.StatusOK, outcome)
}

func (h *httpHandler) handleCardLookup(c *gin.Context) {
	if _, ok := h.requestUserID(c); !ok {
		return
	}

	reference := strings.TrimSpace(c.Param("reference"))
	metadata, err := h.resolver.Resolve(c.Request.Context(), reference)
	if err != nil {
		switch {
		case errors.Is(err, cards.ErrCardNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "card_not_found"})
		case errors.Is(err, cards.ErrInvalidReference):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_reference"})
		case cards.IsTransient(err):
			c.JSON(http.StatusBadGateway, gin.H{"error": "card_catalog_unavailable"})
		default:
			h.logger.Error("card lookup failed", zap.String("reference", reference), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		}
		return
	}

	if metadata.RawJSON != "" {
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(metadata.RawJSON))
		return
	}
	c.JSON(http.StatusOK, metadata)
}

func (h *httpHandler) handleScanDecode(c *gin.Context) {
	if _, ok := h.requestUserID(c); !ok {
		return
	}

	code := strings.TrimSpace(c.Query("code"))
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code query parameter is required"})
		return
	}

	reference, err := h.scans.DecodeScanCode(c.Request.Context(), code)
	if err != nil {
		switch {
		case errors.Is(err, cards.ErrInvalidScanCode), errors.Is(err, cards.ErrCardNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown_scan_code"})
		case cards.IsTransient(err):
			c.JSON(http.StatusBadGateway, gin.H{"error": "scan_service_unavailable"})
		default:
			h.logger.Error("scan decode failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"reference": reference})
}

func (h *httpHandler) handleVaultEvents(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}

	stream, cancel := h.realtime.Subscribe(c.Request.Context(), userID)
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(25 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(c.Writer, "event: %s\ndata: {}\n\n", realtimeEventHeartbeat)
			c.Writer.Flush()
		case message, open := <-stream:
			if !open {
				return
			}
			payload, err := json.Marshal(gin.H{
				"reference":  message.Reference,
				"booster_id": message.BoosterID,
				"accepted":   message.Accepted,
				"completed":  message.Completed,
				"reason":     message.Reason,
				"timestamp":  message.Timestamp.Unix(),
				"source":     realtimeSourceBackend,
			})
			if err != nil {
				continue
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", message.EventType, payload)
			c.Writer.Flush()
		}
	}
}
