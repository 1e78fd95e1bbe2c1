package cards

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultResolveTimeout = 10 * time.Second
	resolverLocale        = "en-us"
)

var (
	// ErrCardNotFound indicates the catalog has no card for the reference.
	ErrCardNotFound = errors.New("cards: card reference not found")
	// ErrInvalidReference indicates an empty or malformed card reference.
	ErrInvalidReference = errors.New("cards: invalid card reference")
	// ErrInvalidScanCode indicates the scan decode service rejected the code.
	ErrInvalidScanCode = errors.New("cards: invalid scan code")
	errMissingBaseURL  = errors.New("cards: resolver base url required")
)

// TransientError wraps a resolver failure the caller may retry, such as a
// network error or an upstream 5xx.
type TransientError struct {
	Cause error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("cards: transient resolver failure: %v", e.Cause)
}

func (e *TransientError) Unwrap() error {
	return e.Cause
}

// IsTransient reports whether err is retryable from the caller's view.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// Resolver returns full card metadata for a catalog reference.
type Resolver interface {
	Resolve(ctx context.Context, reference string) (Metadata, error)
}

// ScanDecoder turns a scanned QR payload into a catalog reference.
type ScanDecoder interface {
	DecodeScanCode(ctx context.Context, code string) (string, error)
}

// HTTPResolverConfig configures the upstream card catalog client.
type HTTPResolverConfig struct {
	BaseURL   string
	ScanURL   string
	ScanToken string
	Timeout   time.Duration
	Client    *http.Client
	Logger    *zap.Logger
}

// HTTPResolver resolves card references against the public card catalog API
// and decodes scan payloads through the QR decode worker.
type HTTPResolver struct {
	baseURL   string
	scanURL   string
	scanToken string
	client    *http.Client
	logger    *zap.Logger
}

// NewHTTPResolver constructs a resolver with sane defaults.
func NewHTTPResolver(cfg HTTPResolverConfig) (*HTTPResolver, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errMissingBaseURL
	}

	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultResolveTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &HTTPResolver{
		baseURL:   baseURL,
		scanURL:   strings.TrimSpace(cfg.ScanURL),
		scanToken: cfg.ScanToken,
		client:    client,
		logger:    logger,
	}, nil
}

// wireCard mirrors the catalog API payload for a single card.
type wireCard struct {
	Reference string `json:"reference"`
	Name      string `json:"name"`
	CardType  struct {
		Reference string `json:"reference"`
		Name      string `json:"name"`
	} `json:"cardType"`
	Rarity struct {
		Reference string `json:"reference"`
	} `json:"rarity"`
	CardSet struct {
		Reference string `json:"reference"`
		Code      string `json:"code"`
		Name      string `json:"name"`
	} `json:"cardSet"`
	MainFaction struct {
		Reference string `json:"reference"`
		Name      string `json:"name"`
		Color     string `json:"color"`
	} `json:"mainFaction"`
	ImagePath string `json:"imagePath"`
}

// Resolve fetches card metadata by catalog reference. A 404 maps to
// ErrCardNotFound; upstream 5xx and transport failures map to TransientError.
func (r *HTTPResolver) Resolve(ctx context.Context, reference string) (Metadata, error) {
	trimmed := strings.TrimSpace(reference)
	if trimmed == "" {
		return Metadata{}, ErrInvalidReference
	}

	endpoint := fmt.Sprintf("%s/cards/%s?locale=%s", r.baseURL, url.PathEscape(trimmed), resolverLocale)
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}

	response, err := r.client.Do(request)
	if err != nil {
		r.logger.Warn("card resolve request failed", zap.String("reference", trimmed), zap.Error(err))
		return Metadata{}, &TransientError{Cause: err}
	}
	defer response.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		return Metadata{}, &TransientError{Cause: err}
	}

	switch {
	case response.StatusCode == http.StatusNotFound:
		return Metadata{}, fmt.Errorf("%w: %s", ErrCardNotFound, trimmed)
	case response.StatusCode >= http.StatusInternalServerError:
		return Metadata{}, &TransientError{Cause: fmt.Errorf("upstream status %d", response.StatusCode)}
	case response.StatusCode != http.StatusOK:
		return Metadata{}, fmt.Errorf("%w: upstream status %d", ErrCardNotFound, response.StatusCode)
	}

	var payload wireCard
	if err := json.Unmarshal(body, &payload); err != nil {
		return Metadata{}, fmt.Errorf("%w: malformed card payload: %v", ErrCardNotFound, err)
	}
	if strings.TrimSpace(payload.Reference) == "" {
		payload.Reference = trimmed
	}

	// The season catalog matches on cardSet.code; reference is a separate
	// identifier that only coincides with it for some sets.
	setCode := strings.TrimSpace(payload.CardSet.Code)
	if setCode == "" {
		setCode = payload.CardSet.Reference
	}

	return Metadata{
		Reference:   payload.Reference,
		Name:        payload.Name,
		CardType:    NormalizeCardType(payload.CardType.Reference),
		Rarity:      NormalizeRarity(payload.Rarity.Reference),
		SetCode:     setCode,
		SetName:     payload.CardSet.Name,
		FactionName: payload.MainFaction.Name,
		ImagePath:   payload.ImagePath,
		RawJSON:     string(body),
	}, nil
}

// DecodeScanCode exchanges a scanned QR payload for the printed card's
// reference through the external decode worker.
func (r *HTTPResolver) DecodeScanCode(ctx context.Context, code string) (string, error) {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return "", ErrInvalidScanCode
	}
	if r.scanURL == "" {
		return "", &TransientError{Cause: errors.New("scan decode url not configured")}
	}

	endpoint := fmt.Sprintf("%s?code=%s", r.scanURL, url.QueryEscape(trimmed))
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidScanCode, err)
	}
	if r.scanToken != "" {
		request.Header.Set("Authorization", "Bearer "+r.scanToken)
	}

	response, err := r.client.Do(request)
	if err != nil {
		r.logger.Warn("scan decode request failed", zap.Error(err))
		return "", &TransientError{Cause: err}
	}
	defer response.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(response.Body, 1<<16))
	if err != nil {
		return "", &TransientError{Cause: err}
	}

	switch {
	case response.StatusCode >= http.StatusInternalServerError:
		return "", &TransientError{Cause: fmt.Errorf("upstream status %d", response.StatusCode)}
	case response.StatusCode != http.StatusOK:
		return "", fmt.Errorf("%w: upstream status %d", ErrInvalidScanCode, response.StatusCode)
	}

	reference := strings.TrimSpace(string(body))
	if reference == "" {
		return "", ErrInvalidScanCode
	}
	return reference, nil
}
