// -----------------------------------------------------------------------
// Token Extractor - ordered search of browser storage tiers for the
// session credential an authenticated login leaves behind
// -----------------------------------------------------------------------

package token

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/claviger/internal/interfaces"
	"github.com/ternarybob/claviger/internal/models"
)

// markers are the credential-shaped key substrings, matched
// case-insensitively against storage key and cookie names
var markers = []string{"token", "auth", "access"}

// Extractor searches an authenticated session's storage tiers in priority
// order: persistent storage beats session storage beats cookies, with the
// page URL as a last-resort fallback for vendors that hand the token back
// as a query parameter.
type Extractor struct {
	urlKeys []string
	logger  arbor.ILogger
}

// NewExtractor creates a token extractor. urlKeys are the vendor's known
// token query parameters for the URL fallback; empty disables that tier.
func NewExtractor(urlKeys []string, logger arbor.ILogger) *Extractor {
	return &Extractor{
		urlKeys: urlKeys,
		logger:  logger,
	}
}

// Extract returns the first credential-shaped value found, tagged with the
// tier it came from. Tier read failures are logged and skipped so a broken
// cookie jar cannot hide a token sitting in persistent storage.
func (e *Extractor) Extract(ctx context.Context, reader interfaces.TierReader) (*models.ExtractedToken, error) {
	tiers := []struct {
		tier models.TokenTier
		read func(context.Context) (map[string]string, error)
	}{
		{models.TokenTierPersistent, reader.LocalStorage},
		{models.TokenTierSession, reader.SessionStorage},
		{models.TokenTierCookie, reader.Cookies},
	}

	for _, t := range tiers {
		values, err := t.read(ctx)
		if err != nil {
			e.logger.Warn().
				Err(err).
				Str("tier", string(t.tier)).
				Msg("Storage tier read failed, trying next tier")
			continue
		}

		if key, value, ok := matchTier(values); ok {
			e.logger.Info().
				Str("tier", string(t.tier)).
				Str("key", key).
				Msg("Token located")
			return &models.ExtractedToken{
				Value:       value,
				Tier:        t.tier,
				Key:         key,
				ExtractedAt: time.Now(),
			}, nil
		}
	}

	if token := e.matchURL(ctx, reader); token != nil {
		return token, nil
	}

	return nil, models.NewFlowError(models.FailureTokenNotFound, models.RunStateAuthenticated,
		fmt.Errorf("no credential-shaped key in any storage tier"))
}

// matchTier scans a tier's keys in sorted order so extraction is
// deterministic when several keys qualify.
func matchTier(values map[string]string) (string, string, bool) {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if !matchesMarker(key) {
			continue
		}
		value := strings.TrimSpace(values[key])
		if value == "" {
			continue
		}
		return key, value, true
	}
	return "", "", false
}

func matchesMarker(key string) bool {
	lower := strings.ToLower(key)
	for _, marker := range markers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// matchURL checks the current page URL's query and fragment for the
// vendor's token parameters. Some vendors bounce the token back through
// the redirect URL rather than writing it to storage.
func (e *Extractor) matchURL(ctx context.Context, reader interfaces.TierReader) *models.ExtractedToken {
	if len(e.urlKeys) == 0 {
		return nil
	}

	current, err := reader.CurrentURL(ctx)
	if err != nil || current == "" {
		return nil
	}

	parsed, err := url.Parse(current)
	if err != nil {
		return nil
	}

	params := parsed.Query()
	if fragment, err := url.ParseQuery(parsed.Fragment); err == nil {
		for key, vals := range fragment {
			if _, exists := params[key]; !exists {
				params[key] = vals
			}
		}
	}

	for _, wanted := range e.urlKeys {
		for key, vals := range params {
			if !strings.EqualFold(key, wanted) || len(vals) == 0 {
				continue
			}
			value := strings.TrimSpace(vals[0])
			if value == "" {
				continue
			}
			e.logger.Info().
				Str("tier", string(models.TokenTierURL)).
				Str("key", key).
				Msg("Token located in redirect URL")
			return &models.ExtractedToken{
				Value:       value,
				Tier:        models.TokenTierURL,
				Key:         key,
				ExtractedAt: time.Now(),
			}
		}
	}
	return nil
}
