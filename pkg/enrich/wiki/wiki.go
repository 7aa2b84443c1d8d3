// Package wiki enriches entities from Wikidata. Search resolves a name to
// Wikidata items; details combine the item's labels, aliases and claims with
// a readable extract of the linked Wikipedia article.
package wiki

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"codeberg.org/readeck/go-readability/v2"
	"golang.org/x/sync/singleflight"

	"github.com/civigraph/atlas/pkg/common"
	"github.com/civigraph/atlas/pkg/enrich"
	"github.com/civigraph/atlas/pkg/logger"
)

const defaultEndpoint = "https://www.wikidata.org/w/api.php"

// Wikidata "instance of" values mapped onto entity types. Anything else
// stays unclassified.
var typeHints = map[string]common.EntityType{
	"Q5":        common.EntityPerson,       // human
	"Q43229":    common.EntityOrganization, // organization
	"Q4830453":  common.EntityOrganization, // business
	"Q891723":   common.EntityOrganization, // public company
	"Q7278":     common.EntityOrganization, // political party
	"Q515":      common.EntityPlace,        // city
	"Q6256":     common.EntityPlace,        // country
	"Q486972":   common.EntityPlace,        // human settlement
	"Q82794":    common.EntityPlace,        // geographic region
	"Q17334923": common.EntityPlace,        // location
}

// Enricher looks up names on Wikidata. Detail fetches are cached and
// deduplicated so that a burst of ingestions mentioning the same new name
// performs one upstream request.
type Enricher struct {
	endpoint   string
	httpClient *http.Client

	cache   map[string]*enrich.Details
	cacheMu sync.RWMutex
	group   singleflight.Group
}

// NewEnricherParams configures a wiki enricher. Endpoint defaults to the
// public Wikidata API; HTTPClient defaults to http.DefaultClient.
type NewEnricherParams struct {
	Endpoint   string
	HTTPClient *http.Client
}

func NewEnricher(params NewEnricherParams) *Enricher {
	endpoint := params.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	httpClient := params.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Enricher{
		endpoint:   endpoint,
		httpClient: httpClient,
		cache:      make(map[string]*enrich.Details),
	}
}

type searchResponse struct {
	Search []struct {
		ID          string `json:"id"`
		Label       string `json:"label"`
		Description string `json:"description"`
	} `json:"search"`
}

// Search resolves a name to Wikidata item candidates, best match first.
func (e *Enricher) Search(ctx context.Context, name string) ([]enrich.Candidate, error) {
	query := url.Values{
		"action":   {"wbsearchentities"},
		"search":   {name},
		"language": {"en"},
		"format":   {"json"},
		"limit":    {"5"},
	}

	var parsed searchResponse
	if err := e.getJSON(ctx, query, &parsed); err != nil {
		return nil, fmt.Errorf("wikidata search for %q failed: %w", name, err)
	}

	candidates := make([]enrich.Candidate, 0, len(parsed.Search))
	for _, hit := range parsed.Search {
		candidates = append(candidates, enrich.Candidate{
			ID:          hit.ID,
			Name:        hit.Label,
			Description: hit.Description,
		})
	}
	return candidates, nil
}

type entityResponse struct {
	Entities map[string]struct {
		Labels map[string]struct {
			Value string `json:"value"`
		} `json:"labels"`
		Descriptions map[string]struct {
			Value string `json:"value"`
		} `json:"descriptions"`
		Aliases map[string][]struct {
			Value string `json:"value"`
		} `json:"aliases"`
		Claims map[string][]struct {
			Mainsnak struct {
				Datavalue struct {
					Value json.RawMessage `json:"value"`
				} `json:"datavalue"`
			} `json:"mainsnak"`
		} `json:"claims"`
		Sitelinks map[string]struct {
			URL string `json:"url"`
		} `json:"sitelinks"`
	} `json:"entities"`
}

// FetchDetails resolves a Wikidata item ID into descriptive attributes.
func (e *Enricher) FetchDetails(ctx context.Context, candidateID string) (*enrich.Details, error) {
	e.cacheMu.RLock()
	if cached, ok := e.cache[candidateID]; ok {
		e.cacheMu.RUnlock()
		return cached, nil
	}
	e.cacheMu.RUnlock()

	result, err, _ := e.group.Do(candidateID, func() (any, error) {
		details, err := e.fetchDetails(ctx, candidateID)
		if err != nil {
			return nil, err
		}
		e.cacheMu.Lock()
		e.cache[candidateID] = details
		e.cacheMu.Unlock()
		return details, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*enrich.Details), nil
}

func (e *Enricher) fetchDetails(ctx context.Context, candidateID string) (*enrich.Details, error) {
	query := url.Values{
		"action":    {"wbgetentities"},
		"ids":       {candidateID},
		"props":     {"labels|descriptions|aliases|claims|sitelinks/urls"},
		"languages": {"en"},
		"format":    {"json"},
	}

	var parsed entityResponse
	if err := e.getJSON(ctx, query, &parsed); err != nil {
		return nil, fmt.Errorf("wikidata entity %s failed: %w", candidateID, err)
	}
	item, ok := parsed.Entities[candidateID]
	if !ok {
		return nil, fmt.Errorf("wikidata entity %s not in response", candidateID)
	}

	details := &enrich.Details{
		Description: item.Descriptions["en"].Value,
		Attributes:  map[string]string{"wikidata_id": candidateID},
	}
	for _, alias := range item.Aliases["en"] {
		if alias.Value != "" {
			details.Aliases = append(details.Aliases, alias.Value)
		}
	}

	// P31 is "instance of".
	for _, claim := range item.Claims["P31"] {
		var value struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(claim.Mainsnak.Datavalue.Value, &value); err != nil {
			continue
		}
		if hint, ok := typeHints[value.ID]; ok {
			details.TypeHint = hint
			break
		}
	}

	if link, ok := item.Sitelinks["enwiki"]; ok && link.URL != "" {
		details.Attributes["wikipedia_url"] = link.URL
		if extract := e.articleExtract(ctx, link.URL); extract != "" {
			details.Description = extract
		}
	}

	return details, nil
}

// articleExtract pulls a readable first-paragraphs extract from a Wikipedia
// article. Failures only cost the richer description.
func (e *Enricher) articleExtract(ctx context.Context, articleURL string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, articleURL, nil)
	if err != nil {
		return ""
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		logger.Debug("wikipedia fetch failed", "url", articleURL, "error", err)
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}

	parsedURL, err := url.Parse(articleURL)
	if err != nil {
		return ""
	}
	article, err := readability.FromReader(resp.Body, parsedURL)
	if err != nil {
		logger.Debug("wikipedia extract failed", "url", articleURL, "error", err)
		return ""
	}
	var builder strings.Builder
	if err := article.RenderText(&builder); err != nil {
		return ""
	}

	text := strings.TrimSpace(builder.String())
	if idx := strings.Index(text, "\n\n"); idx > 0 {
		text = text[:idx]
	}
	const maxExtract = 1000
	if len(text) > maxExtract {
		text = text[:maxExtract]
	}
	return text
}

func (e *Enricher) getJSON(ctx context.Context, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
