// Package ollama implements the enrichment lookup on a locally-hosted
// Ollama model with schema-constrained JSON output. Requests are bounded by
// a semaphore because local models serve poorly under concurrent load.
package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"
	"golang.org/x/sync/semaphore"

	"github.com/civigraph/atlas/pkg/common"
	"github.com/civigraph/atlas/pkg/enrich"
)

const searchPrompt = `You identify real-world entities. Given a name, list up to 5 known
real-world entities it most likely refers to, best match first, each with a
stable canonical identifier (Wikidata Q-id when known, otherwise a
lowercase-hyphenated slug), the canonical name and a one-line description.
Return an empty list for unrecognizable names.

Name: %s`

const detailsPrompt = `You describe real-world entities. For the entity with canonical identifier
%s, return a short factual description, common alternative names, its kind
(person, organization, place, or unknown), and a few notable attributes as
key/value pairs.`

type searchResult struct {
	Candidates []struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"candidates"`
}

type detailsResult struct {
	Description string   `json:"description"`
	Aliases     []string `json:"aliases"`
	Kind        string   `json:"kind" jsonschema:"enum=person,enum=organization,enum=place,enum=unknown"`
	Attributes  []struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	} `json:"attributes"`
}

// Enricher performs knowledge lookups through an Ollama model.
type Enricher struct {
	model   string
	reqLock *semaphore.Weighted
	client  *api.Client
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

// NewEnricherParams configures the Ollama enricher. MaxConcurrentRequests
// defaults to 1.
type NewEnricherParams struct {
	Model                 string
	BaseURL               string
	APIKey                string
	MaxConcurrentRequests int64
}

func NewEnricher(params NewEnricherParams) (*Enricher, error) {
	var (
		u   *url.URL
		err error
	)
	if params.BaseURL != "" {
		u, err = url.Parse(params.BaseURL)
		if err != nil {
			return nil, err
		}
	}

	httpClient := &http.Client{
		Transport: &headerTransport{
			headers: map[string]string{
				"Authorization": "Bearer " + params.APIKey,
			},
			rt: http.DefaultTransport,
		},
	}

	maxConcurrent := params.MaxConcurrentRequests
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	return &Enricher{
		model:   params.Model,
		reqLock: semaphore.NewWeighted(maxConcurrent),
		client:  api.NewClient(u, httpClient),
	}, nil
}

// Search asks the model for candidate identities of a name.
func (e *Enricher) Search(ctx context.Context, name string) ([]enrich.Candidate, error) {
	var result searchResult
	if err := e.generate(ctx, fmt.Sprintf(searchPrompt, name), &result); err != nil {
		return nil, fmt.Errorf("candidate search for %q failed: %w", name, err)
	}

	candidates := make([]enrich.Candidate, 0, len(result.Candidates))
	for _, c := range result.Candidates {
		if c.ID == "" || c.Name == "" {
			continue
		}
		candidates = append(candidates, enrich.Candidate{
			ID:          c.ID,
			Name:        c.Name,
			Description: c.Description,
		})
	}
	return candidates, nil
}

// FetchDetails asks the model to describe a canonical identifier.
func (e *Enricher) FetchDetails(ctx context.Context, candidateID string) (*enrich.Details, error) {
	var result detailsResult
	if err := e.generate(ctx, fmt.Sprintf(detailsPrompt, candidateID), &result); err != nil {
		return nil, fmt.Errorf("details for %s failed: %w", candidateID, err)
	}

	details := &enrich.Details{
		Description: result.Description,
		Aliases:     result.Aliases,
		TypeHint:    common.ParseEntityType(result.Kind),
	}
	if len(result.Attributes) > 0 {
		details.Attributes = make(map[string]string, len(result.Attributes))
		for _, attr := range result.Attributes {
			if attr.Key != "" {
				details.Attributes[attr.Key] = attr.Value
			}
		}
	}
	return details, nil
}

func (e *Enricher) generate(ctx context.Context, prompt string, out any) error {
	if err := e.reqLock.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.reqLock.Release(1)

	formatBytes, err := json.Marshal(enrich.GenerateSchema(out))
	if err != nil {
		return err
	}

	stream := false
	req := &api.ChatRequest{
		Model: e.model,
		Messages: []api.Message{
			{Role: "user", Content: prompt},
		},
		Stream:  &stream,
		Format:  json.RawMessage(formatBytes),
		Options: map[string]any{"temperature": 0.1},
	}

	var final api.ChatResponse
	if err := e.client.Chat(ctx, req, func(cr api.ChatResponse) error {
		final.Message.Content += cr.Message.Content
		return nil
	}); err != nil {
		return err
	}

	return enrich.UnmarshalFlexible(final.Message.Content, out)
}
