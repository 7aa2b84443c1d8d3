// Package openai implements the enrichment lookup on an OpenAI-compatible
// chat endpoint with JSON-schema constrained output. The model acts as the
// knowledge source: it proposes canonical identifiers for a name and fills
// in descriptive attributes for an accepted candidate.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/pkoukk/tiktoken-go"

	"github.com/civigraph/atlas/pkg/common"
	"github.com/civigraph/atlas/pkg/enrich"
)

const searchPrompt = `You identify real-world entities. Given a name, list up to 5 known
real-world entities it most likely refers to, best match first. For each,
give a stable canonical identifier (its Wikidata Q-id when known, otherwise
a lowercase-hyphenated canonical slug), the canonical name, and a one-line
description. Return an empty list when the name is not a recognizable
real-world entity.`

const detailsPrompt = `You describe real-world entities. Given the canonical identifier of an
entity, return a short factual description, any common alternative names,
its kind (person, organization, place, or unknown), and a few notable
structured attributes as key/value pairs.`

// maxPromptTokens bounds the name passed into a prompt; anything longer is
// noise, not a name.
const maxPromptTokens = 256

type searchResult struct {
	Candidates []struct {
		ID          string `json:"id" jsonschema_description:"Stable canonical identifier"`
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

// Enricher performs knowledge lookups through a chat model.
type Enricher struct {
	model  string
	client *openai.Client
}

// NewEnricherParams configures the model-backed enricher. BaseURL may point
// at any OpenAI-compatible endpoint.
type NewEnricherParams struct {
	Model   string
	BaseURL string
	APIKey  string
}

func NewEnricher(params NewEnricherParams) *Enricher {
	options := []option.RequestOption{
		option.WithAPIKey(params.APIKey),
	}
	if params.BaseURL != "" {
		options = append(options, option.WithBaseURL(params.BaseURL))
	}
	client := openai.NewClient(options...)

	return &Enricher{
		model:  params.Model,
		client: &client,
	}
}

// Search asks the model for candidate identities of a name.
func (e *Enricher) Search(ctx context.Context, name string) ([]enrich.Candidate, error) {
	name, err := truncateTokens(name, maxPromptTokens)
	if err != nil {
		return nil, err
	}

	var result searchResult
	err = e.generate(ctx, "entity_candidates", "Candidate entities for a name",
		fmt.Sprintf("Name: %s", name), &result)
	if err != nil {
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
	err := e.generate(ctx, "entity_details", "Descriptive attributes of an entity",
		fmt.Sprintf("Identifier: %s", candidateID), &result)
	if err != nil {
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

func (e *Enricher) generate(ctx context.Context, name, description, prompt string, out any) error {
	system := searchPrompt
	if name == "entity_details" {
		system = detailsPrompt
	}

	schemaParam := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        name,
		Description: openai.String(description),
		Schema:      enrich.GenerateSchema(out),
		Strict:      openai.Bool(true),
	}

	body := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(e.model),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: schemaParam,
			},
		},
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(0.1),
	}

	response, err := e.client.Chat.Completions.New(ctx, body)
	if err != nil {
		return err
	}
	if len(response.Choices) == 0 {
		return fmt.Errorf("no choices in response from model")
	}
	message := response.Choices[0].Message.Content
	if message == "" {
		return fmt.Errorf("empty response from model (finish_reason: %s)", response.Choices[0].FinishReason)
	}
	return enrich.UnmarshalFlexible(message, out)
}

func truncateTokens(text string, limit int) (string, error) {
	enc, err := tiktoken.GetEncoding("o200k_base")
	if err != nil {
		return "", err
	}
	tokens := enc.Encode(text, nil, nil)
	if len(tokens) <= limit {
		return text, nil
	}
	return enc.Decode(tokens[:limit]), nil
}
