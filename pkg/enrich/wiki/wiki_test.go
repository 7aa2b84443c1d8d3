package wiki

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/civigraph/atlas/pkg/common"
)

const searchBody = `{"search":[
	{"id":"Q1","label":"Acme Corporation","description":"fictional company"},
	{"id":"Q2","label":"Acme Markets","description":"supermarket chain"}
]}`

const entityBody = `{"entities":{"Q1":{
	"descriptions":{"en":{"value":"fictional company"}},
	"aliases":{"en":[{"value":"Acme Corp"},{"value":"Acme Co"}]},
	"claims":{"P31":[{"mainsnak":{"datavalue":{"value":{"id":"Q4830453"}}}}]},
	"sitelinks":{}
}}}`

func newTestEnricher(t *testing.T, hits *int64) *Enricher {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(hits, 1)
		switch r.URL.Query().Get("action") {
		case "wbsearchentities":
			w.Write([]byte(searchBody))
		case "wbgetentities":
			w.Write([]byte(entityBody))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return NewEnricher(NewEnricherParams{Endpoint: server.URL})
}

func TestSearch(t *testing.T) {
	var hits int64
	e := newTestEnricher(t, &hits)

	candidates, err := e.Search(context.Background(), "Acme")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}
	if candidates[0].ID != "Q1" || candidates[0].Name != "Acme Corporation" {
		t.Fatalf("unexpected first candidate: %+v", candidates[0])
	}
}

func TestFetchDetails(t *testing.T) {
	var hits int64
	e := newTestEnricher(t, &hits)

	details, err := e.FetchDetails(context.Background(), "Q1")
	if err != nil {
		t.Fatalf("details: %v", err)
	}
	if details.Description != "fictional company" {
		t.Fatalf("unexpected description %q", details.Description)
	}
	if len(details.Aliases) != 2 || details.Aliases[0] != "Acme Corp" {
		t.Fatalf("unexpected aliases %v", details.Aliases)
	}
	if details.TypeHint != common.EntityOrganization {
		t.Fatalf("expected organization hint, got %q", details.TypeHint)
	}
	if details.Attributes["wikidata_id"] != "Q1" {
		t.Fatalf("unexpected attributes %v", details.Attributes)
	}

	// A second fetch is served from the cache.
	before := atomic.LoadInt64(&hits)
	if _, err := e.FetchDetails(context.Background(), "Q1"); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt64(&hits) != before {
		t.Fatal("expected cached fetch, got an upstream request")
	}
}
