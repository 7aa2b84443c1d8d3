package enrich

import "testing"

type sampleDetails struct {
	Description string   `json:"description"`
	Aliases     []string `json:"aliases"`
}

func TestUnmarshalFlexible(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"standard json", `{"description": "a company", "aliases": ["Acme"]}`},
		{"double encoded", `"{\"description\": \"a company\", \"aliases\": [\"Acme\"]}"`},
		{"unquoted keys", `{description: "a company", aliases: ["Acme"]}`},
		{"duplicate leading brace", `{{"description": "a company", "aliases": ["Acme"]}`},
		{"trailing comma", `{"description": "a company", "aliases": ["Acme"],}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out sampleDetails
			if err := UnmarshalFlexible(tt.input, &out); err != nil {
				t.Fatalf("unmarshal failed: %v", err)
			}
			if out.Description != "a company" {
				t.Fatalf("unexpected description %q", out.Description)
			}
			if len(out.Aliases) != 1 || out.Aliases[0] != "Acme" {
				t.Fatalf("unexpected aliases %v", out.Aliases)
			}
		})
	}
}

func TestUnmarshalFlexibleRejectsGarbage(t *testing.T) {
	var out sampleDetails
	if err := UnmarshalFlexible("not json at all {{{]", &out); err == nil {
		t.Fatal("expected an error")
	}
}
