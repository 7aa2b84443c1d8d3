package util

import (
	"reflect"
	"testing"
)

func TestNameVariations(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{
			name: "empty input",
			in:   "",
			want: nil,
		},
		{
			name: "whitespace only",
			in:   "   \n\t ",
			want: nil,
		},
		{
			name: "plain name gains the-prefix",
			in:   "Acme Corp",
			want: []string{"Acme Corp", "the Acme Corp"},
		},
		{
			name: "leading the is stripped",
			in:   "The Red Cross",
			want: []string{"The Red Cross", "Red Cross"},
		},
		{
			name: "leading a is stripped",
			in:   "A Team",
			want: []string{"A Team", "Team", "the A Team"},
		},
		{
			name: "punctuation variant",
			in:   "Smith & Sons Ltd.",
			want: []string{"Smith & Sons Ltd.", "the Smith & Sons Ltd.", "Smith Sons Ltd"},
		},
		{
			name: "internal whitespace collapsed",
			in:   "  John   Smith ",
			want: []string{"John Smith", "the John Smith"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NameVariations(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("NameVariations(%q) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}

func TestSplitNameList(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{
			name: "empty",
			in:   "",
			want: nil,
		},
		{
			name: "single name",
			in:   "John Smith",
			want: []string{"John Smith"},
		},
		{
			name: "comma separated",
			in:   "John Smith, Jane Doe",
			want: []string{"John Smith", "Jane Doe"},
		},
		{
			name: "and conjunction",
			in:   "John Smith and Jane Doe",
			want: []string{"John Smith", "Jane Doe"},
		},
		{
			name: "ampersand",
			in:   "John Smith & Jane Doe",
			want: []string{"John Smith", "Jane Doe"},
		},
		{
			name: "mixed separators with duplicates",
			in:   "John Smith, Jane Doe and john smith",
			want: []string{"John Smith", "Jane Doe"},
		},
		{
			name: "name containing Anderson is not split",
			in:   "Anders Anderson",
			want: []string{"Anders Anderson"},
		},
		{
			name: "trailing comma",
			in:   "John Smith,",
			want: []string{"John Smith"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitNameList(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SplitNameList(%q) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}

func TestContainsWholeWord(t *testing.T) {
	tests := []struct {
		name string
		text string
		word string
		want bool
	}{
		{name: "exact match", text: "Cole", word: "Cole", want: true},
		{name: "match in sentence", text: "Cole met Smith.", word: "Cole", want: true},
		{name: "substring does not match", text: "Nicole met Smith.", word: "Cole", want: false},
		{name: "case insensitive", text: "COLE met Smith.", word: "cole", want: true},
		{name: "punctuation boundary", text: "They visited Cole.", word: "Cole", want: true},
		{name: "multi word name", text: "Acme Corp said no.", word: "Acme Corp", want: true},
		{name: "name with dot", text: "Smith Ltd. was sold.", word: "Smith Ltd.", want: true},
		{name: "empty text", text: "", word: "Cole", want: false},
		{name: "empty word", text: "Cole", word: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ContainsWholeWord(tt.text, tt.word)
			if got != tt.want {
				t.Errorf("ContainsWholeWord(%q, %q) = %v, want %v", tt.text, tt.word, got, tt.want)
			}
		})
	}
}

func TestReplaceWholeWord(t *testing.T) {
	tests := []struct {
		name string
		text string
		old  string
		new  string
		want string
	}{
		{
			name: "whole word safety",
			text: "Nicole, Cole",
			old:  "Cole",
			new:  "Nicholas Cole",
			want: "Nicole, Nicholas Cole",
		},
		{
			name: "adjacent occurrences",
			text: "Cole, Cole",
			old:  "Cole",
			new:  "Nicholas Cole",
			want: "Nicholas Cole, Nicholas Cole",
		},
		{
			name: "replacement contains old name",
			text: "Cole met Smith.",
			old:  "Cole",
			new:  "Nicholas Cole",
			want: "Nicholas Cole met Smith.",
		},
		{
			name: "no match leaves text unchanged",
			text: "Nicole met Smith.",
			old:  "Cole",
			new:  "Nicholas Cole",
			want: "Nicole met Smith.",
		},
		{
			name: "regex metacharacters in old name",
			text: "Acme (Holdings) sold assets.",
			old:  "Acme (Holdings)",
			new:  "Acme Corp",
			want: "Acme Corp sold assets.",
		},
		{
			name: "case insensitive match",
			text: "ACME CORP expanded.",
			old:  "Acme Corp",
			new:  "Acme Corporation",
			want: "Acme Corporation expanded.",
		},
		{
			name: "start and end of text",
			text: "Cole saw Cole",
			old:  "Cole",
			new:  "Smith",
			want: "Smith saw Smith",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ReplaceWholeWord(tt.text, tt.old, tt.new)
			if got != tt.want {
				t.Errorf("ReplaceWholeWord(%q, %q, %q) = %q, want %q", tt.text, tt.old, tt.new, got, tt.want)
			}
		})
	}
}
