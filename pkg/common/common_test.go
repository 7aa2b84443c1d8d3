package common

import (
	"testing"
	"time"
)

func TestParseEntityType(t *testing.T) {
	tests := []struct {
		in   string
		want EntityType
	}{
		{"person", EntityPerson},
		{"ORGANIZATION", EntityOrganization},
		{" place ", EntityPlace},
		{"unknown", EntityUnknown},
		{"robot", EntityUnknown},
		{"", EntityUnknown},
	}

	for _, tt := range tests {
		if got := ParseEntityType(tt.in); got != tt.want {
			t.Errorf("ParseEntityType(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestEntityAliases(t *testing.T) {
	entity := &Entity{Name: "Robert Smith", Aliases: []string{"Bob Smith"}}

	if !entity.HasAlias("robert smith") {
		t.Error("HasAlias should match the name case-insensitively")
	}
	if !entity.HasAlias("BOB SMITH") {
		t.Error("HasAlias should match aliases case-insensitively")
	}
	if entity.HasAlias("Bob") {
		t.Error("HasAlias must not match partial names")
	}

	entity.AddAlias("Bobby")
	entity.AddAlias("bob smith")
	entity.AddAlias("Robert Smith")
	entity.AddAlias("   ")

	if len(entity.Aliases) != 2 {
		t.Fatalf("Aliases = %v, want [Bob Smith Bobby]", entity.Aliases)
	}
	if entity.Aliases[1] != "Bobby" {
		t.Fatalf("Aliases = %v, want Bobby appended once", entity.Aliases)
	}

	names := entity.AllNames()
	if len(names) != 3 || names[0] != "Robert Smith" {
		t.Fatalf("AllNames = %v", names)
	}
}

func TestEventClone(t *testing.T) {
	processed := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	event := Event{
		ID:                "evt-1",
		Actor:             "Alice Green",
		Action:            "visited",
		Locations:         []string{"Berlin"},
		ProcessedDatetime: &processed,
	}

	clone := event.Clone()
	clone.Locations[0] = "Hamburg"
	*clone.ProcessedDatetime = clone.ProcessedDatetime.Add(time.Hour)

	if event.Locations[0] != "Berlin" {
		t.Errorf("Clone shares the locations slice: %v", event.Locations)
	}
	if !event.ProcessedDatetime.Equal(processed) {
		t.Errorf("Clone shares the processed timestamp: %v", event.ProcessedDatetime)
	}
}
