package queue

import (
	"reflect"
	"testing"
	"time"
)

func TestParseEventRows(t *testing.T) {
	data := []byte("actor,action,target,locations,sentence,date_received\n" +
		"Alice Jones,met,Bob Brown,Berlin|Hamburg,\"Alice met Bob.\",2024-03-01T10:00:00Z\n" +
		"Carol White,spoke,,,Carol spoke.,2024-03-02\n" +
		"Dana Fox,visited,,,Dana visited.,not-a-date\n")

	events, errs := ParseEventRows(data)
	if len(errs) != 1 {
		t.Fatalf("expected 1 row error, got %v", errs)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	first := events[0]
	if first.Actor != "Alice Jones" || first.Action != "met" || first.Target != "Bob Brown" {
		t.Fatalf("unexpected first event: %+v", first)
	}
	if want := []string{"Berlin", "Hamburg"}; !reflect.DeepEqual(first.Locations, want) {
		t.Fatalf("expected locations %v, got %v", want, first.Locations)
	}
	if !first.DateReceived.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected date %v", first.DateReceived)
	}

	if events[1].Target != "" || len(events[1].Locations) != 0 {
		t.Fatalf("unexpected second event: %+v", events[1])
	}
}

func TestParseEventRowsHeaderValidation(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing actor column", "action,date_received\nmet,2024-03-01\n"},
		{"missing date column", "actor,action\nAlice,met\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, errs := ParseEventRows([]byte(tt.data))
			if len(events) != 0 || len(errs) != 1 {
				t.Fatalf("expected a single header error, got events=%d errs=%v", len(events), errs)
			}
		})
	}
}
