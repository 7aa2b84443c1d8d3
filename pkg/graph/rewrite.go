package graph

import (
	"github.com/civigraph/atlas/internal/util"
	"github.com/civigraph/atlas/pkg/common"
)

// EventReferences reports whether the event mentions name as a whole word in
// any of its fields. Substrings inside longer words do not count, so "Cole"
// never matches inside "Nicole".
func EventReferences(event *common.Event, name string) bool {
	if util.ContainsWholeWord(event.Actor, name) ||
		util.ContainsWholeWord(event.Target, name) ||
		util.ContainsWholeWord(event.Sentence, name) {
		return true
	}
	for _, location := range event.Locations {
		if util.ContainsWholeWord(location, name) {
			return true
		}
	}
	return false
}

// RewriteEventReferences returns a copy of the event with every whole-word
// occurrence of oldName replaced by newName across actor, target, sentence
// and locations. The input event is never modified. The second return value
// reports whether anything changed.
func RewriteEventReferences(event *common.Event, oldName, newName string) (common.Event, bool) {
	rewritten := event.Clone()
	changed := false

	if next := util.ReplaceWholeWord(rewritten.Actor, oldName, newName); next != rewritten.Actor {
		rewritten.Actor = next
		changed = true
	}
	if next := util.ReplaceWholeWord(rewritten.Target, oldName, newName); next != rewritten.Target {
		rewritten.Target = next
		changed = true
	}
	if next := util.ReplaceWholeWord(rewritten.Sentence, oldName, newName); next != rewritten.Sentence {
		rewritten.Sentence = next
		changed = true
	}
	for i, location := range rewritten.Locations {
		if next := util.ReplaceWholeWord(location, oldName, newName); next != location {
			rewritten.Locations[i] = next
			changed = true
		}
	}

	return rewritten, changed
}
