package entity

import (
	"encoding/json"

	"golang.org/x/exp/slices"
)

// ReactionSet maps a reaction emoji to the set of participants who applied
// it. Membership is idempotent; a participant appears at most once per
// emoji.
type ReactionSet map[string]map[string]struct{}

// Add records that userID reacted with emoji. It reports whether the set
// changed.
func (r ReactionSet) Add(emoji, userID string) bool {
	users, ok := r[emoji]
	if !ok {
		users = make(map[string]struct{})
		r[emoji] = users
	}

	if _, ok := users[userID]; ok {
		return false
	}

	users[userID] = struct{}{}
	return true
}

func (r ReactionSet) Has(emoji, userID string) bool {
	_, ok := r[emoji][userID]
	return ok
}

func (r ReactionSet) Count(emoji string) int {
	return len(r[emoji])
}

// Union merges other into r.
func (r ReactionSet) Union(other ReactionSet) {
	for emoji, users := range other {
		for userID := range users {
			r.Add(emoji, userID)
		}
	}
}

func (r ReactionSet) Clone() ReactionSet {
	clone := make(ReactionSet, len(r))
	clone.Union(r)
	return clone
}

// The wire and JSON form is emoji -> sorted list of participant ids.
func (r ReactionSet) MarshalJSON() ([]byte, error) {
	wire := make(map[string][]string, len(r))
	for emoji, users := range r {
		ids := make([]string, 0, len(users))
		for userID := range users {
			ids = append(ids, userID)
		}

		slices.Sort(ids)
		wire[emoji] = ids
	}

	return json.Marshal(wire)
}

func (r *ReactionSet) UnmarshalJSON(b []byte) error {
	var wire map[string][]string
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}

	set := make(ReactionSet, len(wire))
	for emoji, ids := range wire {
		for _, userID := range ids {
			set.Add(emoji, userID)
		}
	}

	*r = set
	return nil
}
