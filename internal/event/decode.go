package event

import (
	"fmt"
	"reflect"
	"time"

	"github.com/jobport-labs/chatsync/internal/entity"

	"github.com/mitchellh/mapstructure"
)

// Decode converts the loosely typed payload of an envelope into the typed
// event for its op.
func Decode[T Event](data any) (T, error) {
	var out T

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(time.RFC3339),
			reactionSetHook,
		),
		Result:  &out,
		TagName: "json",
	})
	if err != nil {
		return out, err
	}

	if err := decoder.Decode(data); err != nil {
		return out, err
	}

	return out, nil
}

// reactionSetHook rebuilds the emoji -> id-list wire form into a
// ReactionSet, which mapstructure cannot do on its own.
func reactionSetHook(from, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(entity.ReactionSet(nil)) {
		return data, nil
	}

	if from.Kind() != reflect.Map {
		return nil, fmt.Errorf("invalid reactions type %s", from)
	}

	wire, ok := data.(map[string]any)
	if !ok {
		return data, nil
	}

	set := make(entity.ReactionSet, len(wire))
	for emoji, raw := range wire {
		ids, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("invalid reaction ids for %q", emoji)
		}

		for _, id := range ids {
			userID, ok := id.(string)
			if !ok {
				return nil, fmt.Errorf("invalid reaction id for %q", emoji)
			}

			set.Add(emoji, userID)
		}
	}

	return set, nil
}
