package store

import (
	"encoding/json"
	"fmt"

	"github.com/tay1862/kinsaep-core/internal/event"
)

// marshalTags converts the ordered tag list to JSON TEXT for storage.
func marshalTags(tags []event.Tag) (string, error) {
	if len(tags) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("marshal tags: %w", err)
	}
	return string(data), nil
}

// unmarshalTags parses JSON TEXT back into the ordered tag list.
func unmarshalTags(data string) ([]event.Tag, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var tags []event.Tag
	if err := json.Unmarshal([]byte(data), &tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	return tags, nil
}
