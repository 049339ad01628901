package restapi

import (
	"context"
	"strconv"

	"github.com/jobport-labs/chatsync/internal/entity"
	"github.com/jobport-labs/chatsync/pkg/api"
)

const defaultPageSize = 50

// MessageHistory fetches the snapshot page for one conversation. The API
// returns messages newest-first; callers get them ascending, ready for
// the timeline store.
type MessageHistory struct {
	gen *api.Generator
}

func NewMessageHistory(gen *api.Generator) *MessageHistory {
	return &MessageHistory{gen: gen}
}

func (h *MessageHistory) List(ctx context.Context, key entity.ConversationKey, limit int) ([]entity.Message, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}

	query := api.Parameter{"limit": strconv.Itoa(limit)}
	if key.IsRoom() {
		query["roomId"] = key.RoomID
	} else {
		query["userA"] = key.PeerA
		query["userB"] = key.PeerB
	}

	resp, err := h.gen.New("/messages").Query(query).GET(ctx)
	if err != nil {
		return nil, err
	}

	var page []entity.Message
	if err := resp.Decode(&page); err != nil {
		return nil, err
	}

	// Newest-first on the wire, ascending for the timeline.
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}

	return page, nil
}
