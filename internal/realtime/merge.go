package realtime

import (
	"sort"

	"github.com/google/uuid"
	"github.com/prudhvinik1/inboxsync/internal/models"
)

// applyEvent merges one change event into list, which belongs to userID, and
// reports whether anything changed. The result is sorted newest first. Each
// event is idempotent on its own so redelivery and reordering are harmless.
func applyEvent(list []models.Conversation, userID uuid.UUID, ev models.ChangeEvent) ([]models.Conversation, bool) {
	switch ev.Type {
	case models.EventInserted:
		if !ownedBy(ev.Row, userID) || indexOf(list, ev.ID) >= 0 {
			return list, false
		}
		c := ev.Row.Conversation()
		c.ID = ev.ID
		list = append([]models.Conversation{c}, list...)
		sortConversations(list)
		return list, true

	case models.EventUpdated:
		if !ownedBy(ev.Row, userID) {
			return list, false
		}
		i := indexOf(list, ev.ID)
		if i < 0 {
			return list, false
		}
		merged := ev.Row.ApplyTo(list[i])
		merged.ID = ev.ID
		if sameConversation(merged, list[i]) {
			return list, false
		}
		list[i] = merged
		sortConversations(list)
		return list, true

	case models.EventDeleted:
		i := indexOf(list, ev.ID)
		if i < 0 {
			return list, false
		}
		return append(list[:i], list[i+1:]...), true
	}
	return list, false
}

// ownedBy requires the row to name its owner. Rows without a user id cannot
// be attributed to the tracked account and are dropped.
func ownedBy(row models.ConversationPatch, userID uuid.UUID) bool {
	return row.UserID != nil && *row.UserID == userID
}

func indexOf(list []models.Conversation, id uuid.UUID) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

// sortConversations orders by last activity, newest first, with the id as a
// tie breaker so equal timestamps have a stable order.
func sortConversations(list []models.Conversation) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if !a.LastMessageAt.Equal(b.LastMessageAt) {
			return a.LastMessageAt.After(b.LastMessageAt)
		}
		return a.ID.String() < b.ID.String()
	})
}

func sameConversation(a, b models.Conversation) bool {
	if (a.ClientID == nil) != (b.ClientID == nil) {
		return false
	}
	if a.ClientID != nil && *a.ClientID != *b.ClientID {
		return false
	}
	return a.ID == b.ID &&
		a.UserID == b.UserID &&
		a.Channel == b.Channel &&
		a.LastMessageAt.Equal(b.LastMessageAt) &&
		a.Status == b.Status &&
		a.CreatedAt.Equal(b.CreatedAt)
}

func fromRows(rows []*models.Conversation) []models.Conversation {
	list := make([]models.Conversation, 0, len(rows))
	for _, r := range rows {
		if r != nil {
			list = append(list, *r)
		}
	}
	sortConversations(list)
	return list
}
