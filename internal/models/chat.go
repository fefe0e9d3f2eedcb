package models

import (
	"slices"
	"time"
)

// Conversation groups the messages of one chat thread. The JSON form matches the entries of the
// locally persisted conversation list.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UserID    string    `json:"userId,omitempty"`
	CreatedAt time.Time `json:"timestamp"`
}

// Order selects the creation-time ordering of listed conversations and messages.
type Order int

const (
	// OrderAscending lists the oldest entry first.
	OrderAscending Order = iota
	// OrderDescending lists the newest entry first.
	OrderDescending
)

const titleMaxRunes = 50

// ConversationTitle derives a conversation title from the first query of a session, cutting it to
// 50 runes and marking the cut with an ellipsis.
func ConversationTitle(query string) string {
	runes := []rune(query)
	if len(runes) <= titleMaxRunes {
		return query
	}
	return string(runes[:titleMaxRunes]) + "..."
}

// SortConversations sorts conversations in place by CreatedAt using the given order.
func SortConversations(convs []Conversation, order Order) {
	slices.SortStableFunc(convs, func(a, b Conversation) int {
		c := a.CreatedAt.Compare(b.CreatedAt)
		if order == OrderDescending {
			return -c
		}
		return c
	})
}

// SortMessages sorts messages in place by CreatedAt using the given order.
func SortMessages(msgs []Message, order Order) {
	slices.SortStableFunc(msgs, func(a, b Message) int {
		c := a.CreatedAt.Compare(b.CreatedAt)
		if order == OrderDescending {
			return -c
		}
		return c
	})
}
