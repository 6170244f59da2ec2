// Package contacts builds a user's contact list with last-message previews.
package contacts

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"pairchat/pkg/interfaces"
	"pairchat/pkg/types"
)

type Aggregator struct {
	users    interfaces.UserStore
	messages interfaces.MessageStore
}

func NewAggregator(users interfaces.UserStore, messages interfaces.MessageStore) *Aggregator {
	return &Aggregator{users: users, messages: messages}
}

// ContactsFor returns every other user, in the store's user order, with the
// most recent message exchanged with user attached when there is one.
func (a *Aggregator) ContactsFor(ctx context.Context, user string) ([]types.Contact, error) {
	others, err := a.users.ListUsersExcept(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	// newest first, so the first message seen per counterpart is the last one sent
	messages, err := a.messages.ListUserMessages(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	latest := make(map[string]*types.Message)
	for _, m := range messages {
		counterpart := m.Receiver
		if m.Sender != user {
			counterpart = m.Sender
		}
		if _, seen := latest[counterpart]; !seen {
			latest[counterpart] = m
		}
	}

	return lo.Map(others, func(u *types.User, _ int) types.Contact {
		contact := types.Contact{User: *u}
		if last, ok := latest[u.Email]; ok {
			contact.Data = lo.ToPtr(last.Data)
			contact.CurrentTimeMili = lo.ToPtr(last.CurrentTimeMili)
		}
		return contact
	}), nil
}

// LastMessageFor returns the newest message between user and counterpart,
// or nil when they never talked.
func (a *Aggregator) LastMessageFor(ctx context.Context, user, counterpart string) (*types.Message, error) {
	return a.messages.GetLastMessageBetween(ctx, user, counterpart)
}
