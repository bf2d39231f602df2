package provider

import (
	"context"
	"fmt"

	"github.com/notifyhub/stargazer-relay/internal/domain"
)

// Target addresses one QQ recipient.
type Target struct {
	Scope domain.Scope
	ID    int64
}

func (t Target) String() string {
	return fmt.Sprintf("%s_%d", t.Scope, t.ID)
}

// Messenger delivers text to QQ recipients.
// Implementations must be safe for concurrent use by all workers and the
// command handler.
type Messenger interface {
	SendGroup(ctx context.Context, groupID int64, message string) error
	SendPrivate(ctx context.Context, userID int64, message string) error
	SendDiscuss(ctx context.Context, discussID int64, message string) error
}

// Approver accepts friend requests and group invitations.
type Approver interface {
	ApproveFriend(ctx context.Context, flag string) error
	ApproveGroupInvite(ctx context.Context, flag string) error
}

// Send routes message to the send action matching t.Scope.
func Send(ctx context.Context, m Messenger, t Target, message string) error {
	switch t.Scope {
	case domain.ScopeGroup:
		return m.SendGroup(ctx, t.ID, message)
	case domain.ScopePrivate:
		return m.SendPrivate(ctx, t.ID, message)
	case domain.ScopeDiscuss:
		return m.SendDiscuss(ctx, t.ID, message)
	default:
		return fmt.Errorf("%w: scope %q", domain.ErrUnsupportedSubscriber, t.Scope)
	}
}
