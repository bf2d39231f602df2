package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/notifyhub/stargazer-relay/internal/domain"
	"github.com/notifyhub/stargazer-relay/internal/provider"
	"github.com/notifyhub/stargazer-relay/internal/registry"
)

const forceFlag = "!force"

const unavailableReply = "The service is temporarily unavailable, please try again later."

// AccountStore manages registry accounts. *registry.Client satisfies it.
type AccountStore interface {
	CreateUser(ctx context.Context, user string) error
	DeleteUser(ctx context.Context, user string) error
	Token(ctx context.Context, user string) (string, error)
}

// InboundMessage is a chat message addressed to the bot.
type InboundMessage struct {
	Scope     domain.Scope
	UserID    int64
	GroupID   int64
	DiscussID int64
	// Role of the sender inside a group: owner, admin or member.
	Role string
	Text string
}

// Chat returns the conversation the message came from.
func (m InboundMessage) Chat() provider.Target {
	switch m.Scope {
	case domain.ScopeGroup:
		return provider.Target{Scope: domain.ScopeGroup, ID: m.GroupID}
	case domain.ScopeDiscuss:
		return provider.Target{Scope: domain.ScopeDiscuss, ID: m.DiscussID}
	default:
		return provider.Target{Scope: domain.ScopePrivate, ID: m.UserID}
	}
}

// Privileged reports whether the sender may run commands. In groups only the
// owner and admins may; private chats and discussions are unrestricted.
func (m InboundMessage) Privileged() bool {
	if m.Scope != domain.ScopeGroup {
		return true
	}
	return m.Role == "owner" || m.Role == "admin"
}

// InboundRequest is a friend request or group invitation.
type InboundRequest struct {
	Type    string // friend | group
	SubType string // invite | add (group only)
	Flag    string
	UserID  int64
	GroupID int64
}

// AccountService implements the chat command surface: register,
// delete_account, settings and help, plus auto-approval of friend requests
// and group invitations.
type AccountService struct {
	store       AccountStore
	messenger   provider.Messenger
	approver    provider.Approver
	frontendURL *url.URL
	prefix      string
	logger      *zap.Logger
}

func NewAccountService(
	store AccountStore,
	messenger provider.Messenger,
	approver provider.Approver,
	frontendURL string,
	prefix string,
	logger *zap.Logger,
) (*AccountService, error) {
	u, err := url.Parse(frontendURL)
	if err != nil {
		return nil, fmt.Errorf("parse frontend URL: %w", err)
	}
	return &AccountService{
		store:       store,
		messenger:   messenger,
		approver:    approver,
		frontendURL: u,
		prefix:      prefix,
		logger:      logger,
	}, nil
}

// Help is the usage text sent on /help and after approvals.
func (s *AccountService) Help() string {
	return strings.Join([]string{
		"Stargazer QQ Relay",
		s.prefix + "register - Register account",
		s.prefix + "settings - Set preference",
		s.prefix + "delete_account - Delete account",
		"Only group owner/admins can send commands to me if I'm in a group",
		"In this case settings link will be sent to the sender privately.",
	}, "\n")
}

// HandleMessage runs the command in msg, if any. It reports whether msg was
// a command this service understands and the sender was allowed to run it.
func (s *AccountService) HandleMessage(ctx context.Context, msg InboundMessage) bool {
	name, arg, ok := s.parseCommand(msg.Text)
	if !ok {
		return false
	}
	if !msg.Privileged() {
		return false
	}

	chat := msg.Chat()
	user := domain.SubscriberFor(chat.Scope, chat.ID).String()
	log := s.logger.With(zap.String("command", name), zap.String("user", user))

	var (
		reply string
		to    = chat
		err   error
	)
	switch name {
	case "register":
		reply, err = s.Register(ctx, user)
	case "delete_account":
		reply, err = s.DeleteAccount(ctx, user, arg)
	case "settings":
		reply, err = s.Settings(ctx, user)
		to = provider.Target{Scope: domain.ScopePrivate, ID: msg.UserID}
	case "help":
		reply = s.Help()
	default:
		return false
	}
	if err != nil {
		log.Error("command failed", zap.Error(err))
		reply = unavailableReply
	}

	if err := provider.Send(ctx, s.messenger, to, reply); err != nil {
		log.Warn("command reply failed", zap.Stringer("target", to), zap.Error(err))
	}
	log.Info("command handled")
	return true
}

// Register creates the registry account of user.
func (s *AccountService) Register(ctx context.Context, user string) (string, error) {
	err := s.store.CreateUser(ctx, user)
	switch {
	case err == nil:
		return "Account created. Please use command " + s.prefix + "settings to set your preference.", nil
	case errors.Is(err, domain.ErrUserExists):
		return "Account already exists. Please use command " + s.prefix + "settings to set your preference.", nil
	}
	return statusReply(err)
}

// DeleteAccount removes user's account once arg carries the force flag.
func (s *AccountService) DeleteAccount(ctx context.Context, user, arg string) (string, error) {
	if strings.TrimSpace(arg) != forceFlag {
		return "You are going to delete your account.\n" +
			"Your account and data will be removed from the database immediately!\n" +
			"Please confirm your request by sending " + s.prefix + "delete_account " + forceFlag, nil
	}
	if err := s.store.DeleteUser(ctx, user); err != nil {
		return statusReply(err)
	}
	return "Account deleted.", nil
}

// Settings returns a one-time link to the settings portal.
func (s *AccountService) Settings(ctx context.Context, user string) (string, error) {
	token, err := s.store.Token(ctx, user)
	switch {
	case err == nil:
		return "Please click the link below to set your preference.\n" +
			"The link will expire in 10 minutes.\n" + s.settingsURL(token), nil
	case errors.Is(err, domain.ErrUserNotFound):
		return "User doesn't exist. Please first register by command " + s.prefix + "register.", nil
	}
	return statusReply(err)
}

// HandleRequest approves friend requests and group invitations and greets
// the new contact with the help text.
func (s *AccountService) HandleRequest(ctx context.Context, req InboundRequest) error {
	var greet provider.Target
	switch {
	case req.Type == "friend":
		if err := s.approver.ApproveFriend(ctx, req.Flag); err != nil {
			return fmt.Errorf("approve friend %d: %w", req.UserID, err)
		}
		greet = provider.Target{Scope: domain.ScopePrivate, ID: req.UserID}
	case req.Type == "group" && req.SubType == "invite":
		if err := s.approver.ApproveGroupInvite(ctx, req.Flag); err != nil {
			return fmt.Errorf("approve group %d: %w", req.GroupID, err)
		}
		greet = provider.Target{Scope: domain.ScopeGroup, ID: req.GroupID}
	default:
		return nil
	}

	s.logger.Info("request approved", zap.String("type", req.Type), zap.Stringer("target", greet))
	if err := provider.Send(ctx, s.messenger, greet, s.Help()); err != nil {
		return fmt.Errorf("greet %s: %w", greet, err)
	}
	return nil
}

func (s *AccountService) parseCommand(text string) (name, arg string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, s.prefix) {
		return "", "", false
	}
	fields := strings.SplitN(strings.TrimPrefix(text, s.prefix), " ", 2)
	name = strings.TrimSpace(fields[0])
	if len(fields) == 2 {
		arg = fields[1]
	}
	return name, arg, name != ""
}

func (s *AccountService) settingsURL(token string) string {
	ref := &url.URL{Path: "auth", RawQuery: url.Values{"token": {token}}.Encode()}
	return s.frontendURL.ResolveReference(ref).String()
}

// statusReply turns a backend status into the "{status} {body}" reply shown
// to users. Transport errors are returned for the caller to log.
func statusReply(err error) (string, error) {
	var se *registry.StatusError
	if errors.As(err, &se) {
		return fmt.Sprintf("%d %s", se.StatusCode, se.Body), nil
	}
	return "", err
}
