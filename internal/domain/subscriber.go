package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// PlatformQQ is the only platform this bridge delivers to.
const PlatformQQ = "qq"

// Scope selects which OneBot send action addresses a recipient.
type Scope string

const (
	ScopeGroup   Scope = "group"
	ScopePrivate Scope = "private"
	ScopeDiscuss Scope = "discuss"
)

func (s Scope) IsValid() bool {
	switch s {
	case ScopeGroup, ScopePrivate, ScopeDiscuss:
		return true
	}
	return false
}

// Subscriber is a parsed registry record of the form platform+scope_id,
// e.g. qq+group_12345.
type Subscriber struct {
	Platform string
	Scope    Scope
	ID       int64
}

// ParseSubscriber parses a registry record addressable by this bridge.
// Records of other platforms, unknown scopes or non-numeric IDs return an
// error wrapping ErrUnsupportedSubscriber.
func ParseSubscriber(record string) (Subscriber, error) {
	platform, rest, ok := cut(record, "+")
	if !ok {
		return Subscriber{}, fmt.Errorf("%w: %q", ErrUnsupportedSubscriber, record)
	}
	if platform != PlatformQQ {
		return Subscriber{}, fmt.Errorf("%w: platform %q", ErrUnsupportedSubscriber, platform)
	}

	scope, rawID, ok := cut(rest, "_")
	if !ok || !Scope(scope).IsValid() {
		return Subscriber{}, fmt.Errorf("%w: scope in %q", ErrUnsupportedSubscriber, record)
	}

	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		return Subscriber{}, fmt.Errorf("%w: id in %q", ErrUnsupportedSubscriber, record)
	}

	return Subscriber{Platform: platform, Scope: Scope(scope), ID: id}, nil
}

// cut splits s around the only occurrence of sep. Records with zero or
// several separators are rejected.
func cut(s, sep string) (before, after string, ok bool) {
	if strings.Count(s, sep) != 1 {
		return "", "", false
	}
	before, after, _ = strings.Cut(s, sep)
	return before, after, before != "" && after != ""
}

// SubscriberFor builds the registry identifier for a QQ scope.
func SubscriberFor(scope Scope, id int64) Subscriber {
	return Subscriber{Platform: PlatformQQ, Scope: scope, ID: id}
}

func (s Subscriber) String() string {
	return s.Platform + "+" + string(s.Scope) + "_" + strconv.FormatInt(s.ID, 10)
}
