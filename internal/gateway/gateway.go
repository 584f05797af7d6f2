// Package gateway is the narrow surface the moderation core uses to act on the
// chat platform. Every call is bounded I/O returning an error; callers decide
// whether a failure matters.
package gateway

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("gateway: resource not found")
	ErrForbidden = errors.New("gateway: missing permissions")
)

// Permission bits touched by lockdown. Values match the Discord API.
const (
	PermissionAddReactions         int64 = 1 << 6
	PermissionSendMessages         int64 = 1 << 11
	PermissionCreatePublicThreads  int64 = 1 << 35
	PermissionCreatePrivateThreads int64 = 1 << 36
	PermissionSendMessagesInThread int64 = 1 << 38

	LockdownDeny = PermissionSendMessages | PermissionAddReactions | PermissionCreatePublicThreads |
		PermissionCreatePrivateThreads | PermissionSendMessagesInThread
)

type MessageRef struct {
	ChannelID string
	MessageID string
}

type Channel struct {
	ID   string
	Name string
}

// Member is a live view of a guild member.
type Member struct {
	GuildID      string
	UserID       string
	Tag          string
	Roles        []string
	JoinedAt     time.Time
	TimeoutUntil *time.Time
}

// TimedOut reports whether the member is still under a timeout at now.
func (m Member) TimedOut(now time.Time) bool {
	return m.TimeoutUntil != nil && m.TimeoutUntil.After(now)
}

type Gateway interface {
	DeleteMessage(ctx context.Context, ref MessageRef) error
	TimeoutMember(ctx context.Context, guildID, userID string, duration time.Duration, reason string) error
	KickMember(ctx context.Context, guildID, userID, reason string) error
	BanMember(ctx context.Context, guildID, userID, reason string) error
	SendDirectMessage(ctx context.Context, userID, text string) error
	SendChannelMessage(ctx context.Context, channelID, text string) (MessageRef, error)
	EditChannelPermission(ctx context.Context, channelID, roleID string, allow, deny int64) error
	DeleteChannelPermission(ctx context.Context, channelID, roleID string) error
	GetChannelPermission(ctx context.Context, channelID, roleID string) (allow, deny int64, exists bool, err error)
	ListTextChannels(ctx context.Context, guildID string) ([]Channel, error)
	GetMember(ctx context.Context, guildID, userID string) (Member, error)
}
