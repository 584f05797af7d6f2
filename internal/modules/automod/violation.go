// Package automod runs the content filters against incoming messages and
// enforces the first violation found.
package automod

import (
	"time"

	"sentinel-automod/internal/policy"
)

type Type string

const (
	TypeBadWord     Type = "bad_word"
	TypeSpam        Type = "spam"
	TypeLinkSpam    Type = "link_spam"
	TypeMassMention Type = "mass_mention"
	TypeInviteLink  Type = "invite_link"
	TypeCaps        Type = "caps_spam"
	TypeDuplicate   Type = "duplicate"
	TypeEmojiSpam   Type = "emoji_spam"
	TypeNewlineSpam Type = "newline_spam"
	TypeRegex       Type = "regex"
)

// Violation is one filter hit. Settings is the effective configuration of
// the filter that produced it.
type Violation struct {
	Type     Type
	Details  string
	Evidence int
	Settings policy.FilterSettings
}

// MessageEvent is an incoming guild message.
type MessageEvent struct {
	GuildID            string
	UserID             string
	UserTag            string
	ChannelID          string
	MessageID          string
	Content            string
	Timestamp          time.Time
	AuthorIsPrivileged bool
	MemberRoles        []string
}
