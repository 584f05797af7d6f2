package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
)

// Discord implements Gateway over a discordgo session. Member and channel
// lookups always hit the REST API so callers never act on stale state.
type Discord struct {
	session *discordgo.Session
}

func NewDiscord(session *discordgo.Session) *Discord {
	return &Discord{session: session}
}

func (d *Discord) DeleteMessage(ctx context.Context, ref MessageRef) error {
	_ = ctx
	return classify(d.session.ChannelMessageDelete(ref.ChannelID, ref.MessageID))
}

func (d *Discord) TimeoutMember(ctx context.Context, guildID, userID string, duration time.Duration, reason string) error {
	_ = ctx
	_ = reason
	until := time.Now().Add(duration)
	return classify(d.session.GuildMemberTimeout(guildID, userID, &until))
}

func (d *Discord) KickMember(ctx context.Context, guildID, userID, reason string) error {
	_ = ctx
	return classify(d.session.GuildMemberDeleteWithReason(guildID, userID, reason))
}

func (d *Discord) BanMember(ctx context.Context, guildID, userID, reason string) error {
	_ = ctx
	return classify(d.session.GuildBanCreateWithReason(guildID, userID, reason, 0))
}

func (d *Discord) SendDirectMessage(ctx context.Context, userID, text string) error {
	_ = ctx
	channel, err := d.session.UserChannelCreate(userID)
	if err != nil {
		return classify(err)
	}
	_, err = d.session.ChannelMessageSend(channel.ID, text)
	return classify(err)
}

func (d *Discord) SendChannelMessage(ctx context.Context, channelID, text string) (MessageRef, error) {
	_ = ctx
	msg, err := d.session.ChannelMessageSend(channelID, text)
	if err != nil {
		return MessageRef{}, classify(err)
	}
	return MessageRef{ChannelID: channelID, MessageID: msg.ID}, nil
}

func (d *Discord) EditChannelPermission(ctx context.Context, channelID, roleID string, allow, deny int64) error {
	_ = ctx
	return classify(d.session.ChannelPermissionSet(channelID, roleID, discordgo.PermissionOverwriteTypeRole, allow, deny))
}

func (d *Discord) DeleteChannelPermission(ctx context.Context, channelID, roleID string) error {
	_ = ctx
	err := classify(d.session.ChannelPermissionDelete(channelID, roleID))
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func (d *Discord) GetChannelPermission(ctx context.Context, channelID, roleID string) (int64, int64, bool, error) {
	_ = ctx
	channel, err := d.session.Channel(channelID)
	if err != nil {
		return 0, 0, false, classify(err)
	}
	for _, overwrite := range channel.PermissionOverwrites {
		if overwrite.Type == discordgo.PermissionOverwriteTypeRole && overwrite.ID == roleID {
			return overwrite.Allow, overwrite.Deny, true, nil
		}
	}
	return 0, 0, false, nil
}

func (d *Discord) ListTextChannels(ctx context.Context, guildID string) ([]Channel, error) {
	_ = ctx
	channels, err := d.session.GuildChannels(guildID)
	if err != nil {
		return nil, classify(err)
	}
	var out []Channel
	for _, channel := range channels {
		if channel == nil {
			continue
		}
		if channel.Type != discordgo.ChannelTypeGuildText && channel.Type != discordgo.ChannelTypeGuildNews {
			continue
		}
		out = append(out, Channel{ID: channel.ID, Name: channel.Name})
	}
	return out, nil
}

func (d *Discord) GetMember(ctx context.Context, guildID, userID string) (Member, error) {
	_ = ctx
	member, err := d.session.GuildMember(guildID, userID)
	if err != nil {
		return Member{}, classify(err)
	}
	return FromDiscordMember(guildID, member), nil
}

// FromDiscordMember converts a discordgo member payload.
func FromDiscordMember(guildID string, member *discordgo.Member) Member {
	out := Member{GuildID: guildID, Roles: member.Roles, JoinedAt: member.JoinedAt, TimeoutUntil: member.CommunicationDisabledUntil}
	if member.GuildID != "" {
		out.GuildID = member.GuildID
	}
	if member.User != nil {
		out.UserID = member.User.ID
		out.Tag = member.User.String()
	}
	return out
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		case http.StatusForbidden:
			return fmt.Errorf("%w: %v", ErrForbidden, err)
		}
	}
	return err
}
