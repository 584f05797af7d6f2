package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"sentinel-automod/internal/analytics"
	"sentinel-automod/internal/config"
	"sentinel-automod/internal/gateway"
	"sentinel-automod/internal/lockdown"
	"sentinel-automod/internal/modules/antiraid"
	"sentinel-automod/internal/modules/audit"
	"sentinel-automod/internal/modules/automod"
	"sentinel-automod/internal/playbook"
	"sentinel-automod/internal/policy"
	"sentinel-automod/internal/storage"
	"sentinel-automod/internal/timeouts"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	colorAction = 0x3498db
	colorWarn   = 0xe67e22
	colorError  = 0xe74c3c
)

// Deps are the moderation components the bot dispatches events to.
type Deps struct {
	Gateway  gateway.Gateway
	Policies *policy.Resolver
	Automod  *automod.Module
	Raid     *antiraid.Detector
	Playbook *playbook.Engine
	Lockdown *lockdown.Manager
	Timeouts *timeouts.Tracker
	Audit    *audit.Logger
	Reports  *analytics.Service
}

type Bot struct {
	cfg     config.Config
	logger  *zap.Logger
	session *discordgo.Session
	deps    Deps
}

// NewSession builds a session with the intents the handlers need.
func NewSession(token string) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsMessageContent
	return session, nil
}

func New(cfg config.Config, logger *zap.Logger, session *discordgo.Session, deps Deps) *Bot {
	b := &Bot{cfg: cfg, logger: logger, session: session, deps: deps}
	if deps.Audit != nil {
		deps.Audit.SetNotifier(b.notifyCase)
	}
	return b
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onGuildMemberAdd)
	b.session.AddHandler(b.onGuildMemberUpdate)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return err
	}
	return b.registerCommands()
}

func (b *Bot) Close(ctx context.Context) {
	_ = ctx
	if b.session != nil {
		_ = b.session.Close()
	}
}

// guard keeps a panic in one event from reaching the gateway read loop.
func (b *Bot) guard(event, guildID string) {
	if r := recover(); r != nil {
		b.logger.Error("event handler panic",
			zap.String("event", event),
			zap.String("guild_id", guildID),
			zap.Any("panic", r),
			zap.ByteString("stack", debug.Stack()),
		)
	}
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", event.User.Username), zap.Int("guilds", len(event.Guilds)))
}

func (b *Bot) onMessageCreate(session *discordgo.Session, msg *discordgo.MessageCreate) {
	if msg.Author == nil || msg.Author.Bot || msg.GuildID == "" {
		return
	}
	defer b.guard("message_create", msg.GuildID)

	ctx := context.Background()
	event := toMessageEvent(msg, b.isPrivileged(session, msg))
	b.deps.Automod.HandleMessage(ctx, event)
}

func (b *Bot) isPrivileged(session *discordgo.Session, msg *discordgo.MessageCreate) bool {
	if session == nil || session.State == nil {
		return false
	}
	perms, err := session.State.UserChannelPermissions(msg.Author.ID, msg.ChannelID)
	if err != nil {
		return false
	}
	return privileged(perms)
}

func privileged(perms int64) bool {
	return perms&(discordgo.PermissionAdministrator|discordgo.PermissionManageMessages) != 0
}

func toMessageEvent(msg *discordgo.MessageCreate, privileged bool) automod.MessageEvent {
	event := automod.MessageEvent{
		GuildID:            msg.GuildID,
		UserID:             msg.Author.ID,
		UserTag:            msg.Author.String(),
		ChannelID:          msg.ChannelID,
		MessageID:          msg.ID,
		Content:            msg.Content,
		Timestamp:          msg.Timestamp,
		AuthorIsPrivileged: privileged,
	}
	if msg.Member != nil {
		event.MemberRoles = msg.Member.Roles
	}
	return event
}

func (b *Bot) onGuildMemberAdd(session *discordgo.Session, event *discordgo.GuildMemberAdd) {
	if event.Member == nil || event.Member.User == nil || event.Member.User.Bot {
		return
	}
	guildID := event.GuildID
	if guildID == "" {
		return
	}
	defer b.guard("guild_member_add", guildID)

	ctx := context.Background()
	cfg, ok := raidPolicy(b.deps.Policies.Get(ctx, guildID).Policy)
	if !ok {
		return
	}
	log := b.logger.With(zap.String("guild_id", guildID), zap.String("user_id", event.Member.User.ID))
	if _, err := b.deps.Raid.TrackJoin(ctx, guildID, event.Member.User.ID, cfg); err != nil {
		log.Warn("track join failed", zap.Error(err))
		return
	}
	detection, err := b.deps.Raid.DetectRaid(ctx, guildID, cfg)
	if err != nil {
		log.Warn("raid detection failed", zap.Error(err))
		return
	}
	if detection.Severity == antiraid.SeverityNone {
		return
	}
	b.deps.Playbook.Respond(ctx, guildID, detection, cfg)
}

// raidPolicy reports whether join tracking is on. The guild-wide switch turns
// raid protection off along with automod.
func raidPolicy(p policy.Policy) (policy.Raid, bool) {
	return p.Raid, p.Enabled && p.Raid.Enabled
}

// onGuildMemberUpdate tracks timeouts applied by moderators so their expiry
// is announced like automated ones.
func (b *Bot) onGuildMemberUpdate(session *discordgo.Session, event *discordgo.GuildMemberUpdate) {
	if event.Member == nil || event.Member.User == nil {
		return
	}
	until := event.Member.CommunicationDisabledUntil
	if until == nil || !until.After(time.Now()) {
		return
	}
	defer b.guard("guild_member_update", event.GuildID)

	ctx := context.Background()
	if err := b.deps.Timeouts.TrackTimeout(ctx, event.GuildID, event.Member.User.ID, *until); err != nil {
		b.logger.Warn("track timeout failed", zap.String("guild_id", event.GuildID), zap.String("user_id", event.Member.User.ID), zap.Error(err))
	}
}

// notifyCase mirrors each case to the guild's mod-log channel.
func (b *Bot) notifyCase(ctx context.Context, c storage.Case) {
	channelID := b.deps.Policies.Get(ctx, c.GuildID).Policy.LogChannelID
	if channelID == "" {
		return
	}
	if _, err := b.deps.Gateway.SendChannelMessage(ctx, channelID, formatCase(c)); err != nil {
		b.logger.Warn("mod log post failed", zap.String("guild_id", c.GuildID), zap.String("channel_id", channelID), zap.Error(err))
	}
}

func formatCase(c storage.Case) string {
	line := fmt.Sprintf("Case #%d | %s | <@%s>", c.CaseNumber, c.ActionType, c.UserID)
	if c.DurationSeconds != nil {
		line += fmt.Sprintf(" | %s", time.Duration(*c.DurationSeconds)*time.Second)
	}
	moderator := "automod"
	if c.ModeratorID != storage.ModeratorSystem {
		moderator = "<@" + c.ModeratorID + ">"
	}
	return fmt.Sprintf("%s | by %s\n%s", line, moderator, c.Reason)
}

func (b *Bot) respond(session *discordgo.Session, interaction *discordgo.InteractionCreate, content string, ephemeral bool) {
	b.interactionRespond(session, interaction, &discordgo.InteractionResponseData{Content: content}, ephemeral)
}

func (b *Bot) respondEmbed(session *discordgo.Session, interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool, files ...*discordgo.File) {
	if embed == nil {
		b.respond(session, interaction, "No response available.", ephemeral)
		return
	}
	data := &discordgo.InteractionResponseData{Embeds: []*discordgo.MessageEmbed{embed}}
	for _, file := range files {
		if file != nil {
			data.Files = append(data.Files, file)
		}
	}
	b.interactionRespond(session, interaction, data, ephemeral)
}

func (b *Bot) interactionRespond(session *discordgo.Session, interaction *discordgo.InteractionCreate, data *discordgo.InteractionResponseData, ephemeral bool) {
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
	if err != nil {
		b.logger.Warn("interaction response failed",
			zap.String("guild_id", interaction.GuildID),
			zap.String("command", interaction.ApplicationCommandData().Name),
			zap.Error(err),
		)
	}
}
