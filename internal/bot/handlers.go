package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sentinel-automod/internal/analytics"
	"sentinel-automod/internal/lockdown"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type commandOptions struct {
	ChannelID string
	Reason    string
}

func parseOptions(options []*discordgo.ApplicationCommandInteractionDataOption) commandOptions {
	var out commandOptions
	for _, opt := range options {
		if opt == nil {
			continue
		}
		switch opt.Name {
		case "channel":
			if value, ok := opt.Value.(string); ok {
				out.ChannelID = value
			}
		case "reason":
			if value, ok := opt.Value.(string); ok {
				out.Reason = strings.TrimSpace(value)
			}
		}
	}
	return out
}

func canManage(member *discordgo.Member) bool {
	if member == nil {
		return false
	}
	return member.Permissions&(discordgo.PermissionAdministrator|discordgo.PermissionManageChannels) != 0
}

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if interaction.Type != discordgo.InteractionApplicationCommand {
		return
	}
	defer b.guard("interaction_create", interaction.GuildID)

	if interaction.GuildID == "" {
		b.respondEmbed(session, interaction, commandEmbed("Sentinel", "This command only works in a server.", colorError, nil), true)
		return
	}
	if !canManage(interaction.Member) {
		b.respondEmbed(session, interaction, commandEmbed("Sentinel", "You need the Manage Channels permission.", colorError, nil), true)
		return
	}

	ctx := context.Background()
	data := interaction.ApplicationCommandData()
	opts := parseOptions(data.Options)
	moderator := interaction.Member.User
	switch data.Name {
	case "lockdown":
		embed, file := b.handleLockdown(ctx, interaction.GuildID, moderator, opts)
		b.respondEmbed(session, interaction, embed, true, file)
	case "unlock":
		embed, file := b.handleUnlock(ctx, interaction.GuildID, moderator, opts)
		b.respondEmbed(session, interaction, embed, true, file)
	case "raid":
		b.respondEmbed(session, interaction, b.handleRaidStatus(ctx, interaction.GuildID), true)
	}
}

func commandReason(moderator *discordgo.User, reason string) string {
	if reason == "" {
		reason = "no reason given"
	}
	if moderator == nil {
		return reason
	}
	return fmt.Sprintf("%s (by %s)", reason, moderator.String())
}

func (b *Bot) handleLockdown(ctx context.Context, guildID string, moderator *discordgo.User, opts commandOptions) (*discordgo.MessageEmbed, *discordgo.File) {
	raid := b.deps.Policies.Get(ctx, guildID).Policy.Raid
	options := lockdown.Options{Exempt: raid.ExemptChannels, Reason: commandReason(moderator, opts.Reason)}
	if opts.ChannelID != "" {
		options.Channels = []string{opts.ChannelID}
		options.Exempt = nil
	}
	result, err := b.deps.Lockdown.Enable(ctx, guildID, options)
	if err != nil {
		b.logger.Warn("manual lockdown failed", zap.String("guild_id", guildID), zap.Error(err))
		return commandEmbed("Lockdown", "Could not list channels.", colorError, nil), nil
	}
	b.logger.Info("manual lockdown", zap.String("guild_id", guildID), zap.Int("locked", len(result.Success)), zap.Int("failed", len(result.Failed)))
	return resultEmbed("Lockdown", "Locked", result)
}

func (b *Bot) handleUnlock(ctx context.Context, guildID string, moderator *discordgo.User, opts commandOptions) (*discordgo.MessageEmbed, *discordgo.File) {
	reason := commandReason(moderator, opts.Reason)
	var (
		result lockdown.Result
		err    error
	)
	if opts.ChannelID != "" {
		result, err = b.deps.Lockdown.Disable(ctx, guildID, lockdown.Options{Channels: []string{opts.ChannelID}, Reason: reason})
	} else {
		result, err = b.deps.Playbook.Release(ctx, guildID, reason)
	}
	if err != nil {
		b.logger.Warn("manual unlock failed", zap.String("guild_id", guildID), zap.Error(err))
		return commandEmbed("Unlock", "Could not read lockdown state.", colorError, nil), nil
	}
	b.logger.Info("manual unlock", zap.String("guild_id", guildID), zap.Int("restored", len(result.Success)), zap.Int("failed", len(result.Failed)))
	return resultEmbed("Unlock", "Restored", result)
}

func (b *Bot) handleRaidStatus(ctx context.Context, guildID string) *discordgo.MessageEmbed {
	state := b.deps.Playbook.Status(guildID)
	locked, err := b.deps.Lockdown.IsLocked(ctx, guildID)
	if err != nil {
		b.logger.Warn("lockdown status failed", zap.String("guild_id", guildID), zap.Error(err))
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: "Severity", Value: state.Severity.String(), Inline: true},
		{Name: "Locked", Value: fmt.Sprintf("%t", locked), Inline: true},
	}
	if state.Lockdown && !state.ExpiresAt.IsZero() {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Auto unlock", Value: fmt.Sprintf("<t:%d:R>", state.ExpiresAt.Unix()), Inline: true})
	}
	if b.deps.Reports != nil {
		report, err := b.deps.Reports.Report(ctx, guildID, time.Now().Add(-24*time.Hour))
		if err != nil {
			b.logger.Warn("case report failed", zap.String("guild_id", guildID), zap.Error(err))
		} else {
			fields = append(fields, &discordgo.MessageEmbedField{Name: "Cases (24h)", Value: reportSummary(report)})
		}
	}
	return commandEmbed("Raid status", "", colorAction, fields)
}

func reportSummary(report analytics.Report) string {
	if report.Total == 0 {
		return "none"
	}
	lines := []string{fmt.Sprintf("%d total, %d automated", report.Total, report.Automated)}
	for _, action := range report.Actions() {
		lines = append(lines, fmt.Sprintf("%s: %d", action, report.ByAction[action]))
	}
	return strings.Join(lines, "\n")
}

// Discord rejects a field value over 1024 characters. Past maxFailedFields
// the failed channels go to an attached file instead.
const (
	fieldValueLimit = 1024
	maxFailedFields = 4
)

func resultEmbed(title, verb string, result lockdown.Result) (*discordgo.MessageEmbed, *discordgo.File) {
	description := fmt.Sprintf("%s %d channel(s).", verb, len(result.Success))
	if len(result.Failed) == 0 {
		return commandEmbed(title, description, colorAction, nil), nil
	}

	mentions := make([]string, 0, len(result.Failed))
	for _, id := range result.Failed {
		mentions = append(mentions, "<#"+id+">")
	}
	values := chunkLines(mentions, fieldValueLimit)
	if len(values) > maxFailedFields {
		fields := []*discordgo.MessageEmbedField{{
			Name:  "Failed",
			Value: fmt.Sprintf("%d channels, listed in the attached file.", len(result.Failed)),
		}}
		file := &discordgo.File{
			Name:        "failed-channels.txt",
			ContentType: "text/plain",
			Reader:      strings.NewReader(strings.Join(result.Failed, "\n") + "\n"),
		}
		return commandEmbed(title, description, colorWarn, fields), file
	}

	fields := make([]*discordgo.MessageEmbedField, 0, len(values))
	for i, value := range values {
		name := "Failed"
		if i > 0 {
			name = "Failed (cont.)"
		}
		fields = append(fields, &discordgo.MessageEmbedField{Name: name, Value: value})
	}
	return commandEmbed(title, description, colorWarn, fields), nil
}

// chunkLines joins lines with newlines into values no longer than limit.
func chunkLines(lines []string, limit int) []string {
	var (
		chunks  []string
		current strings.Builder
	)
	for _, line := range lines {
		if current.Len() > 0 && current.Len()+1+len(line) > limit {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte('\n')
		}
		current.WriteString(line)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

func commandEmbed(title, description string, color int, fields []*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Timestamp:   time.Now().Format(time.RFC3339),
		Fields:      fields,
	}
}
