package bot

import (
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"sentinel-automod/internal/analytics"
	"sentinel-automod/internal/lockdown"
	"sentinel-automod/internal/policy"
	"sentinel-automod/internal/storage"

	"github.com/bwmarrin/discordgo"
)

func TestFormatCase(t *testing.T) {
	duration := 600
	line := formatCase(storage.Case{
		CaseNumber:      7,
		UserID:          "u1",
		ModeratorID:     storage.ModeratorSystem,
		ActionType:      "timeout",
		Reason:          "[automod] spam: 6 messages",
		DurationSeconds: &duration,
	})
	if !strings.HasPrefix(line, "Case #7 | timeout | <@u1> | 10m0s | by automod") {
		t.Fatalf("unexpected case line %q", line)
	}
	if !strings.HasSuffix(line, "[automod] spam: 6 messages") {
		t.Fatalf("expected reason on second line, got %q", line)
	}

	manual := formatCase(storage.Case{CaseNumber: 2, UserID: "u2", ModeratorID: "mod1", ActionType: "kick"})
	if !strings.Contains(manual, "by <@mod1>") {
		t.Fatalf("expected moderator mention, got %q", manual)
	}
}

func TestToMessageEvent(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	msg := &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "m1",
		GuildID:   "g1",
		ChannelID: "c1",
		Content:   "hello",
		Timestamp: at,
		Author:    &discordgo.User{ID: "u1", Username: "alice", Discriminator: "0"},
		Member:    &discordgo.Member{Roles: []string{"r1"}},
	}}
	event := toMessageEvent(msg, true)
	if event.GuildID != "g1" || event.UserID != "u1" || event.MessageID != "m1" || event.ChannelID != "c1" {
		t.Fatalf("unexpected ids %+v", event)
	}
	if !event.AuthorIsPrivileged || !event.Timestamp.Equal(at) || len(event.MemberRoles) != 1 {
		t.Fatalf("unexpected event %+v", event)
	}

	msg.Member = nil
	if roles := toMessageEvent(msg, false).MemberRoles; roles != nil {
		t.Fatalf("expected no roles, got %v", roles)
	}
}

func TestPermissionChecks(t *testing.T) {
	if !privileged(discordgo.PermissionManageMessages) || !privileged(discordgo.PermissionAdministrator) {
		t.Fatalf("expected moderators to be privileged")
	}
	if privileged(discordgo.PermissionSendMessages) {
		t.Fatalf("expected plain members not to be privileged")
	}
	if canManage(nil) || canManage(&discordgo.Member{Permissions: discordgo.PermissionSendMessages}) {
		t.Fatalf("expected manage check to fail")
	}
	if !canManage(&discordgo.Member{Permissions: discordgo.PermissionManageChannels}) {
		t.Fatalf("expected manage channels to pass")
	}
}

func TestParseOptions(t *testing.T) {
	opts := parseOptions([]*discordgo.ApplicationCommandInteractionDataOption{
		{Name: "channel", Type: discordgo.ApplicationCommandOptionChannel, Value: "c9"},
		{Name: "reason", Type: discordgo.ApplicationCommandOptionString, Value: "  raid  "},
		nil,
	})
	if opts.ChannelID != "c9" || opts.Reason != "raid" {
		t.Fatalf("unexpected options %+v", opts)
	}
	if commandReason(nil, "") != "no reason given" {
		t.Fatalf("expected default reason")
	}
}

func TestResultEmbedListsFailures(t *testing.T) {
	embed, file := resultEmbed("Lockdown", "Locked", lockdown.Result{Success: []string{"c1", "c2"}, Failed: []string{"c3"}})
	if file != nil {
		t.Fatalf("did not expect an attachment for one failure")
	}
	if embed.Description != "Locked 2 channel(s)." || embed.Color != colorWarn {
		t.Fatalf("unexpected embed %+v", embed)
	}
	if len(embed.Fields) != 1 || embed.Fields[0].Value != "<#c3>" {
		t.Fatalf("expected failed channel field, got %+v", embed.Fields)
	}

	clean, _ := resultEmbed("Unlock", "Restored", lockdown.Result{Success: []string{"c1"}})
	if clean.Color != colorAction || len(clean.Fields) != 0 {
		t.Fatalf("unexpected clean embed %+v", clean)
	}
}

func TestReportSummary(t *testing.T) {
	if reportSummary(analytics.Report{}) != "none" {
		t.Fatalf("expected empty summary")
	}
	summary := reportSummary(analytics.Report{Total: 3, Automated: 2, ByAction: map[string]int{"delete": 2, "kick": 1}})
	if summary != "3 total, 2 automated\ndelete: 2\nkick: 1" {
		t.Fatalf("unexpected summary %q", summary)
	}
}

func failedChannels(n int) []string {
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, fmt.Sprintf("1100000000000000%03d", i))
	}
	return ids
}

func TestResultEmbedSplitsLongFailureLists(t *testing.T) {
	failed := failedChannels(60)
	embed, file := resultEmbed("Lockdown", "Locked", lockdown.Result{Failed: failed})
	if file != nil {
		t.Fatalf("expected fields, not an attachment")
	}
	if len(embed.Fields) < 2 {
		t.Fatalf("expected the list split across fields, got %d", len(embed.Fields))
	}
	var all []string
	for _, field := range embed.Fields {
		if len(field.Value) > fieldValueLimit {
			t.Fatalf("field value of %d chars exceeds %d", len(field.Value), fieldValueLimit)
		}
		all = append(all, strings.Split(field.Value, "\n")...)
	}
	if len(all) != len(failed) || all[59] != "<#"+failed[59]+">" {
		t.Fatalf("expected every failed channel listed once, got %d", len(all))
	}
}

func TestResultEmbedAttachesHugeFailureLists(t *testing.T) {
	failed := failedChannels(500)
	embed, file := resultEmbed("Unlock", "Restored", lockdown.Result{Failed: failed})
	if file == nil {
		t.Fatalf("expected an attachment for 500 failures")
	}
	if len(embed.Fields) != 1 || !strings.HasPrefix(embed.Fields[0].Value, "500 channels") {
		t.Fatalf("unexpected fields %+v", embed.Fields)
	}
	body, err := io.ReadAll(file.Reader)
	if err != nil {
		t.Fatalf("read attachment: %v", err)
	}
	if lines := strings.Split(strings.TrimSpace(string(body)), "\n"); len(lines) != 500 || lines[0] != failed[0] {
		t.Fatalf("expected every failed id in the attachment, got %d lines", len(lines))
	}
}

func TestChunkLines(t *testing.T) {
	chunks := chunkLines([]string{"aaaa", "bbbb", "cccc"}, 9)
	if len(chunks) != 2 || chunks[0] != "aaaa\nbbbb" || chunks[1] != "cccc" {
		t.Fatalf("unexpected chunks %q", chunks)
	}
}

func TestRaidPolicyHonoursGuildSwitch(t *testing.T) {
	pol := policy.Default()
	pol.Enabled = true
	pol.Raid.Enabled = true
	if _, ok := raidPolicy(pol); !ok {
		t.Fatalf("expected raid tracking on")
	}
	pol.Enabled = false
	if _, ok := raidPolicy(pol); ok {
		t.Fatalf("guild switch off must disable raid tracking")
	}
	pol.Enabled = true
	pol.Raid.Enabled = false
	if cfg, ok := raidPolicy(pol); ok || cfg.Enabled {
		t.Fatalf("raid switch off must disable raid tracking")
	}
}
