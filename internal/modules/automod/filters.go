package automod

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode"

	"sentinel-automod/internal/policy"
	"sentinel-automod/internal/tracking"
	"sentinel-automod/internal/utils"

	"github.com/rivo/uniseg"
	"github.com/spaolacci/murmur3"
)

var (
	mentionRegex     = regexp.MustCompile(`<@!?\d+>`)
	customEmojiRegex = regexp.MustCompile(`<a?:[A-Za-z0-9_]+:\d+>`)
)

// Pipeline runs the content filters in a fixed order:
// bad words, links, mentions, invites, caps, duplicates, emoji, newlines,
// custom regex. Check returns every hit in that order.
type Pipeline struct {
	history *tracking.Store[uint64]
}

func NewPipeline(historyLimit int) *Pipeline {
	return &Pipeline{history: tracking.NewStore[uint64](historyLimit)}
}

// History exposes the duplicate-content windows for sweeping.
func (p *Pipeline) History() *tracking.Store[uint64] {
	return p.history
}

func (p *Pipeline) Check(compiled *policy.Compiled, msg MessageEvent, now time.Time) []Violation {
	pol := compiled.Policy
	var violations []Violation
	add := func(v *Violation) {
		if v != nil {
			violations = append(violations, *v)
		}
	}

	if pol.BadWords.Applies(msg.ChannelID) {
		add(checkBadWords(compiled, msg.Content))
	}
	if f := pol.Filters.LinkSpam; f.Applies(msg.ChannelID) {
		add(checkLinks(f, msg.Content))
	}
	if f := pol.Filters.MassMention; f.Applies(msg.ChannelID) {
		add(checkMentions(f, msg.Content))
	}
	if f := pol.Filters.InviteLinks; f.Applies(msg.ChannelID) {
		add(checkInvites(f, msg.Content))
	}
	if f := pol.Filters.Caps; f.Applies(msg.ChannelID) {
		add(checkCaps(f, msg.Content))
	}
	if f := pol.DuplicateDetection; f.Applies(msg.ChannelID) {
		add(p.checkDuplicate(f, msg, now))
	}
	if f := pol.EmojiSpam; f.Applies(msg.ChannelID) {
		add(checkEmoji(f, msg.Content))
	}
	if f := pol.NewlineSpam; f.Applies(msg.ChannelID) {
		add(checkNewlines(f, msg.Content))
	}
	add(checkRegex(compiled, msg.Content))
	return violations
}

func checkBadWords(compiled *policy.Compiled, content string) *Violation {
	settings := compiled.Policy.BadWords
	for _, re := range compiled.BadWords {
		if re.MatchString(content) {
			return &Violation{Type: TypeBadWord, Details: "message contains a blocked word", Settings: settings.FilterSettings}
		}
	}
	cleaned := sanitize(content, settings.CaseSensitive)
	if cleaned == "" {
		return nil
	}
	for _, word := range settings.Words {
		target := sanitize(word, settings.CaseSensitive)
		if target != "" && strings.Contains(cleaned, target) {
			return &Violation{Type: TypeBadWord, Details: "message contains an obfuscated blocked word", Settings: settings.FilterSettings}
		}
	}
	return nil
}

func checkLinks(f policy.LinkSpam, content string) *Violation {
	count := len(utils.ExtractURLs(content))
	if count <= f.MaxLinks {
		return nil
	}
	return &Violation{Type: TypeLinkSpam, Details: fmt.Sprintf("%d links (max %d)", count, f.MaxLinks), Evidence: count, Settings: f.FilterSettings}
}

func checkMentions(f policy.MassMention, content string) *Violation {
	count := len(mentionRegex.FindAllStringIndex(content, -1))
	if count <= f.MaxMentions {
		return nil
	}
	return &Violation{Type: TypeMassMention, Details: fmt.Sprintf("%d mentions (max %d)", count, f.MaxMentions), Evidence: count, Settings: f.FilterSettings}
}

func checkInvites(f policy.InviteLinks, content string) *Violation {
	codes := utils.ExtractInviteCodes(content)
	foreign := 0
	for _, code := range codes {
		if f.AllowOwnServer && slices.Contains(f.OwnInviteCodes, code) {
			continue
		}
		foreign++
	}
	if foreign == 0 {
		return nil
	}
	return &Violation{Type: TypeInviteLink, Details: fmt.Sprintf("%d invite links", foreign), Evidence: foreign, Settings: f.FilterSettings}
}

func checkCaps(f policy.Caps, content string) *Violation {
	if len([]rune(content)) < f.MinLength {
		return nil
	}
	ratio, letters := capsRatio(content)
	if letters == 0 || ratio < f.Threshold {
		return nil
	}
	return &Violation{Type: TypeCaps, Details: fmt.Sprintf("%.0f%% capital letters", ratio*100), Evidence: int(ratio * 100), Settings: f.FilterSettings}
}

// capsRatio is uppercase letters over all letters; other runes are ignored.
func capsRatio(content string) (float64, int) {
	letters, upper := 0, 0
	for _, r := range content {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.IsUpper(r) {
			upper++
		}
	}
	if letters == 0 {
		return 0, 0
	}
	return float64(upper) / float64(letters), letters
}

func (p *Pipeline) checkDuplicate(f policy.DuplicateDetection, msg MessageEvent, now time.Time) *Violation {
	normalized := normalizeForDuplicate(msg.Content)
	if normalized == "" {
		return nil
	}
	digest := murmur3.Sum64([]byte(normalized))
	window := time.Duration(f.TimeWindowSeconds) * time.Second
	key := msg.GuildID + ":" + msg.UserID

	p.history.Add(key, now, window, msg.MessageID, digest)
	count := p.history.CountMatching(key, now, window, func(d uint64) bool { return d == digest })
	if count < f.Threshold {
		return nil
	}
	return &Violation{Type: TypeDuplicate, Details: fmt.Sprintf("same message sent %d times", count), Evidence: count, Settings: f.FilterSettings}
}

func checkEmoji(f policy.EmojiSpam, content string) *Violation {
	count := countEmoji(content)
	if count <= f.MaxEmojis {
		return nil
	}
	return &Violation{Type: TypeEmojiSpam, Details: fmt.Sprintf("%d emoji (max %d)", count, f.MaxEmojis), Evidence: count, Settings: f.FilterSettings}
}

// countEmoji counts custom emoji tags plus grapheme clusters that start with
// a pictographic rune or carry an emoji presentation selector or keycap.
func countEmoji(content string) int {
	count := len(customEmojiRegex.FindAllStringIndex(content, -1))
	rest := customEmojiRegex.ReplaceAllString(content, " ")
	gr := uniseg.NewGraphemes(rest)
	for gr.Next() {
		if isEmojiCluster(gr.Runes()) {
			count++
		}
	}
	return count
}

func isEmojiCluster(runes []rune) bool {
	switch first := runes[0]; {
	case first >= 0x1F000 && first <= 0x1FFFF,
		first >= 0x2600 && first <= 0x27BF,
		first >= 0x2300 && first <= 0x23FF,
		first >= 0x2B00 && first <= 0x2BFF:
		return true
	}
	for _, r := range runes[1:] {
		if r == 0xFE0F || r == 0x20E3 {
			return true
		}
	}
	return false
}

func checkNewlines(f policy.NewlineSpam, content string) *Violation {
	count := strings.Count(content, "\n")
	if count <= f.MaxNewlines {
		return nil
	}
	return &Violation{Type: TypeNewlineSpam, Details: fmt.Sprintf("%d line breaks (max %d)", count, f.MaxNewlines), Evidence: count, Settings: f.FilterSettings}
}

func checkRegex(compiled *policy.Compiled, content string) *Violation {
	for _, filter := range compiled.Regex {
		if !filter.Re.MatchString(content) {
			continue
		}
		reason := filter.Reason
		if reason == "" {
			reason = "message matched a custom filter"
		}
		return &Violation{
			Type:    TypeRegex,
			Details: reason,
			Settings: policy.FilterSettings{
				Enabled:     true,
				Action:      filter.Action,
				SendWarning: true,
			},
		}
	}
	return nil
}
