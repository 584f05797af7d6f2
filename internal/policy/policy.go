// Package policy holds the per-guild moderation policy: its canonical shape,
// hard-coded defaults, the legacy-shape migration and the deep-merge parser.
package policy

import (
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
)

// Version is the canonical document version produced by Migrate.
const Version = 2

var ErrInvalid = errors.New("policy: invalid document")

type Action string

const (
	ActionNone    Action = "none"
	ActionDelete  Action = "delete"
	ActionWarn    Action = "warn"
	ActionTimeout Action = "timeout"
	ActionKick    Action = "kick"
)

// Removes reports whether the action deletes the offending message.
func (a Action) Removes() bool {
	return a == ActionDelete || a == ActionWarn || a == ActionTimeout
}

// FilterSettings is shared by every content filter.
type FilterSettings struct {
	Enabled        bool     `json:"enabled"`
	Action         Action   `json:"action"`
	SendWarning    bool     `json:"sendWarning"`
	AutoWarn       bool     `json:"autoWarn"`
	ExemptChannels []string `json:"exemptChannels"`
	ExemptRoles    []string `json:"exemptRoles"`
}

// Applies reports whether the filter runs in the given channel.
func (f FilterSettings) Applies(channelID string) bool {
	if !f.Enabled {
		return false
	}
	for _, id := range f.ExemptChannels {
		if id == channelID {
			return false
		}
	}
	return true
}

type BadWords struct {
	FilterSettings
	Words         []string `json:"words"`
	CaseSensitive bool     `json:"caseSensitive"`
}

type Spam struct {
	FilterSettings
	MessageThreshold  int `json:"messageThreshold"`
	TimeWindowSeconds int `json:"timeWindowSeconds"`
}

type LinkSpam struct {
	FilterSettings
	MaxLinks int `json:"maxLinks"`
}

type MassMention struct {
	FilterSettings
	MaxMentions int `json:"maxMentions"`
}

type InviteLinks struct {
	FilterSettings
	AllowOwnServer bool     `json:"allowOwnServer"`
	OwnInviteCodes []string `json:"ownInviteCodes"`
}

type Caps struct {
	FilterSettings
	Threshold float64 `json:"threshold"`
	MinLength int     `json:"minLength"`
}

type Filters struct {
	LinkSpam    LinkSpam    `json:"linkSpam"`
	MassMention MassMention `json:"massMention"`
	InviteLinks InviteLinks `json:"inviteLinks"`
	Caps        Caps        `json:"caps"`
}

type DuplicateDetection struct {
	FilterSettings
	Threshold         int `json:"threshold"`
	TimeWindowSeconds int `json:"timeWindowSeconds"`
}

type EmojiSpam struct {
	FilterSettings
	MaxEmojis int `json:"maxEmojis"`
}

type NewlineSpam struct {
	FilterSettings
	MaxNewlines int `json:"maxNewlines"`
}

// RegexFilter is one custom pattern; the first match in list order wins.
type RegexFilter struct {
	Pattern string `json:"pattern"`
	Action  Action `json:"action"`
	Reason  string `json:"reason"`
}

type EscalatingPunishment struct {
	Enabled                bool   `json:"enabled"`
	WarnToTimeoutThreshold int    `json:"warnToTimeoutThreshold"`
	AutoAction             Action `json:"autoAction"`
	TimeoutDuration        int    `json:"timeoutDuration"`
}

type SeverityThresholds struct {
	Low      int `json:"low"`
	Medium   int `json:"medium"`
	High     int `json:"high"`
	Critical int `json:"critical"`
}

type Raid struct {
	Enabled           bool               `json:"enabled"`
	JoinThreshold     int                `json:"joinThreshold"`
	TimeWindowSeconds int                `json:"timeWindowSeconds"`
	Severity          SeverityThresholds `json:"severity"`
	AutoLockdown      bool               `json:"autoLockdown"`
	LockdownMinutes   int                `json:"lockdownMinutes"`
	ExemptChannels    []string           `json:"exemptChannels"`
	AlertChannelID    string             `json:"alertChannelId"`
}

// Policy is the canonical per-guild document. Enabled gates every module,
// raid protection included.
type Policy struct {
	Version              int                  `json:"version"`
	Enabled              bool                 `json:"enabled"`
	ExemptRoles          []string             `json:"exemptRoles"`
	LogChannelID         string               `json:"logChannelId"`
	BadWords             BadWords             `json:"badWords"`
	Spam                 Spam                 `json:"spam"`
	Filters              Filters              `json:"filters"`
	DuplicateDetection   DuplicateDetection   `json:"duplicateDetection"`
	EmojiSpam            EmojiSpam            `json:"emojiSpam"`
	NewlineSpam          NewlineSpam          `json:"newlineSpam"`
	RegexFilters         []RegexFilter        `json:"regexFilters"`
	EscalatingPunishment EscalatingPunishment `json:"escalatingPunishment"`
	Raid                 Raid                 `json:"raid"`
}

func Default() Policy {
	return Policy{
		Version:     Version,
		Enabled:     true,
		ExemptRoles: []string{},
		BadWords: BadWords{
			FilterSettings: settings(false, ActionDelete, true, true),
			Words:          []string{},
		},
		Spam: Spam{
			FilterSettings:    settings(true, ActionTimeout, true, false),
			MessageThreshold:  5,
			TimeWindowSeconds: 5,
		},
		Filters: Filters{
			LinkSpam:    LinkSpam{FilterSettings: settings(true, ActionDelete, true, false), MaxLinks: 3},
			MassMention: MassMention{FilterSettings: settings(true, ActionTimeout, true, true), MaxMentions: 5},
			InviteLinks: InviteLinks{FilterSettings: settings(false, ActionDelete, true, false), AllowOwnServer: true, OwnInviteCodes: []string{}},
			Caps:        Caps{FilterSettings: settings(false, ActionDelete, true, false), Threshold: 0.7, MinLength: 10},
		},
		DuplicateDetection: DuplicateDetection{
			FilterSettings:    settings(true, ActionDelete, true, false),
			Threshold:         3,
			TimeWindowSeconds: 30,
		},
		EmojiSpam:    EmojiSpam{FilterSettings: settings(false, ActionDelete, true, false), MaxEmojis: 10},
		NewlineSpam:  NewlineSpam{FilterSettings: settings(false, ActionDelete, true, false), MaxNewlines: 10},
		RegexFilters: []RegexFilter{},
		EscalatingPunishment: EscalatingPunishment{
			Enabled:                true,
			WarnToTimeoutThreshold: 3,
			AutoAction:             ActionTimeout,
			TimeoutDuration:        3600,
		},
		Raid: Raid{
			Enabled:           true,
			JoinThreshold:     10,
			TimeWindowSeconds: 10,
			Severity:          SeverityThresholds{Low: 5, Medium: 10, High: 20, Critical: 30},
			AutoLockdown:      true,
			LockdownMinutes:   15,
			ExemptChannels:    []string{},
		},
	}
}

func settings(enabled bool, action Action, warn, autoWarn bool) FilterSettings {
	return FilterSettings{
		Enabled:        enabled,
		Action:         action,
		SendWarning:    warn,
		AutoWarn:       autoWarn,
		ExemptChannels: []string{},
		ExemptRoles:    []string{},
	}
}

// Parse migrates raw to the canonical shape and deep-merges it over Default.
// Fields absent from raw keep their default value.
func Parse(raw []byte) (Policy, error) {
	p := Default()
	if len(raw) == 0 {
		return p, nil
	}
	canonical, err := Migrate(raw)
	if err != nil {
		return Default(), err
	}
	if err := json.Unmarshal(canonical, &p); err != nil {
		return Default(), fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	normalize(&p)
	return p, nil
}

func Marshal(p Policy) ([]byte, error) {
	p.Version = Version
	return json.Marshal(p)
}
