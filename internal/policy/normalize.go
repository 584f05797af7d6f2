package policy

// normalize replaces values a partial override may have left unusable
// (null slices, non-positive limits, unknown actions) with their defaults.
func normalize(p *Policy) {
	d := Default()
	p.Version = Version
	p.ExemptRoles = orEmpty(p.ExemptRoles)

	fixSettings(&p.BadWords.FilterSettings, d.BadWords.FilterSettings)
	p.BadWords.Words = orEmpty(p.BadWords.Words)

	fixSettings(&p.Spam.FilterSettings, d.Spam.FilterSettings)
	positive(&p.Spam.MessageThreshold, d.Spam.MessageThreshold)
	positive(&p.Spam.TimeWindowSeconds, d.Spam.TimeWindowSeconds)

	fixSettings(&p.Filters.LinkSpam.FilterSettings, d.Filters.LinkSpam.FilterSettings)
	nonNegative(&p.Filters.LinkSpam.MaxLinks, d.Filters.LinkSpam.MaxLinks)
	fixSettings(&p.Filters.MassMention.FilterSettings, d.Filters.MassMention.FilterSettings)
	nonNegative(&p.Filters.MassMention.MaxMentions, d.Filters.MassMention.MaxMentions)
	fixSettings(&p.Filters.InviteLinks.FilterSettings, d.Filters.InviteLinks.FilterSettings)
	p.Filters.InviteLinks.OwnInviteCodes = orEmpty(p.Filters.InviteLinks.OwnInviteCodes)
	fixSettings(&p.Filters.Caps.FilterSettings, d.Filters.Caps.FilterSettings)
	if p.Filters.Caps.Threshold <= 0 || p.Filters.Caps.Threshold > 1 {
		p.Filters.Caps.Threshold = d.Filters.Caps.Threshold
	}
	positive(&p.Filters.Caps.MinLength, d.Filters.Caps.MinLength)

	fixSettings(&p.DuplicateDetection.FilterSettings, d.DuplicateDetection.FilterSettings)
	positive(&p.DuplicateDetection.Threshold, d.DuplicateDetection.Threshold)
	positive(&p.DuplicateDetection.TimeWindowSeconds, d.DuplicateDetection.TimeWindowSeconds)

	fixSettings(&p.EmojiSpam.FilterSettings, d.EmojiSpam.FilterSettings)
	nonNegative(&p.EmojiSpam.MaxEmojis, d.EmojiSpam.MaxEmojis)
	fixSettings(&p.NewlineSpam.FilterSettings, d.NewlineSpam.FilterSettings)
	nonNegative(&p.NewlineSpam.MaxNewlines, d.NewlineSpam.MaxNewlines)

	if p.RegexFilters == nil {
		p.RegexFilters = []RegexFilter{}
	}
	for i := range p.RegexFilters {
		if !validAction(p.RegexFilters[i].Action) {
			p.RegexFilters[i].Action = ActionDelete
		}
	}

	e := &p.EscalatingPunishment
	positive(&e.WarnToTimeoutThreshold, d.EscalatingPunishment.WarnToTimeoutThreshold)
	positive(&e.TimeoutDuration, d.EscalatingPunishment.TimeoutDuration)
	switch e.AutoAction {
	case ActionNone, ActionTimeout, ActionKick:
	default:
		e.AutoAction = d.EscalatingPunishment.AutoAction
	}

	r := &p.Raid
	positive(&r.TimeWindowSeconds, d.Raid.TimeWindowSeconds)
	positive(&r.LockdownMinutes, d.Raid.LockdownMinutes)
	r.ExemptChannels = orEmpty(r.ExemptChannels)
	s := r.Severity
	if s.Low <= 0 || s.Medium <= s.Low || s.High <= s.Medium || s.Critical <= s.High {
		r.Severity = d.Raid.Severity
	}
	positive(&r.JoinThreshold, r.Severity.Medium)
}

func fixSettings(s *FilterSettings, d FilterSettings) {
	if !validAction(s.Action) {
		s.Action = d.Action
	}
	s.ExemptChannels = orEmpty(s.ExemptChannels)
	s.ExemptRoles = orEmpty(s.ExemptRoles)
}

func validAction(a Action) bool {
	switch a {
	case ActionNone, ActionDelete, ActionWarn, ActionTimeout:
		return true
	}
	return false
}

func orEmpty(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func positive(v *int, fallback int) {
	if *v <= 0 {
		*v = fallback
	}
}

func nonNegative(v *int, fallback int) {
	if *v < 0 {
		*v = fallback
	}
}
