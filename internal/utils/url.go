package utils

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/net/idna"
)

var urlRegex = regexp.MustCompile(`https?://[^\s<>]+`)

// inviteRegex matches invite links with or without a scheme.
var inviteRegex = regexp.MustCompile(`(?i)(?:https?://)?(?:www\.)?(?:discord\.gg|discord(?:app)?\.com/invite)/([A-Za-z0-9-]+)`)

var inviteHosts = map[string]struct{}{
	"discord.gg":         {},
	"discord.com":        {},
	"discordapp.com":     {},
	"www.discord.gg":     {},
	"www.discord.com":    {},
	"www.discordapp.com": {},
}

var trackingParams = []string{"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content", "fbclid", "gclid"}

func ExtractURLs(content string) []string {
	return urlRegex.FindAllString(content, -1)
}

// ExtractInviteCodes returns the invite codes in content, in order of
// appearance. Hosts are checked after IDN normalization so look-alike
// punycode domains are not taken for the real invite host.
func ExtractInviteCodes(content string) []string {
	matches := inviteRegex.FindAllStringSubmatch(content, -1)
	codes := make([]string, 0, len(matches))
	for _, match := range matches {
		_, host, err := NormalizeURL(match[0])
		if err != nil {
			continue
		}
		if _, ok := inviteHosts[host]; !ok {
			continue
		}
		codes = append(codes, match[1])
	}
	return codes
}

func NormalizeURL(raw string) (string, string, error) {
	if !strings.HasPrefix(strings.ToLower(raw), "http://") && !strings.HasPrefix(strings.ToLower(raw), "https://") {
		raw = "https://" + raw
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}

	host := strings.ToLower(parsed.Hostname())
	asciiHost, err := idna.ToASCII(host)
	if err == nil {
		host = asciiHost
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = host
	parsed.Fragment = ""
	parsed.User = nil

	query := parsed.Query()
	for _, key := range trackingParams {
		query.Del(key)
	}
	parsed.RawQuery = normalizeQuery(query)

	return parsed.String(), host, nil
}

func normalizeQuery(values url.Values) string {
	if len(values) == 0 {
		return ""
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	clean := url.Values{}
	for _, key := range keys {
		clean[key] = values[key]
	}
	return clean.Encode()
}
