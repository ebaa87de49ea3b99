package chat

import (
	"regexp"
)

// Entities are the pieces of structured metadata mined out of message text.
type Entities struct {
	Mentions []string
	Hashtags []string
	Links    []string
}

var (
	mentionPattern = regexp.MustCompile(`@([A-Za-z0-9_.-]+)`)
	hashtagPattern = regexp.MustCompile(`#([A-Za-z0-9_]+)`)
	linkPattern    = regexp.MustCompile(`https?://[^\s<>"']+`)
)

// ExtractEntities mines mentions, hashtags and URLs from message content.
// Pure function; duplicates are collapsed preserving first-seen order.
func ExtractEntities(text string) Entities {
	return Entities{
		Mentions: dedupe(captures(mentionPattern, text)),
		Hashtags: dedupe(captures(hashtagPattern, text)),
		Links:    dedupe(linkPattern.FindAllString(text, -1)),
	}
}

func captures(re *regexp.Regexp, text string) []string {
	matches := re.FindAllStringSubmatch(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := values[:0]
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
