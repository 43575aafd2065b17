package normalize

import (
	"net/url"
	"regexp"
	"strings"
)

const (
	urlPlaceholder   = "[url]"
	emailPlaceholder = "[email]"
)

var (
	urlPattern   = regexp.MustCompile(`(?i)\b(?:https?://|www\.)[^\s<>"'()\[\]]+`)
	emailPattern = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9\-]+(?:\.[a-z0-9\-]+)*\.[a-z]{2,}\b`)
)

var trackingParams = map[string]bool{
	"fbclid":  true,
	"gclid":   true,
	"mc_cid":  true,
	"mc_eid":  true,
	"_hsenc":  true,
	"_hsmi":   true,
	"mkt_tok": true,
}

// maskLinks replaces URLs first, since they may contain '@'.
func maskLinks(s string) string {
	s = urlPattern.ReplaceAllString(s, urlPlaceholder)
	return emailPattern.ReplaceAllString(s, emailPlaceholder)
}

// stripTracking drops utm_* and click-id query parameters from every URL.
func stripTracking(s string) string {
	return urlPattern.ReplaceAllStringFunc(s, func(raw string) string {
		u, err := url.Parse(raw)
		if err != nil || u.RawQuery == "" {
			return raw
		}
		q := u.Query()
		changed := false
		for key := range q {
			k := strings.ToLower(key)
			if strings.HasPrefix(k, "utm_") || trackingParams[k] {
				q.Del(key)
				changed = true
			}
		}
		if !changed {
			return raw
		}
		u.RawQuery = q.Encode()
		return u.String()
	})
}
