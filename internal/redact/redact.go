// Package redact masks credentials embedded in endpoint and webhook URLs
// before they reach logs, journal output or diffs.
package redact

import (
	"net/url"
	"regexp"
	"strings"
)

const mask = "***"

// secretParamRe matches query keys that carry credentials,
// e.g. ?api-key= on hosted RPC endpoints.
var secretParamRe = regexp.MustCompile(`(?i)^(api[-_]?key|apikey|key|token|access[-_]?token|secret|auth|password|passwd|sig|signature)$`)

// tokenPathHosts carry the webhook credential in the URL path; everything
// after the first two segments is masked.
var tokenPathHosts = map[string]int{
	"hooks.slack.com": 2, // /services/T000/B000/XXXX
	"discord.com":     3, // /api/webhooks/<id>/<token>
	"discordapp.com":  3,
}

// URL returns raw with credentials masked. Strings that do not parse as
// absolute URLs are returned unchanged.
func URL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw
	}

	if u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			u.User = url.UserPassword(u.User.Username(), mask)
		} else {
			u.User = url.User(mask)
		}
	}

	if keep, ok := tokenPathHosts[strings.ToLower(u.Hostname())]; ok {
		segs := strings.Split(strings.TrimPrefix(u.Path, "/"), "/")
		for i := keep; i < len(segs); i++ {
			if segs[i] != "" {
				segs[i] = mask
			}
		}
		u.Path = "/" + strings.Join(segs, "/")
		u.RawPath = ""
	}

	if u.RawQuery != "" {
		q := u.Query()
		for k, vals := range q {
			if !secretParamRe.MatchString(k) {
				continue
			}
			for i := range vals {
				vals[i] = mask
			}
		}
		u.RawQuery = q.Encode()
	}

	return unescapeMask(u.String())
}

// url.URL escapes "*" in userinfo and query values.
func unescapeMask(s string) string {
	return strings.ReplaceAll(s, "%2A%2A%2A", mask)
}
