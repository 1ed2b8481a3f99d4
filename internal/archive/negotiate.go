package archive

import (
	"regexp"
	"sort"
	"strings"
)

// The archive signals unsupported daily variables with a 400 body in one of
// several known English phrasings. These patterns extract the offending
// variable names; tokens are restricted to [a-z0-9_]+ after lowercasing.
var unknownVarPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)["']([a-z0-9_]+)["']\s+is not a known variable`),
	regexp.MustCompile(`(?i)Invalid value for parameter 'daily'[:\s]+([a-z0-9_,\s-]+)`),
	regexp.MustCompile(`(?i)Unknown daily variables?[:\s]+([a-z0-9_,\s-]+)`),
	regexp.MustCompile(`(?i)Unsupported daily variables?[:\s]+([a-z0-9_,\s-]+)`),
}

var varToken = regexp.MustCompile(`^[a-z0-9_]+$`)
var tokenSplit = regexp.MustCompile(`[,\s]+`)

// ParseUnknownVars extracts the set of rejected variable names from a 400
// error body (JSON or plain text). Malformed tokens are dropped. The result
// is sorted; an empty result means the body matched none of the known
// phrasings.
func ParseUnknownVars(errText string) []string {
	found := make(map[string]struct{})
	for _, pattern := range unknownVarPatterns {
		m := pattern.FindStringSubmatch(errText)
		if m == nil {
			continue
		}
		for _, token := range tokenSplit.Split(strings.TrimSpace(m[1]), -1) {
			token = strings.ToLower(strings.TrimSpace(token))
			if token != "" && varToken.MatchString(token) {
				found[token] = struct{}{}
			}
		}
	}

	out := make([]string, 0, len(found))
	for token := range found {
		out = append(out, token)
	}
	sort.Strings(out)
	return out
}
