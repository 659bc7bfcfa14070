// Package classifier decides whether a SQL statement is a read, a write,
// or something it cannot identify. Unknown statements are routed like
// writes: an ambiguous statement must never be served from a possibly
// stale replica.
package classifier

import (
	"strings"

	"github.com/queryrelay/queryrelay/internal/models"
)

var writeKeywords = map[string]bool{
	"INSERT": true,
	"UPDATE": true,
	"DELETE": true,
	"CREATE": true,
	"DROP":   true,
	"ALTER":  true,
}

// Classify returns the routing kind of a SQL statement. Leading
// whitespace and SQL comments are skipped before matching the first
// keyword case-insensitively.
func Classify(statement string) models.Kind {
	s := stripLeading(statement)
	if s == "" {
		return models.KindUnknown
	}

	end := 0
	for end < len(s) {
		ch := s[end]
		if (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') {
			end++
			continue
		}
		break
	}

	keyword := strings.ToUpper(s[:end])
	switch {
	case keyword == "SELECT":
		return models.KindRead
	case writeKeywords[keyword]:
		return models.KindWrite
	default:
		return models.KindUnknown
	}
}

// IsWriteLike reports whether a kind must be routed to the manager
func IsWriteLike(kind models.Kind) bool {
	return kind == models.KindWrite || kind == models.KindUnknown
}

// stripLeading removes leading whitespace and SQL comments: "-- ..." and
// "# ..." to end of line, and "/* ... */" blocks. An unterminated block
// comment leaves nothing to classify.
func stripLeading(s string) string {
	for {
		s = strings.TrimLeft(s, " \t\r\n")

		switch {
		case strings.HasPrefix(s, "--"), strings.HasPrefix(s, "#"):
			idx := strings.IndexByte(s, '\n')
			if idx < 0 {
				return ""
			}
			s = s[idx+1:]

		case strings.HasPrefix(s, "/*"):
			idx := strings.Index(s, "*/")
			if idx < 0 {
				return ""
			}
			s = s[idx+2:]

		default:
			return s
		}
	}
}
