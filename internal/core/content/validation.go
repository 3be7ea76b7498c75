package content

import (
	"net/url"
	"strings"
	"unicode/utf8"
)

const (
	maxPostLength    = 30000
	maxCommentLength = 10000
)

// validateDraft checks a draft against the rules for its kind before any
// network call, so obviously bad input never costs a round-trip.
func validateDraft(kind Kind, draft Item) error {
	if strings.TrimSpace(draft.Body) == "" {
		return NewValidationError("body", "body is required")
	}

	limit := maxCommentLength
	if kind == KindPost {
		limit = maxPostLength
	}
	if utf8.RuneCountInString(draft.Body) > limit {
		return NewValidationError("body", "body exceeds maximum length")
	}

	if draft.Attachment != "" {
		u, err := url.Parse(draft.Attachment)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return NewValidationError("attachment", "attachment must be an http(s) URL")
		}
	}

	// Polls are only valid on posts.
	if len(draft.Options) > 0 && kind != KindPost {
		return NewValidationError("options", "only posts may carry poll options")
	}

	return nil
}
