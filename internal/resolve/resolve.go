// Package resolve splices a reviewer's resolution back into transcript text.
package resolve

import (
	"errors"
	"strings"
)

// ErrSnippetNotFound means nothing was replaced: the snippet no longer occurs in the
// text, usually because it was already resolved or the text changed after the
// conflict was flagged. The text is returned unchanged; callers log it and carry on.
var ErrSnippetNotFound = errors.New("snippet not found in text")

// Apply replaces every exact occurrence of snippet in text with replacement, or
// deletes them when replacement is nil.
//
// Applying the same resolution twice changes nothing the second time. When the
// replacement itself quotes the snippet ("Deploy Friday." resolved as "Deploy
// Friday. Confirmed by ops."), occurrences already inside the replacement are left
// alone.
func Apply(text, snippet string, replacement *string) (string, error) {
	if snippet == "" || !strings.Contains(text, snippet) {
		return text, ErrSnippetNotFound
	}
	with := ""
	if replacement != nil {
		with = *replacement
	}
	if with == snippet {
		return text, nil
	}
	if !strings.Contains(with, snippet) {
		return strings.ReplaceAll(text, snippet, with), nil
	}

	var sb strings.Builder
	replaced := false
	for i := 0; i < len(text); {
		switch {
		case strings.HasPrefix(text[i:], with):
			sb.WriteString(with)
			i += len(with)
		case strings.HasPrefix(text[i:], snippet):
			sb.WriteString(with)
			i += len(snippet)
			replaced = true
		default:
			sb.WriteByte(text[i])
			i++
		}
	}
	if !replaced {
		return text, ErrSnippetNotFound
	}
	return sb.String(), nil
}
