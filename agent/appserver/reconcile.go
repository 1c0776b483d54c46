package appserver

import "strings"

// reconciler accumulates one turn's streamed text without duplicating or
// dropping any of it. Deltas arrive either as small token fragments, each
// carrying new content, or rarely as already-cumulative full-text snapshots.
type reconciler struct {
	buf strings.Builder
}

// Delta folds one incoming delta into the buffer and returns the text newly
// added by it. A delta that is a direct extension of the buffer so far is a
// cumulative snapshot and replaces the buffer; anything else is a fragment
// and is appended. Fragments carrying exactly one leading or one trailing
// newline are flattened before concatenation, because such deltas come from
// token-level boundaries that should render as continuous prose. A fragment
// with no newline, or more than one, is appended verbatim so intended
// paragraph breaks survive.
func (r *reconciler) Delta(delta string) string {
	current := r.buf.String()
	if current != "" && strings.HasPrefix(delta, current) {
		added := delta[len(current):]
		r.buf.Reset()
		r.buf.WriteString(delta)
		return added
	}

	fragment := flattenFragment(delta)
	r.buf.WriteString(fragment)
	return fragment
}

// Finalize reconciles the authoritative completed text against the buffer.
// The final text replaces the buffer rather than being appended after it;
// the return value is whatever the stream has not yet emitted, which is
// empty when the deltas already covered the full text.
func (r *reconciler) Finalize(final string) string {
	current := r.buf.String()
	r.buf.Reset()
	r.buf.WriteString(final)

	if len(final) > len(current) && strings.HasPrefix(final, current) {
		return final[len(current):]
	}
	return ""
}

// Text returns the reconciled text so far.
func (r *reconciler) Text() string {
	return r.buf.String()
}

// flattenFragment drops the newline from a fragment that carries exactly
// one, at its start or end. All other fragments pass through unchanged.
func flattenFragment(s string) string {
	if strings.Count(s, "\n") != 1 {
		return s
	}
	if strings.HasPrefix(s, "\n") {
		return s[1:]
	}
	if strings.HasSuffix(s, "\n") {
		return s[:len(s)-1]
	}
	return s
}
