package agent

import (
	"sort"
	"strings"

	"github.com/zabbar/zabbar/internal/models"
)

// Signature computes a deterministic, order-independent fingerprint of the
// filtered alert set plus the active filter. It gates re-summarization: two
// fetches with the same signature never trigger a second summarization call.
//
// The fingerprint is built from alert titles, not event identities. A resolved
// problem that recurs gets a fresh event id but the same title, and a
// near-identical summary would be a wasted call. The flip side is accepted:
// a genuinely new occurrence with an identical title is invisible here.
func Signature(alerts []models.Alert, filter models.SeveritySet) string {
	seen := make(map[string]struct{}, len(alerts))
	titles := make([]string, 0, len(alerts))
	for _, a := range alerts {
		if !filter.Contains(a.Severity) {
			continue
		}
		// Escape the escape character before the join delimiter so titles
		// can never collide with either.
		title := strings.ReplaceAll(a.Title, `\`, `\\`)
		title = strings.ReplaceAll(title, "|", `\|`)
		if _, ok := seen[title]; ok {
			continue
		}
		seen[title] = struct{}{}
		titles = append(titles, title)
	}
	sort.Strings(titles)

	return strings.Join(titles, "|") + "|" + filter.String()
}
