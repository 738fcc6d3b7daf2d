package events

import "github.com/noah-isme/backend-recargo/internal/reconcile"

// DefaultTopicPrefix namespaces reconciliation outcome topics.
const DefaultTopicPrefix = "recargo"

// Topic suffixes for reconciliation outcomes.
const (
	SuffixApplied = "applied"
	SuffixPartial = "partial"
	SuffixFailed  = "failed"
)

// TopicFor maps a result status to its topic. Skipped and rejected results
// are not published.
func TopicFor(prefix string, status reconcile.Status) (string, bool) {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	switch status {
	case reconcile.StatusApplied:
		return prefix + "." + SuffixApplied, true
	case reconcile.StatusPartial:
		return prefix + "." + SuffixPartial, true
	case reconcile.StatusFailed:
		return prefix + "." + SuffixFailed, true
	default:
		return "", false
	}
}

// DefaultTopics returns every topic the publisher may write to.
func DefaultTopics(prefix string) []string {
	out := make([]string, 0, 3)
	for _, s := range []reconcile.Status{reconcile.StatusApplied, reconcile.StatusPartial, reconcile.StatusFailed} {
		topic, _ := TopicFor(prefix, s)
		out = append(out, topic)
	}
	return out
}
