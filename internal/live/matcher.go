package live

import (
	"live_commerce/internal/catalog"
	"live_commerce/internal/model"
)

// MatchRule names the rule that produced a match.
type MatchRule string

const (
	RulePinPriority MatchRule = "pin-priority"
	RuleCatalogScan MatchRule = "catalog-scan"
)

// MatchEvent is transient; the order creator consumes it right away.
type MatchEvent struct {
	Comment *model.Comment
	Code    string
	Rule    MatchRule
}

// Match applies pin-priority then catalog-scan and yields at most one event.
// A comment that names several codes expresses intent for one item only: the
// pinned one if present, else the leftmost known code.
func Match(c *model.Comment, pin *model.PinnedCode, snap *catalog.Snapshot) (MatchEvent, bool) {
	tokens := catalog.Tokenize(c.NormalizedText)
	if len(tokens) == 0 {
		tokens = catalog.Tokenize(c.RawText)
	}
	if len(tokens) == 0 {
		return MatchEvent{}, false
	}

	if pin != nil {
		pinKey := catalog.Key(pin.Code)
		for _, t := range tokens {
			if t == pinKey {
				return MatchEvent{Comment: c, Code: pin.Code, Rule: RulePinPriority}, true
			}
		}
	}

	for _, t := range tokens {
		if item, ok := snap.LookupToken(t); ok {
			return MatchEvent{Comment: c, Code: item.Code, Rule: RuleCatalogScan}, true
		}
	}
	return MatchEvent{}, false
}
