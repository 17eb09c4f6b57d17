package router

import (
	"math/rand/v2"
	"strings"
	"unicode"

	"github.com/loqalabs/loqa-voice/internal/config"
)

// Tier names a generation backend class.
type Tier string

const (
	TierFast     Tier = "fast"
	TierBalanced Tier = "balanced"
	TierDeep     Tier = "deep"
)

// Decision is the routing result for one transcript. It is logged and
// never stored.
type Decision struct {
	Tier       Tier
	Confidence float64
	Reason     string
}

// Classifier maps transcript text to a tier. Implementations must be pure
// and must not block.
type Classifier interface {
	Classify(text string) Decision
	DefaultTier() Tier
}

// KeywordClassifier routes by configured keyword rules and query length.
// Rules are checked in order; the first rule with a matching word wins.
type KeywordClassifier struct {
	defaultTier    Tier
	longQueryWords int
	longQueryTier  Tier
	rules          []rule
	fillers        map[Tier][]string
	fillersOff     bool
	pick           func(n int) int
}

type rule struct {
	tier     Tier
	keywords map[string]struct{}
}

func NewKeywordClassifier(cfg config.RouterConfig) *KeywordClassifier {
	c := &KeywordClassifier{
		defaultTier:    Tier(cfg.DefaultTier),
		longQueryWords: cfg.LongQueryWords,
		longQueryTier:  Tier(cfg.LongQueryTier),
		fillers:        make(map[Tier][]string, len(cfg.Fillers)),
		fillersOff:     cfg.FillersDisabled,
		pick:           rand.IntN,
	}
	if c.defaultTier == "" {
		c.defaultTier = TierFast
	}
	for _, r := range cfg.Rules {
		kw := make(map[string]struct{}, len(r.Keywords))
		for _, k := range r.Keywords {
			kw[strings.ToLower(strings.TrimSpace(k))] = struct{}{}
		}
		c.rules = append(c.rules, rule{tier: Tier(r.Tier), keywords: kw})
	}
	for tier, phrases := range cfg.Fillers {
		c.fillers[Tier(tier)] = append([]string(nil), phrases...)
	}
	return c
}

func (c *KeywordClassifier) DefaultTier() Tier { return c.defaultTier }

func (c *KeywordClassifier) Classify(text string) Decision {
	words := Words(text)
	if len(words) == 0 {
		return Decision{Tier: c.defaultTier, Confidence: 1, Reason: "empty"}
	}
	for _, r := range c.rules {
		var hits int
		for _, w := range words {
			if _, ok := r.keywords[w]; ok {
				hits++
			}
		}
		if hits > 0 {
			conf := 0.6 + 0.1*float64(hits)
			if conf > 0.95 {
				conf = 0.95
			}
			return Decision{Tier: r.tier, Confidence: conf, Reason: "keyword"}
		}
	}
	if c.longQueryWords > 0 && len(words) >= c.longQueryWords && c.longQueryTier != "" {
		return Decision{Tier: c.longQueryTier, Confidence: 0.6, Reason: "length"}
	}
	return Decision{Tier: c.defaultTier, Confidence: 0.8, Reason: "default"}
}

// Filler returns a short phrase to mask latency for tier, or "" when the
// tier is the default one or has no phrases configured.
func (c *KeywordClassifier) Filler(tier Tier) string {
	if c.fillersOff || tier == c.defaultTier {
		return ""
	}
	phrases := c.fillers[tier]
	if len(phrases) == 0 {
		return ""
	}
	return phrases[c.pick(len(phrases))]
}

// Words lowercases text and splits it into letter/digit runs.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}
