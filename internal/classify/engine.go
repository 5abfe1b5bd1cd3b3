package classify

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/regbridge/subtrack/internal/core/domain"
	"github.com/regbridge/subtrack/internal/metrics"
)

// Result is a typed classification outcome. Fallback marks the
// low-confidence keyword heuristic path (logged as a warning by callers,
// processing continues).
type Result struct {
	Category     string
	Severity     domain.Severity
	Confidence   float64
	MatchedRules []string
	Strategy     string
	Fallback     bool
}

// Engine evaluates rule families against unstructured payloads. Stateless
// per call; rules are loaded at startup and may be extended at runtime.
type Engine struct {
	mu       sync.RWMutex
	families map[string][]Rule
}

// NewEngine creates an engine preloaded with the built-in rule families.
func NewEngine() *Engine {
	e := &Engine{families: make(map[string][]Rule)}
	for _, r := range builtinRules() {
		// Built-in rules are known-good; compile cannot fail here.
		_ = e.AddRule(r)
	}
	return e
}

// AddRule compiles and registers a rule. Higher-priority rules win ties.
func (e *Engine) AddRule(r Rule) error {
	if err := r.compile(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	// Copy-on-write: Classify iterates its slice after releasing the read
	// lock, so the backing array it holds must never be mutated.
	old := e.families[r.Family]
	rules := make([]Rule, 0, len(old)+1)
	rules = append(rules, old...)
	rules = append(rules, r)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })
	e.families[r.Family] = rules
	return nil
}

// AddRules registers a batch, failing on the first bad rule.
func (e *Engine) AddRules(rules []Rule) error {
	for _, r := range rules {
		if err := e.AddRule(r); err != nil {
			return err
		}
	}
	return nil
}

// Classify scores every rule in the family against the payload. The
// highest-scoring rule at or above its threshold wins; ties break on
// declaration priority. With no match, the keyword fallback assigns a
// best-effort category at confidence 0.5.
func (e *Engine) Classify(family string, payload map[string]any) (Result, error) {
	e.mu.RLock()
	rules := e.families[family]
	e.mu.RUnlock()

	if len(rules) == 0 {
		return Result{}, fmt.Errorf("unknown rule family %q", family)
	}

	var best *Rule
	var bestScore float64
	var matched []string

	for i := range rules {
		r := &rules[i]
		score := e.score(r, payload)
		if score < r.Threshold {
			continue
		}
		matched = append(matched, r.ID)
		// Rules are pre-sorted by priority, so a strict > keeps the
		// higher-priority rule on equal scores.
		if best == nil || score > bestScore {
			best = r
			bestScore = score
		}
	}

	if best == nil {
		res := fallback(family, flatten(payload))
		metrics.Classifications.WithLabelValues(family, res.Category).Inc()
		metrics.ClassificationFallbacks.WithLabelValues(family).Inc()
		return res, nil
	}

	metrics.Classifications.WithLabelValues(family, best.Category).Inc()
	return Result{
		Category:     best.Category,
		Severity:     best.Severity,
		Confidence:   bestScore,
		MatchedRules: matched,
		Strategy:     best.Strategy,
	}, nil
}

// score is the weighted fraction of matching predicates.
func (e *Engine) score(r *Rule, payload map[string]any) float64 {
	var total, hit float64
	for i := range r.Predicates {
		p := &r.Predicates[i]
		total += p.Weight

		value, ok := lookupField(payload, p.Field)
		if !ok {
			continue
		}
		if p.matches(value) {
			hit += p.Weight
		}
	}
	if total == 0 {
		return 0
	}
	return hit / total
}

// lookupField resolves a dotted field path against nested maps.
func lookupField(payload map[string]any, path string) (string, bool) {
	parts := strings.Split(path, ".")
	var cur any = payload
	for _, part := range parts {
		m, ok := toMap(cur)
		if !ok {
			return "", false
		}
		cur, ok = m[part]
		if !ok {
			return "", false
		}
	}
	switch v := cur.(type) {
	case string:
		return v, true
	case nil:
		return "", false
	default:
		return fmt.Sprint(v), true
	}
}

func toMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		// yaml.v2 decodes nested maps this way.
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	}
	return nil, false
}

// flatten renders the payload as lowercase text for keyword heuristics.
func flatten(payload map[string]any) string {
	var sb strings.Builder
	flattenInto(&sb, payload)
	return strings.ToLower(sb.String())
}

func flattenInto(sb *strings.Builder, v any) {
	switch val := v.(type) {
	case map[string]any:
		for k, inner := range val {
			sb.WriteString(k)
			sb.WriteByte(' ')
			flattenInto(sb, inner)
		}
	case map[any]any:
		for k, inner := range val {
			fmt.Fprint(sb, k)
			sb.WriteByte(' ')
			flattenInto(sb, inner)
		}
	case []any:
		for _, inner := range val {
			flattenInto(sb, inner)
		}
	default:
		fmt.Fprint(sb, val)
		sb.WriteByte(' ')
	}
}
