package classify

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/regbridge/subtrack/internal/core/domain"
)

// Rule families.
const (
	FamilyAck   = "acknowledgment"
	FamilyError = "error"
)

// Acknowledgment categories.
const (
	AckReceipt    = "receipt"
	AckAcceptance = "acceptance"
	AckRejection  = "rejection"
	AckValidation = "validation"
	AckError      = "error"
)

// Error categories.
const (
	ErrValidation = "validation"
	ErrNetwork    = "network"
	ErrAuth       = "auth"
	ErrRateLimit  = "rate_limit"
	ErrSystem     = "system"
)

type MatchOp string

const (
	OpEquals   MatchOp = "equals"
	OpContains MatchOp = "contains"
	OpPrefix   MatchOp = "prefix"
	OpRegex    MatchOp = "regex"
)

// Predicate matches one payload field. A predicate whose field is absent
// contributes zero to the rule score.
type Predicate struct {
	Field  string  `yaml:"field"`
	Op     MatchOp `yaml:"op"`
	Value  string  `yaml:"value"`
	Weight float64 `yaml:"weight"`

	re *regexp.Regexp
}

// Rule is an immutable declarative matcher evaluated by the engine.
type Rule struct {
	ID         string          `yaml:"id"`
	Family     string          `yaml:"family"`
	Priority   int             `yaml:"priority"`
	Category   string          `yaml:"category"`
	Severity   domain.Severity `yaml:"severity"`
	Threshold  float64         `yaml:"threshold"`
	Strategy   string          `yaml:"strategy"`
	Predicates []Predicate     `yaml:"predicates"`
}

// compile validates the rule and precompiles regex predicates.
func (r *Rule) compile() error {
	if r.ID == "" {
		return fmt.Errorf("rule without id")
	}
	if r.Family == "" || r.Category == "" {
		return fmt.Errorf("rule %s: family and category are required", r.ID)
	}
	if r.Threshold <= 0 || r.Threshold > 1 {
		return fmt.Errorf("rule %s: threshold must be in (0, 1]", r.ID)
	}
	if len(r.Predicates) == 0 {
		return fmt.Errorf("rule %s: at least one predicate required", r.ID)
	}
	for i := range r.Predicates {
		p := &r.Predicates[i]
		if p.Weight <= 0 {
			p.Weight = 1
		}
		switch p.Op {
		case OpEquals, OpContains, OpPrefix:
		case OpRegex:
			re, err := regexp.Compile(p.Value)
			if err != nil {
				return fmt.Errorf("rule %s: bad regex %q: %w", r.ID, p.Value, err)
			}
			p.re = re
		default:
			return fmt.Errorf("rule %s: unknown op %q", r.ID, p.Op)
		}
	}
	return nil
}

func (p *Predicate) matches(value string) bool {
	switch p.Op {
	case OpEquals:
		return strings.EqualFold(value, p.Value)
	case OpContains:
		return strings.Contains(strings.ToLower(value), strings.ToLower(p.Value))
	case OpPrefix:
		return strings.HasPrefix(strings.ToLower(value), strings.ToLower(p.Value))
	case OpRegex:
		return p.re != nil && p.re.MatchString(value)
	}
	return false
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadDir reads every *.yaml rule file in dir. Rules merge over whatever the
// engine already holds.
func LoadDir(dir string) ([]Rule, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules dir: %w", err)
	}

	var rules []Rule
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read rule file %s: %w", entry.Name(), err)
		}

		var rf ruleFile
		if err := yaml.Unmarshal(data, &rf); err != nil {
			return nil, fmt.Errorf("failed to parse rule file %s: %w", entry.Name(), err)
		}
		rules = append(rules, rf.Rules...)
	}
	return rules, nil
}
