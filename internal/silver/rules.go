package silver

import (
	"fmt"

	"github.com/lakeline/lakeline/internal/config"
	pipelineerrors "github.com/lakeline/lakeline/internal/errors"
	"github.com/lakeline/lakeline/pkg/types"
)

// Severity is the outcome tier of a quality rule violation.
type Severity string

const (
	// SeverityWarn records the violation and keeps the row.
	SeverityWarn Severity = "warn"
	// SeverityDrop discards the row and continues.
	SeverityDrop Severity = "drop"
	// SeverityFail halts the run; the checkpoint does not advance.
	SeverityFail Severity = "fail"
)

// ParseSeverity validates a severity string from configuration.
func ParseSeverity(s string) (Severity, error) {
	switch Severity(s) {
	case SeverityWarn, SeverityDrop, SeverityFail:
		return Severity(s), nil
	default:
		return "", fmt.Errorf("silver: unknown rule severity %q", s)
	}
}

// Rule is a single data-quality predicate evaluated against each exploded row.
// Check returns true when the row passes.
type Rule struct {
	Name     string
	Severity Severity
	Check    func(row *types.SilverRow) bool
}

// Verdict is the gate's decision for one row.
type Verdict struct {
	Keep bool
	// Warnings lists warn-severity rules the row violated but survived.
	Warnings []string
	// DroppedBy is the drop-severity rule that discarded the row, if any.
	DroppedBy string
}

// Gate evaluates all configured rules against a row in declaration order.
type Gate struct {
	rules []Rule
}

// defaultRules builds the standard rule set. skuIndex may be nil, which
// disables the known-SKU check (an empty allow list would otherwise drop
// every row).
func defaultRules(skuIndex map[string]struct{}) []Rule {
	rules := []Rule{
		{
			Name:     "order_id_present",
			Severity: SeverityFail,
			Check:    func(row *types.SilverRow) bool { return row.OrderID != "" },
		},
		{
			Name:     "quantity_positive",
			Severity: SeverityDrop,
			Check:    func(row *types.SilverRow) bool { return row.Quantity > 0 },
		},
		{
			Name:     "unit_price_positive",
			Severity: SeverityDrop,
			Check:    func(row *types.SilverRow) bool { return row.UnitPrice > 0 },
		},
		{
			Name:     "note_present",
			Severity: SeverityWarn,
			Check:    func(row *types.SilverRow) bool { return row.Note != "" },
		},
	}
	if skuIndex != nil {
		rules = append(rules, Rule{
			Name:     "sku_known",
			Severity: SeverityDrop,
			Check: func(row *types.SilverRow) bool {
				_, ok := skuIndex[row.SKU]
				return ok
			},
		})
	}
	return rules
}

// NewGate builds a gate from the standard rules, applying any severity
// overrides from configuration. Overrides referencing unknown rule names are
// rejected so that a typo in config surfaces at startup instead of silently
// leaving the default severity in place.
func NewGate(cfg config.SilverConfig) (*Gate, error) {
	var skuIndex map[string]struct{}
	if len(cfg.ValidSKUs) > 0 {
		skuIndex = make(map[string]struct{}, len(cfg.ValidSKUs))
		for _, sku := range cfg.ValidSKUs {
			skuIndex[sku] = struct{}{}
		}
	}

	rules := defaultRules(skuIndex)
	byName := make(map[string]int, len(rules))
	for i, r := range rules {
		byName[r.Name] = i
	}
	for _, override := range cfg.Rules {
		idx, ok := byName[override.Name]
		if !ok {
			return nil, fmt.Errorf("silver: rule override names unknown rule %q", override.Name)
		}
		sev, err := ParseSeverity(override.Severity)
		if err != nil {
			return nil, err
		}
		rules[idx].Severity = sev
	}
	return &Gate{rules: rules}, nil
}

// Evaluate runs every rule against the row. Fail-severity violations return
// a non-nil error and the whole batch must be abandoned. Drop short-circuits
// the remaining rules; warnings accumulate.
func (g *Gate) Evaluate(row *types.SilverRow) (Verdict, error) {
	verdict := Verdict{Keep: true}
	for _, rule := range g.rules {
		if rule.Check(row) {
			continue
		}
		switch rule.Severity {
		case SeverityWarn:
			verdict.Warnings = append(verdict.Warnings, rule.Name)
		case SeverityDrop:
			verdict.Keep = false
			verdict.DroppedBy = rule.Name
			return verdict, nil
		case SeverityFail:
			return Verdict{}, pipelineerrors.NewQualityError(
				pipelineerrors.CodeGateFailure,
				fmt.Sprintf("rule %s violated by stream=%s sequence=%d item=%d", rule.Name, row.StreamID, row.Sequence, row.ItemIndex),
			)
		}
	}
	return verdict, nil
}
