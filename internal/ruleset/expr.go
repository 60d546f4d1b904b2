// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ruleset

import (
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/oschwald/geoip2-golang"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"gopkg.in/yaml.v3"

	"grimm.is/glasswall/internal/analyzer"
	"grimm.is/glasswall/internal/errors"
	"grimm.is/glasswall/internal/modifier"
)

// ExprRule is one rule entry as it appears in the rule file.
type ExprRule struct {
	Name     string         `yaml:"name"`
	Action   string         `yaml:"action"`
	Log      bool           `yaml:"log"`
	Modifier *ModifierEntry `yaml:"modifier"`
	Expr     string         `yaml:"expr"`
}

// ModifierEntry names a modifier and its arguments.
type ModifierEntry struct {
	Name string         `yaml:"name"`
	Args map[string]any `yaml:"args"`
}

// ExprRulesFromYAML loads rule entries from a YAML file.
func ExprRulesFromYAML(path string) ([]ExprRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindNotFound, "read rule file %s", path)
	}
	var rules []ExprRule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, errors.Wrapf(err, errors.KindValidation, "parse rule file %s", path)
	}
	return rules, nil
}

// CompileOptions supplies the environment rules compile against.
type CompileOptions struct {
	// Analyzers is the set of registered analyzers rules may reference.
	Analyzers []analyzer.Analyzer
	// Modifiers is the set of registered modifiers.
	Modifiers []modifier.Modifier
	// Logger receives match and error events. Optional.
	Logger Logger
	// GeoIP backs the geoip() helper. Optional.
	GeoIP *geoip2.Reader
}

// builtinVars are the names every rule environment provides.
var builtinVars = map[string]bool{
	"id":    true,
	"proto": true,
	"ip":    true,
	"port":  true,
}

var actionNames = map[string]Action{
	"maybe":  ActionMaybe,
	"allow":  ActionAllow,
	"block":  ActionBlock,
	"drop":   ActionDrop,
	"modify": ActionModify,
}

type compiledExprRule struct {
	name        string
	action      Action
	hasAction   bool
	log         bool
	modInstance modifier.Instance
	expr        hcl.Expression
}

type exprRuleset struct {
	rules     []compiledExprRule
	analyzers []analyzer.Analyzer
	logger    Logger
	funcs     map[string]function.Function
}

type nopRulesetLogger struct{}

func (nopRulesetLogger) Log(info *StreamInfo, name string) {}
func (nopRulesetLogger) MatchError(info *StreamInfo, name string, err error) {}

// CompileExprRules compiles rule entries into an immutable ruleset and
// computes the set of analyzers the rules actually reference. Any invalid
// entry fails the whole compilation.
func CompileExprRules(rules []ExprRule, opts *CompileOptions) (Ruleset, error) {
	analyzersByName := make(map[string]analyzer.Analyzer, len(opts.Analyzers))
	for _, a := range opts.Analyzers {
		analyzersByName[a.Name()] = a
	}
	modifiersByName := make(map[string]modifier.Modifier, len(opts.Modifiers))
	for _, m := range opts.Modifiers {
		modifiersByName[m.Name()] = m
	}

	logger := opts.Logger
	if logger == nil {
		logger = nopRulesetLogger{}
	}
	rs := &exprRuleset{
		logger: logger,
		funcs:  builtinFunctions(opts.GeoIP),
	}
	required := make(map[string]bool)

	for _, r := range rules {
		if r.Action == "" && !r.Log {
			return nil, errors.Errorf(errors.KindValidation, "rule %q must have at least one of action, log", r.Name)
		}
		c := compiledExprRule{name: r.Name, log: r.Log}
		if r.Action != "" {
			action, ok := actionNames[strings.ToLower(r.Action)]
			if !ok {
				return nil, errors.Errorf(errors.KindValidation, "rule %q: invalid action %q", r.Name, r.Action)
			}
			c.action = action
			c.hasAction = true
		}

		expr, diags := hclsyntax.ParseExpression([]byte(r.Expr), "rule:"+r.Name, hcl.Pos{Line: 1, Column: 1})
		if diags.HasErrors() {
			return nil, errors.Wrapf(diags, errors.KindValidation, "rule %q: invalid expression", r.Name)
		}
		c.expr = expr

		for _, trav := range expr.Variables() {
			root := trav.RootName()
			if builtinVars[root] {
				continue
			}
			a, ok := analyzersByName[root]
			if !ok {
				return nil, errors.Errorf(errors.KindValidation, "rule %q: unknown identifier %q", r.Name, root)
			}
			if !required[root] {
				required[root] = true
				rs.analyzers = append(rs.analyzers, a)
			}
		}

		if c.hasAction && c.action == ActionModify {
			if r.Modifier == nil {
				return nil, errors.Errorf(errors.KindValidation, "rule %q: action modify requires a modifier", r.Name)
			}
			mod, ok := modifiersByName[r.Modifier.Name]
			if !ok {
				return nil, errors.Errorf(errors.KindValidation, "rule %q: unknown modifier %q", r.Name, r.Modifier.Name)
			}
			inst, err := mod.New(r.Modifier.Args)
			if err != nil {
				return nil, errors.Wrapf(err, errors.KindValidation, "rule %q: modifier %q", r.Name, r.Modifier.Name)
			}
			c.modInstance = inst
		}

		rs.rules = append(rs.rules, c)
	}
	return rs, nil
}

func (r *exprRuleset) Analyzers() []analyzer.Analyzer {
	return r.analyzers
}

func (r *exprRuleset) Match(info *StreamInfo) MatchResult {
	ctx := &hcl.EvalContext{
		Variables: r.streamVars(info),
		Functions: r.funcs,
	}
	for _, rule := range r.rules {
		v, diags := rule.expr.Value(ctx)
		if diags.HasErrors() {
			r.logger.MatchError(info, rule.name, diags)
			continue
		}
		// Non-boolean results are false.
		if v.IsNull() || !v.IsKnown() || !v.Type().Equals(cty.Bool) || v.False() {
			continue
		}
		if rule.log {
			r.logger.Log(info, rule.name)
		}
		if rule.hasAction {
			return MatchResult{Action: rule.action, ModInstance: rule.modInstance}
		}
	}
	return MatchResult{Action: ActionMaybe}
}

// streamVars builds the environment snapshot for one evaluation: the flow
// identity builtins plus the tree of every analyzer the rules reference
// (null when the analyzer has produced nothing).
func (r *exprRuleset) streamVars(info *StreamInfo) map[string]cty.Value {
	vars := map[string]cty.Value{
		"id":    cty.NumberIntVal(info.ID),
		"proto": cty.StringVal(info.Protocol.String()),
		"ip": cty.ObjectVal(map[string]cty.Value{
			"src": cty.StringVal(info.SrcIP.String()),
			"dst": cty.StringVal(info.DstIP.String()),
		}),
		"port": cty.ObjectVal(map[string]cty.Value{
			"src": cty.NumberIntVal(int64(info.SrcPort)),
			"dst": cty.NumberIntVal(int64(info.DstPort)),
		}),
	}
	for _, a := range r.analyzers {
		name := a.Name()
		if m := info.Props[name]; len(m) > 0 {
			vars[name] = propToCty(m)
		} else {
			vars[name] = cty.NullVal(cty.DynamicPseudoType)
		}
	}
	return vars
}

// propToCty converts a JSON-shaped property value to its cty equivalent.
func propToCty(v any) cty.Value {
	switch v := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType)
	case bool:
		return cty.BoolVal(v)
	case string:
		return cty.StringVal(v)
	case int:
		return cty.NumberIntVal(int64(v))
	case int64:
		return cty.NumberIntVal(v)
	case uint16:
		return cty.NumberIntVal(int64(v))
	case uint32:
		return cty.NumberIntVal(int64(v))
	case float32:
		return cty.NumberFloatVal(float64(v))
	case float64:
		return cty.NumberFloatVal(v)
	case []any:
		if len(v) == 0 {
			return cty.EmptyTupleVal
		}
		vals := make([]cty.Value, len(v))
		for i, e := range v {
			vals[i] = propToCty(e)
		}
		return cty.TupleVal(vals)
	case map[string]any:
		if len(v) == 0 {
			return cty.EmptyObjectVal
		}
		vals := make(map[string]cty.Value, len(v))
		for k, e := range v {
			vals[k] = propToCty(e)
		}
		return cty.ObjectVal(vals)
	default:
		return cty.NullVal(cty.DynamicPseudoType)
	}
}
