package expressions

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ConditionEvaluator evaluates routing conditions against execution state.
// Conditions may contain {{...}} template references, which are resolved to
// literal values before the expression is compiled. A malformed condition
// never fails a step; it evaluates to false so routing takes the else branch.
// Thread-safe: compiled *vm.Program objects are cached and reused.
type ConditionEvaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewConditionEvaluator creates a new evaluator with an empty program cache.
func NewConditionEvaluator() *ConditionEvaluator {
	return &ConditionEvaluator{cache: make(map[string]*vm.Program)}
}

// Evaluate returns the truth value of condition in the given scope. An empty
// condition is true. Unresolvable references, compile errors and runtime
// errors all evaluate to false.
func (e *ConditionEvaluator) Evaluate(condition string, scope map[string]any) bool {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return true
	}

	// A condition that is exactly one template token is resolved directly.
	if inner, ok := fullTemplate(condition); ok {
		path, def := splitDefault(inner)
		val, found := lookupPath(scope, path)
		if !found {
			if def == "" {
				return false
			}
			val = parseDefaultLiteral(def)
		}
		return truthy(val)
	}

	rendered := e.renderTemplates(condition, scope)

	prg, err := e.getOrCompile(rendered, scope)
	if err != nil {
		return false
	}
	env := scope
	if env == nil {
		env = map[string]any{}
	}
	out, err := vm.Run(prg, env)
	if err != nil {
		return false
	}
	return truthy(out)
}

// renderTemplates replaces every {{...}} token with the referenced value
// spliced into the expression as a literal.
func (e *ConditionEvaluator) renderTemplates(condition string, scope map[string]any) string {
	if !strings.Contains(condition, "{{") {
		return condition
	}
	var b strings.Builder
	b.Grow(len(condition))
	rest := condition
	for {
		idx := strings.Index(rest, "{{")
		if idx == -1 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[idx:], "}}")
		if end == -1 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:idx])
		inner := strings.TrimSpace(rest[idx+2 : idx+end])
		path, def := splitDefault(inner)
		val, found := lookupPath(scope, path)
		if !found {
			if def != "" {
				val = parseDefaultLiteral(def)
			} else {
				val = nil
			}
		}
		b.WriteString(exprLiteral(val))
		rest = rest[idx+end+2:]
	}
	return b.String()
}

// exprLiteral renders a value as an expr source literal.
func exprLiteral(val any) string {
	if val == nil {
		return "nil"
	}
	b, err := json.Marshal(val)
	if err != nil {
		return "nil"
	}
	return string(b)
}

func (e *ConditionEvaluator) getOrCompile(expression string, env map[string]any) (*vm.Program, error) {
	e.mu.RLock()
	if prg, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	if env == nil {
		env = map[string]any{}
	}
	prg, err := expr.Compile(expression,
		expr.Env(env),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, err
	}
	e.cache[expression] = prg
	return prg, nil
}

// truthy mirrors the loose truthiness routing conditions rely on.
func truthy(val any) bool {
	switch v := val.(type) {
	case bool:
		return v
	case nil:
		return false
	case string:
		return v != ""
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	case map[string]any:
		return len(v) > 0
	case []any:
		return len(v) > 0
	default:
		return true
	}
}
