package engine

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/triage-ai/comply/internal/policy"
)

// predicateHolds evaluates one parameter predicate against an argument value.
// Coercion failures (non-numeric input to a numeric operator) make the
// predicate false rather than raising, per the check evaluator contract.
func predicateHolds(pred policy.ParamPredicate, actual any) bool {
	switch pred.Operator {
	case policy.OpEQ:
		return looselyEqual(actual, pred.Value)
	case policy.OpGT:
		a, b, ok := bothNumeric(actual, pred.Value)
		return ok && a > b
	case policy.OpGTE:
		a, b, ok := bothNumeric(actual, pred.Value)
		return ok && a >= b
	case policy.OpLT:
		a, b, ok := bothNumeric(actual, pred.Value)
		return ok && a < b
	case policy.OpLTE:
		a, b, ok := bothNumeric(actual, pred.Value)
		return ok && a <= b
	case policy.OpContains:
		return containsValue(actual, pred.Value)
	default:
		return false
	}
}

// looselyEqual compares numerically when both sides coerce to float64,
// otherwise falls back to deep equality on the decoded JSON values.
func looselyEqual(actual, expected any) bool {
	if actual == nil && expected == nil {
		return true
	}
	if a, aok := toFloat(actual); aok {
		if b, bok := toFloat(expected); bok {
			return a == b
		}
	}
	if reflect.DeepEqual(actual, expected) {
		return true
	}
	// String-form comparison catches string vs fmt.Stringer-ish mismatches.
	as, aok := actual.(string)
	bs, bok := expected.(string)
	return aok && bok && as == bs
}

// containsValue implements substring match for strings and membership for
// JSON arrays.
func containsValue(actual, expected any) bool {
	switch a := actual.(type) {
	case string:
		return strings.Contains(a, fmt.Sprint(expected))
	case []any:
		for _, elem := range a {
			if looselyEqual(elem, expected) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// bothNumeric coerces both sides to float64, reporting whether it succeeded.
func bothNumeric(actual, expected any) (float64, float64, bool) {
	a, aok := toFloat(actual)
	b, bok := toFloat(expected)
	return a, b, aok && bok
}

// toFloat coerces JSON-decoded scalars (and numeric strings) to float64.
func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
