package logql

import (
	"strings"
)

// Record is implemented by anything a query can be evaluated against.
// This decouples logql from the storage model.
type Record interface {
	// Field returns the text form of a named field, "" when absent.
	Field(key string) string
	// Number returns a numeric field; ok is false when absent or non-numeric.
	Number(key string) (v float64, ok bool)
	// Text returns every field searched by full-text terms.
	Text() []string
}

// TextFields are matched by substring on key:value rather than equality.
var TextFields = map[string]bool{
	"content":        true,
	"message":        true,
	"msg":            true,
	"event_template": true,
	"template":       true,
}

// Match evaluates the AST node against a record.
func Match(node Node, rec Record) bool {
	if node == nil {
		return true
	}

	switch n := node.(type) {
	case BinaryExpr:
		return evalBinary(n, rec)
	case MatchExpr:
		return evalMatch(n, rec)
	case CompareExpr:
		return evalCompare(n, rec)
	case NotExpr:
		return !Match(n.Expr, rec)
	default:
		return false
	}
}

func evalBinary(expr BinaryExpr, rec Record) bool {
	switch expr.Op {
	case "AND":
		return Match(expr.Left, rec) && Match(expr.Right, rec)
	case "OR":
		return Match(expr.Left, rec) || Match(expr.Right, rec)
	default:
		return false
	}
}

func evalMatch(expr MatchExpr, rec Record) bool {
	if expr.Key == "" {
		return matchFullText(expr.Value, rec)
	}

	key := strings.ToLower(expr.Key)
	fieldValue := rec.Field(key)

	var hit bool
	if TextFields[key] || expr.Op == "CONTAINS" {
		hit = containsIgnoreCase(fieldValue, expr.Value)
	} else {
		hit = strings.EqualFold(fieldValue, expr.Value)
	}
	if expr.Op == "!=" {
		return !hit
	}
	return hit
}

func evalCompare(expr CompareExpr, rec Record) bool {
	v, ok := rec.Number(strings.ToLower(expr.Key))
	if !ok {
		return false
	}
	switch expr.Op {
	case ">":
		return v > expr.Value
	case ">=":
		return v >= expr.Value
	case "<":
		return v < expr.Value
	case "<=":
		return v <= expr.Value
	default:
		return false
	}
}

func containsIgnoreCase(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func matchFullText(query string, rec Record) bool {
	for _, f := range rec.Text() {
		if containsIgnoreCase(f, query) {
			return true
		}
	}
	return false
}
