package native

import (
	"regexp"
	"strings"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/clr-embed/errors"
)

// Signature is the WIT type of one exported function.
type Signature struct {
	Name    string
	Params  []wit.Type
	Results []wit.Type
}

var funcPattern = regexp.MustCompile(`(?:export\s+)?([a-zA-Z_][a-zA-Z0-9_-]*)\s*:\s*func\s*\(([^)]*)\)(?:\s*->\s*([^;]+))?`)

// ParseSignatures extracts function signatures from WIT text of the form
// "name: func(a: s32, b: s32) -> s32;".
func ParseSignatures(witText string) ([]Signature, error) {
	var sigs []Signature
	for _, match := range funcPattern.FindAllStringSubmatch(witText, -1) {
		sig := Signature{Name: match[1]}

		if params := strings.TrimSpace(match[2]); params != "" {
			for _, p := range splitParams(params) {
				typStr := p
				if idx := strings.LastIndex(p, ":"); idx != -1 {
					typStr = p[idx+1:]
				}
				t, err := parseType(typStr)
				if err != nil {
					return nil, errors.Wrap(errors.PhaseHost, errors.KindInvalidInput, err, "parse param type "+typStr)
				}
				sig.Params = append(sig.Params, t)
			}
		}

		result := strings.TrimSpace(match[3])
		if result != "" && result != "()" {
			inner := result
			if strings.HasPrefix(result, "(") && strings.HasSuffix(result, ")") {
				inner = result[1 : len(result)-1]
			}
			for _, part := range splitParams(inner) {
				t, err := parseType(part)
				if err != nil {
					return nil, errors.Wrap(errors.PhaseHost, errors.KindInvalidInput, err, "parse result type "+part)
				}
				sig.Results = append(sig.Results, t)
			}
		}
		sigs = append(sigs, sig)
	}

	if len(sigs) == 0 {
		return nil, errors.InvalidInput(errors.PhaseHost, "no functions found in WIT text")
	}
	return sigs, nil
}

// splitParams splits a parameter list at top-level commas.
func splitParams(s string) []string {
	var result []string
	var current strings.Builder
	depth := 0

	for _, ch := range s {
		switch ch {
		case '(', '<':
			depth++
			current.WriteRune(ch)
		case ')', '>':
			depth--
			current.WriteRune(ch)
		case ',':
			if depth == 0 {
				if str := strings.TrimSpace(current.String()); str != "" {
					result = append(result, str)
				}
				current.Reset()
			} else {
				current.WriteRune(ch)
			}
		default:
			current.WriteRune(ch)
		}
	}

	if str := strings.TrimSpace(current.String()); str != "" {
		result = append(result, str)
	}
	return result
}

func parseType(s string) (wit.Type, error) {
	return wit.ParseType(strings.TrimSpace(s))
}

// MethodName converts a kebab-case export name to the managed method
// name: "get-value" becomes "GetValue".
func MethodName(export string) string {
	var b strings.Builder
	upper := true
	for _, r := range export {
		switch {
		case r == '-' || r == '_':
			upper = true
		case upper:
			b.WriteString(strings.ToUpper(string(r)))
			upper = false
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
