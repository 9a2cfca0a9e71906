package image

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseIL assembles IL text, one instruction per line. Blank lines and
// text after "//" are ignored.
func ParseIL(text string) ([]Instruction, error) {
	var out []Instruction
	for n, line := range strings.Split(text, "\n") {
		line = stripComment(line)
		if line == "" {
			continue
		}
		ins, err := parseInstruction(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n+1, err)
		}
		out = append(out, ins)
	}
	return out, nil
}

// stripComment removes a trailing comment outside of string literals.
func stripComment(line string) string {
	inString := false
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '\\':
			if inString {
				i++
			}
		case '"':
			inString = !inString
		case '/':
			if !inString && i+1 < len(line) && line[i+1] == '/' {
				return strings.TrimSpace(line[:i])
			}
		}
	}
	return strings.TrimSpace(line)
}

func parseInstruction(line string) (Instruction, error) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	op := Op(name)

	kind, ok := opOperands[op]
	if !ok {
		return Instruction{}, fmt.Errorf("unknown opcode %q", name)
	}

	ins := Instruction{Op: op}
	switch kind {
	case operandNone:
		if arg != "" {
			return Instruction{}, fmt.Errorf("%s takes no operand", op)
		}
	case operandInt:
		v, err := strconv.ParseInt(arg, 0, 64)
		if err != nil {
			return Instruction{}, fmt.Errorf("%s: %w", op, err)
		}
		ins.Int = v
	case operandFloat:
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return Instruction{}, fmt.Errorf("%s: %w", op, err)
		}
		ins.Float = v
	case operandString:
		s, err := strconv.Unquote(arg)
		if err != nil {
			return Instruction{}, fmt.Errorf("%s: string literal %s: %w", op, arg, err)
		}
		ins.Str = s
	case operandMethod, operandField:
		if arg == "" {
			return Instruction{}, fmt.Errorf("%s requires a member reference", op)
		}
		ins.Str = arg
	}

	if err := ins.validate(); err != nil {
		return Instruction{}, err
	}
	return ins, nil
}

// FormatIL disassembles a method body into the text ParseIL reads.
func FormatIL(code []Instruction) string {
	var b strings.Builder
	for _, ins := range code {
		b.WriteString(ins.String())
		b.WriteByte('\n')
	}
	return b.String()
}
