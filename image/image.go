package image

import (
	"fmt"
	"strconv"
	"strings"
)

// Well-known type names.
const (
	TypeObject = "System.Object"
	TypeVoid   = "System.Void"
	TypeString = "System.String"
)

// ClassKind names the flavor of a type definition.
type ClassKind string

const (
	KindClass     ClassKind = "class"
	KindStruct    ClassKind = "struct"
	KindInterface ClassKind = "interface"
	KindEnum      ClassKind = "enum"
	KindDelegate  ClassKind = "delegate"
)

// Image is the metadata of one assembly.
type Image struct {
	Name     string     `cbor:"name" toml:"name"`
	TypeRefs []string   `cbor:"typerefs,omitempty" toml:"typerefs,omitempty"`
	Classes  []ClassDef `cbor:"classes,omitempty" toml:"class,omitempty"`
}

// ClassDef is a type definition row.
type ClassDef struct {
	Namespace  string         `cbor:"ns,omitempty" toml:"namespace,omitempty"`
	Name       string         `cbor:"name" toml:"name"`
	Kind       ClassKind      `cbor:"kind,omitempty" toml:"kind,omitempty"`
	Parent     string         `cbor:"parent,omitempty" toml:"parent,omitempty"`
	Interfaces []string       `cbor:"ifaces,omitempty" toml:"interfaces,omitempty"`
	Fields     []FieldDef     `cbor:"fields,omitempty" toml:"field,omitempty"`
	Methods    []MethodDef    `cbor:"methods,omitempty" toml:"method,omitempty"`
	Properties []PropertyDef  `cbor:"props,omitempty" toml:"property,omitempty"`
	Attributes []AttributeDef `cbor:"attrs,omitempty" toml:"attribute,omitempty"`
}

// FullName returns Namespace.Name, or Name in the global namespace.
func (c *ClassDef) FullName() string {
	return JoinName(c.Namespace, c.Name)
}

// FieldDef is a field row.
type FieldDef struct {
	Name   string `cbor:"name" toml:"name"`
	Type   string `cbor:"type" toml:"type"`
	Static bool   `cbor:"static,omitempty" toml:"static,omitempty"`
}

// MethodDef is a method row.
type MethodDef struct {
	Name         string         `cbor:"name" toml:"name"`
	Params       []string       `cbor:"params,omitempty" toml:"params,omitempty"`
	Return       string         `cbor:"ret,omitempty" toml:"return,omitempty"`
	Static       bool           `cbor:"static,omitempty" toml:"static,omitempty"`
	Virtual      bool           `cbor:"virtual,omitempty" toml:"virtual,omitempty"`
	InternalCall bool           `cbor:"icall,omitempty" toml:"internal_call,omitempty"`
	Body         []Instruction  `cbor:"body,omitempty" toml:"-"`
	IL           string         `cbor:"-" toml:"il,omitempty"`
	Attributes   []AttributeDef `cbor:"attrs,omitempty" toml:"attribute,omitempty"`
}

// ReturnType returns the declared return type, System.Void when empty.
func (m *MethodDef) ReturnType() string {
	if m.Return == "" {
		return TypeVoid
	}
	return m.Return
}

// PropertyDef is a property row naming its accessor methods.
type PropertyDef struct {
	Name   string `cbor:"name" toml:"name"`
	Type   string `cbor:"type" toml:"type"`
	Getter string `cbor:"get,omitempty" toml:"getter,omitempty"`
	Setter string `cbor:"set,omitempty" toml:"setter,omitempty"`
}

// AttributeDef is a custom attribute application. Args are passed to the
// attribute constructor as strings.
type AttributeDef struct {
	Type string   `cbor:"type" toml:"type"`
	Args []string `cbor:"args,omitempty" toml:"args,omitempty"`
}

// Token kinds, in the high byte of a metadata token.
const (
	TokenTypeDef uint32 = 0x02000000
	TokenMethod  uint32 = 0x06000000
	TokenField   uint32 = 0x04000000
)

// ClassToken returns the metadata token of the i-th class.
func ClassToken(i int) uint32 { return TokenTypeDef | uint32(i+1) }

// MethodTokens assigns method tokens in definition order across classes.
// The result is indexed by class then method.
func (img *Image) MethodTokens() [][]uint32 {
	out := make([][]uint32, len(img.Classes))
	row := uint32(1)
	for i := range img.Classes {
		out[i] = make([]uint32, len(img.Classes[i].Methods))
		for j := range img.Classes[i].Methods {
			out[i][j] = TokenMethod | row
			row++
		}
	}
	return out
}

// FindClass returns the class definition with the given name.
func (img *Image) FindClass(namespace, name string) *ClassDef {
	for i := range img.Classes {
		c := &img.Classes[i]
		if c.Namespace == namespace && c.Name == name {
			return c
		}
	}
	return nil
}

// JoinName joins a namespace and a simple name.
func JoinName(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "." + name
}

// SplitName splits a fully qualified type name at its last dot.
func SplitName(full string) (namespace, name string) {
	if i := strings.LastIndexByte(full, '.'); i >= 0 {
		return full[:i], full[i+1:]
	}
	return "", full
}

// ElementName strips by-ref, pointer and array decorations.
func ElementName(t string) string {
	for {
		switch {
		case strings.HasSuffix(t, "&"), strings.HasSuffix(t, "*"):
			t = t[:len(t)-1]
		case strings.HasSuffix(t, "[]"):
			t = t[:len(t)-2]
		default:
			return t
		}
	}
}

// MemberRef is a parsed reference to a method or field.
type MemberRef struct {
	Class  string
	Name   string
	Params []string

	// HasParams distinguishes "M()" from a field reference "F".
	HasParams bool
}

func (r MemberRef) String() string {
	if !r.HasParams {
		return r.Class + "::" + r.Name
	}
	return r.Class + "::" + r.Name + "(" + strings.Join(r.Params, ",") + ")"
}

// ParseMemberRef parses "Ns.Class::Name(T1,T2)" or "Ns.Class::Field".
func ParseMemberRef(s string) (MemberRef, error) {
	i := strings.Index(s, "::")
	if i <= 0 {
		return MemberRef{}, fmt.Errorf("member reference %q: missing class", s)
	}
	ref := MemberRef{Class: s[:i]}
	rest := s[i+2:]

	if open := strings.IndexByte(rest, '('); open >= 0 {
		if !strings.HasSuffix(rest, ")") {
			return MemberRef{}, fmt.Errorf("member reference %q: unterminated parameter list", s)
		}
		ref.HasParams = true
		ref.Name = rest[:open]
		if inner := strings.TrimSpace(rest[open+1 : len(rest)-1]); inner != "" {
			for _, p := range strings.Split(inner, ",") {
				ref.Params = append(ref.Params, strings.TrimSpace(p))
			}
		}
	} else {
		ref.Name = rest
	}

	if ref.Name == "" {
		return MemberRef{}, fmt.Errorf("member reference %q: missing name", s)
	}
	return ref, nil
}

// MethodRef formats a method reference.
func MethodRef(class, name string, params ...string) string {
	return MemberRef{Class: class, Name: name, Params: params, HasParams: true}.String()
}

// Validate checks structural consistency: non-empty names, unique classes,
// known opcodes and well-formed member references.
func (img *Image) Validate() error {
	if img.Name == "" {
		return fmt.Errorf("image has no name")
	}
	seen := make(map[string]bool, len(img.Classes))
	for ci := range img.Classes {
		c := &img.Classes[ci]
		if c.Name == "" {
			return fmt.Errorf("class %d has no name", ci)
		}
		full := c.FullName()
		if seen[full] {
			return fmt.Errorf("duplicate class %s", full)
		}
		seen[full] = true

		switch c.Kind {
		case "", KindClass, KindStruct, KindInterface, KindEnum, KindDelegate:
		default:
			return fmt.Errorf("class %s: unknown kind %q", full, c.Kind)
		}

		for mi := range c.Methods {
			m := &c.Methods[mi]
			if m.Name == "" {
				return fmt.Errorf("class %s: method %d has no name", full, mi)
			}
			for pc, ins := range m.Body {
				if err := ins.validate(); err != nil {
					return fmt.Errorf("%s::%s+%d: %w", full, m.Name, pc, err)
				}
			}
		}
		for _, p := range c.Properties {
			if p.Getter == "" && p.Setter == "" {
				return fmt.Errorf("class %s: property %s has no accessors", full, p.Name)
			}
		}
	}
	return nil
}

// Op is an instruction opcode.
type Op string

const (
	OpNop      Op = "nop"
	OpLdarg    Op = "ldarg"
	OpStarg    Op = "starg"
	OpLdcI4    Op = "ldc.i4"
	OpLdcI8    Op = "ldc.i8"
	OpLdcR8    Op = "ldc.r8"
	OpLdstr    Op = "ldstr"
	OpLdnull   Op = "ldnull"
	OpLdfld    Op = "ldfld"
	OpStfld    Op = "stfld"
	OpLdsfld   Op = "ldsfld"
	OpStsfld   Op = "stsfld"
	OpCall     Op = "call"
	OpCallvirt Op = "callvirt"
	OpNewobj   Op = "newobj"
	OpThrow    Op = "throw"
	OpRet      Op = "ret"
	OpAdd      Op = "add"
	OpSub      Op = "sub"
	OpMul      Op = "mul"
	OpDup      Op = "dup"
	OpPop      Op = "pop"
)

type operand uint8

const (
	operandNone operand = iota
	operandInt
	operandFloat
	operandString
	operandMethod
	operandField
)

var opOperands = map[Op]operand{
	OpNop:      operandNone,
	OpLdarg:    operandInt,
	OpStarg:    operandInt,
	OpLdcI4:    operandInt,
	OpLdcI8:    operandInt,
	OpLdcR8:    operandFloat,
	OpLdstr:    operandString,
	OpLdnull:   operandNone,
	OpLdfld:    operandField,
	OpStfld:    operandField,
	OpLdsfld:   operandField,
	OpStsfld:   operandField,
	OpCall:     operandMethod,
	OpCallvirt: operandMethod,
	OpNewobj:   operandMethod,
	OpThrow:    operandNone,
	OpRet:      operandNone,
	OpAdd:      operandNone,
	OpSub:      operandNone,
	OpMul:      operandNone,
	OpDup:      operandNone,
	OpPop:      operandNone,
}

// Instruction is one IL instruction. Str carries string literals and
// member references; Int and Float carry numeric operands.
type Instruction struct {
	Op    Op      `cbor:"op"`
	Str   string  `cbor:"s,omitempty"`
	Int   int64   `cbor:"i,omitempty"`
	Float float64 `cbor:"f,omitempty"`
}

func (ins Instruction) validate() error {
	kind, ok := opOperands[ins.Op]
	if !ok {
		return fmt.Errorf("unknown opcode %q", ins.Op)
	}
	switch kind {
	case operandMethod:
		ref, err := ParseMemberRef(ins.Str)
		if err != nil {
			return err
		}
		if !ref.HasParams {
			return fmt.Errorf("%s: %q is not a method reference", ins.Op, ins.Str)
		}
	case operandField:
		ref, err := ParseMemberRef(ins.Str)
		if err != nil {
			return err
		}
		if ref.HasParams {
			return fmt.Errorf("%s: %q is not a field reference", ins.Op, ins.Str)
		}
	case operandInt:
		if (ins.Op == OpLdarg || ins.Op == OpStarg) && ins.Int < 0 {
			return fmt.Errorf("%s: negative argument index", ins.Op)
		}
	}
	return nil
}

func (ins Instruction) String() string {
	switch opOperands[ins.Op] {
	case operandInt:
		return string(ins.Op) + " " + strconv.FormatInt(ins.Int, 10)
	case operandFloat:
		return string(ins.Op) + " " + strconv.FormatFloat(ins.Float, 'g', -1, 64)
	case operandString:
		return string(ins.Op) + " " + strconv.Quote(ins.Str)
	case operandMethod, operandField:
		return string(ins.Op) + " " + ins.Str
	default:
		return string(ins.Op)
	}
}

// Instruction constructors.

func Nop() Instruction { return Instruction{Op: OpNop} }
func Ldarg(i int) Instruction { return Instruction{Op: OpLdarg, Int: int64(i)} }
func Starg(i int) Instruction { return Instruction{Op: OpStarg, Int: int64(i)} }
func LdcI4(v int32) Instruction { return Instruction{Op: OpLdcI4, Int: int64(v)} }
func LdcI8(v int64) Instruction { return Instruction{Op: OpLdcI8, Int: v} }
func LdcR8(v float64) Instruction { return Instruction{Op: OpLdcR8, Float: v} }
func Ldstr(s string) Instruction { return Instruction{Op: OpLdstr, Str: s} }
func Ldnull() Instruction { return Instruction{Op: OpLdnull} }
func Ldfld(ref string) Instruction { return Instruction{Op: OpLdfld, Str: ref} }
func Stfld(ref string) Instruction { return Instruction{Op: OpStfld, Str: ref} }
func Ldsfld(ref string) Instruction { return Instruction{Op: OpLdsfld, Str: ref} }
func Stsfld(ref string) Instruction { return Instruction{Op: OpStsfld, Str: ref} }
func Call(ref string) Instruction { return Instruction{Op: OpCall, Str: ref} }
func Callvirt(ref string) Instruction { return Instruction{Op: OpCallvirt, Str: ref} }
func Newobj(ref string) Instruction { return Instruction{Op: OpNewobj, Str: ref} }
func Throw() Instruction { return Instruction{Op: OpThrow} }
func Ret() Instruction { return Instruction{Op: OpRet} }
func Add() Instruction { return Instruction{Op: OpAdd} }
func Sub() Instruction { return Instruction{Op: OpSub} }
func Mul() Instruction { return Instruction{Op: OpMul} }
func Dup() Instruction { return Instruction{Op: OpDup} }
func Pop() Instruction { return Instruction{Op: OpPop} }
