package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/wippyai/clr-embed/clr"
	"github.com/wippyai/clr-embed/engine"
	"github.com/wippyai/clr-embed/eventlog"
	"github.com/wippyai/clr-embed/image"
	"github.com/wippyai/clr-embed/managed"
	"github.com/wippyai/clr-embed/native"
)

// session is a system with one context and the loaded image.
type session struct {
	sys    *managed.System
	ctx    *managed.Context
	asm    *managed.Assembly
	native *native.Module
	events *eventlog.Log
}

func openSession(o options, out io.Writer) (*session, error) {
	settings := managed.Settings{DomainName: "clrrun"}
	if o.settings != "" {
		loaded, err := managed.LoadSettings(o.settings)
		if err != nil {
			return nil, fmt.Errorf("load settings: %w", err)
		}
		settings = loaded
	}

	s := &session{}
	if o.events != "" {
		l, err := eventlog.Open(o.events)
		if err != nil {
			return nil, err
		}
		s.events = l
		settings.Events = l
		if len(settings.Profiling.Events) == 0 && settings.Profiling.Flags == 0 {
			settings.Profiling.Events = []string{"domain", "assembly", "exceptions", "gc"}
		}
	}

	sys, err := managed.NewSystem(engine.New(engine.WithOutput(out)), settings)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("create system: %w", err)
	}
	s.sys = sys

	if o.native != "" {
		if err := s.loadNative(o); err != nil {
			s.close()
			return nil, err
		}
	}

	ctx, err := sys.CreateContext(o.image)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("load %s: %w", o.image, err)
	}
	s.ctx = ctx
	s.asm = ctx.FindAssembly(o.image)
	if s.asm == nil {
		s.close()
		return nil, fmt.Errorf("assembly %s not loaded", o.image)
	}
	return s, nil
}

func (s *session) loadNative(o options) error {
	if o.wit == "" || o.nativeClass == "" {
		return fmt.Errorf("-native requires -wit and -native-class")
	}
	wasm, err := os.ReadFile(o.native)
	if err != nil {
		return fmt.Errorf("read native module: %w", err)
	}
	witText, err := os.ReadFile(o.wit)
	if err != nil {
		return fmt.Errorf("read wit: %w", err)
	}
	m, err := native.Load(context.Background(), wasm, string(witText), o.nativeClass)
	if err != nil {
		return fmt.Errorf("load native module: %w", err)
	}
	s.native = m
	if err := s.sys.RegisterNativeModule(m); err != nil {
		return fmt.Errorf("register native module: %w", err)
	}
	return nil
}

func (s *session) close() {
	if s.sys != nil {
		_ = s.sys.Close()
	}
	if s.native != nil {
		_ = s.native.Close(context.Background())
	}
	if s.events != nil {
		_ = s.events.Close()
	}
}

// invoke calls "Namespace.Class::Method" with string arguments converted
// to the parameter types of the overload with a matching arity. Instance
// methods run on an object built with the parameterless constructor.
func (s *session) invoke(ref string, args []string) (string, error) {
	className, methodName, ok := strings.Cut(ref, "::")
	if !ok || className == "" || methodName == "" {
		return "", fmt.Errorf("method reference %q must have the form Namespace.Class::Method", ref)
	}
	ns, name := image.SplitName(className)
	class := s.ctx.FindClass(ns, name)
	if class == nil {
		return "", fmt.Errorf("class %s not found", className)
	}

	var m *managed.Method
	for _, candidate := range class.FindMethods(methodName) {
		if candidate.NumParams() == len(args) {
			m = candidate
			break
		}
	}
	if m == nil {
		return "", fmt.Errorf("no overload of %s takes %d arguments", ref, len(args))
	}
	return callMethod(class, m, args)
}

func callMethod(class *managed.Class, m *managed.Method, args []string) (string, error) {
	params := m.Params()
	values := make([]any, len(args))
	for i, a := range args {
		v, err := convertArg(a, params[i].Name())
		if err != nil {
			return "", fmt.Errorf("argument %d: %w", i, err)
		}
		values[i] = v
	}

	var self *managed.Object
	if !m.IsStatic() {
		obj, err := class.CreateInstance(nil)
		if err != nil {
			return "", fmt.Errorf("create %s: %w", class.FullName(), err)
		}
		defer obj.Free()
		self = obj
	}

	ret, err := m.Call(self, values...)
	if err != nil {
		return "", err
	}
	return formatResult(ret), nil
}

// convertArg parses s as a value of the named managed type.
func convertArg(s, typeName string) (any, error) {
	switch typeName {
	case "System.String":
		return s, nil
	case "System.Boolean":
		return strconv.ParseBool(s)
	case "System.Char":
		r, size := utf8.DecodeRuneInString(s)
		if size == 0 || size != len(s) {
			return nil, fmt.Errorf("%q is not a single character", s)
		}
		return r, nil
	case "System.Byte":
		v, err := strconv.ParseUint(s, 10, 8)
		return uint8(v), err
	case "System.Int16":
		v, err := strconv.ParseInt(s, 10, 16)
		return int16(v), err
	case "System.UInt16":
		v, err := strconv.ParseUint(s, 10, 16)
		return uint16(v), err
	case "System.Int32":
		v, err := strconv.ParseInt(s, 10, 32)
		return int32(v), err
	case "System.UInt32":
		v, err := strconv.ParseUint(s, 10, 32)
		return uint32(v), err
	case "System.Int64":
		return strconv.ParseInt(s, 10, 64)
	case "System.UInt64":
		return strconv.ParseUint(s, 10, 64)
	case "System.Single":
		v, err := strconv.ParseFloat(s, 32)
		return float32(v), err
	case "System.Double":
		return strconv.ParseFloat(s, 64)
	}
	return nil, fmt.Errorf("cannot pass %q as %s", s, typeName)
}

func splitArgs(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// loadWhitelist reads "A,B" or "@file" with one name per line. Lines
// starting with # are ignored.
func loadWhitelist(arg string) (managed.Whitelist, error) {
	var names []string
	if path, ok := strings.CutPrefix(arg, "@"); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read whitelist: %w", err)
		}
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			names = append(names, line)
		}
	} else {
		names = splitArgs(arg)
	}
	return managed.NewWhitelist(names...), nil
}

func formatMethod(m *managed.Method) string {
	params := make([]string, 0, m.NumParams())
	for _, p := range m.Params() {
		params = append(params, p.Name())
	}
	static := ""
	if m.IsStatic() {
		static = "static "
	}
	ret := "System.Void"
	if r := m.Return(); r != nil {
		ret = r.Name()
	}
	return fmt.Sprintf("%s%s %s(%s)", static, ret, m.Name(), strings.Join(params, ", "))
}

func formatResult(ret *managed.Object) string {
	if ret == nil {
		return "(void)"
	}
	switch v := ret.Value().(type) {
	case string:
		return strconv.Quote(v)
	case clr.Object:
		if s, err := ret.ToString(); err == nil {
			return s
		}
		return ret.String()
	case nil:
		return "null"
	default:
		return fmt.Sprint(v)
	}
}

func sortedKinds(counts map[clr.EventKind]int64) []clr.EventKind {
	kinds := make([]clr.EventKind, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
