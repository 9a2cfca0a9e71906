package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/clr-embed/clr"
	"github.com/wippyai/clr-embed/engine"
	"github.com/wippyai/clr-embed/managed"
	"github.com/wippyai/clr-embed/native"
)

type options struct {
	image       string
	settings    string
	whitelist   string
	call        string
	args        string
	native      string
	wit         string
	nativeClass string
	events      string
	list        bool
	gc          bool
	verbose     bool
}

func main() {
	var o options
	flag.StringVar(&o.image, "image", "", "Path to the assembly image (.dll binary or .toml source)")
	flag.StringVar(&o.settings, "settings", "", "Path to a TOML settings file")
	flag.StringVar(&o.whitelist, "whitelist", "", "Allowed type names (comma-separated, or @file with one per line)")
	flag.StringVar(&o.call, "call", "", "Method to call (Namespace.Class::Method)")
	flag.StringVar(&o.args, "args", "", "Method arguments (comma-separated)")
	flag.StringVar(&o.native, "native", "", "WebAssembly module backing internal calls")
	flag.StringVar(&o.wit, "wit", "", "WIT file describing the native module's exports")
	flag.StringVar(&o.nativeClass, "native-class", "", "Managed class whose internal calls the native module implements")
	flag.StringVar(&o.events, "events", "", "SQLite file to record profiler events into")
	flag.BoolVar(&o.list, "list", false, "List classes and members and exit")
	flag.BoolVar(&o.gc, "gc", false, "Run a full collection and print heap statistics")
	flag.BoolVar(&o.verbose, "v", false, "Verbose logging")
	interactive := flag.Bool("i", false, "Interactive mode with TUI")
	flag.Parse()

	if o.image == "" {
		fmt.Fprintln(os.Stderr, "Usage: clrrun -image <file> [-call Ns.Class::Method] [-args a,b]")
		fmt.Fprintln(os.Stderr, "       clrrun -image <file> -list")
		fmt.Fprintln(os.Stderr, "       clrrun -image <file> -whitelist System.String,System.Int32")
		fmt.Fprintln(os.Stderr, "       clrrun -image <file> -i  (interactive mode)")
		os.Exit(1)
	}

	if o.verbose {
		l, err := zap.NewDevelopment()
		if err == nil {
			engine.SetLogger(l)
			managed.SetLogger(l)
			native.SetLogger(l)
			defer l.Sync()
		}
	}

	if *interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Fprintln(os.Stderr, "Error: interactive mode requires a terminal")
			os.Exit(1)
		}
		if err := runInteractive(o); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(o, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(o options, stdout, stderr io.Writer) error {
	s, err := openSession(o, stdout)
	if err != nil {
		return err
	}
	defer s.close()

	s.ctx.RegisterExceptionCallback(func(_ *managed.Context, a *managed.Assembly, _ clr.Object, d managed.ExceptionDescriptor) {
		fmt.Fprintf(stderr, "Unhandled exception in %s:\n%s\n", a.Name(), d.String)
	})

	fmt.Fprintf(stdout, "Assembly: %s\n", s.asm.Name())
	fmt.Fprintf(stdout, "Classes: %d\n", len(s.asm.Classes()))
	if s.native != nil {
		fmt.Fprintf(stdout, "Native: %s (%s)\n", s.native.Class(), strings.Join(s.native.Functions(), ", "))
	}

	if o.list {
		listClasses(stdout, s.asm)
	}

	if o.whitelist != "" {
		w, err := loadWhitelist(o.whitelist)
		if err != nil {
			return err
		}
		if unlisted := s.asm.UnlistedReferences(w); unlisted != nil {
			return unlisted
		}
		fmt.Fprintf(stdout, "\nWhitelist: all %d referenced types allowed\n", len(s.asm.ReferencedTypes()))
	}

	if o.call != "" {
		fmt.Fprintf(stdout, "\nCalling %s(%s)...\n", o.call, o.args)
		result, err := s.invoke(o.call, splitArgs(o.args))
		if err != nil {
			return fmt.Errorf("call %s: %w", o.call, err)
		}
		fmt.Fprintf(stdout, "Result: %s\n", result)
	}

	if o.gc {
		if err := s.sys.RunGCCollectAll(); err != nil {
			return fmt.Errorf("collect: %w", err)
		}
		fmt.Fprintf(stdout, "\nHeap: %d bytes, %d used, max generation %d\n",
			s.sys.HeapSize(), s.sys.UsedHeapSize(), s.sys.MaxGCGeneration())
	}

	if s.events != nil {
		counts, err := s.events.Counts()
		if err != nil {
			return fmt.Errorf("event counts: %w", err)
		}
		fmt.Fprintf(stdout, "\nEvents recorded in %s:\n", s.events.Path())
		for _, k := range sortedKinds(counts) {
			fmt.Fprintf(stdout, "  %-16s %d\n", k, counts[k])
		}
	}
	return nil
}

func listClasses(w io.Writer, a *managed.Assembly) {
	for _, c := range a.Classes() {
		fmt.Fprintf(w, "\n%s %s", c.Kind(), c.FullName())
		if c.IsValueType() {
			fmt.Fprintf(w, " (size %d, align %d)", c.DataSize(), c.Alignment())
		}
		fmt.Fprintln(w)
		for _, f := range c.Fields() {
			static := ""
			if f.IsStatic() {
				static = "static "
			}
			fmt.Fprintf(w, "  field    %s%s %s\n", static, f.Type(), f.Name())
		}
		for _, p := range c.Properties() {
			fmt.Fprintf(w, "  property %s\n", p.Name())
		}
		for _, m := range c.Methods() {
			fmt.Fprintf(w, "  method   %s\n", formatMethod(m))
		}
	}
}
