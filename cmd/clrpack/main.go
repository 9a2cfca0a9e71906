package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/wippyai/clr-embed/image"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("clrpack", flag.ContinueOnError)
	fs.SetOutput(stdout)
	var (
		in   = fs.String("in", "", "Input image (.toml source or binary)")
		out  = fs.String("out", "", "Output image; the extension selects the form")
		refs = fs.Bool("refs", false, "Print the referenced external types")
		info = fs.Bool("info", false, "Print a summary of the image")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		fs.Usage()
		return fmt.Errorf("-in is required")
	}

	img, err := image.ReadFile(*in)
	if err != nil {
		return fmt.Errorf("read %s: %w", *in, err)
	}

	if *info {
		printInfo(stdout, img)
	}
	if *refs {
		for _, r := range image.CollectTypeRefs(img) {
			fmt.Fprintln(stdout, r)
		}
	}

	if *out == "" {
		if !*info && !*refs {
			fmt.Fprintf(stdout, "%s: ok (%d classes)\n", *in, len(img.Classes))
		}
		return nil
	}
	if err := image.WriteFile(*out, img); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}
	form := "binary"
	if image.IsSource(*out) {
		form = "source"
	}
	fmt.Fprintf(stdout, "wrote %s (%s)\n", *out, form)
	return nil
}

func printInfo(w io.Writer, img *image.Image) {
	fmt.Fprintf(w, "Image: %s\n", img.Name)
	for _, c := range img.Classes {
		var parts []string
		if len(c.Fields) > 0 {
			parts = append(parts, fmt.Sprintf("%d fields", len(c.Fields)))
		}
		if len(c.Properties) > 0 {
			parts = append(parts, fmt.Sprintf("%d properties", len(c.Properties)))
		}
		if len(c.Methods) > 0 {
			parts = append(parts, fmt.Sprintf("%d methods", len(c.Methods)))
		}
		summary := ""
		if len(parts) > 0 {
			summary = ": " + strings.Join(parts, ", ")
		}
		fmt.Fprintf(w, "  %s %s%s\n", c.Kind, c.FullName(), summary)
	}
}
