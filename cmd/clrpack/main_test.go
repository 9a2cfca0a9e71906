package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wippyai/clr-embed/image"
)

const mathSource = `name = "math"

[[class]]
namespace = "Calc"
name = "Math"

  [[class.method]]
  name = "Add"
  params = ["System.Int32", "System.Int32"]
  return = "System.Int32"
  static = true
  il = '''
  ldarg 0
  ldarg 1
  add
  ret
  '''

[[class]]
namespace = "Calc"
name = "Point"
kind = "struct"

  [[class.field]]
  name = "X"
  type = "System.Int32"
`

func writeSource(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "math.toml")
	if err := os.WriteFile(path, []byte(mathSource), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRun_RoundTrip(t *testing.T) {
	src := writeSource(t)
	dir := t.TempDir()
	bin := filepath.Join(dir, "math.dll")
	back := filepath.Join(dir, "math.toml")

	var out bytes.Buffer
	if err := run([]string{"-in", src, "-out", bin}, &out); err != nil {
		t.Fatalf("pack: %v", err)
	}
	if !strings.Contains(out.String(), "(binary)") {
		t.Errorf("pack output = %q", out.String())
	}
	data, err := os.ReadFile(bin)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(data, image.Magic[:]) {
		t.Error("binary image missing magic")
	}

	out.Reset()
	if err := run([]string{"-in", bin, "-out", back}, &out); err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if !strings.Contains(out.String(), "(source)") {
		t.Errorf("unpack output = %q", out.String())
	}

	img, err := image.ReadFile(back)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	c := img.FindClass("Calc", "Math")
	if c == nil || len(c.Methods) != 1 || len(c.Methods[0].Body) != 4 {
		t.Errorf("round-tripped class = %+v", c)
	}
}

func TestRun_InfoAndRefs(t *testing.T) {
	src := writeSource(t)

	var out bytes.Buffer
	if err := run([]string{"-in", src, "-info", "-refs"}, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, want := range []string{
		"Image: math",
		"class Calc.Math: 1 methods",
		"struct Calc.Point: 1 fields",
		"System.Int32",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestRun_Errors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.dll")
	if err := os.WriteFile(bad, []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing input flag", nil, "-in is required"},
		{"missing file", []string{"-in", filepath.Join(dir, "none.toml")}, "read"},
		{"bad magic", []string{"-in", bad}, "bad magic"},
		{"unknown flag", []string{"-nope"}, "not defined"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := run(tt.args, &out)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestRun_Check(t *testing.T) {
	src := writeSource(t)
	var out bytes.Buffer
	if err := run([]string{"-in", src}, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "ok (2 classes)") {
		t.Errorf("output = %q", out.String())
	}
}
