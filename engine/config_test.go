package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/wippyai/clr-embed/errors"
	"github.com/wippyai/clr-embed/image"
)

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr errors.Kind
		check   func(t *testing.T, cfg Config)
	}{
		{
			name:  "empty uses defaults",
			input: "",
			check: func(t *testing.T, cfg Config) {
				if cfg.GC.MaxGeneration != 2 {
					t.Errorf("MaxGeneration = %d, want 2", cfg.GC.MaxGeneration)
				}
			},
		},
		{
			name: "all sections",
			input: `
[gc]
max_generation = 1

[heap]
limit = 4096

[assemblies]
search_paths = ["/opt/lib"]

[debug]
enabled = true

[[dllmap]]
name = "A.B::C"
target = "D.E::F"
`,
			check: func(t *testing.T, cfg Config) {
				if cfg.GC.MaxGeneration != 1 || cfg.Heap.Limit != 4096 || !cfg.Debug.Enabled {
					t.Errorf("unexpected config %+v", cfg)
				}
				if len(cfg.Assemblies.SearchPaths) != 1 || cfg.Assemblies.SearchPaths[0] != "/opt/lib" {
					t.Errorf("SearchPaths = %v", cfg.Assemblies.SearchPaths)
				}
				if len(cfg.DllMap) != 1 || cfg.DllMap[0].Target != "D.E::F" {
					t.Errorf("DllMap = %v", cfg.DllMap)
				}
			},
		},
		{name: "syntax error", input: "[gc", wantErr: errors.KindInvalidInput},
		{name: "unknown key", input: "[gc]\nmax_gen = 1", wantErr: errors.KindInvalidInput},
		{name: "generation too large", input: "[gc]\nmax_generation = 9", wantErr: errors.KindInvalidInput},
		{name: "negative generation", input: "[gc]\nmax_generation = -1", wantErr: errors.KindInvalidInput},
		{name: "incomplete dllmap", input: "[[dllmap]]\nname = \"A.B::C\"", wantErr: errors.KindInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig(tt.input, false)
			if tt.wantErr != "" {
				if !errors.HasKind(err, tt.wantErr) {
					t.Fatalf("err = %v, want kind %s", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadConfig: %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestLoadConfig_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runtime.toml")
	if err := os.WriteFile(path, []byte("[assemblies]\nsearch_paths = [\"lib\", \"/abs\"]\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path, true)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	want := []string{filepath.Join(dir, "lib"), "/abs"}
	for i, p := range want {
		if cfg.Assemblies.SearchPaths[i] != p {
			t.Errorf("SearchPaths[%d] = %q, want %q", i, cfg.Assemblies.SearchPaths[i], p)
		}
	}

	if _, err := LoadConfig(filepath.Join(dir, "missing.toml"), true); !errors.HasKind(err, errors.KindLoadFailure) {
		t.Errorf("missing file: err = %v", err)
	}
}

func TestOpenAssembly_SearchPath(t *testing.T) {
	dir := t.TempDir()
	lib := filepath.Join(dir, "lib")
	if err := os.MkdirAll(lib, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := image.WriteFile(filepath.Join(lib, "hello.clr"), sampleImage()); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(filepath.Join(lib, "broken.clr"), []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfgPath := filepath.Join(dir, "runtime.toml")
	if err := os.WriteFile(cfgPath, []byte("[assemblies]\nsearch_paths = [\"lib\"]\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	rt := New()
	if err := rt.ParseConfig(cfgPath, true); err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	d, err := rt.Start("files")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer rt.Shutdown()

	a, err := d.OpenAssembly("hello.clr")
	if err != nil {
		t.Fatalf("OpenAssembly: %v", err)
	}
	if a.Name() != "hello" || a.Path() != "hello.clr" {
		t.Errorf("assembly = %s at %s", a.Name(), a.Path())
	}
	greet := mustMethod(t, mustClass(t, a.Image(), "Sample", "Greeter"), "Greet")
	ret, _ := invoke(t, greet, nil)
	if ret.Value() != "hi" {
		t.Errorf("Greet() = %v", ret.Value())
	}

	if _, err := d.OpenAssembly("broken.clr"); !errors.HasKind(err, errors.KindLoadFailure) {
		t.Errorf("broken image: err = %v", err)
	}
}

func TestOpenAssembly_UnresolvedParent(t *testing.T) {
	b := image.NewBuilder("orphan")
	b.Class("Sample", "Orphan").Parent("Elsewhere.Base")

	rt := New()
	if err := rt.RegisterImage("orphan.dll", b.Build()); err != nil {
		t.Fatal(err)
	}
	d, err := rt.Start("orphan")
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Shutdown()

	_, err = d.OpenAssembly("orphan.dll")
	if !errors.HasKind(err, errors.KindLoadFailure) || !errors.HasKind(err, errors.KindUnresolvedReference) {
		t.Errorf("err = %v, want load failure caused by unresolved reference", err)
	}
}
