package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/chazu/stackvm/config"
	"github.com/chazu/stackvm/image"
	"github.com/chazu/stackvm/vm"
)

func runFile(t *testing.T, path, input string) string {
	t.Helper()
	prog, _, err := loadProgram(path)
	if err != nil {
		t.Fatalf("loadProgram(%s): %v", path, err)
	}
	var out strings.Builder
	m := vm.New(prog,
		vm.WithOutput(&out),
		vm.WithInput(vm.NewLineReader(strings.NewReader(input))),
	)
	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("%s: Run: %v", path, err)
	}
	return out.String()
}

func TestExamples(t *testing.T) {
	tests := []struct {
		file  string
		input string
		want  string
	}{
		{"hello.svm", "", "Hello, world!\n"},
		{"fib.svm", "", "0\n1\n1\n2\n3\n5\n8\n13\n21\n34\n55\n"},
		{"fibers.svm", "", "1 4 9 16 25 "},
		{"echo.svm", "one\ntwo\nquit\nthree\n", "1: one\n2: two\n"},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			got := runFile(t, filepath.Join("..", "..", "examples", tt.file), tt.input)
			if got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoadProgramImage(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join("..", "..", "examples", "fib.svm")
	prog, _, err := loadProgram(src)
	if err != nil {
		t.Fatal(err)
	}

	imgPath := filepath.Join(dir, "fib.svmi")
	id, err := image.WriteFile(imgPath, prog)
	if err != nil {
		t.Fatal(err)
	}
	decoded, gotID, err := loadProgram(imgPath)
	if err != nil {
		t.Fatalf("loadProgram(image): %v", err)
	}
	if gotID != id || decoded.Len() != prog.Len() {
		t.Errorf("decoded %d instructions with id %s, want %d and %s", decoded.Len(), gotID, prog.Len(), id)
	}

	// Files without the .svm extension that are not images are assembled.
	txt := filepath.Join(dir, "prog.txt")
	if err := os.WriteFile(txt, []byte("pushi 1\nwritei\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, id, err := loadProgram(txt); err != nil || id != uuid.Nil {
		t.Errorf("loadProgram(text) = id %s, %v", id, err)
	}
}

func TestApplyFlags(t *testing.T) {
	cfg := config.Default()
	cfg.Machine.MaxStack = 100
	cfg.Log.Verbosity = 1

	opts := &options{maxStack: 8, noPool: true, stats: true, verbose: 2}
	applyFlags(cfg, opts, map[string]bool{"max-stack": true, "no-pool": true, "stats": true})

	if cfg.Machine.MaxStack != 8 || cfg.PoolingEnabled() || !cfg.Run.Stats {
		t.Errorf("flags not applied: %+v", cfg)
	}
	if cfg.Log.Verbosity != 1 {
		t.Errorf("unset -v overrode verbosity: %d", cfg.Log.Verbosity)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.toml")
	if err := os.WriteFile(path, []byte("[machine]\nmax-stack = 16\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadConfig(path, "")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Machine.MaxStack != 16 {
		t.Errorf("MaxStack = %d, want 16", cfg.Machine.MaxStack)
	}

	cfg, err = loadConfig("", filepath.Join(dir, "nothing-here", "p.svm"))
	if err != nil || cfg == nil {
		t.Fatalf("loadConfig without a file = %v, %v", cfg, err)
	}
}
