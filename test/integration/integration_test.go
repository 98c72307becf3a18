package integration_test

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/tom-mohr/compiler/cache"
	"github.com/tom-mohr/compiler/harness"
	"github.com/tom-mohr/compiler/manifest"
	"github.com/tom-mohr/compiler/server"
	"github.com/tom-mohr/compiler/vm"
)

// ---------------------------------------------------------------------------
// Integration test helpers
// ---------------------------------------------------------------------------

const (
	repoRoot = "../.."

	// testSteps bounds every run so a miscompiled loop fails instead of
	// hanging the suite.
	testSteps = 1_000_000
)

// loadProject reads the repository's ivm.toml.
func loadProject(t *testing.T) *manifest.Manifest {
	t.Helper()
	m, err := manifest.Load(repoRoot)
	if err != nil {
		t.Fatalf("loading %s: %v", manifest.FileName, err)
	}
	return m
}

// ---------------------------------------------------------------------------
// Sample programs
// ---------------------------------------------------------------------------

func TestExamplesPass(t *testing.T) {
	m := loadProject(t)
	if m.Run.MaxSteps != 0 {
		t.Errorf("example manifest max-steps = %d, want 0 (unlimited)", m.Run.MaxSteps)
	}

	var out bytes.Buffer
	runner := harness.NewRunner()
	runner.MaxSteps = testSteps
	runner.Out = &out
	report := &harness.Report{}
	for _, p := range m.TestPaths() {
		r, err := runner.RunPath(context.Background(), p)
		if err != nil {
			t.Fatalf("RunPath(%s): %v", p, err)
		}
		report.Merge(r)
	}

	passed, failed, total := report.Tally()
	if failed != 0 || total != 25 {
		var buf bytes.Buffer
		report.Write(&buf, true)
		t.Errorf("examples: %d passed, %d failed, %d total (want 25 passing)\n%s", passed, failed, total, buf.String())
	}
	if out.String() != "1\n4\n9\n16\n" {
		t.Errorf("print output = %q", out.String())
	}
}

func TestManifestMainProgram(t *testing.T) {
	m := loadProject(t)

	data, err := os.ReadFile(m.MainPath())
	if err != nil {
		t.Fatal(err)
	}

	c, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	for i, wantHit := range []bool{false, true} {
		bin, hit, err := c.Compile(m.MainPath(), string(data))
		if err != nil {
			t.Fatalf("compile %d: %v", i, err)
		}
		if hit != wantHit {
			t.Errorf("compile %d: hit = %v, want %v", i, hit, wantHit)
		}

		var out bytes.Buffer
		got, err := vm.RunFunction(context.Background(), bin, m.Source.Entry, m.Run.Args, vm.Options{Out: &out, MaxSteps: testSteps})
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if got != 30 {
			t.Errorf("run %d: main() = %d, want 30", i, got)
		}
	}
}

// ---------------------------------------------------------------------------
// Server round trip
// ---------------------------------------------------------------------------

func TestServerRunsExamples(t *testing.T) {
	srv := server.New(server.WithMaxSteps(testSteps))
	defer srv.Stop(context.Background())
	hs := httptest.NewServer(srv.Handler())
	defer hs.Close()

	opt, err := server.ClientCodec(server.CodecCBOR)
	if err != nil {
		t.Fatal(err)
	}
	client := server.NewClient(hs.Client(), hs.URL, opt)

	tests := []struct {
		file     string
		function string
		args     []int64
		want     int64
	}{
		{"fact.ivm", "fact", []int64{6}, 720},
		{"gcd.ivm", "gcd", []int64{48, 18}, 6},
		{"sum.ivm", "sum", []int64{10}, 45},
		{"logic.ivm", "power", []int64{3, 4}, 81},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			data, err := os.ReadFile(filepath.Join(repoRoot, "examples", tt.file))
			if err != nil {
				t.Fatal(err)
			}
			resp, err := client.Run(context.Background(), &server.RunRequest{
				Source:   string(data),
				Function: tt.function,
				Args:     tt.args,
			})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if !resp.Success || resp.Result != tt.want {
				t.Errorf("%s%v = %+v, want %d", tt.function, tt.args, resp, tt.want)
			}
		})
	}
}
