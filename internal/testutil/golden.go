// Package testutil holds golden-file assertions shared by deskrun tests.
//
// Golden files live under the calling package's testdata directory. Run
// the tests with -update to rewrite them from the current output.
package testutil

import (
	"encoding/json"
	"errors"
	"flag"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"gopkg.in/yaml.v3"
)

var update = flag.Bool("update", false, "rewrite golden files from current output")

// GoldenPath returns where name lives under testdata.
func GoldenPath(name string) string {
	return filepath.Join("testdata", name)
}

// AssertGolden fails t unless got equals the golden file byte for byte.
func AssertGolden(t *testing.T, got, name string) {
	t.Helper()

	want, ok := golden(t, name, []byte(got))
	if !ok {
		return
	}

	if got != string(want) {
		t.Errorf("%s mismatch\n\ngot:\n%s\n\nwant:\n%s\n\nrun with -update to refresh", GoldenPath(name), got, want)
	}
}

// AssertGoldenJSON marshals v and compares it to the golden file as JSON
// values, so key order and indentation in the file do not matter.
func AssertGoldenJSON(t *testing.T, v any, name string) {
	t.Helper()

	got, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		t.Fatalf("marshal %T: %v", v, err)
	}

	want, ok := golden(t, name, append(got, '\n'))
	if !ok {
		return
	}

	var gotValue, wantValue any
	if err := json.Unmarshal(got, &gotValue); err != nil {
		t.Fatalf("decode output: %v", err)
	}

	if err := json.Unmarshal(want, &wantValue); err != nil {
		t.Fatalf("decode %s: %v", GoldenPath(name), err)
	}

	if !reflect.DeepEqual(gotValue, wantValue) {
		t.Errorf("%s mismatch\n\ngot:\n%s\n\nwant:\n%s", GoldenPath(name), got, want)
	}
}

// AssertGoldenYAML is AssertGoldenJSON for YAML documents.
func AssertGoldenYAML(t *testing.T, v any, name string) {
	t.Helper()

	got, err := yaml.Marshal(v)
	if err != nil {
		t.Fatalf("marshal %T: %v", v, err)
	}

	want, ok := golden(t, name, got)
	if !ok {
		return
	}

	var gotValue, wantValue any
	if err := yaml.Unmarshal(got, &gotValue); err != nil {
		t.Fatalf("decode output: %v", err)
	}

	if err := yaml.Unmarshal(want, &wantValue); err != nil {
		t.Fatalf("decode %s: %v", GoldenPath(name), err)
	}

	if !reflect.DeepEqual(gotValue, wantValue) {
		t.Errorf("%s mismatch\n\ngot:\n%s\n\nwant:\n%s", GoldenPath(name), got, want)
	}
}

// golden returns the stored contents of name. Under -update it writes
// current instead and reports false so the caller skips comparison.
func golden(t *testing.T, name string, current []byte) ([]byte, bool) {
	t.Helper()

	path := GoldenPath(name)

	if *update {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("create %s: %v", filepath.Dir(path), err)
		}

		if err := os.WriteFile(path, current, 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}

		t.Logf("updated %s", path)

		return nil, false
	}

	want, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("%s does not exist; run with -update to create it", path)
	}

	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}

	return want, true
}
