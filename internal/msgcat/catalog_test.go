package msgcat

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEmbeddedCatalogRenders(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := c.Render("battle.link", map[string]any{"Bot": "tttbot", "GameID": "abc"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(got, "https://t.me/tttbot?start=battleabc") {
		t.Fatalf("unexpected link text: %q", got)
	}
}

func TestGroupTextEscapesNames(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := c.Text("board.group", map[string]any{"O": "<Ann>", "X": "Bob & Co", "Name": "Bob & Co", "Sign": "X"})
	if !strings.Contains(got, "&lt;Ann&gt;") || !strings.Contains(got, "Bob &amp; Co") {
		t.Fatalf("names not escaped: %q", got)
	}
}

func TestMissingDataIsError(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Render("battle.invited", map[string]any{}); err == nil {
		t.Fatalf("expected missing key error")
	}
	if got := c.Text("no.such.key", nil); got != "no.such.key" {
		t.Fatalf("fallback = %q", got)
	}
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("start:\n  greeting: \"hi {{.Name}}\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := c.Text("start.greeting", map[string]any{"Name": "Ann"}); got != "hi Ann" {
		t.Fatalf("override not applied: %q", got)
	}
	if !c.Has("solo.won") {
		t.Fatalf("defaults lost after override")
	}
}

func TestOverrideDuplicateKeys(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"a.yaml", "b.yml"} {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("solo:\n  won: \"x\"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := New(dir); err == nil {
		t.Fatalf("expected duplicate key error")
	}
}
