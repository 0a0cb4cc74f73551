package notebook

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeNote(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", name, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestParseFrontmatter(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantMeta map[string]any
		wantBody string
		wantErr  bool
	}{
		{
			name:     "no frontmatter",
			content:  "Just a note.\n",
			wantMeta: nil,
			wantBody: "Just a note.\n",
		},
		{
			name:     "with fields",
			content:  "---\ntitle: Plans\nsend: true\n---\n# Heading\n\nBody.",
			wantMeta: map[string]any{"title": "Plans", "send": true},
			wantBody: "# Heading\n\nBody.",
		},
		{
			name:     "empty block",
			content:  "---\n---\nBody only.",
			wantMeta: nil,
			wantBody: "Body only.",
		},
		{
			name:     "unclosed block",
			content:  "---\ntitle: Plans\nBody without closing.",
			wantMeta: nil,
			wantBody: "---\ntitle: Plans\nBody without closing.",
		},
		{
			name:     "malformed yaml",
			content:  "---\ntags: [one,\n---\nBody.",
			wantMeta: nil,
			wantBody: "---\ntags: [one,\n---\nBody.",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta, body, err := ParseFrontmatter(tt.content)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if body != tt.wantBody {
				t.Errorf("body = %q, want %q", body, tt.wantBody)
			}
			if tt.wantMeta == nil {
				if len(meta) != 0 {
					t.Errorf("meta = %v, want empty", meta)
				}
				return
			}
			if !reflect.DeepEqual(meta, tt.wantMeta) {
				t.Errorf("meta = %v, want %v", meta, tt.wantMeta)
			}
		})
	}
}

func TestScan_FindsNotes(t *testing.T) {
	dir := t.TempDir()
	writeNote(t, dir, "a.md", "Note A.")
	writeNote(t, dir, filepath.Join("sub", "b.md"), "---\ntitle: B\n---\nNote B.")
	writeNote(t, dir, filepath.Join(".obsidian", "c.md"), "Hidden config note.")
	writeNote(t, dir, ".draft.md", "Dotfile note.")
	writeNote(t, dir, "d.txt", "Not a note.")

	s := NewSource(dir, nil)
	notes, err := s.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if len(notes) != 2 {
		t.Fatalf("got %d notes, want 2: %+v", len(notes), notes)
	}
	if notes[0].RelPath != "a.md" {
		t.Errorf("notes[0].RelPath = %q, want %q", notes[0].RelPath, "a.md")
	}
	if notes[1].RelPath != filepath.Join("sub", "b.md") {
		t.Errorf("notes[1].RelPath = %q, want %q", notes[1].RelPath, filepath.Join("sub", "b.md"))
	}
	if notes[1].Content != "Note B." {
		t.Errorf("notes[1].Content = %q, want %q", notes[1].Content, "Note B.")
	}
}

func TestLoad_MetaMerge(t *testing.T) {
	dir := t.TempDir()
	path := writeNote(t, dir, "plans.md", "---\ntags:\n  - research\ntask_id: custom-id\n---\nBody.")

	s := NewSource(dir, nil)
	note, err := s.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if note.Content != "Body." {
		t.Errorf("Content = %q, want %q", note.Content, "Body.")
	}
	if note.Meta["file_path"] != path {
		t.Errorf("meta file_path = %v, want %q", note.Meta["file_path"], path)
	}
	if note.Meta["relative_path"] != "plans.md" {
		t.Errorf("meta relative_path = %v, want %q", note.Meta["relative_path"], "plans.md")
	}
	// Frontmatter overrides the file-derived task_id.
	if note.Meta["task_id"] != "custom-id" {
		t.Errorf("meta task_id = %v, want %q", note.Meta["task_id"], "custom-id")
	}
	tags, ok := note.Meta["tags"].([]any)
	if !ok || len(tags) != 1 || tags[0] != "research" {
		t.Errorf("meta tags = %v, want [research]", note.Meta["tags"])
	}
	if _, ok := note.Meta["last_modified"]; !ok {
		t.Error("meta missing last_modified")
	}
	if note.ModTime.IsZero() {
		t.Error("ModTime is zero")
	}
}

func TestLoad_TaskIDFromFileName(t *testing.T) {
	dir := t.TempDir()
	path := writeNote(t, dir, "2025-03-10-standup.md", "No frontmatter here.")

	s := NewSource(dir, nil)
	note, err := s.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if note.Meta["task_id"] != "2025-03-10-standup" {
		t.Errorf("meta task_id = %v, want %q", note.Meta["task_id"], "2025-03-10-standup")
	}
}

func TestLoad_StripsBOM(t *testing.T) {
	dir := t.TempDir()
	path := writeNote(t, dir, "bom.md", "\xef\xbb\xbf---\ntitle: T\n---\nBody here.")

	s := NewSource(dir, nil)
	note, err := s.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if note.Meta["title"] != "T" {
		t.Errorf("meta title = %v, want %q", note.Meta["title"], "T")
	}
	if note.Content != "Body here." {
		t.Errorf("Content = %q, want %q", note.Content, "Body here.")
	}
}

func TestLoad_MalformedFrontmatterKeepsRawContent(t *testing.T) {
	dir := t.TempDir()
	raw := "---\ntags: [one,\n---\nBody."
	path := writeNote(t, dir, "broken.md", raw)

	s := NewSource(dir, nil)
	note, err := s.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if note.Content != raw {
		t.Errorf("Content = %q, want raw %q", note.Content, raw)
	}
	if _, ok := note.Meta["tags"]; ok {
		t.Error("meta should not carry fields from malformed frontmatter")
	}
	if note.Meta["task_id"] != "broken" {
		t.Errorf("meta task_id = %v, want %q", note.Meta["task_id"], "broken")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	s := NewSource(t.TempDir(), nil)

	if _, err := s.Load(filepath.Join(s.Root(), "absent.md")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
