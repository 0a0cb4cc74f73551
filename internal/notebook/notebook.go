// Package notebook reads a directory of markdown and PDF notes and turns
// them into extraction inputs.
package notebook

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const bom = "\xef\xbb\xbf"

// Note is one notebook entry ready for extraction. Meta carries the file
// metadata merged with any frontmatter fields; frontmatter wins on clashes.
type Note struct {
	Path    string
	RelPath string
	Content string
	Meta    map[string]any
	ModTime time.Time
}

// Source walks a notebook directory for notes.
type Source struct {
	root string
	log  *slog.Logger
}

func NewSource(root string, log *slog.Logger) *Source {
	if log == nil {
		log = slog.Default()
	}
	return &Source{root: root, log: log}
}

// Root returns the notebook directory this source reads from.
func (s *Source) Root() string {
	return s.root
}

// Scan walks the notebook and returns every markdown and PDF note.
// Dotfiles and dot-directories are skipped. A note that fails to load is
// logged and skipped so one bad file cannot sink the scan.
func (s *Source) Scan() ([]Note, error) {
	var notes []Note
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != s.root && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		switch strings.ToLower(filepath.Ext(name)) {
		case ".md", ".pdf":
		default:
			return nil
		}

		note, err := s.Load(path)
		if err != nil {
			s.log.Error("loading note failed", "path", path, "error", err)
			return nil
		}
		notes = append(notes, note)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking notebook %s: %w", s.root, err)
	}
	return notes, nil
}

// Load reads a single note by path.
func (s *Source) Load(path string) (Note, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Note{}, fmt.Errorf("stat %s: %w", path, err)
	}
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		rel = filepath.Base(path)
	}

	var content string
	var frontmatter map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md":
		content, frontmatter, err = s.readMarkdown(path)
	case ".pdf":
		content, err = readPDF(path)
	default:
		return Note{}, fmt.Errorf("unsupported note type %q", filepath.Ext(path))
	}
	if err != nil {
		return Note{}, err
	}

	meta := map[string]any{
		"file_path":     path,
		"root":          s.root,
		"relative_path": rel,
		"task_id":       strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		"last_modified": info.ModTime(),
	}
	for k, v := range frontmatter {
		meta[k] = v
	}

	return Note{
		Path:    path,
		RelPath: rel,
		Content: content,
		Meta:    meta,
		ModTime: info.ModTime(),
	}, nil
}

func (s *Source) readMarkdown(path string) (string, map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("reading %s: %w", path, err)
	}

	text := strings.TrimPrefix(string(raw), bom)
	meta, body, err := ParseFrontmatter(text)
	if err != nil {
		// A broken frontmatter block should not hide the note from
		// extraction; fall back to the raw text.
		s.log.Warn("ignoring malformed frontmatter", "path", path, "error", err)
		return text, nil, nil
	}
	return body, meta, nil
}

// ParseFrontmatter splits markdown into its YAML frontmatter map and body.
// Content without a leading --- block comes back unchanged with nil metadata.
func ParseFrontmatter(content string) (map[string]any, string, error) {
	if !strings.HasPrefix(content, "---") {
		return nil, content, nil
	}

	parts := strings.SplitN(content, "---", 3)
	if len(parts) < 3 {
		return nil, content, nil
	}

	var meta map[string]any
	if err := yaml.Unmarshal([]byte(parts[1]), &meta); err != nil {
		return nil, content, fmt.Errorf("parsing frontmatter: %w", err)
	}
	return meta, strings.TrimSpace(parts[2]), nil
}
