package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// StoryFile contains metadata for one story file in the library.
type StoryFile struct {
	Path    string // relative to the library root
	Name    string // file name without extension
	ModTime time.Time
	Size    int64
}

// Library provides access to the on-disk story collection. Story files live
// directly under the library root; each story may have a companion markdown
// synopsis with the same base name.
type Library struct {
	basePath string
	md       goldmark.Markdown
}

// storyExtensions are the recognized story file suffixes.
var storyExtensions = map[string]bool{
	".yaml": true,
	".yml":  true,
	".json": true,
}

// NewLibrary creates a library rooted at basePath.
func NewLibrary(basePath string) *Library {
	return &Library{
		basePath: basePath,
		md:       goldmark.New(),
	}
}

// BasePath returns the library root.
func (l *Library) BasePath() string {
	return l.basePath
}

// ListStories lists all story files in the library, sorted by name.
func (l *Library) ListStories() ([]StoryFile, error) {
	entries, err := os.ReadDir(l.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []StoryFile{}, nil
		}
		return nil, fmt.Errorf("failed to list stories: %w", err)
	}

	var files []StoryFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if !storyExtensions[ext] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, err
		}
		files = append(files, StoryFile{
			Path:    entry.Name(),
			Name:    strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())),
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// ReadStory reads the raw bytes of a story file by its relative path.
func (l *Library) ReadStory(relativePath string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(l.basePath, relativePath))
	if err != nil {
		return nil, fmt.Errorf("failed to read story file: %w", err)
	}
	return data, nil
}

// WriteStory writes a story file atomically.
func (l *Library) WriteStory(relativePath string, data []byte) error {
	return AtomicWriteFile(filepath.Join(l.basePath, relativePath), data)
}

// Exists checks whether a file exists in the library.
func (l *Library) Exists(relativePath string) bool {
	_, err := os.Stat(filepath.Join(l.basePath, relativePath))
	return err == nil
}

// EnsureDir creates the library root if it is missing.
func (l *Library) EnsureDir() error {
	return os.MkdirAll(l.basePath, 0755)
}

// Synopsis reads the companion markdown synopsis for a story file, if one
// exists. It returns the H1 title and the body with frontmatter stripped.
func (l *Library) Synopsis(storyPath string) (title, body string, err error) {
	mdPath := strings.TrimSuffix(storyPath, filepath.Ext(storyPath)) + ".md"
	data, err := os.ReadFile(filepath.Join(l.basePath, mdPath))
	if err != nil {
		if os.IsNotExist(err) {
			return "", "", nil
		}
		return "", "", fmt.Errorf("failed to read synopsis: %w", err)
	}

	content := string(data)
	_, body = splitFrontmatter(content)
	return l.parseTitle(content), body, nil
}

// parseTitle extracts the first H1 title from markdown content.
func (l *Library) parseTitle(content string) string {
	reader := text.NewReader([]byte(content))
	doc := l.md.Parser().Parse(reader)

	var title string
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if heading, ok := n.(*ast.Heading); ok && entering && heading.Level == 1 {
			title = string(heading.Text([]byte(content)))
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})

	return title
}

// splitFrontmatter separates YAML frontmatter from a markdown body.
func splitFrontmatter(content string) (frontmatter, body string) {
	lines := strings.Split(content, "\n")
	if len(lines) < 2 || strings.TrimSpace(lines[0]) != "---" {
		return "", content
	}

	var end int
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			end = i
			break
		}
	}
	if end == 0 {
		return "", content
	}

	frontmatter = strings.Join(lines[1:end], "\n")
	body = strings.TrimSpace(strings.Join(lines[end+1:], "\n"))
	return frontmatter, body
}
