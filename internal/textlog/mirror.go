// Package textlog maintains the human-readable companion of the post store: a
// plain-text file holding every post newest-first, followed by a summary block.
package textlog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"tgwatch/collector/internal/models"
)

const (
	// DateLayout is how publication dates are printed in block headers.
	DateLayout = "2006-01-02 15:04:05.999999-07:00"

	blockSeparator = "\n\n"
	summaryTitle   = "SUMMARY OF COLLECTED POSTS"
)

// Delimiter frames the summary block so it can be found and stripped before a rewrite.
var Delimiter = strings.Repeat("=", 50)

// Summary is the trailer regenerated after every rewrite.
type Summary struct {
	Total    int
	Channels []models.ChannelCount
}

// Mirror rewrites the text file on every appended post.
type Mirror struct {
	path string
	mu   sync.Mutex
}

// New creates a mirror writing to path. The file is created on first append.
func New(path string) *Mirror {
	return &Mirror{path: path}
}

// Path returns the mirror file location.
func (m *Mirror) Path() string {
	return m.path
}

// Append adds post to the file, re-sorts every block by publication date
// (newest first) and rewrites the file with a fresh summary trailer.
func (m *Mirror) Append(post *models.Post, summary Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	blocks, err := m.readBlocks()
	if err != nil {
		return err
	}

	blocks = append(blocks, FormatBlock(post))
	sortBlocks(blocks)

	return m.write(blocks, summary)
}

// Blocks returns the post blocks currently in the file, without the summary.
func (m *Mirror) Blocks() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readBlocks()
}

// FormatBlock renders one post as "[<published_date>] <content>\nSource: <source_url>".
func FormatBlock(post *models.Post) string {
	return fmt.Sprintf("[%s] %s\nSource: %s",
		post.PublishedDate.UTC().Format(DateLayout),
		strings.TrimSpace(post.Content),
		post.SourceURL)
}

// RenderSummary renders the trailer, including its leading blank lines.
func RenderSummary(s Summary) string {
	lines := []string{
		blockSeparator + Delimiter,
		summaryTitle,
		Delimiter,
		fmt.Sprintf("\nTotal posts collected: %d", s.Total),
		"\nPosts by channel:",
	}
	for _, c := range s.Channels {
		lines = append(lines, fmt.Sprintf("- %s: %d %s", c.Channel, c.Count, pluralPosts(c.Count)))
	}
	lines = append(lines, "\n"+Delimiter)
	return strings.Join(lines, "\n")
}

func pluralPosts(n int) string {
	if n == 1 {
		return "post"
	}
	return "posts"
}

func (m *Mirror) readBlocks() ([]string, error) {
	data, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read mirror %s: %w", m.path, err)
	}
	return ParseBlocks(string(data)), nil
}

// ParseBlocks splits mirror file content into post blocks, dropping the
// summary trailer. Paragraph breaks inside a post are kept: a piece only
// starts a new block when it opens with a bracketed publication date.
func ParseBlocks(content string) []string {
	if i := strings.Index(content, Delimiter+"\n"+summaryTitle); i >= 0 {
		content = content[:i]
	}

	var blocks []string
	for _, piece := range strings.Split(content, blockSeparator) {
		if strings.TrimSpace(piece) == "" {
			continue
		}
		if _, ok := blockDate(piece); ok || len(blocks) == 0 {
			blocks = append(blocks, strings.Trim(piece, "\n"))
			continue
		}
		blocks[len(blocks)-1] += blockSeparator + strings.Trim(piece, "\n")
	}
	return blocks
}

// blockDate extracts the publication date from a block header.
func blockDate(block string) (time.Time, bool) {
	if !strings.HasPrefix(block, "[") {
		return time.Time{}, false
	}
	end := strings.Index(block, "]")
	if end < 0 {
		return time.Time{}, false
	}
	t, err := time.Parse(DateLayout, block[1:end])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// sortBlocks orders blocks newest first; undated blocks sink to the bottom.
func sortBlocks(blocks []string) {
	sort.SliceStable(blocks, func(i, j int) bool {
		ti, _ := blockDate(blocks[i])
		tj, _ := blockDate(blocks[j])
		return ti.After(tj)
	})
}

func (m *Mirror) write(blocks []string, summary Summary) error {
	var b strings.Builder
	b.WriteString(strings.Join(blocks, blockSeparator))
	b.WriteString(RenderSummary(summary))

	dir := filepath.Dir(m.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(m.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp mirror: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write mirror: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close mirror: %w", err)
	}
	if err := os.Rename(tmpName, m.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace mirror %s: %w", m.path, err)
	}
	return nil
}
