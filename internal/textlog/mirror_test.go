package textlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tgwatch/collector/internal/models"
)

func post(id, content string, published time.Time) *models.Post {
	return &models.Post{
		PostID:        id,
		Content:       content,
		PublishedDate: published,
		SourceURL:     "https://t.me/alpha/" + id,
	}
}

func TestFormatBlock(t *testing.T) {
	p := post("7", "  hello  ", time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC))
	want := "[2025-03-01 10:30:00+00:00] hello\nSource: https://t.me/alpha/7"
	if got := FormatBlock(p); got != want {
		t.Errorf("FormatBlock() = %q, want %q", got, want)
	}
}

func TestAppendKeepsNewestFirst(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror.txt")
	m := New(path)
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	appends := []*models.Post{
		post("1", "first", base),
		post("2", "third\n\nwith a second paragraph", base.Add(2*time.Hour)),
		post("3", "second", base.Add(time.Hour)),
	}
	for i, p := range appends {
		summary := Summary{Total: i + 1, Channels: []models.ChannelCount{{Channel: "alpha", Count: i + 1}}}
		if err := m.Append(p, summary); err != nil {
			t.Fatalf("Append(%s) error = %v", p.PostID, err)
		}
	}

	blocks, err := m.Blocks()
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 3 {
		t.Fatalf("got %d blocks, want 3: %q", len(blocks), blocks)
	}
	for i, want := range []string{"third", "second", "first"} {
		if !strings.Contains(blocks[i], "] "+want) {
			t.Errorf("block %d = %q, want %q", i, blocks[i], want)
		}
	}
	if !strings.Contains(blocks[0], "with a second paragraph") {
		t.Error("paragraph break split a post into two blocks")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if strings.Count(content, summaryTitle) != 1 {
		t.Errorf("summary appears %d times, want once", strings.Count(content, summaryTitle))
	}
	if !strings.Contains(content, "Total posts collected: 3") {
		t.Error("summary total not refreshed")
	}
	if !strings.Contains(content, "- alpha: 3 posts") {
		t.Error("per-channel line missing")
	}
}

func TestRenderSummarySingular(t *testing.T) {
	out := RenderSummary(Summary{Total: 1, Channels: []models.ChannelCount{{Channel: "beta", Count: 1}}})
	if !strings.Contains(out, "- beta: 1 post\n") {
		t.Errorf("RenderSummary() = %q", out)
	}
	if !strings.HasPrefix(out, "\n\n"+Delimiter) {
		t.Error("summary must start after a blank line")
	}
}

func TestParseBlocksIgnoresSummary(t *testing.T) {
	content := "[2025-03-01 10:00:00+00:00] a\nSource: x" +
		RenderSummary(Summary{Total: 1})
	blocks := ParseBlocks(content)
	if len(blocks) != 1 {
		t.Fatalf("ParseBlocks() = %q, want one block", blocks)
	}
}
