package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// FileName is the report written into the report directory.
const FileName = "analytics_report.md"

const histogramWidth = 40

// Write renders s into dir/FileName, creating dir if needed, and returns the file path.
func Write(dir string, s *Stats) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte(Markdown(s)), 0644); err != nil {
		return "", fmt.Errorf("failed to write report %s: %w", path, err)
	}
	return path, nil
}

// Markdown renders the report.
func Markdown(s *Stats) string {
	var b strings.Builder

	b.WriteString("# Telegram Posts Analysis\n\n")

	b.WriteString("## Basic statistics\n")
	fmt.Fprintf(&b, "- Total posts: %s\n", humanize.Comma(int64(s.TotalPosts)))
	fmt.Fprintf(&b, "- Unique channels: %d\n", s.UniqueChannels)
	if s.FirstPost != nil && s.LastPost != nil {
		fmt.Fprintf(&b, "- Period: %s to %s\n", formatTime(*s.FirstPost), formatTime(*s.LastPost))
	} else {
		b.WriteString("- Period: no posts yet\n")
	}
	fmt.Fprintf(&b, "- Mean post length: %.1f characters\n", s.MeanLength)
	fmt.Fprintf(&b, "- Median post length: %.1f characters\n", s.MedianLength)

	if len(s.ByChannel) > 0 {
		b.WriteString("\n## Posts by channel\n")
		for _, c := range s.ByChannel {
			fmt.Fprintf(&b, "- %s: %s\n", c.Channel, humanize.Comma(int64(c.Count)))
		}
	}

	b.WriteString("\n## Alert keywords\n")
	for _, m := range s.Keywords {
		fmt.Fprintf(&b, "- %s: %d mentions (%.1f%%)\n", m.Term, m.Posts, m.Percent)
	}

	b.WriteString("\n## Locations\n")
	for _, cat := range s.Locations {
		fmt.Fprintf(&b, "\n### %s\n", cat.Category)
		if len(cat.Regions) == 0 {
			b.WriteString("- no mentions\n")
		}
		for _, r := range cat.Regions {
			fmt.Fprintf(&b, "\n#### %s\n", r.Term)
			fmt.Fprintf(&b, "- Total mentions: %d (%.1f%%)\n", r.Posts, r.Percent)
			if len(r.Cities) > 0 {
				b.WriteString("- Cities:\n")
				for _, c := range r.Cities {
					fmt.Fprintf(&b, "  - %s: %d mentions (%.1f%%)\n", c.Term, c.Posts, c.Percent)
				}
			}
		}
	}

	b.WriteString("\n## Propagation delay\n")
	if s.Delay != nil {
		fmt.Fprintf(&b, "- Mean: %s\n", formatDuration(s.Delay.Mean))
		fmt.Fprintf(&b, "- Median: %s\n", formatDuration(s.Delay.Median))
		fmt.Fprintf(&b, "- Minimum: %s\n", formatDuration(s.Delay.Min))
		fmt.Fprintf(&b, "- Maximum: %s\n", formatDuration(s.Delay.Max))
	} else {
		b.WriteString("- no data\n")
	}

	if len(s.TopWords) > 0 {
		b.WriteString("\n## Top words\n")
		for _, w := range s.TopWords {
			fmt.Fprintf(&b, "- %s: %d\n", w.Word, w.Count)
		}
	}

	if s.TotalPosts > 0 {
		b.WriteString("\n## Posts by hour (UTC)\n```\n")
		maxHour := 0
		for _, n := range s.ByHour {
			maxHour = max(maxHour, n)
		}
		for h, n := range s.ByHour {
			fmt.Fprintf(&b, "%02d %s %d\n", h, bar(n, maxHour), n)
		}
		b.WriteString("```\n")

		b.WriteString("\n## Posts by date\n```\n")
		maxDay := 0
		for _, d := range s.ByDate {
			maxDay = max(maxDay, d.Count)
		}
		for _, d := range s.ByDate {
			fmt.Fprintf(&b, "%s %s %d\n", d.Day, bar(d.Count, maxDay), d.Count)
		}
		b.WriteString("```\n")
	}

	fmt.Fprintf(&b, "\n---\n*Report generated: %s*\n", s.GeneratedAt.Format(time.DateTime))
	return b.String()
}

func bar(n, maxN int) string {
	if maxN == 0 || n == 0 {
		return ""
	}
	width := n * histogramWidth / maxN
	if width == 0 {
		width = 1
	}
	return strings.Repeat("#", width)
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05 MST")
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		return "-" + (-d).Round(time.Second).String()
	}
	return d.Round(time.Second).String()
}
