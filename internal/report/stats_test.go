package report

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tgwatch/collector/internal/config"
	"tgwatch/collector/internal/database"
	"tgwatch/collector/internal/models"
)

var testAnalytics = config.Analytics{
	Keywords: []string{"Drone", "siren"},
	Locations: []config.LocationGroup{
		{Category: "regions", Region: "North", Cities: []string{"Harbor", "Hill"}},
		{Category: "regions", Region: "South", Cities: []string{"Delta"}},
		{Category: "zones", Region: "Coast", Cities: []string{"Bay"}},
	},
}

func samplePosts() []models.Post {
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	return []models.Post{
		{PostID: "1", Content: "DRONE spotted near Harbor", SourceURL: "https://t.me/alpha/1",
			PublishedDate: day.Add(9 * time.Hour), CreatedAt: day.Add(9*time.Hour + time.Minute)},
		{PostID: "2", Content: "drone again over North", SourceURL: "https://t.me/alpha/2",
			PublishedDate: day.Add(9*time.Hour + 30*time.Minute), CreatedAt: day.Add(9*time.Hour + 33*time.Minute)},
		{PostID: "3", Content: "all quiet", SourceURL: "https://t.me/beta/3",
			PublishedDate: day.Add(24*time.Hour + 18*time.Hour), CreatedAt: day.Add(24*time.Hour + 18*time.Hour + 5*time.Minute)},
	}
}

func TestComputeEmpty(t *testing.T) {
	now := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)
	s := Compute(nil, testAnalytics, now)

	if s.TotalPosts != 0 || s.UniqueChannels != 0 {
		t.Errorf("totals = %d, %d", s.TotalPosts, s.UniqueChannels)
	}
	if s.FirstPost != nil || s.Delay != nil {
		t.Error("empty store produced dates or delays")
	}
	if s.ByChannel == nil || s.ByDate == nil || s.TopWords == nil || s.Locations == nil {
		t.Error("empty store produced nil slices")
	}
	if len(s.Keywords) != 2 || s.Keywords[0].Posts != 0 || s.Keywords[0].Percent != 0 {
		t.Errorf("Keywords = %+v", s.Keywords)
	}

	md := Markdown(s)
	for _, want := range []string{"Total posts: 0", "no posts yet", "## Propagation delay\n- no data"} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q", want)
		}
	}
}

func TestCompute(t *testing.T) {
	now := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	s := Compute(samplePosts(), testAnalytics, now)

	if s.TotalPosts != 3 || s.UniqueChannels != 2 {
		t.Errorf("totals = %d posts, %d channels", s.TotalPosts, s.UniqueChannels)
	}
	if s.ByChannel[0] != (models.ChannelCount{Channel: "alpha", Count: 2}) {
		t.Errorf("ByChannel = %+v", s.ByChannel)
	}
	if s.ByHour[9] != 2 || s.ByHour[18] != 1 {
		t.Errorf("ByHour = %v", s.ByHour)
	}
	if len(s.ByDate) != 2 || s.ByDate[0].Day != "2025-03-01" || s.ByDate[0].Count != 2 {
		t.Errorf("ByDate = %+v", s.ByDate)
	}
	if s.FirstPost.Hour() != 9 || s.LastPost.Day() != 2 {
		t.Errorf("period = %v .. %v", s.FirstPost, s.LastPost)
	}

	drone := s.Keywords[0]
	if drone.Posts != 2 || drone.Percent < 66.6 || drone.Percent > 66.7 {
		t.Errorf("Drone mention = %+v, want 2 posts case-insensitively", drone)
	}
	if s.Keywords[1].Posts != 0 {
		t.Errorf("siren mention = %+v", s.Keywords[1])
	}

	if len(s.Locations) != 2 {
		t.Fatalf("Locations = %+v, want two categories", s.Locations)
	}
	regions := s.Locations[0]
	if regions.Category != "regions" || len(regions.Regions) != 1 {
		t.Fatalf("regions = %+v, want only North", regions)
	}
	north := regions.Regions[0]
	if north.Posts != 1 || len(north.Cities) != 1 || north.Cities[0].Term != "Harbor" {
		t.Errorf("North = %+v", north)
	}
	if len(s.Locations[1].Regions) != 0 {
		t.Errorf("zones = %+v, want no regions", s.Locations[1])
	}

	if s.Delay == nil {
		t.Fatal("Delay = nil")
	}
	if s.Delay.Min != time.Minute || s.Delay.Max != 5*time.Minute || s.Delay.Median != 3*time.Minute {
		t.Errorf("Delay = %+v", s.Delay)
	}

	if len(s.TopWords) == 0 || s.TopWords[0] != (WordCount{Word: "drone", Count: 2}) {
		t.Errorf("TopWords = %+v", s.TopWords)
	}
	for _, w := range s.TopWords {
		if len([]rune(w.Word)) < minWordLength {
			t.Errorf("short word %q counted", w.Word)
		}
	}
}

func TestMarkdownAndWrite(t *testing.T) {
	s := Compute(samplePosts(), testAnalytics, time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC))
	dir := filepath.Join(t.TempDir(), "out")

	path, err := Write(dir, s)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if filepath.Base(path) != FileName {
		t.Errorf("path = %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	md := string(data)
	for _, want := range []string{
		"Total posts: 3",
		"- alpha: 2",
		"- Drone: 2 mentions (66.7%)",
		"#### North",
		"  - Harbor: 1 mentions",
		"- Minimum: 1m0s",
		"09 " + strings.Repeat("#", histogramWidth) + " 2",
		"2025-03-02 " + strings.Repeat("#", histogramWidth/2) + " 1",
		"Report generated: 2025-03-03 00:00:00",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("report missing %q", want)
		}
	}
}

func TestLoad(t *testing.T) {
	db, err := database.Open(filepath.Join(t.TempDir(), "posts.db"), false)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	ctx := context.Background()
	for _, p := range samplePosts() {
		if _, err := db.InsertPost(ctx, &p); err != nil {
			t.Fatal(err)
		}
	}

	s, err := Load(ctx, db, testAnalytics, time.Now())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if s.TotalPosts != 3 || s.UniqueChannels != 2 {
		t.Errorf("Load() totals = %d, %d", s.TotalPosts, s.UniqueChannels)
	}
}
