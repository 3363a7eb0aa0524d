package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Settings is the operator-edited settings file: which channels to poll,
// how the polling interval adapts and which boilerplate to strip from posts.
type Settings struct {
	Channels       []string    `json:"channels" yaml:"channels"`
	CheckIntervals Intervals   `json:"check_intervals" yaml:"check_intervals"`
	TextCleanup    TextCleanup `json:"text_cleanup" yaml:"text_cleanup"`
	Analytics      Analytics   `json:"analytics" yaml:"analytics"`
}

// Intervals bounds the adaptive polling interval, in seconds.
type Intervals struct {
	Initial   int `json:"initial" yaml:"initial"`
	Min       int `json:"min" yaml:"min"`
	Max       int `json:"max" yaml:"max"`
	Increment int `json:"increment" yaml:"increment"`
}

// TextCleanup lists literal phrases and regular expressions removed from post bodies.
type TextCleanup struct {
	RemovePhrases  []string `json:"remove_phrases" yaml:"remove_phrases"`
	RemovePatterns []string `json:"remove_patterns" yaml:"remove_patterns"`

	// Compiled from RemovePatterns at load time; invalid patterns are dropped.
	Patterns []*regexp.Regexp `json:"-" yaml:"-"`
}

// Analytics configures the statistics report.
type Analytics struct {
	Keywords  []string        `json:"keywords" yaml:"keywords"`
	Locations []LocationGroup `json:"locations" yaml:"locations"`
}

// LocationGroup is a region and the cities counted towards it.
type LocationGroup struct {
	Category string   `json:"category" yaml:"category"`
	Region   string   `json:"region" yaml:"region"`
	Cities   []string `json:"cities" yaml:"cities"`
}

// DefaultSettings returns settings with no channels and the default intervals.
func DefaultSettings() *Settings {
	s := &Settings{}
	s.setDefaults()
	return s
}

// LoadSettings reads the settings file at path. It never fails: a missing or
// malformed file is logged and yields DefaultSettings, so the process still
// starts but has nothing to poll.
func LoadSettings(path string) *Settings {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("Failed to read settings file, using defaults")
		return DefaultSettings()
	}

	s, err := ParseSettings(data, filepath.Ext(path))
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("Failed to parse settings file, using defaults")
		return DefaultSettings()
	}

	log.Info().
		Str("path", path).
		Int("channels", len(s.Channels)).
		Int("remove_phrases", len(s.TextCleanup.RemovePhrases)).
		Int("remove_patterns", len(s.TextCleanup.Patterns)).
		Msg("Loaded settings")
	return s
}

// ParseSettings decodes settings from data. Files with a .json extension are
// decoded as JSON, anything else as YAML.
func ParseSettings(data []byte, ext string) (*Settings, error) {
	var s Settings

	if strings.EqualFold(ext, ".json") {
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	s.setDefaults()
	s.TextCleanup.compile()
	return &s, nil
}

// setDefaults applies default values to missing settings
func (s *Settings) setDefaults() {
	iv := &s.CheckIntervals
	if iv.Initial <= 0 {
		iv.Initial = DefaultInitialInterval
	}
	if iv.Min <= 0 {
		iv.Min = DefaultMinInterval
	}
	if iv.Max <= 0 {
		iv.Max = DefaultMaxInterval
	}
	if iv.Increment <= 0 {
		iv.Increment = DefaultIntervalStep
	}
	if iv.Min > iv.Max {
		log.Warn().
			Int("min", iv.Min).
			Int("max", iv.Max).
			Msg("check_intervals.min exceeds max, using default bounds")
		iv.Min = DefaultMinInterval
		iv.Max = DefaultMaxInterval
	}

	if s.Channels == nil {
		s.Channels = []string{}
	}
	if len(s.Analytics.Keywords) == 0 {
		s.Analytics.Keywords = append([]string(nil), defaultKeywords...)
	}
	if len(s.Analytics.Locations) == 0 {
		s.Analytics.Locations = append([]LocationGroup(nil), defaultLocations...)
	}
}

func (tc *TextCleanup) compile() {
	tc.Patterns = tc.Patterns[:0]
	for _, p := range tc.RemovePatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			log.Warn().Err(err).Str("pattern", p).Msg("Skipping invalid remove pattern")
			continue
		}
		tc.Patterns = append(tc.Patterns, re)
	}
}

var defaultKeywords = []string{
	"тревога", "внимание", "опасность", "угроза", "срочно", "fpv", "бпла",
	"Краснодар", "Краснодарский край", "Ростов", "Ростовская область",
}

var defaultLocations = []LocationGroup{
	{Category: "области", Region: "Брянская область", Cities: []string{"Брянск", "Стародуб", "Климово", "Навля"}},
	{Category: "области", Region: "Курская область", Cities: []string{"Курск", "Обоянь"}},
	{Category: "области", Region: "Белгородская область", Cities: []string{"Белгород", "Валуйки", "Борисовка", "Ясные Зори"}},
	{Category: "области", Region: "Ростовская область", Cities: []string{"Ростов", "Таганрог"}},
	{Category: "области", Region: "Орловская область", Cities: []string{"Орёл"}},
	{Category: "области", Region: "Калужская область", Cities: []string{"Калуга"}},
	{Category: "области", Region: "Краснодарский край", Cities: []string{"Краснодар", "Ейск", "Славянск-на-Кубани", "Крымск", "Темрюк"}},
	{Category: "территории", Region: "ЛДНР", Cities: []string{"ДНР", "ЛНР", "Донецк", "Горловка", "Енакиево", "Волноваха", "Константиновка", "Покровск", "Любимовка"}},
	{Category: "территории", Region: "Приазовье", Cities: []string{"Бердянск", "Мариуполь"}},
}
