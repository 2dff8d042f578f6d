package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aluiziolira/go-comic-fetcher/models"
	"github.com/aluiziolira/go-comic-fetcher/parser"
)

// DefaultSources returns the built-in comic list.
func DefaultSources() []models.Source {
	return []models.Source{
		{Name: "Left-handed Toons", BaseURL: "http://www.lefthandedtoons.com/", Selector: ".comicimage", CheckForUpdate: true},
		{Name: "Buttersafe", BaseURL: "http://buttersafe.com/", Selector: "#comic img", CheckForUpdate: true},
		{Name: "Two Guys and Guy", BaseURL: "http://www.twogag.com/", Selector: "div#comic div a img", CheckForUpdate: true},
		{Name: "Savage Chickens", BaseURL: "http://www.savagechickens.com/", Selector: "div.entry_content p img", CheckForUpdate: true},
		{Name: "Channelate", BaseURL: "http://www.channelate.com/", Selector: "div#comic img", CheckForUpdate: true},
		{Name: "Extra Ordinary", BaseURL: "http://www.exocomics.com/", Selector: "a.comic img", CheckForUpdate: true},
		{Name: "Wonderella", BaseURL: "http://nonadventures.com/", Selector: "div#comic img", CheckForUpdate: true},
		{Name: "Moonbeard", BaseURL: "http://moonbeard.com/", Selector: "div#comic div a img", CheckForUpdate: true},
		{Name: "Happle Tea", BaseURL: "http://www.happletea.com/", Selector: "div#comic img", CheckForUpdate: true},
	}
}

type sourcesFile struct {
	Sources []sourceEntry `yaml:"sources"`
}

// sourceEntry keeps check_for_update optional so it can default to true.
type sourceEntry struct {
	Name             string `yaml:"name"`
	BaseURL          string `yaml:"base_url"`
	Selector         string `yaml:"selector"`
	RelativeImageURL bool   `yaml:"relative_image_url"`
	CheckForUpdate   *bool  `yaml:"check_for_update"`
}

// LoadSources reads and validates a YAML sources file.
func LoadSources(path string) ([]models.Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sources file: %w", err)
	}
	sources, err := ParseSources(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sources, nil
}

// ParseSources decodes a YAML document of the form `sources: [...]`.
func ParseSources(data []byte) ([]models.Source, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file sourcesFile
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	sources := make([]models.Source, 0, len(file.Sources))
	for _, entry := range file.Sources {
		check := true
		if entry.CheckForUpdate != nil {
			check = *entry.CheckForUpdate
		}
		sources = append(sources, models.Source{
			Name:             entry.Name,
			BaseURL:          entry.BaseURL,
			Selector:         entry.Selector,
			RelativeImageURL: entry.RelativeImageURL,
			CheckForUpdate:   check,
		})
	}

	if err := parser.ValidateSources(sources); err != nil {
		return nil, fmt.Errorf("sources validation failed: %w", err)
	}
	return sources, nil
}
