package sheet

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/duosync/duosync-go/pkg/clock"
)

// sheetFile is the YAML form of a custom pattern.
type sheetFile struct {
	Name        string        `yaml:"name"`
	Class       string        `yaml:"class"`
	Looping     *bool         `yaml:"looping"`
	LoopPointMs int64         `yaml:"loop_point_ms"`
	Zones       uint8         `yaml:"zones"`
	Segments    []segmentFile `yaml:"segments"`
}

type segmentFile struct {
	AtMs         int64    `yaml:"at_ms"`
	TransitionMs int64    `yaml:"transition_ms"`
	Easing       string   `yaml:"easing"`
	Outputs      []Output `yaml:"outputs"`
}

// LoadYAML parses a pattern definition. The returned sheet is validated
// but has no birth time or checksum; Registry.Load assigns both.
func LoadYAML(r io.Reader) (*Sheet, error) {
	var f sheetFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse sheet: %w", err)
	}

	class, err := ParseClass(f.Class)
	if err != nil {
		return nil, err
	}
	s := &Sheet{
		Name:      f.Name,
		LoopPoint: clock.Millis(f.LoopPointMs),
		Class:     class,
		Looping:   f.Looping == nil || *f.Looping,
		ZoneCount: f.Zones,
	}
	if s.ZoneCount == 0 && len(f.Segments) > 0 {
		s.ZoneCount = uint8(len(f.Segments[0].Outputs))
	}

	for i, sf := range f.Segments {
		easing, err := ParseEasing(sf.Easing)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		s.Segments = append(s.Segments, Segment{
			TimeOffset: clock.Millis(sf.AtMs),
			Transition: clock.Millis(sf.TransitionMs),
			Easing:     easing,
			Outputs:    sf.Outputs,
		})
	}

	if err := Validate(s); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadYAMLFile reads a pattern definition from path.
func LoadYAMLFile(path string) (*Sheet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadYAML(f)
}
