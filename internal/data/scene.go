package data

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/argusengine/argus/internal/core/pool"
	"github.com/argusengine/argus/internal/scene"
)

// Point is a yaml-friendly 2D coordinate.
type Point struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

func (p Point) vec() scene.Vec2 { return scene.Vec2{X: p.X, Y: p.Y} }

// GroupEntry defines a named group. Parent refers to another group by name.
type GroupEntry struct {
	Name   string `yaml:"name"`
	Parent string `yaml:"parent"`
	Offset Point  `yaml:"offset"`
}

// ObjectEntry defines a render object. Glyph must be a single character.
type ObjectEntry struct {
	Name     string `yaml:"name"`
	Glyph    string `yaml:"glyph"`
	Color    string `yaml:"color"`
	Position Point  `yaml:"position"`
	Velocity Point  `yaml:"velocity"`
	Z        int    `yaml:"z"`
	Group    string `yaml:"group"`
}

type LightEntry struct {
	Position  Point   `yaml:"position"`
	Radius    float64 `yaml:"radius"`
	Intensity float64 `yaml:"intensity"`
}

// SceneFile is the on-disk layout of data/scene.yaml.
type SceneFile struct {
	Groups  []GroupEntry  `yaml:"groups"`
	Objects []ObjectEntry `yaml:"objects"`
	Lights  []LightEntry  `yaml:"lights"`
}

// LoadSceneFile loads and validates a scene description.
func LoadSceneFile(path string) (*SceneFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scene file: %w", err)
	}
	return ParseScene(raw)
}

// ParseScene decodes a scene description from yaml.
func ParseScene(raw []byte) (*SceneFile, error) {
	var f SceneFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse scene file: %w", err)
	}
	for i, o := range f.Objects {
		if len([]rune(o.Glyph)) != 1 {
			return nil, fmt.Errorf("object %d (%s): glyph %q must be one character", i, o.Name, o.Glyph)
		}
	}
	seen := make(map[string]bool, len(f.Groups))
	for _, g := range f.Groups {
		if g.Name == "" {
			return nil, errors.New("group without a name")
		}
		if seen[g.Name] {
			return nil, fmt.Errorf("duplicate group %q", g.Name)
		}
		seen[g.Name] = true
	}
	return &f, nil
}

// Populated maps names from the scene file to the handles they received.
type Populated struct {
	Groups  map[string]pool.Handle
	Objects map[string]pool.Handle
	Lights  []pool.Handle
}

// Populate spawns everything in f into s. Groups may reference parents
// declared later in the file. An unknown group or parent name is an error and
// leaves s untouched.
func (f *SceneFile) Populate(s *scene.Scene) (*Populated, error) {
	names := make(map[string]bool, len(f.Groups))
	for _, g := range f.Groups {
		names[g.Name] = true
	}
	for _, g := range f.Groups {
		if g.Parent != "" && !names[g.Parent] {
			return nil, fmt.Errorf("group %q: unknown parent %q", g.Name, g.Parent)
		}
	}
	for _, o := range f.Objects {
		if o.Group != "" && !names[o.Group] {
			return nil, fmt.Errorf("object %q: unknown group %q", o.Name, o.Group)
		}
	}

	out := &Populated{
		Groups:  make(map[string]pool.Handle, len(f.Groups)),
		Objects: make(map[string]pool.Handle, len(f.Objects)),
	}
	for _, g := range f.Groups {
		out.Groups[g.Name] = s.SpawnGroup(scene.Group{Name: g.Name, Offset: g.Offset.vec()})
	}
	for _, g := range f.Groups {
		if g.Parent == "" {
			continue
		}
		parent := out.Groups[g.Parent]
		s.UpdateGroup(out.Groups[g.Name], func(sg *scene.Group) { sg.Parent = parent })
	}
	for _, o := range f.Objects {
		h := s.SpawnObject(scene.RenderObject{
			Name:     o.Name,
			Glyph:    []rune(o.Glyph)[0],
			Color:    o.Color,
			Position: o.Position.vec(),
			Velocity: o.Velocity.vec(),
			Z:        o.Z,
			Group:    out.Groups[o.Group],
		})
		if o.Name != "" {
			out.Objects[o.Name] = h
		}
	}
	for _, l := range f.Lights {
		out.Lights = append(out.Lights, s.SpawnLight(scene.Light{
			Position:  l.Position.vec(),
			Radius:    l.Radius,
			Intensity: l.Intensity,
		}))
	}
	return out, nil
}
