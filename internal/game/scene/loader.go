package scene

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/scenerelay/internal/game/character"
)

// DialogSource produces dialog lines from a named generator.
type DialogSource interface {
	Generate(fn, npcName, sceneKey string) ([]string, error)
}

// yamlCatalog is the top-level YAML structure for the scene catalog.
type yamlCatalog struct {
	DefaultScene string      `yaml:"default_scene"`
	Scenes       []yamlScene `yaml:"scenes"`
}

type yamlScene struct {
	Key         string           `yaml:"key"`
	Floor       yamlFloor        `yaml:"floor"`
	Environment *yamlEnvironment `yaml:"environment"`
	NPCs        []yamlNpc        `yaml:"npcs"`
}

type yamlFloor struct {
	Color     string `yaml:"color"`
	TextureID int    `yaml:"texture_id"`
}

type yamlEnvironment struct {
	ModelID        int                 `yaml:"model_id"`
	SpawnScale     []float64           `yaml:"spawn_scale"`
	SpawnPosition  []float64           `yaml:"spawn_position"`
	SpawnYaw       float64             `yaml:"spawn_yaw_degrees"`
	PhysicsObjects []yamlPhysicsObject `yaml:"physics_objects"`
}

type yamlPhysicsObject struct {
	Name  string `yaml:"name"`
	Shape string `yaml:"shape"`
}

type yamlNpc struct {
	Name         string    `yaml:"name"`
	ModelID      int       `yaml:"model_id"`
	Position     []float64 `yaml:"position"`
	YawDegrees   float64   `yaml:"yaw_degrees"`
	Dialog       []string  `yaml:"dialog"`
	DialogScript string    `yaml:"dialog_script"`
}

// LoadCatalogFromFile reads and validates a scene catalog YAML file.
//
// Precondition: path must point to a valid catalog file. dialogs may be nil
// when no NPC uses dialog_script.
// Postcondition: Returns a populated Registry or a non-nil error.
func LoadCatalogFromFile(path string, dialogs DialogSource) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scene catalog %s: %w", path, err)
	}
	return LoadCatalogFromBytes(data, dialogs)
}

// LoadCatalogFromBytes parses and validates a scene catalog from YAML bytes.
//
// Postcondition: Returns a populated Registry or a non-nil error.
func LoadCatalogFromBytes(data []byte, dialogs DialogSource) (*Registry, error) {
	var file yamlCatalog
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing scene catalog YAML: %w", err)
	}
	if err := validateCatalog(file); err != nil {
		return nil, fmt.Errorf("validating scene catalog: %w", err)
	}

	scenes := make([]*Scene, 0, len(file.Scenes))
	for _, ys := range file.Scenes {
		s, err := convertYAMLScene(ys, dialogs)
		if err != nil {
			return nil, fmt.Errorf("scene %q: %w", ys.Key, err)
		}
		scenes = append(scenes, s)
	}
	return NewRegistry(file.DefaultScene, scenes...)
}

func validateCatalog(c yamlCatalog) error {
	var errs []string
	if len(c.Scenes) == 0 {
		errs = append(errs, "at least one scene is required")
	}
	for i, s := range c.Scenes {
		prefix := fmt.Sprintf("scenes[%d]", i)
		if strings.TrimSpace(s.Key) == "" {
			errs = append(errs, prefix+".key must not be empty")
		}
		if env := s.Environment; env != nil {
			if env.ModelID < 1 {
				errs = append(errs, fmt.Sprintf("%s.environment.model_id must be >= 1, got %d", prefix, env.ModelID))
			}
			if env.SpawnScale != nil && len(env.SpawnScale) != 3 {
				errs = append(errs, prefix+".environment.spawn_scale must have 3 components")
			}
			if env.SpawnPosition != nil && len(env.SpawnPosition) != 3 {
				errs = append(errs, prefix+".environment.spawn_position must have 3 components")
			}
			for j, po := range env.PhysicsObjects {
				if po.Name == "" {
					errs = append(errs, fmt.Sprintf("%s.environment.physics_objects[%d].name must not be empty", prefix, j))
				}
				if !Shape(po.Shape).Valid() {
					errs = append(errs, fmt.Sprintf("%s.environment.physics_objects[%d].shape must be one of [box, sphere], got %q", prefix, j, po.Shape))
				}
			}
		}
		for j, n := range s.NPCs {
			np := fmt.Sprintf("%s.npcs[%d]", prefix, j)
			if strings.TrimSpace(n.Name) == "" {
				errs = append(errs, np+".name must not be empty")
			}
			if n.ModelID < 1 {
				errs = append(errs, fmt.Sprintf("%s.model_id must be >= 1, got %d", np, n.ModelID))
			}
			if len(n.Position) != 3 {
				errs = append(errs, np+".position must have 3 components")
			}
			if len(n.Dialog) == 0 && n.DialogScript == "" {
				errs = append(errs, np+" needs dialog or dialog_script")
			}
		}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// convertYAMLScene converts the parsed YAML structures into domain types.
func convertYAMLScene(ys yamlScene, dialogs DialogSource) (*Scene, error) {
	settings := Settings{
		Floor: Floor{Color: ys.Floor.Color, TextureID: ys.Floor.TextureID},
	}
	if ye := ys.Environment; ye != nil {
		env := &Environment{
			ModelID:       ye.ModelID,
			SpawnScale:    vec3Or(ye.SpawnScale, mgl64.Vec3{1, 1, 1}),
			SpawnPosition: vec3Or(ye.SpawnPosition, mgl64.Vec3{}),
			SpawnRotation: character.YawQuat(ye.SpawnYaw),
		}
		for _, po := range ye.PhysicsObjects {
			env.PhysicsObjects = append(env.PhysicsObjects, PhysicsObject{Name: po.Name, Shape: Shape(po.Shape)})
		}
		settings.Environment = env
	}

	npcs := make([]*character.Npc, 0, len(ys.NPCs))
	for _, yn := range ys.NPCs {
		lines := yn.Dialog
		if yn.DialogScript != "" {
			if dialogs == nil {
				return nil, fmt.Errorf("npc %q uses dialog_script %q but scripting is disabled", yn.Name, yn.DialogScript)
			}
			generated, err := dialogs.Generate(yn.DialogScript, yn.Name, ys.Key)
			if err != nil {
				return nil, fmt.Errorf("npc %q: %w", yn.Name, err)
			}
			lines = append(append([]string{}, lines...), generated...)
		}
		dialog := character.NewDialog(lines...)
		if dialog.Len() == 0 {
			return nil, fmt.Errorf("npc %q has no dialog lines", yn.Name)
		}
		pos := mgl64.Vec3{yn.Position[0], yn.Position[1], yn.Position[2]}
		npcs = append(npcs, character.NewNpc(yn.Name, yn.ModelID, pos, yn.YawDegrees, dialog))
	}

	return NewScene(ys.Key, settings, npcs), nil
}

func vec3Or(v []float64, def mgl64.Vec3) mgl64.Vec3 {
	if len(v) != 3 {
		return def
	}
	return mgl64.Vec3{v[0], v[1], v[2]}
}
