package modelcache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-gl/mathgl/mgl64"
	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/scenerelay/internal/client/animation"
)

// ManifestFile is the per-model manifest file name.
const ManifestFile = "model.yaml"

// yamlNode is the manifest form of a Node.
type yamlNode struct {
	Name       string      `yaml:"name"`
	Position   *[3]float64 `yaml:"position"`
	YawDegrees float64     `yaml:"yaw_degrees"`
	Scale      *[3]float64 `yaml:"scale"`
	Children   []yamlNode  `yaml:"children"`
}

type yamlManifest struct {
	Root  yamlNode         `yaml:"root"`
	Clips []animation.Clip `yaml:"clips"`
}

// ManifestLoader reads models from <Root>/<category>/<id>/model.yaml.
type ManifestLoader struct {
	Root string
}

// Path returns the manifest path for key.
func (l ManifestLoader) Path(key Key) string {
	return filepath.Join(l.Root, string(key.Category), strconv.Itoa(key.ModelID), ManifestFile)
}

// Load reads and converts the manifest for key.
func (l ManifestLoader) Load(ctx context.Context, key Key) (Asset, error) {
	if err := ctx.Err(); err != nil {
		return Asset{}, err
	}
	data, err := os.ReadFile(l.Path(key))
	if err != nil {
		return Asset{}, fmt.Errorf("reading manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest converts manifest YAML into an Asset.
//
// Postcondition: Returns an error if the root is unnamed or any clip has
// an empty name or negative duration.
func ParseManifest(data []byte) (Asset, error) {
	var m yamlManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Asset{}, fmt.Errorf("parsing manifest: %w", err)
	}
	if m.Root.Name == "" {
		return Asset{}, errors.New("manifest root must be named")
	}
	var errs []error
	for i, c := range m.Clips {
		if c.Name == "" {
			errs = append(errs, fmt.Errorf("clip %d: name must not be empty", i))
		}
		if c.Duration < 0 {
			errs = append(errs, fmt.Errorf("clip %q: duration must be >= 0", c.Name))
		}
	}
	if len(errs) > 0 {
		return Asset{}, errors.Join(errs...)
	}
	return Asset{Root: convertNode(m.Root), Clips: m.Clips}, nil
}

func convertNode(y yamlNode) *Node {
	n := &Node{
		Name:        y.Name,
		Orientation: mgl64.QuatRotate(mgl64.DegToRad(y.YawDegrees), mgl64.Vec3{0, 1, 0}),
		Scale:       mgl64.Vec3{1, 1, 1},
	}
	if y.Position != nil {
		n.Position = mgl64.Vec3(*y.Position)
	}
	if y.Scale != nil {
		n.Scale = mgl64.Vec3(*y.Scale)
	}
	for _, c := range y.Children {
		n.Children = append(n.Children, convertNode(c))
	}
	return n
}
