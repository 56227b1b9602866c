package registry

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jaennil/guide_helper/backend/tilegateway/pkg/tilemath"
	"gopkg.in/yaml.v3"
)

type LayerClass string

const (
	ClassBase    LayerClass = "base"
	ClassOverlay LayerClass = "overlay"
)

var (
	ErrDuplicateID = errors.New("duplicate layer or chart id")
	ErrReservedID  = errors.New("id collides with a reserved route")
)

// Ids double as cache directory names and as the first path segment of
// chart routes.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

var reservedIDs = map[string]struct{}{
	"tile":    {},
	"tiles":   {},
	"cache":   {},
	"health":  {},
	"charts":  {},
	"layers":  {},
	"metrics": {},
}

type (
	Registry struct {
		DefaultLayer string       `yaml:"defaultLayer" validate:"omitempty,tileid"`
		Layers       []Layer      `yaml:"layers" validate:"dive"`
		Charts       []ChartEntry `yaml:"charts" validate:"dive"`

		layers map[string]Layer
	}

	// Layer maps a layer id to a remote tile-service URL template.
	Layer struct {
		ID         string        `yaml:"id" validate:"required,tileid"`
		URL        string        `yaml:"url" validate:"required,startswith=http"`
		Class      LayerClass    `yaml:"class" validate:"omitempty,oneof=base overlay"`
		Cacheable  bool          `yaml:"cacheable"`
		TMS        bool          `yaml:"tms"`
		Subdomains []string      `yaml:"subdomains"`
		Retina     bool          `yaml:"retina"`
		Referer    string        `yaml:"referer"`
		MaxAge     time.Duration `yaml:"maxAge"`
	}

	ChartEntry struct {
		ID   string `yaml:"id" validate:"required,tileid"`
		Name string `yaml:"name"`
		Path string `yaml:"path" validate:"required"`
	}
)

// RegisterValidations adds the tileid tag used by registry structs.
func RegisterValidations(v *validator.Validate) error {
	return v.RegisterValidation("tileid", func(fl validator.FieldLevel) bool {
		return ValidID(fl.Field().String())
	})
}

// ValidID reports whether s can be used as a cache namespace.
func ValidID(s string) bool {
	return idPattern.MatchString(s)
}

func Load(path string, v *validator.Validate) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry file: %w", err)
	}
	return Parse(data, v)
}

func Parse(data []byte, v *validator.Validate) (*Registry, error) {
	var r Registry
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse registry: %w", err)
	}

	if err := v.Struct(&r); err != nil {
		return nil, fmt.Errorf("invalid registry: %w", err)
	}

	seen := make(map[string]struct{}, len(r.Layers)+len(r.Charts))
	check := func(id string) error {
		if _, ok := reservedIDs[strings.ToLower(id)]; ok {
			return fmt.Errorf("%w: %s", ErrReservedID, id)
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateID, id)
		}
		seen[id] = struct{}{}
		return nil
	}

	r.layers = make(map[string]Layer, len(r.Layers))
	for i := range r.Layers {
		l := &r.Layers[i]
		if err := check(l.ID); err != nil {
			return nil, err
		}
		if l.Class == "" {
			l.Class = ClassBase
		}
		r.layers[l.ID] = *l
	}
	for _, c := range r.Charts {
		if err := check(c.ID); err != nil {
			return nil, err
		}
	}

	if r.DefaultLayer != "" {
		if _, ok := r.layers[r.DefaultLayer]; !ok {
			return nil, fmt.Errorf("default layer %q is not configured", r.DefaultLayer)
		}
	}

	return &r, nil
}

func (r *Registry) Layer(id string) (Layer, bool) {
	l, ok := r.layers[id]
	return l, ok
}

// TileURL substitutes the tile indices into the layer template.
//
// {y} is the north-origin row unless the layer is TMS, {-y} is always the
// south-origin row, {s} picks a subdomain and {r} is the retina suffix.
func (l Layer) TileURL(z, x, y int) string {
	row := y
	if l.TMS {
		row = tilemath.FlippedY(y, z)
	}

	sub := ""
	if len(l.Subdomains) > 0 {
		sub = l.Subdomains[(x+y)%len(l.Subdomains)]
	}

	retina := ""
	if l.Retina {
		retina = "@2x"
	}

	return strings.NewReplacer(
		"{z}", strconv.Itoa(z),
		"{x}", strconv.Itoa(x),
		"{-y}", strconv.Itoa(tilemath.FlippedY(y, z)),
		"{y}", strconv.Itoa(row),
		"{s}", sub,
		"{r}", retina,
	).Replace(l.URL)
}
