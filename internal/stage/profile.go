package stage

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"celigo/internal/services"
)

//go:embed profiles/builtin.yaml
var builtinProfiles []byte

// MetricsFiles names the CellProfiler measurement tables a profile produces,
// relative to the workspace.
type MetricsFiles struct {
	Image   string `yaml:"image"`
	Objects string `yaml:"objects"`
}

// Profile is an ordered list of stages plus the parameters they share.
type Profile struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Params      map[string]string `yaml:"params"`
	Metrics     MetricsFiles      `yaml:"metrics"`
	Stages      []Spec            `yaml:"stages"`

	// TemplateDir resolves relative template file references for profiles
	// loaded from disk.
	TemplateDir string `yaml:"-"`
}

type profileFile struct {
	Profiles []Profile `yaml:"profiles"`
}

// Catalog holds the known profiles by name.
type Catalog struct {
	profiles map[string]Profile
}

// LoadCatalog returns the built-in profiles, overlaid with the profiles in
// extraPath when it is non-empty. A profile in extraPath replaces a built-in
// of the same name.
func LoadCatalog(extraPath string) (*Catalog, error) {
	builtin, err := decodeProfiles(bytes.NewReader(builtinProfiles), "")
	if err != nil {
		return nil, fmt.Errorf("built-in profiles: %w", err)
	}
	cat := &Catalog{profiles: make(map[string]Profile, len(builtin))}
	for _, p := range builtin {
		cat.profiles[p.Name] = p
	}
	extraPath = strings.TrimSpace(extraPath)
	if extraPath == "" {
		return cat, nil
	}
	f, err := os.Open(extraPath)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "profiles", "open", extraPath, err)
	}
	defer f.Close()
	extra, err := decodeProfiles(f, filepath.Dir(extraPath))
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "profiles", "parse", extraPath, err)
	}
	for _, p := range extra {
		cat.profiles[p.Name] = p
	}
	return cat, nil
}

func decodeProfiles(r io.Reader, dir string) ([]Profile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var file profileFile
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	seen := make(map[string]struct{}, len(file.Profiles))
	for i := range file.Profiles {
		p := &file.Profiles[i]
		p.Name = strings.TrimSpace(p.Name)
		p.TemplateDir = dir
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[p.Name]; dup {
			return nil, fmt.Errorf("profile %q declared twice", p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return file.Profiles, nil
}

// Names lists the catalog's profile names in sorted order.
func (c *Catalog) Names() []string {
	return slices.Sorted(maps.Keys(c.profiles))
}

// Get returns the named profile with overrides applied on top of its params.
func (c *Catalog) Get(name string, overrides map[string]string) (Profile, error) {
	p, ok := c.profiles[strings.TrimSpace(name)]
	if !ok {
		return Profile{}, services.Wrap(services.ErrConfiguration, "profiles", "lookup",
			fmt.Sprintf("unknown profile %q (known: %s)", name, strings.Join(c.Names(), ", ")), nil)
	}
	params := make(map[string]string, len(p.Params)+len(overrides))
	maps.Copy(params, p.Params)
	maps.Copy(params, overrides)
	p.Params = params
	p.Stages = slices.Clone(p.Stages)
	return p, nil
}

// Validate checks stage declarations for problems that would only surface
// mid-run.
func (p Profile) Validate() error {
	if p.Name == "" {
		return errors.New("profile name required")
	}
	if len(p.Stages) == 0 {
		return fmt.Errorf("profile %q declares no stages", p.Name)
	}
	names := make(map[string]struct{}, len(p.Stages))
	for _, s := range p.Stages {
		if err := s.validate(); err != nil {
			return fmt.Errorf("profile %q: %w", p.Name, err)
		}
		if _, dup := names[s.Name]; dup {
			return fmt.Errorf("profile %q: stage %q declared twice", p.Name, s.Name)
		}
		names[s.Name] = struct{}{}
	}
	return nil
}
