package script

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadOptions overrides parts of the script at load time.
type LoadOptions struct {
	Output   string   // replaces the script's output directory when set
	Sequence []string // replaces the script's run sequences when set
}

type rawScript struct {
	Output   string            `yaml:"output"`
	LibPath  []string          `yaml:"lib_path"`
	ExecPath []string          `yaml:"exec_path"`
	Modules  yaml.Node         `yaml:"modules"`
	Groups   yaml.Node         `yaml:"groups"`
	Concats  yaml.Node         `yaml:"concats"`
	Run      []string          `yaml:"run"`
	Options  map[string]string `yaml:"options"`
}

type rawModule struct {
	Exec    string    `yaml:"exec"`
	Outputs []string  `yaml:"outputs"`
	Params  yaml.Node `yaml:"params"`
}

// Load reads a benchmark script from disk and builds the module graph.
func Load(path string, opts LoadOptions) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve script path: %w", err)
	}
	return Parse(data, absPath, opts)
}

// Parse builds the module graph from script source. path is used to resolve
// relative library and executable directories.
func Parse(data []byte, path string, opts LoadOptions) (*Script, error) {
	var raw rawScript
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}

	s := &Script{
		Path:    path,
		Dir:     filepath.Dir(path),
		Source:  string(data),
		Modules: make(map[string]*Module),
	}

	if err := s.loadModules(&raw.Modules); err != nil {
		return nil, err
	}

	groups, err := loadNameLists(&raw.Groups, "groups")
	if err != nil {
		return nil, err
	}
	concats, err := loadNameLists(&raw.Concats, "concats")
	if err != nil {
		return nil, err
	}
	for kind, sets := range map[string]map[string][]string{"group": groups, "concat": concats} {
		for name, members := range sets {
			if _, clash := s.Modules[name]; clash {
				return nil, fmt.Errorf("%s %q shadows a module of the same name", kind, name)
			}
			for _, member := range members {
				if _, ok := s.Modules[member]; !ok {
					return nil, fmt.Errorf("%s %q references unknown module %q", kind, name, member)
				}
			}
		}
	}

	output := raw.Output
	if opts.Output != "" {
		output = opts.Output
	}
	if output == "" {
		output = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	s.Runtime = &Runtime{
		Output:   filepath.Clean(output),
		LibPath:  s.resolveDirs(raw.LibPath),
		ExecPath: s.resolveDirs(raw.ExecPath),
		Groups:   groups,
		Concats:  concats,
		Options:  raw.Options,
	}
	if s.Runtime.Options == nil {
		s.Runtime.Options = map[string]string{}
	}

	sequences := raw.Run
	if len(opts.Sequence) > 0 {
		sequences = opts.Sequence
	}
	if len(sequences) == 0 {
		return nil, fmt.Errorf("script defines no run sequence")
	}
	for _, seq := range sequences {
		pipelines, err := s.expandSequence(seq)
		if err != nil {
			return nil, err
		}
		for _, p := range pipelines {
			if !s.hasPipeline(p) {
				s.Pipelines = append(s.Pipelines, p)
			}
		}
	}

	for _, p := range s.Pipelines {
		for _, m := range p.Modules {
			if !slices.Contains(s.Runtime.SequenceOrdering, m.Name) {
				s.Runtime.SequenceOrdering = append(s.Runtime.SequenceOrdering, m.Name)
			}
		}
	}

	return s, nil
}

func (s *Script) loadModules(node *yaml.Node) error {
	if node.Kind == 0 {
		return fmt.Errorf("script defines no modules")
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: modules must be a mapping", node.Line)
	}
	for i := 0; i < len(node.Content); i += 2 {
		name := strings.TrimSpace(node.Content[i].Value)
		var raw rawModule
		if err := node.Content[i+1].Decode(&raw); err != nil {
			return fmt.Errorf("module %q: %w", name, err)
		}
		mod, err := newModule(name, raw)
		if err != nil {
			return err
		}
		if _, dup := s.Modules[name]; dup {
			return fmt.Errorf("module %q declared twice", name)
		}
		s.Modules[name] = mod
		s.Order = append(s.Order, name)
	}
	return nil
}

func newModule(name string, raw rawModule) (*Module, error) {
	if name == "" {
		return nil, fmt.Errorf("module with empty name")
	}
	if strings.ContainsAny(name, `/\*(), `) {
		return nil, fmt.Errorf("module %q: invalid character in name", name)
	}
	if strings.TrimSpace(raw.Exec) == "" {
		return nil, fmt.Errorf("module %q: exec is required", name)
	}
	if len(raw.Outputs) == 0 {
		return nil, fmt.Errorf("module %q: at least one output is required", name)
	}
	for _, out := range raw.Outputs {
		if out == "" || strings.ContainsAny(out, `/\`) {
			return nil, fmt.Errorf("module %q: invalid output target %q", name, out)
		}
	}

	mod := &Module{Name: name, Exec: strings.TrimSpace(raw.Exec), Outputs: raw.Outputs}
	if raw.Params.Kind == 0 {
		return mod, nil
	}
	if raw.Params.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("module %q: params must be a mapping", name)
	}
	for i := 0; i < len(raw.Params.Content); i += 2 {
		key := raw.Params.Content[i].Value
		values, err := scalarValues(raw.Params.Content[i+1])
		if err != nil {
			return nil, fmt.Errorf("module %q param %q: %w", name, key, err)
		}
		mod.Params = append(mod.Params, Param{Name: key, Values: values})
	}
	return mod, nil
}

func scalarValues(node *yaml.Node) ([]string, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		return []string{node.Value}, nil
	case yaml.SequenceNode:
		if len(node.Content) == 0 {
			return nil, fmt.Errorf("empty value list")
		}
		values := make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: only scalar values are supported", item.Line)
			}
			values = append(values, item.Value)
		}
		return values, nil
	default:
		return nil, fmt.Errorf("line %d: expected scalar or list", node.Line)
	}
}

func loadNameLists(node *yaml.Node, field string) (map[string][]string, error) {
	out := map[string][]string{}
	if node.Kind == 0 {
		return out, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: %s must be a mapping", node.Line, field)
	}
	for i := 0; i < len(node.Content); i += 2 {
		name := node.Content[i].Value
		values, err := scalarValues(node.Content[i+1])
		if err != nil {
			return nil, fmt.Errorf("%s %q: %w", field, name, err)
		}
		out[name] = values
	}
	return out, nil
}

// expandSequence turns "a * (b, c) * group" into its concrete pipelines.
func (s *Script) expandSequence(seq string) ([]Pipeline, error) {
	terms := strings.Split(seq, "*")
	alternatives := make([][]*Module, 0, len(terms))
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			return nil, fmt.Errorf("sequence %q: empty step", seq)
		}
		mods, err := s.resolveTerm(term)
		if err != nil {
			return nil, fmt.Errorf("sequence %q: %w", seq, err)
		}
		alternatives = append(alternatives, mods)
	}

	pipelines := [][]*Module{{}}
	for _, alts := range alternatives {
		next := make([][]*Module, 0, len(pipelines)*len(alts))
		for _, prefix := range pipelines {
			for _, m := range alts {
				if slices.Contains(prefix, m) {
					return nil, fmt.Errorf("sequence %q: module %q appears twice in one pipeline", seq, m.Name)
				}
				next = append(next, append(slices.Clone(prefix), m))
			}
		}
		pipelines = next
	}

	out := make([]Pipeline, len(pipelines))
	for i, mods := range pipelines {
		out[i] = Pipeline{Modules: mods}
	}
	return out, nil
}

func (s *Script) resolveTerm(term string) ([]*Module, error) {
	var names []string
	switch {
	case strings.HasPrefix(term, "(") && strings.HasSuffix(term, ")"):
		for _, n := range strings.Split(term[1:len(term)-1], ",") {
			names = append(names, strings.TrimSpace(n))
		}
	default:
		if members, ok := s.Runtime.Groups[term]; ok {
			names = members
		} else if members, ok := s.Runtime.Concats[term]; ok {
			names = members
		} else {
			names = []string{term}
		}
	}

	mods := make([]*Module, 0, len(names))
	for _, n := range names {
		m, ok := s.Modules[n]
		if !ok {
			return nil, fmt.Errorf("unknown module or group %q", n)
		}
		mods = append(mods, m)
	}
	return mods, nil
}

func (s *Script) hasPipeline(p Pipeline) bool {
	for _, existing := range s.Pipelines {
		if slices.Equal(existing.Captain(), p.Captain()) {
			return true
		}
	}
	return false
}

func (s *Script) resolveDirs(dirs []string) []string {
	out := make([]string, 0, len(dirs))
	for _, d := range dirs {
		if !filepath.IsAbs(d) {
			d = filepath.Join(s.Dir, d)
		}
		out = append(out, filepath.Clean(d))
	}
	return out
}
