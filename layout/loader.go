package layout

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// stringOrSlice decodes a YAML scalar or sequence of scalars into a
// []string, realizing the `lambda: string|[string]` shape a layout
// description allows for both Field and Context definitions.
type stringOrSlice []string

func (s *stringOrSlice) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var one string
		if err := value.Decode(&one); err != nil {
			return err
		}
		if one == "" {
			*s = nil
			return nil
		}
		*s = []string{one}
		return nil
	case yaml.SequenceNode:
		var many []string
		if err := value.Decode(&many); err != nil {
			return err
		}
		*s = many
		return nil
	case 0:
		*s = nil
		return nil
	default:
		return fmt.Errorf("lambda: expected a string or a sequence of strings")
	}
}

// fieldYAML is the raw, yaml-tagged shape of a Field definition.
type fieldYAML struct {
	Name       string        `yaml:"name"`
	Required   *bool         `yaml:"required"`
	Lambda     stringOrSlice `yaml:"lambda"`
	TokenStart *int          `yaml:"token_start"`
	TokenEnd   *int          `yaml:"token_end"`
	StartsWith string        `yaml:"starts_with"`
	EndsWith   string        `yaml:"ends_with"`
	Format     string        `yaml:"format"`
	PopOut     *bool         `yaml:"pop_out"`
}

// contextYAML is the raw, yaml-tagged shape of a Context definition.
type contextYAML struct {
	Name           string        `yaml:"name"`
	Parent         string        `yaml:"parent"`
	AlternativeOf  string        `yaml:"alternative_of"`
	Required       *bool         `yaml:"required"`
	Repeat         bool          `yaml:"repeat"`
	OptionalIfEmpty bool         `yaml:"optional_if_empty"`
	AtFixedRow     *int          `yaml:"at_fixed_row"`
	StartsAtRow    *int          `yaml:"starts_at_row"`
	EndsAtRow      *int          `yaml:"ends_at_row"`
	RowSpan        int           `yaml:"row_span"`
	EOP            bool          `yaml:"eop"`
	Lambda         stringOrSlice `yaml:"lambda"`
	StartsWith     string        `yaml:"starts_with"`
	EndsWith       string        `yaml:"ends_with"`
	Format         string        `yaml:"format"`
	Keys           []string      `yaml:"keys"`
	Fields         []fieldYAML   `yaml:"fields"`
	Rows           []contextYAML `yaml:"rows"`
}

// LayoutDef is the decoded, not-yet-built shape of a whole layout
// description: a single name mapped to its ordered top-level contexts.
type LayoutDef struct {
	Name     string
	Contexts []contextYAML
}

// Options configures Load/LoadFile.
type Options struct {
	// ContextTimeout bounds every compiled regex's evaluation.
	// Zero means the 5-second default.
	ContextTimeout time.Duration
}

// DecodeDef decodes a layout description from r without building it,
// so a caller (e.g. a FormatParser driving Scan) can Build a fresh
// Layout instance from the same definition on every attempt.
func DecodeDef(r io.Reader) (*LayoutDef, error) {
	raw := map[string][]contextYAML{}
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&raw); err != nil {
		return nil, NewConfigError(ErrorTypeInternal, "could not decode layout description: "+err.Error(), Position{}, err)
	}
	if len(raw) != 1 {
		return nil, NewConfigError(ErrorTypeInternal, fmt.Sprintf("layout description must have exactly one top-level entry, found %d", len(raw)), Position{}, nil)
	}
	var name string
	var contexts []contextYAML
	for k, v := range raw {
		name, contexts = k, v
	}
	return &LayoutDef{Name: name, Contexts: contexts}, nil
}

// Load decodes a layout description from r and builds a Layout.
func Load(r io.Reader, opts Options) (*Layout, error) {
	def, err := DecodeDef(r)
	if err != nil {
		return nil, err
	}
	return Build(def, opts)
}

// LoadFile decodes a layout description from path and builds a Layout.
// The returned Layout's name is derived from the decoded document, not
// from the file name; path is used only in error messages.
func LoadFile(path string, opts Options) (*Layout, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, NewConfigError(ErrorTypeInternal, "could not open layout file: "+err.Error(), Position{}, err)
	}
	defer f.Close()
	l, err := Load(f, opts)
	if err != nil {
		if ce, ok := err.(*ConfigError); ok {
			ce.Pos.Layout = path
		}
		return nil, err
	}
	return l, nil
}

// Build converts a decoded LayoutDef into a fully resolved Layout,
// applying the documented defaults (required=true, pop_out=true,
// row_span=1 or child-row count) and validating lambda names, parent
// references, alternative_of references, and parent cycles.
func Build(def *LayoutDef, opts Options) (*Layout, error) {
	timeout := opts.ContextTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	contexts := make([]*ContextDef, len(def.Contexts))
	for i, cy := range def.Contexts {
		c, err := buildContext(cy)
		if err != nil {
			return nil, err
		}
		contexts[i] = c
	}
	return NewLayout(def.Name, contexts, timeout)
}

func buildContext(cy contextYAML) (*ContextDef, error) {
	if cy.Name == "" {
		return nil, NewConfigError(ErrorTypeInternal, "context definition missing required \"name\"", Position{}, nil)
	}
	c := &ContextDef{
		Name:            cy.Name,
		AlternativeOf:   cy.AlternativeOf,
		AtFixedRow:      cy.AtFixedRow,
		StartsAtRow:     cy.StartsAtRow,
		EndsAtRow:       cy.EndsAtRow,
		EOP:             cy.EOP,
		RowSpan:         cy.RowSpan,
		Lambda:          []string(cy.Lambda),
		StartsWith:      cy.StartsWith,
		EndsWith:        cy.EndsWith,
		Format:          cy.Format,
		Keys:            cy.Keys,
		Required:        boolDefault(cy.Required, true),
		Repeat:          cy.Repeat,
		OptionalIfEmpty: cy.OptionalIfEmpty,
		ParentName:      cy.Parent,
	}
	for _, fy := range cy.Fields {
		if fy.Name == "" {
			return nil, NewConfigError(ErrorTypeInternal, "field definition missing required \"name\" in context \""+c.Name+"\"", Position{Context: c.Name}, nil)
		}
		c.Fields = append(c.Fields, &FieldDef{
			Name:       fy.Name,
			Lambda:     []string(fy.Lambda),
			TokenStart: fy.TokenStart,
			TokenEnd:   fy.TokenEnd,
			StartsWith: fy.StartsWith,
			EndsWith:   fy.EndsWith,
			Format:     fy.Format,
			PopOut:     boolDefault(fy.PopOut, true),
			Required:   boolDefault(fy.Required, true),
		})
	}
	for _, ry := range cy.Rows {
		child, err := buildContext(ry)
		if err != nil {
			return nil, err
		}
		c.Rows = append(c.Rows, child)
	}
	return c, nil
}

func boolDefault(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// Validate runs a standalone pre-flight diagnostic over def without
// building it: missing names, unknown lambda names, unknown parents,
// unknown alternative_of targets and duplicate names (which Build raises
// fatally on the first encounter), plus keys that name neither a field
// nor a child row of their context, are collected and returned together,
// so a caller can report every such defect in a layout description at
// once. Parent cycles and invalid regexes are not checked here; Build
// still reports those.
func Validate(def *LayoutDef) []error {
	var errs []error
	seen := map[string]bool{}
	var walk func(cy contextYAML)
	walk = func(cy contextYAML) {
		if cy.Name == "" {
			errs = append(errs, NewConfigError(ErrorTypeInternal, "context definition missing required \"name\"", Position{Layout: def.Name}, nil))
		} else if seen[cy.Name] {
			errs = append(errs, NewConfigError(ErrorTypeDuplicateName, "duplicate context name \""+cy.Name+"\"", Position{Layout: def.Name, Context: cy.Name}, nil))
		} else {
			seen[cy.Name] = true
		}
		if err := validateLambdaNames(cy.Lambda); err != nil {
			errs = append(errs, err)
		}
		fieldNames := map[string]bool{}
		for _, fy := range cy.Fields {
			if fy.Name == "" {
				errs = append(errs, NewConfigError(ErrorTypeInternal, "field definition missing required \"name\" in context \""+cy.Name+"\"", Position{Layout: def.Name, Context: cy.Name}, nil))
				continue
			}
			fieldNames[fy.Name] = true
			if err := validateLambdaNames(fy.Lambda); err != nil {
				errs = append(errs, err)
			}
		}
		for _, ry := range cy.Rows {
			if ry.Name != "" {
				fieldNames[ry.Name] = true
			}
		}
		for _, key := range cy.Keys {
			if !fieldNames[key] {
				errs = append(errs, NewConfigError(ErrorTypeInternal, "keys references undeclared field or row \""+key+"\" in context \""+cy.Name+"\"", Position{Layout: def.Name, Context: cy.Name}, nil))
			}
		}
		for _, ry := range cy.Rows {
			walk(ry)
		}
	}
	for _, cy := range def.Contexts {
		walk(cy)
	}

	names := map[string]bool{}
	collectNames(def.Contexts, names)
	for _, cy := range def.Contexts {
		checkReferences(cy, def.Name, names, &errs)
	}
	return errs
}

func collectNames(contexts []contextYAML, into map[string]bool) {
	for _, cy := range contexts {
		if cy.Name != "" {
			into[cy.Name] = true
		}
		collectNames(cy.Rows, into)
	}
}

func checkReferences(cy contextYAML, layoutName string, names map[string]bool, errs *[]error) {
	if cy.Parent != "" && !names[cy.Parent] {
		*errs = append(*errs, NewConfigError(ErrorTypeUnknownParent, "parent refers to unknown context \""+cy.Parent+"\"", Position{Layout: layoutName, Context: cy.Name}, nil))
	}
	if cy.AlternativeOf != "" && !names[cy.AlternativeOf] {
		*errs = append(*errs, NewConfigError(ErrorTypeUnknownAlternative, "alternative_of refers to unknown context \""+cy.AlternativeOf+"\"", Position{Layout: layoutName, Context: cy.Name}, nil))
	}
	for _, ry := range cy.Rows {
		checkReferences(ry, layoutName, names, errs)
	}
}
