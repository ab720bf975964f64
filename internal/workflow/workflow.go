// Package workflow reads the inputs a GitHub Actions workflow declares for
// workflow_dispatch and workflow_call triggers.
package workflow

import (
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jenian/iswith/internal/model"
)

// Definition is the part of a workflow file relevant to its inputs
type Definition struct {
	Name     string
	Triggers []string
	Inputs   []model.WorkflowInput
}

// HasTrigger reports whether the workflow runs on the given event
func (d *Definition) HasTrigger(event string) bool {
	return slices.Contains(d.Triggers, event)
}

// Input returns the declared input with the given name, case-insensitively
func (d *Definition) Input(name string) (model.WorkflowInput, bool) {
	for _, in := range d.Inputs {
		if strings.EqualFold(in.Name, name) {
			return in, true
		}
	}
	return model.WorkflowInput{}, false
}

type inputSpec struct {
	Type        string    `yaml:"type"`
	Description string    `yaml:"description"`
	Required    bool      `yaml:"required"`
	Default     yaml.Node `yaml:"default"`
	Options     []string  `yaml:"options"`
}

// Parse reads a workflow file. Inputs keep their declaration order; an input
// declared by both triggers is listed once with both sources.
func Parse(content []byte) (*Definition, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("%w: workflow yaml: %w", model.ErrParse, err)
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: workflow yaml: not a mapping", model.ErrParse)
	}
	root := doc.Content[0]

	def := &Definition{}
	if name := lookup(root, "name"); name != nil && name.Kind == yaml.ScalarNode {
		def.Name = name.Value
	}

	on := lookup(root, "on")
	if on == nil {
		return def, nil
	}
	switch on.Kind {
	case yaml.ScalarNode:
		def.Triggers = []string{on.Value}
	case yaml.SequenceNode:
		for _, n := range on.Content {
			def.Triggers = append(def.Triggers, n.Value)
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(on.Content); i += 2 {
			def.Triggers = append(def.Triggers, on.Content[i].Value)
		}
		for _, source := range []model.Source{model.SourceWorkflowDispatch, model.SourceWorkflowCall} {
			if err := def.addInputs(lookup(lookup(on, string(source)), "inputs"), source); err != nil {
				return nil, err
			}
		}
	}
	return def, nil
}

func (d *Definition) addInputs(inputs *yaml.Node, source model.Source) error {
	if inputs == nil || inputs.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(inputs.Content); i += 2 {
		name := inputs.Content[i].Value
		var decl inputSpec
		if err := inputs.Content[i+1].Decode(&decl); err != nil {
			return fmt.Errorf("%w: input %s: %w", model.ErrParse, name, err)
		}
		in := model.WorkflowInput{
			Name:        name,
			Type:        decl.Type,
			Description: decl.Description,
			Required:    decl.Required,
			Default:     decl.Default.Value,
			Options:     decl.Options,
			Sources:     []model.Source{source},
		}
		if in.Type == "" {
			in.Type = "string"
		}

		idx := slices.IndexFunc(d.Inputs, func(w model.WorkflowInput) bool { return w.Name == name })
		if idx < 0 {
			d.Inputs = append(d.Inputs, in)
			continue
		}
		d.Inputs[idx] = merge(d.Inputs[idx], in)
	}
	return nil
}

// merge keeps the first declaration and fills in what it left empty
func merge(first, second model.WorkflowInput) model.WorkflowInput {
	if first.Description == "" {
		first.Description = second.Description
	}
	if first.Default == "" {
		first.Default = second.Default
	}
	if len(first.Options) == 0 {
		first.Options = second.Options
	}
	first.Required = first.Required || second.Required
	first.Sources = append(first.Sources, second.Sources...)
	return first
}

func lookup(m *yaml.Node, key string) *yaml.Node {
	if m == nil || m.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}
