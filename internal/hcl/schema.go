package hcl

import "github.com/hashicorp/hcl/v2"

// optionsRoot is decoded first, without an evaluation context, so option
// values are known before anything else is evaluated.
type optionsRoot struct {
	Options []*optionBlock `hcl:"option,block"`
	Remain  hcl.Body       `hcl:",remain"`
}

// fileRoot holds the remaining top-level blocks of one script.
type fileRoot struct {
	Properties []*propertyBlock `hcl:"property,block"`
	Projects   []*projectBlock  `hcl:"project,block"`
}

type optionBlock struct {
	Name        string         `hcl:"name,label"`
	Default     hcl.Expression `hcl:"default,optional"`
	Description string         `hcl:"description,optional"`
}

// propertyBlock declares the session-wide shape of a property.
type propertyBlock struct {
	Name  string         `hcl:"name,label"`
	Type  hcl.Expression `hcl:"type"`
	Merge string         `hcl:"merge,optional"`
}

type projectBlock struct {
	ID      string         `hcl:"id,label"`
	Version string         `hcl:"version,optional"`
	Dir     string         `hcl:"dir,optional"`
	Targets []*targetBlock `hcl:"target,block"`
}

type targetBlock struct {
	Name       string           `hcl:"name,label"`
	Depends    []*dependsBlock  `hcl:"depends,block"`
	Properties []*valueBlock    `hcl:"property,block"`
	Operators  []*operatorBlock `hcl:"operator,block"`
}

// dependsBlock names a dependency, either "target" within the same project
// or a qualified "project@target".
type dependsBlock struct {
	Target string `hcl:"target,label"`
	Public bool   `hcl:"public,optional"`
}

// valueBlock writes a property of the enclosing target.
type valueBlock struct {
	Name   string         `hcl:"name,label"`
	Value  hcl.Expression `hcl:"value"`
	Export bool           `hcl:"export,optional"`
	Append bool           `hcl:"append,optional"`
}

type operatorBlock struct {
	Name        string           `hcl:"name,label"`
	Commands    hcl.Expression   `hcl:"commands"`
	Variables   hcl.Expression   `hcl:"variables,optional"`
	Explicit    bool             `hcl:"explicit,optional"`
	SyncIO      bool             `hcl:"syncio,optional"`
	Restat      bool             `hcl:"restat,optional"`
	RunAlways   bool             `hcl:"run_always,optional"`
	Depfile     string           `hcl:"depfile,optional"`
	DepsPrefix  string           `hcl:"deps_prefix,optional"`
	Description string           `hcl:"description,optional"`
	BuildSets   hcl.Expression   `hcl:"build_sets,optional"`
	BuildSet    []*buildSetBlock `hcl:"build_set,block"`
}

// buildSetBlock is one build set written as a block. The build_sets
// attribute accepts a list of objects with the same keys.
type buildSetBlock struct {
	Inputs      hcl.Expression `hcl:"inputs,optional"`
	Outputs     hcl.Expression `hcl:"outputs,optional"`
	Variables   hcl.Expression `hcl:"variables,optional"`
	Env         hcl.Expression `hcl:"env,optional"`
	Cwd         hcl.Expression `hcl:"cwd,optional"`
	Description hcl.Expression `hcl:"description,optional"`
	Depfile     hcl.Expression `hcl:"depfile,optional"`
}

func (b *buildSetBlock) attributes() map[string]hcl.Expression {
	return map[string]hcl.Expression{
		"inputs":      b.Inputs,
		"outputs":     b.Outputs,
		"variables":   b.Variables,
		"env":         b.Env,
		"cwd":         b.Cwd,
		"description": b.Description,
		"depfile":     b.Depfile,
	}
}
