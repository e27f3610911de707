// Package nn provides the parameter/module system that every neural-network
// building block (x/math/nn/transformer, x/math/nn/moe) is composed from:
// ordered named-parameter registration, recursive train()/eval() mode,
// depth-first named traversal, and zero-grad.
package nn

import (
	"fmt"

	"github.com/nanoforge/nanoforge/x/math/autograd"
)

// Module is embedded by every layer. It tracks its own parameters and
// submodules in insertion order (a plain map would iterate in random
// order, which would make checkpoint layout and parameter listings
// non-reproducible between runs).
type Module struct {
	paramNames   []string
	params       map[string]*autograd.Variable
	subNames     []string
	subs         map[string]Layer
	training     bool
}

// Layer is implemented by every module: it must expose its own Module so
// the generic traversal/train/eval/clear-grad helpers can walk it.
type Layer interface {
	Base() *Module
}

// Init must be called once, typically at the top of a layer constructor,
// before RegisterParameter/RegisterModule.
func (m *Module) Init() {
	m.params = make(map[string]*autograd.Variable)
	m.subs = make(map[string]Layer)
	m.training = true
}

// Base satisfies Layer for Module itself, so a bare Module can stand in
// for a leaf layer with no children of its own.
func (m *Module) Base() *Module { return m }

// RegisterParameter adds a trainable Variable under name. Registering
// the same name twice is a programmer error and panics at construction
// time rather than corrupting the parameter listing.
func (m *Module) RegisterParameter(name string, v *autograd.Variable) *autograd.Variable {
	if m.params == nil {
		m.Init()
	}
	if _, exists := m.params[name]; exists {
		panic(fmt.Sprintf("nn.Module: parameter %q already registered", name))
	}
	v.SetRequiresGrad(true)
	v.Name = name
	m.paramNames = append(m.paramNames, name)
	m.params[name] = v
	return v
}

// RegisterModule adds a child layer under name.
func (m *Module) RegisterModule(name string, l Layer) Layer {
	if m.subs == nil {
		m.Init()
	}
	if _, exists := m.subs[name]; exists {
		panic(fmt.Sprintf("nn.Module: submodule %q already registered", name))
	}
	m.subNames = append(m.subNames, name)
	m.subs[name] = l
	return l
}

// NamedParameters returns every parameter reachable from this module,
// depth-first, in registration order, with dotted names (e.g.
// "blocks.0.attn.query_proj.weight").
func NamedParameters(l Layer) []NamedParameter {
	var out []NamedParameter
	collectParameters(l, "", &out)
	return out
}

// NamedParameter pairs a dotted parameter path with its Variable.
type NamedParameter struct {
	Name  string
	Param *autograd.Variable
}

func collectParameters(l Layer, prefix string, out *[]NamedParameter) {
	m := l.Base()
	for _, name := range m.paramNames {
		full := name
		if prefix != "" {
			full = prefix + "." + name
		}
		*out = append(*out, NamedParameter{Name: full, Param: m.params[name]})
	}
	for _, name := range m.subNames {
		full := name
		if prefix != "" {
			full = prefix + "." + name
		}
		collectParameters(m.subs[name], full, out)
	}
}

// NamedModules returns every submodule reachable from this module,
// depth-first (including l itself, at the empty-string-or-prefix root).
func NamedModules(l Layer) []NamedModule {
	var out []NamedModule
	collectModules(l, "", &out)
	return out
}

// NamedModule pairs a dotted module path with the layer at that path.
type NamedModule struct {
	Name  string
	Layer Layer
}

func collectModules(l Layer, prefix string, out *[]NamedModule) {
	*out = append(*out, NamedModule{Name: prefix, Layer: l})
	m := l.Base()
	for _, name := range m.subNames {
		full := name
		if prefix != "" {
			full = prefix + "." + name
		}
		collectModules(m.subs[name], full, out)
	}
}

// Train recursively sets training mode on l and every submodule.
func Train(l Layer) { setTraining(l, true) }

// Eval recursively sets evaluation mode on l and every submodule.
func Eval(l Layer) { setTraining(l, false) }

func setTraining(l Layer, training bool) {
	m := l.Base()
	m.training = training
	for _, name := range m.subNames {
		setTraining(m.subs[name], training)
	}
}

// IsTraining reports whether this module is currently in training mode.
func (m *Module) IsTraining() bool { return m.training }

// ClearGrads zeroes (drops) the accumulated gradient on every parameter
// reachable from l, ready for the next backward pass.
func ClearGrads(l Layer) {
	for _, np := range NamedParameters(l) {
		np.Param.ClearGrad()
	}
}

// Apply calls fn on l and every submodule, depth-first. Used for custom
// initialization passes that don't fit RegisterParameter's default.
func Apply(l Layer, fn func(Layer)) {
	for _, nm := range NamedModules(l) {
		fn(nm.Layer)
	}
}
