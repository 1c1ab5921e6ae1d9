package ops

import (
	"errors"
	"fmt"
	"sort"

	"github.com/cloudwego/eino/schema"
)

// ErrNotRegistered is returned by Lookup for an unknown operation name.
var ErrNotRegistered = errors.New("operation not registered")

// Registry is the closed tagged registry of task operations. There is no
// open-ended dispatch: every operation is declared up front with a fixed
// handler signature and schema-checked arguments.
type Registry struct {
	specs map[string]*OperationSpec
	names []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]*OperationSpec)}
}

// Register adds an operation spec. Duplicate names are an error.
func (r *Registry) Register(spec *OperationSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("operation name is required")
	}
	if spec.Handler == nil {
		return fmt.Errorf("operation %q: handler is required", spec.Name)
	}
	if _, exists := r.specs[spec.Name]; exists {
		return fmt.Errorf("operation %q already registered", spec.Name)
	}
	r.specs[spec.Name] = spec
	r.names = append(r.names, spec.Name)
	sort.Strings(r.names)
	return nil
}

// Lookup returns the spec for name, or ErrNotRegistered.
func (r *Registry) Lookup(name string) (*OperationSpec, error) {
	spec, ok := r.specs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	return spec, nil
}

// Names returns the registered operation names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Specs returns all registered specs in name order.
func (r *Registry) Specs() []*OperationSpec {
	out := make([]*OperationSpec, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.specs[name])
	}
	return out
}

// ToolInfos converts the registry's schemas to Eino tool descriptions so
// the reasoner can bind them as callable tools.
func (r *Registry) ToolInfos() []*schema.ToolInfo {
	infos := make([]*schema.ToolInfo, 0, len(r.names))
	for _, name := range r.names {
		infos = append(infos, specToToolInfo(r.specs[name]))
	}
	return infos
}

func specToToolInfo(spec *OperationSpec) *schema.ToolInfo {
	info := &schema.ToolInfo{
		Name: spec.Name,
		Desc: spec.Description,
	}

	if len(spec.Parameters) > 0 {
		params := make(map[string]*schema.ParameterInfo, len(spec.Parameters))
		for name, p := range spec.Parameters {
			params[name] = &schema.ParameterInfo{
				Type:     paramTypeToDataType(p.Type),
				Desc:     p.Description,
				Required: p.Required,
				Enum:     p.Enum,
			}
		}
		info.ParamsOneOf = schema.NewParamsOneOfByParams(params)
	}

	return info
}

func paramTypeToDataType(t string) schema.DataType {
	switch t {
	case "string":
		return schema.String
	case "number":
		return schema.Number
	case "integer":
		return schema.Integer
	case "boolean":
		return schema.Boolean
	case "array":
		return schema.Array
	case "object":
		return schema.Object
	default:
		return schema.String
	}
}
