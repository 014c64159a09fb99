package breact

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"

	xerrors "BReact-SDK/pkg/errors"
)

// ParameterSchema describes one endpoint parameter.
type ParameterSchema struct {
	Type        string `json:"type,omitempty"`
	Required    bool   `json:"required,omitempty"`
	Description string `json:"description,omitempty"`
	Default     any    `json:"default,omitempty"`
}

// UnmarshalJSON accepts either a schema object or a bare type name.
func (p *ParameterSchema) UnmarshalJSON(data []byte) error {
	var typ string
	if err := json.Unmarshal(data, &typ); err == nil {
		*p = ParameterSchema{Type: typ}
		return nil
	}
	type plain ParameterSchema
	var out plain
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*p = ParameterSchema(out)
	return nil
}

// EndpointSchema describes one remote endpoint.
type EndpointSchema struct {
	Name        string                     `json:"name,omitempty"`
	Description string                     `json:"description,omitempty"`
	Parameters  map[string]ParameterSchema `json:"parameters,omitempty"`
}

// UnmarshalJSON additionally honours a top-level "required" list of
// parameter names. A bare string is taken as the description.
func (e *EndpointSchema) UnmarshalJSON(data []byte) error {
	var desc string
	if err := json.Unmarshal(data, &desc); err == nil {
		*e = EndpointSchema{Description: desc}
		return nil
	}
	var raw struct {
		Name        string                     `json:"name"`
		Description string                     `json:"description"`
		Parameters  map[string]ParameterSchema `json:"parameters"`
		Required    []string                   `json:"required"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = EndpointSchema{Name: raw.Name, Description: raw.Description, Parameters: raw.Parameters}
	for _, name := range raw.Required {
		if e.Parameters == nil {
			e.Parameters = make(map[string]ParameterSchema)
		}
		p := e.Parameters[name]
		p.Required = true
		e.Parameters[name] = p
	}
	return nil
}

// RequiredParameters lists the names of required parameters, sorted.
func (e EndpointSchema) RequiredParameters() []string {
	var names []string
	for name, p := range e.Parameters {
		if p.Required {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// ServiceDescriptor is the identity and shape of one remote service as
// reported by discovery.
type ServiceDescriptor struct {
	ID          string                    `json:"id"`
	Name        string                    `json:"name,omitempty"`
	Description string                    `json:"description,omitempty"`
	Version     string                    `json:"version,omitempty"`
	Endpoints   map[string]EndpointSchema `json:"endpoints,omitempty"`
}

// UnmarshalJSON accepts endpoints as an object keyed by name, a list of
// names, or a list of schema objects carrying a name.
func (d *ServiceDescriptor) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID          string          `json:"id"`
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Version     json.RawMessage `json:"version"`
		Endpoints   json.RawMessage `json:"endpoints"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	endpoints, err := decodeEndpoints(raw.Endpoints)
	if err != nil {
		return err
	}
	*d = ServiceDescriptor{
		ID:          raw.ID,
		Name:        raw.Name,
		Description: raw.Description,
		Version:     scalarString(raw.Version),
		Endpoints:   endpoints,
	}
	return nil
}

// Endpoint looks up an endpoint schema by name.
func (d ServiceDescriptor) Endpoint(name string) (EndpointSchema, bool) {
	e, ok := d.Endpoints[name]
	return e, ok
}

// EndpointNames lists the declared endpoint names, sorted.
func (d ServiceDescriptor) EndpointNames() []string {
	names := make([]string, 0, len(d.Endpoints))
	for name := range d.Endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func decodeEndpoints(raw json.RawMessage) (map[string]EndpointSchema, error) {
	raw = bytes.TrimSpace(raw)
	out := make(map[string]EndpointSchema)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return out, nil
	}
	if raw[0] == '{' {
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, err
		}
		for name, e := range out {
			if e.Name == "" {
				e.Name = name
				out[name] = e
			}
		}
		return out, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	for _, item := range items {
		var name string
		if err := json.Unmarshal(item, &name); err == nil {
			out[name] = EndpointSchema{Name: name}
			continue
		}
		var e EndpointSchema
		if err := json.Unmarshal(item, &e); err != nil {
			return nil, err
		}
		if e.Name != "" {
			out[e.Name] = e
		}
	}
	return out, nil
}

func scalarString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}

// catalog is an immutable snapshot of discovered services. It is replaced
// wholesale, never modified in place.
type catalog struct {
	services  map[string]ServiceDescriptor
	fetchedAt time.Time
}

func (c *catalog) lookup(id string) (ServiceDescriptor, bool) {
	if c == nil {
		return ServiceDescriptor{}, false
	}
	d, ok := c.services[id]
	return d, ok
}

func (c *catalog) empty() bool {
	return c == nil || len(c.services) == 0
}

func (c *catalog) snapshot() map[string]ServiceDescriptor {
	out := make(map[string]ServiceDescriptor)
	if c == nil {
		return out
	}
	for id, d := range c.services {
		out[id] = d
	}
	return out
}

// decodeCatalog parses the discovery response: an object keyed by service
// id, a list of descriptors, or either wrapped in {"services": ...}.
func decodeCatalog(body []byte) (map[string]ServiceDescriptor, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, xerrors.New(xerrors.CodeDecode, "empty service catalog")
	}

	if body[0] == '{' {
		var wrapped struct {
			Services json.RawMessage `json:"services"`
		}
		if err := json.Unmarshal(body, &wrapped); err == nil && len(wrapped.Services) > 0 {
			inner := bytes.TrimSpace(wrapped.Services)
			if len(inner) > 0 && inner[0] == '[' {
				body = inner
			} else if isCatalogObject(inner) {
				body = inner
			}
		}
	}

	out := make(map[string]ServiceDescriptor)
	if body[0] == '[' {
		var list []ServiceDescriptor
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeDecode, err, "decode service catalog")
		}
		for _, d := range list {
			if d.ID == "" {
				return nil, xerrors.New(xerrors.CodeDecode, "service catalog entry has no id")
			}
			out[d.ID] = d
		}
		return out, nil
	}

	var byID map[string]ServiceDescriptor
	if err := json.Unmarshal(body, &byID); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeDecode, err, "decode service catalog")
	}
	for key, d := range byID {
		if d.ID == "" {
			d.ID = key
		}
		out[d.ID] = d
	}
	return out, nil
}

// isCatalogObject reports whether raw is an object whose values are all
// objects, i.e. a map of descriptors rather than a single descriptor.
func isCatalogObject(raw []byte) bool {
	var m map[string]json.RawMessage
	if json.Unmarshal(raw, &m) != nil {
		return false
	}
	for _, v := range m {
		v = bytes.TrimSpace(v)
		if len(v) == 0 || v[0] != '{' {
			return false
		}
	}
	return true
}
