package domain

import (
	"fmt"
	"sort"
	"strconv"
)

// ReliefParams are the effective pipeline parameters for one generation run.
type ReliefParams struct {
	Mode      string  `json:"mode"`      // rendering mode tag, e.g. "relief"
	SizeMM    float64 `json:"size_mm"`   // square output edge in millimeters
	Thickness float64 `json:"thickness"` // base plate thickness in millimeters
	Relief    float64 `json:"relief"`    // max relief height in model units
	Invert    bool    `json:"invert"`    // invert heights (dark = high)
}

// DefaultReliefParams mirrors the engine's own defaults.
func DefaultReliefParams() ReliefParams {
	return ReliefParams{
		Mode:      "relief",
		SizeMM:    80,
		Thickness: 2.0,
		Relief:    4.0,
		Invert:    true,
	}
}

// DimensionsMM returns the physical bounding box [x, y, z] of the output.
func (p ReliefParams) DimensionsMM() [3]float64 {
	return [3]float64{p.SizeMM, p.SizeMM, p.Thickness + p.Relief}
}

// ParamSchema is the versioned set of parameter keys an engine invocation
// accepts. Callers evolve faster than the external command; keys the current
// schema does not know are dropped deterministically instead of failing the
// call. This replaces the old runtime-introspection shim with something that
// can be tested on its own.
type ParamSchema struct {
	Version string
	keys    map[string]struct{}
}

// ParamSchemaV1 accepts the parameter set of engine version hexforge3d@v1.
// "max_height" is the submission-form alias for "relief".
var ParamSchemaV1 = ParamSchema{
	Version: "v1",
	keys: map[string]struct{}{
		"mode":       {},
		"size_mm":    {},
		"thickness":  {},
		"relief":     {},
		"max_height": {},
		"invert":     {},
	},
}

// Accepts reports whether the schema knows the given key.
func (s ParamSchema) Accepts(key string) bool {
	_, ok := s.keys[key]
	return ok
}

// Filter splits raw parameters into the accepted subset and the sorted list
// of dropped keys. The input map is not modified.
func (s ParamSchema) Filter(raw map[string]any) (kept map[string]any, dropped []string) {
	kept = make(map[string]any, len(raw))
	for k, v := range raw {
		if s.Accepts(k) {
			kept[k] = v
		} else {
			dropped = append(dropped, k)
		}
	}
	sort.Strings(dropped)
	return kept, dropped
}

// ReliefParamsFrom builds effective parameters from a filtered raw map,
// starting from defaults. Values may arrive as their native types or as
// strings (form fields); both are accepted.
func ReliefParamsFrom(raw map[string]any) (ReliefParams, error) {
	p := DefaultReliefParams()

	if v, ok := raw["mode"]; ok {
		s, ok := v.(string)
		if !ok || s == "" {
			return p, fmt.Errorf("invalid mode: %v", v)
		}
		p.Mode = s
	}
	var err error
	if p.SizeMM, err = floatParam(raw, "size_mm", p.SizeMM); err != nil {
		return p, err
	}
	if p.Thickness, err = floatParam(raw, "thickness", p.Thickness); err != nil {
		return p, err
	}
	if p.Relief, err = floatParam(raw, "relief", p.Relief); err != nil {
		return p, err
	}
	// Submission forms say max_height; relief wins when both arrive.
	if _, ok := raw["relief"]; !ok {
		if p.Relief, err = floatParam(raw, "max_height", p.Relief); err != nil {
			return p, err
		}
	}
	if v, ok := raw["invert"]; ok {
		switch t := v.(type) {
		case bool:
			p.Invert = t
		case string:
			b, err := strconv.ParseBool(t)
			if err != nil {
				return p, fmt.Errorf("invalid invert: %q", t)
			}
			p.Invert = b
		default:
			return p, fmt.Errorf("invalid invert: %v", v)
		}
	}

	if p.SizeMM <= 0 {
		return p, fmt.Errorf("size_mm must be positive, got %v", p.SizeMM)
	}
	if p.Thickness <= 0 {
		return p, fmt.Errorf("thickness must be positive, got %v", p.Thickness)
	}
	if p.Relief <= 0 {
		return p, fmt.Errorf("relief must be positive, got %v", p.Relief)
	}
	return p, nil
}

func floatParam(raw map[string]any, key string, def float64) (float64, error) {
	v, ok := raw[key]
	if !ok {
		return def, nil
	}
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return def, fmt.Errorf("invalid %s: %q", key, t)
		}
		return f, nil
	default:
		return def, fmt.Errorf("invalid %s: %v", key, v)
	}
}
