package ops

import (
	"fmt"
	"strconv"
	"strings"
)

// ValidationError reports a schema or constraint violation. Validation fails
// fast on the first violation; no partial pipelines are ever returned.
type ValidationError struct {
	Op     string
	Key    string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("validate %s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("validate %s, key %q: %s", e.Op, e.Key, e.Reason)
}

// Value is one coerced parameter value.
type Value struct {
	Kind Kind
	Str  string
	Int  int
	Bool bool
}

// Params holds a stage's validated parameters, defaults included.
type Params map[string]Value

func (p Params) Has(key string) bool { _, ok := p[key]; return ok }

func (p Params) Int(key string) int { return p[key].Int }

func (p Params) Str(key string) string { return p[key].Str }

func (p Params) Bool(key string) bool { return p[key].Bool }

// Stage is one validated operation ready for execution.
type Stage struct {
	Name     string
	Params   Params
	Position int
}

// Pipeline is the immutable, validated, ordered stage sequence for one
// request, together with the output format it resolves to.
type Pipeline struct {
	Media        MediaType
	Stages       []Stage
	OutputFormat string
}

// ContentType returns the response content type implied by the pipeline's
// output format.
func (p *Pipeline) ContentType() string {
	ns, _ := Lookup(p.Media)
	return ns.ContentType(p.OutputFormat)
}

// TargetBucket returns the decoded per-request target bucket when a stage
// carries the b override. Decodability was checked during validation.
func (p *Pipeline) TargetBucket() (string, bool) {
	for _, st := range p.Stages {
		if !st.Params.Has("b") {
			continue
		}
		if b, err := DecodeRef(st.Params.Str("b")); err == nil {
			return b, true
		}
	}
	return "", false
}

// Validate type-checks every stage of a parsed operation list against the
// media type's schema tables, fills defaults, enforces mutual exclusivity,
// conditional applicability and per-operation cross-field checks, and finally
// cross-checks format-dependent parameters against the output format's
// constraint table. sourceKey supplies the fallback output format when the
// pipeline names none.
func Validate(media MediaType, specs []OperationSpec, sourceKey string) (*Pipeline, error) {
	ns, ok := Lookup(media)
	if !ok {
		return nil, &ValidationError{Reason: fmt.Sprintf("unknown media type: %s", media)}
	}

	outputFormat := SourceFormat(sourceKey)
	if outputFormat == "" {
		outputFormat = ns.DefaultFormat
	}

	stages := make([]Stage, 0, len(specs))
	for _, spec := range specs {
		schema, ok := ns.Ops[spec.Name]
		if !ok {
			return nil, &ValidationError{Op: spec.Name, Reason: "unknown operation"}
		}

		// Mutual exclusivity is checked on raw keys, before any value is
		// looked at: two keys of one group together are invalid regardless
		// of whether either value would pass on its own.
		groups := make(map[string]string)
		for _, raw := range spec.Params {
			ps, ok := schema[raw.Key]
			if !ok {
				return nil, &ValidationError{Op: spec.Name, Key: raw.Key, Reason: "unrecognized parameter"}
			}
			if ps.Group != "" {
				if prev, taken := groups[ps.Group]; taken {
					return nil, &ValidationError{Op: spec.Name, Key: raw.Key, Reason: fmt.Sprintf("mutually exclusive with %q", prev)}
				}
				groups[ps.Group] = raw.Key
			}
		}

		params := make(Params, len(schema))
		for _, raw := range spec.Params {
			v, err := coerce(spec.Name, raw.Key, raw.Value, schema[raw.Key])
			if err != nil {
				return nil, err
			}
			params[raw.Key] = v
		}

		for key, ps := range schema {
			if params.Has(key) {
				continue
			}
			if ps.Required {
				return nil, &ValidationError{Op: spec.Name, Key: key, Reason: "required parameter is missing"}
			}
			if ps.HasDef {
				v, err := coerce(spec.Name, key, ps.Default, ps)
				if err != nil {
					return nil, err
				}
				params[key] = v
			}
		}

		// Conditional applicability: a key meaningful only under a specific
		// sibling value is rejected if present without it, never silently
		// dropped.
		for _, raw := range spec.Params {
			ps := schema[raw.Key]
			if ps.Only == nil {
				continue
			}
			if params.Str(ps.Only.Key) != ps.Only.Equals {
				return nil, &ValidationError{
					Op:  spec.Name,
					Key: raw.Key,
					Reason: fmt.Sprintf("only valid when %s is %q, got %q",
						ps.Only.Key, ps.Only.Equals, params.Str(ps.Only.Key)),
				}
			}
		}

		if check, ok := ns.Checks[spec.Name]; ok {
			if verr := check(params); verr != nil {
				return nil, verr
			}
		}

		if spec.Name == ns.FormatOp {
			if f := params.Str(ns.FormatKey); f != "" {
				outputFormat = f
			}
		}

		stages = append(stages, Stage{Name: spec.Name, Params: params, Position: spec.Position})
	}

	if err := checkFormatConstraints(ns, stages, outputFormat); err != nil {
		return nil, err
	}

	return &Pipeline{Media: media, Stages: stages, OutputFormat: outputFormat}, nil
}

// checkFormatConstraints is the final cross-stage check: sample rate, channel
// count and bitrate of format-selecting stages must appear in the resolved
// output format's allow-list. Out-of-table values are rejected, not
// auto-normalized.
func checkFormatConstraints(ns *Namespace, stages []Stage, outputFormat string) error {
	if len(ns.Formats) == 0 {
		return nil
	}
	fc, ok := ns.Formats[outputFormat]
	if !ok {
		return &ValidationError{Op: ns.FormatOp, Key: ns.FormatKey, Reason: fmt.Sprintf("unsupported output format: %s", outputFormat)}
	}

	for _, st := range stages {
		if st.Name != ns.FormatOp {
			continue
		}
		if st.Params.Has("ar") {
			ar := st.Params.Int("ar")
			if !containsInt(fc.SampleRates, ar) {
				return &ValidationError{Op: st.Name, Key: "ar", Reason: fmt.Sprintf("sample rate %d is not allowed for %s", ar, outputFormat)}
			}
		}
		if st.Params.Has("ac") {
			ac := st.Params.Int("ac")
			if ac < fc.MinChannels || ac > fc.MaxChannels {
				return &ValidationError{Op: st.Name, Key: "ac", Reason: fmt.Sprintf("%s supports %d to %d channels, got %d", outputFormat, fc.MinChannels, fc.MaxChannels, ac)}
			}
		}
		if st.Params.Has("ab") {
			ab := st.Params.Int("ab")
			if ab < fc.MinBitrate || ab > fc.MaxBitrate {
				return &ValidationError{Op: st.Name, Key: "ab", Reason: fmt.Sprintf("%s supports bitrates %d to %d bps, got %d", outputFormat, fc.MinBitrate, fc.MaxBitrate, ab)}
			}
		}
	}
	return nil
}

func coerce(op, key, raw string, ps ParamSpec) (Value, *ValidationError) {
	switch ps.Kind {
	case KindInt:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Value{}, &ValidationError{Op: op, Key: key, Reason: fmt.Sprintf("not an integer: %q", raw)}
		}
		if n < ps.Min || (ps.Max > 0 && n > ps.Max) {
			return Value{}, &ValidationError{Op: op, Key: key, Reason: fmt.Sprintf("%d is out of range [%d, %d]", n, ps.Min, ps.Max)}
		}
		return Value{Kind: KindInt, Int: n, Str: raw}, nil

	case KindPercent:
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			return Value{}, &ValidationError{Op: op, Key: key, Reason: fmt.Sprintf("%q is not a percentage in [1, 100]", raw)}
		}
		return Value{Kind: KindPercent, Int: n, Str: raw}, nil

	case KindBool:
		switch raw {
		case "0":
			return Value{Kind: KindBool, Bool: false, Str: raw}, nil
		case "1":
			return Value{Kind: KindBool, Bool: true, Int: 1, Str: raw}, nil
		}
		return Value{}, &ValidationError{Op: op, Key: key, Reason: fmt.Sprintf("%q is not 0 or 1", raw)}

	case KindEnum:
		for _, member := range ps.Enum {
			if raw == member {
				n, _ := strconv.Atoi(raw)
				return Value{Kind: KindEnum, Str: raw, Int: n}, nil
			}
		}
		return Value{}, &ValidationError{Op: op, Key: key, Reason: fmt.Sprintf("%q is not one of %s", raw, strings.Join(ps.Enum, ", "))}

	case KindColor:
		if raw == "" || len(raw) > 6 {
			return Value{}, &ValidationError{Op: op, Key: key, Reason: fmt.Sprintf("%q is not a hex color", raw)}
		}
		for _, r := range raw {
			if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
				return Value{}, &ValidationError{Op: op, Key: key, Reason: fmt.Sprintf("%q is not a hex color", raw)}
			}
		}
		// Short colors are zero-padded on the left: "FF" means "0000FF".
		padded := strings.Repeat("0", 6-len(raw)) + strings.ToUpper(raw)
		return Value{Kind: KindColor, Str: padded}, nil

	default: // KindString
		return Value{Kind: KindString, Str: raw}, nil
	}
}

func containsInt(vals []int, n int) bool {
	for _, v := range vals {
		if v == n {
			return true
		}
	}
	return false
}
