package ops

import (
	"fmt"
	"strings"
)

// ParseError reports a malformed operations string. It is detected before
// any side effect and maps to a client-fault response.
type ParseError struct {
	Position int    // stage index within the operations string
	Stage    string // raw stage text
	Reason   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse stage %d %q: %s", e.Position, e.Stage, e.Reason)
}

// Parse splits an operations string into its ordered stage specifications.
// The string is a '/'-delimited sequence of stages; each stage is a
// ','-delimited sequence of tokens; the first token is the operation name,
// the rest are bare flags or key_value pairs split on the first underscore,
// so values may themselves contain underscores. Stage order is preserved and
// becomes the execution order.
//
// Parse is syntax-only: it checks that each operation name belongs to the
// media type's namespace but knows nothing about parameter validity.
func Parse(media MediaType, operations string) ([]OperationSpec, error) {
	ns, ok := Lookup(media)
	if !ok {
		return nil, &ParseError{Reason: fmt.Sprintf("unknown media type: %s", media)}
	}
	if operations == "" {
		return nil, &ParseError{Reason: "empty operations string"}
	}

	stages := strings.Split(operations, "/")
	specs := make([]OperationSpec, 0, len(stages))

	for i, stage := range stages {
		if stage == "" {
			return nil, &ParseError{Position: i, Stage: stage, Reason: "empty stage"}
		}

		tokens := strings.Split(stage, ",")
		name := tokens[0]
		if _, ok := ns.Ops[name]; !ok {
			return nil, &ParseError{Position: i, Stage: stage, Reason: fmt.Sprintf("unknown operation: %q", name)}
		}

		seen := make(map[string]struct{}, len(tokens)-1)
		params := make([]RawParam, 0, len(tokens)-1)
		for _, tok := range tokens[1:] {
			if tok == "" {
				return nil, &ParseError{Position: i, Stage: stage, Reason: "empty parameter token"}
			}

			key, value, _ := strings.Cut(tok, "_")
			if key == "" {
				return nil, &ParseError{Position: i, Stage: stage, Reason: fmt.Sprintf("token %q has no key", tok)}
			}
			// Repeated keys are rejected rather than silently overwritten:
			// the intent of "resize,w_100,w_200" is ambiguous.
			if _, dup := seen[key]; dup {
				return nil, &ParseError{Position: i, Stage: stage, Reason: fmt.Sprintf("duplicate key %q", key)}
			}
			seen[key] = struct{}{}
			params = append(params, RawParam{Key: key, Value: value})
		}

		specs = append(specs, OperationSpec{Name: name, Params: params, Position: i})
	}

	return specs, nil
}
