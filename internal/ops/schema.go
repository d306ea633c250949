package ops

// Kind is the declared value type of a schema parameter.
type Kind int

const (
	KindInt     Kind = iota // bounded integer
	KindEnum                // member of a closed string set
	KindColor               // 6-hex-digit color, short values zero-padded
	KindPercent             // integer 1..100
	KindBool                // boolean encoded as 0/1
	KindString              // free-form string
)

// Condition restricts a parameter to pipelines where a sibling parameter of
// the same stage holds a specific value (after defaults are applied).
type Condition struct {
	Key    string
	Equals string
}

// ParamSpec declares one recognized parameter of an operation.
type ParamSpec struct {
	Kind     Kind
	Required bool
	Default  string // raw-string default; empty means no default
	HasDef   bool
	Min, Max int      // KindInt bounds; Max 0 means unbounded above
	Enum     []string // KindEnum members
	Group    string   // mutual-exclusivity group id; at most one key per group
	Only     *Condition
}

// OpSchema maps parameter keys to their specs for one operation.
type OpSchema map[string]ParamSpec

// FormatConstraint bounds format-dependent parameters for one output format.
// Values outside the table are rejected, never clamped or resampled.
type FormatConstraint struct {
	SampleRates  []int
	MinChannels  int
	MaxChannels  int
	MinBitrate   int
	MaxBitrate   int
}

// Namespace is the closed operation set of one media type, together with its
// parameter schemas, format constraint table and content-type map. Namespaces
// are built once at package init and never mutated.
type Namespace struct {
	Media MediaType
	Ops   map[string]OpSchema

	// Checks holds per-operation cross-field checks that the flat schema
	// cannot express (e.g. "fill mode needs both w and h").
	Checks map[string]func(Params) *ValidationError

	// FormatOp/FormatKey identify the stage parameter that selects the
	// pipeline's output format.
	FormatOp  string
	FormatKey string

	// DefaultFormat applies when neither the pipeline nor the source key
	// extension names a format.
	DefaultFormat string

	Formats      map[string]FormatConstraint
	ContentTypes map[string]string
	ContentDef   string // fallback content type
}

var namespaces = map[MediaType]*Namespace{
	MediaImage:    imageNamespace,
	MediaAudio:    audioNamespace,
	MediaVideo:    videoNamespace,
	MediaDocument: documentNamespace,
}

// Lookup returns the namespace for a media type.
func Lookup(media MediaType) (*Namespace, bool) {
	ns, ok := namespaces[media]
	return ns, ok
}

// ContentType maps an output format to its response content type.
func (ns *Namespace) ContentType(format string) string {
	if ct, ok := ns.ContentTypes[format]; ok {
		return ct
	}
	return ns.ContentDef
}
