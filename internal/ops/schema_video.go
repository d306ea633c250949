package ops

// OpSnapshot extracts a single frame from a video stream.
const OpSnapshot = "snapshot"

var videoNamespace = &Namespace{
	Media: MediaVideo,
	Ops: map[string]OpSchema{
		OpSnapshot: {
			"t":  {Kind: KindInt, Min: 0, Default: "0", HasDef: true},     // timestamp, ms
			"w":  {Kind: KindInt, Min: 0, Max: 16384, Default: "0", HasDef: true}, // 0 = auto
			"h":  {Kind: KindInt, Min: 0, Max: 16384, Default: "0", HasDef: true}, // 0 = auto
			"m":  {Kind: KindEnum, Enum: []string{"default", "fast"}, Default: "default", HasDef: true},
			"f":  {Kind: KindEnum, Enum: []string{"jpg", "png"}, Default: "jpg", HasDef: true},
			"ar": {Kind: KindEnum, Enum: []string{"auto", "h", "w"}, Default: "auto", HasDef: true},
		},
	},
	FormatOp:      OpSnapshot,
	FormatKey:     "f",
	DefaultFormat: "jpg",
	ContentTypes: map[string]string{
		"jpg": "image/jpeg",
		"png": "image/png",
	},
	ContentDef: "image/jpeg",
}
