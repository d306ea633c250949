package ops

// Image operation names.
const (
	OpResize     = "resize"
	OpCrop       = "crop"
	OpRotate     = "rotate"
	OpAutoOrient = "auto-orient"
	OpGrayscale  = "grayscale"
	OpBlur       = "blur"
	OpWatermark  = "watermark"
	OpQuality    = "quality"
	OpFormat     = "format"
)

// gravityEnum is the nine-point anchor grid shared by crop and watermark.
var gravityEnum = []string{"nw", "north", "ne", "west", "center", "east", "sw", "south", "se"}

var imageFormats = []string{"jpg", "jpeg", "png", "webp", "bmp", "gif", "tiff"}

var imageNamespace = &Namespace{
	Media: MediaImage,
	Ops: map[string]OpSchema{
		OpResize: {
			"w":     {Kind: KindInt, Min: 1, Max: 16384},
			"h":     {Kind: KindInt, Min: 1, Max: 16384},
			"p":     {Kind: KindInt, Min: 1, Max: 1000},
			"l":     {Kind: KindInt, Min: 1, Max: 16384, Group: "side"},
			"s":     {Kind: KindInt, Min: 1, Max: 16384, Group: "side"},
			"m":     {Kind: KindEnum, Enum: []string{"lfit", "mfit", "fill", "pad", "fixed"}, Default: "lfit", HasDef: true},
			"limit": {Kind: KindBool, Default: "1", HasDef: true},
			"color": {Kind: KindColor, Only: &Condition{Key: "m", Equals: "pad"}},
		},
		OpCrop: {
			"w": {Kind: KindInt, Min: 1, Max: 16384},
			"h": {Kind: KindInt, Min: 1, Max: 16384},
			"x": {Kind: KindInt, Min: 0, Max: 16384, Default: "0", HasDef: true},
			"y": {Kind: KindInt, Min: 0, Max: 16384, Default: "0", HasDef: true},
			"g": {Kind: KindEnum, Enum: gravityEnum, Default: "nw", HasDef: true},
		},
		OpRotate: {
			"degree": {Kind: KindEnum, Enum: []string{"90", "180", "270"}, Default: "90", HasDef: true},
		},
		OpAutoOrient: {
			"auto": {Kind: KindBool, Default: "1", HasDef: true},
		},
		OpGrayscale: {},
		OpBlur: {
			"r": {Kind: KindInt, Min: 1, Max: 50, Default: "2", HasDef: true},
		},
		OpWatermark: {
			"text":    {Kind: KindString, Default: "Watermark", HasDef: true, Group: "mark"},
			"image":   {Kind: KindString, Group: "mark"},
			"P":       {Kind: KindPercent},
			"color":   {Kind: KindColor, Default: "000000", HasDef: true},
			"size":    {Kind: KindInt, Min: 1, Max: 1000, Default: "40", HasDef: true},
			"t":       {Kind: KindInt, Min: 0, Max: 100, Default: "100", HasDef: true},
			"g":       {Kind: KindEnum, Enum: gravityEnum, Default: "se", HasDef: true},
			"x":       {Kind: KindInt, Min: 0, Max: 4096, Default: "10", HasDef: true},
			"y":       {Kind: KindInt, Min: 0, Max: 4096, Default: "10", HasDef: true},
			"voffset": {Kind: KindInt, Min: -1000, Max: 1000, Default: "0", HasDef: true},
			"rotate":  {Kind: KindInt, Min: 0, Max: 360, Default: "0", HasDef: true},
		},
		OpQuality: {
			"q": {Kind: KindPercent, Default: "85", HasDef: true},
		},
		OpFormat: {
			"f": {Kind: KindEnum, Enum: imageFormats, Required: true},
			"q": {Kind: KindPercent, Default: "85", HasDef: true},
		},
	},
	Checks: map[string]func(Params) *ValidationError{
		OpResize:    checkResize,
		OpCrop:      checkCrop,
		OpWatermark: checkWatermark,
	},
	FormatOp:      OpFormat,
	FormatKey:     "f",
	DefaultFormat: "jpg",
	ContentTypes: map[string]string{
		"jpg":  "image/jpeg",
		"jpeg": "image/jpeg",
		"png":  "image/png",
		"webp": "image/webp",
		"bmp":  "image/bmp",
		"gif":  "image/gif",
		"tiff": "image/tiff",
	},
	ContentDef: "image/jpeg",
}

func checkResize(p Params) *ValidationError {
	if !p.Has("w") && !p.Has("h") && !p.Has("p") && !p.Has("l") && !p.Has("s") {
		return &ValidationError{Op: OpResize, Reason: "at least one of w, h, p, l, s is required"}
	}
	switch p.Str("m") {
	case "fill", "pad", "fixed":
		if !p.Has("w") || !p.Has("h") {
			return &ValidationError{Op: OpResize, Key: "m", Reason: "both w and h are required for " + p.Str("m") + " mode"}
		}
	}
	return nil
}

func checkCrop(p Params) *ValidationError {
	if !p.Has("w") && !p.Has("h") {
		return &ValidationError{Op: OpCrop, Reason: "at least one of w, h is required"}
	}
	return nil
}

// checkWatermark ties the overlay-only parameters to the image variant. The
// image value itself must decode to an object key up front, before execution
// reaches for storage.
func checkWatermark(p Params) *ValidationError {
	if p.Has("P") && !p.Has("image") {
		return &ValidationError{Op: OpWatermark, Key: "P", Reason: "only valid with an image watermark"}
	}
	if p.Has("image") {
		if _, err := DecodeRef(p.Str("image")); err != nil {
			return &ValidationError{Op: OpWatermark, Key: "image", Reason: "not a base64-encoded object key"}
		}
	}
	return nil
}
