package ops

// OpConvert is shared by the audio and document namespaces.
const OpConvert = "convert"

// allSampleRates is the union of rates any supported encoder accepts; the
// per-format allow-lists below narrow it further.
var allSampleRates = []int{8000, 11025, 12000, 16000, 22050, 24000, 32000, 44100, 48000, 64000, 88200, 96000}

var audioNamespace = &Namespace{
	Media: MediaAudio,
	Ops: map[string]OpSchema{
		OpConvert: {
			"f":      {Kind: KindEnum, Enum: []string{"mp3", "m4a", "flac", "oga", "ac3", "opus", "amr"}, Required: true},
			"ss":     {Kind: KindInt, Min: 0},                       // start offset, ms
			"t":      {Kind: KindInt, Min: 1},                       // duration, ms
			"ar":     {Kind: KindInt, Min: 8000, Max: 96000},        // sample rate, Hz
			"ac":     {Kind: KindInt, Min: 1, Max: 8},               // channel count
			"aq":     {Kind: KindInt, Min: 0, Max: 100, Group: "rate"}, // quality scale
			"ab":     {Kind: KindInt, Min: 1000, Max: 10000000, Group: "rate"}, // bitrate, bps
			"abopt":  {Kind: KindEnum, Enum: []string{"0", "1", "2"}},
			"adepth": {Kind: KindEnum, Enum: []string{"16", "24"}, Only: &Condition{Key: "f", Equals: "flac"}},
		},
	},
	FormatOp:      OpConvert,
	FormatKey:     "f",
	DefaultFormat: "wav",
	Formats: map[string]FormatConstraint{
		"mp3": {
			SampleRates: []int{8000, 11025, 12000, 16000, 22050, 24000, 32000, 44100, 48000},
			MinChannels: 1, MaxChannels: 2,
			MinBitrate: 8000, MaxBitrate: 320000,
		},
		"m4a": {
			SampleRates: allSampleRates,
			MinChannels: 1, MaxChannels: 8,
			MinBitrate: 8000, MaxBitrate: 1000000,
		},
		"flac": {
			SampleRates: allSampleRates,
			MinChannels: 1, MaxChannels: 8,
			MinBitrate: 1000, MaxBitrate: 10000000,
		},
		"oga": {
			SampleRates: allSampleRates,
			MinChannels: 1, MaxChannels: 8,
			MinBitrate: 45000, MaxBitrate: 500000,
		},
		"ac3": {
			SampleRates: []int{32000, 44100, 48000},
			MinChannels: 1, MaxChannels: 6,
			MinBitrate: 32000, MaxBitrate: 640000,
		},
		"opus": {
			SampleRates: []int{8000, 12000, 16000, 24000, 48000},
			MinChannels: 1, MaxChannels: 2,
			MinBitrate: 6000, MaxBitrate: 510000,
		},
		"amr": {
			SampleRates: []int{8000},
			MinChannels: 1, MaxChannels: 1,
			MinBitrate: 4750, MaxBitrate: 12200,
		},
	},
	ContentTypes: map[string]string{
		"wav":  "audio/wav",
		"mp3":  "audio/mpeg",
		"m4a":  "audio/mp4",
		"flac": "audio/flac",
		"oga":  "audio/ogg",
		"ac3":  "audio/ac3",
		"opus": "audio/opus",
		"amr":  "audio/amr",
	},
	ContentDef: "application/octet-stream",
}
