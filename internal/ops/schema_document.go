package ops

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var documentSourceFormats = []string{
	// word
	"doc", "docx", "wps", "docm", "dotm", "dot", "dotx", "html",
	// presentation
	"pptx", "ppt", "pot", "potx", "pps", "ppsx", "pptm", "potm", "ppsm",
	// spreadsheet
	"xls", "xlt", "xlsx", "xltx", "csv", "xlsb", "xlsm", "xltm",
	// passthrough
	"pdf", "txt",
}

var documentNamespace = &Namespace{
	Media: MediaDocument,
	Ops: map[string]OpSchema{
		OpConvert: {
			"source": {Kind: KindEnum, Enum: documentSourceFormats, Required: true},
			"target": {Kind: KindEnum, Enum: []string{"pdf", "png", "jpg", "txt"}, Required: true},
			"pages":  {Kind: KindString},
			"b":      {Kind: KindString}, // base64-encoded target bucket override
		},
	},
	Checks: map[string]func(Params) *ValidationError{
		OpConvert: checkDocumentConvert,
	},
	FormatOp:      OpConvert,
	FormatKey:     "target",
	DefaultFormat: "pdf",
	ContentTypes: map[string]string{
		"pdf": "application/pdf",
		"png": "image/png",
		"jpg": "image/jpeg",
		"txt": "text/plain",
	},
	ContentDef: "application/octet-stream",
}

func checkDocumentConvert(p Params) *ValidationError {
	if p.Has("b") {
		if _, err := DecodeRef(p.Str("b")); err != nil {
			return &ValidationError{Op: OpConvert, Key: "b", Reason: "not a base64-encoded bucket name"}
		}
	}
	if !p.Has("pages") {
		return nil
	}
	if _, err := ParsePages(p.Str("pages")); err != nil {
		return &ValidationError{Op: OpConvert, Key: "pages", Reason: err.Error()}
	}
	return nil
}

// maxPages bounds a page selection so a range like 1-2000000000 cannot blow
// up the validation path.
const maxPages = 1000

// ParsePages expands a page selection into a sorted, de-duplicated page list.
// The selection is either direct range notation without commas (the comma is
// a token separator in the operations grammar), e.g. "2" or "4-10", or a
// base64-encoded comma list such as "1,2,4-10".
func ParsePages(sel string) ([]int, error) {
	if decoded, err := base64.RawURLEncoding.DecodeString(sel); err == nil && looksLikePages(string(decoded)) {
		sel = string(decoded)
	}

	set := make(map[int]struct{})
	for _, part := range strings.Split(sel, ",") {
		if from, to, ok := strings.Cut(part, "-"); ok {
			lo, err1 := strconv.Atoi(from)
			hi, err2 := strconv.Atoi(to)
			if err1 != nil || err2 != nil || lo < 1 || hi < lo {
				return nil, &ValidationError{Op: OpConvert, Key: "pages", Reason: "invalid page range: " + part}
			}
			if hi-lo+1 > maxPages {
				return nil, &ValidationError{Op: OpConvert, Key: "pages", Reason: fmt.Sprintf("page range exceeds %d pages", maxPages)}
			}
			for p := lo; p <= hi; p++ {
				set[p] = struct{}{}
			}
			continue
		}
		p, err := strconv.Atoi(part)
		if err != nil || p < 1 {
			return nil, &ValidationError{Op: OpConvert, Key: "pages", Reason: "invalid page number: " + part}
		}
		set[p] = struct{}{}
	}

	if len(set) > maxPages {
		return nil, &ValidationError{Op: OpConvert, Key: "pages", Reason: fmt.Sprintf("page selection exceeds %d pages", maxPages)}
	}

	pages := make([]int, 0, len(set))
	for p := range set {
		pages = append(pages, p)
	}
	sort.Ints(pages)
	return pages, nil
}

func looksLikePages(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != ',' && r != '-' {
			return false
		}
	}
	return true
}
