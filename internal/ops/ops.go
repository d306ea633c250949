package ops

import (
	"encoding/base64"
	"errors"
	"path"
	"strings"
)

// MediaType selects one of the four disjoint operation namespaces.
type MediaType string

const (
	MediaImage    MediaType = "image"
	MediaAudio    MediaType = "audio"
	MediaVideo    MediaType = "video"
	MediaDocument MediaType = "document"
)

// ParseMediaType resolves a request path segment to a known media type.
func ParseMediaType(s string) (MediaType, bool) {
	switch MediaType(strings.ToLower(s)) {
	case MediaImage:
		return MediaImage, true
	case MediaAudio:
		return MediaAudio, true
	case MediaVideo:
		return MediaVideo, true
	case MediaDocument:
		return MediaDocument, true
	}
	return "", false
}

// RawParam is one key/value token of a stage, before validation.
// Bare flags carry an empty Value.
type RawParam struct {
	Key   string
	Value string
}

// OperationSpec is one parsed stage: the operation name, its raw parameters
// in source order, and the stage's position within the pipeline.
type OperationSpec struct {
	Name     string
	Params   []RawParam
	Position int
}

// DecodeRef decodes a base64url-encoded object reference (a key or bucket
// name) embedded in a parameter value, where the plain characters would
// collide with the operations grammar.
func DecodeRef(s string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return "", err
	}
	if len(b) == 0 {
		return "", errors.New("empty reference")
	}
	return string(b), nil
}

// SourceFormat derives a format tag from an object key's extension.
func SourceFormat(key string) string {
	ext := strings.TrimPrefix(path.Ext(key), ".")
	return strings.ToLower(ext)
}
