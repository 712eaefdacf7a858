package snapshot

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	json "github.com/goccy/go-json"
	"github.com/goccy/go-yaml"
)

// ErrMalformed is returned when a stored document cannot be
// parsed into a Snapshot.
var ErrMalformed = errors.New("malformed snapshot document")

// ErrInvalidKey is returned for path keys that no document
// format can store: empty or not valid UTF-8.
var ErrInvalidKey = errors.New("invalid snapshot key")

// ValidKey reports whether path can be stored as a key.
func ValidKey(path string) error {
	if path == "" || !utf8.ValidString(path) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, path)
	}

	return nil
}

// Codec converts a Snapshot to and from its persisted
// document form.
type Codec interface {
	Name() string
	Marshal(snap Snapshot) ([]byte, error)
	Unmarshal(data []byte) (Snapshot, error)
}

// YAMLCodec stores snapshots as a flat YAML mapping.
type YAMLCodec struct{}

// Name returns "yaml".
func (YAMLCodec) Name() string { return "yaml" }

// Marshal encodes snap with keys in sorted order. Every key
// and value is double quoted so names such as ".inf", "~" or
// ones holding tabs and newlines read back unchanged.
func (YAMLCodec) Marshal(snap Snapshot) ([]byte, error) {
	const errCtx = "encoding yaml snapshot"

	if err := checkKeys(snap); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	buf, err := yaml.MarshalWithOptions(
		map[string]string(snap),
		yaml.JSON(),
		yaml.Flow(false),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	return buf, nil
}

// Unmarshal decodes a YAML mapping. Blank documents yield an
// empty snapshot.
func (YAMLCodec) Unmarshal(data []byte) (Snapshot, error) {
	const errCtx = "decoding yaml snapshot"

	if len(bytes.TrimSpace(data)) == 0 {
		return New(), nil
	}

	var raw map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf(
			"%s: %w: %w", errCtx, ErrMalformed, err,
		)
	}

	return validate(raw)
}

// JSONCodec stores snapshots as an indented JSON object.
type JSONCodec struct{}

// Name returns "json".
func (JSONCodec) Name() string { return "json" }

// Marshal encodes snap with keys in sorted order.
func (JSONCodec) Marshal(snap Snapshot) ([]byte, error) {
	const errCtx = "encoding json snapshot"

	if err := checkKeys(snap); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	buf, err := json.MarshalIndent(
		map[string]string(snap), "", "  ",
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	return append(buf, '\n'), nil
}

// Unmarshal decodes a JSON object. Blank documents yield an
// empty snapshot.
func (JSONCodec) Unmarshal(data []byte) (Snapshot, error) {
	const errCtx = "decoding json snapshot"

	if len(bytes.TrimSpace(data)) == 0 {
		return New(), nil
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf(
			"%s: %w: %w", errCtx, ErrMalformed, err,
		)
	}

	return validate(raw)
}

// CodecFor picks the codec matching the document extension.
func CodecFor(path string) Codec {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return JSONCodec{}
	}

	return YAMLCodec{}
}

func checkKeys(snap Snapshot) error {
	for path := range snap {
		if err := ValidKey(path); err != nil {
			return err
		}
	}

	return nil
}

// validate checks every entry has a non-empty key and a
// lowercase hex digest.
func validate(raw map[string]string) (Snapshot, error) {
	snap := make(Snapshot, len(raw))

	for path, dg := range raw {
		if path == "" {
			return nil, fmt.Errorf(
				"%w: empty path key", ErrMalformed,
			)
		}

		if !isHexDigest(dg) {
			return nil, fmt.Errorf(
				"%w: invalid digest %q for %s",
				ErrMalformed, dg, path,
			)
		}

		snap[path] = dg
	}

	return snap, nil
}

func isHexDigest(s string) bool {
	if s == "" || len(s)%2 != 0 {
		return false
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}

	return true
}
