package policy

import (
	"bytes"
	"fmt"

	json "github.com/goccy/go-json"
)

// legacyFilterKeys lived at the top level before version 2.
var legacyFilterKeys = []string{"linkSpam", "massMention", "inviteLinks", "caps"}

// windowedKeys accept the old "timeWindow" spelling.
var windowedKeys = []string{"spam", "duplicateDetection", "raid"}

type document map[string]json.RawMessage

// Migrate rewrites a stored document of any known version into the canonical
// version 2 shape. It never fills defaults; Parse does that afterwards.
func Migrate(raw []byte) ([]byte, error) {
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: document is not an object", ErrInvalid)
	}

	version := 0
	if v, ok := doc["version"]; ok {
		if err := json.Unmarshal(v, &version); err != nil {
			return nil, fmt.Errorf("%w: version: %v", ErrInvalid, err)
		}
	}

	if err := liftFilters(doc, version < Version); err != nil {
		return nil, err
	}
	for _, key := range windowedKeys {
		if err := renameField(doc, key, "timeWindow", "timeWindowSeconds"); err != nil {
			return nil, err
		}
	}
	if err := expandShorthand(doc, "badWords", "spam", "duplicateDetection", "emojiSpam", "newlineSpam", "raid", "escalatingPunishment"); err != nil {
		return nil, err
	}

	doc["version"] = json.RawMessage(fmt.Sprint(Version))
	return json.Marshal(doc)
}

// liftFilters moves legacy top-level filter keys under "filters" when lift
// is set, and expands boolean shorthand inside "filters" either way.
func liftFilters(doc document, lift bool) error {
	filters := document{}
	if raw, ok := doc["filters"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &filters); err != nil {
			return fmt.Errorf("%w: filters: %v", ErrInvalid, err)
		}
	}
	for _, key := range legacyFilterKeys {
		raw, ok := doc[key]
		if !ok || !lift {
			continue
		}
		delete(doc, key)
		if _, exists := filters[key]; !exists {
			filters[key] = raw
		}
	}
	if err := expandShorthand(filters, legacyFilterKeys...); err != nil {
		return err
	}
	if len(filters) == 0 {
		return nil
	}
	encoded, err := json.Marshal(filters)
	if err != nil {
		return err
	}
	doc["filters"] = encoded
	return nil
}

// expandShorthand turns `"caps": true` into `"caps": {"enabled": true}`.
func expandShorthand(doc document, keys ...string) error {
	for _, key := range keys {
		raw, ok := doc[key]
		if !ok {
			continue
		}
		trimmed := bytes.TrimSpace(raw)
		switch {
		case bytes.Equal(trimmed, []byte("true")), bytes.Equal(trimmed, []byte("false")):
			doc[key] = json.RawMessage(`{"enabled":` + string(trimmed) + `}`)
		case isNull(trimmed):
			delete(doc, key)
		case len(trimmed) > 0 && trimmed[0] != '{':
			return fmt.Errorf("%w: %s must be an object or boolean", ErrInvalid, key)
		}
	}
	return nil
}

func renameField(doc document, key, from, to string) error {
	raw, ok := doc[key]
	if !ok || isNull(raw) {
		return nil
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	var inner document
	if err := json.Unmarshal(raw, &inner); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
	}
	value, ok := inner[from]
	if !ok {
		return nil
	}
	delete(inner, from)
	if _, exists := inner[to]; !exists {
		inner[to] = value
	}
	encoded, err := json.Marshal(inner)
	if err != nil {
		return err
	}
	doc[key] = encoded
	return nil
}

func isNull(raw []byte) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
