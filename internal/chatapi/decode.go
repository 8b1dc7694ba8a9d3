package chatapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/rs/zerolog/log"
)

// decode unmarshals a response body into v. Bodies that are not valid JSON
// (truncated by a proxy, trailing commas) get one repair attempt first.
func decode(data []byte, v interface{}) error {
	err := json.Unmarshal(data, v)
	if err == nil {
		return nil
	}
	var syntaxErr *json.SyntaxError
	if !errors.As(err, &syntaxErr) {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	repaired, repairErr := jsonrepair.JSONRepair(string(data))
	if repairErr != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if err2 := json.Unmarshal([]byte(repaired), v); err2 != nil {
		return fmt.Errorf("failed to decode repaired response: %w", err2)
	}
	log.Warn().
		Int("original_bytes", len(data)).
		Int("repaired_bytes", len(repaired)).
		Msg("Decoded malformed response after JSON repair")
	return nil
}

// firstString returns the first non-empty string found at any of the
// dotted paths in obj.
func firstString(obj map[string]interface{}, paths ...string) string {
	for _, p := range paths {
		var cur interface{} = obj
		for _, key := range strings.Split(p, ".") {
			m, ok := cur.(map[string]interface{})
			if !ok {
				cur = nil
				break
			}
			cur = m[key]
		}
		switch v := cur.(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}
