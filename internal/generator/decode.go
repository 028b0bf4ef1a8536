package generator

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// jsonObjectRegex grabs the first {...} block out of model output that may
// wrap the JSON in prose or code fences.
var jsonObjectRegex = regexp.MustCompile(`(?s)\{.*?\}`)

// DecodeResult decodes raw model output into a Result. It tries a strict
// parse of the first JSON object, then a repaired parse, and finally
// degrades to treating the whole text as content addressed to
// fallbackTarget. Degradation is not a failure; the Fallback flag records
// it.
func DecodeResult(raw, fallbackTarget string) *Result {
	if candidate := jsonObjectRegex.FindString(raw); candidate != "" {
		if res := decodeCandidate(candidate); res != nil {
			return res
		}
		if repaired, err := jsonrepair.JSONRepair(candidate); err == nil {
			if res := decodeCandidate(repaired); res != nil {
				return res
			}
		}
	}

	return &Result{
		Target:   fallbackTarget,
		Content:  strings.TrimSpace(raw),
		Fallback: true,
	}
}

func decodeCandidate(candidate string) *Result {
	var res Result
	if err := json.Unmarshal([]byte(candidate), &res); err != nil {
		return nil
	}
	if res.Content == "" {
		return nil
	}
	return &res
}
