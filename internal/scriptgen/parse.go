package scriptgen

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// gameMeta is the metadata block a generation reply carries alongside the
// script.
type gameMeta struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Duration    int    `json:"duration"`
}

// parseResponse splits a model reply into its metadata and Lua source. The
// lua fence is mandatory; the json fence is optional but must parse when
// present, so a garbled reply surfaces as feedback for the retry instead of
// producing a half-described game.
func parseResponse(text string) (gameMeta, string, error) {
	var meta gameMeta

	source, ok := extractFence(text, "lua")
	if !ok || source == "" {
		return meta, "", errors.New("reply contains no ```lua code block")
	}

	if raw, ok := extractFence(text, "json"); ok {
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			return meta, "", fmt.Errorf("reply's ```json block does not parse: %v", err)
		}
	}
	return meta, source, nil
}

// extractFence returns the body of the first ```lang fenced block.
func extractFence(text, lang string) (string, bool) {
	marker := "```" + lang
	i := strings.Index(text, marker)
	if i < 0 {
		return "", false
	}
	rest := text[i+len(marker):]
	j := strings.Index(rest, "```")
	if j < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:j]), true
}
