package scriptgen

import (
	"strings"
	"testing"
)

func TestParseResponseBothFences(t *testing.T) {
	reply := "Here is your game.\n" +
		"```json\n{\"title\": \"Pirate Words\", \"description\": \"Arr.\", \"category\": \"word\", \"duration\": 45}\n```\n" +
		"```lua\nGame = {}\nfunction Game.init() return {} end\n```\n" +
		"Enjoy!\n"

	meta, source, err := parseResponse(reply)
	if err != nil {
		t.Fatalf("parseResponse: %v", err)
	}
	if meta.Title != "Pirate Words" || meta.Category != "word" || meta.Duration != 45 {
		t.Errorf("meta = %+v", meta)
	}
	if !strings.Contains(source, "function Game.init()") {
		t.Errorf("source = %q", source)
	}
	if strings.Contains(source, "```") {
		t.Errorf("source still carries fence markers: %q", source)
	}
}

func TestParseResponseLuaOnly(t *testing.T) {
	meta, source, err := parseResponse("```lua\nGame = {}\n```")
	if err != nil {
		t.Fatalf("parseResponse: %v", err)
	}
	if meta.Title != "" || meta.Duration != 0 {
		t.Errorf("meta = %+v, want zero value", meta)
	}
	if source != "Game = {}" {
		t.Errorf("source = %q", source)
	}
}

func TestParseResponseRejects(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  string
	}{
		{"no fences", "sure, here is a fun game about pirates", "```lua"},
		{"unclosed lua fence", "```lua\nGame = {}", "```lua"},
		{"empty lua fence", "```lua\n```", "```lua"},
		{"bad json", "```json\n{not json}\n```\n```lua\nGame = {}\n```", "json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := parseResponse(tt.reply)
			if err == nil {
				t.Fatal("parseResponse accepted a bad reply")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want mention of %q", err, tt.want)
			}
		})
	}
}
