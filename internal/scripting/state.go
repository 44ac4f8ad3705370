package scripting

import (
	"encoding/json"
)

// Well-known state fields. Scripts may attach any extra fields they like;
// the engine round-trips them untouched.
const (
	fieldScore            = "score"
	fieldTimeRemaining    = "timeRemaining"
	fieldCurrentChallenge = "currentChallenge"
	fieldCurrentAnswer    = "currentAnswer"
	fieldIsPlaying        = "isPlaying"
	fieldWrongGuesses     = "wrongGuesses"
	fieldMaxWrongGuesses  = "maxWrongGuesses"
	fieldHints            = "hints"

	fieldState   = "state"
	fieldCorrect = "correct"
	fieldPoints  = "points"
)

const (
	// DefaultMaxWrongGuesses is the wrong-guess allowance when a script
	// fails to provide one.
	DefaultMaxWrongGuesses = 6
	// DefaultDuration is the round length in seconds when the game metadata
	// carries none.
	DefaultDuration = 60
)

// GameState is the host's typed view of the state table a script maintains.
// The well-known fields drive the loop and the UI; everything else the
// script stores survives in Extra and is handed back verbatim on the next
// call.
type GameState struct {
	Score            int
	TimeRemaining    int
	CurrentChallenge string
	CurrentAnswer    string
	IsPlaying        bool
	WrongGuesses     int
	MaxWrongGuesses  int
	Hints            []string
	Extra            map[string]any
}

// InputResult is a script's verdict on one player input.
type InputResult struct {
	State   GameState `json:"state"`
	Correct bool      `json:"correct"`
	Points  int       `json:"points"`
}

// DefaultState is the safe state the engine substitutes when Game.init is
// missing or fails: score zero, the configured time budget, not yet playing.
func DefaultState(durationSeconds int) GameState {
	if durationSeconds <= 0 {
		durationSeconds = DefaultDuration
	}
	return GameState{
		TimeRemaining:   durationSeconds,
		MaxWrongGuesses: DefaultMaxWrongGuesses,
	}
}

// toValue flattens the state into the plain map the marshaling layer
// understands. Script extras are laid down first so the typed fields always
// win a name collision.
func (s GameState) toValue() map[string]any {
	v := make(map[string]any, len(s.Extra)+8)
	for k, ev := range s.Extra {
		v[k] = ev
	}
	v[fieldScore] = s.Score
	v[fieldTimeRemaining] = s.TimeRemaining
	v[fieldCurrentChallenge] = s.CurrentChallenge
	v[fieldCurrentAnswer] = s.CurrentAnswer
	v[fieldIsPlaying] = s.IsPlaying
	v[fieldWrongGuesses] = s.WrongGuesses
	v[fieldMaxWrongGuesses] = s.MaxWrongGuesses
	hints := make([]any, len(s.Hints))
	for i, h := range s.Hints {
		hints[i] = h
	}
	v[fieldHints] = hints
	return v
}

// stateFromValue re-types a marshaled guest table into a GameState. Counters
// are clamped at zero; unknown fields are preserved in Extra. A non-record
// value yields the zero state and ok=false so callers can fall back.
func stateFromValue(v any) (GameState, bool) {
	rec, ok := v.(map[string]any)
	if !ok {
		return GameState{}, false
	}

	var s GameState
	s.Score = clampNonNegative(toInt(rec[fieldScore]))
	s.TimeRemaining = toInt(rec[fieldTimeRemaining])
	s.CurrentChallenge = toString(rec[fieldCurrentChallenge])
	s.CurrentAnswer = toString(rec[fieldCurrentAnswer])
	s.IsPlaying = toBool(rec[fieldIsPlaying])
	s.WrongGuesses = clampNonNegative(toInt(rec[fieldWrongGuesses]))
	s.MaxWrongGuesses = clampNonNegative(toInt(rec[fieldMaxWrongGuesses]))
	s.Hints = toStringSlice(rec[fieldHints])

	for k, ev := range rec {
		switch k {
		case fieldScore, fieldTimeRemaining, fieldCurrentChallenge,
			fieldCurrentAnswer, fieldIsPlaying, fieldWrongGuesses,
			fieldMaxWrongGuesses, fieldHints:
		default:
			if s.Extra == nil {
				s.Extra = make(map[string]any)
			}
			s.Extra[k] = ev
		}
	}
	return s, true
}

// inputResultFromValue re-types the table Game.onInput returns. A missing or
// malformed state sub-table keeps the caller's pre-input state, and negative
// points are dropped, so a broken script cannot corrupt the round.
func inputResultFromValue(v any, fallback GameState) (InputResult, bool) {
	rec, ok := v.(map[string]any)
	if !ok {
		return InputResult{State: fallback}, false
	}

	res := InputResult{State: fallback}
	if st, sok := stateFromValue(rec[fieldState]); sok {
		res.State = st
	}
	res.Correct = toBool(rec[fieldCorrect])
	res.Points = clampNonNegative(toInt(rec[fieldPoints]))
	return res, true
}

// MarshalJSON flattens Extra alongside the typed fields, matching the shape
// scripts see, so persisted snapshots replay cleanly into Game.start.
func (s GameState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.toValue())
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (s *GameState) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	st, _ := stateFromValue(raw)
	*s = st
	return nil
}

func toInt(v any) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	default:
		return 0
	}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func toBool(v any) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return false
}

func toStringSlice(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, el := range arr {
		if s, sok := el.(string); sok {
			out = append(out, s)
		}
	}
	return out
}

func clampNonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
