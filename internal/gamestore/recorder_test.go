package gamestore

import (
	"testing"
	"time"

	"github.com/adlib-games/adlib/internal/match"
)

func TestRecorderFlushesBatches(t *testing.T) {
	s := newTestStore(t)
	gameID, err := s.CreateGame(testGame())
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	roundID, err := s.CreateRound(&Round{GameID: gameID})
	if err != nil {
		t.Fatalf("CreateRound: %v", err)
	}

	rec := NewRecorder(s, nil, 2)
	for i, input := range []string{"a", "b", "c"} {
		rec.RecordInput(match.InputRecord{
			RoundID: roundID,
			Seq:     i + 1,
			Input:   input,
			Correct: input == "c",
			Points:  i,
			At:      time.Now(),
		})
	}
	rec.Close()

	ins, err := s.GetRoundInputs(roundID)
	if err != nil {
		t.Fatalf("GetRoundInputs: %v", err)
	}
	if len(ins) != 3 {
		t.Fatalf("stored %d inputs, want 3", len(ins))
	}
	for i, in := range ins {
		if in.Seq != i+1 {
			t.Errorf("input %d has seq %d", i, in.Seq)
		}
	}
	if !ins[2].Correct || ins[2].Points != 2 {
		t.Errorf("last input = %+v", ins[2])
	}
}

func TestRecorderCloseWithEmptyBuffer(t *testing.T) {
	s := newTestStore(t)
	rec := NewRecorder(s, nil, 10)
	rec.Close()
}
