package match

import "time"

// maxScorePoints bounds the score series kept per round. The buffer halves
// itself once it doubles the budget, so long rounds trade resolution for a
// fixed memory ceiling.
const maxScorePoints = 120

// ScorePoint is one sample of the score over elapsed play time.
type ScorePoint struct {
	Elapsed int `json:"elapsed"`
	Score   int `json:"score"`
}

// Summary describes a finished round.
type Summary struct {
	RoundID        string       `json:"roundId"`
	GameID         string       `json:"gameId"`
	Reason         EndReason    `json:"reason"`
	Score          int          `json:"score"`
	Inputs         int          `json:"inputs"`
	Correct        int          `json:"correct"`
	WrongGuesses   int          `json:"wrongGuesses"`
	HintsUsed      int          `json:"hintsUsed"`
	ScriptFailures int          `json:"scriptFailures"`
	PlayedSeconds  int          `json:"playedSeconds"`
	StartedAt      time.Time    `json:"startedAt"`
	EndedAt        time.Time    `json:"endedAt"`
	Series         []ScorePoint `json:"series"`
}

// scoreBuffer accumulates score samples with bounded memory. Decimation
// keeps every other point plus the newest one, preserving the first and
// last samples of the round.
type scoreBuffer struct {
	points []ScorePoint
}

func (b *scoreBuffer) add(p ScorePoint) {
	b.points = append(b.points, p)
	if len(b.points) >= 2*maxScorePoints {
		b.decimate()
	}
}

func (b *scoreBuffer) decimate() {
	kept := b.points[:0:len(b.points)]
	for i := 0; i < len(b.points); i += 2 {
		kept = append(kept, b.points[i])
	}
	if last := b.points[len(b.points)-1]; kept[len(kept)-1] != last {
		kept = append(kept, last)
	}
	b.points = kept
}

func (b *scoreBuffer) snapshot() []ScorePoint {
	out := make([]ScorePoint, len(b.points))
	copy(out, b.points)
	return out
}
