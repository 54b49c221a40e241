package engine

const (
	// PerfectScore is awarded for solving a puzzle on the first attempt
	PerfectScore = 100
	// MinScore is the floor for any successful attempt
	MinScore = 10
	// RetryPenalty is deducted for every attempt after the first
	RetryPenalty = 20
)

// Score returns the score for a success reached on the given attempt
func Score(attempts int) int {
	if attempts <= 1 {
		return PerfectScore
	}
	score := PerfectScore - RetryPenalty*(attempts-1)
	if score < MinScore {
		return MinScore
	}
	return score
}

// ManhattanDistance calculates the Manhattan distance between two positions
func ManhattanDistance(from, to Position) int {
	dr := from.Row - to.Row
	if dr < 0 {
		dr = -dr
	}
	dc := from.Col - to.Col
	if dc < 0 {
		dc = -dc
	}
	return dr + dc
}
