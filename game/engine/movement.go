package engine

// step evaluates one queued command against the loaded puzzle and reports
// whether the attempt reached a terminal phase. Caller holds e.mu.
//
// Rule order matters: an illegal move fails without moving, a key on the
// entered cell is collected before the armed-trap check, and the goal only
// counts once no keys remain.
func (e *Engine) step(dir Direction) bool {
	p := e.puzzle
	s := &e.state
	s.StepsExecuted++

	candidate := s.RobotPosition.Add(dir)
	if !p.InBounds(candidate) {
		e.fail(ReasonOutOfBounds)
		return true
	}
	if p.TerrainAt(candidate) == Wall {
		e.fail(ReasonWall)
		return true
	}

	s.RobotPosition = candidate

	if i := indexOf(s.RemainingKeys, candidate); i >= 0 {
		s.RemainingKeys = append(s.RemainingKeys[:i], s.RemainingKeys[i+1:]...)
		s.KeysCollected++
		// Arming is one-way for the rest of the attempt.
		if s.KeysCollected == 1 && len(p.traps) > 0 && !s.TrapsArmed {
			s.TrapsArmed = true
		}
	}

	if s.TrapsArmed && p.IsTrap(candidate) {
		e.fail(ReasonTrap)
		return true
	}

	if candidate == p.Goal() && len(s.RemainingKeys) == 0 {
		s.Phase = Success
		s.Score = Score(s.Attempts)
		s.FailureReason = ReasonNone
		return true
	}

	return false
}

// fail ends the attempt. The robot stays where it is.
func (e *Engine) fail(reason FailureReason) {
	e.state.Phase = Failed
	e.state.FailureReason = reason
}

// CanMove reports whether moving from pos in direction d would land on a
// legal cell of p. Keys and traps are not considered.
func CanMove(p *Puzzle, pos Position, d Direction) bool {
	next := pos.Add(d)
	return d.Valid() && p.InBounds(next) && p.TerrainAt(next) != Wall
}

func indexOf(ps []Position, target Position) int {
	for i, p := range ps {
		if p == target {
			return i
		}
	}
	return -1
}
