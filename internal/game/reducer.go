package game

// Apply is the pure match transition function. Every transition is a guarded
// no-op: when the action's required phase or question phase does not match,
// the input state is returned verbatim, untouched maps included. Both peers
// process the same event kinds independently, so convergence rests on each
// transition being idempotent given its precondition; a duplicate delivery
// fails the guard and is silently absorbed.
func Apply(s State, action Action) State {
	switch a := action.(type) {
	case StartMatch:
		if s.Phase != PhaseSetup {
			return s
		}
		s.Phase = PhaseCountdown
		s.QuestionPhase = QWaiting
		s.SelfScore = 0
		s.PeerScore = 0
		s.AnsweredCount = 0
		s.QuestionIndex = 0
		s.CountdownValue = 3
		s.BonusFlag = false
		return s

	case TickCountdown:
		if s.Phase != PhaseCountdown {
			return s
		}
		s.CountdownValue = a.Value
		return s

	case CountdownFinished:
		if s.Phase != PhaseCountdown {
			return s
		}
		s.Phase = PhaseActive
		s.MatchEndsAt = a.MatchEndsAt
		return s

	case NewQuestion:
		if s.Phase != PhaseActive {
			return s
		}
		q := a.Question
		s.QuestionPhase = QWaiting
		s.CurrentQuestion = &q
		s.QuestionIndex = a.Index
		s.QuestionStartedAt = a.StartedAt
		s.OptionHighlights = map[int]Highlight{}
		s.InputLocked = false
		return s

	case SelfAnswered:
		if s.Phase != PhaseActive || s.CurrentQuestion == nil {
			return s
		}
		if s.QuestionPhase != QWaiting && s.QuestionPhase != QPeerAnswered {
			return s
		}
		highlights := cloneHighlights(s.OptionHighlights)
		if a.Correct {
			highlights[a.Value] = HighlightCorrect
		} else {
			highlights[a.Value] = HighlightWrong
			highlights[s.CurrentQuestion.Answer] = HighlightCorrect
		}

		peerDone := s.QuestionPhase == QPeerAnswered
		if !a.Multiplayer || peerDone {
			s.QuestionPhase = QBothAnswered
		} else {
			s.QuestionPhase = QSelfAnswered
		}
		s.SelfScore += a.Points
		s.AnsweredCount++
		s.OptionHighlights = highlights
		s.InputLocked = true
		return s

	case PeerAnswered:
		if s.Phase != PhaseActive {
			return s
		}
		if s.QuestionPhase != QWaiting &&
			s.QuestionPhase != QSelfAnswered &&
			s.QuestionPhase != QSelfTimedOut {
			return s
		}
		highlights := cloneHighlights(s.OptionHighlights)
		points := 0
		if a.Correct {
			points = a.Points
		}

		// Peer answered correctly while this side was still racing: lockout.
		// The question settles without a local answer action; this is the
		// only path where AnsweredCount advances without local input.
		if a.Correct && s.QuestionPhase == QWaiting {
			highlights[a.Value] = HighlightCorrect
			s.QuestionPhase = QBothAnswered
			s.PeerScore += points
			s.AnsweredCount++
			s.OptionHighlights = highlights
			s.InputLocked = true
			return s
		}

		// Value -1 is the synthetic lockout/timeout echo; nothing to show.
		if !a.Correct && a.Value >= 0 {
			highlights[a.Value] = HighlightPeerWrong
		}

		if s.QuestionPhase == QSelfAnswered || s.QuestionPhase == QSelfTimedOut {
			s.QuestionPhase = QBothAnswered
		} else {
			s.QuestionPhase = QPeerAnswered
		}
		s.PeerScore += points
		s.OptionHighlights = highlights
		return s

	case SelfTimedOut:
		if s.Phase != PhaseActive || s.CurrentQuestion == nil {
			return s
		}
		if s.QuestionPhase != QWaiting && s.QuestionPhase != QPeerAnswered {
			return s
		}
		highlights := cloneHighlights(s.OptionHighlights)
		highlights[s.CurrentQuestion.Answer] = HighlightCorrect

		peerDone := s.QuestionPhase == QPeerAnswered
		if !a.Multiplayer || peerDone {
			s.QuestionPhase = QBothAnswered
		} else {
			s.QuestionPhase = QSelfTimedOut
		}
		s.AnsweredCount++
		s.OptionHighlights = highlights
		s.InputLocked = true
		return s

	case EndMatch:
		if s.Phase != PhaseActive {
			return s
		}
		s.Phase = PhaseResults
		history := make([]Record, len(s.History), len(s.History)+1)
		copy(history, s.History)
		s.History = append(history, a.Summary)
		return s

	case Forfeit:
		if s.Phase != PhaseActive && s.Phase != PhaseCountdown {
			return s
		}
		by := a.By
		s.Phase = PhaseForfeited
		s.ForfeitInfo = &by
		return s

	case ResetToSetup:
		s.Phase = PhaseSetup
		s.QuestionPhase = QWaiting
		s.BonusFlag = false
		s.ForfeitInfo = nil
		return s

	case ShowBonus:
		if s.Phase != PhaseActive {
			return s
		}
		s.BonusFlag = true
		return s

	case HideBonus:
		if s.Phase != PhaseActive {
			return s
		}
		s.BonusFlag = false
		return s

	case LoadHistory:
		s.History = a.History
		return s
	}

	return s
}

func cloneHighlights(m map[int]Highlight) map[int]Highlight {
	out := make(map[int]Highlight, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}
