package domain

import "time"

// Action is a host command that moves a session between statuses.
type Action string

const (
	ActionStartQuiz       Action = "start_quiz"
	ActionShowAnswer      Action = "show_answer"
	ActionShowLeaderboard Action = "show_leaderboard"
	ActionNextQuestion    Action = "next_question"
	ActionSkip            Action = "skip"
	ActionEndGame         Action = "end_game"
)

// transitions is the complete table of legal host actions. Targets of StatusQuestion for
// advancing actions become StatusFinished when there is no next question.
var transitions = map[Status]map[Action]Status{
	StatusWaiting: {
		ActionStartQuiz: StatusQuestion,
		ActionEndGame:   StatusFinished,
	},
	StatusQuestion: {
		ActionShowAnswer: StatusAnswerReveal,
		ActionSkip:       StatusQuestion,
		ActionEndGame:    StatusFinished,
	},
	StatusAnswerReveal: {
		ActionShowLeaderboard: StatusLeaderboard,
		ActionSkip:            StatusQuestion,
		ActionEndGame:         StatusFinished,
	},
	StatusLeaderboard: {
		ActionNextQuestion: StatusQuestion,
		ActionEndGame:      StatusFinished,
	},
}

// advances reports whether the action moves to the next question.
func (a Action) advances() bool {
	return a == ActionSkip || a == ActionNextQuestion
}

// Allowed reports whether the action is legal from the status.
func Allowed(from Status, a Action) bool {
	_, ok := transitions[from][a]
	return ok
}

// Apply performs a host action on the session. Illegal actions leave the session untouched.
func (s *GameSession) Apply(a Action, now time.Time) error {
	to, ok := transitions[s.Status][a]
	if !ok {
		return ErrIllegalAction(a, s.Status)
	}

	switch {
	case a == ActionStartQuiz:
		s.CurrentQuestionIndex = 0
		s.QuestionStartedAt = now
	case a.advances():
		next := s.CurrentQuestionIndex + 1
		if next >= len(s.Quiz.Questions) {
			to = StatusFinished
			break
		}
		s.CurrentQuestionIndex = next
		s.QuestionStartedAt = now
	}

	s.Status = to
	return nil
}

// Joinable reports whether players may join a session in the status.
func (s Status) Joinable() bool {
	switch s {
	case StatusWaiting, StatusQuestion, StatusLeaderboard:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves the status.
func (s Status) Terminal() bool {
	return s == StatusFinished
}

// AcceptsAnswer reports whether an answer with the given option may be recorded in the status.
// The no-answer sentinel is still accepted while the answer is being revealed.
func (s Status) AcceptsAnswer(option int) bool {
	if s == StatusQuestion {
		return true
	}
	return option == NoAnswer && s == StatusAnswerReveal
}
