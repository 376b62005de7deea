package game

import (
	"encoding/json"

	"github.com/ayush-jaipuriar/only-yours/internal/realtime"
)

// Destinations of the game protocol. The broadcast topic is session-scoped;
// the private queue carries per-participant events (guess feedback,
// invitations) so they are not visible to the partner.
const (
	PrivateQueue = "/user/queue/game-events"

	AnswerDestination  = "/app/game.answer"
	GuessDestination   = "/app/game.guess"
	InviteDestination  = "/app/game.invite"
	AcceptDestination  = "/app/game.accept"
	DeclineDestination = "/app/game.decline"
)

// TopicForSession returns the broadcast destination for one session.
func TopicForSession(sessionID string) string {
	return "/topic/game/" + sessionID
}

// Round identifies the protocol phase: Round1 is "answer your own view",
// Round2 is "guess the partner's answer".
type Round string

const (
	RoundOne Round = "ROUND1"
	RoundTwo Round = "ROUND2"
)

// Status values carried by StatusEvent.
const (
	StatusRound1Complete = "ROUND1_COMPLETE"
	StatusInvitationSent = "INVITATION_SENT"
)

// Event is the decoded form of one inbound protocol payload. Exactly one of
// the concrete variants below is produced per payload; anything unrecognized
// decodes to UnknownEvent rather than an error.
type Event interface {
	eventType() string
}

// QuestionEvent delivers the next prompt of the current round.
type QuestionEvent struct {
	SessionID      string `json:"sessionId"`
	QuestionID     int    `json:"questionId"`
	QuestionNumber int    `json:"questionNumber"`
	TotalQuestions int    `json:"totalQuestions"`
	QuestionText   string `json:"questionText"`
	OptionA        string `json:"optionA"`
	OptionB        string `json:"optionB"`
	OptionC        string `json:"optionC"`
	OptionD        string `json:"optionD"`
	Round          Round  `json:"round"`
}

// StatusEvent carries out-of-band lifecycle notices such as
// ROUND1_COMPLETE and INVITATION_SENT.
type StatusEvent struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

// ResultsEvent terminates a session with both participants' scores.
type ResultsEvent struct {
	SessionID      string `json:"sessionId"`
	Player1Name    string `json:"player1Name"`
	Player1Score   int    `json:"player1Score"`
	Player2Name    string `json:"player2Name"`
	Player2Score   int    `json:"player2Score"`
	TotalQuestions int    `json:"totalQuestions"`
	Message        string `json:"message"`
}

// GuessResultEvent is Round2-only per-participant feedback delivered on the
// private queue.
type GuessResultEvent struct {
	SessionID      string `json:"sessionId"`
	QuestionID     int    `json:"questionId"`
	QuestionNumber int    `json:"questionNumber"`
	QuestionText   string `json:"questionText"`
	YourGuess      string `json:"yourGuess"`
	PartnerAnswer  string `json:"partnerAnswer"`
	Correct        bool   `json:"correct"`
	CorrectCount   int    `json:"correctCount"`
}

// InvitationEvent is a partner's game invitation, delivered on the private
// queue and consumed by the invitation bridge rather than the orchestrator.
type InvitationEvent struct {
	SessionID           string `json:"sessionId"`
	CategoryID          string `json:"categoryId"`
	CategoryName        string `json:"categoryName"`
	CategoryDescription string `json:"categoryDescription"`
}

// UnknownEvent is the fallback for payloads with an unrecognized type tag,
// undecodable JSON, or non-JSON text.
type UnknownEvent struct {
	Type string
	Raw  json.RawMessage
	Text string
}

func (QuestionEvent) eventType() string    { return "QUESTION" }
func (StatusEvent) eventType() string      { return "STATUS" }
func (ResultsEvent) eventType() string     { return "GAME_RESULTS" }
func (GuessResultEvent) eventType() string { return "GUESS_RESULT" }
func (InvitationEvent) eventType() string  { return "INVITATION" }
func (UnknownEvent) eventType() string     { return "UNKNOWN" }

// DecodeEvent maps one inbound message to its event variant. It never fails:
// payloads this package does not understand come back as UnknownEvent so the
// caller can log and move on.
func DecodeEvent(msg realtime.Message) Event {
	if !msg.Parsed {
		return UnknownEvent{Text: msg.Text}
	}

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg.Body, &head); err != nil {
		return UnknownEvent{Raw: msg.Body}
	}

	switch head.Type {
	case "QUESTION":
		var ev QuestionEvent
		if err := json.Unmarshal(msg.Body, &ev); err != nil {
			return UnknownEvent{Type: head.Type, Raw: msg.Body}
		}
		return ev
	case "STATUS":
		var ev StatusEvent
		if err := json.Unmarshal(msg.Body, &ev); err != nil {
			return UnknownEvent{Type: head.Type, Raw: msg.Body}
		}
		return ev
	case "GAME_RESULTS":
		var ev ResultsEvent
		if err := json.Unmarshal(msg.Body, &ev); err != nil {
			return UnknownEvent{Type: head.Type, Raw: msg.Body}
		}
		return ev
	case "GUESS_RESULT":
		var ev GuessResultEvent
		if err := json.Unmarshal(msg.Body, &ev); err != nil {
			return UnknownEvent{Type: head.Type, Raw: msg.Body}
		}
		return ev
	case "INVITATION":
		var ev InvitationEvent
		if err := json.Unmarshal(msg.Body, &ev); err != nil {
			return UnknownEvent{Type: head.Type, Raw: msg.Body}
		}
		return ev
	default:
		return UnknownEvent{Type: head.Type, Raw: msg.Body}
	}
}

// answerCommand and guessCommand are the outbound submission payloads.
type answerCommand struct {
	SessionID  string `json:"sessionId"`
	QuestionID int    `json:"questionId"`
	Answer     string `json:"answer"`
}

type guessCommand struct {
	SessionID  string `json:"sessionId"`
	QuestionID int    `json:"questionId"`
	Guess      string `json:"guess"`
}
