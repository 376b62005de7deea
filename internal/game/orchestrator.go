package game

import (
	"log"
	"strings"
	"sync"

	apperrors "github.com/ayush-jaipuriar/only-yours/internal/platform/errors"
	"github.com/ayush-jaipuriar/only-yours/internal/realtime"
)

// Publisher is the connection contract the orchestrator drives. It is
// satisfied by *realtime.Manager.
type Publisher interface {
	Subscribe(destination string, handler realtime.Handler) *realtime.Subscription
	Send(destination string, payload any) bool
}

// SessionStatus is the session lifecycle.
type SessionStatus string

const (
	SessionIdle          SessionStatus = "idle"
	SessionPlaying       SessionStatus = "playing"
	SessionTransitioning SessionStatus = "transitioning"
	SessionCompleted     SessionStatus = "completed"
)

// Question is the current prompt as shown to the local participant.
type Question struct {
	ID      int
	Number  int
	Total   int
	Text    string
	OptionA string
	OptionB string
	OptionC string
	OptionD string
	Round   Round
}

// GuessFeedback is the Round2 per-question correctness view. It is ephemeral
// and replaced when the next question arrives.
type GuessFeedback struct {
	QuestionText  string
	YourGuess     string
	PartnerAnswer string
	Correct       bool
	CorrectCount  int
}

// Result is the terminal session aggregate.
type Result struct {
	Player1Name    string
	Player1Score   int
	Player2Name    string
	Player2Score   int
	TotalQuestions int
	Message        string
}

// CombinedScore is the pair's joint score out of 2x TotalQuestions.
func (r Result) CombinedScore() int {
	return r.Player1Score + r.Player2Score
}

// Snapshot is a point-in-time copy of the orchestrator's session view. It is
// safe to retain; nested pointers reference copies, never live state.
type Snapshot struct {
	SessionID   string
	Status      SessionStatus
	Round       Round
	Question    *Question
	Submission  string
	Waiting     bool
	GuessResult *GuessFeedback
	Result      *Result
}

// Orchestrator advances one session at a time through the round protocol.
// All state mutations happen behind one mutex; inbound events and submission
// calls never interleave mid-transition.
type Orchestrator struct {
	pub Publisher

	// notifyMu keeps listener invocations one at a time without holding the
	// state mutex during the callback.
	notifyMu sync.Mutex

	mu         sync.Mutex
	listener   func(Snapshot)
	sessionID  string
	status     SessionStatus
	round      Round
	question   *Question
	submission string
	waiting    bool
	guess      *GuessFeedback
	result     *Result
	topicSub   *realtime.Subscription
	queueSub   *realtime.Subscription
}

// NewOrchestrator creates an idle orchestrator bound to pub.
func NewOrchestrator(pub Publisher) *Orchestrator {
	return &Orchestrator{pub: pub, status: SessionIdle}
}

// SetListener registers the snapshot change hook. Passing nil removes the
// current listener. The listener runs outside the state mutex, once per
// observable change, with the snapshot taken at change time.
func (o *Orchestrator) SetListener(listener func(Snapshot)) {
	o.mu.Lock()
	o.listener = listener
	o.mu.Unlock()
}

// Snapshot returns a copy of the current session view.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// Start begins a session: it resets every per-session field, enters
// Playing/Round1, and opens the broadcast and private subscriptions. It fails
// with SESSION_ACTIVE when a session is already in progress (end it first)
// and with NOT_CONNECTED when the connection is down.
func (o *Orchestrator) Start(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return apperrors.New(apperrors.CodeSessionEmptyID, "session id is required")
	}

	o.mu.Lock()
	if o.sessionID != "" && o.status != SessionCompleted {
		active := o.sessionID
		o.mu.Unlock()
		return apperrors.WithMetadata(apperrors.CodeSessionActive, "a session is already active",
			map[string]string{"session_id": active})
	}

	topicSub := o.pub.Subscribe(TopicForSession(sessionID), o.handleBroadcast)
	if topicSub == nil {
		o.mu.Unlock()
		return apperrors.New(apperrors.CodeNotConnected, "connection is not established")
	}
	queueSub := o.pub.Subscribe(PrivateQueue, o.handlePrivate)
	if queueSub == nil {
		o.mu.Unlock()
		topicSub.Unsubscribe()
		return apperrors.New(apperrors.CodeNotConnected, "connection is not established")
	}

	staleTopic, staleQueue := o.topicSub, o.queueSub
	o.resetLocked()
	o.sessionID = sessionID
	o.status = SessionPlaying
	o.round = RoundOne
	o.topicSub = topicSub
	o.queueSub = queueSub
	notify := o.changedLocked()
	o.mu.Unlock()

	// A completed session left unended still holds its handles.
	staleTopic.Unsubscribe()
	staleQueue.Unsubscribe()
	notify()

	log.Printf("game: session %s started", sessionID)
	return nil
}

// End releases both subscriptions and returns to Idle. It is the
// cancellation primitive: safe from any state, including Idle, and never
// fails.
func (o *Orchestrator) End() {
	o.mu.Lock()
	topicSub, queueSub := o.topicSub, o.queueSub
	ended := o.sessionID
	changed := o.sessionID != "" || o.status != SessionIdle
	o.resetLocked()
	var notify func()
	if changed {
		notify = o.changedLocked()
	}
	o.mu.Unlock()

	topicSub.Unsubscribe()
	queueSub.Unsubscribe()
	if notify != nil {
		notify()
	}
	if ended != "" {
		log.Printf("game: session %s ended", ended)
	}
}

// SubmitAnswer submits the Round1 choice for the current question.
func (o *Orchestrator) SubmitAnswer(choice string) error {
	return o.submit(choice, AnswerDestination)
}

// SubmitGuess submits the Round2 guess for the current question.
func (o *Orchestrator) SubmitGuess(choice string) error {
	return o.submit(choice, GuessDestination)
}

// submit enforces the per-question discipline: a choice is accepted at most
// once until the question changes, and the waiting flag is set optimistically
// then rolled back when the transport refuses the command.
func (o *Orchestrator) submit(choice, destination string) error {
	normalized := strings.ToUpper(strings.TrimSpace(choice))
	switch normalized {
	case "A", "B", "C", "D":
	default:
		return apperrors.WithMetadata(apperrors.CodeInvalidChoice, "choice must be one of A, B, C, D",
			map[string]string{"choice": choice})
	}

	o.mu.Lock()
	if o.sessionID == "" {
		o.mu.Unlock()
		return apperrors.New(apperrors.CodeNoActiveSession, "no session is active")
	}
	if o.status != SessionPlaying || o.question == nil {
		o.mu.Unlock()
		return apperrors.New(apperrors.CodeNoActiveQuestion, "no question is awaiting a submission")
	}
	if o.submission != "" {
		// Double-tap protection: the first submission stands.
		o.mu.Unlock()
		return nil
	}

	o.submission = normalized
	o.waiting = true
	var payload any
	if destination == GuessDestination {
		payload = guessCommand{SessionID: o.sessionID, QuestionID: o.question.ID, Guess: normalized}
	} else {
		payload = answerCommand{SessionID: o.sessionID, QuestionID: o.question.ID, Answer: normalized}
	}

	if !o.pub.Send(destination, payload) {
		o.submission = ""
		o.waiting = false
		o.mu.Unlock()
		return apperrors.New(apperrors.CodeNotConnected, "connection is not established")
	}
	notify := o.changedLocked()
	o.mu.Unlock()
	notify()
	return nil
}

// handleBroadcast consumes the session-scoped topic: questions, round
// transitions, and final results.
func (o *Orchestrator) handleBroadcast(msg realtime.Message) {
	switch ev := DecodeEvent(msg).(type) {
	case QuestionEvent:
		o.applyQuestion(ev)
	case StatusEvent:
		if ev.Status == StatusRound1Complete {
			o.applyRoundComplete(ev)
		}
	case ResultsEvent:
		o.applyResults(ev)
	case UnknownEvent:
		log.Printf("game: ignoring unknown broadcast event type %q", ev.Type)
	}
}

// handlePrivate consumes the participant-private queue. Only guess feedback
// concerns the orchestrator; invitation traffic on the same queue belongs to
// the invitation bridge's own subscription.
func (o *Orchestrator) handlePrivate(msg realtime.Message) {
	if ev, ok := DecodeEvent(msg).(GuessResultEvent); ok {
		o.applyGuessResult(ev)
	}
}

func (o *Orchestrator) applyQuestion(ev QuestionEvent) {
	o.mu.Lock()
	if !o.matchesLocked(ev.SessionID) {
		o.mu.Unlock()
		return
	}

	o.question = &Question{
		ID:      ev.QuestionID,
		Number:  ev.QuestionNumber,
		Total:   ev.TotalQuestions,
		Text:    ev.QuestionText,
		OptionA: ev.OptionA,
		OptionB: ev.OptionB,
		OptionC: ev.OptionC,
		OptionD: ev.OptionD,
		Round:   ev.Round,
	}
	o.submission = ""
	o.waiting = false
	o.guess = nil
	// A Round2-tagged question advances the round even when the explicit
	// transition status has not arrived yet; either signal may come first.
	if ev.Round == RoundTwo && o.round == RoundOne {
		o.round = RoundTwo
	}
	o.status = SessionPlaying
	notify := o.changedLocked()
	o.mu.Unlock()
	notify()
}

func (o *Orchestrator) applyRoundComplete(ev StatusEvent) {
	o.mu.Lock()
	if !o.matchesLocked(ev.SessionID) {
		o.mu.Unlock()
		return
	}
	if o.round != RoundOne {
		// The Round2 question already advanced the round; the late status
		// carries no new information.
		o.mu.Unlock()
		return
	}

	o.status = SessionTransitioning
	o.question = nil
	o.submission = ""
	o.waiting = false
	notify := o.changedLocked()
	o.mu.Unlock()
	notify()
}

func (o *Orchestrator) applyGuessResult(ev GuessResultEvent) {
	o.mu.Lock()
	if !o.matchesLocked(ev.SessionID) {
		o.mu.Unlock()
		return
	}

	o.guess = &GuessFeedback{
		QuestionText:  ev.QuestionText,
		YourGuess:     ev.YourGuess,
		PartnerAnswer: ev.PartnerAnswer,
		Correct:       ev.Correct,
		CorrectCount:  ev.CorrectCount,
	}
	// Hold submissions until the next question replaces this feedback.
	o.waiting = true
	notify := o.changedLocked()
	o.mu.Unlock()
	notify()
}

func (o *Orchestrator) applyResults(ev ResultsEvent) {
	o.mu.Lock()
	if !o.matchesLocked(ev.SessionID) {
		o.mu.Unlock()
		return
	}

	o.result = &Result{
		Player1Name:    ev.Player1Name,
		Player1Score:   ev.Player1Score,
		Player2Name:    ev.Player2Name,
		Player2Score:   ev.Player2Score,
		TotalQuestions: ev.TotalQuestions,
		Message:        ev.Message,
	}
	o.status = SessionCompleted
	o.question = nil
	o.waiting = false
	notify := o.changedLocked()
	o.mu.Unlock()
	notify()
}

// matchesLocked rejects events for a different session id. Events without a
// session id are accepted; the private queue does not always carry one.
func (o *Orchestrator) matchesLocked(sessionID string) bool {
	if o.sessionID == "" {
		return false
	}
	if sessionID != "" && sessionID != o.sessionID {
		log.Printf("game: dropping event for session %s while %s is active", sessionID, o.sessionID)
		return false
	}
	return true
}

func (o *Orchestrator) resetLocked() {
	o.sessionID = ""
	o.status = SessionIdle
	o.round = ""
	o.question = nil
	o.submission = ""
	o.waiting = false
	o.guess = nil
	o.result = nil
	o.topicSub = nil
	o.queueSub = nil
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	snap := Snapshot{
		SessionID:  o.sessionID,
		Status:     o.status,
		Round:      o.round,
		Submission: o.submission,
		Waiting:    o.waiting,
	}
	if o.question != nil {
		q := *o.question
		snap.Question = &q
	}
	if o.guess != nil {
		g := *o.guess
		snap.GuessResult = &g
	}
	if o.result != nil {
		r := *o.result
		snap.Result = &r
	}
	return snap
}

// changedLocked captures the snapshot and returns the notification to run
// after mu is released. The returned function is never nil.
func (o *Orchestrator) changedLocked() func() {
	listener := o.listener
	if listener == nil {
		return func() {}
	}
	snap := o.snapshotLocked()
	return func() {
		o.notifyMu.Lock()
		defer o.notifyMu.Unlock()
		listener(snap)
	}
}
