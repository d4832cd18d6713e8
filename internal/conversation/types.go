package conversation

import "park_reports/internal/session"

// Kind classifies an inbound message.
type Kind int

const (
	KindOther Kind = iota
	KindText
	KindCommand
	KindPhoto
	KindLocation
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindCommand:
		return "command"
	case KindPhoto:
		return "photo"
	case KindLocation:
		return "location"
	default:
		return "other"
	}
}

// Commands understood in any state.
const (
	CommandStart   = "start"
	CommandReport  = "segnala"
	CommandCancel  = "cancel"
	CommandAnnulla = "annulla"
)

// Input is a transport-neutral inbound message.
type Input struct {
	UserID      int64
	ChatID      int64
	Kind        Kind
	Text        string
	Command     string
	PhotoFileID string
	Latitude    float64
	Longitude   float64
}

// Button is one key of a reply keyboard.
type Button struct {
	Text            string
	RequestLocation bool
}

// Reply is the outbound prompt for the message just handled.
type Reply struct {
	ChatID         int64
	Text           string
	Keyboard       [][]Button
	RemoveKeyboard bool
}

// EffectKind names a side effect the handler must execute after a transition.
type EffectKind string

const (
	EffectUploadPhoto EffectKind = "upload_photo"
	EffectFinalize    EffectKind = "finalize"
)

// Effect is a side effect requested by a transition.
type Effect struct {
	Kind   EffectKind
	FileID string
}

// Outcome summarizes what a transition did, for logs and counters.
type Outcome string

const (
	OutcomeMenu      Outcome = "menu"
	OutcomeInfo      Outcome = "info"
	OutcomeStarted   Outcome = "started"
	OutcomeAdvanced  Outcome = "advanced"
	OutcomeReprompt  Outcome = "reprompt"
	OutcomeCompleted Outcome = "completed"
	OutcomeCancelled Outcome = "cancelled"
)

// Result is the output of Step. Session is what the store should hold
// afterwards; nil means the user is idle. Completed carries the finalized
// submission when the last step was satisfied.
type Result struct {
	Session   *session.Submission
	Completed *session.Submission
	Reply     Reply
	Effects   []Effect
	Outcome   Outcome
	// Replaced is true when a new report overwrote one still in progress.
	Replaced bool
}
