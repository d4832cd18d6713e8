package conversation

import (
	"math"
	"strings"
	"time"

	"park_reports/internal/config"
	"park_reports/internal/session"
)

// Step is the pure transition function of the intake conversation. It never
// performs I/O: uploads and persistence are returned as effects.
func Step(cat config.Catalog, cur *session.Submission, in Input, now time.Time) Result {
	if cur != nil && cur.State == session.StateIdle {
		cur = nil
	}

	if in.Kind == KindCommand {
		switch strings.ToLower(in.Command) {
		case CommandStart:
			return menu(cat, in.ChatID)
		case CommandReport:
			return begin(cat, cur, in, now)
		case CommandCancel, CommandAnnulla:
			return Result{
				Reply:   Reply{ChatID: in.ChatID, Text: cat.Cancelled, RemoveKeyboard: true},
				Outcome: OutcomeCancelled,
			}
		}
		if cur == nil {
			return fallback(cat, in.ChatID)
		}
		return reprompt(cat, *cur, in.ChatID)
	}

	if in.Kind == KindText && strings.TrimSpace(in.Text) == cat.ReportButton {
		return begin(cat, cur, in, now)
	}

	if cur == nil {
		return idle(cat, in)
	}

	next := *cur
	switch cur.State {
	case session.StateCategory:
		label, ok := cat.MatchCategory(in.Text)
		if in.Kind != KindText || !ok {
			return reprompt(cat, next, in.ChatID)
		}
		next.Category = label
		next.State = session.StatePhoto
		return Result{
			Session: &next,
			Reply:   Reply{ChatID: in.ChatID, Text: cat.SelectedText(label), RemoveKeyboard: true},
			Outcome: OutcomeAdvanced,
		}

	case session.StatePhoto:
		if in.Kind != KindPhoto || in.PhotoFileID == "" {
			return reprompt(cat, next, in.ChatID)
		}
		next.PhotoFileID = in.PhotoFileID
		next.PhotoRef = in.PhotoFileID
		next.State = session.StateLocation
		return Result{
			Session: &next,
			Reply:   Reply{ChatID: in.ChatID, Text: cat.LocationPrompt, Keyboard: locationKeyboard(cat)},
			Effects: []Effect{{Kind: EffectUploadPhoto, FileID: in.PhotoFileID}},
			Outcome: OutcomeAdvanced,
		}

	case session.StateLocation:
		if in.Kind != KindLocation || !ValidCoordinate(in.Latitude, in.Longitude) {
			return reprompt(cat, next, in.ChatID)
		}
		next.Latitude = in.Latitude
		next.Longitude = in.Longitude
		next.HasLocation = true
		next.State = session.StateDescription
		return Result{
			Session: &next,
			Reply:   Reply{ChatID: in.ChatID, Text: cat.DescriptionPrompt, Keyboard: [][]Button{{{Text: cat.SkipButton}}}},
			Outcome: OutcomeAdvanced,
		}

	case session.StateDescription:
		if in.Kind != KindText {
			return reprompt(cat, next, in.ChatID)
		}
		desc := strings.TrimSpace(in.Text)
		if desc == strings.TrimSpace(cat.SkipButton) {
			desc = ""
		}
		next.Description = desc
		next.State = session.StateIdle
		return Result{
			Completed: &next,
			Reply:     Reply{ChatID: in.ChatID, Text: cat.Completed, Keyboard: [][]Button{{{Text: cat.ReportButton}}}},
			Effects:   []Effect{{Kind: EffectFinalize}},
			Outcome:   OutcomeCompleted,
		}
	}

	// Unknown state: drop it and behave as idle.
	return idle(cat, in)
}

// ValidCoordinate reports whether lat/lon are inside WGS84 bounds.
func ValidCoordinate(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

func begin(cat config.Catalog, cur *session.Submission, in Input, now time.Time) Result {
	sub := session.New(in.UserID, in.ChatID, now)
	return Result{
		Session:  &sub,
		Reply:    Reply{ChatID: in.ChatID, Text: cat.CategoryPrompt, Keyboard: categoryKeyboard(cat)},
		Outcome:  OutcomeStarted,
		Replaced: cur != nil,
	}
}

func menu(cat config.Catalog, chatID int64) Result {
	return Result{
		Reply: Reply{
			ChatID: chatID,
			Text:   cat.MenuPrompt,
			Keyboard: [][]Button{
				{{Text: cat.ReportButton}},
				{{Text: cat.InfoButton}, {Text: cat.PrivacyButton}},
			},
		},
		Outcome: OutcomeMenu,
	}
}

func idle(cat config.Catalog, in Input) Result {
	if in.Kind == KindText {
		switch strings.TrimSpace(in.Text) {
		case cat.InfoButton:
			return Result{Reply: Reply{ChatID: in.ChatID, Text: cat.InfoText}, Outcome: OutcomeInfo}
		case cat.PrivacyButton:
			return Result{Reply: Reply{ChatID: in.ChatID, Text: cat.PrivacyText}, Outcome: OutcomeInfo}
		}
	}
	return fallback(cat, in.ChatID)
}

func fallback(cat config.Catalog, chatID int64) Result {
	return Result{Reply: Reply{ChatID: chatID, Text: cat.MenuFallback}, Outcome: OutcomeReprompt}
}

// reprompt keeps the submission in its current state and repeats the ask.
func reprompt(cat config.Catalog, cur session.Submission, chatID int64) Result {
	res := Result{Session: &cur, Outcome: OutcomeReprompt}
	switch cur.State {
	case session.StateCategory:
		res.Reply = Reply{ChatID: chatID, Text: cat.CategoryRetry, Keyboard: categoryKeyboard(cat)}
	case session.StatePhoto:
		res.Reply = Reply{ChatID: chatID, Text: cat.PhotoRetry}
	case session.StateLocation:
		res.Reply = Reply{ChatID: chatID, Text: cat.LocationRetry, Keyboard: locationKeyboard(cat)}
	case session.StateDescription:
		res.Reply = Reply{ChatID: chatID, Text: cat.DescriptionRetry, Keyboard: [][]Button{{{Text: cat.SkipButton}}}}
	default:
		return fallback(cat, chatID)
	}
	return res
}

func categoryKeyboard(cat config.Catalog) [][]Button {
	rows := make([][]Button, 0, len(cat.Categories))
	for _, text := range cat.CategoryButtons() {
		rows = append(rows, []Button{{Text: text}})
	}
	return rows
}

func locationKeyboard(cat config.Catalog) [][]Button {
	return [][]Button{{{Text: cat.LocationButton, RequestLocation: true}}}
}
