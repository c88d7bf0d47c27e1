package escalate

import (
	"context"
	"log/slog"
	"strings"

	"github.com/rollupim/supportchat/internal/notify"
	"github.com/rollupim/supportchat/internal/session"
)

// Slot names the piece of information currently being collected.
type Slot string

const (
	SlotName     Slot = "name"
	SlotPhone    Slot = "phone"
	SlotQuestion Slot = "question"
)

// Notifier dispatches a completed handoff to the operator channel.
type Notifier interface {
	NotifyAdmin(ctx context.Context, req notify.Request) error
}

// Machine runs the deterministic slot-filling dialogue that collects
// name, phone and question before notifying a human operator. While a
// session's escalation record is active the machine owns every turn,
// independent of the language model.
type Machine struct {
	extractors Extractors
	notifier   Notifier
	logger     *slog.Logger
}

func NewMachine(notifier Notifier, extractors Extractors, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		extractors: extractors,
		notifier:   notifier,
		logger:     logger,
	}
}

// Start opens an episode, optionally pre-seeded with slots an eager model
// tool call already supplied, and returns the prompt for the next missing
// slot. trigger fixes the prompt language for the episode.
func (m *Machine) Start(seed session.Escalation, trigger string) (session.Escalation, string) {
	esc := seed
	esc.Active = true
	if esc.Lang == "" {
		esc.Lang = detectLang(trigger)
	}
	slot, _ := nextSlot(esc)
	return esc, askPrompt(slot, esc.Lang)
}

// HandleTurn processes one user message while the episode is active. Only
// the slot currently being solicited is attempted, so a message that could
// fill several slots fills exactly one. Once all slots are known the
// notifier is called exactly once and the episode resets regardless of the
// dispatch outcome. notified reports whether a dispatch was attempted; err
// carries its failure, already translated into the reply text.
func (m *Machine) HandleTurn(ctx context.Context, esc session.Escalation, message string) (out session.Escalation, reply string, notified bool, err error) {
	slot, ok := nextSlot(esc)
	if !ok {
		// All slots already known (e.g. fully-seeded start): dispatch.
		return m.dispatch(ctx, esc)
	}

	value, extracted := m.extract(slot, message)
	if !extracted {
		return esc, retryPrompt(slot, esc.Lang), false, nil
	}

	// Only blank fields are ever filled; nextSlot already guarantees the
	// solicited slot is blank.
	switch slot {
	case SlotName:
		esc.Name = value
	case SlotPhone:
		esc.Phone = value
	case SlotQuestion:
		esc.Question = value
	}

	if next, more := nextSlot(esc); more {
		return esc, askPrompt(next, esc.Lang), false, nil
	}
	return m.dispatch(ctx, esc)
}

func (m *Machine) dispatch(ctx context.Context, esc session.Escalation) (session.Escalation, string, bool, error) {
	err := m.notifier.NotifyAdmin(ctx, notify.Request{
		Name:     esc.Name,
		Phone:    esc.Phone,
		Question: esc.Question,
	})

	// Reset immediately so a persistent outage cannot trap the user in an
	// endless episode. The user may retry with a fresh request.
	reset := session.Escalation{}
	if err != nil {
		m.logger.Warn("escalation dispatch failed", "error", err)
		return reset, failureReply(esc.Lang), true, err
	}
	return reset, successReply(esc.Lang), true, nil
}

func (m *Machine) extract(slot Slot, message string) (string, bool) {
	switch slot {
	case SlotName:
		return m.extractors.Name(message)
	case SlotPhone:
		return m.extractors.Phone(message)
	case SlotQuestion:
		return m.extractors.Question(message)
	default:
		return "", false
	}
}

// nextSlot returns the first blank slot in collection order.
func nextSlot(esc session.Escalation) (Slot, bool) {
	switch {
	case esc.Name == "":
		return SlotName, true
	case esc.Phone == "":
		return SlotPhone, true
	case esc.Question == "":
		return SlotQuestion, true
	default:
		return "", false
	}
}

var humanPhrases = []string{
	"talk to a human",
	"speak to a human",
	"speak with a human",
	"human agent",
	"live agent",
	"real person",
	"talk to someone",
	"speak to someone",
	"representative",
	"נציג",
	"בן אדם",
	"לדבר עם מישהו",
}

// WantsHuman reports whether the message looks like a request for a live
// operator. Pattern-based and limited to the supported languages.
func WantsHuman(message string) bool {
	msg := strings.ToLower(message)
	for _, p := range humanPhrases {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func detectLang(message string) string {
	for _, r := range message {
		if r >= 0x0590 && r <= 0x05FF {
			return "he"
		}
	}
	return "en"
}

func askPrompt(slot Slot, lang string) string {
	if lang == "he" {
		switch slot {
		case SlotName:
			return "אשמח לחבר אותך לנציג! איך קוראים לך?"
		case SlotPhone:
			return "תודה! מה מספר הטלפון לחזרה?"
		default:
			return "ובמה נוכל לעזור? כמה מילים על הפנייה."
		}
	}
	switch slot {
	case SlotName:
		return "Happy to connect you with our team! What's your name?"
	case SlotPhone:
		return "Thanks! What's the best phone number to reach you?"
	default:
		return "And what would you like help with?"
	}
}

func retryPrompt(slot Slot, lang string) string {
	if lang == "he" {
		switch slot {
		case SlotName:
			return "אפשר בבקשה שם (ללא מספרים)?"
		case SlotPhone:
			return "לא זיהיתי מספר טלפון. אפשר לשלוח שוב?"
		default:
			return "אפשר כמה מילים נוספות על הפנייה?"
		}
	}
	switch slot {
	case SlotName:
		return "Could you share your name (letters only)?"
	case SlotPhone:
		return "I didn't catch a phone number there. Could you try again?"
	default:
		return "Could you tell me a bit more about your request?"
	}
}

func successReply(lang string) string {
	if lang == "he" {
		return "הפרטים נשלחו לנציג. נחזור אליך בהקדם! 🙏"
	}
	return "Got it! Your details were sent to our team. We'll be in touch shortly."
}

func failureReply(lang string) string {
	if lang == "he" {
		return "לא הצלחתי להעביר את הפנייה כרגע. נסו שוב בעוד כמה דקות."
	}
	return "I couldn't forward your request just now. Please try again in a few minutes."
}
