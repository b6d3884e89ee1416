package session

import (
	"time"
)

// EventType names a state machine input.
type EventType string

const (
	EventSelectOption     EventType = "select_option"
	EventFillIn           EventType = "fill_in"
	EventSetBlank         EventType = "set_blank"
	EventMatch            EventType = "match"
	EventSelectWord       EventType = "select_word"
	EventRemoveWord       EventType = "remove_word"
	EventSelectStepOption EventType = "select_step_option"
	EventClearFlash       EventType = "clear_flash"
	EventCheck            EventType = "check"
	EventContinue         EventType = "continue"
	EventAdvance          EventType = "advance"
)

// Event is one input to Reduce. Only the fields relevant to Type are read.
type Event struct {
	Type       EventType `json:"type"`
	OptionID   string    `json:"option_id,omitempty"`
	Text       string    `json:"text,omitempty"`
	Index      int       `json:"index,omitempty"`
	Term       string    `json:"term,omitempty"`
	Definition string    `json:"definition,omitempty"`
}

// Valid reports whether the event type is known.
func (e Event) Valid() bool {
	switch e.Type {
	case EventSelectOption, EventFillIn, EventSetBlank, EventMatch,
		EventSelectWord, EventRemoveWord, EventSelectStepOption,
		EventClearFlash, EventCheck, EventContinue, EventAdvance:
		return true
	}
	return false
}

// EffectType names a side effect requested by Reduce.
type EffectType string

const (
	EffectAwardXP            EffectType = "award_xp"
	EffectLoseHeart          EffectType = "lose_heart"
	EffectCompleteLesson     EffectType = "complete_lesson"
	EffectScheduleAdvance    EffectType = "schedule_advance"
	EffectScheduleClearFlash EffectType = "schedule_clear_flash"
)

// Effect is a side effect for the caller to carry out. Reduce never
// performs effects itself.
type Effect struct {
	Type     EffectType    `json:"type"`
	LessonID string        `json:"lesson_id,omitempty"`
	Amount   int           `json:"amount,omitempty"`
	Delay    time.Duration `json:"delay,omitempty"`
	Score    *Score        `json:"score,omitempty"`
}

// IsTimer reports whether the effect schedules a deferred event.
func (e Effect) IsTimer() bool {
	return e.Type == EffectScheduleAdvance || e.Type == EffectScheduleClearFlash
}
