package domain

import "errors"

// -----------------------------------------------------------------------------
// Domain Errors
// These errors represent domain-level failures and are used by stores
// and services to communicate domain-specific error conditions.
// -----------------------------------------------------------------------------

// Lesson errors
var (
	ErrLessonNotFound  = errors.New("lesson not found")
	ErrLessonLocked    = errors.New("lesson is locked")
	ErrPartOutOfRange  = errors.New("lesson part out of range")
	ErrInvalidQuestion = errors.New("invalid question")
	ErrEmptyLesson     = errors.New("lesson has no questions")
	ErrInvalidDocument = errors.New("invalid lesson document")
)

// Session errors
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionComplete = errors.New("session is complete")
	ErrNothingToCheck  = errors.New("answer is incomplete")
	ErrInvalidEvent    = errors.New("invalid event")
)

// Progression errors
var (
	ErrOutOfHearts   = errors.New("no hearts left")
	ErrStatsNotFound = errors.New("user stats not found")
)

// General errors
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)
