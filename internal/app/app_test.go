package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/felixgeelhaar/cadence/internal/config"
	"github.com/felixgeelhaar/cadence/internal/session"
)

const sampleLesson = `id: intro-1
title: Intro
category: intro
lessonNumber: 1
quiz:
  - type: fill-in
    question: "The capital of France is ___"
    answer: Paris
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	content := filepath.Join(t.TempDir(), "lessons")
	if err := os.MkdirAll(content, 0755); err != nil {
		t.Fatalf("create content dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(content, "intro.yaml"), []byte(sampleLesson), 0644); err != nil {
		t.Fatalf("write lesson: %v", err)
	}
	return &config.Config{
		Bind:          "127.0.0.1",
		Port:          7433,
		UserID:        "local",
		Driver:        config.DriverSQLite,
		ContentDir:    content,
		FlushInterval: time.Hour,
		AdvanceDelay:  time.Millisecond,
	}
}

func TestNew(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t), t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	lessons, err := a.Backend.GetUserLessons(ctx, "local")
	if err != nil {
		t.Fatalf("GetUserLessons() error = %v", err)
	}
	if len(lessons) != 1 || lessons[0].ID != "intro-1" {
		t.Fatalf("lessons = %+v, want the imported catalog", lessons)
	}
	if a.Queue != nil || a.Consumer != nil {
		t.Error("queue should be nil without an AMQP URL")
	}
}

func TestNew_NilConfig(t *testing.T) {
	if _, err := New(context.Background(), nil, t.TempDir()); err == nil {
		t.Error("New(nil) should return error")
	}
}

func TestApp_PlayAndFlush(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t), t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	sess, err := a.Sessions.Start(ctx, session.StartRequest{UserID: "local", LessonID: "intro-1"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := a.Sessions.Apply(ctx, sess.ID, session.Event{Type: session.EventFillIn, Text: " paris "}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if _, err := a.Sessions.Check(ctx, sess.ID); err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	done, err := a.Sessions.Advance(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if done.Status != session.StatusCompleted {
		t.Fatalf("Status = %q, want completed", done.Status)
	}

	if _, err := a.Relay.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	overview, err := a.Stats.GetOverview(ctx, "local")
	if err != nil {
		t.Fatalf("GetOverview() error = %v", err)
	}
	if overview.XP != 5 {
		t.Errorf("XP = %d, want 5", overview.XP)
	}
	if overview.LessonsCompleted != 1 {
		t.Errorf("LessonsCompleted = %d, want 1", overview.LessonsCompleted)
	}
	if overview.PendingSync != 0 {
		t.Errorf("PendingSync = %d, want 0", overview.PendingSync)
	}
	if overview.CurrentLesson == nil || overview.CurrentLesson.LessonID != "intro-1" || overview.CurrentLesson.Category != "intro" {
		t.Errorf("CurrentLesson = %+v, want intro-1 in intro", overview.CurrentLesson)
	}
}

func TestApp_RunAndClose(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a, err := New(ctx, testConfig(t), t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := a.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	cancel()
	done := make(chan error, 1)
	go func() { done <- a.Close() }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Close() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Close() did not return after cancel")
	}
}
