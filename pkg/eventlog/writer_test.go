package eventlog

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Lynx-Eco/lib-ai/pkg/agent/llm"
	"github.com/Lynx-Eco/lib-ai/pkg/agent/toolloop"
)

func TestNewWriter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "events")

	writer, err := NewWriter(dir)
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}
	defer writer.Close()

	current := writer.CurrentLogFile()
	if current == "" {
		t.Fatal("No current log file set")
	}
	if _, err := os.Stat(current); err != nil {
		t.Errorf("Current log file does not exist: %v", err)
	}
}

func TestWriteAndReadEvents(t *testing.T) {
	writer, err := NewWriter(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}
	defer writer.Close()

	res := &toolloop.Result{
		RunID:      "run-1",
		Answer:     "7",
		State:      toolloop.Completed,
		Iterations: 1,
		ToolCalls:  1,
		Usage:      llm.Usage{PromptTokens: 10, CompletionTokens: 2},
		Duration:   1500 * time.Millisecond,
	}
	if err := writer.Write(NewRunEvent("calc", "3+4", res, nil)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	failed := &toolloop.Result{RunID: "run-2", State: toolloop.Failed}
	if err := writer.Write(NewRunEvent("calc", "boom", failed, errors.New("provider down"))); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	events, err := ReadEvents(writer.CurrentLogFile())
	if err != nil {
		t.Fatalf("ReadEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}

	first := events[0]
	if first.Kind != KindRunCompleted || first.RunID != "run-1" || first.Answer != "7" {
		t.Errorf("Unexpected first event: %+v", first)
	}
	if first.State != "Completed" || first.DurationMs != 1500 || first.Usage.CompletionTokens != 2 {
		t.Errorf("Unexpected first event details: %+v", first)
	}

	second := events[1]
	if second.Kind != KindRunFailed || second.Error != "provider down" || second.State != "Failed" {
		t.Errorf("Unexpected second event: %+v", second)
	}
}

func TestRotationOnDateChange(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewWriter(dir)
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}
	defer writer.Close()

	day := time.Date(2025, 3, 1, 23, 59, 0, 0, time.UTC)
	writer.now = func() time.Time { return day }
	if err := writer.Write(&Event{RunID: "a"}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	day = day.Add(2 * time.Minute)
	if err := writer.Write(&Event{RunID: "b"}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	for date, want := range map[string]string{"2025-03-01": "a", "2025-03-02": "b"} {
		events, err := ReadEvents(filepath.Join(dir, fileName(date)))
		if err != nil {
			t.Fatalf("ReadEvents(%s) failed: %v", date, err)
		}
		if len(events) != 1 || events[0].RunID != want {
			t.Errorf("%s: expected single event %q, got %+v", date, want, events)
		}
	}

	files, err := ListLogFiles(dir)
	if err != nil {
		t.Fatalf("ListLogFiles failed: %v", err)
	}
	// Today's file from NewWriter plus the two dated files.
	if len(files) < 2 {
		t.Errorf("Expected at least 2 log files, got %v", files)
	}
}

func TestConcurrentWrites(t *testing.T) {
	writer, err := NewWriter(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}
	defer writer.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := writer.Write(&Event{Kind: KindRunCompleted}); err != nil {
				t.Errorf("Write failed: %v", err)
			}
		}()
	}
	wg.Wait()

	events, err := ReadEvents(writer.CurrentLogFile())
	if err != nil {
		t.Fatalf("ReadEvents failed: %v", err)
	}
	if len(events) != 20 {
		t.Errorf("Expected 20 events, got %d", len(events))
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	writer, err := NewWriter(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
	if writer.CurrentLogFile() != "" {
		t.Error("Expected no current file after Close")
	}
}
