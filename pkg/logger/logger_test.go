package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestLoggerInit(t *testing.T) {
	if err := Init(); err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() {
		if err := Sync(); err != nil {
			t.Errorf("failed to sync logger: %v", err)
		}
	}()

	if Get() == nil {
		t.Fatal("logger is nil after initialization")
	}
}

func TestLoggerJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	if err := InitWithFormat("json", &buf); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer func() { _ = Init() }()

	Named("registration").Info(context.Background(), "score registered",
		String("player", "flicknote"),
		Int("rank", 1),
		Error(errors.New("boom")),
	)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("output is not json: %v (%q)", err, buf.String())
	}
	if line["msg"] != "score registered" {
		t.Errorf("msg = %v", line["msg"])
	}
	if line["logger"] != "registration" {
		t.Errorf("logger = %v", line["logger"])
	}
	if line["player"] != "flicknote" {
		t.Errorf("player = %v", line["player"])
	}
	if _, ok := line["source"]; !ok {
		t.Error("missing source attribute")
	}
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	if err := InitWithFormat("text", &buf); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer func() {
		_ = SetLevelString("info")
		_ = Init()
	}()

	if err := SetLevelString("warn"); err != nil {
		t.Fatalf("set level: %v", err)
	}
	Get().Info(context.Background(), "hidden")
	Get().Warn(context.Background(), "shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line written at warn level: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("warn line missing: %q", out)
	}

	if err := SetLevelString("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestLoggerWithAndNamed(t *testing.T) {
	var buf bytes.Buffer
	if err := InitWithFormat("json", &buf); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer func() { _ = Init() }()

	l := Named("api").Named("scores").With(String("board", "abc:BM"))
	l.Info(context.Background(), "hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if line["logger"] != "api.scores" {
		t.Errorf("logger = %v", line["logger"])
	}
	if line["board"] != "abc:BM" {
		t.Errorf("board = %v", line["board"])
	}
}

func TestInitRejectsUnknownFormat(t *testing.T) {
	if err := InitWithFormat("xml", nil); err == nil {
		t.Fatal("expected error")
	}
}
