package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestInitWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "bot.log")
	if err := Init(Config{Level: "debug", OutputFile: path, MaxSize: 1, NoColor: true}); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer Close()

	logrus.WithField("component", "test").Info("hello file")
	if err := Rotate(); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	found := false
	for _, e := range entries {
		b, _ := os.ReadFile(filepath.Join(filepath.Dir(path), e.Name()))
		if strings.Contains(string(b), "hello file") {
			found = true
		}
	}
	if !found {
		t.Fatalf("log line not written to %s", path)
	}
	if logrus.GetLevel() != logrus.DebugLevel {
		t.Fatalf("level=%s want debug", logrus.GetLevel())
	}
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	if err := Init(Config{Level: "loud"}); err != nil {
		t.Fatalf("init: %v", err)
	}
	if logrus.GetLevel() != logrus.InfoLevel {
		t.Fatalf("level=%s want info", logrus.GetLevel())
	}
}
