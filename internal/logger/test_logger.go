package logger

import (
	"bytes"
	"log"
	"net/url"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// MemorySink implements zap.Sink by writing all messages to a buffer.
// Tests register it under the memory:// scheme and assert on contents.
type MemorySink struct {
	m sync.Mutex
	b bytes.Buffer
}

var _ zap.Sink = &MemorySink{}

func (s *MemorySink) Write(p []byte) (n int, err error) {
	s.m.Lock()
	defer s.m.Unlock()
	return s.b.Write(p)
}

func (s *MemorySink) Close() error { return nil }
func (s *MemorySink) Sync() error  { return nil }

func (s *MemorySink) String() string {
	s.m.Lock()
	defer s.m.Unlock()
	return s.b.String()
}

func (s *MemorySink) Reset() {
	s.m.Lock()
	defer s.m.Unlock()
	s.b.Reset()
}

var testMemoryLog MemorySink
var createSinkOnce sync.Once

func registerMemorySink() {
	if err := zap.RegisterSink("memory", func(*url.URL) (zap.Sink, error) {
		return &testMemoryLog, nil
	}); err != nil {
		panic(err)
	}
}

// CreateTestLogger returns a debug-level logger that writes to the shared
// in-memory sink so tests can assert on output.
func CreateTestLogger() *Logger {
	createSinkOnce.Do(registerMemorySink)

	config := NewProductionConfig(zapcore.DebugLevel, true)
	config.OutputPaths = []string{"memory://"}
	zl, err := config.Build()
	if err != nil {
		log.Fatal(err)
	}
	return &Logger{SugaredLogger: zl.Sugar(), lvl: zapcore.DebugLevel, jsonConsole: true}
}

// TestLogContents returns the accumulated test log output.
func TestLogContents() string {
	return testMemoryLog.String()
}

// ResetTestLog clears the in-memory sink between test cases.
func ResetTestLog() {
	testMemoryLog.Reset()
}
