package output

import (
	"bytes"
	"strings"
	"testing"
)

func TestSpinner_NonTTYPrintsOnce(t *testing.T) {
	var buf bytes.Buffer

	s := NewSpinner("Creating backup archive")
	s.SetWriter(&buf)

	s.Start()
	s.Stop()

	got := buf.String()
	if got != "Creating backup archive...\n" {
		t.Errorf("non-TTY output = %q, want single message line", got)
	}
}

func TestSpinner_StopWithMessage(t *testing.T) {
	var buf bytes.Buffer

	s := NewSpinner("Updating")
	s.SetWriter(&buf)

	s.Start()
	s.StopWithMessage("✓ Updated to bbbb2222")

	if !strings.Contains(buf.String(), "✓ Updated to bbbb2222") {
		t.Errorf("output %q missing the final message", buf.String())
	}
}

func TestSpinner_DoubleStartAndStopAreSafe(t *testing.T) {
	var buf bytes.Buffer

	s := NewSpinner("working")
	s.SetWriter(&buf)

	s.Start()
	s.Start() // second start must be a no-op
	s.Stop()
	s.Stop() // second stop must be a no-op

	if got := strings.Count(buf.String(), "working"); got != 1 {
		t.Errorf("message printed %d times, want 1", got)
	}
}
