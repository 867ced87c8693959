package testutil

import (
	"testing"

	"gopkg.in/dnaeon/go-vcr.v2/recorder"
)

func TestCassetteModeFollowsEnv(t *testing.T) {
	t.Setenv(RecordEnv, "")
	if got := cassetteMode(); got != recorder.ModeReplaying {
		t.Errorf("cassetteMode() = %v, want replaying", got)
	}
	t.Setenv(RecordEnv, "record")
	if got := cassetteMode(); got != recorder.ModeRecording {
		t.Errorf("cassetteMode() = %v, want recording", got)
	}
}
