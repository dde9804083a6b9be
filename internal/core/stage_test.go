package core

import (
	"errors"
	"testing"
)

func TestStagePolicy(t *testing.T) {
	tests := []struct {
		stage      Stage
		rank       int
		sequential bool
		retention  int // days
	}{
		{StageValidate, 1, false, 7},
		{StagePlan, 2, false, 7},
		{StageScan, 3, false, 7},
		{StageApply, 4, true, 30},
		{StageDestroy, 4, true, 30},
	}
	for _, tt := range tests {
		if got := tt.stage.Rank(); got != tt.rank {
			t.Errorf("%s rank = %d, want %d", tt.stage, got, tt.rank)
		}
		if got := tt.stage.Sequential(); got != tt.sequential {
			t.Errorf("%s sequential = %v", tt.stage, got)
		}
		if got := int(tt.stage.Retention().Hours() / 24); got != tt.retention {
			t.Errorf("%s retention = %d days, want %d", tt.stage, got, tt.retention)
		}
	}
}

func TestParseStage(t *testing.T) {
	s, err := ParseStage(" Apply ")
	if err != nil || s != StageApply {
		t.Fatalf("ParseStage = %q, %v", s, err)
	}
	if _, err := ParseStage("deploy"); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}
