package main

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"celigo/internal/preflight"
	"celigo/internal/runs"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("Queue command", statusError, "squeue not found", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "Queue command:", "[ERROR] squeue not found")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("Submit command", statusOK, "/usr/bin/sbatch", true)
	if !strings.HasPrefix(got, ansiGreen) {
		t.Fatalf("expected green prefix, got %q", got)
	}
	if !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected reset suffix, got %q", got)
	}
}

func TestRunStatusKind(t *testing.T) {
	tests := []struct {
		status runs.Status
		want   statusKind
	}{
		{runs.StatusComplete, statusOK},
		{runs.StatusTimeout, statusWarn},
		{runs.StatusFailed, statusError},
		{runs.StatusRunning, statusInfo},
	}
	for _, tt := range tests {
		if got := runStatusKind(tt.status); got != tt.want {
			t.Errorf("runStatusKind(%s) = %d, want %d", tt.status, got, tt.want)
		}
	}
}

func TestPreflightLines(t *testing.T) {
	results := []preflight.Result{
		{Name: "Submit command", Passed: true, Detail: "/usr/bin/sbatch"},
		{Name: "Results database", Passed: false, Detail: "connection refused"},
	}
	lines := preflightLines(results, false)
	if len(lines) != 5 {
		t.Fatalf("expected 5 lines, got %d: %q", len(lines), lines)
	}
	if !strings.Contains(lines[2], "[OK]") || !strings.Contains(lines[3], "[ERROR]") {
		t.Fatalf("unexpected check lines: %q", lines[2:4])
	}
	if !strings.Contains(lines[4], "1 of 2 checks failed") {
		t.Fatalf("unexpected summary: %q", lines[4])
	}
}

func TestParseReportDate(t *testing.T) {
	now := time.Date(2024, 5, 6, 15, 0, 0, 0, time.Local)
	got, err := parseReportDate("", now)
	if err != nil || !got.Equal(now) {
		t.Fatalf("empty date = %v, %v", got, err)
	}
	got, err = parseReportDate("2024-02-29", now)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Year() != 2024 || got.Month() != time.February || got.Day() != 29 {
		t.Fatalf("unexpected day %v", got)
	}
	if _, err := parseReportDate("02/29/2024", now); err == nil {
		t.Fatal("expected error for wrong layout")
	}
}

func TestRenderTableEmptyMessage(t *testing.T) {
	if got := renderTable([]column{col("A")}, nil, "nothing"); got != "nothing" {
		t.Fatalf("expected empty message, got %q", got)
	}
	got := renderTable([]column{col("A"), numCol("B")}, [][]string{{"x"}}, "")
	if !strings.Contains(got, "x") {
		t.Fatalf("expected row in table, got %q", got)
	}
}
