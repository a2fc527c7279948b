package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrWorkspace     = errors.New("workspace error")
	ErrWorkUnitBusy  = errors.New("work unit busy")
	ErrSubmission    = errors.New("submission error")
	ErrQuery         = errors.New("scheduler query error")
	ErrStageFailed   = errors.New("stage failed")
	ErrStageTimeout  = errors.New("stage timeout")
	ErrPublish       = errors.New("publish error")
	ErrConfiguration = errors.New("configuration error")
	ErrTransient     = errors.New("transient failure")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Kind returns a short label for the sentinel carried by err. Unknown errors
// report "transient".
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrWorkUnitBusy):
		return "busy"
	case errors.Is(err, ErrWorkspace):
		return "workspace"
	case errors.Is(err, ErrSubmission):
		return "submission"
	case errors.Is(err, ErrQuery):
		return "query"
	case errors.Is(err, ErrStageTimeout):
		return "timeout"
	case errors.Is(err, ErrStageFailed):
		return "failed"
	case errors.Is(err, ErrPublish):
		return "publish"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	default:
		return "transient"
	}
}

// Hint returns an operator-facing next step for the error kind.
func Hint(err error) string {
	switch Kind(err) {
	case "busy":
		return "another run holds this work unit; wait for it or remove the stale lock"
	case "workspace":
		return "check workspace_root permissions and free space"
	case "submission":
		return "verify sbatch is on PATH and the stage template renders"
	case "query":
		return "verify squeue is reachable from this host"
	case "timeout":
		return "raise max_ticks for the stage or inspect the job on the cluster"
	case "failed":
		return "inspect the job's slurm output in the retained workspace"
	case "publish":
		return "check storage and database credentials"
	case "configuration":
		return "run celigo config show and fix the reported field"
	default:
		return "check logs for details"
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
