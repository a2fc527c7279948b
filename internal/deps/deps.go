package deps

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const versionTimeout = 5 * time.Second

// Requirement names an external command celigo shells out to. VersionArgs,
// when set, are passed to the resolved binary to report its version.
type Requirement struct {
	Name        string
	Command     string
	Description string
	VersionArgs []string
	Optional    bool
}

// Status is the outcome of resolving one requirement. Command holds the
// resolved path once the binary is found.
type Status struct {
	Name      string
	Command   string
	Version   string
	Optional  bool
	Available bool
	Detail    string
}

// CheckBinaries resolves every requirement on PATH. A binary that resolves but
// fails its version probe is still available; only the version is missing.
func CheckBinaries(ctx context.Context, requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		results = append(results, check(ctx, req))
	}
	return results
}

func check(ctx context.Context, req Requirement) Status {
	cmd := strings.TrimSpace(req.Command)
	status := Status{Name: req.Name, Command: cmd, Optional: req.Optional}
	if cmd == "" {
		status.Detail = "command not configured"
		return status
	}
	resolved, err := exec.LookPath(cmd)
	if err != nil {
		status.Detail = fmt.Sprintf("binary %q not found", cmd)
		if d := strings.TrimSpace(req.Description); d != "" {
			status.Detail += "; " + d
		}
		return status
	}
	status.Command = resolved
	status.Available = true
	if len(req.VersionArgs) > 0 {
		status.Version = probeVersion(ctx, resolved, req.VersionArgs)
	}
	return status
}

// probeVersion returns the first non-empty output line, or "" on failure.
func probeVersion(ctx context.Context, binary string, args []string) string {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, binary, args...).Output()
	if err != nil {
		return ""
	}
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			return line
		}
	}
	return ""
}
