// Package deps reports on external binaries billingest shells out to.
package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"billingest/internal/config"
)

// Requirement defines an external binary the ingest pipeline relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Requirements lists the binaries implied by cfg. The built-in converter
// needs none; an external normalize command needs its executable on PATH.
func Requirements(cfg *config.Config) []Requirement {
	if cfg == nil || !cfg.UsesExternalNormalizer() {
		return nil
	}
	return []Requirement{{
		Name:        "normalizer",
		Command:     cfg.Normalize.Command[0],
		Description: "external CSV normalize command",
	}}
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}

// Missing returns the required (non-optional) dependencies that are unavailable.
func Missing(statuses []Status) []Status {
	var out []Status
	for _, status := range statuses {
		if !status.Available && !status.Optional {
			out = append(out, status)
		}
	}
	return out
}
