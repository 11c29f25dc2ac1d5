// Package deps reports availability of the external binaries the pipeline
// shells out to.
package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"mediamill/internal/config"
)

// Requirement defines an external dependency Mediamill relies on.
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

// Requirements derives the external binary list from the configuration.
func Requirements(cfg *config.Config) []Requirement {
	reqs := []Requirement{
		{
			Name:        "ffmpeg",
			Command:     cfg.Engine.FFmpegBinary,
			Description: "media transcoding engine",
		},
		{
			Name:        "ffprobe",
			Command:     cfg.Engine.FFprobeBinary,
			Description: "media inspection, used for progress reporting",
			Optional:    true,
		},
	}
	if strings.EqualFold(strings.TrimSpace(cfg.Source.Tool), "command") {
		reqs = append(reqs, Requirement{
			Name:        "fetch command",
			Command:     cfg.Source.FetchCommand,
			Description: "external downloader for source acquisition",
		})
	}
	return reqs
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
