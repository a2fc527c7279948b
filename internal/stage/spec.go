package stage

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"celigo/internal/config"
	"celigo/internal/poller"
	"celigo/internal/textutil"
)

// OutputRule locates the file a stage is expected to produce, relative to
// the current image. Name, when set, replaces the stem-derived file name.
type OutputRule struct {
	Dir    string `yaml:"dir"`
	Suffix string `yaml:"suffix"`
	Ext    string `yaml:"ext"`
	Name   string `yaml:"name"`
}

// Resolve returns the expected output path for currentImage.
func (r OutputRule) Resolve(currentImage string) string {
	base := filepath.Dir(currentImage)
	if r.Dir != "" {
		base = filepath.Join(base, filepath.FromSlash(r.Dir))
	}
	if r.Name != "" {
		return filepath.Join(base, r.Name)
	}
	ext := r.Ext
	if ext == "" {
		ext = filepath.Ext(currentImage)
	}
	return filepath.Join(base, textutil.Stem(currentImage)+r.Suffix+ext)
}

// FileList is a plain-text list written next to the script before submission.
// Entries are templates rendered with the same parameters as the script; Key
// names the parameter that carries the list's path.
type FileList struct {
	Key     string   `yaml:"key"`
	Name    string   `yaml:"name"`
	Entries []string `yaml:"entries"`
}

// Spec is one declared stage. Zero polling fields fall back to the scheduler
// defaults.
type Spec struct {
	Name                  string            `yaml:"name"`
	Template              string            `yaml:"template"`
	Params                map[string]string `yaml:"params"`
	Output                OutputRule        `yaml:"output"`
	FileLists             []FileList        `yaml:"file_lists"`
	PollIntervalSeconds   int               `yaml:"poll_interval_seconds"`
	MaxTicks              int               `yaml:"max_ticks"`
	FailureGraceThreshold int               `yaml:"failure_grace_threshold"`
	// Advance makes the stage output the current image for later stages.
	Advance bool `yaml:"advance"`
	// Publish uploads the stage output with the run's artifacts.
	Publish bool `yaml:"publish"`
}

// Bounds returns the polling limits for the stage.
func (s Spec) Bounds(defaults config.Scheduler) poller.Bounds {
	b := poller.Bounds{
		Interval:       time.Duration(defaults.PollIntervalSeconds) * time.Second,
		MaxTicks:       defaults.MaxTicks,
		GraceThreshold: defaults.FailureGraceThreshold,
	}
	if s.PollIntervalSeconds > 0 {
		b.Interval = time.Duration(s.PollIntervalSeconds) * time.Second
	}
	if s.MaxTicks > 0 {
		b.MaxTicks = s.MaxTicks
	}
	if s.FailureGraceThreshold > 0 {
		b.GraceThreshold = s.FailureGraceThreshold
	}
	return b
}

func (s Spec) validate() error {
	name := strings.TrimSpace(s.Name)
	if name == "" {
		return errors.New("stage name required")
	}
	if name != textutil.SanitizeFileName(name) || strings.ContainsAny(name, " .") {
		return fmt.Errorf("stage %q: name must be a plain word", name)
	}
	if strings.TrimSpace(s.Template) == "" {
		return fmt.Errorf("stage %q: template required", name)
	}
	if s.Output.Name == "" && s.Output.Suffix == "" && s.Output.Dir == "" {
		return fmt.Errorf("stage %q: output rule would name the input itself", name)
	}
	for _, list := range s.FileLists {
		if strings.TrimSpace(list.Key) == "" || strings.TrimSpace(list.Name) == "" {
			return fmt.Errorf("stage %q: file lists need key and name", name)
		}
		if filepath.Base(list.Name) != list.Name {
			return fmt.Errorf("stage %q: file list %q must be a bare file name", name, list.Name)
		}
	}
	return nil
}
