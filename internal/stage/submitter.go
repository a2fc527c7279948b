package stage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"celigo/internal/logging"
	"celigo/internal/scheduler"
	"celigo/internal/services"
)

// SchedulerClient hands a rendered script to the scheduler.
type SchedulerClient interface {
	Submit(ctx context.Context, scriptPath string) (scheduler.JobID, string, error)
}

// Request carries the per-run inputs for one stage submission.
type Request struct {
	WorkUnitID   string
	Workspace    string
	CurrentImage string
	// Params are the profile-level parameters; the stage's own params win.
	Params      map[string]string
	TemplateDir string
}

// JobHandle ties a submitted job to the file that signals its completion.
type JobHandle struct {
	Stage       string
	JobID       scheduler.JobID
	ScriptPath  string
	OutputPath  string
	Ack         string
	SubmittedAt time.Time
}

// Submitter renders stage scripts into the workspace and submits them.
type Submitter struct {
	client SchedulerClient
	logger *slog.Logger
	now    func() time.Time
}

// NewSubmitter constructs a Submitter over client.
func NewSubmitter(client SchedulerClient, logger *slog.Logger) *Submitter {
	return &Submitter{
		client: client,
		logger: logging.NewComponentLogger(logger, "submitter"),
		now:    time.Now,
	}
}

// Submit renders spec's file lists and script into req.Workspace and submits
// the script. Every failure, including an undefined template parameter, is
// reported as services.ErrSubmission. The script is kept for audit.
func (s *Submitter) Submit(ctx context.Context, spec Spec, req Request) (JobHandle, error) {
	handle := JobHandle{Stage: spec.Name}
	if s.client == nil {
		return handle, services.Wrap(services.ErrSubmission, spec.Name, "submit", "scheduler client required", nil)
	}
	if strings.TrimSpace(req.Workspace) == "" || strings.TrimSpace(req.CurrentImage) == "" {
		return handle, services.Wrap(services.ErrSubmission, spec.Name, "submit", "workspace and current image required", nil)
	}

	handle.OutputPath = spec.Output.Resolve(req.CurrentImage)
	handle.ScriptPath = filepath.Join(req.Workspace, spec.Name+".sh")

	params, err := Parameters(spec, req, handle.OutputPath)
	if err != nil {
		return handle, services.Wrap(services.ErrSubmission, spec.Name, "render params", "", err)
	}
	for _, list := range spec.FileLists {
		if err := writeFileList(list, params); err != nil {
			return handle, services.Wrap(services.ErrSubmission, spec.Name, "write file list", list.Name, err)
		}
	}
	text, err := templateText(spec.Template, req.TemplateDir)
	if err != nil {
		return handle, services.Wrap(services.ErrSubmission, spec.Name, "load template", "", err)
	}
	script, err := Render(spec.Name, text, params)
	if err != nil {
		return handle, services.Wrap(services.ErrSubmission, spec.Name, "render script", "", err)
	}
	if err := writeScript(handle.ScriptPath, script); err != nil {
		return handle, services.Wrap(services.ErrSubmission, spec.Name, "write script", handle.ScriptPath, err)
	}

	id, ack, err := s.client.Submit(ctx, handle.ScriptPath)
	handle.Ack = strings.TrimSpace(ack)
	if err != nil {
		return handle, services.Wrap(services.ErrSubmission, spec.Name, "submit", "", err)
	}
	handle.JobID = id
	handle.SubmittedAt = s.now()

	logging.WithContext(ctx, s.logger).Info("stage job submitted",
		logging.String(logging.FieldStage, spec.Name),
		logging.String(logging.FieldJobID, string(id)),
		logging.String("script", handle.ScriptPath),
		logging.String("expected_output", handle.OutputPath),
		logging.String(logging.FieldEventType, "stage_submitted"),
	)
	return handle, nil
}

// Parameters builds the template data for spec: profile params, then spec
// params, then the run's fixed values (image_path, output_path, file list
// paths and the like), which cannot be overridden.
func Parameters(spec Spec, req Request, outputPath string) (map[string]string, error) {
	declared := make(map[string]string, len(req.Params)+len(spec.Params))
	for k, v := range req.Params {
		declared[k] = v
	}
	for k, v := range spec.Params {
		declared[k] = v
	}
	image := req.CurrentImage
	fixed := map[string]string{
		"stage":       spec.Name,
		"work_unit":   req.WorkUnitID,
		"job_name":    fmt.Sprintf("celigo-%s-%s", spec.Name, req.WorkUnitID),
		"workspace":   req.Workspace,
		"image_path":  image,
		"image_stem":  strings.TrimSuffix(image, filepath.Ext(image)),
		"image_name":  filepath.Base(image),
		"output_path": outputPath,
		"output_dir":  filepath.Dir(outputPath),
	}
	for _, list := range spec.FileLists {
		fixed[list.Key] = filepath.Join(req.Workspace, list.Name)
	}
	return resolveParams(declared, fixed)
}

func writeFileList(list FileList, params map[string]string) error {
	var b strings.Builder
	for i, entry := range list.Entries {
		line, err := Render(fmt.Sprintf("%s[%d]", list.Name, i), entry, params)
		if err != nil {
			return err
		}
		b.WriteString(strings.TrimSpace(line))
		b.WriteByte('\n')
	}
	return os.WriteFile(params[list.Key], []byte(b.String()), 0o644)
}

func writeScript(path, body string) error {
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		return err
	}
	return os.Chmod(path, 0o755)
}
