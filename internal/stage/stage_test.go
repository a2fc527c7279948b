package stage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"celigo/internal/config"
	"celigo/internal/scheduler"
	"celigo/internal/services"
)

type stubClient struct {
	id      scheduler.JobID
	ack     string
	err     error
	scripts []string
}

func (s *stubClient) Submit(_ context.Context, scriptPath string) (scheduler.JobID, string, error) {
	s.scripts = append(s.scripts, scriptPath)
	if s.err != nil {
		return "", s.ack, s.err
	}
	return s.id, s.ack, nil
}

func mustProfile(t *testing.T, name string, overrides map[string]string) Profile {
	t.Helper()
	cat, err := LoadCatalog("")
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	p, err := cat.Get(name, overrides)
	if err != nil {
		t.Fatalf("Get(%q): %v", name, err)
	}
	return p
}

func TestBuiltinProfiles(t *testing.T) {
	cat, err := LoadCatalog("")
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if got := strings.Join(cat.Names(), ","); got != "6-well,96-well" {
		t.Fatalf("unexpected profile names %q", got)
	}

	tests := []struct {
		profile  string
		memory   string
		suffix   string
		advances int
	}{
		{profile: "96-well", memory: "4G", suffix: "_rescale", advances: 1},
		{profile: "6-well", memory: "80G", suffix: "_RescaleAndCrop", advances: 1},
	}
	for _, tc := range tests {
		t.Run(tc.profile, func(t *testing.T) {
			p := mustProfile(t, tc.profile, nil)
			var names []string
			advances := 0
			for _, s := range p.Stages {
				names = append(names, s.Name)
				if s.Advance {
					advances++
				}
			}
			if got := strings.Join(names, ","); got != "downsample,ilastik,cellprofiler" {
				t.Fatalf("unexpected stage order %q", got)
			}
			if p.Stages[0].Params["memory"] != tc.memory {
				t.Fatalf("expected downsample memory %s, got %q", tc.memory, p.Stages[0].Params["memory"])
			}
			if p.Stages[0].Output.Suffix != tc.suffix {
				t.Fatalf("expected suffix %s, got %q", tc.suffix, p.Stages[0].Output.Suffix)
			}
			if advances != tc.advances {
				t.Fatalf("expected %d advancing stages, got %d", tc.advances, advances)
			}
		})
	}
}

func TestCatalogGetUnknownProfile(t *testing.T) {
	cat, err := LoadCatalog("")
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	_, err = cat.Get("384-well", nil)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestCatalogOverridesDoNotLeak(t *testing.T) {
	cat, err := LoadCatalog("")
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	p, err := cat.Get("96-well", map[string]string{"partition": "gpu"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.Params["partition"] != "gpu" {
		t.Fatalf("override not applied: %q", p.Params["partition"])
	}
	again, _ := cat.Get("96-well", nil)
	if again.Params["partition"] != "aics_cpu_general" {
		t.Fatalf("override leaked into catalog: %q", again.Params["partition"])
	}
}

func TestLoadCatalogExtraFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "count.sh.tmpl"), []byte("#!/bin/sh\ncount {{.image_path}}\n"), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}
	path := filepath.Join(dir, "profiles.yaml")
	body := `profiles:
  - name: 96-well
    params: {partition: site}
    stages:
      - name: count
        template: count.sh.tmpl
        output: {suffix: _count, ext: .txt}
  - name: inline
    stages:
      - name: echo
        template: |
          #!/bin/sh
          echo {{.image_name}}
        output: {name: done.txt}
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write profiles: %v", err)
	}
	cat, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if got := strings.Join(cat.Names(), ","); got != "6-well,96-well,inline" {
		t.Fatalf("unexpected names %q", got)
	}
	p, err := cat.Get("96-well", nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(p.Stages) != 1 || p.Stages[0].Name != "count" {
		t.Fatalf("expected file profile to replace built-in, got %+v", p.Stages)
	}
	if p.TemplateDir != dir {
		t.Fatalf("expected template dir %s, got %s", dir, p.TemplateDir)
	}
	text, err := templateText(p.Stages[0].Template, p.TemplateDir)
	if err != nil {
		t.Fatalf("templateText: %v", err)
	}
	if !strings.Contains(text, "count {{.image_path}}") {
		t.Fatalf("unexpected template text %q", text)
	}
}

func TestLoadCatalogRejectsBadProfiles(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "unknown field", body: "profiles:\n  - name: x\n    bogus: 1\n"},
		{name: "no stages", body: "profiles:\n  - name: x\n"},
		{name: "missing template", body: "profiles:\n  - name: x\n    stages:\n      - name: a\n        output: {suffix: _a}\n"},
		{name: "duplicate stage", body: "profiles:\n  - name: x\n    stages:\n      - {name: a, template: t, output: {suffix: _a}}\n      - {name: a, template: t, output: {suffix: _b}}\n"},
		{name: "output is input", body: "profiles:\n  - name: x\n    stages:\n      - {name: a, template: t}\n"},
		{name: "nested file list", body: "profiles:\n  - name: x\n    stages:\n      - name: a\n        template: t\n        output: {suffix: _a}\n        file_lists: [{key: k, name: ../list.txt}]\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "profiles.yaml")
			if err := os.WriteFile(path, []byte(tc.body), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
			if _, err := LoadCatalog(path); !errors.Is(err, services.ErrConfiguration) {
				t.Fatalf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestOutputRuleResolve(t *testing.T) {
	image := filepath.Join("/ws", "plate_A1.tiff")
	tests := []struct {
		name string
		rule OutputRule
		want string
	}{
		{name: "suffix", rule: OutputRule{Suffix: "_rescale", Ext: ".tiff"}, want: "/ws/plate_A1_rescale.tiff"},
		{name: "keeps extension", rule: OutputRule{Suffix: "_probabilities"}, want: "/ws/plate_A1_probabilities.tiff"},
		{name: "subdirectory", rule: OutputRule{Dir: "cell_profiler_outputs", Suffix: "_outlines", Ext: ".png"}, want: "/ws/cell_profiler_outputs/plate_A1_outlines.png"},
		{name: "fixed name", rule: OutputRule{Dir: "cell_profiler_outputs", Name: "ImageDATA.csv"}, want: "/ws/cell_profiler_outputs/ImageDATA.csv"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.rule.Resolve(image); got != filepath.FromSlash(tc.want) {
				t.Fatalf("Resolve = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSpecBounds(t *testing.T) {
	defaults := config.Scheduler{PollIntervalSeconds: 30, MaxTicks: 240, FailureGraceThreshold: 3}
	b := Spec{}.Bounds(defaults)
	if b.Interval != 30*time.Second || b.MaxTicks != 240 || b.GraceThreshold != 3 {
		t.Fatalf("unexpected default bounds %+v", b)
	}
	b = Spec{PollIntervalSeconds: 5, MaxTicks: 10, FailureGraceThreshold: 2}.Bounds(defaults)
	if b.Interval != 5*time.Second || b.MaxTicks != 10 || b.GraceThreshold != 2 {
		t.Fatalf("unexpected override bounds %+v", b)
	}
}

func TestSubmitWritesScriptAndFileLists(t *testing.T) {
	ws := t.TempDir()
	image := filepath.Join(ws, "3500001234_Scan_20230101-120000_A1.tiff")
	profile := mustProfile(t, "96-well", map[string]string{"pipelines_dir": "/srv/pipelines"})
	client := &stubClient{id: "4242", ack: "Submitted batch job 4242\n"}
	sub := NewSubmitter(client, nil)

	handle, err := sub.Submit(context.Background(), profile.Stages[0], Request{
		WorkUnitID:   "3500001234_Scan_20230101-120000_A1",
		Workspace:    ws,
		CurrentImage: image,
		Params:       profile.Params,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if handle.JobID != "4242" || handle.Ack != "Submitted batch job 4242" {
		t.Fatalf("unexpected handle %+v", handle)
	}
	wantOutput := filepath.Join(ws, "3500001234_Scan_20230101-120000_A1_rescale.tiff")
	if handle.OutputPath != wantOutput {
		t.Fatalf("expected output %s, got %s", wantOutput, handle.OutputPath)
	}
	if handle.ScriptPath != filepath.Join(ws, "downsample.sh") || len(client.scripts) != 1 || client.scripts[0] != handle.ScriptPath {
		t.Fatalf("unexpected script submission %+v / %v", handle, client.scripts)
	}

	info, err := os.Stat(handle.ScriptPath)
	if err != nil {
		t.Fatalf("stat script: %v", err)
	}
	if info.Mode().Perm() != 0o755 {
		t.Fatalf("expected mode 0755, got %v", info.Mode().Perm())
	}
	script, _ := os.ReadFile(handle.ScriptPath)
	for _, want := range []string{
		"#SBATCH --mem=4G",
		"#SBATCH --partition=aics_cpu_general",
		"-p \"/srv/pipelines/rescale_pipeline.cppipe\"",
		"--file-list \"" + filepath.Join(ws, "resize_filelist.txt") + "\"",
		"-o \"" + ws + "\"",
	} {
		if !strings.Contains(string(script), want) {
			t.Fatalf("script missing %q:\n%s", want, script)
		}
	}
	list, err := os.ReadFile(filepath.Join(ws, "resize_filelist.txt"))
	if err != nil {
		t.Fatalf("read file list: %v", err)
	}
	if string(list) != image+"\n" {
		t.Fatalf("unexpected file list %q", list)
	}
}

func TestSubmitCellProfilerFileListUsesProbabilities(t *testing.T) {
	ws := t.TempDir()
	image := filepath.Join(ws, "plate_rescale.tiff")
	profile := mustProfile(t, "96-well", nil)
	sub := NewSubmitter(&stubClient{id: "7"}, nil)

	handle, err := sub.Submit(context.Background(), profile.Stages[2], Request{
		WorkUnitID: "plate", Workspace: ws, CurrentImage: image, Params: profile.Params,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if handle.OutputPath != filepath.Join(ws, "cell_profiler_outputs", "plate_rescale_outlines.png") {
		t.Fatalf("unexpected output %s", handle.OutputPath)
	}
	list, _ := os.ReadFile(filepath.Join(ws, "filelist.txt"))
	want := image + "\n" + filepath.Join(ws, "plate_rescale_probabilities.tiff") + "\n"
	if string(list) != want {
		t.Fatalf("file list = %q, want %q", list, want)
	}
}

func TestSubmitFixedParamsCannotBeOverridden(t *testing.T) {
	ws := t.TempDir()
	spec := Spec{
		Name:     "echo",
		Template: "#!/bin/sh\necho {{.image_path}}\n",
		Params:   map[string]string{"image_path": "/elsewhere.tiff"},
		Output:   OutputRule{Suffix: "_echo"},
	}
	image := filepath.Join(ws, "a.tiff")
	if _, err := NewSubmitter(&stubClient{id: "1"}, nil).Submit(context.Background(), spec, Request{
		WorkUnitID: "a", Workspace: ws, CurrentImage: image,
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	script, _ := os.ReadFile(filepath.Join(ws, "echo.sh"))
	if !strings.Contains(string(script), "echo "+image) {
		t.Fatalf("fixed image_path overridden:\n%s", script)
	}
}

func TestSubmitFailures(t *testing.T) {
	okSpec := Spec{Name: "s", Template: "#!/bin/sh\necho {{.image_path}}\n", Output: OutputRule{Suffix: "_s"}}
	tests := []struct {
		name        string
		spec        Spec
		client      *stubClient
		wantScripts int
	}{
		{
			name:   "undefined parameter",
			spec:   Spec{Name: "s", Template: "#!/bin/sh\nrun {{.classifier}}\n", Output: OutputRule{Suffix: "_s"}},
			client: &stubClient{id: "1"},
		},
		{
			name:   "undefined parameter in file list",
			spec:   Spec{Name: "s", Template: okSpec.Template, Output: okSpec.Output, FileLists: []FileList{{Key: "fl", Name: "fl.txt", Entries: []string{"{{.missing}}"}}}},
			client: &stubClient{id: "1"},
		},
		{
			name:   "missing template file",
			spec:   Spec{Name: "s", Template: "absent.sh.tmpl", Output: OutputRule{Suffix: "_s"}},
			client: &stubClient{id: "1"},
		},
		{
			name:        "scheduler rejects",
			spec:        okSpec,
			client:      &stubClient{err: errors.New("sbatch: error: invalid partition"), ack: "sbatch: error"},
			wantScripts: 1,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ws := t.TempDir()
			_, err := NewSubmitter(tc.client, nil).Submit(context.Background(), tc.spec, Request{
				WorkUnitID: "a", Workspace: ws, CurrentImage: filepath.Join(ws, "a.tiff"), TemplateDir: ws,
			})
			if !errors.Is(err, services.ErrSubmission) {
				t.Fatalf("expected submission error, got %v", err)
			}
			if len(tc.client.scripts) != tc.wantScripts {
				t.Fatalf("expected %d submissions, got %d", tc.wantScripts, len(tc.client.scripts))
			}
		})
	}
}

func TestResolveParamsSinglePass(t *testing.T) {
	got, err := resolveParams(
		map[string]string{"root": "/p", "pipe": "{{.root}}/x.cppipe", "fixed_ref": "{{.image_path}}"},
		map[string]string{"image_path": "/ws/a.tiff"},
	)
	if err != nil {
		t.Fatalf("resolveParams: %v", err)
	}
	if got["pipe"] != "/p/x.cppipe" || got["fixed_ref"] != "/ws/a.tiff" {
		t.Fatalf("unexpected params %v", got)
	}
}
