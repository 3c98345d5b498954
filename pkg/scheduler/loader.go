package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/farid/orbit/pkg/tools"
	"github.com/farid/orbit/pkg/workflow"
)

// Manifest is the YAML shape of an agent file. Behavior is one of three
// forms: an inline workflow (run), a single tool call (tool+args), or a
// named native factory (native).
type Manifest struct {
	Name     string           `yaml:"name"`
	Schedule string           `yaml:"schedule,omitempty"`
	Watch    []string         `yaml:"watch,omitempty"`
	Webhook  string           `yaml:"webhook,omitempty"`
	Behavior ManifestBehavior `yaml:"behavior"`
}

// ManifestBehavior selects what the agent does when triggered.
type ManifestBehavior struct {
	Run    []workflow.Step        `yaml:"run,omitempty"`
	Tool   string                 `yaml:"tool,omitempty"`
	Args   map[string]interface{} `yaml:"args,omitempty"`
	Native string                 `yaml:"native,omitempty"`
}

// NativeFactory constructs a code-backed agent instance.
type NativeFactory func() Instance

// ManifestLoader parses YAML agent manifests into live instances. Reloading
// is re-parsing: every Load returns a fresh instance, so a changed schedule
// or behavior takes effect as soon as the scheduler swaps it in.
type ManifestLoader struct {
	workflows *workflow.Engine
	router    *tools.Router
	natives   map[string]NativeFactory
}

// NewManifestLoader creates a loader executing behaviors through the given
// workflow engine and tool router.
func NewManifestLoader(workflows *workflow.Engine, router *tools.Router) *ManifestLoader {
	return &ManifestLoader{
		workflows: workflows,
		router:    router,
		natives:   make(map[string]NativeFactory),
	}
}

// RegisterNative makes a code-backed agent constructible from a manifest's
// `native:` field.
func (l *ManifestLoader) RegisterNative(name string, factory NativeFactory) {
	l.natives[name] = factory
}

// Load parses the manifest at path and constructs a fresh instance.
func (l *ManifestLoader) Load(ctx context.Context, path string) (Metadata, Instance, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, nil, fmt.Errorf("failed to read agent manifest: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		return Metadata{}, nil, fmt.Errorf("failed to parse agent manifest %s: %w", path, err)
	}

	if manifest.Name == "" {
		base := filepath.Base(path)
		manifest.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}

	meta := Metadata{
		Name:     manifest.Name,
		FilePath: path,
		Schedule: manifest.Schedule,
		Watch:    manifest.Watch,
		Webhook:  manifest.Webhook,
	}

	instance, err := l.buildInstance(manifest)
	if err != nil {
		return Metadata{}, nil, fmt.Errorf("agent %s: %w", manifest.Name, err)
	}
	return meta, instance, nil
}

// LoadDir loads every manifest in dir, returning the agents that parsed.
// A broken manifest is reported through errs without blocking the rest.
func (l *ManifestLoader) LoadDir(ctx context.Context, dir string) (metas []Metadata, instances []Instance, errs []error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, []error{fmt.Errorf("failed to read agents directory: %w", err)}
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		meta, instance, err := l.Load(ctx, filepath.Join(dir, entry.Name()))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		metas = append(metas, meta)
		instances = append(instances, instance)
	}
	return metas, instances, errs
}

func (l *ManifestLoader) buildInstance(manifest Manifest) (Instance, error) {
	b := manifest.Behavior
	switch {
	case b.Native != "":
		factory, ok := l.natives[b.Native]
		if !ok {
			return nil, fmt.Errorf("unknown native behavior: %s", b.Native)
		}
		return factory(), nil

	case len(b.Run) > 0:
		def := workflow.Definition{
			Name:  manifest.Name,
			Steps: b.Run,
		}
		return &manifestAgent{name: manifest.Name, workflow: &def, engine: l.workflows}, nil

	case b.Tool != "":
		return &manifestAgent{name: manifest.Name, tool: b.Tool, args: b.Args, router: l.router}, nil

	default:
		return nil, fmt.Errorf("behavior must set one of run, tool, or native")
	}
}

// manifestAgent executes a declarative behavior through the workflow engine
// or the tool router.
type manifestAgent struct {
	name     string
	workflow *workflow.Definition
	engine   *workflow.Engine
	tool     string
	args     map[string]interface{}
	router   *tools.Router
}

func (a *manifestAgent) Execute(ctx context.Context) error {
	return a.run(ctx, nil)
}

func (a *manifestAgent) OnFileChange(ctx context.Context, path string, event string) error {
	return a.run(ctx, map[string]interface{}{"path": path, "event": event})
}

func (a *manifestAgent) OnWebhook(ctx context.Context, payload map[string]interface{}) (interface{}, error) {
	tc := a.toolContext()

	if a.workflow != nil {
		result := a.engine.Run(ctx, *a.workflow, payload, tc)
		if !result.Success {
			return nil, fmt.Errorf("%s", result.Error)
		}
		return result.Data, nil
	}

	args := mergeArgs(a.args, payload)
	result := a.router.Execute(ctx, tools.Call{Name: a.tool, Arguments: args, Timestamp: time.Now()}, tc)
	if !result.Success {
		return nil, fmt.Errorf("%s", result.Error)
	}
	return result.Data, nil
}

func (a *manifestAgent) run(ctx context.Context, extra map[string]interface{}) error {
	tc := a.toolContext()

	if a.workflow != nil {
		result := a.engine.Run(ctx, *a.workflow, extra, tc)
		if !result.Success {
			return fmt.Errorf("%s", result.Error)
		}
		return nil
	}

	args := mergeArgs(a.args, extra)
	result := a.router.Execute(ctx, tools.Call{Name: a.tool, Arguments: args, Timestamp: time.Now()}, tc)
	if !result.Success {
		return fmt.Errorf("%s", result.Error)
	}
	return nil
}

func (a *manifestAgent) toolContext() tools.Context {
	return tools.Context{
		ConversationID: "agent:" + a.name + ":" + uuid.NewString(),
		UserID:         "scheduler",
		Timestamp:      time.Now(),
	}
}

func mergeArgs(base, extra map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}
