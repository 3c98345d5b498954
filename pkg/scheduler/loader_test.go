package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farid/orbit/pkg/tools"
	"github.com/farid/orbit/pkg/workflow"
)

func newLoaderFixture(t *testing.T) (*ManifestLoader, *tools.Router, *int) {
	t.Helper()

	registry := tools.NewRegistry()
	calls := 0
	require.NoError(t, registry.Register(tools.Definition{
		Name:        "notes.append",
		Description: "Appends a line to the notes file",
		RiskLevel:   tools.RiskLow,
		Provider:    "local",
		Handler: func(ctx context.Context, args map[string]interface{}, tc tools.Context) (interface{}, error) {
			calls++
			return args, nil
		},
	}))

	router := tools.NewRouter(registry, tools.RouterOptions{})
	engine := workflow.NewEngine(router)
	return NewManifestLoader(engine, router), router, &calls
}

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadToolManifest(t *testing.T) {
	loader, _, calls := newLoaderFixture(t)

	path := writeManifest(t, `
name: note-taker
schedule: "*/5 * * * *"
watch:
  - "*.md"
webhook: /hooks/notes
behavior:
  tool: notes.append
  args:
    line: hello
`)

	meta, instance, err := loader.Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "note-taker", meta.Name)
	assert.Equal(t, path, meta.FilePath)
	assert.Equal(t, "*/5 * * * *", meta.Schedule)
	assert.Equal(t, []string{"*.md"}, meta.Watch)
	assert.Equal(t, "/hooks/notes", meta.Webhook)

	require.NoError(t, instance.Execute(context.Background()))
	assert.Equal(t, 1, *calls)
}

func TestLoadWorkflowManifest(t *testing.T) {
	loader, _, calls := newLoaderFixture(t)

	path := writeManifest(t, `
name: two-step
behavior:
  run:
    - name: first
      tool: notes.append
      args:
        line: one
    - name: second
      tool: notes.append
      args:
        line: "{{steps.first.line}}"
`)

	_, instance, err := loader.Load(context.Background(), path)
	require.NoError(t, err)

	require.NoError(t, instance.Execute(context.Background()))
	assert.Equal(t, 2, *calls)
}

func TestLoadNativeManifest(t *testing.T) {
	loader, _, _ := newLoaderFixture(t)
	native := &fakeInstance{}
	loader.RegisterNative("heartbeat", func() Instance { return native })

	path := writeManifest(t, `
name: pulse
schedule: "* * * * *"
behavior:
  native: heartbeat
`)

	_, instance, err := loader.Load(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, instance.Execute(context.Background()))
	assert.Equal(t, 1, native.executions())
}

func TestLoadDefaultsNameFromFilename(t *testing.T) {
	loader, _, _ := newLoaderFixture(t)

	path := filepath.Join(t.TempDir(), "daily-digest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
behavior:
  tool: notes.append
`), 0o644))

	meta, _, err := loader.Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "daily-digest", meta.Name)
}

func TestLoadRejectsEmptyBehavior(t *testing.T) {
	loader, _, _ := newLoaderFixture(t)

	path := writeManifest(t, `
name: hollow
schedule: "* * * * *"
behavior: {}
`)

	_, _, err := loader.Load(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "behavior")
}

func TestLoadUnknownNative(t *testing.T) {
	loader, _, _ := newLoaderFixture(t)

	path := writeManifest(t, `
name: ghost
behavior:
  native: does-not-exist
`)

	_, _, err := loader.Load(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown native behavior")
}

func TestLoadDirSkipsBroken(t *testing.T) {
	loader, _, _ := newLoaderFixture(t)
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "good.yaml"), []byte(`
behavior:
  tool: notes.append
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte(`
behavior: {}
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("not yaml"), 0o644))

	metas, instances, errs := loader.LoadDir(context.Background(), dir)
	require.Len(t, metas, 1)
	require.Len(t, instances, 1)
	require.Len(t, errs, 1)
	assert.Equal(t, "good", metas[0].Name)
}

func TestWebhookMergesPayloadIntoArgs(t *testing.T) {
	loader, _, _ := newLoaderFixture(t)

	path := writeManifest(t, `
name: merger
behavior:
  tool: notes.append
  args:
    line: fixed
`)

	_, instance, err := loader.Load(context.Background(), path)
	require.NoError(t, err)

	res, err := instance.OnWebhook(context.Background(), map[string]interface{}{"extra": "value"})
	require.NoError(t, err)

	data, ok := res.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "fixed", data["line"])
	assert.Equal(t, "value", data["extra"])
}
