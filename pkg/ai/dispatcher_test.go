package ai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farid/orbit/pkg/retry"
)

type fakeProvider struct {
	name      string
	err       error
	text      string
	calls     int
	streamed  int
	modelSeen string
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Complete(ctx context.Context, req Request) (*Completion, error) {
	f.calls++
	f.modelSeen = req.Model
	if f.err != nil {
		return nil, f.err
	}
	return &Completion{Text: f.text, Model: req.Model, Provider: f.name}, nil
}

func (f *fakeProvider) Stream(ctx context.Context, req Request, onDelta func(string) error) (*Completion, error) {
	f.streamed++
	f.modelSeen = req.Model
	if f.err != nil {
		return nil, f.err
	}
	if err := onDelta(f.text); err != nil {
		return nil, err
	}
	return &Completion{Text: f.text, Model: req.Model, Provider: f.name}, nil
}

func (f *fakeProvider) CheckModel(ctx context.Context, model string) bool {
	return f.err == nil
}

func testDispatcher(primary Provider, smart Provider, fallbacks ...Provider) *Dispatcher {
	return &Dispatcher{
		primary:   primary,
		smart:     smart,
		fallbacks: fallbacks,
		models: TierModels{
			Fast:      "fast-1",
			Smart:     "smart-1",
			Default:   "default-1",
			Embedding: "embed-1",
		},
		retry:  retry.Policy{MaxRetries: 0, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		logger: zerolog.Nop(),
	}
}

func TestResolveModel(t *testing.T) {
	d := testDispatcher(&fakeProvider{name: "primary"}, nil)

	assert.Equal(t, "fast-1", d.ResolveModel(TierFast))
	assert.Equal(t, "smart-1", d.ResolveModel(TierSmart))
	assert.Equal(t, "default-1", d.ResolveModel(TierDefault))
	assert.Equal(t, "embed-1", d.ResolveModel(TierEmbedding))
	assert.Equal(t, "default-1", d.ResolveModel(""))
	assert.Equal(t, "gpt-9-turbo", d.ResolveModel("gpt-9-turbo"))
}

func TestResolveModelMissingTierFallsToDefault(t *testing.T) {
	d := testDispatcher(&fakeProvider{name: "primary"}, nil)
	d.models.Fast = ""
	d.models.Embedding = ""

	assert.Equal(t, "default-1", d.ResolveModel(TierFast))
	assert.Equal(t, "default-1", d.ResolveModel(TierEmbedding))
}

func TestCompleteUsesPrimary(t *testing.T) {
	primary := &fakeProvider{name: "primary", text: "hello"}
	d := testDispatcher(primary, nil)

	completion, err := d.Complete(context.Background(), "hi", Options{Model: TierFast})
	require.NoError(t, err)
	assert.Equal(t, "hello", completion.Text)
	assert.Equal(t, "primary", completion.Provider)
	assert.Equal(t, "fast-1", primary.modelSeen)
}

func TestFallbackOnPrimaryFailure(t *testing.T) {
	primary := &fakeProvider{name: "primary", err: errors.New("500 upstream down")}
	fb1 := &fakeProvider{name: "fb1", err: errors.New("also down")}
	fb2 := &fakeProvider{name: "fb2", text: "saved"}
	d := testDispatcher(primary, nil, fb1, fb2)

	completion, err := d.Complete(context.Background(), "hi", Options{})
	require.NoError(t, err)
	assert.Equal(t, "saved", completion.Text)
	assert.Equal(t, "fb2", completion.Provider)
	assert.Equal(t, 1, fb1.calls)
}

func TestAllProvidersFailReturnsPrimaryError(t *testing.T) {
	primaryErr := errors.New("primary exploded")
	primary := &fakeProvider{name: "primary", err: primaryErr}
	fb := &fakeProvider{name: "fb", err: errors.New("fallback exploded")}
	d := testDispatcher(primary, nil, fb)

	_, err := d.Complete(context.Background(), "hi", Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, primaryErr)
	assert.Equal(t, 1, fb.calls)
}

func TestFatalPrimaryErrorSkipsFallback(t *testing.T) {
	primaryErr := errors.New("401 unauthorized: invalid api key")
	primary := &fakeProvider{name: "primary", err: primaryErr}
	fb := &fakeProvider{name: "fb", text: "fallback answer"}
	d := testDispatcher(primary, nil, fb)

	_, err := d.Complete(context.Background(), "hi", Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, primaryErr)
	assert.Equal(t, 1, primary.calls)
	assert.Zero(t, fb.calls)
}

func TestSmartTierNeverFallsBack(t *testing.T) {
	smartErr := errors.New("smart down")
	primary := &fakeProvider{name: "primary", text: "primary answer"}
	smart := &fakeProvider{name: "smart", err: smartErr}
	fb := &fakeProvider{name: "fb", text: "fallback answer"}
	d := testDispatcher(primary, smart, fb)

	_, err := d.Complete(context.Background(), "hi", Options{Model: TierSmart})
	require.Error(t, err)
	assert.ErrorIs(t, err, smartErr)
	assert.Zero(t, primary.calls)
	assert.Zero(t, fb.calls)
}

func TestSmartTierWithoutSmartProviderUsesPrimary(t *testing.T) {
	primary := &fakeProvider{name: "primary", text: "answer"}
	d := testDispatcher(primary, nil)

	completion, err := d.Complete(context.Background(), "hi", Options{Model: TierSmart})
	require.NoError(t, err)
	assert.Equal(t, "primary", completion.Provider)
	assert.Equal(t, "smart-1", primary.modelSeen)
}

func TestStreamBypassesFallback(t *testing.T) {
	streamErr := errors.New("stream broke")
	primary := &fakeProvider{name: "primary", err: streamErr}
	fb := &fakeProvider{name: "fb", text: "never"}
	d := testDispatcher(primary, nil, fb)

	_, err := d.Stream(context.Background(), "hi", Options{}, func(string) error { return nil })
	require.Error(t, err)
	assert.ErrorIs(t, err, streamErr)
	assert.Zero(t, fb.calls)
	assert.Zero(t, fb.streamed)
}

func TestStreamDeliversDeltas(t *testing.T) {
	primary := &fakeProvider{name: "primary", text: "chunk"}
	d := testDispatcher(primary, nil)

	var got []string
	completion, err := d.Stream(context.Background(), "hi", Options{}, func(text string) error {
		got = append(got, text)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"chunk"}, got)
	assert.Equal(t, "chunk", completion.Text)
}

func TestNonRetryableErrorSkipsRetries(t *testing.T) {
	primary := &fakeProvider{name: "primary", err: errors.New("401 unauthorized")}
	d := testDispatcher(primary, nil)
	d.retry = retry.Policy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

	_, err := d.Complete(context.Background(), "hi", Options{})
	require.Error(t, err)
	assert.Equal(t, 1, primary.calls)
}

func TestCheckModelBestEffort(t *testing.T) {
	healthy := &fakeProvider{name: "primary"}
	d := testDispatcher(healthy, nil)
	assert.True(t, d.CheckModel(context.Background(), TierFast))

	broken := &fakeProvider{name: "primary", err: errors.New("no network")}
	d = testDispatcher(broken, nil)
	assert.False(t, d.CheckModel(context.Background(), TierFast))
}

func TestChatThreadsMessages(t *testing.T) {
	primary := &fakeProvider{name: "primary", text: "ok"}
	d := testDispatcher(primary, nil)

	messages := []Message{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "second"},
		{Role: "user", Content: "third"},
	}
	completion, err := d.Chat(context.Background(), messages, Options{Model: TierDefault})
	require.NoError(t, err)
	assert.Equal(t, "ok", completion.Text)
	assert.Equal(t, 1, primary.calls)
}
