package persona

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeProvisioner struct {
	mu      sync.Mutex
	prompts map[string]string
	active  string
	err     error
}

func (f *fakeProvisioner) SetSystemPrompt(_ context.Context, name, prompt string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.prompts == nil {
		f.prompts = map[string]string{}
	}
	f.prompts[name] = prompt
	return nil
}

func (f *fakeProvisioner) SetActiveProfile(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = name
	return nil
}

func (f *fakeProvisioner) prompt(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prompts[name]
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadPrompt(t *testing.T) {
	dir := t.TempDir()

	got, err := LoadPrompt(writeFile(t, dir, "tabs.md", "\n  You are Tabs. {{context}}\n"))
	require.NoError(t, err)
	assert.Equal(t, "You are Tabs. {{context}}", got)

	got, err = LoadPrompt(writeFile(t, dir, "plain.txt", "hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	_, err = LoadPrompt(writeFile(t, dir, "blank.txt", "  \n"))
	assert.True(t, errors.Is(err, ErrEmptyPrompt))

	_, err = LoadPrompt(writeFile(t, dir, "prompt.docx", "x"))
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))

	_, err = LoadPrompt(writeFile(t, dir, "broken.pdf", "not a pdf"))
	assert.Error(t, err)

	_, err = LoadPrompt(filepath.Join(dir, "missing.txt"))
	assert.Error(t, err)
}

const personasYAML = `active: Tabs
personas:
  Tabs:
    prompt: |
      You are Tabs.
  Nova:
    prompt_file: nova.txt
`

func TestImport(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "nova.txt", "You are Nova.")
	path := writeFile(t, dir, "personas.yaml", personasYAML)

	p := &fakeProvisioner{}
	names, err := Import(context.Background(), path, p)
	require.NoError(t, err)

	assert.Equal(t, []string{"Nova", "Tabs"}, names)
	assert.Equal(t, "You are Tabs.", p.prompt("Tabs"))
	assert.Equal(t, "You are Nova.", p.prompt("Nova"))
	assert.Equal(t, "Tabs", p.active)
}

func TestImport_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no personas", "active: Tabs\n"},
		{"unknown active", "active: Ghost\npersonas:\n  Tabs:\n    prompt: hi\n"},
		{"empty prompt", "personas:\n  Tabs:\n    prompt: \"  \"\n"},
		{"both prompt and file", "personas:\n  Tabs:\n    prompt: hi\n    prompt_file: x.txt\n"},
		{"missing prompt file", "personas:\n  Tabs:\n    prompt_file: nope.txt\n"},
		{"bad yaml", "personas: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "personas.yaml", tt.yaml)
			p := &fakeProvisioner{}
			_, err := Import(context.Background(), path, p)
			assert.Error(t, err)
			assert.Empty(t, p.prompts, "nothing stored for an invalid file")
			assert.Empty(t, p.active)
		})
	}
}

func TestImport_StoreFailure(t *testing.T) {
	path := writeFile(t, t.TempDir(), "personas.yaml", "personas:\n  Tabs:\n    prompt: hi\n")
	_, err := Import(context.Background(), path, &fakeProvisioner{err: errors.New("db locked")})
	assert.ErrorContains(t, err, "db locked")
}

func TestWatcher_ReimportsOnChange(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := writeFile(t, dir, "personas.yaml", "personas:\n  Tabs:\n    prompt: first\n")

	p := &fakeProvisioner{}
	w := NewWatcher(path, p)
	w.debounce = 20 * time.Millisecond
	imports := make(chan error, 16)
	w.imported = func(_ []string, err error) {
		select {
		case imports <- err:
		default:
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case err := <-imports:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("initial import did not happen")
	}
	assert.Equal(t, "first", p.prompt("Tabs"))

	writeFile(t, dir, "personas.yaml", "personas:\n  Tabs:\n    prompt: second\n")
	require.Eventually(t, func() bool { return p.prompt("Tabs") == "second" }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWatcher_MissingDirectory(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "nope", "personas.yaml"), &fakeProvisioner{})
	assert.Error(t, w.Run(context.Background()))
}
