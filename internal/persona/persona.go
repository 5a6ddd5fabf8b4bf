// Package persona provisions profile system prompts from files: plain text,
// markdown, PDF, or a YAML file describing several personas at once.
package persona

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"gopkg.in/yaml.v3"
)

var (
	ErrEmptyPrompt       = errors.New("system prompt is empty")
	ErrUnsupportedFormat = errors.New("unsupported prompt file format")
)

// Provisioner stores prompts. memory.Manager satisfies it.
type Provisioner interface {
	SetSystemPrompt(ctx context.Context, name, prompt string) error
	SetActiveProfile(ctx context.Context, name string) error
}

// LoadPrompt reads a system prompt template from a .txt, .md or .pdf file.
func LoadPrompt(path string) (string, error) {
	var (
		text string
		err  error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case "", ".txt", ".md", ".markdown", ".prompt":
		var data []byte
		data, err = os.ReadFile(path)
		text = string(data)
	case ".pdf":
		text, err = readPDF(path)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%s: %w", path, ErrEmptyPrompt)
	}
	return text, nil
}

func readPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("extracting text: %w", err)
	}
	return buf.String(), nil
}

// File is the personas YAML document:
//
//	active: Tabs
//	personas:
//	  Tabs:
//	    prompt: |
//	      You are Tabs ...
//	  Nova:
//	    prompt_file: nova.pdf
type File struct {
	Active   string             `yaml:"active"`
	Personas map[string]Persona `yaml:"personas"`
}

// Persona holds one prompt, inline or by reference. PromptFile is resolved
// relative to the personas file.
type Persona struct {
	Prompt     string `yaml:"prompt"`
	PromptFile string `yaml:"prompt_file"`
}

// ParseFile reads and validates a personas file. Every persona's prompt is
// resolved, so a returned File is ready to import.
func ParseFile(path string) (File, map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, nil, fmt.Errorf("reading personas file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, nil, fmt.Errorf("parsing personas file %s: %w", path, err)
	}
	if len(f.Personas) == 0 {
		return File{}, nil, fmt.Errorf("personas file %s defines no personas", path)
	}

	prompts := make(map[string]string, len(f.Personas))
	for name, p := range f.Personas {
		name = strings.TrimSpace(name)
		if name == "" {
			return File{}, nil, fmt.Errorf("personas file %s: persona with empty name", path)
		}
		prompt, err := p.resolve(filepath.Dir(path))
		if err != nil {
			return File{}, nil, fmt.Errorf("persona %q: %w", name, err)
		}
		prompts[name] = prompt
	}
	if f.Active != "" {
		if _, ok := prompts[f.Active]; !ok {
			return File{}, nil, fmt.Errorf("active persona %q is not defined", f.Active)
		}
	}
	return f, prompts, nil
}

func (p Persona) resolve(dir string) (string, error) {
	switch {
	case p.Prompt != "" && p.PromptFile != "":
		return "", errors.New("set either prompt or prompt_file, not both")
	case p.PromptFile != "":
		path := p.PromptFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		return LoadPrompt(path)
	}
	prompt := strings.TrimSpace(p.Prompt)
	if prompt == "" {
		return "", ErrEmptyPrompt
	}
	return prompt, nil
}

// Import stores every persona of the file at path and, when the file names
// one, makes it the active profile. It returns the imported names, sorted.
// Nothing is stored if the file is invalid.
func Import(ctx context.Context, path string, p Provisioner) ([]string, error) {
	f, prompts, err := ParseFile(path)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(prompts))
	for name := range prompts {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := p.SetSystemPrompt(ctx, name, prompts[name]); err != nil {
			return nil, fmt.Errorf("storing prompt for %q: %w", name, err)
		}
	}
	if f.Active != "" {
		if err := p.SetActiveProfile(ctx, f.Active); err != nil {
			return nil, fmt.Errorf("activating %q: %w", f.Active, err)
		}
	}
	return names, nil
}
