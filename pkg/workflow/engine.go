// Package workflow runs named, ordered sequences of tool calls, threading
// each step's output into later steps' argument templates.
package workflow

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/farid/orbit/pkg/tools"
)

// Step references a tool by name with an argument template. String values of
// the form {{steps.<name>.<field>}} or {{args.<key>}} are resolved before
// execution; a whole-string reference substitutes the raw value, embedded
// references stringify.
type Step struct {
	Name string                 `json:"name" yaml:"name"`
	Tool string                 `json:"tool" yaml:"tool"`
	Args map[string]interface{} `json:"args,omitempty" yaml:"args,omitempty"`
}

// Definition is a named, ordered sequence of steps.
type Definition struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []Step `json:"steps" yaml:"steps"`
}

// StepResult pairs a step with its tool result.
type StepResult struct {
	Name   string       `json:"name"`
	Tool   string       `json:"tool"`
	Result tools.Result `json:"result"`
}

// Result reports a workflow run. The first failing step aborts all remaining
// steps and is named here; there is no silent partial continuation.
type Result struct {
	Success    bool         `json:"success"`
	Workflow   string       `json:"workflow"`
	Steps      []StepResult `json:"steps"`
	FailedStep string       `json:"failed_step,omitempty"`
	Error      string       `json:"error,omitempty"`
	Data       interface{}  `json:"data"`
}

// Engine resolves workflow definitions and runs their steps through the tool
// router strictly in declared order.
type Engine struct {
	router *tools.Router

	mu   sync.RWMutex
	defs map[string]Definition
}

// NewEngine creates a workflow engine over the given router.
func NewEngine(router *tools.Router) *Engine {
	return &Engine{
		router: router,
		defs:   make(map[string]Definition),
	}
}

// Register stores a workflow definition, overwriting any previous one with
// the same name.
func (e *Engine) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("workflow name is required")
	}
	if len(def.Steps) == 0 {
		return fmt.Errorf("workflow %s has no steps", def.Name)
	}

	seen := make(map[string]bool, len(def.Steps))
	for i, step := range def.Steps {
		if step.Name == "" {
			return fmt.Errorf("workflow %s: step %d has no name", def.Name, i)
		}
		if step.Tool == "" {
			return fmt.Errorf("workflow %s: step %s has no tool", def.Name, step.Name)
		}
		if seen[step.Name] {
			return fmt.Errorf("workflow %s: duplicate step name %s", def.Name, step.Name)
		}
		seen[step.Name] = true
	}

	e.mu.Lock()
	e.defs[def.Name] = def
	e.mu.Unlock()

	log.Info().Str("workflow", def.Name).Int("steps", len(def.Steps)).Msg("Workflow registered")

	return nil
}

// Get returns a registered definition.
func (e *Engine) Get(name string) (Definition, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	def, ok := e.defs[name]
	return def, ok
}

// List returns all registered workflow names.
func (e *Engine) List() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.defs))
	for name := range e.defs {
		names = append(names, name)
	}

	return names
}

// Execute resolves a named workflow and runs it.
func (e *Engine) Execute(ctx context.Context, name string, args map[string]interface{}, tc tools.Context) Result {
	def, ok := e.Get(name)
	if !ok {
		return Result{
			Success:  false,
			Workflow: name,
			Error:    fmt.Sprintf("workflow not found: %s", name),
		}
	}

	return e.Run(ctx, def, args, tc)
}

// Run executes a definition: steps run strictly in declared order, each
// step's data is available to later steps, and the first failure aborts.
func (e *Engine) Run(ctx context.Context, def Definition, args map[string]interface{}, tc tools.Context) Result {
	result := Result{Workflow: def.Name, Steps: make([]StepResult, 0, len(def.Steps))}
	outputs := make(map[string]interface{}, len(def.Steps))

	for _, step := range def.Steps {
		resolved := resolveArgs(step.Args, args, outputs)

		stepResult := e.router.Execute(ctx, tools.Call{
			Name:           step.Tool,
			Arguments:      resolved,
			ConversationID: tc.ConversationID,
		}, tc)

		result.Steps = append(result.Steps, StepResult{
			Name:   step.Name,
			Tool:   step.Tool,
			Result: stepResult,
		})

		if !stepResult.Success {
			result.FailedStep = step.Name
			result.Error = fmt.Sprintf("step %s failed: %s", step.Name, stepResult.Error)

			log.Warn().
				Str("workflow", def.Name).
				Str("step", step.Name).
				Str("error", stepResult.Error).
				Msg("Workflow aborted at failing step")

			return result
		}

		outputs[step.Name] = stepResult.Data
		result.Data = stepResult.Data
	}

	result.Success = true

	log.Debug().
		Str("workflow", def.Name).
		Int("steps", len(result.Steps)).
		Msg("Workflow completed")

	return result
}

var refPattern = regexp.MustCompile(`\{\{\s*(steps|args)\.([a-zA-Z0-9_.-]+)\s*\}\}`)

// resolveArgs walks an argument template replacing references with workflow
// arguments and prior step outputs. Unresolvable references resolve to nil
// (whole-string) or an empty string (embedded).
func resolveArgs(template, args map[string]interface{}, outputs map[string]interface{}) map[string]interface{} {
	if template == nil {
		return map[string]interface{}{}
	}

	resolved := make(map[string]interface{}, len(template))
	for key, value := range template {
		resolved[key] = resolveValue(value, args, outputs)
	}

	return resolved
}

func resolveValue(value interface{}, args, outputs map[string]interface{}) interface{} {
	switch v := value.(type) {
	case string:
		return resolveString(v, args, outputs)
	case map[string]interface{}:
		return resolveArgs(v, args, outputs)
	case []interface{}:
		items := make([]interface{}, len(v))
		for i, item := range v {
			items[i] = resolveValue(item, args, outputs)
		}
		return items
	default:
		return value
	}
}

func resolveString(s string, args, outputs map[string]interface{}) interface{} {
	// A whole-string reference substitutes the raw value, preserving type.
	if match := refPattern.FindStringSubmatch(s); match != nil && match[0] == strings.TrimSpace(s) {
		return lookupRef(match[1], match[2], args, outputs)
	}

	return refPattern.ReplaceAllStringFunc(s, func(ref string) string {
		match := refPattern.FindStringSubmatch(ref)
		value := lookupRef(match[1], match[2], args, outputs)
		if value == nil {
			return ""
		}
		return fmt.Sprintf("%v", value)
	})
}

func lookupRef(kind, path string, args, outputs map[string]interface{}) interface{} {
	parts := strings.Split(path, ".")

	var current interface{}
	switch kind {
	case "args":
		current = args[parts[0]]
	case "steps":
		current = outputs[parts[0]]
	default:
		return nil
	}

	for _, part := range parts[1:] {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		current = m[part]
	}

	return current
}
