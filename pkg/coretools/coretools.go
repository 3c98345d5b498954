// Package coretools registers the baseline filesystem, HTTP, and AI tools
// every deployment gets out of the box.
package coretools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/farid/orbit/pkg/ai"
	"github.com/farid/orbit/pkg/tools"
)

// Options configures core tool registration.
type Options struct {
	// WorkspaceRoot confines file tools. Paths outside it are rejected.
	WorkspaceRoot string

	// Dispatcher backs the ai.* tools. Optional; when nil they are not
	// registered.
	Dispatcher *ai.Dispatcher

	// HTTPClient backs http.get. Defaults to a 30s-timeout client.
	HTTPClient *http.Client
}

// Register registers the core tools on the registry.
func Register(registry *tools.Registry, opts Options) error {
	if registry == nil {
		return errors.New("registry is required")
	}
	if opts.WorkspaceRoot == "" {
		return errors.New("workspace root is required")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	defs := []tools.Definition{
		readFileTool(opts),
		writeFileTool(opts),
		listFilesTool(opts),
		httpGetTool(opts),
	}
	if opts.Dispatcher != nil {
		defs = append(defs, aiCompleteTool(opts))
	}

	for _, def := range defs {
		if err := registry.Register(def); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", def.Name, err)
		}
	}
	return nil
}

func readFileTool(opts Options) tools.Definition {
	return tools.Definition{
		Name:        "files.read",
		Description: "Read a file from the workspace.",
		Provider:    "local",
		RiskLevel:   tools.RiskLow,
		Cacheable:   false,
		Parameters: []tools.Parameter{
			{Name: "path", Type: "string", Description: "Path relative to the workspace root", Required: true},
			{Name: "max_bytes", Type: "number", Description: "Maximum bytes to read (default 200000)", Required: false},
		},
		Handler: func(ctx context.Context, args map[string]interface{}, tc tools.Context) (interface{}, error) {
			path, err := resolvePath(opts.WorkspaceRoot, args["path"])
			if err != nil {
				return nil, err
			}

			maxBytes := intArg(args["max_bytes"], 200000)
			f, err := os.Open(path)
			if err != nil {
				return nil, fmt.Errorf("failed to open file: %w", err)
			}
			defer f.Close()

			data, err := io.ReadAll(io.LimitReader(f, int64(maxBytes)))
			if err != nil {
				return nil, fmt.Errorf("failed to read file: %w", err)
			}

			return map[string]interface{}{
				"path":    path,
				"content": string(data),
				"bytes":   len(data),
			}, nil
		},
	}
}

func writeFileTool(opts Options) tools.Definition {
	return tools.Definition{
		Name:        "files.write",
		Description: "Write or append to a file in the workspace.",
		Provider:    "local",
		RiskLevel:   tools.RiskMedium,
		Parameters: []tools.Parameter{
			{Name: "path", Type: "string", Description: "Path relative to the workspace root", Required: true},
			{Name: "content", Type: "string", Description: "File content", Required: true},
			{Name: "append", Type: "boolean", Description: "Append instead of overwrite (default false)", Required: false},
		},
		Handler: func(ctx context.Context, args map[string]interface{}, tc tools.Context) (interface{}, error) {
			path, err := resolvePath(opts.WorkspaceRoot, args["path"])
			if err != nil {
				return nil, err
			}
			content, _ := args["content"].(string)

			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return nil, fmt.Errorf("failed to create directory: %w", err)
			}

			flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
			if appendFlag, _ := args["append"].(bool); appendFlag {
				flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
			}

			f, err := os.OpenFile(path, flags, 0644)
			if err != nil {
				return nil, fmt.Errorf("failed to open file: %w", err)
			}
			defer f.Close()

			n, err := f.WriteString(content)
			if err != nil {
				return nil, fmt.Errorf("failed to write file: %w", err)
			}

			return map[string]interface{}{
				"path":  path,
				"bytes": n,
			}, nil
		},
	}
}

func listFilesTool(opts Options) tools.Definition {
	return tools.Definition{
		Name:        "files.list",
		Description: "List files under a workspace directory.",
		Provider:    "local",
		RiskLevel:   tools.RiskLow,
		Cacheable:   false,
		Parameters: []tools.Parameter{
			{Name: "path", Type: "string", Description: "Directory relative to the workspace root (default \".\")", Required: false},
		},
		Handler: func(ctx context.Context, args map[string]interface{}, tc tools.Context) (interface{}, error) {
			rel := args["path"]
			if rel == nil {
				rel = "."
			}
			path, err := resolvePath(opts.WorkspaceRoot, rel)
			if err != nil {
				return nil, err
			}

			entries, err := os.ReadDir(path)
			if err != nil {
				return nil, fmt.Errorf("failed to list directory: %w", err)
			}

			names := []string{}
			for _, entry := range entries {
				name := entry.Name()
				if entry.IsDir() {
					name += "/"
				}
				names = append(names, name)
			}
			sort.Strings(names)

			return map[string]interface{}{
				"path":    path,
				"entries": names,
			}, nil
		},
	}
}

func httpGetTool(opts Options) tools.Definition {
	return tools.Definition{
		Name:        "http.get",
		Description: "Fetch a URL over HTTP GET and return the response body.",
		Provider:    "network",
		RiskLevel:   tools.RiskMedium,
		Cacheable:   true,
		Parameters: []tools.Parameter{
			{Name: "url", Type: "string", Description: "URL to fetch", Required: true},
			{Name: "max_bytes", Type: "number", Description: "Maximum response bytes (default 1000000)", Required: false},
		},
		Handler: func(ctx context.Context, args map[string]interface{}, tc tools.Context) (interface{}, error) {
			url, _ := args["url"].(string)
			if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
				return nil, fmt.Errorf("url must be http or https")
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return nil, fmt.Errorf("failed to create request: %w", err)
			}

			res, err := opts.HTTPClient.Do(req)
			if err != nil {
				return nil, fmt.Errorf("request failed: %w", err)
			}
			defer res.Body.Close()

			maxBytes := intArg(args["max_bytes"], 1000000)
			body, err := io.ReadAll(io.LimitReader(res.Body, int64(maxBytes)))
			if err != nil {
				return nil, fmt.Errorf("failed to read response: %w", err)
			}

			return map[string]interface{}{
				"status": res.StatusCode,
				"body":   string(body),
			}, nil
		},
	}
}

func aiCompleteTool(opts Options) tools.Definition {
	return tools.Definition{
		Name:        "ai.complete",
		Description: "Run a completion through the configured AI providers.",
		Provider:    "ai",
		RiskLevel:   tools.RiskLow,
		CostPerCall: 0.01,
		Parameters: []tools.Parameter{
			{Name: "prompt", Type: "string", Description: "Prompt text", Required: true},
			{Name: "model", Type: "string", Description: "Tier name or explicit model (default \"default\")", Required: false},
			{Name: "system", Type: "string", Description: "System prompt", Required: false},
		},
		Handler: func(ctx context.Context, args map[string]interface{}, tc tools.Context) (interface{}, error) {
			prompt, _ := args["prompt"].(string)
			model, _ := args["model"].(string)
			system, _ := args["system"].(string)

			completion, err := opts.Dispatcher.Complete(ctx, prompt, ai.Options{
				Model:  model,
				System: system,
			})
			if err != nil {
				return nil, err
			}

			result := map[string]interface{}{
				"text":     completion.Text,
				"model":    completion.Model,
				"provider": completion.Provider,
			}
			if completion.Usage != nil {
				result["input_tokens"] = completion.Usage.InputTokens
				result["output_tokens"] = completion.Usage.OutputTokens
			}
			return result, nil
		},
	}
}

// resolvePath joins rel onto root and rejects escapes.
func resolvePath(root string, rel interface{}) (string, error) {
	relStr, _ := rel.(string)
	if relStr == "" {
		return "", fmt.Errorf("path is required")
	}

	abs, err := filepath.Abs(filepath.Join(root, relStr))
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("invalid workspace root: %w", err)
	}
	if abs != rootAbs && !strings.HasPrefix(abs, rootAbs+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace: %s", relStr)
	}
	return abs, nil
}

func intArg(v interface{}, fallback int) int {
	switch n := v.(type) {
	case float64:
		if n > 0 {
			return int(n)
		}
	case int:
		if n > 0 {
			return n
		}
	}
	return fallback
}
