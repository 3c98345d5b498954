package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/farid/orbit/internal/config"
	"github.com/farid/orbit/pkg/cron"
	"github.com/farid/orbit/pkg/scheduler"
)

var validateCmd = &cobra.Command{
	Use:   "validate [dir]",
	Short: "Validate agent manifests",
	Long: `Validate every agent manifest in the agents directory: YAML shape,
behavior form, and cron schedule syntax. Exits non-zero when any
manifest is broken.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	dir := ""
	if len(args) == 1 {
		dir = args[0]
	} else {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		dir = cfg.AgentsDir
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read agents directory: %w", err)
	}

	broken := 0
	checked := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		checked++

		path := filepath.Join(dir, entry.Name())
		problems := validateManifest(path)
		if len(problems) == 0 {
			fmt.Printf("ok    %s\n", entry.Name())
			continue
		}
		broken++
		for _, problem := range problems {
			fmt.Printf("error %s: %s\n", entry.Name(), problem)
		}
	}

	fmt.Printf("%d checked, %d broken\n", checked, broken)
	if broken > 0 {
		return fmt.Errorf("%d broken manifest(s)", broken)
	}
	return nil
}

func validateManifest(path string) []string {
	raw, err := os.ReadFile(path)
	if err != nil {
		return []string{err.Error()}
	}

	var manifest scheduler.Manifest
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		return []string{fmt.Sprintf("invalid YAML: %v", err)}
	}

	problems := []string{}
	b := manifest.Behavior
	forms := 0
	if len(b.Run) > 0 {
		forms++
	}
	if b.Tool != "" {
		forms++
	}
	if b.Native != "" {
		forms++
	}
	if forms == 0 {
		problems = append(problems, "behavior must set one of run, tool, or native")
	}
	if forms > 1 {
		problems = append(problems, "behavior must set exactly one of run, tool, or native")
	}

	if manifest.Schedule != "" {
		if v := cron.Validate(manifest.Schedule); !v.Valid {
			for _, e := range v.Errors {
				problems = append(problems, fmt.Sprintf("schedule: %s", e))
			}
		}
	}

	return problems
}
