package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/farid/orbit/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show engine status",
	Long:  `Probe the gateway health endpoint of a running Orbit engine.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.Gateway.Enabled {
		fmt.Println("Status: unknown (gateway disabled)")
		return nil
	}

	url := fmt.Sprintf("http://127.0.0.1:%d/healthz", cfg.Gateway.Port)
	client := &http.Client{Timeout: 3 * time.Second}

	res, err := client.Get(url)
	if err != nil {
		fmt.Println("Status: stopped")
		return nil
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		fmt.Printf("Status: unhealthy (HTTP %d)\n", res.StatusCode)
		return nil
	}

	var body struct {
		Status string `json:"status"`
		Time   string `json:"time"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return fmt.Errorf("failed to decode health response: %w", err)
	}

	fmt.Println("Status: running")
	fmt.Printf("Gateway: %s\n", url)
	fmt.Printf("Server time: %s\n", body.Time)
	return nil
}
