package cmd

import (
	"fmt"
	"sort"

	"github.com/chatsync/internal/config"
)

// ConfigCheckResult holds the result of configuration validation
type ConfigCheckResult struct {
	Missing  []string          // Required settings that are missing
	Present  map[string]string // Settings that are set (masked values)
	Warnings []string          // Non-fatal warnings
}

// CheckConfig reports which required settings are present. Validation
// problems other than missing values become warnings.
func CheckConfig(cfg *config.Config) *ConfigCheckResult {
	result := &ConfigCheckResult{
		Missing:  []string{},
		Present:  make(map[string]string),
		Warnings: []string{},
	}

	required := map[string]string{
		"remote.base_url (BASE)": cfg.Remote.BaseURL,
		"remote.token (TOKEN)":   cfg.Remote.Token,
		"remote.model (MODEL)":   cfg.Remote.Model,
	}
	for name, val := range required {
		if val == "" {
			result.Missing = append(result.Missing, name)
		}
	}
	sort.Strings(result.Missing)

	for k, v := range cfg.Masked() {
		if v != "" {
			result.Present[k] = v
		}
	}

	if len(result.Missing) == 0 {
		if err := config.Validate(cfg); err != nil {
			result.Warnings = append(result.Warnings, err.Error())
		}
	}
	if !cfg.Output.Save {
		result.Warnings = append(result.Warnings, "turn results will not be saved (output.save = false)")
	}
	return result
}

// PrintConfigCheck prints the configuration check results
func PrintConfigCheck(result *ConfigCheckResult) {
	fmt.Println("=== Configuration Check ===")
	fmt.Println("")

	if len(result.Missing) > 0 {
		fmt.Println("❌ Missing required settings:")
		for _, v := range result.Missing {
			fmt.Printf("   - %s\n", v)
		}
		fmt.Println("")
	}

	if len(result.Present) > 0 {
		keys := make([]string, 0, len(result.Present))
		for k := range result.Present {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fmt.Println("✓ Configured settings:")
		for _, k := range keys {
			fmt.Printf("   - %s = %s\n", k, result.Present[k])
		}
		fmt.Println("")
	}

	for _, w := range result.Warnings {
		fmt.Printf("⚠ Warning: %s\n", w)
	}

	if len(result.Missing) == 0 {
		fmt.Println("✓ All required configuration is present")
	}

	fmt.Println("============================")
}
