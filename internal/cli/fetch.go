package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ppiankov/ecowatch/internal/cache"
	"github.com/ppiankov/ecowatch/internal/model"
	"github.com/spf13/cobra"
)

var (
	fetchCity    string
	fetchCountry string
	fetchTimeout time.Duration
)

// fetchCmd represents the fetch command
var fetchCmd = &cobra.Command{
	Use:   "fetch <kind> [\"City, CC\"]",
	Short: "Fetch one kind of data for a location and print it as JSON",
	Long: `Fetch weather, news, satellite, critical-issues or environment data for a
location and print it as JSON. The location is given either as a second
argument ("Lagos, NG") or with --city and --country.

Examples:
  ecowatch fetch weather "New York, US"
  ecowatch fetch environment --city Lagos --country NG`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().StringVar(&fetchCity, "city", "", "city name")
	fetchCmd.Flags().StringVar(&fetchCountry, "country", "", "country code")
	fetchCmd.Flags().DurationVar(&fetchTimeout, "timeout", time.Minute, "overall timeout")
}

func runFetch(cmd *cobra.Command, args []string) error {
	kind, ok := cache.ParseKind(args[0])
	if !ok {
		return fmt.Errorf("unknown kind %q (supported: weather, news, satellite, critical-issues, environment)", args[0])
	}

	loc := model.Location{City: strings.TrimSpace(fetchCity), Country: strings.TrimSpace(fetchCountry)}
	if len(args) == 2 {
		parsed, err := model.ParseLocation(args[1])
		if err != nil {
			return err
		}
		loc = parsed
	}
	if loc.City == "" {
		return fmt.Errorf("a city is required")
	}

	cfg, secrets, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(os.Stderr, cfg.Output)

	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()

	data, origin, err := buildPipeline(cfg, secrets, log).Fetch(ctx, kind, loc)
	if err != nil {
		return err
	}
	log.Debug().Str("origin", string(origin)).Msg("fetched")

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}
