package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/streamcore/corestream/pkg/playlist"
	"github.com/streamcore/corestream/pkg/playlist/dash"
	"github.com/streamcore/corestream/pkg/playlist/hls"
	"github.com/streamcore/corestream/pkg/playlist/manifestio"
	"github.com/streamcore/corestream/pkg/playlist/mss"
)

var manifestFlavor string

var manifestCmd = &cobra.Command{
	Use:   "manifest <path>",
	Short: "Parse a manifest file and print its Playlist Model",
	Args:  cobra.ExactArgs(1),
	RunE:  runManifest,
}

func init() {
	manifestCmd.Flags().StringVar(&manifestFlavor, "flavor", "hls", "manifest flavor: hls, dash, mss")
	rootCmd.AddCommand(manifestCmd)
}

func runManifest(_ *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("opening manifest: %w", err)
	}
	defer f.Close()

	raw, err := manifestio.ReadAll(f)
	if err != nil {
		return fmt.Errorf("reading manifest: %w", err)
	}

	var pl *playlist.Playlist
	switch manifestFlavor {
	case "hls":
		pl, err = hls.Parse(raw, "file://"+args[0])
	case "dash":
		pl, err = dash.Parse(raw, "file://"+args[0])
	case "mss":
		pl, err = mss.Parse(raw, "file://"+args[0])
	default:
		return fmt.Errorf("unknown manifest flavor %q (want hls, dash, or mss)", manifestFlavor)
	}
	if err != nil {
		return fmt.Errorf("parsing manifest: %w", err)
	}

	printPlaylist(pl)
	return nil
}

func printPlaylist(pl *playlist.Playlist) {
	pl.Mu.RLock()
	defer pl.Mu.RUnlock()

	fmt.Printf("base_uri: %s\n", pl.BaseURI)
	fmt.Printf("is_live:  %t\n", pl.IsLive)
	fmt.Printf("version:  %d\n", pl.Version)
	if pl.MinimumUpdatePeriod != nil {
		fmt.Printf("minimum_update_period: %s\n", *pl.MinimumUpdatePeriod)
	}
	fmt.Printf("periods:  %d\n", len(pl.Periods))

	for _, period := range pl.Periods {
		fmt.Printf("  period %s (start=%s)\n", period.ID, period.Start)
		for _, set := range period.AdaptationSets {
			fmt.Printf("    adaptation set %s kind=%s lang=%q representations=%d\n",
				set.ID, set.Kind, set.Language, len(set.Representations))
			for _, rep := range set.Representations {
				fmt.Printf("      %s  %dx%d  %6d bps  codecs=%q  iframe=%t\n",
					rep.ID, rep.Width, rep.Height, rep.Bandwidth, rep.Codecs, rep.IFrame)
			}
		}
	}
}
