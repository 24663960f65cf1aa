package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var decayUser string

var decayCmd = &cobra.Command{
	Use:   "decay",
	Short: "Run memory confidence decay",
	Long:  "Decay lowers the confidence of memories that have not been reinforced recently. Safe to run repeatedly.",
	RunE:  runDecay,
}

func init() {
	decayCmd.Flags().StringVar(&decayUser, "user", "", "decay a single user (default: all users)")
}

func runDecay(cmd *cobra.Command, args []string) error {
	app, err := buildApp()
	if err != nil {
		return err
	}
	defer app.Close()

	var updated int
	if decayUser != "" {
		updated, err = app.graph.Decay(decayUser, time.Duration(app.cfg.Graph.StaleAfter), app.cfg.Graph.DecayRate)
	} else {
		updated, err = app.graph.DecayAll()
	}
	if err != nil {
		return err
	}

	fmt.Printf("decayed %d memories\n", updated)
	return nil
}
