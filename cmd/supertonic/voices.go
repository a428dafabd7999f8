package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/example/go-supertonic/internal/tts"
)

func newVoicesCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "voices",
		Short: "List available voice styles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			catalog, err := tts.LoadVoiceCatalog(cfg.Paths.VoiceDir)
			if err != nil {
				return err
			}

			return printVoices(cmd.OutOrStdout(), catalog.ListVoices(), asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the catalog as JSON")

	return cmd
}

func printVoices(w io.Writer, voices []tts.Voice, asJSON bool) error {
	if asJSON {
		if voices == nil {
			voices = []tts.Voice{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(voices)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLABEL\tPATH")
	for _, v := range voices {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", v.ID, v.Label, v.Path)
	}
	return tw.Flush()
}
