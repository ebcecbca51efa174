package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Cabrel10/AetherionOS/internal/whisper"
)

var weightsCmd = &cobra.Command{
	Use:   "weights",
	Short: "Create or inspect AETW weight files",
}

var (
	weightsInitOutput  string
	weightsInitSeed    int64
	weightsInspectJSON bool
)

var weightsInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write an untrained weight file for the configured model",
	Long: `Write a complete AETW weight file filled with deterministic random values.

The file has the shapes of the configured preset (or custom dimensions) and
loads like a trained one. It is meant for smoke tests and benchmarks.

Examples:
  aetherion weights init -o models/random-tiny.aetw
  aetherion weights init -c small.yaml -o small.aetw --seed 7`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if weightsInitOutput == "" {
			return fmt.Errorf("output file is required, use -o flag")
		}
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		mc, err := modelConfig(cfg.Model)
		if err != nil {
			return err
		}

		data, err := whisper.EncodeWeights(mc, whisper.RandomWeights(mc, weightsInitSeed), nil)
		if err != nil {
			return err
		}
		if err := os.WriteFile(weightsInitOutput, data, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", weightsInitOutput, err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s, %d bytes)\n", weightsInitOutput, cfg.Model.Preset, len(data))
		return nil
	},
}

var weightsInspectCmd = &cobra.Command{
	Use:   "inspect <file.aetw>",
	Short: "Print the configuration and tensor inventory of a weight file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}
		file, err := whisper.DecodeWeights(data)
		if err != nil {
			return err
		}
		inventory := file.Inventory()

		if weightsInspectJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"version":    file.Version,
				"config":     file.Config,
				"vocab_size": len(file.Vocab),
				"tensors":    inventory,
				"parameters": parameterCount(inventory),
			})
		}

		c := file.Config
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "AETW v%d\n", file.Version)
		fmt.Fprintf(out, "vocab %d, audio layers %d, text layers %d, hidden %d, heads %d, mels %d, context %d/%d\n",
			c.VocabSize, c.AudioLayers, c.TextLayers, c.HiddenSize, c.Heads, c.MelBins, c.AudioContext, c.TextContext)
		fmt.Fprintf(out, "vocabulary entries %d, parameters %d\n\n", len(file.Vocab), parameterCount(inventory))

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSHAPE\tELEMENTS")
		for _, t := range inventory {
			fmt.Fprintf(w, "%s\t%v\t%d\n", t.Name, t.Shape, t.Elements)
		}
		return w.Flush()
	},
}

func parameterCount(inventory []whisper.TensorInfo) int {
	total := 0
	for _, t := range inventory {
		total += t.Elements
	}
	return total
}

func init() {
	weightsInitCmd.Flags().StringVarP(&weightsInitOutput, "output", "o", "", "output file")
	weightsInitCmd.Flags().Int64Var(&weightsInitSeed, "seed", 1, "random seed")
	weightsInspectCmd.Flags().BoolVar(&weightsInspectJSON, "json", false, "print as JSON")

	weightsCmd.AddCommand(weightsInitCmd)
	weightsCmd.AddCommand(weightsInspectCmd)
	rootCmd.AddCommand(weightsCmd)
}
