package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ricesearch/mcqa/internal/evaluation"
	"github.com/ricesearch/mcqa/internal/pipeline"
	"github.com/ricesearch/mcqa/internal/record"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Train, predict and report accuracy in one go",
		Long: `Train a scorer on the training file, predict the input file, print the
accuracy against the input's gold labels and write one label (1, 2 or 3)
per line to the output file.

Embeddings of both files are cached, so a second run over unchanged data
skips the embedding step.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			trainPath, _ := cmd.Flags().GetString("train-file")
			inputPath, _ := cmd.Flags().GetString("input-file")
			outputPath, _ := cmd.Flags().GetString("output-file")

			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.pipeline.Run(cmd.Context(), trainPath, inputPath, outputPath)
			if err != nil {
				return err
			}
			return printReport(cmd.OutOrStdout(), a.format, report)
		},
	}

	cmd.Flags().String("train-file", "", "labelled training records")
	cmd.Flags().String("input-file", "", "labelled records to predict")
	cmd.Flags().String("output-file", "", "where to write predicted labels")
	for _, name := range []string{"train-file", "input-file", "output-file"} {
		cmd.MarkFlagRequired(name)
	}

	return cmd
}

func trainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Fit a scorer and save it",
		RunE: func(cmd *cobra.Command, args []string) error {
			trainPath, _ := cmd.Flags().GetString("train-file")
			modelPath, _ := cmd.Flags().GetString("model-out")

			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			records, err := record.Load(trainPath)
			if err != nil {
				return err
			}
			f, err := a.pipeline.Train(cmd.Context(), records)
			if err != nil {
				return err
			}
			if err := f.SaveFile(modelPath); err != nil {
				return err
			}

			stats := f.Stats()
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %d trees (dim %d) to %s\n", stats.Trees, f.Dim(), modelPath)
			return nil
		},
	}

	cmd.Flags().String("train-file", "train.jsonl", "labelled training records")
	cmd.Flags().String("model-out", "model.gob", "where to save the scorer")

	return cmd
}

func predictCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Predict labels with a saved scorer",
		Long: `Predict one label per input record with a scorer saved by 'mcqa train'.
The correct field is optional. When every record carries one, the
accuracy is printed as well.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			modelPath, _ := cmd.Flags().GetString("model")
			inputPath, _ := cmd.Flags().GetString("input-file")
			outputPath, _ := cmd.Flags().GetString("output-file")

			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.pipeline.LoadModel(modelPath); err != nil {
				return err
			}

			records, err := record.LoadUnlabelled(inputPath)
			if err != nil {
				return err
			}
			pred, err := a.pipeline.Predict(cmd.Context(), pipeline.SplitTest, records)
			if err != nil {
				return err
			}
			if err := evaluation.WritePredictions(outputPath, pred); err != nil {
				return err
			}

			if !allLabelled(records) {
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d predictions to %s\n", len(pred), outputPath)
				return nil
			}
			report, err := evaluation.NewReport(pred, record.Labels(records))
			if err != nil {
				return err
			}
			if m := a.pipeline.Metrics(); m != nil {
				m.SetAccuracy(pipeline.SplitTest, report.Accuracy)
			}
			return printReport(cmd.OutOrStdout(), a.format, report)
		},
	}

	cmd.Flags().String("model", "model.gob", "saved scorer")
	cmd.Flags().String("input-file", "test.jsonl", "records to predict")
	cmd.Flags().String("output-file", "predictions.txt", "where to write predicted labels")

	return cmd
}

func classifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Pick the answer for a single record",
		Long: `Classify one JSON record given with --record or on stdin. Failures
degrade to uniform probabilities and option A instead of an error.`,
		Example: `  mcqa classify --model model.gob --record '{"context":"A zoo has lions.","question":"What do lions eat?","answerA":"Meat","answerB":"Grass","answerC":"Rocks"}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			modelPath, _ := cmd.Flags().GetString("model")
			raw, _ := cmd.Flags().GetString("record")

			data := []byte(raw)
			if raw == "" {
				var err error
				if data, err = io.ReadAll(cmd.InOrStdin()); err != nil {
					return fmt.Errorf("reading stdin: %w", err)
				}
			}
			rec, err := record.ParseLine(bytes.TrimSpace(data), 1, false)
			if err != nil {
				return err
			}

			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.pipeline.LoadModel(modelPath); err != nil {
				return err
			}

			c := a.pipeline.Classify(cmd.Context(), rec)
			return printClassification(cmd.OutOrStdout(), a.format, c)
		},
	}

	cmd.Flags().String("model", "model.gob", "saved scorer")
	cmd.Flags().String("record", "", "record JSON (default: read stdin)")

	return cmd
}

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score a predictions file against labelled records",
		RunE: func(cmd *cobra.Command, args []string) error {
			predPath, _ := cmd.Flags().GetString("predictions")
			goldPath, _ := cmd.Flags().GetString("gold-file")
			format, _ := cmd.Flags().GetString("format")

			pred, err := evaluation.ReadPredictions(predPath)
			if err != nil {
				return err
			}
			gold, err := record.Load(goldPath)
			if err != nil {
				return err
			}
			report, err := evaluation.NewReport(pred, record.Labels(gold))
			if err != nil {
				return err
			}
			return printReport(cmd.OutOrStdout(), format, report)
		},
	}

	cmd.Flags().String("predictions", "predictions.txt", "one label per line")
	cmd.Flags().String("gold-file", "test.jsonl", "labelled records")

	return cmd
}

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the feature cache",
	}

	clearCmd := &cobra.Command{
		Use:   "clear [split...]",
		Short: "Drop cached features",
		RunE: func(cmd *cobra.Command, args []string) error {
			splits := args
			if len(splits) == 0 {
				splits = []string{pipeline.SplitTrain, pipeline.SplitTest}
			}

			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			for _, split := range splits {
				if err := a.pipeline.InvalidateCache(cmd.Context(), split); err != nil {
					return fmt.Errorf("clearing %s: %w", split, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s\n", strings.Join(splits, ", "))
			return nil
		},
	}

	cmd.AddCommand(clearCmd)
	return cmd
}

func allLabelled(records []record.Record) bool {
	if len(records) == 0 {
		return false
	}
	for _, r := range records {
		if !r.Correct.Valid() {
			return false
		}
	}
	return true
}

func printReport(w io.Writer, format string, report *evaluation.Report) error {
	if format == "json" {
		return writeJSON(w, report)
	}

	fmt.Fprintf(w, "Accuracy: %.4f (%d/%d)\n", report.Accuracy, report.Correct, report.Total)
	if report.Unscored > 0 {
		fmt.Fprintf(w, "Unscored: %d\n", report.Unscored)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "OPTION\tSUPPORT\tPREDICTED\tPRECISION\tRECALL\tF1")
	for _, o := range report.Options {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.4f\t%.4f\t%.4f\n", o.Option, o.Support, o.Predicted, o.Precision, o.Recall, o.F1)
	}
	return tw.Flush()
}

func printClassification(w io.Writer, format string, c pipeline.Classification) error {
	if format == "json" {
		return writeJSON(w, map[string]any{
			"option": c.Option.String(),
			"label":  c.Option.Label(),
			"probabilities": map[string]float64{
				"A": c.Probabilities[0],
				"B": c.Probabilities[1],
				"C": c.Probabilities[2],
			},
			"degraded": c.Degraded,
		})
	}

	fmt.Fprintf(w, "%s (A=%.4f B=%.4f C=%.4f)", c.Option, c.Probabilities[0], c.Probabilities[1], c.Probabilities[2])
	if c.Degraded {
		fmt.Fprint(w, " [degraded]")
	}
	fmt.Fprintln(w)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
