package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"voice-auth/internal/audio"
	"voice-auth/internal/config"
	"voice-auth/internal/domain"
	"voice-auth/internal/features"
	"voice-auth/internal/passphrase"
	"voice-auth/internal/similarity"
)

type cliState struct {
	verbose bool
	cfg     config.Config
	logger  *logrus.Logger
}

func newRootCmd() *cobra.Command {
	st := &cliState{}

	root := &cobra.Command{
		Use:           "voicectl",
		Short:         "Inspect voice features and similarity scores",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			st.logger = logrus.New()
			st.logger.SetOutput(cmd.ErrOrStderr())
			st.logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
			st.logger.SetLevel(logrus.WarnLevel)
			if st.verbose {
				st.logger.SetLevel(logrus.DebugLevel)
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			st.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().BoolVarP(&st.verbose, "verbose", "v", false, "log pipeline details to stderr")

	root.AddCommand(
		newExtractCmd(st),
		newCompareCmd(st),
		newNormalizeCmd(),
	)
	return root
}

func newExtractCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "extract <file>",
		Short: "Print the feature mapping of a recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			extractor, err := st.extractor()
			if err != nil {
				return err
			}
			res, err := extractFile(cmd, extractor, args[0])
			if err != nil {
				return err
			}

			out := map[string]any{
				"file":     args[0],
				"status":   res.Status.String(),
				"features": res.Features,
			}
			if len(res.Degraded) > 0 {
				out["degraded"] = res.Degraded
			}
			if res.Err != nil {
				out["error"] = res.Err.Error()
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newCompareCmd(st *cliState) *cobra.Command {
	var threshold float64

	cmd := &cobra.Command{
		Use:   "compare <enrolled> <candidate>",
		Short: "Score two recordings against each other",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("threshold") {
				threshold = st.cfg.Auth.SimilarityThreshold
			}
			extractor, err := st.extractor()
			if err != nil {
				return err
			}

			var feats [2]domain.Features
			for i, path := range args {
				res, err := extractFile(cmd, extractor, path)
				if err != nil {
					return err
				}
				if !res.OK() {
					return fmt.Errorf("extract %s: %w", path, res.Err)
				}
				feats[i] = res.Features
			}

			score := similarity.Score(feats[0], feats[1])
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"score":     score,
				"threshold": threshold,
				"match":     score >= threshold,
			})
		},
	}
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "override auth.similarity_threshold")
	return cmd
}

func newNormalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "normalize <text...>",
		Short: "Print the canonical form of a passphrase",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), passphrase.Normalize(strings.Join(args, " ")))
			return err
		},
	}
}

func (st *cliState) extractor() (*features.Extractor, error) {
	decoder, err := audio.NewDecoder(
		st.cfg.Decoder.Backend,
		audio.NewFFmpegDecoder(st.cfg.Decoder.FFmpegPath, st.cfg.DecoderTimeout()),
		st.logger,
	)
	if err != nil {
		return nil, err
	}

	cfg := features.DefaultConfig()
	cfg.SampleRate = st.cfg.Features.SampleRate
	cfg.MinDuration = st.cfg.MinDuration()
	cfg.ScratchDir = st.cfg.Features.ScratchDir
	// a placeholder would hide decoding problems here
	cfg.AllowSynthetic = false
	return features.NewExtractor(cfg, decoder, st.logger), nil
}

func extractFile(cmd *cobra.Command, extractor *features.Extractor, path string) (features.Result, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return features.Result{}, fmt.Errorf("read %s: %w", path, err)
	}
	return extractor.Extract(cmd.Context(), raw), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
