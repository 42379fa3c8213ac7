package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Sixshoes/ai-music-assistant-sub000/pkg/backend"
	"github.com/Sixshoes/ai-music-assistant-sub000/pkg/command"
	"github.com/Sixshoes/ai-music-assistant-sub000/pkg/config"
	"github.com/Sixshoes/ai-music-assistant-sub000/pkg/coordinator"
	"github.com/Sixshoes/ai-music-assistant-sub000/pkg/declog"
	"github.com/Sixshoes/ai-music-assistant-sub000/pkg/ledger"
	"github.com/Sixshoes/ai-music-assistant-sub000/pkg/registry"
	"github.com/Sixshoes/ai-music-assistant-sub000/pkg/scorer"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "maestro",
		Short: "Adaptive routing of music-generation commands to backend engines",
		Long: `Maestro routes categorized music commands (generation, analysis,
	transcription, synthesis) to the best available backend engine, adapting
	its choice from the recorded success history of each engine.`,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file")

	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(rankCmd())
	rootCmd.AddCommand(backendsCmd())
	rootCmd.AddCommand(ledgerCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func submitCmd() *cobra.Command {
	var categoryFlag string
	var paramFlags []string
	var preferFlags []string
	var remoteFlags []string
	var timeoutSec int

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a command and wait for its pipeline to finish",
		Long: `Submits a command to an in-process coordinator backed by the demo
	engines (plus any --remote engines), waits for the pipeline, and prints
	the run outcome. Outcomes update the persisted ledger, so repeated runs
	adapt future routing.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}

			params, err := parseParams(paramFlags)
			if err != nil {
				return err
			}

			var opts []command.Option
			if len(preferFlags) > 0 {
				opts = append(opts, command.WithPreference(preferFlags...))
			}
			c, err := command.New(command.Category(categoryFlag), params, opts...)
			if err != nil {
				return err
			}

			reg, err := buildRegistry(remoteFlags)
			if err != nil {
				return err
			}

			led, err := ledger.Open(ledger.Options{
				Path:          cfg.LedgerPath,
				EMAWeight:     cfg.EMAWeight,
				MinSamples:    cfg.MinTierSamples,
				RecencyWindow: cfg.RecencyWindow,
				FlushDebounce: cfg.FlushDebounce(),
				Logger:        newLogger(cfg),
			})
			if err != nil {
				return err
			}
			defer led.Close()

			dlog, closeDlog, err := openDecisionLog(cfg)
			if err != nil {
				return err
			}
			defer closeDlog()

			coord, err := coordinator.New(coordinator.Options{
				Registry:     reg,
				Ledger:       led,
				Weights:      cfg.Weights,
				Preferred:    cfg.PreferredByCategory(),
				MaxAttempts:  cfg.MaxAttempts,
				RunTTL:       cfg.RunTTL(),
				ReapInterval: cfg.ReapInterval(),
				DecisionLog:  dlog,
				Logger:       newLogger(cfg),
			})
			if err != nil {
				return err
			}
			defer coord.Close()

			ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSec)*time.Second)
			defer cancel()

			run, err := coord.Submit(ctx, c)
			if err != nil {
				return err
			}
			snap := run.Wait(ctx)
			printSnapshot(snap)
			if snap.Status != coordinator.StatusCompleted {
				return fmt.Errorf("run %s", snap.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&categoryFlag, "category", "", "command category (generation, analysis, transcription, synthesis)")
	cmd.Flags().StringArrayVar(&paramFlags, "param", nil, "command parameter as key=value (repeatable)")
	cmd.Flags().StringArrayVar(&preferFlags, "prefer", nil, "explicit backend preference, in order (repeatable)")
	cmd.Flags().StringArrayVar(&remoteFlags, "remote", nil, "remote engine as id=baseURL (repeatable)")
	cmd.Flags().IntVar(&timeoutSec, "timeout", 120, "overall timeout in seconds")
	_ = cmd.MarkFlagRequired("category")

	return cmd
}

func rankCmd() *cobra.Command {
	var categoryFlag string
	var paramFlags []string
	var preferFlags []string

	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Show how the scorer would rank backends for a command",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}

			params, err := parseParams(paramFlags)
			if err != nil {
				return err
			}
			var opts []command.Option
			if len(preferFlags) > 0 {
				opts = append(opts, command.WithPreference(preferFlags...))
			}
			c, err := command.New(command.Category(categoryFlag), params, opts...)
			if err != nil {
				return err
			}

			reg, err := buildRegistry(nil)
			if err != nil {
				return err
			}
			led, err := ledger.Open(ledger.Options{
				Path:          cfg.LedgerPath,
				EMAWeight:     cfg.EMAWeight,
				MinSamples:    cfg.MinTierSamples,
				RecencyWindow: cfg.RecencyWindow,
			})
			if err != nil {
				return err
			}

			s := scorer.New(cfg.Weights, cfg.PreferredByCategory(), led)
			ranked := s.Rank(c, reg.ListCapable(c.Category))
			if len(ranked) == 0 {
				return fmt.Errorf("no capable backend for category %q", c.Category)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RANK\tBACKEND\tSCORE\tRATIONALE")
			for i, cand := range ranked {
				fmt.Fprintf(w, "%d\t%s\t%.3f\t%s\n", i+1, cand.BackendID, cand.Score, strings.Join(cand.Rationale, "; "))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&categoryFlag, "category", "", "command category")
	cmd.Flags().StringArrayVar(&paramFlags, "param", nil, "command parameter as key=value (repeatable)")
	cmd.Flags().StringArrayVar(&preferFlags, "prefer", nil, "explicit backend preference (repeatable)")
	_ = cmd.MarkFlagRequired("category")

	return cmd
}

func backendsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List the demo backend engines and their capabilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := buildRegistry(nil)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "BACKEND\tCAPABILITIES\tSTRENGTHS\tCOST\tREALTIME")
			for _, desc := range reg.Descriptors() {
				caps := make([]string, 0, len(desc.Capabilities))
				for _, tag := range desc.Capabilities {
					caps = append(caps, string(tag))
				}
				var strengths []string
				for _, cat := range command.Categories() {
					if s, ok := desc.Strength[string(cat)]; ok {
						strengths = append(strengths, fmt.Sprintf("%s=%.2f", cat, s))
					}
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n",
					desc.ID, strings.Join(caps, ","), strings.Join(strengths, ","), desc.Cost, desc.SupportsRealtime)
			}
			return w.Flush()
		},
	}
}

func ledgerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ledger",
		Short: "Dump the persisted performance ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			led, err := ledger.Open(ledger.Options{Path: cfg.LedgerPath})
			if err != nil {
				return err
			}

			keys := led.Keys()
			if len(keys) == 0 {
				fmt.Println("Ledger is empty.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "BACKEND\tCATEGORY\tPARAM\tSUCCESS RATE\tSAMPLES\tUPDATED")
			for _, key := range keys {
				e, _ := led.Entry(key)
				backendID, category, param := ledger.DescribeKey(key)
				fmt.Fprintf(w, "%s\t%s\t%s\t%.3f\t%d\t%s\n",
					backendID, category, param, e.SuccessRate, e.SampleCount, e.LastUpdated.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

// buildRegistry registers the demo engines plus any remote engines given as
// id=baseURL. Remote engines declare every tag; unsupported calls surface as
// not-implemented failures and fall back to the next candidate.
func buildRegistry(remotes []string) (*registry.Registry, error) {
	reg := registry.New()

	harmonia := backend.NewMockEngine("harmonia")
	if err := reg.Register(backend.Descriptor{
		ID: "harmonia",
		Capabilities: []backend.Tag{
			backend.TagProduceSequence,
			backend.TagAnalyzeSequence,
			backend.TagSuggestArrangement,
		},
		Strength: map[string]float64{"generation": 0.85, "analysis": 0.60},
		Cost:     backend.CostMedium,
	}, harmonia); err != nil {
		return nil, err
	}

	contrapunto := backend.NewMockEngine("contrapunto")
	if err := reg.Register(backend.Descriptor{
		ID: "contrapunto",
		Capabilities: []backend.Tag{
			backend.TagAnalyzeSequence,
			backend.TagTranscribeAudio,
		},
		Strength:         map[string]float64{"analysis": 0.90, "transcription": 0.80},
		SupportsRealtime: true,
		Cost:             backend.CostLow,
	}, contrapunto); err != nil {
		return nil, err
	}

	timbrelab := backend.NewMockEngine("timbrelab")
	if err := reg.Register(backend.Descriptor{
		ID: "timbrelab",
		Capabilities: []backend.Tag{
			backend.TagRenderTimbre,
			backend.TagProduceSequence,
		},
		Strength: map[string]float64{"synthesis": 0.90, "generation": 0.40},
		Cost:     backend.CostHigh,
	}, timbrelab); err != nil {
		return nil, err
	}

	for _, spec := range remotes {
		id, baseURL, ok := strings.Cut(spec, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --remote %q, want id=baseURL", spec)
		}
		engine, err := backend.NewBridgeEngine(id, baseURL)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(backend.Descriptor{
			ID:           id,
			Capabilities: backend.Tags(),
			Cost:         backend.CostMedium,
		}, engine); err != nil {
			return nil, err
		}
	}

	return reg, nil
}

func parseParams(flags []string) (map[string]any, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	params := make(map[string]any, len(flags))
	for _, flag := range flags {
		key, raw, ok := strings.Cut(flag, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --param %q, want key=value", flag)
		}
		params[key] = coerceScalar(raw)
	}
	return params, nil
}

func coerceScalar(raw string) any {
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

func printSnapshot(snap coordinator.Snapshot) {
	fmt.Printf("command: %s\n", snap.CommandID)
	fmt.Printf("status: %s\n", snap.Status)
	if snap.SelectedBackend != "" {
		fmt.Printf("backend: %s\n", snap.SelectedBackend)
	}
	for _, step := range snap.Steps {
		line := fmt.Sprintf("  step %-12s %-11s %s", step.Name, step.Status, step.Duration.Round(time.Millisecond))
		if step.Err != nil {
			line += " (" + step.Err.Error() + ")"
		}
		fmt.Println(line)
	}
	if snap.Err != nil {
		fmt.Printf("error: %v\n", snap.Err)
	}
	if snap.Artifact != nil {
		data, err := json.MarshalIndent(snap.Artifact, "", "  ")
		if err == nil {
			fmt.Printf("artifact:\n%s\n", data)
		}
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level := zerolog.InfoLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
}

func openDecisionLog(cfg *config.Config) (*declog.Log, func(), error) {
	if cfg.DecisionLogPath == "" {
		return declog.Nop(), func() {}, nil
	}
	f, err := os.OpenFile(cfg.DecisionLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("open decision log: %w", err)
	}
	return declog.New(f), func() { f.Close() }, nil
}
