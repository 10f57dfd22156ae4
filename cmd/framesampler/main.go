package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/keagan/framesampler/internal/config"
	"github.com/keagan/framesampler/internal/logging"
	"github.com/keagan/framesampler/internal/pipeline"
	"github.com/keagan/framesampler/pkg/util"
)

var (
	cfgFile    string
	verbose    bool
	logFormat  string
	noProgress bool

	basePath  string
	budget    int
	clusters  int
	reference int
	seed      uint64
	policy    string
	imgFormat string

	forceInit bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		log.Error().Err(err).Msg("command failed")
		if errors.Is(err, config.ErrInvalidConfig) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "framesampler",
	Short: "framesampler - representative frame sampling for multi-camera annotation",
	Long: "Selects visually diverse frames from a reference camera with seeded k-means and " +
		"extracts the same frame indices from every camera of a recording session.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.Init(verbose, logFormat)

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		applyOverrides(cmd, cfg, args)

		ctx := config.WithConfig(cmd.Context(), cfg)
		cmd.SetContext(ctx)

		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	pf.StringVar(&logFormat, "log-format", logging.FormatConsole, "log format: console or json")

	for _, cmd := range []*cobra.Command{sampleCmd, selectCmd, probeCmd} {
		f := cmd.Flags()
		f.StringVarP(&basePath, "base", "b", "", "session folder containing the Videos folder")
	}
	for _, cmd := range []*cobra.Command{sampleCmd, selectCmd} {
		f := cmd.Flags()
		f.IntVarP(&budget, "budget", "n", 0, "number of frames to sample per camera")
		f.IntVarP(&clusters, "clusters", "k", 0, "number of clusters; must divide the budget")
		f.IntVarP(&reference, "reference", "r", 0, "index of the reference camera")
		f.Uint64Var(&seed, "seed", 0, "clustering seed")
		f.StringVar(&policy, "policy", "", "undersized partition policy: error, shrink or pad")
		f.BoolVar(&noProgress, "no-progress", false, "disable progress bars")
	}
	sampleCmd.Flags().StringVar(&imgFormat, "format", "", "frame image format: jpg or png")
	configInitCmd.Flags().BoolVar(&forceInit, "force", false, "overwrite an existing file")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)

	rootCmd.AddCommand(sampleCmd)
	rootCmd.AddCommand(selectCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(configCmd)
}

// applyOverrides copies explicitly set flags onto cfg. A positional argument is
// taken as the session folder.
func applyOverrides(cmd *cobra.Command, cfg *config.Config, args []string) {
	flags := cmd.Flags()
	if flags.Changed("base") {
		cfg.BasePath = basePath
	} else if len(args) == 1 && flags.Lookup("base") != nil {
		cfg.BasePath = args[0]
	}
	if flags.Changed("budget") {
		cfg.Budget = budget
	}
	if flags.Changed("clusters") {
		cfg.Clusters = clusters
	}
	if flags.Changed("reference") {
		cfg.ReferenceCamera = reference
	}
	if flags.Changed("seed") {
		cfg.Seed = seed
	}
	if flags.Changed("policy") {
		cfg.UndersizePolicy = policy
	}
	if flags.Changed("format") {
		cfg.Output.ImageFormat = imgFormat
	}
}

func newPipeline(cmd *cobra.Command) (*pipeline.Pipeline, error) {
	cfg := config.FromContext(cmd.Context())
	opts := []pipeline.Option{}
	if !noProgress && logFormat != logging.FormatJSON {
		opts = append(opts, pipeline.WithProgress(&terminalProgress{}))
	}
	return pipeline.New(logging.NewLogger(), cfg, opts...)
}

var sampleCmd = &cobra.Command{
	Use:   "sample [session folder]",
	Short: "Select frames on the reference camera and extract them from every camera",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pipe, err := newPipeline(cmd)
		if err != nil {
			return err
		}

		res, err := pipe.Run(cmd.Context())
		if err != nil {
			return fmt.Errorf("sampling failed: %w", err)
		}

		data := pterm.TableData{{"Camera", "Extracted", "Missing", "Folder"}}
		for _, c := range res.Cameras {
			data = append(data, []string{
				c.Name,
				strconv.Itoa(len(c.Extracted)),
				joinInts(c.Missing),
				c.Dir,
			})
		}
		if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
			return err
		}

		logger := logging.WithComponent("sample")
		logger.Info().
			Str("manifest", res.ManifestPath).
			Int("selected", len(res.Selection.Indices)).
			Msg("dataset written")

		return nil
	},
}

var selectCmd = &cobra.Command{
	Use:   "select [session folder]",
	Short: "Print the frame indices that would be sampled, without writing anything",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pipe, err := newPipeline(cmd)
		if err != nil {
			return err
		}

		plan, err := pipe.Plan(cmd.Context())
		if err != nil {
			return fmt.Errorf("selection failed: %w", err)
		}

		fmt.Printf("reference: %s (%d frames decoded)\n", plan.Reference.Name, plan.FramesDecoded)
		for _, p := range plan.Selection.Partitions {
			fmt.Printf("partition %d (%d members): %s\n", p.ID, p.Size, joinInts(p.Picked))
		}
		if len(plan.Selection.Padded) > 0 {
			fmt.Printf("padded: %s\n", joinInts(plan.Selection.Padded))
		}
		fmt.Printf("selected: %s\n", joinInts(plan.Selection.Indices))

		return nil
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe [session folder]",
	Short: "List the cameras of a session with their reported length",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pipe, err := newPipeline(cmd)
		if err != nil {
			return err
		}

		infos, err := pipe.Probe(cmd.Context())
		if err != nil {
			return err
		}

		data := pterm.TableData{{"#", "Camera", "Frames", "Size", "FPS", "Codec"}}
		for i, ci := range infos {
			if ci.Err != nil {
				data = append(data, []string{strconv.Itoa(i), ci.Camera.Name, "error", ci.Err.Error(), "", ""})
				continue
			}
			frames := strconv.Itoa(ci.Info.FrameCount)
			if ci.Info.FrameCountEstimated {
				frames = "~" + frames
			}
			data = append(data, []string{
				strconv.Itoa(i),
				ci.Camera.Name,
				frames,
				fmt.Sprintf("%dx%d", ci.Info.Width, ci.Info.Height),
				strconv.FormatFloat(ci.Info.FPS, 'f', 3, 64),
				ci.Info.VideoCodec,
			})
		}

		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Config management commands",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the default configuration",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "config.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if util.FileExists(path) && !forceInit {
			return fmt.Errorf("%s already exists, use --force to overwrite", path)
		}

		if err := config.Default().Save(path); err != nil {
			return err
		}
		log.Info().Str("path", path).Msg("config written")
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := yaml.Marshal(config.FromContext(cmd.Context()))
		if err != nil {
			return err
		}
		fmt.Print(string(data))
		return nil
	},
}

func joinInts(v []int) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}
