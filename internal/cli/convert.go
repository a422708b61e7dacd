package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/arkilian/nsys2chrome/internal/config"
	"github.com/arkilian/nsys2chrome/internal/convert"
	converrors "github.com/arkilian/nsys2chrome/internal/errors"
	"github.com/arkilian/nsys2chrome/internal/log"
	"github.com/arkilian/nsys2chrome/internal/storage"
	"github.com/arkilian/nsys2chrome/pkg/types"
)

var convertFlags struct {
	output     string
	types      []string
	noMetadata bool
	flows      bool
	beginEnd   bool
	workers    int
	publish    bool
}

func init() {
	cmd := &cobra.Command{
		Use:   "convert <export.sqlite>",
		Short: "Convert an export into a trace file",
		Long: "Convert an export into a trace file. The output is compressed when its name\n" +
			"ends in .gz, .zst or .sz.",
		Args: cobra.ExactArgs(1),
		RunE: runConvert,
	}
	f := cmd.Flags()
	f.StringVarP(&convertFlags.output, "output", "o", "", "Output trace path (default: <export>.json)")
	f.StringSliceVarP(&convertFlags.types, "types", "t", nil, "Activity types to emit (default: all)")
	f.BoolVar(&convertFlags.noMetadata, "no-metadata", false, "Omit process and thread name records")
	f.BoolVar(&convertFlags.flows, "flows", false, "Draw flow arrows from API calls to kernels")
	f.BoolVar(&convertFlags.beginEnd, "begin-end", false, "Emit NVTX start/end ranges as begin/end pairs")
	f.IntVarP(&convertFlags.workers, "workers", "w", 0, "Concurrent extractors (default from config)")
	f.BoolVar(&convertFlags.publish, "publish", false, "Upload the trace to the configured store")

	RootCmd.AddCommand(cmd)
}

func runConvert(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyConvertFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	opts, err := cfg.Options()
	if err != nil {
		return err
	}
	wopts, err := cfg.WriteOptions()
	if err != nil {
		return err
	}

	input := args[0]
	output := convertFlags.output
	if output == "" {
		output = strings.TrimSuffix(input, ".sqlite") + ".json"
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	copts := []convert.Option{
		convert.WithLogger(log.NamedSubLogger("convert")),
		convert.WithWorkers(cfg.Workers),
		convert.WithSingleReader(cfg.SingleReader),
		convert.WithWriteOptions(wopts),
	}
	if cfg.Publish.Enabled {
		p, err := storage.New(ctx, cfg.Publish.Config)
		if err != nil {
			return fmt.Errorf("failed to create publisher: %w", err)
		}
		copts = append(copts, convert.WithPublisher(p, cfg.Publish.Prefix))
	}

	res, err := convert.New(copts...).Convert(ctx, input, output, opts)
	if res != nil {
		printSummary(cmd.OutOrStdout(), res)
	}
	if err != nil && res != nil && converrors.IsRetryable(err) {
		return fmt.Errorf("trace kept at %s, publish again to retry: %w", res.Output.Path, err)
	}
	return err
}

func applyConvertFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("types") {
		cfg.Conversion.ActivityTypes = convertFlags.types
	}
	if f.Changed("no-metadata") {
		cfg.Conversion.IncludeMetadata = !convertFlags.noMetadata
	}
	if f.Changed("flows") {
		cfg.Conversion.IncludeFlows = convertFlags.flows
	}
	if f.Changed("begin-end") {
		cfg.Conversion.BeginEndRanges = convertFlags.beginEnd
	}
	if f.Changed("workers") {
		cfg.Workers = convertFlags.workers
	}
	if f.Changed("publish") {
		cfg.Publish.Enabled = convertFlags.publish
	}
}

func printSummary(w io.Writer, res *convert.Result) {
	fmt.Fprintf(w, "Wrote %s (%s, digest %s)\n",
		res.Output.Path, humanize.Bytes(uint64(res.Output.Bytes)), res.Output.Digest)

	elapsed := make(map[types.Category]time.Duration)
	for _, st := range res.Stats.Categories() {
		elapsed[st.Category] = st.Elapsed
	}
	for _, cat := range append(types.AllCategories(), types.CategoryFlow) {
		n, ok := res.Counts[cat]
		if !ok {
			continue
		}
		if d, timed := elapsed[cat]; timed && d > 0 {
			fmt.Fprintf(w, "  %-12s %s events in %s\n", cat, humanize.Comma(int64(n)), d.Round(time.Microsecond))
			continue
		}
		fmt.Fprintf(w, "  %-12s %s events\n", cat, humanize.Comma(int64(n)))
	}
	for _, warn := range res.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warn)
	}
	if res.Output.Published != nil {
		fmt.Fprintf(w, "Published %s\n", res.Output.Published.Key)
	}
	var stages []string
	for _, st := range res.Stats.Timings() {
		stages = append(stages, fmt.Sprintf("%s %s", st.Name, st.Elapsed.Round(time.Microsecond)))
	}
	if len(stages) > 0 {
		fmt.Fprintf(w, "Stages: %s\n", strings.Join(stages, ", "))
	}
	fmt.Fprintf(w, "Run %s finished in %s\n", res.RunID, res.Stats.Elapsed().Round(time.Millisecond))
}
