package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	goexpr "github.com/njchilds90/goexpr"
)

// --- Global Command Variables ---
var (
	configPath string
	workers    int
	verbose    bool
	freeNames  []string
	sweepVar   string
	xStart     float64
	xEnd       float64
	xSteps     int
	grid       bool
	yStart     float64
	yEnd       float64
	ySteps     int

	rootCmd = &cobra.Command{
		Use:          "goexpr",
		Short:        "Check, simplify and sample expression declarations",
		SilenceUsage: true,
	}

	checkCmd = &cobra.Command{
		Use:   "check [declarations file]",
		Short: "Report recursion and call errors in a declaration file",
		Args:  cobra.ExactArgs(1),
		RunE:  runCheck,
	}

	simplifyCmd = &cobra.Command{
		Use:   "simplify [declarations file] [variable]",
		Short: "Print the simplified form of a declared variable",
		Args:  cobra.ExactArgs(2),
		RunE:  runSimplify,
	}

	sampleCmd = &cobra.Command{
		Use:   "sample [declarations file] [variable]",
		Short: "Evaluate a declared variable over a 1-D range or a 2-D grid",
		Args:  cobra.ExactArgs(2),
		RunE:  runSample,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML sampler configuration")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log pipeline stages to stderr")

	simplifyCmd.Flags().StringSliceVar(&freeNames, "free", nil, "Names to leave unexpanded")

	sampleCmd.Flags().IntVarP(&workers, "workers", "w", 0, "Parallel workers (overrides config)")
	sampleCmd.Flags().StringVar(&sweepVar, "var", "x", "Sweep variable for 1-D sampling")
	sampleCmd.Flags().Float64Var(&xStart, "start", -1, "Start of the x range")
	sampleCmd.Flags().Float64Var(&xEnd, "end", 1, "End of the x range")
	sampleCmd.Flags().IntVar(&xSteps, "steps", 10, "Steps along x")
	sampleCmd.Flags().BoolVar(&grid, "grid", false, "Sample the x/y grid instead of a single sweep")
	sampleCmd.Flags().Float64Var(&yStart, "y-start", -1, "Start of the y range")
	sampleCmd.Flags().Float64Var(&yEnd, "y-end", 1, "End of the y range")
	sampleCmd.Flags().IntVar(&ySteps, "y-steps", 10, "Steps along y")

	rootCmd.AddCommand(checkCmd, simplifyCmd, sampleCmd)
}

func logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// loadDeclarations reads a YAML or JSON declaration list. JSON is a subset
// of YAML, so one decoder serves both.
func loadDeclarations(path string) (*goexpr.Context, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var decls []interface{}
	if err := yaml.Unmarshal(data, &decls); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return goexpr.DecodeDeclarations(decls)
}

func runCheck(cmd *cobra.Command, args []string) error {
	c, err := loadDeclarations(args[0])
	if err != nil {
		return err
	}
	violations := c.Check()
	out := cmd.OutOrStdout()
	if len(violations) == 0 {
		fmt.Fprintln(out, "ok")
		return nil
	}
	for _, v := range violations {
		fmt.Fprintln(out, v)
	}
	return fmt.Errorf("%d invalid declaration(s)", len(violations))
}

func runSimplify(cmd *cobra.Command, args []string) error {
	c, err := loadDeclarations(args[0])
	if err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return err
	}
	s := goexpr.NewSimplifier(goexpr.WithSimplifierLogger(logger(cmd.ErrOrStderr())))
	e, funcs, err := s.SimplifyVar(c, args[1], freeNames...)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, e)
	for _, name := range sortedFuncNames(funcs) {
		fmt.Fprintln(out, funcs[name])
	}
	return nil
}

func sortedFuncNames(funcs map[string]*goexpr.Func) []string {
	names := make([]string, 0, len(funcs))
	for name := range funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func samplerConfig() (goexpr.Config, error) {
	cfg := goexpr.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = goexpr.LoadConfig(configPath); err != nil {
			return cfg, err
		}
	}
	if workers > 0 {
		cfg.Workers = workers
	}
	return cfg, cfg.Validate()
}

func runSample(cmd *cobra.Command, args []string) error {
	c, err := loadDeclarations(args[0])
	if err != nil {
		return err
	}
	cfg, err := samplerConfig()
	if err != nil {
		return err
	}
	opts := append(cfg.Options(), goexpr.WithLogger(logger(cmd.ErrOrStderr())))
	s, err := goexpr.NewSampler(c, opts...)
	if err != nil {
		return err
	}

	target := args[1]
	xr := goexpr.Range{Start: xStart, End: xEnd}
	table := tablewriter.NewWriter(cmd.OutOrStdout())
	if !grid {
		points, err := s.Sample1D(cmd.Context(), target, sweepVar, xr, xSteps)
		if err != nil {
			return err
		}
		table.SetHeader([]string{sweepVar, target})
		for _, p := range points {
			table.Append([]string{formatFloat(p.X), formatValue(p.Value, p.OK, p.Err)})
		}
		table.Render()
		return nil
	}

	if sweepVar != "x" {
		return errors.New("--var cannot be combined with --grid; grids sweep x and y")
	}
	points, err := s.Sample2D(cmd.Context(), target, xr, xSteps, goexpr.Range{Start: yStart, End: yEnd}, ySteps)
	if err != nil {
		return err
	}
	table.SetHeader([]string{"x", "y", target})
	for _, p := range points {
		table.Append([]string{formatFloat(p.X), formatFloat(p.Y), formatValue(p.Value, p.OK, p.Err)})
	}
	table.Render()
	return nil
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'g', 6, 64) }

func formatValue(v goexpr.Term, ok bool, err error) string {
	switch {
	case err != nil:
		return "error: " + strings.TrimPrefix(err.Error(), "goexpr: ")
	case !ok:
		return "unresolved"
	}
	return v.String()
}
