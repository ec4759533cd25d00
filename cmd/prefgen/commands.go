package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/prefgen/internal/config"
	"github.com/kalambet/prefgen/internal/generate"
	xlog "github.com/kalambet/prefgen/internal/log"
	"github.com/kalambet/prefgen/internal/prefs"
	"github.com/kalambet/prefgen/internal/presets"
	"github.com/kalambet/prefgen/internal/source"
	"github.com/kalambet/prefgen/internal/storage"
)

var noColor bool

// app carries state shared by subcommands of one invocation.
type app struct {
	cfg      config.Config
	logLevel string
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "prefgen",
		Short:         "Generate browser preference override files",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a.cfg = cfg
			level := cfg.Log.Level
			if a.logLevel != "" {
				level = a.logLevel
			}
			xlog.Configure(xlog.Config{Level: level, Format: cfg.Log.Format})

			logger := xlog.Base().With().Str("command", cmd.CommandPath()).Logger()
			cmd.SetContext(xlog.WithContext(cmd.Context(), logger))
			return nil
		},
	}
	root.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(
		a.generateCmd(),
		a.checkCmd(),
		a.showCmd(),
		a.overrideCmd(),
		a.historyCmd(),
		a.presetsCmd(),
		a.configCmd(),
	)
	return root
}

func (a *app) openStore() (*storage.Store, error) {
	store, err := storage.Open(a.cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return store, nil
}

// --- generate / check ---

type targetFlags struct {
	out      string
	presets  []string
	sources  []string
	profile  string
	header   string
	sort     bool
	manifest string
}

func (f *targetFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.out, "out", "o", "", "output file (default from output.path)")
	cmd.Flags().StringArrayVar(&f.presets, "preset", nil, "built-in preset to include (repeatable)")
	cmd.Flags().StringArrayVarP(&f.sources, "source", "s", nil, "override source file: .toml, .yaml, .json or .js (repeatable)")
	cmd.Flags().StringVar(&f.profile, "profile", "", "stored override profile to include")
	cmd.Flags().StringVar(&f.header, "header", "", "header comment (default from output.header)")
	cmd.Flags().BoolVar(&f.sort, "sort", false, "sort declarations by key")
	cmd.Flags().StringVar(&f.manifest, "manifest", "", "TOML manifest listing several targets")
}

func (f *targetFlags) targets(cmd *cobra.Command, cfg config.Config) ([]generate.Target, error) {
	if f.manifest != "" {
		if f.out != "" || len(f.presets) > 0 || len(f.sources) > 0 || f.profile != "" {
			return nil, errors.New("--manifest cannot be combined with --out, --preset, --source or --profile")
		}
		m, err := source.LoadManifest(f.manifest)
		if err != nil {
			return nil, err
		}
		if len(m.Targets) == 0 {
			return nil, fmt.Errorf("manifest %s defines no targets", f.manifest)
		}
		targets := make([]generate.Target, 0, len(m.Targets))
		for _, spec := range m.Targets {
			t := generate.TargetFromSpec(spec)
			t.SortKeys = t.SortKeys || f.sort || cfg.Render.SortKeys
			targets = append(targets, t)
		}
		return targets, nil
	}

	if len(f.presets) == 0 && len(f.sources) == 0 && f.profile == "" {
		return nil, errors.New("one of --preset, --source, --profile or --manifest is required")
	}
	t := generate.Target{
		Output:   f.out,
		Header:   f.header,
		Presets:  f.presets,
		Sources:  f.sources,
		Profile:  f.profile,
		SortKeys: f.sort || cfg.Render.SortKeys,
	}
	if t.Output == "" {
		t.Output = cfg.Output.Path
	}
	if !cmd.Flags().Changed("header") {
		t.Header = cfg.Output.Header
	}
	return []generate.Target{t}, nil
}

// generator opens the catalog when possible. The catalog is only required
// when a target reads a profile.
func (a *app) generator(targets []generate.Target) (*generate.Generator, *storage.Store, func(), error) {
	needProfile := false
	for _, t := range targets {
		if t.Profile != "" {
			needProfile = true
		}
	}
	store, err := a.openStore()
	if err != nil {
		if needProfile {
			return nil, nil, nil, err
		}
		logger := xlog.WithComponent("cli")
		logger.Warn().Err(err).Msg("catalog unavailable, generation history will not be recorded")
		return generate.New(nil), nil, func() {}, nil
	}
	return generate.New(store), store, func() { store.Close() }, nil
}

func (a *app) generateCmd() *cobra.Command {
	var (
		f      targetFlags
		stdout bool
		watch  bool
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write preference override files",
		Long: `Write preference override files.

Examples:
  prefgen generate --preset plasma-integration --out /usr/lib/firefox/defaults/pref/kde.js
  prefgen generate --source overrides.toml --profile desktop --stdout
  prefgen generate --manifest prefgen.toml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			targets, err := f.targets(cmd, a.cfg)
			if err != nil {
				return err
			}
			if (stdout || watch) && len(targets) != 1 {
				return errors.New("--stdout and --watch need a single target")
			}

			g, _, closeStore, err := a.generator(targets)
			if err != nil {
				return err
			}
			defer closeStore()
			ctx := cmd.Context()

			switch {
			case stdout:
				data, _, err := g.Render(ctx, targets[0])
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			case watch:
				printStep("Watching %d source file(s) for %s", len(targets[0].Sources), targets[0].Output)
				return g.Watch(ctx, targets[0], a.cfg.DebounceDuration(), func(r generate.Result, err error) {
					if err != nil {
						printError("%v", err)
						return
					}
					reportResult(r)
				})
			}

			results, err := g.WriteAll(ctx, targets, a.cfg.Generate.Concurrency)
			if err != nil {
				return err
			}
			for _, r := range results {
				reportResult(r)
			}
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&stdout, "stdout", false, "print the generated file instead of writing it")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "regenerate whenever a source file changes")
	return cmd
}

func reportResult(r generate.Result) {
	if r.Changed {
		printSuccess("Wrote %s (%d overrides)", r.Path, r.Overrides)
		return
	}
	printStatus(r.Path, "up to date")
}

func (a *app) checkCmd() *cobra.Command {
	var f targetFlags
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify generated files are up to date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			targets, err := f.targets(cmd, a.cfg)
			if err != nil {
				return err
			}
			g, store, closeStore, err := a.generator(targets)
			if err != nil {
				return err
			}
			defer closeStore()

			ctx := cmd.Context()
			results, err := g.CheckAll(ctx, targets, a.cfg.Generate.Concurrency)
			if err != nil && !errors.Is(err, generate.ErrDrift) {
				return err
			}
			for _, r := range results {
				if r.Changed {
					printWarning("%s is out of date", r.Path)
					if store == nil {
						continue
					}
					if last, lerr := store.LatestGeneration(ctx, r.Target); lerr == nil {
						printStatus("last generated", "%s (%s)",
							last.CreatedAt.Local().Format(time.DateTime), last.Digest[:min(12, len(last.Digest))])
					}
				} else {
					printSuccess("%s is up to date", r.Path)
				}
			}
			return err
		},
	}
	f.register(cmd)
	return cmd
}

// --- show ---

type overrideJSON struct {
	Key     string `json:"key"`
	Type    string `json:"type"`
	Value   any    `json:"value"`
	Kind    string `json:"kind"`
	Locked  bool   `json:"locked,omitempty"`
	Comment string `json:"comment,omitempty"`
}

func toJSON(o prefs.Override) overrideJSON {
	kind := o.Kind
	if kind == "" {
		kind = prefs.KindDefault
	}
	return overrideJSON{
		Key:     o.Key,
		Type:    o.Value.Type().String(),
		Value:   o.Value.Interface(),
		Kind:    string(kind),
		Locked:  o.Locked,
		Comment: o.Comment,
	}
}

func (a *app) showCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <file>",
		Short: "Print the overrides declared in a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := source.LoadFile(args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if asJSON {
				list := make([]overrideJSON, 0, doc.Set.Len())
				for _, o := range doc.Set.Overrides() {
					list = append(list, toJSON(o))
				}
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{"header": doc.Header, "overrides": list})
			}
			if doc.Set.Len() == 0 {
				fmt.Fprintln(w, "No overrides found.")
				return nil
			}
			printOverrides(w, doc.Set.Overrides())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func printOverrides(w io.Writer, overrides []prefs.Override) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, o := range overrides {
		flags := string(o.Kind)
		if flags == "" {
			flags = string(prefs.KindDefault)
		}
		if o.Locked {
			flags += ",locked"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", colorize(colorBold, o.Key), o.Value.Type(), o.Value, flags)
	}
	tw.Flush()
}

// --- override ---

func (a *app) overrideCmd() *cobra.Command {
	var profile string
	cmd := &cobra.Command{
		Use:   "override",
		Short: "Manage stored override profiles",
	}
	cmd.PersistentFlags().StringVarP(&profile, "profile", "p", storage.DefaultProfile, "profile name")

	var (
		typ     string
		comment string
		kind    string
		locked  bool
	)
	setCmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store an override",
		Long: `Store an override in a profile.

Without --type the value is read as a bool for true/false, an int for
decimal integers, and a string otherwise.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, raw := args[0], args[1]

			var v prefs.Value
			if typ == "" {
				v = prefs.InferValue(raw)
			} else {
				vt, err := prefs.ParseValueType(typ)
				if err != nil {
					return err
				}
				if v, err = prefs.ParseValue(vt, raw); err != nil {
					return err
				}
			}
			k, err := prefs.ParseKind(kind)
			if err != nil {
				return err
			}

			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			rec, err := store.PutOverride(cmd.Context(), profile, prefs.Override{
				Key: key, Value: v, Comment: comment, Kind: k, Locked: locked,
			})
			if err != nil {
				return err
			}
			printSuccess("Set %s = %s in %s", key, v, rec.Profile)
			return nil
		},
	}
	setCmd.Flags().StringVarP(&typ, "type", "t", "", "value type: bool, int or string")
	setCmd.Flags().StringVarP(&comment, "comment", "c", "", "comment written above the declaration")
	setCmd.Flags().StringVar(&kind, "kind", "", "declaration function: pref, user_pref or sticky_pref")
	setCmd.Flags().BoolVar(&locked, "locked", false, "mark the preference locked")

	rmCmd := &cobra.Command{
		Use:     "rm <key>",
		Aliases: []string{"remove", "delete"},
		Short:   "Remove a stored override",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.DeleteOverride(cmd.Context(), profile, args[0]); err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return fmt.Errorf("%s is not set in profile %s", args[0], profile)
				}
				return err
			}
			printSuccess("Removed %s from %s", args[0], profile)
			return nil
		},
	}

	var asJSON bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored overrides",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			set, err := store.ListOverrides(cmd.Context(), profile)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if asJSON {
				list := make([]overrideJSON, 0, set.Len())
				for _, o := range set.Overrides() {
					list = append(list, toJSON(o))
				}
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(list)
			}
			if set.Len() == 0 {
				fmt.Fprintf(w, "No overrides in profile %s.\n", profile)
				return nil
			}
			printOverrides(w, set.Overrides())
			return nil
		},
	}
	listCmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")

	importCmd := &cobra.Command{
		Use:   "import <file>...",
		Short: "Store every override declared in source files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			for _, path := range args {
				doc, err := source.LoadFile(path)
				if err != nil {
					return err
				}
				n, err := store.PutSet(cmd.Context(), profile, doc.Set)
				if err != nil {
					return err
				}
				printSuccess("Imported %d overrides from %s into %s", n, path, profile)
			}
			return nil
		},
	}

	profilesCmd := &cobra.Command{
		Use:   "profiles",
		Short: "List stored profile names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			names, err := store.Profiles(cmd.Context())
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}

	cmd.AddCommand(setCmd, rmCmd, listCmd, importCmd, profilesCmd)
	return cmd
}

// --- history ---

func (a *app) historyCmd() *cobra.Command {
	var (
		target string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently generated files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			gens, err := store.ListGenerations(cmd.Context(), target, limit)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(gens) == 0 {
				fmt.Fprintln(w, "No generations recorded.")
				return nil
			}
			for _, g := range gens {
				fmt.Fprintf(w, "%s  %s  %s  %d overrides  %s\n",
					colorize(colorCyan, g.Digest[:min(12, len(g.Digest))]),
					g.CreatedAt.Local().Format(time.DateTime),
					g.Target,
					g.Overrides,
					g.Path,
				)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "only show this target")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of entries")
	return cmd
}

// --- presets ---

func (a *app) presetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List built-in presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			for _, name := range presets.Names() {
				p, _ := presets.Get(name)
				fmt.Fprintf(w, "%s  %s\n", colorize(colorBold, p.Name), p.Description)
				for _, o := range p.Overrides {
					fmt.Fprintf(w, "    %s\n", prefs.Declaration(o))
				}
			}
			return nil
		},
	}
}

// --- config ---

func (a *app) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or update configuration",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			keys := config.ShowAll(a.cfg)
			for _, k := range keys {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
			}
			return nil
		},
	}

	setCmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]
			if !slices.Contains(config.ValidKeys(), key) {
				return fmt.Errorf("unknown config key %q (valid keys: %s)", key, strings.Join(config.ValidKeys(), ", "))
			}

			if err := config.SetKey(key, value); err != nil {
				return err
			}

			printSuccess("Set %s = %s", key, value)
			return nil
		},
	}

	cmd.AddCommand(showCmd, setCmd)
	return cmd
}
