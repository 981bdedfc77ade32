package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"backup-suite/internal/app"
	"backup-suite/internal/config"
	"backup-suite/internal/engine"
)

func main() {
	// Interrupts cancel the session; in-flight uploads finish first.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer a.Close().
func newApp(cmd *cobra.Command) (*app.App, error) {
	cfg, path, err := app.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	a, err := app.NewApp(cmd.Context(), cfg, app.Options{Verbose: verbose})
	if err != nil {
		return nil, fmt.Errorf("initializing app from %s: %w", path, err)
	}
	return a, nil
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	tbl := tablewriter.NewWriter(w)
	tbl.SetAutoFormatHeaders(false)
	tbl.SetAutoWrapText(false)
	tbl.SetBorder(false)
	tbl.SetHeader(header)
	return tbl
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// readPassphrase prompts on the terminal without echo. Non-terminal input
// is read as one line.
func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		var line string
		if _, err := fmt.Fscanln(os.Stdin, &line); err != nil {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
		return line, nil
	}
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

var rootCmd = &cobra.Command{
	Use:          "bsuite",
	Short:        "Tiered backup orchestration",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		fmt.Println("Next: run 'bsuite keys init' to create the encryption keys.")
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := app.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", path)
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Summary Dir: %s\n", cfg.SummaryDir)
		fmt.Printf("Manifest:    %s %s\n", cfg.Manifest.Type, cfg.Manifest.DataDir)
		fmt.Printf("Encryption:  %s\n", cfg.Encryption.Type)
		fmt.Printf("Profiles:    %s\n\n", strings.Join(cfg.ProfileNames(), ", "))

		tbl := newTable(os.Stdout, "Kind", "Name", "Enabled", "Location")
		for _, t := range cfg.Targets {
			location, _ := lo.Coalesce(t.BackupDirectory, t.SyncDirectory, t.S3Bucket)
			if t.Driver != "" {
				location = t.Driver
			}
			tbl.Append([]string{t.Kind, t.Name, strconv.FormatBool(t.Enabled), location})
		}
		tbl.Render()
		return nil
	},
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := app.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
		warnings, err := cfg.Validate()
		for _, w := range warnings {
			fmt.Printf("warning: %s\n", w)
		}
		if err != nil {
			return err
		}
		fmt.Printf("%s is valid\n", path)
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := app.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
		pass, err := readPassphrase("Passphrase for the private key: ")
		if err != nil {
			return err
		}
		again, err := readPassphrase("Repeat passphrase: ")
		if err != nil {
			return err
		}
		if pass != again {
			return errors.New("passphrases do not match")
		}
		if err := app.InitKeys(cfg, pass); err != nil {
			return err
		}
		fmt.Printf("Public key:  %s\n", cfg.Encryption.PublicKeyPath)
		fmt.Printf("Private key: %s (keep a copy somewhere safe)\n", cfg.Encryption.PrivateKeyPath)
		return nil
	},
}

var keysVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the passphrase unlocks the private key",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := app.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
		pass, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}
		if err := app.VerifyKeys(cfg, pass); err != nil {
			return err
		}
		fmt.Println("Key pair OK")
		return nil
	},
}

// run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a backup session",
	RunE: func(cmd *cobra.Command, args []string) error {
		profile, _ := cmd.Flags().GetString("profile")
		if dry, _ := cmd.Flags().GetBool("test"); dry {
			return planCmd.RunE(cmd, args)
		}

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		sess, err := a.Run(cmd.Context(), profile)
		if sess == nil {
			return err
		}

		c := sess.Counts
		fmt.Printf("Session %s: %s in %s\n", sess.ID, sess.State, sess.EndedAt.Sub(sess.StartedAt).Truncate(time.Millisecond))
		fmt.Printf("  files %d, uploaded %d, skipped %d, unrouted %d, failed %d\n",
			c.Files, c.Uploaded, c.Skipped, c.Unrouted, c.Failed)
		for _, e := range sess.Errors {
			fmt.Printf("  error [%s] %s\n", e.Kind, e.Message)
		}
		if err != nil {
			return err
		}
		if sess.State != engine.StateCompleted {
			return fmt.Errorf("session %s finished %s", sess.ID, sess.State)
		}
		return nil
	},
}

// plan command
var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show what a session would upload",
	RunE: func(cmd *cobra.Command, args []string) error {
		profile, _ := cmd.Flags().GetString("profile")

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		items, errs, err := a.Plan(cmd.Context(), profile)
		if err != nil {
			return err
		}

		tbl := newTable(os.Stdout, "Path", "Size", "Tiers", "Targets")
		uploads := 0
		for _, it := range items {
			targets := lo.Map(it.Targets, func(t engine.PlanTarget, _ int) string {
				if t.Action == "upload" {
					uploads++
				}
				return string(t.Kind) + ":" + t.Action
			})
			if len(targets) == 0 {
				targets = []string{"unrouted"}
			}
			tbl.Append([]string{it.Path, strconv.FormatInt(it.Size, 10), strings.Join(it.Tiers.Strings(), ","), strings.Join(targets, " ")})
		}
		tbl.Render()
		for _, e := range errs {
			fmt.Printf("warning: %v\n", e)
		}
		fmt.Printf("%d file(s), %d upload(s)\n", len(items), uploads)
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View session history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		sums, err := a.History(limit)
		if err != nil {
			return err
		}
		if len(sums) == 0 {
			fmt.Println("No sessions recorded.")
			return nil
		}

		tbl := newTable(os.Stdout, "Session", "Profile", "Started", "State", "Duration", "Files", "Failed")
		for _, s := range sums {
			tbl.Append([]string{
				s.BackupID,
				s.Profile,
				s.StartedAt.Local().Format("2006-01-02 15:04:05"),
				s.State,
				(time.Duration(s.DurationSeconds * float64(time.Second))).Truncate(time.Millisecond).String(),
				strconv.Itoa(s.FilesProcessed),
				strconv.Itoa(s.FilesFailed),
			})
		}
		tbl.Render()
		return nil
	},
}

// show command
var showCmd = &cobra.Command{
	Use:   "show SESSION",
	Short: "Print a session summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		sum, err := a.Summary(args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	},
}

// where command
var whereCmd = &cobra.Command{
	Use:   "where FILENAME",
	Short: "Show where a file is backed up",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		entry, err := a.Locate(args[0])
		if err != nil {
			return err
		}
		if entry == nil {
			fmt.Println("Not backed up.")
			return nil
		}

		fmt.Printf("%s  %s  last backup %s\n", entry.Path, shortHash(entry.ContentHash), entry.LastBackedUpAt.Local().Format("2006-01-02 15:04:05"))
		tbl := newTable(os.Stdout, "Backend", "Remote ID", "Content", "Backed Up", "Current")
		for _, kind := range engine.BackendKinds {
			loc, ok := entry.Locations[kind]
			if !ok {
				continue
			}
			tbl.Append([]string{
				string(kind),
				loc.RemoteID,
				shortHash(loc.ContentHash),
				loc.BackedUpAt.Local().Format("2006-01-02 15:04:05"),
				strconv.FormatBool(loc.ContentHash == entry.ContentHash),
			})
		}
		tbl.Render()
		return nil
	},
}

// manifest command
var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Inspect the manifest",
}

var manifestListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every backed up path",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.ManifestEntries()
		if err != nil {
			return err
		}
		tbl := newTable(os.Stdout, "Path", "Content", "Backends", "Last Backup")
		for _, e := range entries {
			kinds := lo.Filter(engine.BackendKinds, func(k engine.BackendKind, _ int) bool {
				_, ok := e.Locations[k]
				return ok
			})
			tbl.Append([]string{
				e.Path,
				shortHash(e.ContentHash),
				strings.Join(lo.Map(kinds, func(k engine.BackendKind, _ int) string { return string(k) }), ","),
				e.LastBackedUpAt.Local().Format("2006-01-02 15:04:05"),
			})
		}
		tbl.Render()
		return nil
	},
}

var manifestExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the manifest as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("output")

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.ManifestEntries()
		if err != nil {
			return err
		}

		w := io.Writer(os.Stdout)
		if out != "" {
			f, err := os.OpenFile(out, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
			if err != nil {
				return fmt.Errorf("creating export file: %w", err)
			}
			defer f.Close()
			w = f
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(entries); err != nil {
			return fmt.Errorf("writing export: %w", err)
		}
		return nil
	},
}

// targets command
var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "Manage storage targets",
}

var targetsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Healthcheck every enabled target",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		checks := a.CheckTargets(cmd.Context())
		tbl := newTable(os.Stdout, "Kind", "Name", "Status")
		failed := 0
		for _, c := range checks {
			status := "ok"
			if c.Err != nil {
				status = c.Err.Error()
				failed++
			}
			tbl.Append([]string{string(c.Kind), c.Name, status})
		}
		tbl.Render()
		if failed > 0 {
			return fmt.Errorf("%d of %d target(s) unavailable", failed, len(checks))
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configCheckCmd)

	// keys subcommands
	keysCmd.AddCommand(keysInitCmd)
	keysCmd.AddCommand(keysVerifyCmd)

	manifestCmd.AddCommand(manifestListCmd)
	manifestCmd.AddCommand(manifestExportCmd)
	manifestExportCmd.Flags().StringP("output", "o", "", "Write to a new file instead of stdout")

	targetsCmd.AddCommand(targetsCheckCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringP("profile", "p", "default", "Profile to back up")
	runCmd.Flags().Bool("test", false, "Plan only; upload nothing")
	rootCmd.AddCommand(planCmd)
	planCmd.Flags().StringP("profile", "p", "default", "Profile to plan")
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 20, "Maximum number of sessions to show")
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(whereCmd)
	rootCmd.AddCommand(manifestCmd)
	rootCmd.AddCommand(targetsCmd)
}
