package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cubeo/internal/app"
	"cubeo/internal/config"
	"cubeo/internal/cubeo"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Translate", "Sync").
func newApp(ctx context.Context, operation string) (*app.App, error) {
	paths, err := app.DefaultPaths()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.Load(paths.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.New(ctx, cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// readPassphrase prompts on the terminal without echo. When stdin is not a
// terminal, the first line of stdin is used.
func readPassphrase(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

func printCounts(counts map[cubeo.Collection]int) {
	for _, c := range cubeo.Collections {
		fmt.Printf("  %-10s %d\n", c, counts[c])
	}
}

var rootCmd = &cobra.Command{
	Use:          "cubeo",
	Short:        "Offline-first Spanish–Pamiwa translator",
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
		paths, err := app.DefaultPaths()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(paths.BaseDir)
		cfg.LogDir = paths.LogDir
		cfg.Remote.FSRoot = paths.CorpusDir
		cfg.Corrections.SubmitterID = uuid.New().String()

		if err := config.Init(paths.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", paths.ConfigPath)
		fmt.Printf("Submitter ID: %s\n", cfg.Corrections.SubmitterID)
		fmt.Printf("Base Dir: %s\n", cfg.BaseDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := app.DefaultPaths()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.Load(paths.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", paths.ConfigPath)
		fmt.Printf("Base Dir:     %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:      %s\n", cfg.LogDir)
		fmt.Printf("Database:     %s\n", cfg.Database.Type)
		fmt.Printf("Remote:       %s\n", cfg.Remote.Type)
		fmt.Printf("Translator:   %s %s\n", cfg.Translator.Type, cfg.Translator.BaseURL)
		fmt.Printf("Submitter ID: %s\n", cfg.Corrections.SubmitterID)
		return nil
	},
}

// translate command
var translateCmd = &cobra.Command{
	Use:   "translate TEXT...",
	Short: "Translate text",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("dir")
		mode, _ := cmd.Flags().GetString("mode")
		verbose, _ := cmd.Flags().GetBool("verbose")

		a, err := newApp(cmd.Context(), "Translate")
		if err != nil {
			return err
		}
		defer a.Close()

		t, err := a.Translate(cmd.Context(), strings.Join(args, " "), dir, mode)
		if err != nil {
			return err
		}

		fmt.Println(t.Text)
		if t.Literal != "" && t.Literal != t.Text {
			fmt.Printf("literal: %s\n", t.Literal)
		}
		if !verbose {
			return nil
		}

		cached := ""
		if t.FromCache {
			cached = " (cached)"
		}
		fmt.Printf("\nmethod:     %s%s\n", t.Method, cached)
		fmt.Printf("confidence: %.2f\n", t.Confidence)
		fmt.Printf("elapsed:    %s\n", t.Elapsed.Truncate(time.Millisecond))
		if t.CorrectionID != "" {
			fmt.Printf("correction: %s\n", t.CorrectionID)
		}
		if t.NeedsExpertValidation {
			fmt.Println("review:     needs expert validation")
		}
		for _, w := range t.Words {
			fmt.Printf("  %-15s %-15s %.2f  %s\n", w.Original, w.Translation, w.Confidence, w.Category)
		}
		for _, s := range t.Similar {
			fmt.Printf("  ~ %.2f  %s → %s\n", s.Score, s.Source, s.Target)
		}
		for _, s := range t.Suggestions {
			fmt.Printf("  * %s\n", s)
		}
		return nil
	},
}

// correct command
var correctCmd = &cobra.Command{
	Use:   "correct TEXT",
	Short: "Submit a correction for a translation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dirFlag, _ := cmd.Flags().GetString("dir")
		ai, _ := cmd.Flags().GetString("translation")
		correction, _ := cmd.Flags().GetString("correction")
		method, _ := cmd.Flags().GetString("method")

		dir, err := cubeo.ParseDirection(dirFlag)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "SubmitCorrection")
		if err != nil {
			return err
		}
		defer a.Close()

		c, verdict, err := a.SubmitCorrection(cmd.Context(), cubeo.Submission{
			OriginalText:   args[0],
			AITranslation:  ai,
			Correction:     correction,
			Direction:      dir,
			OriginalMethod: cubeo.Method(method),
		})
		if err != nil {
			return err
		}

		fmt.Printf("Correction %s recorded and applied\n", c.ID)
		if verdict != cubeo.VerdictValid {
			fmt.Printf("Warning: %s; an expert will review it\n", verdict)
		}
		return nil
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull the remote corpus",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		ifNeeded, _ := cmd.Flags().GetBool("if-needed")

		a, err := newApp(cmd.Context(), "Sync")
		if err != nil {
			return err
		}
		defer a.Close()

		counts, err := a.Sync(cmd.Context(), force, ifNeeded)
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
		if counts == nil {
			fmt.Println("Corpus is up to date.")
			return nil
		}

		fmt.Println("Synced:")
		printCounts(counts)
		return nil
	},
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "View sync status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "SyncStatus")
		if err != nil {
			return err
		}
		defer a.Close()

		stats, needed, err := a.SyncStatus(cmd.Context())
		if err != nil {
			return err
		}

		for _, c := range stats.Collections {
			last := "never"
			if !c.LastSync.IsZero() {
				last = c.LastSync.Local().Format("2006-01-02 15:04:05")
			}
			fmt.Printf("%-10s  %6d active  %6d pulled  %-11s  %s\n", c.Collection, c.Active, c.TotalRecords, c.Status, last)
		}
		if needed {
			fmt.Println("\nA sync is due.")
		}
		return nil
	},
}

// watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Apply remote corpus changes as they happen",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Watch")
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Println("Watching for corpus changes. Press Ctrl-C to stop.")
		return a.Watch(cmd.Context(), func(s cubeo.SyncState) {
			switch s := s.(type) {
			case cubeo.SyncInProgress:
				fmt.Printf("[%3d%%] %s\n", s.Percent, s.Message)
			case cubeo.SyncError:
				fmt.Printf("sync error: %s\n", s.Message)
			case cubeo.SyncSuccess:
				fmt.Println("Initial sync complete.")
			}
		})
	},
}

// corrections command
var correctionsCmd = &cobra.Command{
	Use:   "corrections",
	Short: "Manage user corrections",
}

var correctionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List corrections",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context(), "ListCorrections")
		if err != nil {
			return err
		}
		defer a.Close()

		cs, err := a.ListCorrections(cmd.Context(), strings.ToUpper(status), limit)
		if err != nil {
			return err
		}

		if len(cs) == 0 {
			fmt.Println("No corrections.")
			return nil
		}

		for _, c := range cs {
			fmt.Printf("%s  %s  %-8s  %d reports  %q → %q\n",
				c.ID,
				c.Timestamp.Local().Format("2006-01-02 15:04:05"),
				c.Status,
				c.ReportCount,
				c.OriginalText,
				c.EffectiveText(),
			)
		}
		return nil
	},
}

var correctionsReviewCmd = &cobra.Command{
	Use:   "review ID",
	Short: "Approve, reject or edit a correction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		approve, _ := cmd.Flags().GetBool("approve")
		reject, _ := cmd.Flags().GetBool("reject")
		edit, _ := cmd.Flags().GetString("edit")
		comment, _ := cmd.Flags().GetString("comment")

		d := cubeo.Decision{CorrectionID: args[0], Comment: comment}
		switch {
		case approve && !reject && edit == "":
			d.Status = cubeo.StatusApproved
		case reject && !approve && edit == "":
			d.Status = cubeo.StatusRejected
		case edit != "" && !approve && !reject:
			d.Status = cubeo.StatusEdited
			d.EditedText = edit
		default:
			return errors.New("exactly one of --approve, --reject or --edit is required")
		}

		a, err := newApp(cmd.Context(), "ReviewCorrection")
		if err != nil {
			return err
		}
		defer a.Close()

		c, err := a.ReviewCorrection(cmd.Context(), d)
		if err != nil {
			return err
		}
		fmt.Printf("Correction %s is now %s\n", c.ID, c.Status)
		return nil
	},
}

var correctionsReportCmd = &cobra.Command{
	Use:   "report ID",
	Short: "Report a wrong correction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "ReportCorrection")
		if err != nil {
			return err
		}
		defer a.Close()

		c, err := a.ReportCorrection(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Correction %s has %d report(s)\n", c.ID, c.ReportCount)
		if !c.AppliedImmediately {
			fmt.Println("It is no longer served.")
		}
		return nil
	},
}

var correctionsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export pending corrections as an encrypted review bundle",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context(), "ExportReview")
		if err != nil {
			return err
		}
		defer a.Close()

		f, err := os.OpenFile(out, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
		if err != nil {
			return fmt.Errorf("creating bundle: %w", err)
		}

		n, err := a.ExportReview(cmd.Context(), f, limit)
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("closing bundle: %w", cerr)
		}
		if err != nil {
			os.Remove(out)
			return err
		}

		fmt.Printf("Exported %d correction(s) to %s\n", n, out)
		return nil
	},
}

var correctionsApplyCmd = &cobra.Command{
	Use:   "apply DECISIONS",
	Short: "Apply a reviewed decisions file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "ApplyDecisions")
		if err != nil {
			return err
		}
		defer a.Close()

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening decisions: %w", err)
		}
		defer f.Close()

		n, err := a.ApplyDecisions(cmd.Context(), f)
		fmt.Printf("Applied %d decision(s)\n", n)
		return err
	},
}

// review command
var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Expert reviewer tools",
}

var reviewKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Generate the reviewer key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "SetupReviewKeys")
		if err != nil {
			return err
		}
		defer a.Close()

		pass, err := readPassphrase("Reviewer passphrase: ")
		if err != nil {
			return err
		}
		if term.IsTerminal(int(os.Stdin.Fd())) {
			again, err := readPassphrase("Repeat passphrase: ")
			if err != nil {
				return err
			}
			if again != pass {
				return errors.New("passphrases do not match")
			}
		}

		if err := a.SetupReviewKeys(pass); err != nil {
			return err
		}
		fmt.Println("Reviewer keys created.")
		return nil
	},
}

var reviewOpenCmd = &cobra.Command{
	Use:   "open BUNDLE",
	Short: "Decrypt a review bundle and write a decisions template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")

		a, err := newApp(cmd.Context(), "OpenReview")
		if err != nil {
			return err
		}
		defer a.Close()

		in, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening bundle: %w", err)
		}
		defer in.Close()

		pass, err := readPassphrase("Reviewer passphrase: ")
		if err != nil {
			return err
		}

		f, err := os.OpenFile(out, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
		if err != nil {
			return fmt.Errorf("creating decisions file: %w", err)
		}
		defer f.Close()

		b, err := a.OpenReview(pass, in, f)
		if err != nil {
			os.Remove(out)
			return err
		}

		for _, item := range b.Corrections {
			fmt.Printf("%s  [%s]  %q\n    model:      %s\n    correction: %s\n",
				item.ID, item.Direction, item.OriginalText, item.AITranslation, item.Correction)
		}
		fmt.Printf("\nFill in the status of each decision in %s, then run: cubeo corrections apply %s\n", out, out)
		return nil
	},
}

// cache command
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the translation cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "View corpus and cache sizes",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "CacheStats")
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := a.CacheStats(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Words:     %d\n", s.Words)
		fmt.Printf("Sentences: %d\n", s.Sentences)
		fmt.Printf("Cached:    %d\n", s.CacheSize)
		return nil
	},
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove expired cache entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "PruneCache")
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.PruneCache(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d expired entries\n", n)
		return nil
	},
}

// corpus command
var corpusCmd = &cobra.Command{
	Use:   "corpus",
	Short: "Manage the remote corpus",
}

var corpusPushCmd = &cobra.Command{
	Use:   "push FILE",
	Short: "Publish documents from a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "PushCorpus")
		if err != nil {
			return err
		}
		defer a.Close()

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening corpus file: %w", err)
		}
		defer f.Close()

		counts, err := a.PushCorpus(cmd.Context(), f)
		if err != nil {
			return err
		}
		fmt.Println("Published:")
		printCounts(counts)
		return nil
	},
}

// health command
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the remote translation model",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Health")
		if err != nil {
			return err
		}
		defer a.Close()

		h, err := a.Health(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Status: %s\n", h.Status)
		fmt.Printf("Model loaded: %t\n", h.ModelLoaded)
		return nil
	},
}

// db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the local database",
}

var dbBackupCmd = &cobra.Command{
	Use:   "backup PATH",
	Short: "Write a snapshot of the local database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "BackupDatabase")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.BackupDatabase(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Database written to %s\n", args[0])
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// sync subcommands
	syncCmd.AddCommand(syncStatusCmd)
	syncCmd.Flags().Bool("force", false, "Clear the local corpus and pull everything")
	syncCmd.Flags().Bool("if-needed", false, "Skip the pull when the corpus is fresh")
	syncCmd.MarkFlagsMutuallyExclusive("force", "if-needed")

	// corrections subcommands
	correctionsCmd.AddCommand(correctionsListCmd)
	correctionsListCmd.Flags().StringP("status", "s", "", "Only show corrections with this status")
	correctionsListCmd.Flags().IntP("limit", "n", 50, "Maximum number of corrections to show")
	correctionsCmd.AddCommand(correctionsReviewCmd)
	correctionsReviewCmd.Flags().Bool("approve", false, "Approve the correction")
	correctionsReviewCmd.Flags().Bool("reject", false, "Reject the correction")
	correctionsReviewCmd.Flags().String("edit", "", "Replace the correction with this text")
	correctionsReviewCmd.Flags().String("comment", "", "Reviewer comment")
	correctionsCmd.AddCommand(correctionsReportCmd)
	correctionsCmd.AddCommand(correctionsExportCmd)
	correctionsExportCmd.Flags().StringP("out", "o", "review.age", "Bundle file to create")
	correctionsExportCmd.Flags().IntP("limit", "n", 0, "Maximum number of corrections to export")
	correctionsCmd.AddCommand(correctionsApplyCmd)

	// review subcommands
	reviewCmd.AddCommand(reviewKeysCmd)
	reviewCmd.AddCommand(reviewOpenCmd)
	reviewOpenCmd.Flags().StringP("out", "o", "decisions.json", "Decisions template to create")

	// cache subcommands
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cachePruneCmd)

	// corpus subcommands
	corpusCmd.AddCommand(corpusPushCmd)

	// db subcommands
	dbCmd.AddCommand(dbBackupCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(translateCmd)
	translateCmd.Flags().StringP("dir", "d", "es-pam", "Direction: es-pam or pam-es")
	translateCmd.Flags().StringP("mode", "m", "natural", "Mode: natural, literal or both")
	translateCmd.Flags().BoolP("verbose", "v", false, "Show method, confidence and word breakdown")
	rootCmd.AddCommand(correctCmd)
	correctCmd.Flags().StringP("dir", "d", "es-pam", "Direction: es-pam or pam-es")
	correctCmd.Flags().StringP("translation", "t", "", "The translation being corrected")
	correctCmd.Flags().StringP("correction", "c", "", "The corrected translation")
	correctCmd.Flags().String("method", "", "Method that produced the translation")
	_ = correctCmd.MarkFlagRequired("correction")
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(correctionsCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(corpusCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(dbCmd)
}
