package douget

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"douget/pkg/auth"
	"douget/pkg/config"
	"douget/pkg/engine"
	"douget/pkg/logger"
)

var (
	fetchURLs        []string
	fetchOutput      string
	fetchConcurrency int
	fetchForce       bool
	fetchCover       bool
	fetchMusic       bool
	fetchCookie      string
	fetchAccount     string
)

const summaryDurationUnit = 100 * time.Millisecond

var fetchCmd = &cobra.Command{
	Use:   "fetch [identifiers...]",
	Short: "Fetch videos and galleries from profiles or post links",
	Long: `Fetch downloads media from the given identifiers. An identifier is a
profile URL, a post URL, a bare post id, or a bare sec-uid. Profiles are
enumerated in full; posts already downloaded are skipped.

Examples:
  douget fetch https://www.douyin.com/user/MS4wLjABAAAA...
  douget fetch https://www.douyin.com/video/7123456789012345678
  douget fetch -u https://www.douyin.com/user/... -t 8 --cover`,
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().StringSliceVarP(&fetchURLs, "url", "u", nil, "target URL or identifier (repeatable)")
	fetchCmd.Flags().StringVarP(&fetchOutput, "output", "o", "", "output directory")
	fetchCmd.Flags().IntVarP(&fetchConcurrency, "concurrency", "t", 0, "number of concurrent downloads")
	fetchCmd.Flags().BoolVar(&fetchForce, "force", false, "re-fetch works even when already recorded")
	fetchCmd.Flags().BoolVar(&fetchCover, "cover", false, "also save video cover images")
	fetchCmd.Flags().BoolVar(&fetchMusic, "music", false, "also save background music tracks")
	fetchCmd.Flags().StringVar(&fetchCookie, "cookie", "", "cookie string (overrides stored credentials)")
	fetchCmd.Flags().StringVar(&fetchAccount, "account", "", "named credential to use")

	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	flags := map[string]interface{}{
		"urls":        fetchURLs,
		"cookie":      fetchCookie,
		"account":     fetchAccount,
		"output":      fetchOutput,
		"concurrency": fetchConcurrency,
		"force":       fetchForce,
		"cover":       fetchCover,
		"music":       fetchMusic,
		"log-level":   logLevelFromFlags(),
	}

	cfg, err := config.Load(cfgFile, flags)
	if err != nil {
		return err
	}

	if err := logger.Initialize(&cfg.Logging); err != nil {
		return err
	}
	log := logger.GetLogger()

	identifiers := append([]string{}, cfg.URLs...)
	identifiers = append(identifiers, args...)
	if len(identifiers) == 0 {
		return fmt.Errorf("no targets given: pass identifiers as arguments, with --url, or in the config file")
	}

	if cfg.Douyin.Cookie == "" {
		if err := loadStoredCookie(cfg, log); err != nil {
			log.WithError(err).Warn("no stored credentials, requests will be anonymous")
		}
	}

	eng, err := engine.New(cfg, log)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := eng.Run(ctx, identifiers)
	if summary != nil {
		printSummary(summary)
	}
	if err != nil {
		return err
	}

	if summary.Targets > 0 && len(summary.FailedTargets) == summary.Targets {
		return fmt.Errorf("all %d targets failed", summary.Targets)
	}
	return nil
}

// loadStoredCookie fills cfg.Douyin from the credential chain
func loadStoredCookie(cfg *config.Config, log logger.Logger) error {
	manager, err := auth.NewManager()
	if err != nil {
		return err
	}

	var set *auth.CookieSet
	if cfg.Douyin.Account != "" {
		set, err = manager.Retrieve(cfg.Douyin.Account)
	} else {
		set, err = manager.RetrieveDefault()
	}
	if err != nil {
		return err
	}

	cfg.Douyin.Cookie = set.Cookie
	if set.UserAgent != "" {
		cfg.Douyin.UserAgent = set.UserAgent
	}
	log.WithField("account", set.Name).Debug("using stored credentials")
	return nil
}

func printSummary(s *engine.Summary) {
	fmt.Println()
	fmt.Println("Run summary")
	fmt.Printf("  run id:      %s\n", s.RunID)
	fmt.Printf("  duration:    %s\n", s.Duration.Round(summaryDurationUnit))
	fmt.Printf("  enumerated:  %d\n", s.Enumerated)
	fmt.Printf("  skipped:     %d\n", s.Skipped)
	fmt.Printf("  downloaded:  %d\n", s.Success)
	if s.Partial > 0 {
		fmt.Printf("  partial:     %d\n", s.Partial)
	}
	if s.Failed > 0 {
		fmt.Printf("  failed:      %d\n", s.Failed)
	}

	if len(s.ErrorKinds) > 0 {
		kinds := make([]string, 0, len(s.ErrorKinds))
		for kind := range s.ErrorKinds {
			kinds = append(kinds, kind)
		}
		sort.Strings(kinds)
		fmt.Println("  error kinds:")
		for _, kind := range kinds {
			fmt.Printf("    %-12s %d\n", kind, s.ErrorKinds[kind])
		}
	}

	for _, raw := range s.Unrecognized {
		fmt.Printf("  unrecognized: %s\n", raw)
	}
	for raw, reason := range s.FailedTargets {
		fmt.Printf("  failed target: %s (%s)\n", raw, reason)
	}
	for _, raw := range s.TruncatedTargets {
		fmt.Printf("  truncated target: %s\n", raw)
	}
}
