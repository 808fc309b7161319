// cmd/check.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/dishcheck/api/schemas"
	"github.com/xkilldash9x/dishcheck/internal/browser"
	"github.com/xkilldash9x/dishcheck/internal/browser/session"
	"github.com/xkilldash9x/dishcheck/internal/config"
	"github.com/xkilldash9x/dishcheck/internal/diagnostics"
	"github.com/xkilldash9x/dishcheck/internal/observability"
	"github.com/xkilldash9x/dishcheck/internal/obstruction"
	"github.com/xkilldash9x/dishcheck/internal/reporting"
)

// ErrObstructionNotCleared is returned in strict mode when at least one
// obstruction ended in ClearFailed.
var ErrObstructionNotCleared = errors.New("obstruction not cleared")

const (
	shutdownTimeout = 30 * time.Second
	closeTimeout    = 10 * time.Second
)

// checkPage is a browser tab the check command can drive.
type checkPage interface {
	obstruction.Page
	ID() string
	Navigate(ctx context.Context, url string) error
	Close(ctx context.Context) error
}

// pageOpener hands out tabs and owns the browser behind them.
type pageOpener interface {
	NewPage(ctx context.Context) (checkPage, error)
	Shutdown(ctx context.Context) error
}

type managerOpener struct {
	*browser.Manager
}

func (m managerOpener) NewPage(ctx context.Context) (checkPage, error) {
	s, err := m.NewSession(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// newPageOpener is replaced in tests.
var newPageOpener = func(cfg config.BrowserConfig, logger *zap.Logger) pageOpener {
	return managerOpener{browser.NewManager(cfg, logger)}
}

type checkOptions struct {
	strict bool
	format string
	output string
}

func newCheckCmd() *cobra.Command {
	var opts checkOptions

	cmd := &cobra.Command{
		Use:   "check [url|path...]",
		Short: "Open pages and clear the location popup and robot challenge",
		Long: `Opens every target in its own tab, dismisses the location confirmation popup
and passes the "I'm not a robot" challenge, then reports one outcome per
obstruction. Relative paths are resolved against target.base_url; with no
arguments the base URL itself is checked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}
			targets, err := resolveTargets(cfg.Target.BaseURL, args)
			if err != nil {
				return err
			}
			return runCheck(cmd.Context(), cfg, targets, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&opts.strict, "strict", false, "exit non-zero if any obstruction could not be cleared")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "report format (text, json)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "report file (default stdout)")
	cmd.Flags().Bool("headless", true, "run Chrome without a window")
	cmd.Flags().Int("sessions", 0, "maximum number of tabs open at once")
	cmd.Flags().String("base-url", "", "base URL relative targets are resolved against")
	cmd.Flags().String("snapshot-dir", "", "directory for failure snapshots")
	return cmd
}

// resolveTargets turns the arguments into absolute URLs.
func resolveTargets(baseURL string, args []string) ([]string, error) {
	if len(args) == 0 {
		if baseURL == "" {
			return nil, errors.New("no targets given and target.base_url is empty")
		}
		return []string{baseURL}, nil
	}

	var base *url.URL
	if baseURL != "" {
		var err error
		if base, err = url.Parse(baseURL); err != nil {
			return nil, fmt.Errorf("invalid base url %q: %w", baseURL, err)
		}
	}

	targets := make([]string, 0, len(args))
	for _, arg := range args {
		u, err := url.Parse(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid target %q: %w", arg, err)
		}
		switch {
		case u.IsAbs():
			targets = append(targets, u.String())
		case base != nil:
			targets = append(targets, base.ResolveReference(u).String())
		case strings.Contains(arg, "."):
			targets = append(targets, "https://"+arg)
		default:
			return nil, fmt.Errorf("relative target %q needs target.base_url", arg)
		}
	}
	return targets, nil
}

func runCheck(ctx context.Context, cfg *config.Config, targets []string, opts checkOptions, stdout io.Writer) error {
	logger := observability.Component("check")

	// 1. Outputs.
	var (
		reporter reporting.Reporter
		err      error
	)
	if opts.output == "" {
		reporter, err = reporting.NewWithWriter(opts.format, stdout)
	} else {
		reporter, err = reporting.New(opts.format, opts.output)
	}
	if err != nil {
		return err
	}

	plan, err := obstruction.PlanFromConfig(cfg.Obstruction)
	if err != nil {
		reporter.Close()
		return fmt.Errorf("invalid obstruction plan: %w", err)
	}
	ctrlOpts := obstruction.OptionsFromConfig(cfg.Obstruction)
	if cfg.Diagnostics.Enabled {
		sink, err := diagnostics.NewDirSink(cfg.Diagnostics.Dir, logger)
		if err != nil {
			reporter.Close()
			return err
		}
		ctrlOpts = append(ctrlOpts, obstruction.WithSnapshotSink(sink))
	}
	ctrl := obstruction.NewController(logger, ctrlOpts...)

	// 2. Browser.
	opener := newPageOpener(cfg.Browser, logger)
	defer func() {
		sctx, cancel := context.WithTimeout(session.Detach(ctx), shutdownTimeout)
		defer cancel()
		if err := opener.Shutdown(sctx); err != nil {
			logger.Warn("Browser shutdown failed.", zap.Error(err))
		}
	}()

	// 3. Check every target, at most max_sessions at a time.
	var failed, broken atomic.Int32
	g := new(errgroup.Group)
	g.SetLimit(cfg.Browser.MaxSessions)
	for _, target := range targets {
		g.Go(func() error {
			entry := checkTarget(ctx, opener, ctrl, plan, target, logger)
			if entry.Error != "" {
				broken.Add(1)
			} else if entry.Report.Failed() {
				failed.Add(1)
			}
			if err := reporter.Write(entry); err != nil {
				return fmt.Errorf("failed to write report for %s: %w", target, err)
			}
			return nil
		})
	}
	werr := g.Wait()
	if err := reporter.Close(); err != nil && werr == nil {
		werr = fmt.Errorf("failed to close report: %w", err)
	}

	// 4. Exit status.
	switch {
	case werr != nil:
		return werr
	case ctx.Err() != nil:
		return ctx.Err()
	case broken.Load() > 0:
		return fmt.Errorf("%d of %d targets could not be checked", broken.Load(), len(targets))
	case opts.strict && failed.Load() > 0:
		return fmt.Errorf("%w on %d of %d targets", ErrObstructionNotCleared, failed.Load(), len(targets))
	}
	logger.Info("Check finished.", zap.Int("targets", len(targets)), zap.Int32("not_cleared", failed.Load()))
	return nil
}

// checkTarget runs the plan against a fresh tab. Session errors end up in the
// entry rather than aborting the other targets.
func checkTarget(ctx context.Context, opener pageOpener, ctrl *obstruction.Controller, plan obstruction.Plan, target string, logger *zap.Logger) *reporting.Entry {
	entry := &reporting.Entry{URL: target, StartedAt: time.Now().UTC()}
	defer func() { entry.Duration = time.Since(entry.StartedAt) }()

	page, err := opener.NewPage(ctx)
	if err != nil {
		entry.Error = err.Error()
		return entry
	}
	entry.SessionID = page.ID()
	log := logger.With(zap.String("session_id", page.ID()), zap.String("url", target))
	defer func() {
		cctx, cancel := context.WithTimeout(session.Detach(ctx), closeTimeout)
		defer cancel()
		if err := page.Close(cctx); err != nil {
			log.Debug("Failed to close tab.", zap.Error(err))
		}
	}()

	if err := page.Navigate(ctx, target); err != nil {
		if !errors.Is(err, schemas.ErrWaitTimeout) {
			entry.Error = err.Error()
			return entry
		}
		// A slow load can still show the obstructions.
		log.Warn("Navigation timed out, checking obstructions anyway.", zap.Error(err))
	}

	report, err := ctrl.ClearAll(ctx, page, plan)
	entry.Report = report
	if err != nil {
		entry.Error = err.Error()
	}
	return entry
}
