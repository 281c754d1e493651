package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/root4loot/goscope"
	"github.com/spf13/cobra"

	"github.com/root4loot/pagesnap/pkg/screener"
	"github.com/root4loot/pagesnap/pkg/tool"
)

type captureFlags struct {
	list        string
	include     []string
	exclude     []string
	concurrency int
	width       int
	height      int
	scale       float64
	endpoint    string
	driver      string
	outFolder   string
	timeout     time.Duration
	idleTimeout time.Duration
	settleDelay time.Duration
	imprint     bool
	json        bool
	progress    bool
}

func newCaptureCmd(a *app) *cobra.Command {
	f := &captureFlags{}

	cmd := &cobra.Command{
		Use:   "capture [targets...]",
		Short: "Capture full-page screenshots",
		Long: `Capture takes full-page screenshots of the given targets. Targets may be
passed as arguments (comma separated values allowed), read from a file with
--list, or piped on stdin. Targets without a scheme are tried over https and
then over http.`,
		Example: `  pagesnap capture example.com
  pagesnap capture -l targets.txt -c 4 -o ./shots
  cat targets.txt | pagesnap capture --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.apply(cmd, a)

			targets, err := gatherTargets(args, f.list, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if len(targets) == 0 {
				return errors.New("no targets given")
			}

			t, err := a.newTool()
			if err != nil {
				return err
			}

			p := &printer{
				out:      cmd.OutOrStdout(),
				errOut:   cmd.ErrOrStderr(),
				json:     f.json,
				progress: f.progress,
			}

			scope, err := f.scope()
			if err != nil {
				return err
			}

			batch := tool.NewBatch(t, f.concurrency)
			batch.Progress = p.Progress
			batch.Scope = scope

			reports := make(chan tool.Report)
			go batch.MultipleStream(cmd.Context(), reports, targets...)

			var failed, total int
			for r := range reports {
				if r.Skipped {
					screener.Log.Debugf("Skipping duplicate target %s", r.Target)
					continue
				}
				if r.OutOfScope {
					screener.Log.Debugf("Skipping out of scope target %s", r.Target)
					continue
				}
				total++
				if r.Outcome != tool.OutcomeSuccess {
					failed++
				}
				p.Report(r)
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d captures failed", failed, total)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.list, "list", "l", "", "file containing targets, one per line")
	flags.StringSliceVar(&f.include, "include", nil, "only capture these hosts (wildcards, IPs and CIDRs allowed)")
	flags.StringSliceVar(&f.exclude, "exclude", nil, "never capture these hosts or their subdomains")
	flags.IntVarP(&f.concurrency, "concurrency", "c", 2, "number of concurrent captures")
	flags.IntVar(&f.width, "width", screener.DefaultWidth, "viewport width")
	flags.IntVar(&f.height, "height", screener.DefaultHeight, "viewport height")
	flags.Float64Var(&f.scale, "scale", screener.DefaultDeviceScaleFactor, "device scale factor")
	flags.StringVar(&f.endpoint, "cdp-url", screener.DefaultEndpoint, "DevTools endpoint (http, ws or "+screener.LaunchEndpoint+")")
	flags.StringVar(&f.driver, "driver", "rod", fmt.Sprintf("browser driver %v", screener.Drivers()))
	flags.StringVarP(&f.outFolder, "outfolder", "o", "", "folder to save screenshots in")
	flags.DurationVar(&f.timeout, "timeout", 0, "overall timeout per capture (0 for none)")
	flags.DurationVar(&f.idleTimeout, "idle-timeout", 15*time.Second, "how long to wait for the network to go idle")
	flags.DurationVar(&f.settleDelay, "settle-delay", 2*time.Second, "pause before taking the screenshot")
	flags.BoolVar(&f.imprint, "imprint", false, "print the URL below the screenshot")
	flags.BoolVar(&f.json, "json", false, "print one JSON object per target")
	flags.BoolVar(&f.progress, "progress", false, "print capture progress to stderr")

	return cmd
}

// scope returns nil when no include or exclude rules were given.
func (f *captureFlags) scope() (*goscope.Scope, error) {
	if len(f.include) == 0 && len(f.exclude) == 0 {
		return nil, nil
	}
	scope := goscope.NewScope()
	if err := scope.AddInclude(f.include...); err != nil {
		return nil, fmt.Errorf("--include: %w", err)
	}
	if err := scope.AddExclude(f.exclude...); err != nil {
		return nil, fmt.Errorf("--exclude: %w", err)
	}
	return scope, nil
}

// apply overlays the flags the user set onto the loaded configuration.
func (f *captureFlags) apply(cmd *cobra.Command, a *app) {
	changed := cmd.Flags().Changed
	cfg := a.cfg
	if changed("width") {
		cfg.Width = f.width
	}
	if changed("height") {
		cfg.Height = f.height
	}
	if changed("scale") {
		cfg.DeviceScaleFactor = f.scale
	}
	if changed("cdp-url") {
		cfg.Endpoint = f.endpoint
	}
	if changed("driver") {
		cfg.Driver = f.driver
	}
	if changed("outfolder") {
		cfg.OutputDir = f.outFolder
	}
	if changed("timeout") {
		cfg.Timeout = f.timeout
	}
	if changed("idle-timeout") {
		cfg.IdleTimeout = f.idleTimeout
	}
	if changed("settle-delay") {
		cfg.SettleDelay = f.settleDelay
	}
	if changed("imprint") {
		cfg.Imprint = f.imprint
	}
}
