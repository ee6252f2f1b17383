// internal/browser/connect.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webtrail/internal/config"
	"github.com/xkilldash9x/webtrail/internal/network"
)

// Browser owns the connection to Chrome and the tab the agent drives.
type Browser struct {
	page     *Page
	attached bool
	cancels  []context.CancelFunc
	logger   *zap.Logger
}

// Page returns the controlled tab.
func (b *Browser) Page() *Page { return b.page }

// Attached reports whether the browser was already running (or started
// detached) rather than owned by this process.
func (b *Browser) Attached() bool { return b.attached }

// Close releases the browser. An attached browser is left running with its
// tabs open; a managed browser is shut down.
func (b *Browser) Close() error {
	if b.attached {
		b.logger.Info("Leaving browser open.")
		return nil
	}
	for i := len(b.cancels) - 1; i >= 0; i-- {
		b.cancels[i]()
	}
	b.logger.Info("Managed browser closed.")
	return nil
}

// sleep waits for d or until ctx is done.
var sleep = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect obtains a tab according to cfg. With browser.connect_existing it
// attaches to Chrome at browser.cdp_url, launching it once with remote
// debugging enabled if nothing answers; otherwise it launches a managed browser.
func Connect(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Browser, error) {
	logger = logger.Named("browser")
	bcfg := cfg.Browser()
	if !bcfg.ConnectExisting {
		return launchManaged(ctx, bcfg, logger)
	}

	clientCfg := network.NewDefaultClientConfig()
	clientCfg.RequestTimeout = cfg.Network().ProbeTimeout
	clientCfg.Logger = logger
	client := network.NewClient(clientCfg).Client
	info, err := Probe(ctx, client, bcfg.CDPURL)
	if err != nil {
		if !bcfg.AutoLaunch || ctx.Err() != nil {
			return nil, remediation(bcfg, err)
		}

		logger.Info("No browser on the DevTools endpoint; launching one.", zap.String("cdp_url", bcfg.CDPURL))
		path, launchErr := launchDebugChrome(bcfg)
		if launchErr != nil {
			return nil, remediation(bcfg, errors.Join(err, launchErr))
		}
		logger.Info("Chrome started.", zap.String("path", path), zap.Duration("wait", bcfg.LaunchWait))
		if err := sleep(ctx, bcfg.LaunchWait); err != nil {
			return nil, err
		}

		info, err = Probe(ctx, client, bcfg.CDPURL)
		if err != nil {
			return nil, remediation(bcfg, err)
		}
	}

	logger.Info("Connected to browser.", zap.String("browser", info.Browser))
	return attach(ctx, client, bcfg, info, logger)
}

func attach(ctx context.Context, client *http.Client, bcfg config.BrowserConfig, info *VersionInfo, logger *zap.Logger) (*Browser, error) {
	// The connection must outlive the command context so an interrupt never
	// tears down the user's browser.
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), info.WebSocketDebuggerURL)

	opts := []chromedp.ContextOption{
		chromedp.WithErrorf(func(format string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(format, args...))
		}),
	}
	targets, err := PageTargets(ctx, client, bcfg.CDPURL)
	if err != nil {
		logger.Warn("Could not list open tabs; a new tab will be opened.", zap.Error(err))
	}
	if len(targets) > 0 {
		logger.Info("Reusing open tab.", zap.String("url", targets[0].URL))
		opts = append(opts, chromedp.WithTargetID(target.ID(targets[0].ID)))
	}

	tabCtx, tabCancel := chromedp.NewContext(allocCtx, opts...)
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return nil, remediation(bcfg, fmt.Errorf("failed to attach to tab: %w", err))
	}

	return &Browser{
		page:     newPage(tabCtx, bcfg.ViewportWidth, bcfg.ViewportHeight, logger),
		attached: true,
		cancels:  []context.CancelFunc{allocCancel, tabCancel},
		logger:   logger,
	}, nil
}

func launchManaged(ctx context.Context, bcfg config.BrowserConfig, logger *zap.Logger) (*Browser, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", bcfg.Headless),
		chromedp.WindowSize(bcfg.ViewportWidth, bcfg.ViewportHeight),
	)
	if bcfg.ExecutablePath != "" {
		opts = append(opts, chromedp.ExecPath(bcfg.ExecutablePath))
	}
	for _, arg := range bcfg.Args {
		opts = append(opts, chromedp.Flag(trimFlag(arg), true))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	started := make(chan error, 1)
	go func() { started <- chromedp.Run(tabCtx) }()
	select {
	case err := <-started:
		if err != nil {
			tabCancel()
			allocCancel()
			return nil, fmt.Errorf("failed to launch managed browser: %w", err)
		}
	case <-ctx.Done():
		tabCancel()
		allocCancel()
		return nil, ctx.Err()
	}

	logger.Info("Managed browser launched.", zap.Bool("headless", bcfg.Headless))
	return &Browser{
		page:    newPage(tabCtx, bcfg.ViewportWidth, bcfg.ViewportHeight, logger),
		cancels: []context.CancelFunc{allocCancel, tabCancel},
		logger:  logger,
	}, nil
}

func trimFlag(arg string) string {
	for len(arg) > 0 && arg[0] == '-' {
		arg = arg[1:]
	}
	return arg
}
