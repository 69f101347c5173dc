package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"time"

	"github.com/dop251/goja"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"fingerprint-shield/internal/browser"
	"fingerprint-shield/internal/config"
	"fingerprint-shield/internal/entropy"
	"fingerprint-shield/internal/families"
	"fingerprint-shield/internal/metrics"
	"fingerprint-shield/internal/realm"
	"fingerprint-shield/internal/seed"
	"fingerprint-shield/internal/storage"
	"fingerprint-shield/pkg/logger"
)

//go:embed probe.js
var probeScript string

// surfaces are the patched members the probe reflects on.
var surfaces = []struct{ Expr, Name string }{
	{"Function.prototype.toString", "toString"},
	{"CanvasRenderingContext2D.prototype.getImageData", "getImageData"},
	{"HTMLCanvasElement.prototype.toDataURL", "toDataURL"},
	{"AudioBuffer.prototype.getChannelData", "getChannelData"},
	{"AudioBuffer.prototype.copyFromChannel", "copyFromChannel"},
	{"BaseAudioContext.prototype.decodeAudioData", "decodeAudioData"},
	{"Performance.prototype.now", "now"},
	{"Date.now", "now"},
	{"setTimeout", "setTimeout"},
	{"WebGLRenderingContext.prototype.getParameter", "getParameter"},
	{"WebGLRenderingContext.prototype.getSupportedExtensions", "getSupportedExtensions"},
	{"WebGLRenderingContext.prototype.getShaderPrecisionFormat", "getShaderPrecisionFormat"},
	{"GPU.prototype.requestAdapter", "requestAdapter"},
	{`Object.getOwnPropertyDescriptor(GPUAdapterInfo.prototype, "architecture").get`, "get architecture"},
	{"NavigatorUAData.prototype.getHighEntropyValues", "getHighEntropyValues"},
	{`Object.getOwnPropertyDescriptor(Navigator.prototype, "hardwareConcurrency").get`, "get hardwareConcurrency"},
	{`Object.getOwnPropertyDescriptor(Navigator.prototype, "platform").get`, "get platform"},
	{`Object.getOwnPropertyDescriptor(BatteryManager.prototype, "level").get`, "get level"},
	{"MediaDevices.prototype.enumerateDevices", "enumerateDevices"},
}

var counters = []string{
	"shield_patches_installed_total",
	"shield_patches_skipped_total",
	"shield_seed_rotations_total",
	"shield_micro_reseeds_total",
	"shield_simulated_failures_total",
	"shield_snapshot_hits_total",
	"shield_snapshot_misses_total",
}

type app struct {
	config *config.Config
	logger logger.Logger
}

func newApp(cfgFile, envFile string) (*app, error) {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	return &app{config: cfg, logger: logger.New(cfg.Logging.Level, cfg.Logging.Format)}, nil
}

func (a *app) runSeed(origin, tag string, at time.Time) error {
	if tag == "" {
		var err error
		if tag, _, err = entropy.New().Tag(); err != nil {
			return err
		}
	}
	d := seed.NewDeriver(a.config.Seed.Salt, a.config.Seed.RotationWindow, a.config.Seed.FallbackOriginMarker)
	ctx := d.Context(origin, tag, at)

	fmt.Printf("origin   %s\n", ctx.OriginID)
	fmt.Printf("tag      %s\n", ctx.ContextTag)
	fmt.Printf("bucket   %d\n", ctx.TimeBucket)
	fmt.Printf("seed key %s\n", d.ComputeSeedKey(ctx))
	return nil
}

func (a *app) runProbe(ctx context.Context, origin string) error {
	store, err := storage.Open(a.config.Storage, nil)
	if err != nil {
		return err
	}
	defer store.Close(context.Background())

	m := metrics.New()
	r, err := realm.New(origin,
		realm.WithConfig(a.config),
		realm.WithLogger(a.logger),
		realm.WithMetrics(m),
		realm.WithStore(store),
	)
	if err != nil {
		return err
	}
	defer r.Close()

	fmt.Printf("context %s (%s entropy), seed key %s\n\n", r.Tag(), r.Quality(), r.Pool().Key())

	for _, rep := range families.Install(r) {
		fmt.Printf("%-14s %-22s %s\n", rep.Family, rep.Member, rep.Outcome)
	}
	fmt.Println()

	for _, s := range surfaces {
		fmt.Printf("%-60s %s\n", s.Expr, verdict(r, s.Expr, s.Name))
	}
	fmt.Println()

	v, err := r.VM().RunString(probeScript)
	if err != nil {
		return fmt.Errorf("probe script: %w", err)
	}
	if err := r.Run(ctx); err != nil {
		return err
	}
	if p, ok := v.Export().(*goja.Promise); ok {
		switch p.State() {
		case goja.PromiseStateFulfilled:
			fmt.Println(p.Result().String())
		case goja.PromiseStateRejected:
			fmt.Printf("probe rejected: %s\n", p.Result().String())
		default:
			fmt.Println("probe still pending")
		}
	}
	fmt.Println()

	for _, name := range counters {
		total, err := m.Total(name)
		if err != nil {
			return err
		}
		fmt.Printf("%-34s %v\n", name, total)
	}
	return nil
}

// verdict reports whether the member at expr reflects like a built-in.
func verdict(r *realm.Realm, expr, name string) string {
	v, err := r.VM().RunString(expr)
	if err != nil {
		return "error: " + err.Error()
	}
	fn, ok := v.(*goja.Object)
	if !ok {
		return "absent"
	}
	surface, err := r.Disguiser().Inspect(fn)
	if err != nil {
		return "error: " + err.Error()
	}
	length := r.Disguiser().Root(fn).ToObject(r.VM()).Get("length").ToInteger()
	if !surface.LooksNative(name, int(length)) {
		return "DETECTABLE " + surface.Source
	}
	if rec := r.Disguiser().Lookup(fn); rec != nil {
		return fmt.Sprintf("native (%d layers)", rec.Layers())
	}
	return "native"
}

func (a *app) runBrowse(target string, hold time.Duration) error {
	tag, _, err := entropy.New().Tag()
	if err != nil {
		return err
	}
	mgr, err := browser.NewManager(a.config, tag, a.logger)
	if err != nil {
		return err
	}
	defer mgr.Close()

	page, err := mgr.Open(target)
	if err != nil {
		return err
	}

	res, err := page.Eval(`() => JSON.stringify({
		cores: navigator.hardwareConcurrency,
		memory: navigator.deviceMemory,
		getParameter: WebGLRenderingContext.prototype.getParameter.toString(),
	})`)
	if err != nil {
		return fmt.Errorf("read fingerprint: %w", err)
	}
	fmt.Println(res.Value.Str())

	if hold > 0 {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		select {
		case <-ctx.Done():
		case <-time.After(hold):
		}
	}
	return nil
}

func main() {
	var cfgFile, envFile string

	rootCmd := &cobra.Command{
		Use:   "shield",
		Short: "Deterministic fingerprint noise engine",
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults when empty)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "dotenv file")

	withApp := func(action func(*app, []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfgFile, envFile)
			if err != nil {
				return err
			}
			return action(a, args)
		}
	}

	var (
		origin, tag string
		at          string
	)
	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Print the seed key for an origin, tag and time",
		RunE: withApp(func(a *app, _ []string) error {
			when := time.Now()
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("parse --at: %w", err)
				}
				when = t
			}
			return a.runSeed(origin, tag, when)
		}),
	}
	seedCmd.Flags().StringVar(&origin, "origin", "", "page origin")
	seedCmd.Flags().StringVar(&tag, "tag", "", "context tag (random when empty)")
	seedCmd.Flags().StringVar(&at, "at", "", "RFC3339 time (now when empty)")
	rootCmd.AddCommand(seedCmd)

	var timeout time.Duration
	probeCmd := &cobra.Command{
		Use:   "probe [origin]",
		Short: "Install every family in an embedded host and report what a page sees",
		Args:  cobra.MaximumNArgs(1),
		RunE: withApp(func(a *app, args []string) error {
			o := "https://example.com"
			if len(args) == 1 {
				o = args[0]
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			return a.runProbe(ctx, o)
		}),
	}
	probeCmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "give up waiting for delayed results")
	rootCmd.AddCommand(probeCmd)

	var hold time.Duration
	browseCmd := &cobra.Command{
		Use:   "browse <url>",
		Short: "Open a shielded Chromium tab",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(a *app, args []string) error {
			return a.runBrowse(args[0], hold)
		}),
	}
	browseCmd.Flags().DurationVar(&hold, "hold", 0, "keep the browser open this long")
	rootCmd.AddCommand(browseCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
