// Command roundicon crops an image to its center, rounds the corners and
// writes a PNG plus a multi-size ICO next to it.
//
// Usage:
//
//	roundicon [flags] <input-image-path|url> [output-directory]
//	roundicon -watch dir
//	roundicon -serve :8080
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"roundicon/internal/config"
	"roundicon/internal/fetch"
	"roundicon/internal/handler"
	"roundicon/internal/processor"
	"roundicon/internal/source"
	"roundicon/internal/watcher"
	"roundicon/pkg/logger"
	"roundicon/pkg/ratelimit"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

const usage = "Usage: roundicon [flags] <input-image-path|url> [output-directory]"

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("roundicon", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "YAML configuration file")
	watchDir := fs.String("watch", "", "watch a directory and process new images")
	serveAddr := fs.String("serve", "", "serve the pipeline over HTTP on this address")
	extra := fs.String("extra", "", "comma-separated extra output formats (webp,avif)")
	logLevel := fs.String("log-level", "", "debug, info, warn or error")
	fs.Usage = func() {
		fmt.Fprintln(stderr, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *extra != "" {
		cfg.Processing.ExtraFormats = splitList(*extra)
	}
	if *watchDir != "" {
		cfg.Watch.Dir = *watchDir
	}
	if *serveAddr != "" {
		cfg.Serve.Enabled = true
		cfg.Serve.Addr = *serveAddr
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: invalid configuration: %v\n", err)
		return 1
	}

	level, _ := logger.ParseLevel(cfg.LogLevel)
	logger.SetOutput(stderr)
	logger.SetLevel(level)

	proc, err := processor.New(cfg.ProcessorOptions())
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	switch {
	case cfg.Serve.Enabled:
		if err := serve(ctx, cfg, proc); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	case cfg.Watch.Dir != "":
		if err := watch(ctx, cfg, proc); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	if fs.NArg() < 1 {
		fmt.Fprintln(stdout, usage)
		return 0
	}
	input := fs.Arg(0)
	outputDir := fs.Arg(1)

	var res processor.Result
	if source.IsURL(input) {
		res, err = processURL(ctx, cfg, proc, input, outputDir)
	} else {
		res, err = proc.ProcessFile(input, outputDir)
	}

	switch {
	case errors.Is(err, processor.ErrInputNotFound):
		fmt.Fprintf(stdout, "Error: input file '%s' does not exist\n", input)
	case err != nil:
		fmt.Fprintf(stdout, "Error processing image: %v\n", err)
	default:
		fmt.Fprintln(stdout, "Processing complete!")
		fmt.Fprintf(stdout, "PNG saved to: %s\n", res.PNGPath)
		fmt.Fprintf(stdout, "ICO saved to: %s\n", res.ICOPath)
		for _, f := range cfg.Processing.ExtraFormats {
			if path, ok := res.Extra[f]; ok {
				fmt.Fprintf(stdout, "%s saved to: %s\n", strings.ToUpper(f), path)
			}
		}
	}
	return 0
}

func processURL(ctx context.Context, cfg *config.Config, proc *processor.Processor, rawURL, outputDir string) (processor.Result, error) {
	client := fetch.New(fetch.Options{
		Timeout:      cfg.Fetch.Timeout,
		Attempts:     cfg.Fetch.Attempts,
		AllowPrivate: true,
	})
	img, err := source.Fetch(ctx, client, rawURL)
	if err != nil {
		return processor.Result{}, err
	}
	src, _, err := proc.Decode(img.Data)
	if err != nil {
		return processor.Result{}, err
	}
	if outputDir == "" {
		outputDir = "."
	}
	return proc.ProcessImage(src, img.Stem, outputDir)
}

func watch(ctx context.Context, cfg *config.Config, proc *processor.Processor) error {
	w, err := watcher.New(proc, watcher.Options{
		Dir:       cfg.Watch.Dir,
		OutputDir: cfg.Watch.OutputDir,
		Debounce:  cfg.Watch.Debounce,
	})
	if err != nil {
		return err
	}
	return w.Run(ctx)
}

func serve(ctx context.Context, cfg *config.Config, proc *processor.Processor) error {
	rl := cfg.Serve.RateLimit
	limiter := ratelimit.NewLimiter(rl.GlobalRate, rl.GlobalBurst, rl.IPRate, rl.IPBurst)
	if limiter != nil {
		defer limiter.Stop()
	}

	srv := &http.Server{
		Addr: cfg.Serve.Addr,
		Handler: handler.New(&handler.Config{
			Processor: proc,
			Fetcher: fetch.New(fetch.Options{
				Timeout:  cfg.Fetch.Timeout,
				Attempts: cfg.Fetch.Attempts,
			}),
			Limiter:        limiter,
			MaxUploadBytes: cfg.Serve.MaxUploadBytes,
			BrowserMaxAge:  cfg.Serve.BrowserMaxAge,
			CDNMaxAge:      cfg.Serve.CDNMaxAge,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}
	logger.Info("Listening on %s", ln.Addr())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		logger.Info("Gracefully shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
