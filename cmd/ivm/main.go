// ivm - compiles and runs programs of the indentation-based integer language
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"

	"github.com/tliron/commonlog"

	"github.com/tom-mohr/compiler/cache"
	"github.com/tom-mohr/compiler/manifest"
	"github.com/tom-mohr/compiler/server"
	"github.com/tom-mohr/compiler/vm"

	_ "github.com/tliron/commonlog/simple"
)

// options collects the settings shared by all modes after flags and the
// manifest have been merged.
type options struct {
	manifest *manifest.Manifest
	maxSteps int
	useCache bool
	verbose  bool
	debug    bool
}

func main() {
	verbose := flag.Bool("v", false, "Verbose output")
	debug := flag.Bool("debug", false, "Log compiler lines, the compiled listing and every executed instruction")
	dump := flag.Bool("dump", false, "Print the compiled instructions instead of running")
	output := flag.String("o", "", "Write the compiled binary to a file (.txt for text, otherwise CBOR)")
	interactive := flag.Bool("i", false, "Start interactive REPL")
	serveMode := flag.Bool("serve", false, "Start the evaluation server (Connect HTTP/JSON, HTTP/CBOR and gRPC)")
	serveAddr := flag.String("addr", "", "Server address (default from ivm.toml, else localhost:4567)")
	lspMode := flag.Bool("lsp", false, "Start the language server on stdio")
	useCache := flag.Bool("cache", false, "Reuse compiled binaries from the cache database")
	maxSteps := flag.Int("max-steps", -1, "Abort a run after this many instructions (0 = unlimited)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ivm [options] [file [function [args...]]]\n")
		fmt.Fprintf(os.Stderr, "       ivm test [paths...]\n")
		fmt.Fprintf(os.Stderr, "       ivm cache [list|prune DAYS|clear]\n\n")
		fmt.Fprintf(os.Stderr, "Compiles a program and calls a function (default: main) with integer arguments.\n")
		fmt.Fprintf(os.Stderr, "Without a file, the [source] table of ivm.toml is used.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  ivm examples/fact.ivm fact 5   # prints 120\n")
		fmt.Fprintf(os.Stderr, "  ivm -dump examples/fact.ivm    # show the instructions\n")
		fmt.Fprintf(os.Stderr, "  ivm test examples              # check the // f args = result comments\n")
		fmt.Fprintf(os.Stderr, "  ivm -i                         # Start REPL\n")
		fmt.Fprintf(os.Stderr, "  ivm -serve -addr :8080         # Start evaluation server\n")
	}
	flag.Parse()

	m, err := loadManifest()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading %s: %v\n", manifest.FileName, err)
		os.Exit(1)
	}

	configureLogging(m, *verbose, *debug)

	opts := &options{
		manifest: m,
		maxSteps: m.Run.MaxSteps,
		useCache: *useCache || m.Cache.Enabled,
		verbose:  *verbose,
		debug:    *debug,
	}
	if *maxSteps >= 0 {
		opts.maxSteps = *maxSteps
	}

	args := flag.Args()
	if len(args) > 0 {
		switch args[0] {
		case "test":
			os.Exit(runTests(opts, args[1:]))
		case "cache":
			os.Exit(cacheCommand(opts, args[1:]))
		}
	}

	// Start language server if requested
	if *lspMode {
		if err := server.NewLSP().Run(); err != nil {
			fmt.Fprintf(os.Stderr, "LSP error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Start evaluation server if requested
	if *serveMode {
		addr := *serveAddr
		if addr == "" {
			addr = m.Server.Addr
		}
		os.Exit(serve(opts, addr))
	}

	if *interactive || (len(args) == 0 && m.MainPath() == "") {
		runREPL(opts)
		return
	}

	call, err := resolveCall(m, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	compile, closeCache := compileFunc(opts)
	defer closeCache()

	bin, err := loadProgram(call.path, compile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		closeCache()
		os.Exit(1)
	}
	if *debug {
		commonlog.GetLogger("ivm").Debugf("compiled %s:\n%s", call.path, bin.Disassemble())
	}

	if *output != "" {
		if err := writeProgram(*output, call.path, bin); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			closeCache()
			os.Exit(1)
		}
		if *verbose {
			fmt.Printf("Wrote %s (%d instructions)\n", *output, len(bin.Code))
		}
	}
	if *dump {
		fmt.Print(bin.Disassemble())
		return
	}
	if *output != "" {
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	result, err := vm.RunFunction(ctx, bin, call.function, call.args, vm.Options{Out: os.Stdout, MaxSteps: opts.maxSteps})
	if err != nil {
		fmt.Fprintf(os.Stderr, "runtime error: %v\n", err)
		stop()
		closeCache()
		os.Exit(1)
	}
	fmt.Println(result)
}

// loadManifest finds ivm.toml from the working directory upward, falling
// back to defaults rooted at the working directory.
func loadManifest() (*manifest.Manifest, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	m, err := manifest.FindAndLoad(wd)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = manifest.Default(wd)
	}
	return m, nil
}

// configureLogging maps flags and the [log] table onto commonlog. Logs go
// to stderr unless a file is configured; stdout belongs to the program
// (and to the protocol in LSP mode).
func configureLogging(m *manifest.Manifest, verbose, debug bool) {
	verbosity := m.Log.Verbosity
	if verbose && verbosity < 1 {
		verbosity = 1
	}
	if debug || m.Run.Trace {
		verbosity = 2
	}

	var path *string
	if p := m.LogFilePath(); p != "" {
		path = &p
	}
	commonlog.Configure(verbosity, path)
}

// compileFunc returns the compile function for this invocation, backed by
// the cache when enabled. The returned closer is safe to call repeatedly.
func compileFunc(opts *options) (func(name, source string) (*vm.Binary, error), func()) {
	if !opts.useCache {
		return compileSource, func() {}
	}
	c, err := cache.Open(opts.manifest.CachePath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: cache disabled: %v\n", err)
		return compileSource, func() {}
	}
	compile := func(name, source string) (*vm.Binary, error) {
		bin, hit, err := c.Compile(name, source)
		if err == nil && opts.verbose {
			fmt.Fprintf(os.Stderr, "%s: cache hit = %v\n", name, hit)
		}
		return bin, err
	}
	var once sync.Once
	return compile, func() { once.Do(func() { c.Close() }) }
}

// serve runs the evaluation server until interrupted.
func serve(opts *options, addr string) int {
	compile, closeCache := compileFunc(opts)
	defer closeCache()

	srv := server.New(
		server.WithCompileFunc(func(source string) (*vm.Binary, error) {
			return compile("request", source)
		}),
		server.WithMaxSteps(opts.maxSteps),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	go func() {
		<-ctx.Done()
		srv.Stop(context.Background())
	}()

	if err := srv.ListenAndServe(addr); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		return 1
	}
	return 0
}
