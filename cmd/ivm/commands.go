package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/tom-mohr/compiler/cache"
	"github.com/tom-mohr/compiler/harness"
)

// runTests checks the expected-result comments of every program below the
// given paths (default: [source] tests of the manifest). It returns the
// process exit code.
func runTests(opts *options, paths []string) int {
	if len(paths) == 0 {
		paths = opts.manifest.TestPaths()
	}

	compile, closeCache := compileFunc(opts)
	defer closeCache()

	runner := harness.NewRunner()
	runner.MaxSteps = opts.maxSteps
	runner.Compile = compile
	if opts.verbose {
		runner.Out = os.Stdout
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	report := &harness.Report{}
	for _, p := range paths {
		r, err := runner.RunPath(ctx, p)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			if r == nil {
				return 1
			}
		}
		report.Merge(r)
	}

	report.Write(os.Stdout, opts.verbose)
	if !report.OK() {
		return 1
	}
	return 0
}

// cacheCommand inspects or trims the compiled-binary cache.
func cacheCommand(opts *options, args []string) int {
	c, err := cache.Open(opts.manifest.CachePath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer c.Close()

	sub := "list"
	if len(args) > 0 {
		sub = args[0]
	}

	switch sub {
	case "list":
		entries, err := c.Entries()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Printf("%s: %d entries\n", c.Path(), len(entries))
		for _, e := range entries {
			fmt.Printf("  %-30s %s  %6d bytes  %4d hits  used %s\n",
				e.Name, e.BinaryHash[:12], e.Size, e.Hits, e.UsedAt.Format(time.DateTime))
		}
	case "prune":
		days := 30
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n < 0 {
				fmt.Fprintf(os.Stderr, "Error: invalid day count %q\n", args[1])
				return 2
			}
			days = n
		}
		removed, err := c.Prune(time.Now().AddDate(0, 0, -days))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Printf("Removed %d entries unused for %d days\n", removed, days)
	case "clear":
		if err := c.Clear(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Println("Cache cleared")
	default:
		fmt.Fprintf(os.Stderr, "Unknown cache command %q (list, prune, clear)\n", sub)
		return 2
	}
	return 0
}
