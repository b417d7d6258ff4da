// frz converts a conventional directory tree into a content-addressed
// store: files added to a repository are replaced by symlinks into a
// shared, deduplicated content pool.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/kwiberg/frz/lib/applog"
	"github.com/kwiberg/frz/lib/contentsource"
	"github.com/kwiberg/frz/lib/hasher"
	"github.com/kwiberg/frz/lib/repo"
	"github.com/kwiberg/frz/lib/stream"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	log := applog.New(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))
	top := repo.NewTop(hasher.NewBlake3, stream.NewMultiThreaded(8, 64*1024, 8))

	switch args[0] {
	case "add":
		return runAdd(top, log, args[1:])
	case "fill":
		return runFill(top, log, args[1:])
	case "repair":
		return runRepair(top, log, args[1:])
	case "-h", "--help":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "frz: unknown command %q\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage:
  frz add <paths...>
  frz fill [--copy-from DIR | --move-from DIR]...
  frz repair [--fast] [--copy-from DIR | --move-from DIR]...`)
}

// sourceSpec records one --copy-from/--move-from occurrence, in the
// command-line order it was given.
type sourceSpec struct {
	dir      string
	readOnly bool
}

// sourceFlag is a pflag.Value that appends to a shared, ordered slice of
// sourceSpecs regardless of which of --copy-from/--move-from it backs,
// so the two flags can be freely interleaved on the command line and
// still produce the source priority order spec.md §4.8.5 requires.
type sourceFlag struct {
	specs    *[]sourceSpec
	readOnly bool
}

func (f sourceFlag) String() string { return "" }
func (f sourceFlag) Type() string   { return "DIR" }

func (f sourceFlag) Set(v string) error {
	*f.specs = append(*f.specs, sourceSpec{dir: v, readOnly: f.readOnly})
	return nil
}

func addSourceFlags(flagSet *pflag.FlagSet, specs *[]sourceSpec) {
	flagSet.Var(sourceFlag{specs: specs, readOnly: true}, "copy-from", "search DIR for missing content, copying what it finds (repeatable)")
	flagSet.Var(sourceFlag{specs: specs, readOnly: false}, "move-from", "search DIR for missing content, moving what it finds (repeatable)")
}

func buildSources(specs []sourceSpec, streamer stream.ForkedStreamer, newHasher func() hasher.Hasher) []contentsource.Source {
	sources := make([]contentsource.Source, len(specs))
	for i, spec := range specs {
		sources[i] = contentsource.NewDir(spec.dir, spec.readOnly, streamer, newHasher)
	}
	return sources
}

func runAdd(top *repo.Top, log applog.Log, args []string) int {
	flagSet := pflag.NewFlagSet("frz add", pflag.ContinueOnError)
	if err := flagSet.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "frz add: %v\n", err)
		return 2
	}
	paths := flagSet.Args()
	if len(paths) == 0 {
		fmt.Fprintln(os.Stderr, "frz add: at least one path is required")
		return 2
	}

	var added, duplicates, symlinks, errorCount int
	for _, path := range paths {
		result, err := top.AddFile(path)
		if err != nil {
			log.Error("add %s: %s", path, err)
			errorCount++
			continue
		}
		switch result {
		case repo.NewFile:
			added++
		case repo.DuplicateFile:
			duplicates++
		case repo.Symlink:
			symlinks++
		}
	}

	log.Important("add: %d new, %d duplicate, %d already symlinks, %d errors", added, duplicates, symlinks, errorCount)
	if errorCount > 0 {
		return 1
	}
	return 0
}

func runFill(top *repo.Top, log applog.Log, args []string) int {
	flagSet := pflag.NewFlagSet("frz fill", pflag.ContinueOnError)
	var specs []sourceSpec
	addSourceFlags(flagSet, &specs)
	if err := flagSet.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "frz fill: %v\n", err)
		return 2
	}

	streamer := stream.NewMultiThreaded(8, 64*1024, 8)
	sources := buildSources(specs, streamer, hasher.NewBlake3)

	stats, err := top.Fill(".", sources, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "frz fill: %v\n", err)
		return 1
	}
	log.Important("fill: %d fetched, %d still missing", stats.Fetched, stats.StillMissing)
	if stats.StillMissing > 0 {
		return 1
	}
	return 0
}

func runRepair(top *repo.Top, log applog.Log, args []string) int {
	flagSet := pflag.NewFlagSet("frz repair", pflag.ContinueOnError)
	var fast bool
	flagSet.BoolVar(&fast, "fast", false, "skip the full-rehash verification pass")
	var specs []sourceSpec
	addSourceFlags(flagSet, &specs)
	if err := flagSet.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "frz repair: %v\n", err)
		return 2
	}

	streamer := stream.NewMultiThreaded(8, 64*1024, 8)
	sources := buildSources(specs, streamer, hasher.NewBlake3)

	stats, err := top.Repair(".", fast, sources, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "frz repair: %v\n", err)
		return 1
	}
	log.Important("repair: index good=%d bad=%d, content reclaimed=%d duplicates=%d errors=%d, fetched=%d still-missing=%d",
		stats.Index.Good, stats.Index.Bad, stats.Content.ReclaimedOrphans, stats.Content.Duplicates, stats.Content.Errors,
		stats.Fetch.Fetched, stats.Fetch.StillMissing)
	if stats.Index.Bad > 0 || stats.Content.Errors > 0 || stats.Fetch.StillMissing > 0 {
		return 1
	}
	return 0
}
