// frz-hash-files hashes a list of files and reports duplicates, using an
// in-memory index rather than any repository on disk. It is a
// standalone diagnostic tool, independent of the frz repository format.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/kwiberg/frz/lib/filestream"
	"github.com/kwiberg/frz/lib/hash"
	"github.com/kwiberg/frz/lib/hasher"
	"github.com/kwiberg/frz/lib/hashindex"
	"github.com/kwiberg/frz/lib/stream"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flagSet := pflag.NewFlagSet("frz-hash-files", pflag.ContinueOnError)
	multithreading := flagSet.BoolP("multithreading", "m", true, "use the multi-threaded streamer")
	if err := flagSet.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "frz-hash-files: %v\n", err)
		return 2
	}
	files := flagSet.Args()
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "frz-hash-files: at least one file is required")
		return 2
	}

	var streamer stream.Streamer
	if *multithreading {
		streamer = stream.NewMultiThreaded(4, 1024*1024, 1)
	} else {
		streamer = stream.NewSingleThreaded(1024 * 1024)
	}

	fmt.Printf("Hashing with blake3, multithreading %s\n", onOff(*multithreading))
	index := hashindex.NewRAM()
	var totalBytes int64
	start := time.Now()

	for _, f := range files {
		hs, err := hashFile(streamer, f)
		if err != nil {
			fmt.Printf("*** %s: %s\n", f, err)
			continue
		}
		inserted, err := index.Insert(hs, f)
		if err != nil {
			fmt.Printf("*** %s: %s\n", f, err)
			continue
		}
		marker := "="
		if inserted {
			marker = "+"
		}
		fmt.Printf("%s %s  %s\n", marker, hs.ToBase32(), f)
		totalBytes += hs.Size
	}

	elapsed := time.Since(start)
	mibPerSecond := float64(totalBytes) / elapsed.Seconds() / (1 << 20)
	fmt.Printf("Hashed %d bytes in %s (%.1f MiB/s)\n", totalBytes, elapsed, mibPerSecond)
	return 0
}

func hashFile(streamer stream.Streamer, path string) (hash.HashAndSize, error) {
	src, err := filestream.NewSource(path)
	if err != nil {
		return hash.HashAndSize{}, err
	}
	defer src.Close()
	sh := hasher.NewSizeHasher(hasher.NewBlake3())
	if err := streamer.Stream(src, sh, nil); err != nil {
		return hash.HashAndSize{}, err
	}
	return sh.Finish(), nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
