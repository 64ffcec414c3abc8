// Command pmemheap-inspect opens a pool file read-only-in-spirit (it
// still maps RDWR, since there is no read-only Ops, but performs no
// allocator operation beyond boot/recovery) and reports the pool's uuid,
// its allocation count, the total usable bytes of those allocations, and
// the chunk size; it does not break occupancy down by zone or chunk —
// grounded on cmd/orizon-summary's flag-driven,
// plain-text-report style.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/selenia-systems/pmemheap/internal/heaplayout"
	"github.com/selenia-systems/pmemheap/palloc"
)

func main() {
	var (
		path     string
		heapSize uint64
		lanes    int
		verbose  bool
	)

	flag.StringVar(&path, "path", "", "pool file to inspect")
	flag.Uint64Var(&heapSize, "heap-size", uint64(palloc.DefaultOptions().HeapSize), "heap size the pool was created with")
	flag.IntVar(&lanes, "lanes", palloc.DefaultOptions().Lanes, "lane count the pool was created with")
	flag.BoolVar(&verbose, "v", false, "print one line per allocation")
	flag.Parse()

	if path == "" {
		fmt.Fprintln(os.Stderr, "pmemheap-inspect: -path is required")
		os.Exit(2)
	}

	opts := palloc.DefaultOptions()
	opts.HeapSize = heapSize
	opts.Lanes = lanes

	p, err := palloc.Open(path, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pmemheap-inspect: open %s: %v\n", path, err)
		os.Exit(1)
	}
	defer p.Close()

	fmt.Printf("pool: %s\n", path)
	fmt.Printf("uuid: %s\n", p.UUID())

	count := 0
	total := uint64(0)

	for off := p.First(); off != 0; off = p.Next(off) {
		n := p.UsableSize(off)
		total += n
		count++

		if verbose {
			fmt.Printf("  alloc off=%d usable=%d\n", off, n)
		}
	}

	fmt.Printf("allocations: %d\n", count)
	fmt.Printf("allocated bytes (usable): %d\n", total)
	fmt.Printf("chunk size: %d\n", heaplayout.ChunkSize)
}
