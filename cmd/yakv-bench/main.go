package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-faker/faker/v4"

	"yakv"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	path := flag.String("file", "bench.yakv", "database file to create for the run")
	reset := flag.Bool("reset", true, "remove an existing database file before starting")
	n := flag.Int("records", 100_000, "number of records to seed")
	pageSize := flag.Uint("page-size", yakv.DefaultPageSize, "page size in bytes")
	flag.Parse()

	if *reset {
		if err := os.Remove(*path); err != nil && !os.IsNotExist(err) {
			log.Fatalf("yakv-bench: removing old file: %v", err)
		}
	}

	opts := yakv.DefaultOptions()
	opts.PageSize = uint32(*pageSize)
	db, err := yakv.Create(*path, opts)
	if err != nil {
		log.Fatalf("yakv-bench: %v", err)
	}
	defer db.Close()

	keys := seedKeys(*n)

	timeIt(fmt.Sprintf("insert %d entries", *n), func() {
		for _, k := range keys {
			v := []byte(faker.Word() + faker.Word())
			if err := db.Insert(k, v); err != nil {
				log.Fatalf("yakv-bench: insert: %v", err)
			}
		}
	})

	timeIt(fmt.Sprintf("lookup %d entries", *n), func() {
		for _, k := range keys {
			if _, err := db.Lookup(k); err != nil {
				log.Fatalf("yakv-bench: lookup: %v", err)
			}
		}
	})

	stats, err := db.Stats()
	if err != nil {
		log.Fatalf("yakv-bench: stats: %v", err)
	}
	log.Printf("height=%d pages=%d free=%d", stats.Height, stats.PageCount, stats.FreeCount)

	timeIt(fmt.Sprintf("remove %d entries", *n), func() {
		for _, k := range keys {
			if err := db.Remove(k); err != nil {
				log.Fatalf("yakv-bench: remove: %v", err)
			}
		}
	})

	if err := db.Verify(); err != nil {
		log.Fatalf("yakv-bench: post-run verify failed: %v", err)
	}
	log.Println("verify ok")
}

// seedKeys generates n unique keys up front so the insert timing loop
// below does not include key generation (each value is still generated
// inside that loop).
func seedKeys(n int) [][]byte {
	seen := make(map[string]bool, n)
	keys := make([][]byte, 0, n)
	for len(keys) < n {
		k := faker.Word() + faker.Word() + fmt.Sprintf("%d", len(keys))
		if seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, []byte(k))
	}
	return keys
}

func timeIt(label string, fn func()) {
	start := time.Now()
	fn()
	log.Printf("%s: %s", label, time.Since(start))
}
