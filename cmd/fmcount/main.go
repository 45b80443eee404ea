// Command fmcount counts the distinct lines of its input the way a
// parallel COUNT(DISTINCT) would: lines are spread over independent
// partial sketches that are merged at the end.
//
//	fmcount [-workers n] [-hasher md5|murmur3|metro] [-redis uri] [-db path] [files...]
//
// With -redis or -db every partial is saved to and loaded back from the
// store before the merge. FMCOUNT_REDIS_URI and FMCOUNT_DB_PATH are used
// when the flags are empty.
package main

import (
	"bufio"
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/kwertop/fmsketch"
)

type config struct {
	workers  int
	hasher   string
	redisURI string
	dbPath   string
	ttl      time.Duration
	verbose  bool
	files    []string
}

func parseFlags() config {
	var c config
	flag.IntVar(&c.workers, "workers", runtime.NumCPU(), "number of partial sketches")
	flag.StringVar(&c.hasher, "hasher", "md5", "hash function: md5, murmur3 or metro")
	flag.StringVar(&c.redisURI, "redis", "", "round-trip partials through this redis uri")
	flag.StringVar(&c.dbPath, "db", "", "round-trip partials through this sqlite database")
	flag.DurationVar(&c.ttl, "ttl", time.Hour, "expiry of partials saved in redis")
	flag.BoolVar(&c.verbose, "v", false, "debug logging")
	flag.Parse()
	if c.redisURI == "" {
		c.redisURI = os.Getenv("FMCOUNT_REDIS_URI")
	}
	if c.dbPath == "" {
		c.dbPath = os.Getenv("FMCOUNT_DB_PATH")
	}
	if c.workers < 1 {
		c.workers = 1
	}
	c.files = flag.Args()
	return c
}

func newLogger(verbose bool) *zap.SugaredLogger {
	var (
		logger *zap.Logger
		err    error
	)
	if verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return logger.Sugar()
}

func main() {
	cfg := parseFlags()
	log := newLogger(cfg.verbose)
	defer log.Sync() //nolint:errcheck

	if err := run(context.Background(), cfg, log, os.Stdout); err != nil {
		log.Errorw("fmcount failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config, log *zap.SugaredLogger, out io.Writer) error {
	hasher, err := fmsketch.ParseHasher(cfg.hasher)
	if err != nil {
		return err
	}
	partials := make([]*fmsketch.FMSketch, cfg.workers)
	for i := range partials {
		partials[i] = fmsketch.NewFMSketch(fmsketch.WithHasher(hasher), fmsketch.WithLogger(log))
	}
	if err := count(cfg.files, partials); err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	var result *fmsketch.FMSketch
	if store == nil {
		result, err = fmsketch.MergeAll(partials...)
	} else {
		result, err = roundTrip(ctx, store, partials, log)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "distinct: %d (%s mode)\n", result.Count(), result.Mode())
	return nil
}

// count feeds every line of _files_ (stdin when empty) to the partials,
// each partial owned by one goroutine
func count(files []string, partials []*fmsketch.FMSketch) error {
	lines := make([]chan string, len(partials))
	errs := make([]error, len(partials))
	var wg sync.WaitGroup
	for i := range partials {
		lines[i] = make(chan string, 1024)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for line := range lines[i] {
				if errs[i] == nil {
					errs[i] = partials[i].InsertString(line)
				}
			}
		}(i)
	}

	readErr := forEachLine(files, func(n int, line string) {
		lines[n%len(lines)] <- line
	})
	for _, ch := range lines {
		close(ch)
	}
	wg.Wait()
	if readErr != nil {
		return readErr
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func forEachLine(files []string, fn func(n int, line string)) error {
	n := 0
	scan := func(r io.Reader) error {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			fn(n, scanner.Text())
			n++
		}
		return scanner.Err()
	}
	if len(files) == 0 {
		return scan(os.Stdin)
	}
	for _, name := range files {
		f, err := os.Open(name)
		if err != nil {
			return err
		}
		err = scan(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func openStore(ctx context.Context, cfg config) (fmsketch.PartialStore, func(), error) {
	switch {
	case cfg.redisURI != "":
		options, err := fmsketch.ParseRedisURI(cfg.redisURI)
		if err != nil {
			return nil, nil, err
		}
		fmsketch.MakeRedisClient(*options)
		store, err := fmsketch.NewRedisPartialStore(nil, "fmcount:", cfg.ttl)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = fmsketch.GetRedisClient().Close() }, nil
	case cfg.dbPath != "":
		db, err := sql.Open("sqlite", cfg.dbPath)
		if err != nil {
			return nil, nil, err
		}
		store := fmsketch.NewSQLPartialStore(db)
		if err := store.EnsureTables(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return store, func() { db.Close() }, nil
	}
	return nil, func() {}, nil
}

// roundTrip saves every partial under a fresh key, then merges what the
// store hands back and removes the keys
func roundTrip(ctx context.Context, store fmsketch.PartialStore, partials []*fmsketch.FMSketch, log *zap.SugaredLogger) (*fmsketch.FMSketch, error) {
	keys := make([]string, len(partials))
	for i, p := range partials {
		keys[i] = fmsketch.NewPartialKey()
		if err := store.Save(ctx, keys[i], p); err != nil {
			return nil, err
		}
		log.Debugw("saved partial", "key", keys[i], "mode", p.Mode(), "count", p.Count())
	}
	defer func() {
		for _, key := range keys {
			if err := store.Delete(ctx, key); err != nil {
				log.Warnw("could not delete partial", "key", key, "err", err)
			}
		}
	}()
	return store.MergeKeys(ctx, keys...)
}
