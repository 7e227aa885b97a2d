package main

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
)

const (
	bloomFPR     = 0.001
	maxLineBytes = 1 << 20
)

// streamLines calls fn for every non-blank line of path. Files ending in .gz
// are decompressed with pgzip.
func streamLines(ctx context.Context, path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return errors.Wrapf(err, "create gzip reader for %s", path)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}

// lineCode extracts the normalized coupon code of a JSON line without
// decoding the rest of the definition. Lines without a code return "".
func lineCode(line []byte) (string, error) {
	var code string
	err := jx.DecodeBytes(line).Obj(func(d *jx.Decoder, key string) error {
		if key != "code" {
			return d.Skip()
		}
		s, err := d.Str()
		code = s
		return err
	})
	if err != nil {
		return "", err
	}
	return coupon.NormalizeCode(code), nil
}

// codesOf streams path and calls fn with the code of every decodable line.
func codesOf(ctx context.Context, path string, fn func(code string)) (lines int, err error) {
	err = streamLines(ctx, path, func(line []byte) error {
		lines++
		code, err := lineCode(line)
		if err != nil || code == "" {
			return nil
		}
		fn(code)
		return nil
	})
	return lines, err
}

// findDuplicates returns the codes that occur more than once across all
// files. Pass one fills a bloom filter per file and notes codes the filter
// has probably seen before in the same file. Pass two counts, exactly, only
// the codes flagged by pass one or by another file's filter.
func findDuplicates(ctx context.Context, files []string, expected uint) (map[string]int, error) {
	filters := make([]*bloom.BloomFilter, len(files))
	suspects := make([]map[string]struct{}, len(files))

	g, gctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(expected, bloomFPR)
			local := make(map[string]struct{})
			if _, err := codesOf(gctx, path, func(code string) {
				if filter.TestAndAddString(code) {
					local[code] = struct{}{}
				}
			}); err != nil {
				return errors.Wrapf(err, "index %s", path)
			}
			filters[i], suspects[i] = filter, local
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	suspect := make(map[string]struct{})
	for _, s := range suspects {
		for code := range s {
			suspect[code] = struct{}{}
		}
	}

	var (
		mu     sync.Mutex
		counts = make(map[string]int)
	)
	g, gctx = errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			local := make(map[string]int)
			if _, err := codesOf(gctx, path, func(code string) {
				if _, ok := suspect[code]; ok || inOther(filters, i, code) {
					local[code]++
				}
			}); err != nil {
				return errors.Wrapf(err, "count %s", path)
			}
			mu.Lock()
			defer mu.Unlock()
			for code, n := range local {
				counts[code] += n
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for code, n := range counts {
		if n < 2 {
			delete(counts, code)
		}
	}
	return counts, nil
}

func inOther(filters []*bloom.BloomFilter, self int, code string) bool {
	for j, f := range filters {
		if j != self && f.TestString(code) {
			return true
		}
	}
	return false
}
