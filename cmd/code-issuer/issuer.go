package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"os"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/marketplace-promo/internal/domain/discount"
)

// alphabet has 32 symbols without the look-alikes 0, O, 1 and I, so a
// random byte masked with 31 picks one without bias.
const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const filterFPR = 0.0001

// codeSource streams codes already taken. *postgres.RuleRepository
// implements it.
type codeSource interface {
	EachCode(ctx context.Context, fn func(code string) error) error
}

// newCode returns prefix followed by n random alphabet symbols.
func newCode(prefix string, n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "read random")
	}
	for i, b := range buf {
		buf[i] = alphabet[b&31]
	}
	return prefix + string(buf), nil
}

// loadTaken builds a filter of every code that must not be issued: codes in
// the database and in the given gzip lists. Each list is read into its own
// filter concurrently and merged.
func loadTaken(ctx context.Context, lg *zap.Logger, db codeSource, lists []string, capacity uint) (*bloom.BloomFilter, error) {
	taken := bloom.NewWithEstimates(capacity, filterFPR)
	var fromDB int
	if err := db.EachCode(ctx, func(code string) error {
		taken.AddString(discount.NormalizeCode(code))
		fromDB++
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "load stored codes")
	}
	lg.Info("Stored codes loaded", zap.Int("count", fromDB))

	filters := make([]*bloom.BloomFilter, len(lists))
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range lists {
		g.Go(func() error {
			f := bloom.NewWithEstimates(capacity, filterFPR)
			var n int
			if err := streamGzFile(gctx, path, func(code string) {
				if code = discount.NormalizeCode(code); code != "" {
					f.AddString(code)
					n++
				}
			}); err != nil {
				return errors.Wrapf(err, "read %s", path)
			}
			lg.Info("Code list loaded", zap.String("path", path), zap.Int("count", n))
			filters[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, f := range filters {
		if err := taken.Merge(f); err != nil {
			return nil, errors.Wrap(err, "merge filters")
		}
	}
	return taken, nil
}

type generateOptions struct {
	Count   int
	Prefix  string
	Length  int
	Workers int
	// MaxAttempts bounds the candidates examined before giving up.
	MaxAttempts int
}

// generate draws candidates on Workers goroutines and keeps the first Count
// that the filter has not seen. A false positive only skips a free code.
func generate(ctx context.Context, taken *bloom.BloomFilter, opts generateOptions) ([]string, error) {
	genCtx, stop := context.WithCancel(ctx)
	defer stop()

	candidates := make(chan string, opts.Workers*64)
	g, gctx := errgroup.WithContext(genCtx)
	for range opts.Workers {
		g.Go(func() error {
			for {
				code, err := newCode(opts.Prefix, opts.Length)
				if err != nil {
					return err
				}
				select {
				case candidates <- code:
				case <-gctx.Done():
					return nil
				}
			}
		})
	}

	codes := make([]string, 0, opts.Count)
	var collectErr error
	for attempts := 0; len(codes) < opts.Count; attempts++ {
		if attempts >= opts.MaxAttempts {
			collectErr = errors.Errorf("code space exhausted after %d attempts: %d of %d issued",
				attempts, len(codes), opts.Count)
			break
		}
		var code string
		select {
		case code = <-candidates:
		case <-gctx.Done():
			collectErr = gctx.Err()
		}
		if collectErr != nil {
			break
		}
		if taken.TestOrAddString(code) {
			continue
		}
		codes = append(codes, code)
	}
	stop()

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if collectErr != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, collectErr
	}
	return codes, nil
}

// issue clones template once per code as single-use CODE rules.
func issue(template *discount.Rule, codes []string, now time.Time) []discount.Rule {
	once := 1
	out := make([]discount.Rule, len(codes))
	for i, code := range codes {
		r := *template
		r.ID = uuid.NewString()
		r.Code = code
		r.UsageLimitTotal = &once
		r.IsActive = true
		r.CreatedAt = now
		r.UpdatedAt = now
		out[i] = r
	}
	return out
}

// streamGzFile calls fn for every line of a gzip file.
func streamGzFile(ctx context.Context, path string, fn func(line string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrap(err, "gzip reader")
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(strings.TrimSpace(scanner.Text()))
	}
	return errors.Wrap(scanner.Err(), "scan")
}

// writeManifest stores codes one per line in a gzip file.
func writeManifest(path string, codes []string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create manifest")
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = errors.Wrap(cerr, "close manifest")
		}
	}()

	gz := pgzip.NewWriter(f)
	w := bufio.NewWriter(gz)
	for _, c := range codes {
		if _, err := w.WriteString(c + "\n"); err != nil {
			return errors.Wrap(err, "write manifest")
		}
	}
	if err := w.Flush(); err != nil {
		return errors.Wrap(err, "flush manifest")
	}
	return errors.Wrap(gz.Close(), "close gzip")
}
