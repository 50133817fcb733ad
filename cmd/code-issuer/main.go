// Command code-issuer mints unique single-use discount codes from a template
// CODE rule. Codes already stored, or listed in previously written manifests,
// are never reissued.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/marketplace-promo/internal/domain/discount"
	"github.com/xenking/marketplace-promo/internal/storage/postgres"
)

type options struct {
	DatabaseURL string
	TemplateID  string
	Exclude     string
	Manifest    string
	BatchSize   int
	Capacity    uint
	generateOptions
}

func main() {
	var opts options
	flag.StringVar(&opts.DatabaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.TemplateID, "template", "", "id of the CODE rule to clone")
	flag.IntVar(&opts.Count, "count", 1000, "number of codes to issue")
	flag.StringVar(&opts.Prefix, "prefix", "", "code prefix, e.g. SUMMER-")
	flag.IntVar(&opts.Length, "length", 8, "random symbols after the prefix")
	flag.IntVar(&opts.Workers, "workers", runtime.GOMAXPROCS(0), "generator goroutines")
	flag.StringVar(&opts.Exclude, "exclude", "", "glob of .gz code lists that must not be reissued")
	flag.StringVar(&opts.Manifest, "out", "codes.gz", "gzip manifest of issued codes")
	flag.IntVar(&opts.BatchSize, "batch", 500, "rules inserted per transaction")
	flag.UintVar(&opts.Capacity, "capacity", 10_000_000, "expected number of taken codes")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if opts.DatabaseURL == "" {
		opts.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.DatabaseURL == "" || opts.TemplateID == "" {
		lg.Fatal("database URL and template are required: set --database-url and --template")
	}
	if opts.Count <= 0 || opts.Length <= 0 || opts.Workers <= 0 || opts.BatchSize <= 0 {
		lg.Fatal("count, length, workers and batch must be positive")
	}
	opts.Prefix = discount.NormalizeCode(opts.Prefix)
	opts.MaxAttempts = opts.Count * 100

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, opts); err != nil {
		lg.Fatal("Code issue failed", zap.Error(err))
	}
}

func run(ctx context.Context, lg *zap.Logger, opts options) error {
	var lists []string
	if opts.Exclude != "" {
		matches, err := filepath.Glob(opts.Exclude)
		if err != nil {
			return errors.Wrap(err, "exclude glob")
		}
		lists = matches
	}

	pool, err := postgres.NewPool(ctx, opts.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	rules := postgres.NewRuleRepository(pool)
	template, err := rules.Get(ctx, opts.TemplateID)
	if err != nil {
		return errors.Wrap(err, "load template")
	}
	if template.Kind != discount.KindCode {
		return errors.Errorf("template %s is a %s rule, want CODE", template.ID, template.Kind)
	}

	taken, err := loadTaken(ctx, lg, rules, lists, opts.Capacity)
	if err != nil {
		return err
	}

	start := time.Now()
	codes, err := generate(ctx, taken, opts.generateOptions)
	if err != nil {
		return errors.Wrap(err, "generate codes")
	}
	lg.Info("Codes generated", zap.Int("count", len(codes)), zap.Duration("took", time.Since(start)))

	issued := issue(template, codes, time.Now().UTC())
	for i := 0; i < len(issued); i += opts.BatchSize {
		batch := issued[i:min(i+opts.BatchSize, len(issued))]
		if err := rules.CreateBatch(ctx, batch); err != nil {
			return errors.Wrapf(err, "insert batch at %d", i)
		}
		lg.Info("Batch stored", zap.Int("stored", i+len(batch)), zap.Int("total", len(issued)))
	}

	if err := writeManifest(opts.Manifest, codes); err != nil {
		return err
	}
	lg.Info("Manifest written", zap.String("path", opts.Manifest), zap.Int("codes", len(codes)))
	return nil
}
