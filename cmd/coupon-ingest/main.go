// Command coupon-ingest loads coupon rules from gzip-compressed CSV files.
//
// Each row is: code,percentage,valid_until,max_uses,once_per_user. Only the
// code and percentage columns are required; valid_until is RFC 3339 or a
// YYYY-MM-DD date. A header row starting with "code" is skipped. When a code
// appears more than once, the last row wins.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/storage/postgres"
)

const (
	batchSize     = 500
	bloomCapacity = 1_000_000
	bloomFPR      = 0.001
	maxCodeLen    = 32
)

var hundred = decimal.NewFromInt(100)

func main() {
	var (
		pattern     string
		databaseURL string
		dryRun      bool
	)

	flag.StringVar(&pattern, "files", "data/coupons*.csv.gz", "glob of gzip CSV coupon files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.BoolVar(&dryRun, "dry-run", false, "parse and validate without writing")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		lg.Fatal("database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, pattern, databaseURL, dryRun); err != nil {
		lg.Fatal("Coupon ingest failed", zap.Error(err))
	}
	lg.Info("Coupon ingest completed successfully")
}

func run(ctx context.Context, lg *zap.Logger, pattern, databaseURL string, dryRun bool) error {
	files, err := filepath.Glob(pattern)
	if err != nil {
		return errors.Wrap(err, "glob files")
	}
	if len(files) == 0 {
		return errors.Errorf("no files match %q", pattern)
	}

	parsed, err := parseFiles(ctx, lg, files)
	if err != nil {
		return err
	}
	rules := dedupe(parsed)
	lg.Info("Coupons parsed", zap.Int("files", len(files)), zap.Int("unique", len(rules)))

	if dryRun || len(rules) == 0 {
		return nil
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	return writeCoupons(ctx, lg, postgres.NewCouponRepository(pool), rules)
}

// parseFiles reads every file concurrently. The result keeps file order.
func parseFiles(ctx context.Context, lg *zap.Logger, files []string) ([][]coupon.Rule, error) {
	out := make([][]coupon.Rule, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			rules, skipped, err := readGzFile(ctx, path)
			if err != nil {
				return errors.Wrapf(err, "read %s", path)
			}
			lg.Info("File parsed",
				zap.String("file", path),
				zap.Int("rules", len(rules)),
				zap.Int("skipped", skipped),
			)
			out[i] = rules
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func readGzFile(ctx context.Context, path string) ([]coupon.Rule, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return nil, 0, errors.Wrap(err, "gzip reader")
	}
	defer func() { _ = gz.Close() }()

	return readCSV(ctx, gz)
}

// readCSV parses rows until EOF. Malformed rows are counted, not fatal.
func readCSV(ctx context.Context, r io.Reader) ([]coupon.Rule, int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var (
		rules   []coupon.Rule
		skipped int
	)
	for line := 1; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				skipped++
				continue
			}
			return nil, 0, err
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "code") {
			continue
		}
		rule, err := parseRow(rec)
		if err != nil {
			skipped++
			continue
		}
		rules = append(rules, rule)
	}
	return rules, skipped, nil
}

func parseRow(rec []string) (coupon.Rule, error) {
	col := func(i int) string {
		if i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	code := strings.ToUpper(col(0))
	if code == "" || len(code) > maxCodeLen {
		return coupon.Rule{}, errors.Errorf("bad code %q", code)
	}
	pct, err := decimal.NewFromString(col(1))
	if err != nil {
		return coupon.Rule{}, errors.Wrap(err, "percentage")
	}
	if !pct.IsPositive() || pct.GreaterThan(hundred) {
		return coupon.Rule{}, errors.Errorf("percentage %s out of range", pct)
	}

	rule := coupon.Rule{
		ID:         "cpn_" + strings.ToLower(code),
		Code:       code,
		Percentage: pct,
	}
	if v := col(2); v != "" {
		until, err := parseTime(v)
		if err != nil {
			return coupon.Rule{}, err
		}
		rule.ValidUntil = &until
	}
	if v := col(3); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return coupon.Rule{}, errors.Errorf("bad max_uses %q", v)
		}
		rule.MaxUses = n
	}
	if v := col(4); v != "" {
		once, err := strconv.ParseBool(v)
		if err != nil {
			return coupon.Rule{}, errors.Wrap(err, "once_per_user")
		}
		rule.OncePerUser = once
	}
	return rule, nil
}

// parseTime accepts RFC 3339 or a date, which means the end of that UTC day.
func parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	d, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, errors.Errorf("bad valid_until %q", v)
	}
	return d.Add(24*time.Hour - time.Second), nil
}

// dedupe flattens per-file rules so each code appears once, keeping the
// last occurrence. The bloom filter skips the index lookup for codes that
// were never seen.
func dedupe(files [][]coupon.Rule) []coupon.Rule {
	var total uint
	for _, rules := range files {
		total += uint(len(rules))
	}
	seen := bloom.NewWithEstimates(max(total, bloomCapacity), bloomFPR)
	index := make(map[string]int, total)

	var out []coupon.Rule
	for _, rules := range files {
		for _, r := range rules {
			if seen.TestString(r.Code) {
				if i, ok := index[r.Code]; ok {
					out[i] = r
					continue
				}
			}
			seen.AddString(r.Code)
			index[r.Code] = len(out)
			out = append(out, r)
		}
	}
	return out
}

func writeCoupons(ctx context.Context, lg *zap.Logger, repo *postgres.CouponRepository, rules []coupon.Rule) error {
	for start := 0; start < len(rules); start += batchSize {
		end := min(start+batchSize, len(rules))
		if err := repo.UpsertBatch(ctx, rules[start:end]); err != nil {
			return errors.Wrapf(err, "write batch at %d", start)
		}
		lg.Info("Write progress", zap.Int("written", end), zap.Int("total", len(rules)))
	}
	return nil
}
