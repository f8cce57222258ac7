package main

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/entity-resolver/internal/model"
	"github.com/sells-group/entity-resolver/internal/pipeline"
)

var (
	batchInput string
	batchLimit int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Resolve a batch of domains concurrently",
	Long:  "Reads a manifest file with one 'domain html-path' pair per line and resolves each domain. Individual failures are dead-lettered and never abort the batch.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		f, err := os.Open(batchInput)
		if err != nil {
			return eris.Wrap(err, "open batch manifest")
		}
		items, err := parseBatchManifest(f)
		_ = f.Close()
		if err != nil {
			return err
		}

		env, err := initRunner(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		return processBatch(ctx, items, batchLimit, cfg.Batch.MaxConcurrentDomains,
			func(ctx context.Context, req pipeline.Request) (*model.ProcessingResult, error) {
				return env.Runner.Resolve(ctx, req)
			})
	},
}

// batchItem is one manifest line: the domain and the path of its HTML dump.
type batchItem struct {
	Domain   string
	HTMLPath string
}

// parseBatchManifest reads 'domain html-path' lines. Blank lines and lines
// starting with # are skipped.
func parseBatchManifest(r io.Reader) ([]batchItem, error) {
	var items []batchItem
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 2 {
			return nil, eris.Errorf("batch manifest line %d: want 'domain html-path', got %q", line, text)
		}
		items = append(items, batchItem{Domain: fields[0], HTMLPath: fields[1]})
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrap(err, "read batch manifest")
	}
	return items, nil
}

// resolveFunc is the callback signature for resolving one request.
type resolveFunc func(ctx context.Context, req pipeline.Request) (*model.ProcessingResult, error)

// processBatch applies limit, then resolves items concurrently. Individual
// failures are logged and counted but never abort the batch.
func processBatch(ctx context.Context, items []batchItem, limit, concurrency int, resolve resolveFunc) error {
	if len(items) == 0 {
		zap.L().Info("batch manifest is empty")
		return nil
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	zap.L().Info("processing batch",
		zap.Int("domains", len(items)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var succeeded, noClaims, failed atomic.Int64

	for _, item := range items {
		g.Go(func() error {
			log := zap.L().With(zap.String("domain", item.Domain))

			raw, err := os.ReadFile(item.HTMLPath)
			if err != nil {
				failed.Add(1)
				log.Error("batch: read html dump", zap.Error(err))
				return nil
			}

			res, err := resolve(gctx, pipeline.Request{Domain: item.Domain, HTML: string(raw)})
			switch {
			case eris.Is(err, pipeline.ErrNoClaims):
				noClaims.Add(1)
				log.Warn("batch: no claims produced")
			case err != nil:
				failed.Add(1)
				log.Error("batch: resolution failed", zap.Error(err))
			default:
				succeeded.Add(1)
				if final := res.FinalResult; final != nil && len(final.RankedEntities) > 0 {
					top := final.RankedEntities[0]
					log.Info("batch: resolved",
						zap.String("entity", top.EntityName),
						zap.String("grade", string(top.AcquisitionGrade)),
					)
				}
			}
			return nil // individual failures never abort the batch
		})
	}

	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "batch processing")
	}

	zap.L().Info("batch complete",
		zap.Int64("succeeded", succeeded.Load()),
		zap.Int64("no_claims", noClaims.Load()),
		zap.Int64("failed", failed.Load()),
	)
	return nil
}

func init() {
	batchCmd.Flags().StringVar(&batchInput, "input", "", "batch manifest file (required)")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max number of domains to process (0 = all)")
	_ = batchCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(batchCmd)
}
