// Package pipeline orchestrates the four resolution stages for a domain:
// signal extraction, candidate scoring, registry matching with claim
// assembly, and arbitration. Every stage outcome is persisted before the
// next stage starts so an interrupted run remains inspectable.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/entity-resolver/internal/arbiter"
	"github.com/sells-group/entity-resolver/internal/claims"
	"github.com/sells-group/entity-resolver/internal/config"
	"github.com/sells-group/entity-resolver/internal/extractor"
	"github.com/sells-group/entity-resolver/internal/matcher"
	"github.com/sells-group/entity-resolver/internal/model"
	"github.com/sells-group/entity-resolver/internal/resilience"
	"github.com/sells-group/entity-resolver/internal/scorer"
	"github.com/sells-group/entity-resolver/internal/store"
	"github.com/sells-group/entity-resolver/pkg/gleif"
)

// Request is one raw dump submitted for resolution. RunID is optional; when
// set it becomes the run identifier, letting async callers hand out the ID
// before the run finishes.
type Request struct {
	RunID    string            `json:"run_id,omitempty"`
	Domain   string            `json:"domain"`
	URL      string            `json:"url,omitempty"`
	HTML     string            `json:"html"`
	Meta     map[string]string `json:"meta,omitempty"`
	SourceID string            `json:"source_id,omitempty"`
}

// Runner wires the stages together. Extractor, scorer, and engine are shared
// across runs; the matcher is created per run so its lookup cache never
// leaks between domains.
type Runner struct {
	cfg     *config.Config
	store   store.Store
	extract *extractor.Extractor
	scorer  *scorer.Scorer
	gleif   gleif.Client
	engine  *arbiter.Engine
}

// New creates a Runner with all dependencies.
func New(
	cfg *config.Config,
	st store.Store,
	ex *extractor.Extractor,
	sc *scorer.Scorer,
	gc gleif.Client,
	engine *arbiter.Engine,
) *Runner {
	return &Runner{
		cfg:     cfg,
		store:   st,
		extract: ex,
		scorer:  sc,
		gleif:   gc,
		engine:  engine,
	}
}

// Resolve runs a single domain through all stages and returns the processing
// result. A zero-claim run returns ErrNoClaims with the run left at its last
// stage status: nothing was arbitrated, so the run is neither completed nor
// failed. Arbitration failures mark the run failed and enqueue a dead-letter
// entry. Stage persistence errors are logged and do not abort the run.
func (r *Runner) Resolve(ctx context.Context, req Request) (*model.ProcessingResult, error) {
	if req.Domain == "" {
		return nil, eris.New("pipeline: domain is required")
	}

	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	now := time.Now().UTC()
	res := &model.ProcessingResult{
		RunID:     runID,
		Domain:    req.Domain,
		SourceID:  req.SourceID,
		Status:    model.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.CreateProcessingResult(ctx, res); err != nil {
		return nil, eris.Wrap(err, "pipeline: create processing result")
	}

	log := zap.L().With(zap.String("domain", req.Domain), zap.String("run_id", res.RunID))
	log.Info("pipeline: starting resolution")
	started := time.Now()

	persistStage := func(status model.ProcessingStatus, snapshot any) {
		if !res.Advance(status) {
			log.Warn("pipeline: illegal status transition skipped",
				zap.String("from", string(res.Status)), zap.String("to", string(status)))
			return
		}
		if err := r.store.UpdateStage(ctx, res.RunID, status, snapshot); err != nil {
			log.Warn("pipeline: stage persistence failed",
				zap.String("stage", string(status)), zap.Error(err))
		}
	}

	// Stage 1: signal extraction.
	stageStart := time.Now()
	signals := r.extract.ProduceSignals(extractor.PageSnapshot{
		Domain: req.Domain,
		URL:    req.URL,
		HTML:   req.HTML,
		Meta:   req.Meta,
	})
	res.Stage1 = &model.Stage1Snapshot{
		Signals:          signals,
		ProcessingTimeMs: time.Since(stageStart).Milliseconds(),
	}
	persistStage(model.StatusStage1, res.Stage1)
	log.Debug("pipeline: signals extracted", zap.Int("count", len(signals)))

	// Stage 2: candidate scoring. Rejected signals are kept for audit.
	stageStart = time.Now()
	var candidates []model.Candidate
	var rejected []model.Signal
	for _, sig := range signals {
		if c := r.scorer.Score(sig); c != nil {
			candidates = append(candidates, *c)
		} else {
			rejected = append(rejected, sig)
		}
	}
	res.Stage2 = &model.Stage2Snapshot{
		Candidates:       candidates,
		Rejected:         rejected,
		ProcessingTimeMs: time.Since(stageStart).Milliseconds(),
	}
	persistStage(model.StatusStage2, res.Stage2)
	log.Debug("pipeline: candidates scored",
		zap.Int("accepted", len(candidates)), zap.Int("rejected", len(rejected)))

	// Stage 3: registry matching and claim assembly. An unreachable registry
	// degrades the run to website evidence only instead of failing it.
	stageStart = time.Now()
	domainTLD := extractor.DomainTLD(req.Domain)
	matches, registryErr := r.matchRegistry(ctx, candidates, req.Domain, domainTLD)
	claimList := claims.Build(candidates, matches, domainTLD)
	res.Stage3 = &model.Stage3Snapshot{
		Claims:           claimList,
		RegistryEntities: matchEntities(matches),
		ProcessingTimeMs: time.Since(stageStart).Milliseconds(),
	}
	if registryErr != nil {
		res.Stage3.RegistryError = registryErr.Error()
		log.Warn("pipeline: registry unavailable, continuing degraded", zap.Error(registryErr))
	}
	persistStage(model.StatusStage3, res.Stage3)

	if len(claimList) == 0 {
		log.Info("pipeline: no claims produced, skipping arbitration")
		return res, ErrNoClaims
	}

	// Stage 4: arbitration. The advisory oracle inside the engine runs under
	// the configured timeout; deterministic ranking is unaffected by it.
	stageStart = time.Now()
	arbCtx := ctx
	if r.cfg.Anthropic.TimeoutSecs > 0 {
		var cancel context.CancelFunc
		arbCtx, cancel = context.WithTimeout(ctx, time.Duration(r.cfg.Anthropic.TimeoutSecs)*time.Second)
		defer cancel()
	}
	arbRes, err := r.engine.Arbitrate(arbCtx, claimList, arbiter.Options{
		MuteRankingRules: r.cfg.Pipeline.MuteRankingRules,
		JurisdictionBias: r.cfg.Pipeline.JurisdictionBias,
		ParentPreference: r.cfg.Pipeline.ParentPreference,
	})
	if err != nil {
		return res, r.failRun(ctx, res, "stage4", err, log)
	}
	if registryErr != nil {
		arbRes.Reasoning += " Caveat: registry unavailable during matching; registry claims omitted."
	}

	res.Stage4 = &model.Stage4Snapshot{
		Result:           arbRes,
		ProcessingTimeMs: time.Since(stageStart).Milliseconds(),
	}
	persistStage(model.StatusStage4, res.Stage4)

	if err := r.store.SaveArbitrationResult(ctx, res.RunID, arbRes); err != nil {
		log.Warn("pipeline: arbitration persistence failed", zap.Error(err))
	}

	res.FinalResult = arbRes
	res.ProcessingTimeMs = time.Since(started).Milliseconds()
	res.Advance(model.StatusCompleted)
	if err := r.store.CompleteProcessingResult(ctx, res.RunID, arbRes, res.ProcessingTimeMs); err != nil {
		return res, eris.Wrap(err, "pipeline: complete processing result")
	}

	log.Info("pipeline: resolution completed",
		zap.Int("claims", len(claimList)),
		zap.Int64("duration_ms", res.ProcessingTimeMs),
	)
	return res, nil
}

// matchRegistry queries the registry for the primary candidate name. A
// RegistryUnavailableError is returned for the caller to record; any other
// outcome yields the matches as ranked by the matcher.
func (r *Runner) matchRegistry(ctx context.Context, candidates []model.Candidate, domain, domainTLD string) ([]matcher.Match, error) {
	lookupName := ""
	if primary := claims.SelectPrimary(candidates); primary != nil {
		lookupName = primary.Name
	} else if parsed := extractor.ParseDomainName(domain); parsed != "" {
		lookupName = parsed
	}
	if lookupName == "" {
		return nil, nil
	}

	mctx := matcher.Context{DomainTLD: domainTLD}
	if country := extractor.TLDCountry(domain); country != "" {
		mctx.JurisdictionHints = []string{country}
	}

	m := matcher.NewWithResilience(r.gleif, r.cfg.Matcher,
		resilience.FromRetryConfig(r.cfg.GLEIF.RetryAttempts),
		resilience.FromCircuitConfig(r.cfg.GLEIF.FailureThreshold, r.cfg.GLEIF.ResetTimeoutSecs))
	return m.Match(ctx, lookupName, mctx)
}

// failRun marks the run failed and enqueues it for retry. Persistence errors
// here are logged only: the caller still gets the original failure.
func (r *Runner) failRun(ctx context.Context, res *model.ProcessingResult, stage string, cause error, log *zap.Logger) error {
	res.Status = model.StatusFailed
	res.ErrorMessage = ErrorCode(cause) + ": " + cause.Error()
	res.ProcessingTimeMs = time.Since(res.CreatedAt).Milliseconds()
	log.Error("pipeline: run failed", zap.String("stage", stage), zap.Error(cause))

	if err := r.store.FailProcessingResult(ctx, res.RunID, res.ErrorMessage); err != nil {
		log.Warn("pipeline: failure persistence failed", zap.Error(err))
	}

	now := time.Now().UTC()
	entry := resilience.DLQEntry{
		ID:           uuid.NewString(),
		Domain:       res.Domain,
		RunID:        res.RunID,
		SourceID:     res.SourceID,
		Error:        cause.Error(),
		ErrorType:    resilience.ClassifyError(cause),
		FailedStage:  stage,
		MaxRetries:   r.cfg.Pipeline.MaxDLQRetries,
		NextRetryAt:  now,
		CreatedAt:    now,
		LastFailedAt: now,
	}
	if err := r.store.AddDLQEntry(ctx, entry); err != nil {
		log.Warn("pipeline: dead letter enqueue failed", zap.Error(err))
	}

	return cause
}

// IsStale reports whether a non-terminal run has been sitting without
// progress longer than staleAfter. Readers treat a stale processing run as
// abandoned by a crashed worker.
func IsStale(res *model.ProcessingResult, staleAfter time.Duration) bool {
	if res == nil || res.Status.Terminal() || staleAfter <= 0 {
		return false
	}
	return time.Since(res.UpdatedAt) > staleAfter
}

func matchEntities(matches []matcher.Match) []model.GLEIFEntity {
	if len(matches) == 0 {
		return nil
	}
	out := make([]model.GLEIFEntity, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.Entity)
	}
	return out
}
