// Package orchestrator wires the memory tiers into one engine. It owns
// the ingestion path (preprocess, short-term insert, periodic promotion
// into mid-term) and the retrieval path (parallel tier queries under a
// per-tier deadline, aggregation, compression into a context bundle).
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/AgonDise/memory-layer-lab/aggregate"
	"github.com/AgonDise/memory-layer-lab/compress"
	"github.com/AgonDise/memory-layer-lab/config"
	"github.com/AgonDise/memory-layer-lab/ltm"
	"github.com/AgonDise/memory-layer-lab/memory"
	"github.com/AgonDise/memory-layer-lab/mtm"
	"github.com/AgonDise/memory-layer-lab/preprocess"
	"github.com/AgonDise/memory-layer-lab/stm"
	"github.com/AgonDise/memory-layer-lab/summarize"
)

// DefaultPreserveRecent is how many of the newest short-term turns the
// compressor force-keeps under the score_based strategy.
const DefaultPreserveRecent = 2

// recencyHalfLife drives the short-term base score decay: a turn this old
// scores half a fresh one.
const recencyHalfLife = 10 * time.Minute

// Options shapes a single GetContext call.
type Options struct {
	NRecent            int
	NChunks            int
	NLTM               int
	UseLTM             bool
	UseEmbeddingSearch bool
}

// DefaultOptions returns the standard retrieval shape.
func DefaultOptions() Options {
	return Options{
		NRecent:            5,
		NChunks:            3,
		NLTM:               5,
		UseLTM:             true,
		UseEmbeddingSearch: true,
	}
}

// QueryInfo echoes the preprocessed query in the bundle.
type QueryInfo struct {
	Raw              string   `json:"raw"`
	Normalized       string   `json:"normalized"`
	Intent           string   `json:"intent"`
	Keywords         []string `json:"keywords"`
	EmbeddingPresent bool     `json:"embedding_present"`
}

// ContextItem is one entry of the final context bundle.
type ContextItem struct {
	Source         string            `json:"source"`
	Content        string            `json:"content"`
	FinalScore     float64           `json:"final_score"`
	BaseScore      float64           `json:"base_score"`
	RelevanceScore float64           `json:"relevance_score"`
	Truncated      bool              `json:"truncated,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// CompressionInfo reports the compression stage.
type CompressionInfo struct {
	Strategy         string  `json:"strategy"`
	OriginalTokens   int     `json:"original_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	CompressionRatio float64 `json:"compression_ratio"`
	ItemsKept        int     `json:"items_kept"`
	ItemsRemoved     int     `json:"items_removed"`
}

// Counts reports per-tier retrieval sizes before aggregation.
type Counts struct {
	STM int `json:"stm"`
	MTM int `json:"mtm"`
	LTM int `json:"ltm"`
}

// Timings reports per-stage latency in milliseconds.
type Timings struct {
	Preprocess int64 `json:"preprocess"`
	STM        int64 `json:"stm"`
	MTM        int64 `json:"mtm"`
	LTM        int64 `json:"ltm"`
	Aggregate  int64 `json:"aggregate"`
	Compress   int64 `json:"compress"`
	Total      int64 `json:"total"`
}

// Bundle is the result of GetContext.
type Bundle struct {
	Query       QueryInfo       `json:"query"`
	Items       []ContextItem   `json:"items"`
	Compression CompressionInfo `json:"compression"`
	Counts      Counts          `json:"counts"`
	TimingsMS   Timings         `json:"timings_ms"`
	Timeouts    []string        `json:"timeouts,omitempty"`
	Errors      []string        `json:"errors,omitempty"`
}

// Stats is a point-in-time view of the tiers.
type Stats struct {
	STMCount          int `json:"stm_count"`
	MTMCount          int `json:"mtm_count"`
	LTMCount          int `json:"ltm_count"`
	TurnsSinceSummary int `json:"turns_since_last_summary"`
}

type promotion struct {
	turns []memory.Turn
	done  chan struct{}
}

// Orchestrator coordinates the tiers. AddMessage calls are serialized;
// GetContext calls run concurrently with each other and with ingestion.
type Orchestrator struct {
	cfg        config.Config
	pre        *preprocess.Preprocessor
	stm        *stm.Memory
	mtm        *mtm.Memory
	ltm        *ltm.Hybrid
	summarizer summarize.Summarizer
	agg        *aggregate.Aggregator
	comp       *compress.Compressor
	log        *zap.Logger
	metrics    *Metrics

	preserveRecent int

	addMu             sync.Mutex
	turnsSinceSummary int

	promotions chan promotion
	workerDone chan struct{}
	closeOnce  sync.Once
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger; default is a nop logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// WithLTM attaches a long-term tier; without one, GetContext skips LTM.
func WithLTM(h *ltm.Hybrid) Option {
	return func(o *Orchestrator) { o.ltm = h }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithPreserveRecent overrides how many recent short-term turns
// compression force-keeps.
func WithPreserveRecent(n int) Option {
	return func(o *Orchestrator) { o.preserveRecent = n }
}

// New creates an orchestrator and starts its promotion worker.
func New(cfg config.Config, pre *preprocess.Preprocessor, short *stm.Memory, mid *mtm.Memory, summarizer summarize.Summarizer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:        cfg,
		pre:        pre,
		stm:        short,
		mtm:        mid,
		summarizer: summarizer,
		agg: aggregate.New(aggregate.Config{
			WeightSTM:      cfg.Aggregator.Weights.STM,
			WeightMTM:      cfg.Aggregator.Weights.MTM,
			WeightLTM:      cfg.Aggregator.Weights.LTM,
			Alpha:          cfg.Aggregator.Alpha,
			DedupThreshold: cfg.Aggregator.DedupThreshold,
		}),
		comp:           compress.New(compress.WithLambda(cfg.Compressor.MMRLambda)),
		log:            zap.NewNop(),
		preserveRecent: DefaultPreserveRecent,
		promotions:     make(chan promotion, 16),
		workerDone:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	go o.promotionWorker()
	return o
}

// Close stops the promotion worker after draining pending promotions.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		close(o.promotions)
		<-o.workerDone
	})
}

// AddMessage preprocesses content, stores it as a short-term turn, and
// every summarize_every turns hands the newest run to the promotion
// worker. The promotion itself never blocks this call.
func (o *Orchestrator) AddMessage(ctx context.Context, role memory.Role, content string) (memory.Turn, error) {
	if !role.Valid() {
		return memory.Turn{}, fmt.Errorf("add message: role %q: %w", role, memory.ErrInvalidArgument)
	}
	if content == "" {
		return memory.Turn{}, fmt.Errorf("add message: empty content: %w", memory.ErrInvalidArgument)
	}

	q := o.pre.Process(ctx, content)
	turn := memory.NewTurn(role, content)
	turn.Embedding = q.Embedding
	turn.Intent = q.Intent
	turn.Keywords = q.Keywords

	o.addMu.Lock()
	defer o.addMu.Unlock()

	turn = o.stm.Add(turn)
	if o.metrics != nil {
		o.metrics.messages.Inc()
	}

	o.turnsSinceSummary++
	if o.turnsSinceSummary >= o.cfg.SummarizeEvery {
		o.turnsSinceSummary = 0
		o.promotions <- promotion{turns: o.stm.RecentTurns(o.cfg.SummarizeEvery)}
	}
	return turn, nil
}

// promotionWorker summarizes promotion jobs strictly in order.
func (o *Orchestrator) promotionWorker() {
	defer close(o.workerDone)
	for job := range o.promotions {
		if job.turns != nil {
			o.promote(job.turns)
		}
		if job.done != nil {
			close(job.done)
		}
	}
}

func (o *Orchestrator) promote(turns []memory.Turn) {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.TierDeadline())
	defer cancel()

	chunk, err := o.summarizer.Summarize(ctx, turns)
	if err != nil {
		o.log.Error("promotion summarize failed", zap.Int("turns", len(turns)), zap.Error(err))
		return
	}
	o.mtm.AddChunk(ctx, chunk)
	if o.metrics != nil {
		o.metrics.promotions.Inc()
	}
	o.log.Debug("promoted turns to mtm",
		zap.String("chunk_id", chunk.ID),
		zap.Int("turns", len(turns)))
}

// Flush blocks until every promotion enqueued so far has completed.
func (o *Orchestrator) Flush() {
	done := make(chan struct{})
	o.promotions <- promotion{done: done}
	<-done
}

// GetContext runs the full retrieval pipeline. Per-tier failures and
// deadline misses degrade to empty tiers recorded in the bundle; the only
// returned errors are invalid arguments.
func (o *Orchestrator) GetContext(ctx context.Context, query string, opts Options) (*Bundle, error) {
	if opts.NRecent < 0 || opts.NChunks < 0 || opts.NLTM < 0 {
		return nil, fmt.Errorf("get context: negative retrieval size: %w", memory.ErrInvalidArgument)
	}
	start := time.Now()
	if o.metrics != nil {
		o.metrics.contextRequests.Inc()
		defer func() {
			o.metrics.contextLatency.Observe(time.Since(start).Seconds())
		}()
	}

	q := o.pre.Process(ctx, query)
	bundle := &Bundle{
		Query: QueryInfo{
			Raw:              q.RawText,
			Normalized:       q.NormalizedText,
			Intent:           q.Intent,
			Keywords:         q.Keywords,
			EmbeddingPresent: q.Embedding != nil,
		},
	}
	bundle.TimingsMS.Preprocess = time.Since(start).Milliseconds()

	// Nothing to retrieve against.
	if q.NormalizedText == "" {
		bundle.Compression.Strategy = string(o.cfg.CompressStrategy())
		bundle.TimingsMS.Total = time.Since(start).Milliseconds()
		return bundle, nil
	}

	qEmb := q.Embedding
	if !opts.UseEmbeddingSearch {
		qEmb = nil
	}

	var (
		wg                     sync.WaitGroup
		stmRes, mtmRes, ltmRes tierResult
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		stmRes = o.runTier(ctx, "stm", func(tctx context.Context) ([]aggregate.Item, error) {
			return o.retrieveSTM(tctx, opts.NRecent, qEmb)
		})
	}()
	go func() {
		defer wg.Done()
		mtmRes = o.runTier(ctx, "mtm", func(tctx context.Context) ([]aggregate.Item, error) {
			return o.retrieveMTM(tctx, opts.NChunks, qEmb)
		})
	}()
	if opts.UseLTM && o.ltm != nil && opts.NLTM > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ltmRes = o.runTier(ctx, "ltm", func(tctx context.Context) ([]aggregate.Item, error) {
				return o.retrieveLTM(tctx, opts.NLTM, qEmb, q.Keywords)
			})
		}()
	}
	wg.Wait()

	for _, res := range []tierResult{stmRes, mtmRes, ltmRes} {
		if res.timedOut {
			bundle.Timeouts = append(bundle.Timeouts, res.name)
			if o.metrics != nil {
				o.metrics.tierTimeouts.WithLabelValues(res.name).Inc()
			}
		}
		if res.err != nil {
			bundle.Errors = append(bundle.Errors, fmt.Sprintf("%s: %v", res.name, res.err))
		}
	}
	bundle.Counts = Counts{STM: len(stmRes.items), MTM: len(mtmRes.items), LTM: len(ltmRes.items)}
	bundle.TimingsMS.STM = stmRes.ms
	bundle.TimingsMS.MTM = mtmRes.ms
	bundle.TimingsMS.LTM = ltmRes.ms

	aggStart := time.Now()
	all := make([]aggregate.Item, 0, len(stmRes.items)+len(mtmRes.items)+len(ltmRes.items))
	all = append(all, stmRes.items...)
	all = append(all, mtmRes.items...)
	all = append(all, ltmRes.items...)
	aggregated := o.agg.Aggregate(all, qEmb)
	bundle.TimingsMS.Aggregate = time.Since(aggStart).Milliseconds()

	compStart := time.Now()
	compressed, err := o.comp.Compress(
		o.compressInput(aggregated, all),
		o.cfg.Compressor.MaxTokens,
		o.cfg.CompressStrategy(),
		o.preserveRecent,
	)
	if err != nil {
		return nil, err
	}
	bundle.TimingsMS.Compress = time.Since(compStart).Milliseconds()

	for _, it := range compressed.Items {
		bundle.Items = append(bundle.Items, ContextItem{
			Source:         it.Source,
			Content:        it.Content,
			FinalScore:     it.Score,
			BaseScore:      it.Base,
			RelevanceScore: it.Relevance,
			Truncated:      it.Truncated,
			Metadata:       it.Metadata,
		})
	}
	bundle.Compression = CompressionInfo{
		Strategy:         string(compressed.Strategy),
		OriginalTokens:   compressed.OriginalTokens,
		TotalTokens:      compressed.TotalTokens,
		CompressionRatio: compressed.CompressionRatio,
		ItemsKept:        compressed.ItemsKept,
		ItemsRemoved:     compressed.ItemsRemoved,
	}
	bundle.TimingsMS.Total = time.Since(start).Milliseconds()
	return bundle, nil
}

type tierResult struct {
	name     string
	items    []aggregate.Item
	ms       int64
	timedOut bool
	err      error
}

// runTier executes one tier retrieval under the configured deadline. A
// missed deadline or failure yields an empty tier; it never fails the
// caller.
func (o *Orchestrator) runTier(ctx context.Context, name string, fn func(context.Context) ([]aggregate.Item, error)) tierResult {
	tctx, cancel := context.WithTimeout(ctx, o.cfg.TierDeadline())
	defer cancel()

	start := time.Now()
	type outcome struct {
		items []aggregate.Item
		err   error
	}
	ch := make(chan outcome, 1)
	go func() {
		items, err := fn(tctx)
		ch <- outcome{items: items, err: err}
	}()

	res := tierResult{name: name}
	select {
	case out := <-ch:
		res.items = out.items
		if out.err != nil {
			o.log.Warn("tier retrieval failed", zap.String("tier", name), zap.Error(out.err))
			res.items = nil
			res.err = out.err
		}
	case <-tctx.Done():
		o.log.Warn("tier retrieval deadline missed", zap.String("tier", name))
		res.timedOut = true
	}
	res.ms = time.Since(start).Milliseconds()
	return res
}

func (o *Orchestrator) retrieveSTM(ctx context.Context, n int, qEmb []float32) ([]aggregate.Item, error) {
	if n == 0 {
		return nil, nil
	}
	scored := o.stm.GetRecent(n, qEmb)
	now := time.Now()
	items := make([]aggregate.Item, 0, len(scored))
	for _, s := range scored {
		items = append(items, aggregate.Item{
			Source:    aggregate.SourceSTM,
			Content:   s.Turn.Content,
			Embedding: s.Turn.Embedding,
			Base:      aggregate.BaseFromRecency(s.Turn.CreatedAt, now, recencyHalfLife),
			Relevance: float64(s.Similarity),
			Metadata: map[string]string{
				"turn_id":    s.Turn.ID,
				"role":       string(s.Turn.Role),
				"created_at": s.Turn.CreatedAt.Format(time.RFC3339Nano),
			},
		})
	}
	return items, nil
}

func (o *Orchestrator) retrieveMTM(ctx context.Context, n int, qEmb []float32) ([]aggregate.Item, error) {
	if n == 0 {
		return nil, nil
	}

	var chunks []memory.Chunk
	var scores []float64
	if qEmb != nil {
		for _, s := range o.mtm.SearchByEmbedding(qEmb, n) {
			chunks = append(chunks, s.Chunk)
			scores = append(scores, float64(s.Score))
		}
	} else {
		for _, c := range o.mtm.GetRecentChunks(n) {
			chunks = append(chunks, c)
			scores = append(scores, 0)
		}
	}

	// Base score follows chunk position: newer chunks rank higher.
	order := make([]int, len(chunks))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return chunks[order[a]].CreatedAt.Before(chunks[order[b]].CreatedAt)
	})
	base := make([]float64, len(chunks))
	for pos, idx := range order {
		base[idx] = aggregate.BaseFromPosition(pos, len(chunks))
	}

	items := make([]aggregate.Item, 0, len(chunks))
	for i, c := range chunks {
		items = append(items, aggregate.Item{
			Source:    aggregate.SourceMTM,
			Content:   c.Summary,
			Embedding: c.Embedding,
			Base:      base[i],
			Relevance: scores[i],
			Metadata: map[string]string{
				"chunk_id":   c.ID,
				"importance": strconv.FormatFloat(c.Importance, 'f', -1, 64),
			},
		})
	}
	return items, nil
}

func (o *Orchestrator) retrieveLTM(ctx context.Context, n int, qEmb []float32, keywords []string) ([]aggregate.Item, error) {
	res, err := o.ltm.Query(ctx, ltm.Query{
		Embedding:   qEmb,
		Keywords:    keywords,
		TopK:        n,
		Strategy:    o.cfg.LTMStrategy(),
		ExpandDepth: o.cfg.LTM.ExpandDepth,
	})
	if err != nil {
		return nil, err
	}
	if res.Degraded {
		o.log.Warn("ltm retrieval degraded")
	}

	items := make([]aggregate.Item, 0, len(res.Items))
	for _, it := range res.Items {
		base := 0.5
		if imp := it.Metadata["importance"]; imp != "" {
			if v, err := strconv.ParseFloat(imp, 64); err == nil {
				base = v
			}
		}
		meta := map[string]string{"source_detail": it.Source}
		for k, v := range it.Metadata {
			meta[k] = v
		}
		if it.VectorID != "" {
			meta["vector_id"] = it.VectorID
		}
		if it.GraphEntityID != "" {
			meta["graph_entity_id"] = it.GraphEntityID
		}
		items = append(items, aggregate.Item{
			Source:    aggregate.SourceLTM,
			Content:   it.Content,
			Base:      base,
			Relevance: float64(it.Score),
			Metadata:  meta,
		})
	}
	return items, nil
}

// compressInput joins aggregated results with the embeddings and
// timestamps the aggregator does not carry.
func (o *Orchestrator) compressInput(results []aggregate.Result, tierItems []aggregate.Item) []compress.Item {
	type extra struct {
		emb     []float32
		created time.Time
	}
	lookup := make(map[string]extra, len(tierItems))
	for _, it := range tierItems {
		key := it.Source + "\x00" + it.Content
		created := time.Time{}
		if ts := it.Metadata["created_at"]; ts != "" {
			created, _ = time.Parse(time.RFC3339Nano, ts)
		}
		lookup[key] = extra{emb: it.Embedding, created: created}
	}

	items := compress.FromAggregate(results)
	for i := range items {
		if ex, ok := lookup[items[i].Source+"\x00"+items[i].Content]; ok {
			items[i].Embedding = ex.emb
			items[i].CreatedAt = ex.created
		}
	}
	return items
}

// Stats reports current tier sizes.
func (o *Orchestrator) Stats(ctx context.Context) Stats {
	o.addMu.Lock()
	pending := o.turnsSinceSummary
	o.addMu.Unlock()

	s := Stats{
		STMCount:          o.stm.Len(),
		MTMCount:          o.mtm.Len(),
		TurnsSinceSummary: pending,
	}
	if o.ltm != nil {
		if n, err := o.ltm.Count(ctx); err == nil {
			s.LTMCount = n
		}
	}
	return s
}

// ClearAll empties the short-term and mid-term tiers and resets the
// promotion counter. Long-term storage is left untouched.
func (o *Orchestrator) ClearAll() {
	o.addMu.Lock()
	defer o.addMu.Unlock()
	o.stm.Clear()
	o.mtm.Clear()
	o.turnsSinceSummary = 0
}
