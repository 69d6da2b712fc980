package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"rag-knowledge-platform/internal/ai"
	"rag-knowledge-platform/internal/telemetry"
	"rag-knowledge-platform/internal/vectorstore"
	"rag-knowledge-platform/models"
)

const (
	RefusalMessage = "I can’t find this in the provided documents."

	RemoteContextBlockedMessage = "Remote provider is selected, but remote context sharing is disabled by policy. Switch provider or ask without document context."

	systemPrompt = "You are a document assistant. Answer ONLY from CONTEXT. If unsupported, respond exactly: " + RefusalMessage
)

// Query outcomes reported in QueryDebug.Outcome and metrics.
const (
	OutcomeAnswered             = "answered"
	OutcomeRefused              = "refused"
	OutcomeRemoteContextBlocked = "remote_context_blocked"
	OutcomeError                = "error"
)

const (
	dedupePrefixChars = 250
	retrievalDebugTop = 5
)

var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "is": {}, "are": {}, "for": {}, "to": {}, "of": {},
	"in": {}, "on": {}, "and": {}, "or": {}, "what": {}, "how": {}, "where": {},
	"when": {}, "why": {},
}

var nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]+`)

// Generator is the part of the provider gateway used for answers.
type Generator interface {
	Generate(ctx context.Context, messages []ai.Message, kind models.ProviderKind) (ai.GenerateResult, error)
}

// EffectiveProviderResolver resolves the providers for a user.
type EffectiveProviderResolver interface {
	Effective(ctx context.Context, userID string) (models.EffectiveProviders, error)
}

// QueryConfig holds the retrieval and ranking knobs.
type QueryConfig struct {
	Candidates       int
	MaxCitations     int
	ContextMaxChars  int
	MinAnswerability float64
	VectorWeight     float64
	LexicalWeight    float64
	SnippetChars     int
}

func DefaultQueryConfig() QueryConfig {
	return QueryConfig{
		Candidates:       16,
		MaxCitations:     6,
		ContextMaxChars:  16000,
		MinAnswerability: 0.15,
		VectorWeight:     0.7,
		LexicalWeight:    0.3,
		SnippetChars:     180,
	}
}

type QueryOptions struct {
	Embedder  Embedder
	Generator Generator
	Vectors   vectorstore.Store
	Providers EffectiveProviderResolver
	Config    QueryConfig
	Logger    *slog.Logger
	Metrics   *telemetry.Metrics
}

// QueryService answers questions from indexed documents.
type QueryService struct {
	embedder  Embedder
	generator Generator
	vectors   vectorstore.Store
	providers EffectiveProviderResolver
	cfg       QueryConfig
	logger    *slog.Logger
	metrics   *telemetry.Metrics
	tracer    trace.Tracer
}

func NewQueryService(opts QueryOptions) *QueryService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryService{
		embedder:  opts.Embedder,
		generator: opts.Generator,
		vectors:   opts.Vectors,
		providers: opts.Providers,
		cfg:       opts.Config,
		logger:    logger,
		metrics:   opts.Metrics,
		tracer:    otel.Tracer("query"),
	}
}

type QueryRequest struct {
	UserID      string
	Question    string
	DocumentIDs []string
}

type QueryResult struct {
	Answer    string            `json:"answer"`
	Citations []models.Citation `json:"citations"`
	Debug     QueryDebug        `json:"debug"`
}

type QueryDebug struct {
	Outcome              string           `json:"outcome"`
	Answerability        float64          `json:"answerability"`
	Keywords             []string         `json:"keywords"`
	TimingsMS            map[string]int64 `json:"timings_ms"`
	EmbedProvider        string           `json:"embed_provider,omitempty"`
	EmbedModel           string           `json:"embed_model,omitempty"`
	EmbedFallback        bool             `json:"embed_fallback"`
	EmbedFallbackReason  string           `json:"embed_fallback_reason,omitempty"`
	ChatProvider         string           `json:"chat_provider,omitempty"`
	ChatModel            string           `json:"chat_model,omitempty"`
	CandidateCount       int              `json:"candidate_count"`
	ContextCharCount     int              `json:"context_char_count"`
	ChunksIncluded       int              `json:"chunks_included"`
	RemoteContextBlocked bool             `json:"remote_context_blocked"`
	Retrieval            []RetrievalDebug `json:"retrieval,omitempty"`
}

type RetrievalDebug struct {
	ChunkID  string  `json:"chunk_id"`
	Title    string  `json:"title"`
	Vector   float64 `json:"vector_score"`
	Lexical  float64 `json:"lexical_score"`
	Combined float64 `json:"combined_score"`
}

type candidate struct {
	hit      vectorstore.SearchResult
	lexical  float64
	combined float64
}

// NormalizeQuestion collapses whitespace and trims.
func NormalizeQuestion(q string) string {
	return NormalizeText(q)
}

// ExtractKeywords lowercases, splits on non-alphanumerics and drops short
// tokens and stopwords. Duplicates are removed, first occurrence wins.
func ExtractKeywords(question string) []string {
	tokens := nonAlphanumeric.Split(strings.ToLower(NormalizeQuestion(question)), -1)
	seen := make(map[string]struct{}, len(tokens))
	keywords := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if len(t) <= 2 {
			continue
		}
		if _, stop := stopwords[t]; stop {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		keywords = append(keywords, t)
	}
	return keywords
}

// LexicalOverlap is the fraction of keywords found in text.
func LexicalOverlap(keywords []string, text string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	matches := 0
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			matches++
		}
	}
	return float64(matches) / float64(len(keywords))
}

// Answer runs the retrieval pipeline. A refusal and a blocked remote context
// are results, not errors; provider and vector store failures are errors.
func (s *QueryService) Answer(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, "query.answer", trace.WithAttributes(
		attribute.Int("filter.documents", len(req.DocumentIDs)),
	))
	defer span.End()

	res, err := s.answer(ctx, req)
	outcome := OutcomeError
	if err == nil {
		outcome = res.Debug.Outcome
		res.Debug.TimingsMS["total"] = time.Since(started).Milliseconds()
	} else {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("query.outcome", outcome))
	s.metrics.RecordQuery(outcome, time.Since(started).Seconds())
	return res, err
}

func (s *QueryService) answer(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	question := NormalizeQuestion(req.Question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is empty", ErrInvalidInput)
	}
	keywords := ExtractKeywords(question)

	res := &QueryResult{
		Citations: []models.Citation{},
		Debug: QueryDebug{
			Keywords:  keywords,
			TimingsMS: make(map[string]int64),
		},
	}

	eff, err := s.providers.Effective(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("resolve providers: %w", err)
	}
	res.Debug.ChatProvider = string(eff.Chat)

	t := time.Now()
	emb, err := s.embedder.Embed(ctx, question, eff.Embed)
	res.Debug.TimingsMS["embed"] = time.Since(t).Milliseconds()
	if err != nil {
		return nil, err
	}
	res.Debug.EmbedProvider = emb.Provider
	res.Debug.EmbedModel = emb.Model
	res.Debug.EmbedFallback = emb.FellBack
	res.Debug.EmbedFallbackReason = emb.FallbackReason

	t = time.Now()
	hits, err := s.vectors.Search(ctx, emb.Vector, s.cfg.Candidates, vectorstore.Filter{DocumentIDs: req.DocumentIDs})
	res.Debug.TimingsMS["retrieval"] = time.Since(t).Milliseconds()
	if errors.Is(err, vectorstore.ErrCollectionNotFound) {
		hits, err = nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("search vectors: %w", err)
	}

	candidates := make([]candidate, len(hits))
	answerability := 0.0
	for i, h := range hits {
		lexical := LexicalOverlap(keywords, h.Payload.Content)
		candidates[i] = candidate{
			hit:      h,
			lexical:  lexical,
			combined: s.cfg.VectorWeight*h.Score + s.cfg.LexicalWeight*lexical,
		}
		answerability = max(answerability, lexical)
	}
	res.Debug.CandidateCount = len(candidates)
	res.Debug.Answerability = answerability
	res.Debug.Retrieval = retrievalDebug(candidates)

	if answerability < s.cfg.MinAnswerability {
		res.Answer = RefusalMessage
		res.Debug.Outcome = OutcomeRefused
		return res, nil
	}

	t = time.Now()
	ranked := s.rerank(candidates)
	res.Debug.TimingsMS["rerank"] = time.Since(t).Milliseconds()

	if eff.Chat == models.ProviderRemote && !eff.AllowRemoteContext {
		s.logger.Info("Remote context blocked by policy", "user_id", req.UserID, "candidates", len(ranked))
		res.Answer = RemoteContextBlockedMessage
		res.Citations = s.citations(ranked)
		res.Debug.Outcome = OutcomeRemoteContextBlocked
		res.Debug.RemoteContextBlocked = true
		return res, nil
	}

	contextText, included := s.assembleContext(ranked)
	res.Debug.ContextCharCount = utf8.RuneCountInString(contextText)
	res.Debug.ChunksIncluded = len(included)
	if len(included) == 0 {
		res.Answer = RefusalMessage
		res.Debug.Outcome = OutcomeRefused
		return res, nil
	}

	messages := []ai.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: "Question: " + question + "\n\nCONTEXT:\n" + contextText + "\n\nReturn concise answer and cite supporting chunks by bracket numbers."},
	}

	t = time.Now()
	gen, err := s.generator.Generate(ctx, messages, eff.Chat)
	res.Debug.TimingsMS["generation"] = time.Since(t).Milliseconds()
	if err != nil {
		return nil, err
	}
	answer := strings.TrimSpace(gen.Text)
	if answer == "" {
		return nil, &ai.ProviderError{Op: ai.OpChat, Provider: gen.Provider, Err: errors.New("empty response")}
	}

	res.Answer = answer
	res.Citations = s.citations(included)
	res.Debug.ChatProvider = gen.Provider
	res.Debug.ChatModel = gen.Model
	res.Debug.Outcome = OutcomeAnswered
	return res, nil
}

// rerank orders by combined score keeping retrieval order on ties, drops
// candidates whose leading content repeats an earlier one and caps the list.
func (s *QueryService) rerank(candidates []candidate) []candidate {
	sorted := make([]candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].combined > sorted[j].combined })

	seen := make(map[string]struct{}, len(sorted))
	out := make([]candidate, 0, s.cfg.MaxCitations)
	for _, c := range sorted {
		key := truncateRunes(c.hit.Payload.Content, dedupePrefixChars)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
		if len(out) == s.cfg.MaxCitations {
			break
		}
	}
	return out
}

// assembleContext numbers chunks from 1 and stops before the first block
// that would exceed the character budget.
func (s *QueryService) assembleContext(ranked []candidate) (string, []candidate) {
	var sb strings.Builder
	size := 0
	included := make([]candidate, 0, len(ranked))
	for _, c := range ranked {
		title := c.hit.Payload.Title
		if title == "" {
			title = "Untitled"
		}
		section := fmt.Sprintf("[%d] %s (%s)\n%s\n\n", len(included)+1, title, location(c.hit.Payload), c.hit.Payload.Content)
		n := utf8.RuneCountInString(section)
		if size+n > s.cfg.ContextMaxChars {
			break
		}
		sb.WriteString(section)
		size += n
		included = append(included, c)
	}
	return sb.String(), included
}

func (s *QueryService) citations(cands []candidate) []models.Citation {
	out := make([]models.Citation, 0, len(cands))
	for i, c := range cands {
		p := c.hit.Payload
		chunkID := p.ChunkID
		if chunkID == "" {
			chunkID = c.hit.ID
		}
		title := p.Title
		if title == "" {
			title = "Unknown"
		}
		out = append(out, models.Citation{
			Index:       i + 1,
			ChunkID:     chunkID,
			DocumentID:  p.DocumentID,
			Title:       title,
			PageOrSlide: pageOrSlide(p),
			Snippet:     truncateRunes(p.Content, s.cfg.SnippetChars),
			Score:       c.combined,
		})
	}
	return out
}

func location(p vectorstore.Payload) string {
	switch {
	case p.PageNumber > 0:
		return fmt.Sprintf("page %d", p.PageNumber)
	case p.SlideNumber > 0:
		return fmt.Sprintf("slide %d", p.SlideNumber)
	}
	return "document"
}

func pageOrSlide(p vectorstore.Payload) string {
	switch {
	case p.PageNumber > 0:
		return fmt.Sprintf("Page %d", p.PageNumber)
	case p.SlideNumber > 0:
		return fmt.Sprintf("Slide %d", p.SlideNumber)
	}
	return "N/A"
}

func retrievalDebug(cands []candidate) []RetrievalDebug {
	n := min(len(cands), retrievalDebugTop)
	out := make([]RetrievalDebug, 0, n)
	for _, c := range cands[:n] {
		out = append(out, RetrievalDebug{
			ChunkID:  c.hit.ID,
			Title:    c.hit.Payload.Title,
			Vector:   c.hit.Score,
			Lexical:  c.lexical,
			Combined: c.combined,
		})
	}
	return out
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
