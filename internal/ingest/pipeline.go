package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"knowledgehub/internal/infra/queue"
	"knowledgehub/internal/logger"
	"knowledgehub/internal/metrics"
	"knowledgehub/internal/models"
	"knowledgehub/internal/rag"
	"knowledgehub/internal/rag/parsers"
	"knowledgehub/internal/storage"

	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// GatewayResolver 按知识库的选择器组装向量库网关
type GatewayResolver interface {
	Validate(embeddingModel, vectorStore string) error
	Resolve(embeddingModel, vectorStore string) (rag.VectorStore, error)
}

// SyncResult 一次同步的结果，失败时也会尽量填充
type SyncResult struct {
	KBID               string   `json:"kb_id"`
	ProcessedFileCount int      `json:"processed_file_count"`
	TotalContentLength int      `json:"total_content_length"`
	ProcessedFileNames []string `json:"processed_file_names"`
	FailedFileNames    []string `json:"failed_file_names"`
	ChunkCount         int      `json:"chunk_count"`
}

// PipelineDeps 流水线依赖
type PipelineDeps struct {
	KnowledgeBases *models.KnowledgeBaseService
	Files          *models.SourceFileService
	Blobs          storage.BlobStore
	Parsers        *parsers.Registry
	Splitter       *rag.Splitter
	Gateways       GatewayResolver
	Publisher      queue.Publisher

	// ExtractWorkers 文本抽取并发数，默认 4
	ExtractWorkers int
	// StaleAfter 超过该时长的 syncing 状态可被接管，0 表示从不接管
	StaleAfter time.Duration
}

// Pipeline 知识库同步流水线：抽取、切分、补全元数据、写入向量库
type Pipeline struct {
	kbs        *models.KnowledgeBaseService
	files      *models.SourceFileService
	blobs      storage.BlobStore
	parsers    *parsers.Registry
	splitter   *rag.Splitter
	gateways   GatewayResolver
	publisher  queue.Publisher
	pool       *ants.Pool
	staleAfter time.Duration
	tracer     trace.Tracer
}

// NewPipeline 创建同步流水线
func NewPipeline(deps PipelineDeps) (*Pipeline, error) {
	if deps.KnowledgeBases == nil || deps.Files == nil {
		return nil, errors.New("pipeline: metadata services are required")
	}
	if deps.Blobs == nil {
		return nil, errors.New("pipeline: blob store is required")
	}
	if deps.Gateways == nil {
		return nil, errors.New("pipeline: gateway resolver is required")
	}
	if deps.Parsers == nil {
		deps.Parsers = parsers.NewRegistry()
	}
	if deps.Splitter == nil {
		deps.Splitter = rag.NewSplitter(rag.DefaultChunkSize, rag.DefaultChunkOverlap)
	}
	if deps.Publisher == nil {
		deps.Publisher = queue.NoopPublisher{}
	}
	workers := deps.ExtractWorkers
	if workers <= 0 {
		workers = 4
	}

	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("创建抽取协程池失败: %w", err)
	}

	return &Pipeline{
		kbs:        deps.KnowledgeBases,
		files:      deps.Files,
		blobs:      deps.Blobs,
		parsers:    deps.Parsers,
		splitter:   deps.Splitter,
		gateways:   deps.Gateways,
		publisher:  deps.Publisher,
		pool:       pool,
		staleAfter: deps.StaleAfter,
		tracer:     otel.Tracer("knowledgehub/internal/ingest"),
	}, nil
}

// Release 释放抽取协程池
func (p *Pipeline) Release() {
	p.pool.Release()
}

// candidate 一个待处理的源文件
type candidate struct {
	entry  storage.Entry
	file   *models.SourceFile
	parser parsers.Parser
	text   string
	err    error
}

// Sync 同步知识库的全部源文件
//
// 返回的 SyncResult 在失败时同样有效，记录已处理与失败的文件。
func (p *Pipeline) Sync(ctx context.Context, kbID string) (*SyncResult, error) {
	ctx, span := p.tracer.Start(ctx, "Pipeline.Sync", trace.WithAttributes(attribute.String("kb.id", kbID)))
	defer span.End()

	start := time.Now()
	result := &SyncResult{KBID: kbID, ProcessedFileNames: []string{}, FailedFileNames: []string{}}

	kb, err := p.kbs.GetKnowledgeBase(ctx, kbID)
	if err != nil {
		return result, &PersistenceError{Op: "load knowledge base", Err: err}
	}
	if kb == nil {
		return result, &NotFoundError{Resource: "knowledge base", ID: kbID}
	}

	ok, err := p.kbs.BeginSync(ctx, kbID, p.staleAfter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "begin sync failed")
		return result, &PersistenceError{Op: "mark knowledge base syncing", Err: err}
	}
	if !ok {
		metrics.SyncRunsTotal.WithLabelValues("rejected").Inc()
		return result, &SyncInProgressError{KBID: kbID}
	}

	err = p.run(ctx, kb, result)
	p.finish(ctx, kb, result, err, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sync failed")
	}
	span.SetAttributes(
		attribute.Int("sync.processed_files", result.ProcessedFileCount),
		attribute.Int("sync.failed_files", len(result.FailedFileNames)),
		attribute.Int("sync.chunks", result.ChunkCount),
	)
	return result, err
}

func (p *Pipeline) run(ctx context.Context, kb *models.KnowledgeBase, result *SyncResult) error {
	log := logger.WithContext(ctx).With(zap.String("kb_id", kb.KBID))

	entries, err := p.blobs.List(kb.KBID)
	if err != nil {
		return &PersistenceError{Op: "list source files", Err: err}
	}

	candidates, err := p.resolve(ctx, kb, entries)
	if err != nil {
		return err
	}
	p.extract(ctx, candidates)

	var chunks []rag.Chunk
	processedIDs := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c.err != nil {
			log.Warn("源文件抽取失败", zap.String("file_id", c.file.FileID), zap.String("file", c.file.Filename), zap.Error(c.err))
			result.FailedFileNames = append(result.FailedFileNames, c.file.Filename)
			metrics.SyncFilesTotal.WithLabelValues("failed").Inc()
			if err := p.files.UpdateStatus(ctx, c.file.FileID, models.FileStatusFailed, c.err.Error()); err != nil {
				return &PersistenceError{Op: "mark file failed", Err: err}
			}
			continue
		}

		chunks = append(chunks, rag.Enrich(kb, c.file, p.splitter.Split(c.text))...)
		if err := p.files.UpdateStatus(ctx, c.file.FileID, models.FileStatusSyncing, ""); err != nil {
			return &PersistenceError{Op: "mark file syncing", Err: err}
		}
		processedIDs = append(processedIDs, c.file.FileID)
		result.ProcessedFileNames = append(result.ProcessedFileNames, c.file.Filename)
		result.ProcessedFileCount++
		result.TotalContentLength += utf8.RuneCountInString(c.text)
		metrics.SyncFilesTotal.WithLabelValues("processed").Inc()
	}

	if result.ProcessedFileCount == 0 {
		return &NoDocumentsError{KBID: kb.KBID, FailedFiles: result.FailedFileNames}
	}

	store, err := p.gateways.Resolve(kb.EmbeddingModel, kb.VectorStore)
	if err != nil {
		return err
	}
	if err := p.index(ctx, store, kb, chunks); err != nil {
		return err
	}
	result.ChunkCount = len(chunks)
	metrics.ChunksIndexedTotal.WithLabelValues(kb.VectorStore).Add(float64(len(chunks)))

	if err := p.kbs.CompleteSync(ctx, kb.KBID, processedIDs); err != nil {
		return &PersistenceError{Op: "commit sync result", Err: err}
	}
	log.Info("知识库同步完成",
		zap.Int("processed", result.ProcessedFileCount),
		zap.Int("failed", len(result.FailedFileNames)),
		zap.Int("chunks", result.ChunkCount),
	)
	return nil
}

// resolve 把存储条目对应到源文件记录和解析器，找不到记录或格式不支持的条目跳过
func (p *Pipeline) resolve(ctx context.Context, kb *models.KnowledgeBase, entries []storage.Entry) ([]*candidate, error) {
	log := logger.WithContext(ctx).With(zap.String("kb_id", kb.KBID))

	candidates := make([]*candidate, 0, len(entries))
	for _, entry := range entries {
		var (
			file *models.SourceFile
			err  error
		)
		if fileID, ok := models.FileIDFromStoredName(entry.Name); ok {
			file, err = p.files.GetSourceFile(ctx, kb.KBID, fileID)
		} else {
			file, err = p.files.FindByFilename(ctx, kb.KBID, entry.Name)
		}
		if err != nil {
			return nil, &PersistenceError{Op: "load source file", Err: err}
		}
		if file == nil {
			log.Warn("存储中的文件没有对应记录，跳过", zap.String("name", entry.Name))
			metrics.SyncFilesTotal.WithLabelValues("skipped").Inc()
			continue
		}

		parser, err := p.parsers.Resolve(parsers.ExtOf(entry.Name))
		if err != nil {
			log.Warn("不支持的文件格式，跳过", zap.String("file", file.Filename), zap.Error(err))
			metrics.SyncFilesTotal.WithLabelValues("skipped").Inc()
			continue
		}
		candidates = append(candidates, &candidate{entry: entry, file: file, parser: parser})
	}
	return candidates, nil
}

// extract 在协程池中并发抽取文本，全部完成后返回
func (p *Pipeline) extract(ctx context.Context, candidates []*candidate) {
	_, span := p.tracer.Start(ctx, "Pipeline.Extract", trace.WithAttributes(attribute.Int("files", len(candidates))))
	defer span.End()

	var wg sync.WaitGroup
	for _, c := range candidates {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			c.text, c.err = p.extractOne(c)
		}
		if err := p.pool.Submit(task); err != nil {
			// 协程池已关闭时在当前协程执行
			task()
		}
	}
	wg.Wait()
}

func (p *Pipeline) extractOne(c *candidate) (string, error) {
	rc, err := p.blobs.Open(c.entry.Path)
	if err != nil {
		return "", &parsers.ExtractionError{File: c.file.Filename, Err: err}
	}
	defer rc.Close()
	return parsers.Extract(c.parser, c.file.Filename, rc)
}

// index 清空命名空间后写入全部分块
func (p *Pipeline) index(ctx context.Context, store rag.VectorStore, kb *models.KnowledgeBase, chunks []rag.Chunk) error {
	namespace := kb.VectorNamespace()
	ctx, span := p.tracer.Start(ctx, "Pipeline.Index", trace.WithAttributes(
		attribute.String("vector.namespace", namespace),
		attribute.String("vector.store", kb.VectorStore),
		attribute.Int("chunks", len(chunks)),
	))
	defer span.End()

	if err := store.Clear(ctx, namespace); err != nil {
		span.RecordError(err)
		return &GatewayError{Op: "clear", Namespace: namespace, Err: err}
	}
	if err := rag.InsertChunks(ctx, store, namespace, chunks); err != nil {
		span.RecordError(err)
		return &GatewayError{Op: "insert", Namespace: namespace, Err: err}
	}
	return nil
}

// finish 记录失败状态、指标并发布事件，均为尽力而为
func (p *Pipeline) finish(ctx context.Context, kb *models.KnowledgeBase, result *SyncResult, runErr error, elapsed time.Duration) {
	ctx = context.WithoutCancel(ctx)
	log := logger.WithContext(ctx).With(zap.String("kb_id", kb.KBID))

	status := models.KBStatusSynced
	eventType := queue.TypeKnowledgeBaseSynced
	if runErr != nil {
		status = models.KBStatusFailed
		eventType = queue.TypeKnowledgeBaseSyncFailed
		if err := p.kbs.FailSync(ctx, kb.KBID); err != nil {
			log.Error("写入同步失败状态失败", zap.Error(err))
		}
		log.Warn("知识库同步失败", zap.Error(runErr))
	}
	metrics.SyncRunsTotal.WithLabelValues(status).Inc()
	metrics.SyncDuration.WithLabelValues(status).Observe(elapsed.Seconds())

	event := queue.SyncEvent{
		KBID:           kb.KBID,
		Status:         status,
		ProcessedFiles: result.ProcessedFileNames,
		FailedFiles:    result.FailedFileNames,
		ChunkCount:     result.ChunkCount,
		OccurredAt:     time.Now().UTC(),
	}
	if runErr != nil {
		event.Error = runErr.Error()
	}
	if err := p.publisher.Publish(ctx, eventType, event); err != nil {
		log.Warn("发布同步事件失败", zap.String("type", eventType), zap.Error(err))
	}
}
