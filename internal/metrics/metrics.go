package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// API 指标
var (
	// APIRequestsTotal API 请求总数
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbhub_api_requests_total",
			Help: "API 请求总数",
		},
		[]string{"method", "path", "status"},
	)

	// APIRequestDuration API 请求延迟（秒）
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kbhub_api_request_duration_seconds",
			Help:    "API 请求延迟分布",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// APIRequestSize API 请求体大小（字节），上传接口为主要来源
	APIRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kbhub_api_request_size_bytes",
			Help:    "API 请求体大小分布",
			Buckets: []float64{1e3, 1e4, 1e5, 1e6, 1e7, 1e8},
		},
		[]string{"method", "path"},
	)
)

// 同步流水线指标
var (
	// SyncRunsTotal 同步次数，status: synced / failed / rejected
	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbhub_sync_runs_total",
			Help: "知识库同步次数",
		},
		[]string{"status"},
	)

	// SyncDuration 同步耗时（秒）
	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kbhub_sync_duration_seconds",
			Help:    "知识库同步耗时分布",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 180, 600},
		},
		[]string{"status"},
	)

	// SyncFilesTotal 单文件处理结果，outcome: processed / failed / skipped
	SyncFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbhub_sync_files_total",
			Help: "同步中处理的文件数",
		},
		[]string{"outcome"},
	)

	// ChunksIndexedTotal 写入向量库的分块数
	ChunksIndexedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbhub_chunks_indexed_total",
			Help: "写入向量库的分块总数",
		},
		[]string{"vector_store"},
	)

	// UploadsTotal 入库文件数，source: upload / url
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbhub_uploads_total",
			Help: "上传或抓取入库的文件数",
		},
		[]string{"source"},
	)
)

// LifecycleEventsTotal worker 消费的知识库事件数，result: ok / invalid
var LifecycleEventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "kbhub_lifecycle_events_total",
		Help: "消费的知识库生命周期事件数",
	},
	[]string{"type", "result"},
)
