package worker

import (
	"context"

	"knowledgehub/internal/config"
	"knowledgehub/internal/infra/queue"
	"knowledgehub/internal/worker/handlers"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Server 知识库事件消费者
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *zap.Logger
}

func NewServer(cfg config.RedisConfig, concurrency int, logger *zap.Logger) *Server {
	if concurrency <= 0 {
		concurrency = 2
	}
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Addr(),
			Password: cfg.Password,
			DB:       cfg.DB,
		},
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				queue.EventsQueue: 1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("任务执行失败",
					zap.String("type", task.Type()),
					zap.Error(err),
				)
			}),
		},
	)

	mux := asynq.NewServeMux()
	eventHandler := handlers.NewEventHandler(logger)
	mux.HandleFunc(queue.TypeKnowledgeBaseSynced, eventHandler.HandleLifecycleEvent)
	mux.HandleFunc(queue.TypeKnowledgeBaseSyncFailed, eventHandler.HandleLifecycleEvent)

	return &Server{
		server: srv,
		mux:    mux,
		logger: logger,
	}
}

// Start 非阻塞启动
func (s *Server) Start() error {
	s.logger.Info("事件消费者启动中 (后台)...")
	return s.server.Start(s.mux)
}

// Shutdown 停止消费者，等待进行中的任务结束
func (s *Server) Shutdown() {
	s.logger.Info("事件消费者停止中...")
	s.server.Shutdown()
}
