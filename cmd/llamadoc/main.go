package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Acorn2/llama-doc-sub000/internal/application/service"
	"github.com/Acorn2/llama-doc-sub000/internal/config"
	"github.com/Acorn2/llama-doc-sub000/internal/domain/repository"
	"github.com/Acorn2/llama-doc-sub000/internal/infrastructure/chunking"
	embedProvider "github.com/Acorn2/llama-doc-sub000/internal/infrastructure/embedding"
	"github.com/Acorn2/llama-doc-sub000/internal/infrastructure/extractor"
	"github.com/Acorn2/llama-doc-sub000/internal/infrastructure/mq/kafka"
	"github.com/Acorn2/llama-doc-sub000/internal/infrastructure/persistence"
	"github.com/Acorn2/llama-doc-sub000/internal/infrastructure/queue"
	"github.com/Acorn2/llama-doc-sub000/internal/infrastructure/storage"
	"github.com/Acorn2/llama-doc-sub000/internal/infrastructure/vectordb"
	"github.com/Acorn2/llama-doc-sub000/internal/initial"
	"github.com/Acorn2/llama-doc-sub000/internal/scheduler"
	"github.com/Acorn2/llama-doc-sub000/pkg/zlog"

	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// 1. 加载配置与日志
	conf := config.GetConfig()
	zlog.Init(conf.LogConfig.LogPath)
	defer zlog.Sync()

	ctx := context.Background()

	// 2. 基础设施（initial 包在 import 时已建立 MySQL/Milvus 连接）
	docRepo := persistence.NewDocumentRepository(initial.GormDB)
	kbDocRepo := persistence.NewKBDocumentRepository(initial.GormDB)

	embedder, meta, err := embedProvider.NewEmbedderFromConfig(ctx, conf)
	if err != nil {
		zlog.Fatal("embedder init failed: " + err.Error())
	}
	zlog.Info("embedder ready",
		zap.String("provider", meta.Provider),
		zap.String("model", meta.Model),
		zap.Int("dim", meta.Dim),
	)

	vectorIndex, err := vectordb.NewMilvusIndex(initial.MilvusClient, embedder, meta.Dim, conf.MilvusConfig.MetricType)
	if err != nil {
		zlog.Fatal("vector index init failed: " + err.Error())
	}

	fileStorage := storage.NewResolver(&conf.StorageConfig)
	chunker := chunking.NewRecursiveChunker(conf.ProcessConfig.ChunkSize, conf.ProcessConfig.ChunkOverlap)
	engine := extractor.NewEngine(chunker)

	// 3. 应用服务
	taskSvc := service.NewProcessTaskService(docRepo, fileStorage, engine, vectorIndex)
	syncSvc := service.NewSyncTaskService(docRepo, kbDocRepo, vectorIndex, conf.SyncConfig.MaxRetries)

	// 4. 调度器
	syncPoller := scheduler.NewVectorSyncPoller(kbDocRepo, syncSvc, scheduler.VectorSyncPollerConfig{
		Interval:     time.Duration(conf.SyncConfig.PollIntervalSeconds) * time.Second,
		PendingBatch: conf.SyncConfig.PendingBatchSize,
		RetryBatch:   conf.SyncConfig.RetryBatchSize,
		Cooldown:     time.Duration(conf.SyncConfig.RetryCooldownSeconds) * time.Second,
	})
	syncPoller.Start()

	reconciler := scheduler.NewReconciler(docRepo, kbDocRepo, time.Duration(conf.ProcessConfig.StaleCeilingMinutes)*time.Minute)
	reconciler.Start()

	// 5. 处理执行器：Kafka 消费者或轮询器，二选一
	var docPoller *scheduler.DocumentPoller
	var worker *queue.ProcessConsumerWorker
	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	if conf.KafkaConfig.Enabled {
		worker = startKafkaWorker(workerCtx, conf, taskSvc, docRepo)
	} else {
		docPoller = scheduler.NewDocumentPoller(docRepo, taskSvc, scheduler.DocumentPollerConfig{
			Interval:     time.Duration(conf.ProcessConfig.PollIntervalSeconds) * time.Second,
			PendingBatch: conf.ProcessConfig.PendingBatchSize,
			RetryBatch:   conf.ProcessConfig.RetryBatchSize,
			Cooldown:     time.Duration(conf.ProcessConfig.RetryCooldownSeconds) * time.Second,
		})
		docPoller.Start()
	}

	// 周期性输出两条流水线的状态计数
	statusSvc := service.NewStatusService(docRepo, kbDocRepo)
	statusTicker := time.NewTicker(time.Minute)
	defer statusTicker.Stop()
	go func() {
		for range statusTicker.C {
			snap, err := statusSvc.Snapshot(ctx)
			if err != nil {
				zlog.Warn("status snapshot failed", zap.Error(err))
				continue
			}
			zlog.Info("pipeline status",
				zap.Any("documents", snap.Documents),
				zap.Any("sync_links", snap.SyncLinks),
				zap.Int64("sync_in_flight", syncPoller.InFlight()),
			)
		}
	}()

	zlog.Info("llamadoc started", zap.String("app", conf.AppName))

	// 6. 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("shutting down")
	if docPoller != nil {
		docPoller.Stop(shutdownTimeout)
	}
	syncPoller.Stop(shutdownTimeout)
	reconciler.Stop()
	cancelWorker()
	if worker != nil {
		_ = worker.Close()
	}
	zlog.Info("llamadoc stopped")
}

func startKafkaWorker(ctx context.Context, conf *config.Config, taskSvc *service.ProcessTaskService, docRepo repository.DocumentRepository) *queue.ProcessConsumerWorker {
	kc := conf.KafkaConfig

	if err := kafka.EnsureTopic(kafka.TopicAdminConfig{
		Brokers:  kc.Brokers,
		ClientID: kc.ClientID,
	}, kc.ProcessTopic, kc.Partitions, kc.Replication); err != nil {
		zlog.Fatal("ensure kafka topic failed: " + err.Error())
	}

	publisher, err := kafka.NewPublisher(kafka.PublisherConfig{
		Brokers:  kc.Brokers,
		ClientID: kc.ClientID,
	})
	if err != nil {
		zlog.Fatal("kafka publisher init failed: " + err.Error())
	}

	enqueueSvc, err := service.NewEnqueueService(publisher, kc.ProcessTopic)
	if err != nil {
		zlog.Fatal("enqueue service init failed: " + err.Error())
	}

	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:  kc.Brokers,
		GroupID:  kc.ConsumerGroupID,
		Topics:   []string{kc.ProcessTopic},
		ClientID: kc.ClientID,
	})
	if err != nil {
		zlog.Fatal("kafka consumer init failed: " + err.Error())
	}

	worker := queue.NewProcessConsumerWorker(consumer, taskSvc, enqueueSvc, docRepo)
	go func() {
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			zlog.Error("process consumer worker exited", zap.Error(err))
		}
	}()
	zlog.Info("process consumer worker started",
		zap.Strings("brokers", kc.Brokers),
		zap.String("topic", kc.ProcessTopic),
		zap.String("group", kc.ConsumerGroupID),
	)
	return worker
}
