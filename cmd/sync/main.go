// Package main 是同步命令行工具，把后端与知识库数据写入向量索引。
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"gym-coach-go/internal/config"
	"gym-coach-go/internal/model"
	"gym-coach-go/internal/repository"
	"gym-coach-go/internal/service"
	"gym-coach-go/pkg/backend"
	"gym-coach-go/pkg/database"
	"gym-coach-go/pkg/embedding"
	"gym-coach-go/pkg/log"
	"gym-coach-go/pkg/retry"
	"gym-coach-go/pkg/storage"
	"gym-coach-go/pkg/tika"
)

var (
	configPath    string
	exercisesOnly bool
	userID        int64
	allUsers      bool
	days          int
	withKnowledge bool
	skipVerify    bool
	since         string

	rootCmd = &cobra.Command{
		Use:   "sync",
		Short: "Sync exercises, workouts and knowledge documents into the vector index",
		Example: `  sync                       # exercises + recent workouts of all users
  sync --exercises-only      # only exercises
  sync --user 2 --days 90    # workouts of user 2, last 90 days
  sync --knowledge           # also sync knowledge documents from MinIO`,
		SilenceUsage: true,
		RunE:         runSync,
	}
)

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "./configs/config.yaml", "config file path")
	rootCmd.Flags().BoolVar(&exercisesOnly, "exercises-only", false, "only sync exercises (skip workouts)")
	rootCmd.Flags().Int64Var(&userID, "user", 0, "only sync workouts of this user id")
	rootCmd.Flags().BoolVar(&allUsers, "all-users", false, "sync workouts of all users (default when --user is not set)")
	rootCmd.Flags().IntVar(&days, "days", 180, "days of workout history to sync")
	rootCmd.Flags().BoolVar(&withKnowledge, "knowledge", false, "also sync knowledge documents")
	rootCmd.Flags().BoolVar(&skipVerify, "skip-verify", false, "skip pre-flight checks")
	rootCmd.Flags().StringVar(&since, "since", "", "incremental sync: only entities changed after this RFC3339 time")
	rootCmd.MarkFlagsMutuallyExclusive("exercises-only", "user")
	rootCmd.MarkFlagsMutuallyExclusive("user", "all-users")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// plan 根据命令行参数生成需要执行的同步任务，顺序即执行顺序。
func plan() ([]model.SyncTask, error) {
	var sinceAt time.Time
	if since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return nil, fmt.Errorf("invalid --since: %w", err)
		}
		sinceAt = t
	}

	var tasks []model.SyncTask
	switch {
	case exercisesOnly:
		tasks = append(tasks, model.SyncTask{Type: model.SyncTypeExercises, Since: sinceAt})
	case userID > 0:
		uid := userID
		tasks = append(tasks, model.SyncTask{Type: model.SyncTypeWorkouts, UserID: &uid, Days: days, Since: sinceAt})
	default:
		tasks = append(tasks,
			model.SyncTask{Type: model.SyncTypeExercises, Since: sinceAt},
			model.SyncTask{Type: model.SyncTypeWorkouts, Days: days, Since: sinceAt},
		)
	}
	if withKnowledge {
		tasks = append(tasks, model.SyncTask{Type: model.SyncTypeKnowledge, Since: sinceAt})
	}
	return tasks, nil
}

func runSync(cmd *cobra.Command, _ []string) error {
	tasks, err := plan()
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	vectors, err := repository.NewVectorRepository(ctx, cfg)
	if err != nil {
		return fmt.Errorf("vector index: %w", err)
	}
	retryPolicy := retry.FromConfig(cfg.Retry, 0)
	backendClient := backend.NewClient(cfg.Backend, retryPolicy)

	if !skipVerify {
		fmt.Fprintln(cmd.OutOrStdout(), "Running pre-flight checks...")
		if err := backendClient.Ping(ctx); err != nil {
			return fmt.Errorf("backend is not reachable, check backend.base_url and backend.service_token: %w", err)
		}
		if err := vectors.Ping(ctx); err != nil {
			return fmt.Errorf("vector index is not reachable: %w", err)
		}
	}

	var syncRepo repository.SyncRepository
	if cfg.Database.MySQL.DSN != "" {
		db, err := database.OpenMySQL(cfg.Database.MySQL.DSN)
		if err != nil {
			return fmt.Errorf("mysql: %w", err)
		}
		syncRepo = repository.NewSyncRepository(db)
	}

	var knowledge service.KnowledgeSource
	var extractor service.TextExtractor
	if withKnowledge {
		store, err := storage.NewKnowledgeStore(ctx, cfg.MinIO)
		if err != nil {
			return fmt.Errorf("minio: %w", err)
		}
		knowledge = store
		if cfg.Tika.ServerURL != "" {
			extractor = tika.NewClient(cfg.Tika)
		}
	}

	cache, err := embedding.NewCache(cfg.Embedding.CacheCapacity)
	if err != nil {
		return err
	}
	embeddingService := embedding.NewService(embedding.NewOpenAIProvider(cfg.Embedding), cache, cfg.Embedding.Dimensions, retryPolicy)
	syncService := service.NewSyncService(backendClient, embeddingService, vectors, syncRepo, knowledge, extractor)

	start := time.Now()
	var failed []string
	out := cmd.OutOrStdout()
	for _, task := range tasks {
		result, err := syncService.Run(ctx, task)
		if err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", task.Key(), err))
			continue
		}
		fmt.Fprintf(out, "✓ %-10s synced %d, skipped %d (%s)\n", result.SyncType, result.Synced, result.Skipped, result.Duration.Round(time.Millisecond))
	}
	fmt.Fprintf(out, "Total duration: %s\n", time.Since(start).Round(time.Millisecond))

	if len(failed) > 0 {
		for _, f := range failed {
			fmt.Fprintf(cmd.ErrOrStderr(), "✗ %s\n", f)
		}
		return fmt.Errorf("%d sync task(s) failed", len(failed))
	}
	return nil
}
