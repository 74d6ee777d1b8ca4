// Package cleanup は期限切れセッションの自動削除ジョブを提供する。
// 期限切れセッションは参照時に遅延削除されるが、二度と参照されない
// セッションも残るため、定期バッチで掃き出す。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ExpiredDeleter は期限切れセッションの一括削除インターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type ExpiredDeleter interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SweptRecorder は削除件数のメトリクス記録インターフェース。
type SweptRecorder interface {
	RecordSessionsSwept(count int64)
}

// CleanupJob は期限切れセッションの自動削除ジョブ。
// 定期実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type CleanupJob struct {
	sessions ExpiredDeleter
	logger   *slog.Logger
	metrics  SweptRecorder // nilの場合は記録しない

	// nowはテストで時刻を差し替えるためのフック。
	now func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(sessions ExpiredDeleter, logger *slog.Logger, metrics SweptRecorder) *CleanupJob {
	return &CleanupJob{
		sessions: sessions,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Run は期限切れセッションを削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	deletedCount, err := j.sessions.DeleteExpired(ctx, j.now())
	if err != nil {
		j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	if j.metrics != nil {
		j.metrics.RecordSessionsSwept(deletedCount)
	}

	duration := time.Since(start)
	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// RunPeriodic はinterval間隔でRunを繰り返し実行する。
// コンテキストのキャンセルで停止する。起動直後にも一度実行する。
func (j *CleanupJob) RunPeriodic(ctx context.Context, interval time.Duration) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("初回クリーンアップに失敗しました", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("定期クリーンアップに失敗しました", slog.String("error", err.Error()))
			}
		case <-ctx.Done():
			return
		}
	}
}
