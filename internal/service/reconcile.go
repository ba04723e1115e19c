// reconcile.go — фоновая сверка корня загрузок с таблицей files.
//
// Обнаруживает:
//   - orphaned_file: файл на диске без активной записи
//   - missing_file: активная запись без файла на диске
//   - size_mismatch: размер на диске не совпадает с записью
//   - checksum_mismatch: SHA-256 на диске не совпадает с записью
//   - stale_temp: временный файл прерванной записи
//
// Сироты и временные файлы старше orphanGrace удаляются: за это время
// любая штатная загрузка успевает создать запись.
package service

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jjgordon89/JSG-Inspection-sub000/internal/repository"
	"github.com/jjgordon89/JSG-Inspection-sub000/internal/storage/filestore"
)

// Prometheus метрики сверки
var (
	reconcileRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fm_reconcile_runs_total",
		Help: "Общее количество запусков сверки хранилища",
	})

	reconcileIssuesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fm_reconcile_issues_total",
		Help: "Общее количество проблем, обнаруженных сверкой",
	}, []string{"type"})

	reconcileDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fm_reconcile_duration_seconds",
		Help:    "Длительность выполнения сверки в секундах",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	})
)

// ReconcileIssueType — тип расхождения.
type ReconcileIssueType string

const (
	IssueOrphanedFile     ReconcileIssueType = "orphaned_file"
	IssueMissingFile      ReconcileIssueType = "missing_file"
	IssueSizeMismatch     ReconcileIssueType = "size_mismatch"
	IssueChecksumMismatch ReconcileIssueType = "checksum_mismatch"
	IssueStaleTemp        ReconcileIssueType = "stale_temp"
)

// ReconcileIssue — одно расхождение.
type ReconcileIssue struct {
	Type        ReconcileIssueType `json:"type"`
	FileID      string             `json:"fileId,omitempty"`
	Path        string             `json:"path"`
	Description string             `json:"description"`
	// Removed — файл удалён сверкой
	Removed bool `json:"removed,omitempty"`
}

// ReconcileSummary — количество проблем по типам.
type ReconcileSummary struct {
	Ok                 int `json:"ok"`
	OrphanedFiles      int `json:"orphanedFiles"`
	MissingFiles       int `json:"missingFiles"`
	SizeMismatches     int `json:"sizeMismatches"`
	ChecksumMismatches int `json:"checksumMismatches"`
	StaleTemp          int `json:"staleTemp"`
	Removed            int `json:"removed"`
}

// ReconcileResult — результат одного прохода.
type ReconcileResult struct {
	StartedAt    time.Time        `json:"startedAt"`
	CompletedAt  time.Time        `json:"completedAt"`
	FilesChecked int              `json:"filesChecked"`
	Issues       []ReconcileIssue `json:"issues"`
	Summary      ReconcileSummary `json:"summary"`
}

// ReconcileService — сервис фоновой сверки хранилища.
type ReconcileService struct {
	store       *filestore.FileStore
	files       repository.FileRepository
	interval    time.Duration
	orphanGrace time.Duration
	logger      *slog.Logger

	mu        sync.Mutex // защита от параллельного запуска
	inProcess bool
	cancel    context.CancelFunc
	now       func() time.Time
}

// NewReconcileService создаёт сервис сверки.
func NewReconcileService(
	store *filestore.FileStore,
	files repository.FileRepository,
	interval time.Duration,
	orphanGrace time.Duration,
	logger *slog.Logger,
) *ReconcileService {
	return &ReconcileService{
		store:       store,
		files:       files,
		interval:    interval,
		orphanGrace: orphanGrace,
		logger:      logger.With(slog.String("component", "reconcile")),
		now:         time.Now,
	}
}

// Start запускает фоновую горутину сверки с периодическим тикером.
func (rs *ReconcileService) Start(ctx context.Context) {
	rsCtx, cancel := context.WithCancel(ctx)
	rs.cancel = cancel

	go rs.run(rsCtx)

	rs.logger.Info("Сверка хранилища запущена",
		slog.String("interval", rs.interval.String()),
		slog.String("orphan_grace", rs.orphanGrace.String()),
	)
}

// Stop останавливает фоновую сверку.
func (rs *ReconcileService) Stop() {
	if rs.cancel != nil {
		rs.cancel()
	}
	rs.logger.Info("Сверка хранилища остановлена")
}

// IsInProgress возвращает true, если сверка выполняется.
func (rs *ReconcileService) IsInProgress() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.inProcess
}

func (rs *ReconcileService) run(ctx context.Context) {
	ticker := time.NewTicker(rs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := rs.RunOnce(ctx); err != nil && ctx.Err() == nil {
				rs.logger.Error("Ошибка сверки хранилища", slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce выполняет один проход сверки.
// Если сверка уже выполняется, возвращает nil, true, nil.
func (rs *ReconcileService) RunOnce(ctx context.Context) (*ReconcileResult, bool, error) {
	rs.mu.Lock()
	if rs.inProcess {
		rs.mu.Unlock()
		rs.logger.Warn("Сверка уже выполняется, пропуск")
		return nil, true, nil
	}
	rs.inProcess = true
	rs.mu.Unlock()

	defer func() {
		rs.mu.Lock()
		rs.inProcess = false
		rs.mu.Unlock()
	}()

	startedAt := time.Now().UTC()
	rs.logger.Info("Сверка хранилища начата")

	issues, checked, err := rs.reconcile(ctx)
	if err != nil {
		return nil, false, err
	}

	completedAt := time.Now().UTC()
	duration := completedAt.Sub(startedAt)

	summary := ReconcileSummary{}
	for _, issue := range issues {
		switch issue.Type {
		case IssueOrphanedFile:
			summary.OrphanedFiles++
		case IssueMissingFile:
			summary.MissingFiles++
		case IssueSizeMismatch:
			summary.SizeMismatches++
		case IssueChecksumMismatch:
			summary.ChecksumMismatches++
		case IssueStaleTemp:
			summary.StaleTemp++
		}
		if issue.Removed {
			summary.Removed++
		}
		reconcileIssuesTotal.WithLabelValues(string(issue.Type)).Inc()
	}
	summary.Ok = max(checked-summary.MissingFiles-summary.SizeMismatches-summary.ChecksumMismatches, 0)

	reconcileRunsTotal.Inc()
	reconcileDurationSeconds.Observe(duration.Seconds())

	rs.logger.Info("Сверка хранилища завершена",
		slog.Int("files_checked", checked),
		slog.Int("issues", len(issues)),
		slog.Int("removed", summary.Removed),
		slog.Duration("duration", duration),
	)

	if issues == nil {
		issues = []ReconcileIssue{}
	}
	return &ReconcileResult{
		StartedAt:    startedAt,
		CompletedAt:  completedAt,
		FilesChecked: checked,
		Issues:       issues,
		Summary:      summary,
	}, false, nil
}

// reconcile сравнивает файлы на диске с активными записями.
// Возвращает проблемы и количество проверенных записей.
func (rs *ReconcileService) reconcile(ctx context.Context) ([]ReconcileIssue, int, error) {
	// Сначала диск, затем БД: файл, записанный между шагами, окажется
	// сиротой младше orphanGrace и не будет удалён
	onDisk := make(map[string]fs.FileInfo)
	if err := rs.store.Walk(func(p string, info fs.FileInfo) error {
		onDisk[p] = info
		return ctx.Err()
	}); err != nil {
		return nil, 0, fmt.Errorf("ошибка обхода корня загрузок: %w", err)
	}

	refs, err := rs.files.ActiveArtifacts(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка получения активных записей: %w", err)
	}

	var issues []ReconcileIssue
	referenced := make(map[string]bool, len(refs))

	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		referenced[ref.StoragePath] = true

		info, ok := onDisk[ref.StoragePath]
		if !ok {
			issues = append(issues, ReconcileIssue{
				Type:        IssueMissingFile,
				FileID:      ref.ID,
				Path:        ref.StoragePath,
				Description: "Активная запись без файла на диске",
			})
			continue
		}

		if info.Size() != ref.SizeBytes {
			issues = append(issues, ReconcileIssue{
				Type:        IssueSizeMismatch,
				FileID:      ref.ID,
				Path:        ref.StoragePath,
				Description: fmt.Sprintf("Размер на диске %d, в записи %d", info.Size(), ref.SizeBytes),
			})
			continue // при другом размере checksum точно не совпадёт
		}

		checksum, err := rs.store.ComputeChecksum(ref.StoragePath)
		if err != nil {
			rs.logger.Warn("Ошибка вычисления checksum",
				slog.String("path", ref.StoragePath),
				slog.String("error", err.Error()),
			)
			continue
		}
		if checksum != ref.Checksum {
			issues = append(issues, ReconcileIssue{
				Type:        IssueChecksumMismatch,
				FileID:      ref.ID,
				Path:        ref.StoragePath,
				Description: "Checksum файла на диске не совпадает с записью",
			})
		}
	}

	cutoff := rs.now().Add(-rs.orphanGrace)
	for p, info := range onDisk {
		if referenced[p] {
			continue
		}

		issue := ReconcileIssue{
			Type:        IssueOrphanedFile,
			Path:        p,
			Description: "Файл на диске без активной записи",
		}
		if filestore.IsTemp(p) {
			issue.Type = IssueStaleTemp
			issue.Description = "Временный файл незавершённой записи"
		}

		if info.ModTime().Before(cutoff) {
			if err := rs.store.Delete(p); err != nil {
				rs.logger.Warn("Не удалось удалить файл-сироту",
					slog.String("path", p),
					slog.String("error", err.Error()),
				)
			} else {
				issue.Removed = true
				rs.logger.Info("Файл-сирота удалён", slog.String("path", p))
			}
		}
		issues = append(issues, issue)
	}

	return issues, len(refs), nil
}
