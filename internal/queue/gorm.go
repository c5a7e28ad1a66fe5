package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tradegate/internal/store/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormBackend 把任务持久化到 gate_jobs 表，job_id 唯一。
type GormBackend struct {
	db *gorm.DB
}

func NewGormBackend(db *gorm.DB) (*GormBackend, error) {
	if db == nil {
		return nil, fmt.Errorf("queue: gorm db is nil")
	}
	if err := db.AutoMigrate(&model.GateJobModel{}); err != nil {
		return nil, fmt.Errorf("queue: migrate gate_jobs: %w", err)
	}
	return &GormBackend{db: db}, nil
}

func (g *GormBackend) Put(ctx context.Context, job Job) (bool, error) {
	row := model.GateJobModel{
		JobID:     job.ID,
		Payload:   job.Payload,
		Status:    string(StatusPending),
		NextRunAt: job.NextRunAt.UnixMilli(),
		CreatedAt: job.EnqueuedAt,
		UpdatedAt: job.EnqueuedAt,
	}
	res := g.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "job_id"}}, DoNothing: true}).
		Create(&row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 0, nil
}

func (g *GormBackend) Claim(ctx context.Context, now time.Time) (Job, bool, error) {
	var (
		claimed Job
		found   bool
	)
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row model.GateJobModel
		res := tx.Where("status = ? AND next_run_at <= ?", string(StatusPending), now.UnixMilli()).
			Order("next_run_at, id").
			Limit(1).
			Find(&row)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		upd := tx.Model(&model.GateJobModel{}).
			Where("id = ? AND status = ?", row.ID, string(StatusPending)).
			Updates(map[string]any{
				"status":     string(StatusRunning),
				"attempts":   gorm.Expr("attempts + 1"),
				"updated_at": now,
			})
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			// 被其他 worker 抢先
			return nil
		}
		row.Attempts++
		claimed = jobFromModel(row)
		found = true
		return nil
	})
	if err != nil {
		return Job{}, false, err
	}
	return claimed, found, nil
}

func (g *GormBackend) update(ctx context.Context, id string, fields map[string]any) error {
	if _, ok := fields["updated_at"]; !ok {
		fields["updated_at"] = time.Now()
	}
	res := g.db.WithContext(ctx).Model(&model.GateJobModel{}).Where("job_id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("job %s not found", id)
	}
	return nil
}

func (g *GormBackend) Complete(ctx context.Context, id string, now time.Time) error {
	return g.update(ctx, id, map[string]any{"status": string(StatusDone), "last_error": "", "updated_at": now})
}

func (g *GormBackend) Retry(ctx context.Context, id string, nextRunAt time.Time, lastErr string) error {
	return g.update(ctx, id, map[string]any{
		"status":      string(StatusPending),
		"next_run_at": nextRunAt.UnixMilli(),
		"last_error":  lastErr,
	})
}

func (g *GormBackend) Fail(ctx context.Context, id string, lastErr string) error {
	return g.update(ctx, id, map[string]any{"status": string(StatusFailed), "last_error": lastErr})
}

func (g *GormBackend) ResetRunning(ctx context.Context) (int, error) {
	res := g.db.WithContext(ctx).Model(&model.GateJobModel{}).
		Where("status = ?", string(StatusRunning)).
		Updates(map[string]any{"status": string(StatusPending), "updated_at": time.Now()})
	return int(res.RowsAffected), res.Error
}

func (g *GormBackend) Stats(ctx context.Context) (Stats, error) {
	var rows []struct {
		Status string
		N      int64
	}
	err := g.db.WithContext(ctx).Model(&model.GateJobModel{}).
		Select("status, count(*) as n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	for _, r := range rows {
		switch Status(r.Status) {
		case StatusPending:
			st.Pending = r.N
		case StatusRunning:
			st.Running = r.N
		case StatusDone:
			st.Done = r.N
		case StatusFailed:
			st.Failed = r.N
		}
	}
	return st, nil
}

// Lookup 按 job_id 读取任务。
func (g *GormBackend) Lookup(ctx context.Context, id string) (Job, Status, error) {
	var row model.GateJobModel
	err := g.db.WithContext(ctx).Where("job_id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Job{}, "", fmt.Errorf("job %s not found", id)
	}
	if err != nil {
		return Job{}, "", err
	}
	return jobFromModel(row), Status(row.Status), nil
}

func jobFromModel(row model.GateJobModel) Job {
	return Job{
		ID:         row.JobID,
		Payload:    []byte(row.Payload),
		Attempts:   row.Attempts,
		EnqueuedAt: row.CreatedAt,
		NextRunAt:  time.UnixMilli(row.NextRunAt),
		LastError:  row.LastError,
	}
}
