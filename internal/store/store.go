package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"grid-trader-go/internal/engine"
)

// ErrRunNotFound 按 run id 查不到归档
var ErrRunNotFound = errors.New("run not found")

// RunRecord 一次运行（回测或模拟盘）的汇总。完整报告以 JSON 保存，金额字段保存十进制字符串。
type RunRecord struct {
	ID             string `gorm:"primaryKey;size:36"`
	Symbol         string `gorm:"index;size:32"`
	Mode           string `gorm:"size:16"`
	StartedAt      time.Time
	FinishedAt     time.Time
	RealizedPnL    string
	UnrealizedPnL  string
	LastPrice      string
	Fills          int
	Trips          int
	BoundaryEvents int
	CancelFailures int
	ReportJSON     string
	CreatedAt      time.Time
}

// FillRecord 单笔成交，便于按 SQL 做事后分析。
type FillRecord struct {
	ID        uint   `gorm:"primaryKey"`
	RunID     string `gorm:"index;size:36"`
	Seq       int
	OrderID   string `gorm:"size:64"`
	Side      string `gorm:"size:8"`
	Price     string
	Quantity  string
	Fee       string
	FeeAsset  string `gorm:"size:8"`
	Timestamp time.Time `gorm:"index"`
}

// ReportStore 基于 SQLite（纯 Go 驱动）的报告归档。
type ReportStore struct {
	db *gorm.DB
}

// Open 打开（必要时创建）归档库并迁移表结构。
func Open(path string) (*ReportStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.AutoMigrate(&RunRecord{}, &FillRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &ReportStore{db: db}, nil
}

// SaveReport 在一个事务里写入汇总与成交明细，返回新的 run id。
func (s *ReportStore) SaveReport(ctx context.Context, mode string, r *engine.Report) (string, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	id := uuid.NewString()
	run := RunRecord{
		ID:             id,
		Symbol:         r.Symbol,
		Mode:           mode,
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
		RealizedPnL:    r.RealizedPnL.String(),
		UnrealizedPnL:  r.UnrealizedPnL.String(),
		LastPrice:      r.LastPrice.String(),
		Fills:          len(r.Fills),
		Trips:          len(r.Trips),
		BoundaryEvents: len(r.BoundaryEvents),
		CancelFailures: len(r.CancelFailures),
		ReportJSON:     string(raw),
	}
	fills := make([]FillRecord, 0, len(r.Fills))
	for i, f := range r.Fills {
		fills = append(fills, FillRecord{
			RunID:     id,
			Seq:       i,
			OrderID:   f.OrderID,
			Side:      string(f.Side),
			Price:     f.Price.String(),
			Quantity:  f.Quantity.String(),
			Fee:       f.Fee.String(),
			FeeAsset:  string(f.FeeAsset),
			Timestamp: f.Timestamp,
		})
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&run).Error; err != nil {
			return err
		}
		if len(fills) > 0 {
			return tx.CreateInBatches(fills, 500).Error
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("save report: %w", err)
	}
	return id, nil
}

// LoadReport 取回完整报告
func (s *ReportStore) LoadReport(ctx context.Context, id string) (*engine.Report, error) {
	var run RunRecord
	err := s.db.WithContext(ctx).First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var r engine.Report
	if err := json.Unmarshal([]byte(run.ReportJSON), &r); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", id, err)
	}
	return &r, nil
}

// ListRuns 按创建时间倒序列出某交易对的运行；symbol 为空时列出全部。
func (s *ReportStore) ListRuns(ctx context.Context, symbol string) ([]RunRecord, error) {
	q := s.db.WithContext(ctx).Omit("report_json").Order("created_at desc")
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	var runs []RunRecord
	err := q.Find(&runs).Error
	return runs, err
}

// Fills 按顺序返回某次运行的成交明细
func (s *ReportStore) Fills(ctx context.Context, runID string) ([]FillRecord, error) {
	var fills []FillRecord
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("seq").Find(&fills).Error
	return fills, err
}

// Close 关闭底层连接
func (s *ReportStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
