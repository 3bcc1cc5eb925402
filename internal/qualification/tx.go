package qualification

import (
	"context"

	"github.com/openisp/ops-backend/internal/buildout"
	"github.com/openisp/ops-backend/internal/coverage"
	"github.com/openisp/ops-backend/internal/metrics"
	"gorm.io/gorm"
)

// TxRunner runs fn with an engine whose reads and writes share one
// transaction. The check and any buildout request it opens commit together.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(e *Engine) error) error
}

type GormRunner struct {
	db      *gorm.DB
	metrics metrics.Recorder
}

func NewGormRunner(d *gorm.DB, rec metrics.Recorder) *GormRunner {
	return &GormRunner{db: d, metrics: rec}
}

func (g *GormRunner) RunInTx(ctx context.Context, fn func(e *Engine) error) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := NewGormRepository(tx)
		return fn(NewEngine(EngineDeps{
			Addresses:      repo,
			Qualifications: repo,
			Areas:          coverage.NewMatcher(coverage.NewGormRepository(tx)),
			// Workflow transactions nest as savepoints inside tx.
			Requests: buildout.NewWorkflow(buildout.NewGormRepository(tx), g.metrics),
			Metrics:  g.metrics,
		}))
	})
}

// Direct runs fn against a fixed engine with no transaction of its own.
type Direct struct {
	Engine *Engine
}

func (d Direct) RunInTx(_ context.Context, fn func(e *Engine) error) error {
	return fn(d.Engine)
}
