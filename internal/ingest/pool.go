// Package ingest hosts the server-side ingestion pipeline: a bounded MPMC
// channel fed by the HTTP/gRPC layer or by broker consumers, drained by N
// worker goroutines that resolve entities and batch-insert typed rows.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/scouter/internal/metrics"
	"github.com/sawpanic/scouter/internal/persistence"
	"github.com/sawpanic/scouter/internal/profile"
	"github.com/sawpanic/scouter/internal/records"
	"github.com/sawpanic/scouter/internal/scouterrors"
)

// defaultChannelCapacity bounds the internal channel so a slow database
// back-pressures the transport instead of growing memory.
const defaultChannelCapacity = 4096

// EntityResolver maps a record's identity tuple to its entity row.
type EntityResolver interface {
	ResolveEntity(ctx context.Context, space, name, version string, dt profile.DriftType) (persistence.Entity, error)
}

// PoolConfig sizes the worker pool.
type PoolConfig struct {
	Workers         int
	ChannelCapacity int
}

// Pool is the ingestion worker pool. Producers call Enqueue; Start spawns
// the workers, which run until the context is cancelled and the channel is
// drained.
type Pool struct {
	cfg      PoolConfig
	store    persistence.ObservationRepo
	resolver EntityResolver
	reg      *metrics.Registry
	log      zerolog.Logger

	ch chan records.MessageRecord
	wg sync.WaitGroup

	mu       sync.Mutex
	entities map[string]persistence.Entity
}

// NewPool builds a pool over the given observation store and entity
// resolver.
func NewPool(cfg PoolConfig, store persistence.ObservationRepo, resolver EntityResolver, reg *metrics.Registry, logger zerolog.Logger) *Pool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.ChannelCapacity < 1 {
		cfg.ChannelCapacity = defaultChannelCapacity
	}
	return &Pool{
		cfg:      cfg,
		store:    store,
		resolver: resolver,
		reg:      reg,
		log:      logger,
		ch:       make(chan records.MessageRecord, cfg.ChannelCapacity),
		entities: make(map[string]persistence.Entity),
	}
}

// Enqueue hands one message to the pool without blocking. A full channel
// returns a transport error so the HTTP layer can answer 500.
func (p *Pool) Enqueue(msg records.MessageRecord) error {
	select {
	case p.ch <- msg:
		return nil
	default:
		return scouterrors.Newf(scouterrors.KindTransport, "ingest.Enqueue", "ingestion channel full")
	}
}

// Start spawns the workers. They exit once ctx is done and the channel has
// been drained.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		worker := fmt.Sprintf("worker-%d", i)
		p.wg.Add(1)
		go p.run(ctx, worker)
	}
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() { p.wg.Wait() }

func (p *Pool) run(ctx context.Context, worker string) {
	defer p.wg.Done()
	logger := p.log.With().Str("worker", worker).Logger()
	for {
		select {
		case <-ctx.Done():
			// Drain what is already buffered before exiting.
			for {
				select {
				case msg := <-p.ch:
					p.dispatch(context.Background(), worker, logger, msg)
				default:
					return
				}
			}
		case msg := <-p.ch:
			p.dispatch(ctx, worker, logger, msg)
		}
	}
}

// dispatch routes one message by variant. A failed insert is logged and
// counted; the worker keeps running.
func (p *Pool) dispatch(ctx context.Context, worker string, logger zerolog.Logger, msg records.MessageRecord) {
	p.reg.MessagesProcessed.WithLabelValues(worker).Inc()

	switch {
	case msg.ServerRecords != nil:
		p.insertServerRecords(ctx, worker, logger, *msg.ServerRecords)
	case msg.Trace != nil:
		t := msg.Trace
		if err := p.store.InsertTraceBaggage(ctx, t.EntityID, t.TraceID, t.SpanID, t.Baggage, t.CreatedAt); err != nil {
			p.reg.DBInsertErrors.WithLabelValues(worker).Inc()
			logger.Warn().Err(err).Msg("trace insert failed")
		}
	case msg.Tag != nil:
		t := msg.Tag
		if err := p.store.InsertTag(ctx, t.EntityID, t.Key, t.Value, t.CreatedAt); err != nil {
			p.reg.DBInsertErrors.WithLabelValues(worker).Inc()
			logger.Warn().Err(err).Msg("tag insert failed")
		}
	default:
		logger.Warn().Msg("empty message record skipped")
	}
}

// insertServerRecords splits a batch by record type and performs one
// multi-row insert per type.
func (p *Pool) insertServerRecords(ctx context.Context, worker string, logger zerolog.Logger, batch records.ServerRecords) {
	var spcRows []persistence.SpcRow
	var psiRows []persistence.PsiRow
	var customRows []persistence.CustomRow

	for _, rec := range batch.Records {
		switch {
		case rec.Spc != nil:
			r := rec.Spc
			ent, err := p.entity(ctx, r.Space, r.Name, r.Version, profile.DriftSpc)
			if err != nil {
				logger.Warn().Err(err).Str("name", r.Name).Msg("spc record dropped")
				continue
			}
			spcRows = append(spcRows, persistence.SpcRow{
				EntityID: ent.EntityID, CreatedAt: r.CreatedAt, Feature: r.Feature, Value: r.Value,
			})
		case rec.Psi != nil:
			r := rec.Psi
			ent, err := p.entity(ctx, r.Space, r.Name, r.Version, profile.DriftPsi)
			if err != nil {
				logger.Warn().Err(err).Str("name", r.Name).Msg("psi record dropped")
				continue
			}
			psiRows = append(psiRows, persistence.PsiRow{
				EntityID: ent.EntityID, CreatedAt: r.CreatedAt, Feature: r.Feature, BinID: r.BinID, BinCount: r.BinCount,
			})
		case rec.Custom != nil:
			r := rec.Custom
			ent, err := p.entity(ctx, r.Space, r.Name, r.Version, profile.DriftCustom)
			if err != nil {
				logger.Warn().Err(err).Str("name", r.Name).Msg("custom record dropped")
				continue
			}
			customRows = append(customRows, persistence.CustomRow{
				EntityID: ent.EntityID, CreatedAt: r.CreatedAt, Metric: r.Metric, Value: r.Value,
			})
		}
	}

	p.insertTyped(ctx, worker, logger, "spc", len(spcRows), func() error {
		return p.store.InsertSpc(ctx, spcRows)
	})
	p.insertTyped(ctx, worker, logger, "psi", len(psiRows), func() error {
		return p.store.InsertPsi(ctx, psiRows)
	})
	p.insertTyped(ctx, worker, logger, "custom", len(customRows), func() error {
		return p.store.InsertCustom(ctx, customRows)
	})
}

func (p *Pool) insertTyped(ctx context.Context, worker string, logger zerolog.Logger, recordType string, n int, insert func() error) {
	if n == 0 {
		return
	}
	if err := insert(); err != nil {
		p.reg.DBInsertErrors.WithLabelValues(worker).Inc()
		logger.Warn().Err(err).Str("record_type", recordType).Int("rows", n).Msg("insert failed")
		return
	}
	p.reg.RecordsInserted.WithLabelValues(worker, recordType).Add(float64(n))
}

// entity memoizes tuple resolution; the tuple space is small (one entry
// per active profile) so entries are kept for the process lifetime.
func (p *Pool) entity(ctx context.Context, space, name, version string, dt profile.DriftType) (persistence.Entity, error) {
	key := space + "\x00" + name + "\x00" + version + "\x00" + string(dt)
	p.mu.Lock()
	ent, ok := p.entities[key]
	p.mu.Unlock()
	if ok {
		return ent, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	ent, err := p.resolver.ResolveEntity(ctx, space, name, version, dt)
	if err != nil {
		return persistence.Entity{}, err
	}
	p.mu.Lock()
	p.entities[key] = ent
	p.mu.Unlock()
	return ent, nil
}
