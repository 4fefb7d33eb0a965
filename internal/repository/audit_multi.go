package repository

import (
	"context"
	"errors"

	"ForecastGate/internal/domain/models"
	domrepo "ForecastGate/internal/domain/repository"
)

// MultiAuditWriter writes every batch to all writers and joins their errors.
type MultiAuditWriter struct {
	writers []domrepo.AuditWriter
}

func NewMultiAuditWriter(ws ...domrepo.AuditWriter) *MultiAuditWriter {
	return &MultiAuditWriter{writers: ws}
}

func (m *MultiAuditWriter) WriteBatch(ctx context.Context, events []models.AuditEvent) error {
	var errs []error
	for _, w := range m.writers {
		if err := w.WriteBatch(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiAuditWriter) Health(ctx context.Context) error {
	var errs []error
	for _, w := range m.writers {
		errs = append(errs, w.Health(ctx))
	}
	return errors.Join(errs...)
}

func (m *MultiAuditWriter) Close() error {
	var errs []error
	for _, w := range m.writers {
		errs = append(errs, w.Close())
	}
	return errors.Join(errs...)
}
