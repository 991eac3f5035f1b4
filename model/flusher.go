package model

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// flushLoop periodically writes snapshots of dirty documents until Close.
func (m *Model) flushLoop(interval time.Duration) {
	defer close(m.flushDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.Flush(context.Background()); err != nil && !errors.Is(err, ErrClosed) {
				m.log.Warn("periodic flush failed", zap.Error(err))
			}
		case <-m.flushStop:
			return
		}
	}
}
