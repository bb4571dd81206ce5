// Package progress reports pipeline advancement to whatever front end is
// driving a run.
package progress

import (
	"go.uber.org/zap"

	"github.com/clifton/twag/pkg/logging"
)

// Reporter receives progress callbacks from a pipeline run. The total may
// grow mid-run as the dependency resolver discovers more tweets.
// Implementations must not block.
type Reporter interface {
	SetTotal(total int)
	Advance(n int)
	Status(label string)
}

// Nop discards all progress.
type Nop struct{}

func (Nop) SetTotal(int)  {}
func (Nop) Advance(int)   {}
func (Nop) Status(string) {}

// Log reports progress through the structured logger.
type Log struct {
	logger *zap.Logger
}

// NewLog creates a logging reporter.
func NewLog() *Log {
	return &Log{logger: logging.WithComponent("progress")}
}

func (l *Log) SetTotal(total int) {
	l.logger.Info("Work set sized", zap.Int("total", total))
}

func (l *Log) Advance(n int) {
	l.logger.Debug("Progress", zap.Int("steps", n))
}

func (l *Log) Status(label string) {
	l.logger.Debug("Status", zap.String("label", label))
}
