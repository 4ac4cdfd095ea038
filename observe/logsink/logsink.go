// Package logsink reports uncaught job failures to a logrus logger. It is
// the default destination for failures that no joiner ever observed under
// a shielding policy.
package logsink

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Sink implements corun.FailureSink.
type Sink struct {
	log logrus.FieldLogger
}

// New returns a sink writing to log; a nil log uses the logrus standard
// logger.
func New(log logrus.FieldLogger) *Sink {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Sink{log: log}
}

func (s *Sink) UncaughtFailure(_ context.Context, job uuid.UUID, cause error) {
	s.log.WithField("job", job.String()).WithError(cause).Error("uncaught job failure")
}
