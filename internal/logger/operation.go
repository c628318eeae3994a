package logger

import (
	"github.com/google/uuid"
)

// Kind names an operation stream
type Kind string

const (
	KindInstall   Kind = "install"
	KindTranscode Kind = "transcode"
	KindWrap      Kind = "wrap"
	KindDoctor    Kind = "doctor"
)

// Op is a logger bound to one operation. Every line it writes carries the
// same op and op_id, so one install or one transcode can be filtered out
// of the shared log as a single stream.
type Op struct {
	Logger
	ID      string
	Kind    Kind
	Subject string
}

// Operation starts a new operation stream on the global logger
func Operation(kind Kind, subject string) *Op {
	return OperationOn(Get(), kind, subject)
}

// OperationOn starts a new operation stream on base
func OperationOn(base Logger, kind Kind, subject string) *Op {
	if base == nil {
		base = &NullLogger{}
	}
	id := uuid.NewString()
	return &Op{
		Logger:  base.With("op", string(kind), "op_id", id, "subject", subject),
		ID:      id,
		Kind:    kind,
		Subject: subject,
	}
}
