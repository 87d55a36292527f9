package logging

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
)

// New builds the process-wide logr.Logger backed by zap. Every QAM
// component takes a logr.Logger rather than a concrete *zap.Logger so test
// doubles and alternate backends can be swapped in without touching call
// sites.
func New(development bool, name string) (logr.Logger, func(), error) {
	var zl *zap.Logger
	var err error
	if development {
		zl, err = zap.NewDevelopment()
	} else {
		zl, err = zap.NewProduction()
	}
	if err != nil {
		return logr.Logger{}, func() {}, err
	}
	logger := zapr.NewLogger(zl).WithName(name)
	return logger, func() { _ = zl.Sync() }, nil
}

// WithFields flattens a Fields map into logr key/value pairs in map
// iteration order, which can differ between calls; that is acceptable here
// since logr fields are unordered key/value pairs by contract.
func WithFields(log logr.Logger, f Fields) logr.Logger {
	kvs := make([]interface{}, 0, len(f)*2)
	for k, v := range f {
		kvs = append(kvs, k, v)
	}
	return log.WithValues(kvs...)
}
