package logger

import "go.uber.org/zap"

// Init builds the process logger. Production mode emits JSON, anything
// else uses the human-readable development encoder.
func Init(environment string) *zap.SugaredLogger {
	var l *zap.Logger
	var err error
	if environment == "production" {
		l, err = zap.NewProduction()
	} else {
		l, err = zap.NewDevelopment()
	}
	if err != nil {
		l = zap.NewNop()
	}
	zap.ReplaceGlobals(l)
	return l.Sugar()
}
