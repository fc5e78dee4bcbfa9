package logging

import (
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// Setup installs the default logger: JSON records to the log file for
// collection, human readable text to stderr. The service field is attached
// to every json record so logs can be filtered per service.
func Setup(logFile io.Writer, service string) {
	var jsonHandler slog.Handler = slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: slog.LevelDebug})
	jsonHandler = jsonHandler.WithAttrs([]slog.Attr{
		slog.String("service", service),
	})

	textHandler := slog.NewTextHandler(os.Stderr, nil)

	logger := slog.New(slogmulti.Fanout(jsonHandler, textHandler))
	slog.SetDefault(logger)
}
