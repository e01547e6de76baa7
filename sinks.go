package pagemark

import (
	"fmt"
	"log/slog"

	"github.com/hazyhaar/pagemark/internal/sink"
)

// OpenSinks builds the event sinks a configuration names. Unknown types are
// logged and skipped. With no usable sink, events go to stdout.
func OpenSinks(cfgs []SinkConfig, logger *slog.Logger) ([]sink.Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var out []sink.Sink
	for _, sc := range cfgs {
		switch sc.Type {
		case "stdout":
			out = append(out, sink.NewStdout(nil))
		case "webhook":
			out = append(out, sink.NewWebhook(sc.URL, sink.WithWebhookLogger(logger)))
		case "journal":
			j, err := sink.OpenJournal(sc.Path)
			if err != nil {
				for _, s := range out {
					s.Close()
				}
				return nil, fmt.Errorf("pagemark: open journal %s: %w", sc.Path, err)
			}
			out = append(out, j)
		default:
			logger.Warn("pagemark: unknown sink type", "type", sc.Type)
		}
	}
	if len(out) == 0 {
		out = append(out, sink.NewStdout(nil))
	}
	return out, nil
}
