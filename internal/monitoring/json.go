package monitoring

import (
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
)

// JSONLogf returns a Logf-compatible function that writes one JSON object
// per line to w. A leading "[name] " prefix added by Component becomes the
// "component" field.
func JSONLogf(w io.Writer) func(format string, v ...interface{}) {
	logger := zerolog.New(w).With().Timestamp().Logger()
	return func(format string, v ...interface{}) {
		msg := fmt.Sprintf(format, v...)
		event := logger.Info()
		if strings.HasPrefix(msg, "[") {
			if end := strings.Index(msg, "] "); end > 0 {
				event = event.Str("component", msg[1:end])
				msg = msg[end+2:]
			}
		}
		event.Msg(msg)
	}
}
