package publisher

import (
	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/internal/logging"
	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/pkg/types"
)

// LogSink writes every display line of a tick at debug level.
func LogSink(logger *logging.Logger) TickSink {
	return TickSinkFunc(func(r *types.TickReport) error {
		for _, line := range r.Lines {
			logger.Debug(line, logging.Field{Key: "tick", Value: r.Tick})
		}
		return nil
	})
}

// Broadcaster is satisfied by the websocket server.
type Broadcaster interface {
	BroadcastTick(report *types.TickReport)
}

func BroadcastSink(b Broadcaster) TickSink {
	return TickSinkFunc(func(r *types.TickReport) error {
		b.BroadcastTick(r)
		return nil
	})
}
