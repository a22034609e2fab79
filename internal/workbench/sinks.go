package workbench

import (
	"fmt"

	"xslttester/internal/config"
	"xslttester/internal/logging"
	"xslttester/sink"
	_ "xslttester/sink/kafka"
	_ "xslttester/sink/stdout"
)

// BuildSinks creates and configures the sinks named in cfg. Sinks that
// confirm delivery get their failures logged.
func BuildSinks(cfg config.Config) ([]sink.Adapter, error) {
	var out []sink.Adapter
	closeAll := func() {
		for _, s := range out {
			_ = s.Close()
		}
	}
	for _, name := range cfg.Sinks {
		drv, err := sink.NewAdapter(name)
		if err != nil {
			closeAll()
			return nil, err
		}
		block, err := cfg.SinkConfig(name)
		if err == nil {
			err = drv.Configure(block)
		}
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("sink %s: %w", name, err)
		}
		if aa, ok := drv.(sink.AckAware); ok {
			aa.BindAck(logDelivery(name))
		}
		out = append(out, drv)
	}
	return out, nil
}

func logDelivery(name string) sink.EmitFn {
	return func(r sink.Result, err error) {
		if err != nil {
			logging.L().Warn("result not delivered", "sink", name, "task", r.ID, "err", err)
			return
		}
		logging.L().Debug("result delivered", "sink", name, "task", r.ID, "kind", r.Kind)
	}
}
