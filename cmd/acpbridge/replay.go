package main

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bazelment/yoloswe/acpbridge/acp"
	"github.com/bazelment/yoloswe/acpbridge/bridge"
	"github.com/bazelment/yoloswe/acpbridge/reply"
)

var replayEvents bool

var replayCmd = &cobra.Command{
	Use:   "replay <file>",
	Short: "Project a captured NDJSON protocol log (use - for stdin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := cmd.InOrStdin()
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}
		return replay(cmd.Context(), in, cmd.OutOrStdout(), newLogger(cmd.ErrOrStderr()))
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().BoolVar(&replayEvents, "events", false, "Print projected runtime events as JSON lines instead of deliveries")
}

func replay(ctx context.Context, in io.Reader, out io.Writer, logger *slog.Logger) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}

	var deliverer reply.Deliverer
	var opts []bridge.RelayOption
	if replayEvents {
		deliverer = reply.DelivererFunc(func(context.Context, reply.Kind, reply.Payload, *reply.Meta) error {
			return nil
		})
		opts = append(opts, bridge.WithEventObserver(func(ev acp.Event) {
			data, err := acp.MarshalEvent(ev)
			if err != nil {
				logger.Warn("cannot encode event", "type", ev.Type(), "error", err)
				return
			}
			out.Write(append(data, '\n'))
		}))
	} else if deliverer, err = newDeliverer(out); err != nil {
		return err
	}

	pipeline := reply.NewPipeline(settings, deliverer, reply.WithLogger(logger))
	defer pipeline.Close()
	relay := bridge.NewRelay(acp.NewProjector(acp.WithLogger(logger)), pipeline,
		append(opts, bridge.WithLogger(logger))...)

	if err := relay.Replay(ctx, in); err != nil {
		return err
	}
	logStats(ctx, logger, pipeline)
	return nil
}
