package ffmpeg

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/risevideo/risecast/pkg/eventlog"
)

// FilterCommand is one command for an ffmpeg filter: target filter,
// command name, argument.
type FilterCommand struct {
	Target  string
	Command string
	Arg     string
}

// ZmqSend sends filter commands to a running ffmpeg's zmq filter using
// the zmqsend tool that ships with ffmpeg. The endpoint is the
// channel's resolved filterZmq address.
func ZmqSend(ctx context.Context, elog *eventlog.Log, address string, commands []FilterCommand) error {
	log := elog.Context("zmqsend")
	for _, c := range commands {
		line := fmt.Sprintf("%s %s %s", c.Target, c.Command, c.Arg)
		log.Debug("send", address+": "+line)
		cmd := exec.CommandContext(ctx, "zmqsend", "-b", address)
		cmd.Stdin = strings.NewReader(line)
		out, err := cmd.CombinedOutput()
		if err != nil {
			return fmt.Errorf("zmqsend %q to %s: %w: %s", line, address, err, strings.TrimSpace(string(out)))
		}
	}
	return nil
}
