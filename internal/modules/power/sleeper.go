package power

import (
	"context"
	"time"

	"github.com/danmuck/entslink/internal/tools"
	"github.com/rs/zerolog/log"
)

// CommandSleeper suspends the host by running a command such as
// "systemctl suspend".
type CommandSleeper struct {
	Runner  tools.CommandRunner
	Command []string
	Timeout time.Duration
}

func (s CommandSleeper) Sleep() error {
	runner := s.Runner
	if runner == nil {
		runner = tools.ExecRunner{}
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	res, err := tools.RunLine(ctx, runner, s.Command)
	if err != nil {
		return err
	}
	log.Debug().Strs("command", s.Command).Int("exit", res.ExitCode).Msg("power: sleep command finished")
	return nil
}
