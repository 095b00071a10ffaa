package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"queuectl/internal/jobs"
	"queuectl/internal/queue"
	"queuectl/internal/supervisor"
)

type jobCounts struct {
	queue.Stats `yaml:",inline"`
	Total       int `json:"total" yaml:"total"`
}

type statusReport struct {
	Jobs    jobCounts                  `json:"jobs" yaml:"jobs"`
	Workers []supervisor.WorkerProcess `json:"workers" yaml:"workers"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show job counts per state and worker processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			var report statusReport
			err := ctx.withEngine(func(engine *jobs.Engine) error {
				stats, err := engine.Stats(cmd.Context())
				if err != nil {
					return err
				}
				report.Jobs = jobCounts{Stats: stats, Total: stats.Total()}
				return nil
			})
			if err != nil {
				return err
			}

			sup, err := ctx.supervisor()
			if err != nil {
				return err
			}
			report.Workers, err = sup.Workers()
			if err != nil {
				return err
			}
			if report.Workers == nil {
				report.Workers = []supervisor.WorkerProcess{}
			}

			return writeOutput(cmd, ctx, report, func(out io.Writer) error {
				renderStatus(out, report, shouldColorize(out))
				return nil
			})
		},
	}
}

func renderStatus(out io.Writer, report statusReport, colorize bool) {
	rows := make([][]string, 0, 5)
	for _, state := range []queue.State{queue.StatePending, queue.StateProcessing, queue.StateCompleted, queue.StateDead} {
		rows = append(rows, []string{colorState(string(state), colorize), strconv.Itoa(report.Jobs.Count(state))})
	}
	rows = append(rows, []string{"Total", strconv.Itoa(report.Jobs.Total)})
	fmt.Fprint(out, renderTable([]string{"State", "Jobs"}, rows, []columnAlignment{alignLeft, alignRight}))

	if len(report.Workers) == 0 {
		fmt.Fprintln(out, "No workers running")
		return
	}
	workerRows := make([][]string, 0, len(report.Workers))
	for _, w := range report.Workers {
		state := "running"
		memory := humanize.Bytes(w.ResidentBytes)
		if !w.Alive {
			state = "exited"
			memory = "-"
		}
		workerRows = append(workerRows, []string{
			strconv.Itoa(w.PID),
			state,
			memory,
			w.StartedAt.Local().Format("2006-01-02 15:04:05") + " (" + humanize.Time(w.StartedAt) + ")",
		})
	}
	fmt.Fprint(out, renderTable(
		[]string{"PID", "State", "Memory", "Started"},
		workerRows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft},
	))
}
