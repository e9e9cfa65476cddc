package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"time"

	"CycleOracle/internal/repository"
	"CycleOracle/internal/service"

	"github.com/olekukonko/tablewriter"
)

type gateEvaluator interface {
	EvaluateGate(ctx context.Context, cycleID int64) (*service.GateReport, error)
}

// app 子命令共享的依赖；gate 需要链连接，按需创建
type app struct {
	store   repository.Store
	newGate func(ctx context.Context) (gateEvaluator, func(), error)
	out     io.Writer
	errOut  io.Writer
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: cyclectl <command> [flags]")
	fmt.Fprintln(w, "  status [-n 10]                 最近的周期")
	fmt.Fprintln(w, "  leaderboard <cycle_id> [-n 10] 周期排行")
	fmt.Fprintln(w, "  gate <cycle_id>                只读评估结算门槛")
}

func (a *app) dispatch(ctx context.Context, args []string) error {
	if len(args) == 0 {
		usage(a.errOut)
		return errors.New("command required")
	}
	switch args[0] {
	case "status":
		return a.status(ctx, args[1:])
	case "leaderboard":
		return a.leaderboard(ctx, args[1:])
	case "gate":
		return a.gate(ctx, args[1:])
	default:
		usage(a.errOut)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func (a *app) status(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("cyclectl status", flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	n := fs.Int("n", 10, "number of cycles")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cycles, err := a.store.Repos().Cycles.ListRecent(ctx, *n)
	if err != nil {
		return err
	}
	table := tablewriter.NewWriter(a.out)
	table.Header("ID", "Date", "State", "End", "Ready", "Resolved", "Slips", "Tx")
	for _, c := range cycles {
		table.Append(
			strconv.FormatInt(c.CycleID, 10),
			c.GameDate,
			string(c.State),
			formatTime(c.EndTime),
			yesNo(c.ReadyForResolution),
			yesNo(c.IsResolved),
			strconv.FormatInt(c.SlipCount, 10),
			deref(c.ResolutionTxHash),
		)
	}
	return table.Render()
}

func (a *app) leaderboard(ctx context.Context, args []string) error {
	cycleID, rest, err := cycleArg(args)
	if err != nil {
		return err
	}
	fs := flag.NewFlagSet("cyclectl leaderboard", flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	n := fs.Int("n", 10, "number of slips")
	if err := fs.Parse(rest); err != nil {
		return err
	}
	slips, err := a.store.Repos().Slips.Leaderboard(ctx, cycleID, *n)
	if err != nil {
		return err
	}
	table := tablewriter.NewWriter(a.out)
	table.Header("Rank", "Slip", "Player", "Correct", "Score")
	for _, s := range slips {
		rank := "-"
		if s.LeaderboardRank != nil {
			rank = strconv.Itoa(*s.LeaderboardRank)
		}
		table.Append(rank, strconv.FormatInt(s.SlipID, 10), s.Player, strconv.Itoa(s.CorrectCount), s.FinalScore.String())
	}
	return table.Render()
}

func (a *app) gate(ctx context.Context, args []string) error {
	cycleID, _, err := cycleArg(args)
	if err != nil {
		return err
	}
	evaluator, closeFn, err := a.newGate(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	report, err := evaluator.EvaluateGate(ctx, cycleID)
	if report == nil {
		return err
	}
	fmt.Fprintf(a.out, "cycle %d  chain=%s  end=%s  block=%s\n",
		cycleID, report.ChainState, formatTime(&report.EndTime), formatTime(&report.BlockTime))
	table := tablewriter.NewWriter(a.out)
	table.Header("#", "Condition", "Passed", "Detail")
	for _, c := range report.Conditions {
		table.Append(strconv.Itoa(c.Condition), c.Name, yesNo(c.Passed), c.Detail)
	}
	if err := table.Render(); err != nil {
		return err
	}
	for _, mm := range report.Mismatches {
		fmt.Fprintf(a.out, "slot mismatch: %+v\n", mm)
	}
	if report.Passed() {
		fmt.Fprintln(a.out, "gate: PASSED")
	} else {
		fmt.Fprintln(a.out, "gate: BLOCKED")
	}
	return err
}

func cycleArg(args []string) (int64, []string, error) {
	if len(args) == 0 {
		return 0, nil, errors.New("cycle_id required")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, nil, fmt.Errorf("invalid cycle_id %q", args[0])
	}
	return id, args[1:], nil
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
