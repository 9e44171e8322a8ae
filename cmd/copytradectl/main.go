package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"copytrade_go/internal/execution"
	"copytrade_go/internal/infra"
	"copytrade_go/internal/storage"
	"copytrade_go/pkg/appendix"
)

const usage = `copytradectl: offline tools for the copy-trading worker

Usage:
  copytradectl pack     --flags N --builder ID --fee N
  copytradectl unpack   <128-bit string>
  copytradectl submit   --venue copy_engine --flags N --builder ID --fee N --mode fail_closed
  copytradectl schedule <target:status[:retryAfterMs]>...
  copytradectl audit    [--db PATH] [--limit N]
  copytradectl report   [--redis ADDR --key KEY | --dir PATH]
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "pack":
		err = runPack(os.Args[2:])
	case "unpack":
		err = runUnpack(os.Args[2:])
	case "submit":
		err = runSubmit(os.Args[2:])
	case "schedule":
		err = runSchedule(os.Args[2:])
	case "audit":
		err = runAudit(os.Args[2:])
	case "report":
		err = runReport(os.Args[2:])
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		err = fmt.Errorf("unknown command %q", os.Args[1])
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func fieldFlags(fs *flag.FlagSet) *appendix.Fields {
	f := &appendix.Fields{}
	fs.Int64Var(&f.OrderFlags, "flags", 0, "order flags (32-bit)")
	fs.StringVar(&f.Builder, "builder", "0", "builder id, decimal or 0x hex (64-bit)")
	fs.Int64Var(&f.BuilderFeeRate, "fee", 0, "builder fee rate (16-bit)")
	return f
}

func runPack(args []string) error {
	fs := flag.NewFlagSet("pack", flag.ExitOnError)
	f := fieldFlags(fs)
	fs.Parse(args)

	packed, err := appendix.Pack(*f)
	if err != nil {
		return err
	}
	fmt.Println(packed)
	return nil
}

func runUnpack(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("unpack takes exactly one appendix")
	}
	f, err := appendix.Unpack(strings.TrimSpace(args[0]))
	if err != nil {
		return err
	}
	return printJSON(f)
}

func runSubmit(args []string) error {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	f := fieldFlags(fs)
	venue := fs.String("venue", string(execution.VenueCopyEngine), "manual_trading | copy_engine")
	mode := fs.String("mode", string(execution.FeeModeFailClosed), "fail_closed | fail_open")
	fs.Parse(args)

	res, err := execution.SubmitOrder(execution.SubmitRequest{
		Venue:          execution.Venue(*venue),
		OrderFlags:     f.OrderFlags,
		Builder:        f.Builder,
		BuilderFeeRate: f.BuilderFeeRate,
		FeeMode:        execution.BuilderFeeMode(*mode),
	})
	if err != nil {
		return err
	}
	return printJSON(res)
}

// parseResponse reads "target:status[:retryAfterMs]".
func parseResponse(s string) (infra.CallResponse, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return infra.CallResponse{}, fmt.Errorf("bad response %q, want target:status[:retryAfterMs]", s)
	}
	status, err := strconv.Atoi(parts[1])
	if err != nil {
		return infra.CallResponse{}, fmt.Errorf("bad status in %q: %w", s, err)
	}
	r := infra.CallResponse{Target: infra.CallTarget(parts[0]), Status: status}
	if len(parts) == 3 {
		ms, err := strconv.Atoi(parts[2])
		if err != nil {
			return infra.CallResponse{}, fmt.Errorf("bad retry-after in %q: %w", s, err)
		}
		r.RetryAfter = time.Duration(ms) * time.Millisecond
	}
	return r, nil
}

func runSchedule(args []string) error {
	responses := make([]infra.CallResponse, 0, len(args))
	for _, a := range args {
		r, err := parseResponse(a)
		if err != nil {
			return err
		}
		responses = append(responses, r)
	}

	s := infra.ScheduleGatewayArchiveCalls(responses)
	return printJSON(struct {
		Retries      int   `json:"retries"`
		TotalDelayMs int64 `json:"totalDelayMs"`
	}{s.Retries, s.TotalDelay.Milliseconds()})
}

func runAudit(args []string) error {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	db := fs.String("db", "", "audit database (default: workspace paper db)")
	limit := fs.Int("limit", 20, "number of submissions")
	fs.Parse(args)

	path := *db
	if path == "" {
		path = infra.ModeDataDir(infra.GetWorkspaceDir(), infra.ModePaper) + "/audit.db"
	}

	store, err := storage.NewAuditStore(path)
	if err != nil {
		return err
	}
	defer store.Close()

	subs, err := store.LoadSubmissions(context.Background(), *limit)
	if err != nil {
		return err
	}
	return printJSON(subs)
}

func runReport(args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	addr := fs.String("redis", "", "redis address")
	key := fs.String("key", "copytrade:metrics", "redis key")
	dir := fs.String("dir", "", "report directory when not using redis")
	fs.Parse(args)

	var (
		report *storage.Report
		err    error
	)
	if *addr != "" {
		store := storage.NewMetricsStore(*addr, *key, 0)
		defer store.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		report, err = store.LoadReport(ctx)
	} else {
		path := *dir
		if path == "" {
			path = infra.ModeDataDir(infra.GetWorkspaceDir(), infra.ModePaper) + "/reports"
		}
		report, err = storage.NewSnapshotManager(path).LoadLatest()
	}
	if err != nil {
		return err
	}
	if report == nil {
		fmt.Println("No report found.")
		return nil
	}
	return printJSON(report)
}
