package infra

import (
	"fmt"
	"io"
)

// ANSI Color Codes
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorCyan   = "\033[36m"
)

// PrintBanner writes the startup banner with mode-specific warnings.
func PrintBanner(w io.Writer, cfg *Config) {
	color := ColorGreen
	modeDesc := "UNKNOWN"

	switch cfg.Trading.Mode {
	case ModeLive:
		color = ColorRed
		modeDesc = "LIVE FOLLOWER ORDERS"
	case ModeMock:
		color = ColorYellow
		modeDesc = "LOG-ONLY GATEWAY"
	case ModePaper:
		color = ColorCyan
		modeDesc = "PAPER FOLLOWER ACCOUNT"
	}

	line := func(format string, args ...any) {
		fmt.Fprintf(w, "%s"+format+"%s\n", append(append([]any{color}, args...), ColorReset)...)
	}

	fmt.Fprintln(w)
	line("###########################################################")
	line("#                 copytrade-go worker                     #")
	line("#                                                         #")
	line("#   MODE:     %-35s #", cfg.Trading.Mode)
	line("#   TYPE:     %-35s #", modeDesc)
	line("#   NETWORK:  %-35s #", cfg.Trading.Network)
	line("#   LEADER:   %-35.35s #", cfg.Copy.LeaderID)
	line("#   FOLLOWER: %-35.35s #", cfg.Copy.FollowerID)
	line("#   VERSION:  %-35s #", cfg.App.Version)
	line("#                                                         #")

	if cfg.Trading.Mode == ModeLive {
		fmt.Fprintf(w, "%s#   WARNING: FOLLOWER ORDERS ARE SENT TO THE VENUE        #%s\n", ColorRed, ColorReset)
	}

	line("###########################################################")
	fmt.Fprintln(w)
}
