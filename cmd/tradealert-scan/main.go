package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/oicur0t/tradealert/internal/classifier"
	"github.com/oicur0t/tradealert/internal/config"
	"github.com/oicur0t/tradealert/internal/logging"
	"github.com/oicur0t/tradealert/internal/tailer"
	"go.uber.org/zap"
)

var sampleWhispers = []string{
	`[INFO Client 26596] @From Boomtard: Hi, I would like to buy your Surefooted Sigil, Jade Amulet listed for 14 exalted in Standard (stash tab "~price 14 exalted"; position: left 9, top 11)`,
	`[INFO Client 26597] @From TraderPro123: Hi, I would like to buy your 6-link Astral Plate listed for 10 divine in Standard (stash tab "~price 10 divine")`,
	`[INFO Client 26598] @From CraftMaster: Hi, I would like to buy your Level 4 Enlighten listed for 5 divine in Standard`,
	`[INFO Client 26600] @From QuickBuyer: wtb Headhunter 50 divine in Standard`,
	`[INFO Client 26601] @From GemTrader: I want to buy your Awakened Multistrike Support price 8 divine in Standard`,
	`[INFO Client 26604] @From CasualTrader: buying your Aegis Aurora 3.5 divine in Standard`,
}

var timestampPattern = regexp.MustCompile(`^(\d{4}/\d{2}/\d{2} \d{2}:\d{2}:\d{2})`)

const timestampLayout = "2006/01/02 15:04:05"

func main() {
	configPath := flag.String("config", "", "Path to configuration file (default "+config.DefaultConfigPath()+")")
	logPath := flag.String("file", "", "Client.txt to scan (default log_file_path from config)")
	inject := flag.Bool("inject", false, "Append a sample trade whisper to the log instead of scanning")
	verbose := flag.Bool("v", false, "Log debug output")
	flag.Parse()

	level := "warn"
	if *verbose {
		level = "debug"
	}
	logger, err := logging.New(level, "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	path := config.ResolvePath(*logPath)
	if path == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		path = cfg.LogFilePath
	}

	if *inject {
		line, err := injectSample(path, time.Now(), rand.New(rand.NewSource(time.Now().UnixNano())))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write sample whisper: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Added test message to %s:\n%s", path, line)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Scanning %s for trade messages...\n\n", path)
	report, err := scan(ctx, path, logger, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Scan failed: %v\n", err)
		os.Exit(1)
	}
	report.print(os.Stdout)
}

type scanReport struct {
	Lines   int64
	Trades  int64
	Players map[string]int
	First   time.Time
	Last    time.Time
}

// scan classifies every line of path and writes each trade to out
func scan(ctx context.Context, path string, logger *zap.Logger, out io.Writer) (*scanReport, error) {
	report := &scanReport{Players: make(map[string]int)}

	lines, err := tailer.ScanFile(ctx, path, logger, func(lineNumber int64, text string) {
		if m := timestampPattern.FindStringSubmatch(text); m != nil {
			if ts, err := time.ParseInLocation(timestampLayout, m[1], time.Local); err == nil {
				if report.First.IsZero() || ts.Before(report.First) {
					report.First = ts
				}
				if ts.After(report.Last) {
					report.Last = ts
				}
			}
		}

		match, ok := classifier.Classify(text)
		if !ok {
			return
		}
		report.Trades++
		report.Players[match.Sender]++

		fmt.Fprintf(out, "line %d: %s: %s\n", lineNumber, match.Sender, match.Message)
		if l := match.Listing; l != nil {
			fmt.Fprintf(out, "    %s for %s %s in %s\n", l.Item, l.Amount.String(), l.Currency, l.League)
		}
	})
	report.Lines = lines
	if err != nil {
		return report, err
	}
	return report, nil
}

func (r *scanReport) print(out io.Writer) {
	fmt.Fprintf(out, "\nLines scanned:   %d\n", r.Lines)
	fmt.Fprintf(out, "Trade messages:  %d\n", r.Trades)
	fmt.Fprintf(out, "Unique players:  %d\n", len(r.Players))
	if !r.First.IsZero() {
		fmt.Fprintf(out, "Time span:       %s to %s\n", r.First.Format(timestampLayout), r.Last.Format(timestampLayout))
	}
}

// injectSample appends a random sample whisper in the client's line format
func injectSample(path string, now time.Time, rnd *rand.Rand) (string, error) {
	message := sampleWhispers[rnd.Intn(len(sampleWhispers))]
	line := fmt.Sprintf("%s %d %08x %s\n", now.Format(timestampLayout), rnd.Intn(90000000)+10000000, rnd.Uint32(), message)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(line); err != nil {
		return "", fmt.Errorf("failed to append to log file: %w", err)
	}
	return line, nil
}
