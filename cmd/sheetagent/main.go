// Command sheetagent executes a spreadsheet task plan against a CSV-backed
// workbook: steps run through the scheduler, every write is verified by
// sampling, problems route through the signal layer, and reflection keeps the
// plan honest against the original request.
//
// Usage:
//
//	sheetagent -plan plan.json -workbook ./data [-db audit.db] [-headless]
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/aristath/sheetagent/internal/agent"
	"github.com/aristath/sheetagent/internal/config"
	"github.com/aristath/sheetagent/internal/events"
	"github.com/aristath/sheetagent/internal/judge"
	"github.com/aristath/sheetagent/internal/persistence"
	"github.com/aristath/sheetagent/internal/plan"
	"github.com/aristath/sheetagent/internal/sheet"
	"github.com/aristath/sheetagent/internal/tools"
	"github.com/aristath/sheetagent/internal/tui"
)

func main() {
	planPath := flag.String("plan", "plan.json", "path to the step plan")
	workbookDir := flag.String("workbook", ".", "directory of CSV files loaded as sheets")
	dbPath := flag.String("db", "", "SQLite audit trail path (empty disables auditing)")
	headless := flag.Bool("headless", false, "run without the TUI, answering prompts on stdin")
	flag.Parse()

	// Signal-aware context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	p, err := plan.Load(*planPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading plan: %v\n", err)
		os.Exit(1)
	}

	wb, err := sheet.LoadCSVDir(*workbookDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading workbook: %v\n", err)
		os.Exit(1)
	}

	registry := tools.NewRegistry()
	if err := tools.RegisterSheetTools(registry, wb); err != nil {
		fmt.Fprintf(os.Stderr, "Error registering tools: %v\n", err)
		os.Exit(1)
	}

	bus := events.NewEventBus()
	defer bus.Close()

	opts := []agent.Option{}

	if *dbPath != "" {
		store, err := persistence.NewSQLiteStore(ctx, *dbPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening audit store: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()
		opts = append(opts, agent.WithStore(store))
	}

	if cfg.Judge.Enabled {
		j, err := buildJudge(ctx, cfg.Judge)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating judge: %v\n", err)
			os.Exit(1)
		}
		defer j.Close()
		opts = append(opts, agent.WithJudge(j))
	}

	if *headless {
		runHeadless(ctx, cfg, wb, registry, bus, p, opts)
		return
	}
	runTUI(ctx, stop, cfg, wb, registry, bus, p, opts)
}

// buildJudge wires the Gemini judge behind the retry and circuit-breaker
// wrapper.
func buildJudge(ctx context.Context, jc config.JudgeConfig) (judge.Judge, error) {
	apiKey := os.Getenv(jc.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("environment variable %s is not set", jc.APIKeyEnv)
	}

	model := jc.Model
	if model == "" {
		model = judge.DefaultModel
	}

	g, err := judge.NewGemini(ctx, apiKey, model)
	if err != nil {
		return nil, err
	}
	return judge.NewResilient(g, judge.DefaultRetryConfig()), nil
}

// runHeadless executes the plan with prompts answered on stdin.
func runHeadless(ctx context.Context, cfg *config.AgentConfig, wb *sheet.Memory, registry *tools.Registry, bus *events.EventBus, p *plan.Plan, opts []agent.Option) {
	promptCtx, cancelPrompts := context.WithCancel(ctx)
	defer cancelPrompts()

	reader := bufio.NewReader(os.Stdin)
	prompter := agent.NewPrompter(2*cfg.Scheduler.MaxConcurrency, func(ctx context.Context, stepID, question string) (string, error) {
		fmt.Printf("\n%s\n> ", question)
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(line), nil
	})
	prompter.Start(promptCtx)
	opts = append(opts, agent.WithPrompter(prompter))

	loop := agent.New(cfg, wb, registry, bus, opts...)

	summary, err := loop.Run(ctx, p)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\n%d/%d steps completed, %d failed, %d skipped\n",
		summary.SuccessCount, summary.TotalSteps, summary.FailedCount, summary.SkippedCount)
	for _, sig := range loop.Signals().Pending() {
		fmt.Printf("unresolved: [%s] %s\n", sig.Issue.Severity, sig.Issue.Message)
	}
	if !summary.Success {
		os.Exit(1)
	}
}

// runTUI executes the plan behind the terminal UI. Mid-run confirmations are
// not routed into the TUI; blocking issues skip their dependents and surface
// as unresolved signals when the run ends.
func runTUI(ctx context.Context, stop context.CancelFunc, cfg *config.AgentConfig, wb *sheet.Memory, registry *tools.Registry, bus *events.EventBus, p *plan.Plan, opts []agent.Option) {
	prog := tea.NewProgram(tui.New(bus), tea.WithAltScreen())

	errChan := make(chan error, 1)
	go func() {
		_, err := prog.Run()
		errChan <- err
	}()

	loop := agent.New(cfg, wb, registry, bus, opts...)

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if _, err := loop.Run(ctx, p); err != nil {
			log.Printf("run error: %v", err)
		}
	}()

	select {
	case err := <-errChan:
		// User quit the TUI; stop admitting new steps.
		stop()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		stop()
		prog.Quit()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		select {
		case <-errChan:
		case <-shutdownCtx.Done():
			log.Println("Shutdown timeout exceeded, forcing exit")
		}
	}

	<-runDone
}
