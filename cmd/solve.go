package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/abhisek/sheetsolver/internal/cache"
	"github.com/abhisek/sheetsolver/internal/config"
	"github.com/abhisek/sheetsolver/internal/export"
	"github.com/abhisek/sheetsolver/internal/extraction"
	"github.com/abhisek/sheetsolver/internal/llm"
	"github.com/abhisek/sheetsolver/internal/pipeline"
	"github.com/abhisek/sheetsolver/internal/reasoning"
	"github.com/abhisek/sheetsolver/internal/store"
	"github.com/abhisek/sheetsolver/internal/vision"
	"github.com/abhisek/sheetsolver/internal/worksheet"
)

var solveCmd = &cobra.Command{
	Use:   "solve <file>",
	Short: "Extract and solve every problem in a worksheet",
	Args:  cobra.ExactArgs(1),
	RunE:  runSolve,
}

func init() {
	solveCmd.Flags().String("worksheet-id", "", "Worksheet id used as the storage key (default: file name without extension)")
	solveCmd.Flags().String("lesson", "", "Lesson slug attached to stored results")
	solveCmd.Flags().Bool("persist", false, "Store results in the result store (also SHEETSOLVER_PERSIST)")
	solveCmd.Flags().StringP("out", "o", "", "Write results to this file instead of stdout (.xlsx writes a workbook)")
	solveCmd.Flags().String("xlsx", "", "Also write results as an XLSX workbook to this path")
	solveCmd.Flags().Int("concurrency", pipeline.DefaultConcurrency, "Problems solved in parallel (0 = unbounded)")
	solveCmd.Flags().Duration("stage-timeout", pipeline.DefaultStageTimeout, "Time limit for each vision or reasoning stage")
	solveCmd.Flags().Bool("no-progress", false, "Disable the progress bar")
}

func runSolve(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	path := args[0]

	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("concurrency") {
		cfg.Concurrency, _ = cmd.Flags().GetInt("concurrency")
	}
	if cmd.Flags().Changed("stage-timeout") {
		cfg.StageTimeout, _ = cmd.Flags().GetDuration("stage-timeout")
	}
	if cmd.Flags().Changed("persist") {
		cfg.Persist, _ = cmd.Flags().GetBool("persist")
	}

	document, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read worksheet: %w", err)
	}

	// The store is optional unless persisting: without it LLM calls are
	// simply not recorded.
	var (
		results *store.ResultRepo
		events  store.EventRepo
	)
	st, err := openStore(cmd, cfg, log)
	if err != nil {
		if cfg.Persist {
			log.Warn().Err(err).Msg("solve.store.unavailable")
		} else {
			log.Debug().Err(err).Msg("solve.store.unavailable")
		}
		results = store.NewResultRepo(nil)
	} else {
		defer st.Close()
		results = st.ResultRepo()
		events = st.EventRepo()
	}

	orch, closeCache, err := buildOrchestrator(cmd, cfg, events, log)
	if err != nil {
		return err
	}
	defer closeCache()

	records, err := orch.ProcessWorksheet(ctx, document, filepath.Base(path))
	if err != nil {
		return err
	}

	if err := writeResults(cmd, records); err != nil {
		return err
	}

	if !cfg.Persist {
		return nil
	}

	worksheetID, _ := cmd.Flags().GetString("worksheet-id")
	if worksheetID == "" {
		worksheetID = defaultWorksheetID(path)
	}
	lesson, _ := cmd.Flags().GetString("lesson")
	metadata := map[string]any{
		"source_file":     filepath.Base(path),
		"vision_model":    cfg.Vision.Model(),
		"reasoning_model": cfg.Reasoning.Model(),
	}

	stats, err := results.Persist(ctx, records, worksheetID, lesson, metadata)
	if err != nil {
		return fmt.Errorf("persist results: %w", err)
	}
	log.Info().
		Str("worksheet_id", worksheetID).
		Int("upserted", stats.Upserted).
		Int("modified", stats.Modified).
		Int("failed", stats.Failed).
		Msg("solve.persisted")
	return nil
}

// buildOrchestrator wires the pipeline from cfg. The returned func releases
// the extraction cache connection, if one was opened.
func buildOrchestrator(cmd *cobra.Command, cfg *config.Config, events store.EventRepo, log zerolog.Logger) (*pipeline.Orchestrator, func(), error) {
	ctx := cmd.Context()
	noop := func() {}

	extractor, err := extraction.New(cfg.Extraction, log)
	if err != nil {
		return nil, noop, err
	}

	visionLLM, err := llm.NewProvider(ctx, cfg.Vision, events, log)
	if err != nil {
		return nil, noop, fmt.Errorf("vision provider: %w", err)
	}
	reasoningLLM, err := llm.NewProvider(ctx, cfg.Reasoning, events, log)
	if err != nil {
		return nil, noop, fmt.Errorf("reasoning provider: %w", err)
	}

	vis, err := vision.New(visionLLM, log)
	if err != nil {
		return nil, noop, err
	}
	rsn, err := reasoning.New(reasoningLLM, log)
	if err != nil {
		return nil, noop, err
	}

	opts := []pipeline.Option{pipeline.WithConcurrency(cfg.Concurrency)}

	cleanup := noop
	if cfg.Cache.Enabled() {
		c, err := cache.New(ctx, cfg.Cache, log)
		if err != nil {
			log.Warn().Err(err).Msg("solve.cache.unavailable")
		} else {
			cleanup = func() { _ = c.Close() }
			opts = append(opts, pipeline.WithCache(c))
		}
	}

	if quiet, _ := cmd.Flags().GetBool("no-progress"); !quiet {
		opts = append(opts, pipeline.WithProgress(newProgress().Done))
	}

	solver := pipeline.NewSolver(vis, rsn, cfg.StageTimeout, log)
	return pipeline.NewOrchestrator(extractor, solver, log, opts...), cleanup, nil
}

func writeResults(cmd *cobra.Command, records []worksheet.ResultRecord) error {
	if out, _ := cmd.Flags().GetString("out"); out != "" {
		if err := export.WriteFile(out, records); err != nil {
			return fmt.Errorf("write %s: %w", out, err)
		}
	} else if err := export.WriteJSON(cmd.OutOrStdout(), records); err != nil {
		return fmt.Errorf("write results: %w", err)
	}

	if path, _ := cmd.Flags().GetString("xlsx"); path != "" {
		data, err := export.XLSX(records)
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}

func defaultWorksheetID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// progress renders a bar on stderr. The total is only known once extraction
// finishes, so the bar is created on the first finished problem.
type progress struct {
	mu  sync.Mutex
	bar *progressbar.ProgressBar
}

func newProgress() *progress {
	return &progress{}
}

func (p *progress) Done(done, total int, r worksheet.ResultRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bar == nil {
		p.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("solving"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionSetRenderBlankState(true),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprint(os.Stderr, "\n")
			}),
		)
	}
	_ = p.bar.Add(1)
}
