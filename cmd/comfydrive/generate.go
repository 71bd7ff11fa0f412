package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/richinsley/comfydrive/client"
	"github.com/richinsley/comfydrive/workflow"
)

// genOptions are the flags shared by gen and i2i.
type genOptions struct {
	workflow   int
	negative   string
	seed       uint64
	count      int
	outDir     string
	noProgress bool
}

func (o *genOptions) bind(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&o.workflow, "workflow", "w", 0, "template index, defaults to workflows.default_index")
	cmd.Flags().StringVar(&o.negative, "negative", "", "negative prompt")
	cmd.Flags().Uint64Var(&o.seed, "seed", 0, "seed for the first image, random when not given")
	cmd.Flags().IntVarP(&o.count, "count", "n", 1, "number of images")
	cmd.Flags().StringVarP(&o.outDir, "out", "o", ".", "directory for the downloaded images")
	cmd.Flags().BoolVar(&o.noProgress, "no-progress", false, "do not follow execution progress")
}

// run is one batch of jobs from a single template.
type run struct {
	wf         *workflow.Info
	prompt     string
	inputImage string
	seed       *uint64
	opts       *genOptions
}

func genCmd(a *app) *cobra.Command {
	opts := &genOptions{}
	cmd := &cobra.Command{
		Use:   "gen <prompt>",
		Short: "Generate images from a text prompt",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := a.selectWorkflow(opts.workflow)
			if err != nil {
				return err
			}
			r := &run{wf: wf, prompt: strings.Join(args, " "), opts: opts}
			if cmd.Flags().Changed("seed") {
				r.seed = &opts.seed
			}
			return a.execute(cmd.Context(), r)
		},
	}
	opts.bind(cmd)
	return cmd
}

func i2iCmd(a *app) *cobra.Command {
	opts := &genOptions{}
	var imagePath string
	cmd := &cobra.Command{
		Use:   "i2i --image <file> <prompt>",
		Short: "Generate images from an input image and a text prompt",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := a.selectWorkflow(opts.workflow)
			if err != nil {
				return err
			}
			if !wf.Mapping.SupportsImageInput() {
				failure("workflow %d (%s) has no image input", wf.Index, wf.Name)
				return fmt.Errorf("workflow %d does not accept an input image", wf.Index)
			}

			data, err := os.ReadFile(imagePath)
			if err != nil {
				return fmt.Errorf("read input image: %w", err)
			}
			ext := strings.ToLower(filepath.Ext(imagePath))
			if ext == "" {
				ext = ".png"
			}
			name, err := a.client.UploadImage(cmd.Context(), data, "i2i_"+uuid.NewString()+ext, true)
			if err != nil {
				failure("upload failed: %v", err)
				return err
			}
			a.logger.Info("uploaded input image", "name", name)

			r := &run{wf: wf, prompt: strings.Join(args, " "), inputImage: name, opts: opts}
			if cmd.Flags().Changed("seed") {
				r.seed = &opts.seed
			}
			return a.execute(cmd.Context(), r)
		},
	}
	opts.bind(cmd)
	cmd.Flags().StringVarP(&imagePath, "image", "i", "", "input image file")
	_ = cmd.MarkFlagRequired("image")
	return cmd
}

func (a *app) selectWorkflow(index int) (*workflow.Info, error) {
	if index <= 0 {
		index = a.cfg.Workflows.DefaultIndex
	}
	reg, err := a.registry()
	if err != nil {
		return nil, err
	}
	wf, ok := reg.Get(index)
	if !ok {
		failure("no workflow with index %d in %s", index, reg.Dir())
		return nil, fmt.Errorf("workflow %d not found", index)
	}
	return wf, nil
}

// execute runs r.opts.count jobs with at most jobs.max_concurrent in flight.
// A failed job does not stop the others.
func (a *app) execute(ctx context.Context, r *run) error {
	count := r.opts.count
	if count < 1 {
		count = 1
	}
	if err := os.MkdirAll(r.opts.outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	orch := a.orchestrator()
	var monitor *client.ProgressMonitor
	if !r.opts.noProgress {
		monitor = a.client.NewProgressMonitor()
		if err := monitor.Start(ctx); err != nil {
			a.logger.Warn("progress stream unavailable", "error", err)
			monitor = nil
		} else {
			defer monitor.Close()
		}
	}

	var (
		g      errgroup.Group
		failed atomic.Int32
	)
	g.SetLimit(a.cfg.Jobs.MaxConcurrent)
	for i := 0; i < count; i++ {
		g.Go(func() error {
			var handlers *client.MessageHandlers
			if monitor != nil {
				if count == 1 {
					handlers = progressHandlers(a.logger)
				} else {
					handlers = client.DefaultMessageHandlers(a.logger.With("image", i+1))
				}
			}
			if !a.runOne(ctx, orch, monitor, handlers, r, i) {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d jobs failed", n, count)
	}
	return nil
}

func (a *app) runOne(ctx context.Context, orch *client.Orchestrator, monitor *client.ProgressMonitor, handlers *client.MessageHandlers, r *run, i int) bool {
	p := a.cfg.Prompts
	params := workflow.Params{
		Positive:   workflow.ComposePrompt(p.PositiveGlobal, r.prompt, p.GlobalInHead),
		Negative:   workflow.ComposePrompt(p.NegativeGlobal, r.opts.negative, p.GlobalInHead),
		InputImage: r.inputImage,
	}
	if r.seed != nil {
		s := *r.seed + uint64(i)
		params.Seed = &s
	}

	graph, seed := r.wf.Prepare(params)
	job, err := orch.Submit(ctx, graph, &seed)
	if err != nil {
		failure("submit failed: %v", err)
		return false
	}
	if monitor != nil {
		unsubscribe := monitor.Subscribe(job.ID, job.Graph, handlers)
		defer unsubscribe()
	}

	res := orch.Wait(ctx, job)
	if !res.OK() {
		failure("job %s %s: %s (seed %d)", res.JobID, res.State, res.Reason, res.Seed)
		return false
	}

	ext := filepath.Ext(res.Image.Filename)
	if ext == "" {
		ext = ".png"
	}
	path := filepath.Join(r.opts.outDir, fmt.Sprintf("%s_%d%s", r.wf.Name, res.Seed, ext))
	if err := os.WriteFile(path, res.ImageData, 0o644); err != nil {
		failure("cannot save %s: %v", path, err)
		return false
	}
	success("saved %s (seed %d)", path, res.Seed)
	return true
}

// progressHandlers draws a progress bar for each sampling node of a single
// job.
func progressHandlers(logger *slog.Logger) *client.MessageHandlers {
	var (
		bar   *progressbar.ProgressBar
		title string
	)
	finish := func() {
		if bar != nil {
			_ = bar.Finish()
			bar = nil
		}
	}

	return client.DefaultMessageHandlers(logger).
		WithExecutingHandler(func(msg *client.PromptMessageExecuting) {
			finish()
			title = msg.Title
		}).
		WithProgressHandler(func(msg *client.PromptMessageProgress) {
			if bar == nil {
				bar = progressbar.NewOptions(msg.Max,
					progressbar.OptionSetWriter(os.Stderr),
					progressbar.OptionSetDescription(title),
					progressbar.OptionClearOnFinish(),
				)
			}
			_ = bar.Set(msg.Value)
		}).
		WithStoppedHandler(func(msg *client.PromptMessageStopped) {
			finish()
			logger.Debug("execution stopped", "prompt_id", msg.PromptID, "reason", msg.Reason)
		})
}
