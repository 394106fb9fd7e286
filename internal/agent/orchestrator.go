package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/polzovatel/browser-task-agent/internal/action"
	"github.com/polzovatel/browser-task-agent/internal/browser"
	"github.com/polzovatel/browser-task-agent/internal/llm"
	"github.com/polzovatel/browser-task-agent/internal/plan"
	"github.com/polzovatel/browser-task-agent/internal/registry"
	"github.com/polzovatel/browser-task-agent/internal/snapshot"
	"github.com/polzovatel/browser-task-agent/internal/tools"
)

type Config struct {
	// Verify asks the model to confirm each step after its commands ran.
	Verify        bool
	Retry         RetryPolicy
	HistoryWindow int
	// AuditPath receives the full conversation of each task when set.
	AuditPath string
	Snapshot  snapshot.Options
	Actions   action.Config
}

type Task struct {
	Description string
}

type Option func(*Orchestrator)

// WithTrace records transitions into a host-owned t instead of a private trace.
func WithTrace(t *Trace) Option {
	return func(o *Orchestrator) { o.trace = t }
}

// Orchestrator drives one task at a time through planning, step execution,
// verification and breakdown. Run must not be called concurrently; a Queue
// serializes callers.
type Orchestrator struct {
	cfg      Config
	page     browser.Page
	builder  *snapshot.Builder
	refs     *registry.Registry
	exec     *action.Executor
	toolbox  tools.Toolbox
	planner  Planner
	conv     *llm.Conversation
	trace    *Trace
	logger   zerolog.Logger
	idleWait time.Duration
	current  []Transition
}

func NewOrchestrator(cfg Config, page browser.Page, model llm.VisionModel, logger zerolog.Logger, opts ...Option) *Orchestrator {
	refs := registry.New()
	exec := action.NewExecutor(page, refs, model, cfg.Actions, logger)
	toolbox := tools.New(exec)
	conv := llm.NewConversation(cfg.HistoryWindow)

	idleWait := cfg.Actions.NavigationTimeout
	if idleWait <= 0 {
		idleWait = action.DefaultNavigationTimeout
	}
	o := &Orchestrator{
		cfg:      cfg,
		page:     page,
		builder:  snapshot.NewBuilder(page, cfg.Snapshot, logger),
		refs:     refs,
		exec:     exec,
		toolbox:  toolbox,
		planner:  NewPlanner(model, conv, tools.Catalogue(toolbox.Describe()), logger),
		conv:     conv,
		trace:    NewTrace(0),
		logger:   logger.With().Str("comp", "agent").Logger(),
		idleWait: idleWait,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) Trace() *Trace { return o.trace }

func (o *Orchestrator) Conversation() *llm.Conversation { return o.conv }

// Toolbox runs commands against the same page and registry as the task loop.
func (o *Orchestrator) Toolbox() tools.Toolbox { return o.toolbox }

// Run executes a task to completion or abort. The returned error is set only
// for failures that stop the task outright: cancellation or a model failure.
// An exhausted retry budget is reported through Result.AbortReason.
func (o *Orchestrator) Run(ctx context.Context, task Task) (Result, error) {
	o.conv.Reset()
	o.current = nil
	defer o.writeAudit()

	res := Result{Instruction: task.Description}
	st := o.transition(ExecutionState{Phase: PhaseIdle}, PhasePlanning, "")
	o.logger.Info().Str("task", task.Description).Msg("task started")

	p, singleShot, err := o.plan(ctx, task.Description)
	if err != nil {
		return o.finish(st, res, PhaseAborted, err), err
	}
	res.Plan = p
	res.SingleShot = singleShot
	st.Task = &p
	st = o.transition(st, PhaseExecutingStep, fmt.Sprintf("%d steps", len(p.Steps)))

	budget := o.cfg.Retry.budget(len(p.Steps))
	for st.StepIndex < len(p.Steps) && !st.Completed {
		if err := ctx.Err(); err != nil {
			return o.finish(st, res, PhaseAborted, err), err
		}
		if st.AttemptsUsed >= budget || o.cfg.Retry.stepExhausted(st.StepAttempts) {
			o.logger.Warn().
				Int("attempts", st.AttemptsUsed).
				Int("budget", budget).
				Int("step", st.StepIndex+1).
				Int("step_attempts", st.StepAttempts).
				Msg("retry budget exhausted, aborting task")
			return o.finish(st, res, PhaseAborted, ErrMaxAttemptsExceeded), nil
		}
		st, err = o.cycle(ctx, st, &res)
		if err != nil {
			return o.finish(st, res, PhaseAborted, err), err
		}
	}
	return o.finish(st, res, PhaseCompleted, nil), nil
}

func (o *Orchestrator) plan(ctx context.Context, instruction string) (plan.Plan, bool, error) {
	obs, err := o.Observe(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return plan.Plan{}, false, ctxErr
		}
		o.logger.Warn().Err(err).Msg("planning without a page outline")
	}
	p, err := o.planner.Plan(ctx, instruction, obs)
	switch {
	case isParseFailure(err):
		o.logger.Warn().Err(err).Msg("plan reply unparseable, running instruction as one step")
		return plan.SingleShot(instruction), true, nil
	case err != nil:
		return plan.Plan{}, false, fmt.Errorf("planning: %w", err)
	}
	o.logger.Info().Str("plan", p.TaskDescription).Int("steps", len(p.Steps)).Msg("plan ready")
	return p, false, nil
}

// cycle spends one attempt on the current step.
func (o *Orchestrator) cycle(ctx context.Context, st ExecutionState, res *Result) (ExecutionState, error) {
	st.AttemptsUsed++
	st.StepAttempts++
	req := o.request(st)
	log := o.stepLogger(st)
	log.Info().Str("text", req.Step()).Msg("executing step")

	obs, err := o.Observe(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return st, ctxErr
		}
		log.Warn().Err(err).Msg("snapshot failed, step will be retried")
		st.Feedback = "the page could not be captured"
		return st, nil
	}

	cmds, err := o.planner.Decide(ctx, req, obs)
	switch {
	case isParseFailure(err):
		log.Warn().Err(err).Msg("unparseable reply, breaking step down")
		return o.breakdown(ctx, st, res)
	case err != nil:
		return st, fmt.Errorf("step %d: %w", st.StepIndex+1, err)
	}
	if sentinel, ok := action.Sentinel(cmds); ok {
		if _, isNull := sentinel.(action.Null); isNull {
			log.Info().Msg("step needs no action")
			return o.advance(st, res, "no action needed"), nil
		}
		log.Info().Msg("model asked for a breakdown")
		return o.breakdown(ctx, st, res)
	}

	out, err := o.runBatch(ctx, cmds, res, log)
	switch {
	case err != nil:
		return st, fmt.Errorf("step %d: %w", st.StepIndex+1, err)
	case out.done:
		res.StepsCompleted++
		st.Completed = true
		return st, nil
	case out.failure != nil:
		log.Warn().Err(out.failure).Msg("command failed, step will be retried")
		st.Feedback = out.failure.Error()
		return st, nil
	case !o.cfg.Verify:
		return o.advance(st, res, ""), nil
	}

	st, verdict, err := o.verify(ctx, st)
	if err != nil {
		return st, err
	}
	if verdict == plan.VerdictCompleted {
		return o.advance(st, res, "verified"), nil
	}
	log.Info().Stringer("verdict", verdict).Msg("step not verified, breaking down")
	return o.breakdown(ctx, st, res)
}

type batchOutcome struct {
	done    bool
	failure error
}

// runBatch executes commands in order and stops at the first one that fails.
// Only cancellation and model transport failures are returned as errors.
func (o *Orchestrator) runBatch(ctx context.Context, cmds []action.Command, res *Result, log zerolog.Logger) (batchOutcome, error) {
	for _, cmd := range cmds {
		eff, err := o.exec.Execute(ctx, cmd)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return batchOutcome{}, ctxErr
			}
			if errors.Is(err, llm.ErrTransport) {
				return batchOutcome{}, fmt.Errorf("%s: %w", cmd, err)
			}
			return batchOutcome{failure: fmt.Errorf("%s: %w", cmd, err)}, nil
		}
		log.Debug().Str("command", cmd.String()).Bool("navigated", eff.Navigated).Msg("command done")
		if eff.Output != "" {
			log.Info().Str("question", cmd.String()).Str("answer", eff.Output).Msg("analysis")
			res.Analyses = append(res.Analyses, eff.Output)
		}
		if eff.Done {
			if c, ok := cmd.(action.Complete); ok {
				res.Message = c.Message
			}
			return batchOutcome{done: true}, nil
		}
	}
	return batchOutcome{}, nil
}

func (o *Orchestrator) verify(ctx context.Context, st ExecutionState) (ExecutionState, plan.Verdict, error) {
	st = o.transition(st, PhaseVerifyingStep, "")
	obs, err := o.Observe(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return st, plan.VerdictUnknown, ctxErr
		}
		log := o.stepLogger(st)
		log.Warn().Err(err).Msg("snapshot failed, verdict unknown")
		return st, plan.VerdictUnknown, nil
	}
	verdict, err := o.planner.Verify(ctx, o.request(st), obs)
	if err != nil {
		return st, verdict, fmt.Errorf("verify step %d: %w", st.StepIndex+1, err)
	}
	return st, verdict, nil
}

// Observe captures a new snapshot, rebuilds the registry from it and takes a
// screenshot. A detached document is captured once more after the page settles.
func (o *Orchestrator) Observe(ctx context.Context) (Observation, error) {
	snap, err := o.builder.Build(ctx)
	if errors.Is(err, snapshot.ErrDetachedContext) {
		o.logger.Debug().Err(err).Msg("document detached, waiting for the next one")
		if werr := o.page.WaitForNetworkIdle(ctx, o.idleWait); werr != nil && ctx.Err() == nil {
			o.logger.Debug().Err(werr).Msg("wait for network idle")
		}
		snap, err = o.builder.Build(ctx)
	}
	if err != nil {
		o.refs.Invalidate()
		return Observation{}, err
	}
	o.refs.Rebuild(snap)

	shot, err := o.page.Screenshot(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Observation{}, ctxErr
		}
		o.logger.Warn().Err(err).Msg("screenshot failed, continuing without it")
	}
	o.logger.Info().
		Str("url", snap.URL).
		Str("title", snap.Title).
		Str("generation", o.refs.Generation()).
		Int("refs", o.refs.Len()).
		Msg("snapshot")
	return Observation{Snapshot: snap, Screenshot: shot}, nil
}

func (o *Orchestrator) advance(st ExecutionState, res *Result, note string) ExecutionState {
	res.StepsCompleted++
	st.StepIndex++
	st.SubStepIndex = 0
	st.StepAttempts = 0
	st.Feedback = ""
	return o.transition(st, PhaseExecutingStep, note)
}

func (o *Orchestrator) transition(st ExecutionState, to Phase, note string) ExecutionState {
	from := st.Phase
	st.Phase = to
	tr := Transition{
		At:       time.Now(),
		From:     from,
		To:       to,
		Step:     st.StepIndex,
		SubStep:  st.SubStepIndex,
		Attempts: st.AttemptsUsed,
		Note:     note,
	}
	o.current = append(o.current, tr)
	o.trace.Record(tr)
	o.logger.Debug().
		Stringer("from", from).
		Stringer("to", to).
		Int("step", st.StepIndex+1).
		Str("note", note).
		Msg("transition")
	return st
}

func (o *Orchestrator) finish(st ExecutionState, res Result, to Phase, reason error) Result {
	note := ""
	if reason != nil {
		note = reason.Error()
	}
	st = o.transition(st, to, note)
	res.Status = to
	res.AbortReason = reason
	res.AttemptsUsed = st.AttemptsUsed
	res.FinalURL = o.page.URL()
	res.Trace = append([]Transition(nil), o.current...)

	event := o.logger.Info()
	if to == PhaseAborted {
		event = o.logger.Warn().AnErr("reason", reason)
	}
	event.
		Stringer("status", to).
		Int("steps_completed", res.StepsCompleted).
		Int("attempts", res.AttemptsUsed).
		Str("url", res.FinalURL).
		Msg("task finished")
	return res
}

func (o *Orchestrator) request(st ExecutionState) StepRequest {
	req := StepRequest{StepIndex: st.StepIndex, Feedback: st.Feedback}
	if st.Task != nil {
		req.Plan = *st.Task
	}
	return req
}

func (o *Orchestrator) stepLogger(st ExecutionState) zerolog.Logger {
	return o.logger.With().
		Int("step", st.StepIndex+1).
		Int("attempt", st.AttemptsUsed).
		Logger()
}

func (o *Orchestrator) writeAudit() {
	if o.cfg.AuditPath == "" {
		return
	}
	if err := o.conv.WriteAudit(o.cfg.AuditPath); err != nil {
		o.logger.Warn().Err(err).Str("path", o.cfg.AuditPath).Msg("write audit log")
	}
}
