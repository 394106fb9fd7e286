package agent

import (
	"context"
	"fmt"

	"github.com/polzovatel/browser-task-agent/internal/action"
	"github.com/polzovatel/browser-task-agent/internal/plan"
)

// breakdown asks for a sub-plan of the current step and runs its sub-steps in
// order. Sub-steps cannot be broken down further; one that yields nothing
// runnable or fails is skipped.
func (o *Orchestrator) breakdown(ctx context.Context, st ExecutionState, res *Result) (ExecutionState, error) {
	st = o.transition(st, PhaseBreakdown, "")
	log := o.stepLogger(st)

	obs, err := o.Observe(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return st, ctxErr
		}
		log.Warn().Err(err).Msg("snapshot failed, step will be retried")
		return o.transition(st, PhaseExecutingStep, "snapshot failed"), nil
	}
	sub, err := o.planner.Decompose(ctx, o.request(st), obs)
	switch {
	case isParseFailure(err):
		log.Warn().Err(err).Msg("sub-plan unparseable, step will be retried")
		st.Feedback = "the step could not be broken down"
		return o.transition(st, PhaseExecutingStep, "sub-plan unparseable"), nil
	case err != nil:
		return st, fmt.Errorf("break down step %d: %w", st.StepIndex+1, err)
	}
	log.Info().Str("sub_plan", sub.Description).Int("sub_steps", len(sub.SubSteps)).Msg("step broken down")

	for i, text := range sub.SubSteps {
		st.SubStepIndex = i
		done, err := o.subStep(ctx, st, res, text)
		if err != nil {
			return st, err
		}
		if done {
			res.StepsCompleted++
			st.Completed = true
			return st, nil
		}
	}
	st.SubStepIndex = 0

	if !o.cfg.Verify {
		return o.advance(st, res, "sub-plan finished"), nil
	}
	st, verdict, err := o.verify(ctx, st)
	if err != nil {
		return st, err
	}
	if verdict == plan.VerdictCompleted {
		return o.advance(st, res, "verified after breakdown"), nil
	}
	log.Warn().Stringer("verdict", verdict).Msg("step still not verified, step will be retried")
	st.Feedback = "the step was not confirmed as completed"
	return o.transition(st, PhaseExecutingStep, "not verified"), nil
}

// subStep reports whether the task was completed by the sub-step.
func (o *Orchestrator) subStep(ctx context.Context, st ExecutionState, res *Result, text string) (bool, error) {
	req := o.request(st)
	req.Feedback = ""
	req.SubStep = text
	req.SubStepIndex = st.SubStepIndex
	log := o.stepLogger(st).With().Int("sub_step", st.SubStepIndex+1).Logger()
	log.Info().Str("text", text).Msg("executing sub-step")

	obs, err := o.Observe(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		log.Warn().Err(err).Msg("snapshot failed, skipping sub-step")
		return false, nil
	}
	cmds, err := o.planner.Decide(ctx, req, obs)
	switch {
	case isParseFailure(err):
		log.Warn().Err(err).Msg("unparseable reply, skipping sub-step")
		return false, nil
	case err != nil:
		return false, fmt.Errorf("step %d sub-step %d: %w", st.StepIndex+1, st.SubStepIndex+1, err)
	}
	if sentinel, ok := action.Sentinel(cmds); ok {
		log.Warn().Str("reply", sentinel.String()).Msg("sub-step yielded no actions, skipping")
		return false, nil
	}

	out, err := o.runBatch(ctx, cmds, res, log)
	if err != nil {
		return false, fmt.Errorf("step %d sub-step %d: %w", st.StepIndex+1, st.SubStepIndex+1, err)
	}
	if out.failure != nil {
		log.Warn().Err(out.failure).Msg("sub-step failed, skipping")
	}
	return out.done, nil
}
