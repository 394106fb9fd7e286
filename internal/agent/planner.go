package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/polzovatel/browser-task-agent/internal/action"
	"github.com/polzovatel/browser-task-agent/internal/llm"
	"github.com/polzovatel/browser-task-agent/internal/plan"
	"github.com/polzovatel/browser-task-agent/internal/snapshot"
)

// Observation is what the model sees of the page for one request.
type Observation struct {
	Snapshot   *snapshot.Snapshot
	Screenshot []byte
}

// StepRequest locates the step or sub-step a request is about.
type StepRequest struct {
	Plan         plan.Plan
	StepIndex    int
	SubStep      string
	SubStepIndex int
	Feedback     string
}

func (r StepRequest) Step() string {
	if r.StepIndex < 0 || r.StepIndex >= len(r.Plan.Steps) {
		return ""
	}
	return r.Plan.Steps[r.StepIndex]
}

// Planner asks the model for plans, commands and verdicts. Unparseable replies
// are returned as errors matching plan.ErrParseFailure or action.ErrParseFailure;
// every other error comes from the model itself.
type Planner interface {
	Plan(ctx context.Context, instruction string, obs Observation) (plan.Plan, error)
	Decompose(ctx context.Context, req StepRequest, obs Observation) (plan.SubPlan, error)
	Decide(ctx context.Context, req StepRequest, obs Observation) ([]action.Command, error)
	Verify(ctx context.Context, req StepRequest, obs Observation) (plan.Verdict, error)
}

type visionPlanner struct {
	model     llm.VisionModel
	conv      *llm.Conversation
	catalogue string
	logger    zerolog.Logger
}

func NewPlanner(model llm.VisionModel, conv *llm.Conversation, catalogue string, logger zerolog.Logger) Planner {
	return &visionPlanner{
		model:     model,
		conv:      conv,
		catalogue: catalogue,
		logger:    logger.With().Str("comp", "planner").Logger(),
	}
}

func (p *visionPlanner) Plan(ctx context.Context, instruction string, obs Observation) (plan.Plan, error) {
	reply, err := p.ask(ctx, headerPlanning+": "+instruction, planPrompt(instruction, obs), obs, false)
	if err != nil {
		return plan.Plan{}, err
	}
	return plan.ParsePlan(reply)
}

func (p *visionPlanner) Decompose(ctx context.Context, req StepRequest, obs Observation) (plan.SubPlan, error) {
	reply, err := p.ask(ctx, label(headerBreakdown, req), breakdownPrompt(req, obs), obs, true)
	if err != nil {
		return plan.SubPlan{}, err
	}
	return plan.ParseSubPlan(reply)
}

func (p *visionPlanner) Decide(ctx context.Context, req StepRequest, obs Observation) ([]action.Command, error) {
	header := headerStep
	if req.SubStep != "" {
		header = headerSubStep
	}
	reply, err := p.ask(ctx, label(header, req), stepPrompt(req, obs, p.catalogue), obs, true)
	if err != nil {
		return nil, err
	}
	return action.Parse(reply)
}

func (p *visionPlanner) Verify(ctx context.Context, req StepRequest, obs Observation) (plan.Verdict, error) {
	reply, err := p.ask(ctx, label(headerVerification, req), verifyPrompt(req, obs), obs, true)
	if err != nil {
		return plan.VerdictUnknown, err
	}
	return plan.ParseVerdict(reply), nil
}

func (p *visionPlanner) ask(ctx context.Context, short, prompt string, obs Observation, replay bool) (string, error) {
	req := llm.Request{
		System:     systemPrompt,
		Prompt:     prompt,
		Screenshot: obs.Screenshot,
	}
	if replay {
		req.History = p.conv.Working()
	}
	reply, err := p.model.Respond(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%s: %w", p.model.Name(), err)
	}
	p.conv.Record(short, reply)
	p.logger.Debug().Str("prompt", short).Str("reply", reply).Msg("model reply")
	return reply, nil
}

func isParseFailure(err error) bool {
	return errors.Is(err, plan.ErrParseFailure) || errors.Is(err, action.ErrParseFailure)
}
