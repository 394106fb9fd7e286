package agent

import (
	"fmt"
	"strings"

	"github.com/polzovatel/browser-task-agent/internal/plan"
	"github.com/polzovatel/browser-task-agent/internal/snapshot"
)

const systemPrompt = `You are a browser automation agent. Each request shows a screenshot of the current page and an outline of it.
Every element you can act on carries [ref=N] in the outline. Refs are only valid for the outline they appear in.
Follow the requested reply format exactly and write nothing else.`

const (
	headerPlanning     = "TASK PLANNING"
	headerStep         = "CURRENT STEP"
	headerSubStep      = "CURRENT SUB-STEP"
	headerVerification = "STEP VERIFICATION"
	headerBreakdown    = "STEP BREAKDOWN"
)

const planFormat = `Break the task into short, concrete browser steps. Reply exactly in this format:
PLAN: <one line describing the task>
STEPS:
1. <first step>
2. <second step>`

const subPlanFormat = `Break this step into smaller browser actions. Reply exactly in this format:
SUB-PLAN: <one line describing the step>
SUB-STEPS:
1. <first sub-step>
2. <second sub-step>`

const actionRules = `Reply with one or more commands joined by ";", for example CLICK:12;TYPE:4:hello;PRESS:Enter
Reply NULL alone if the step needs no action on this page.
Reply BREAKDOWN_NEEDED alone if the step is too large to do in one reply.
End with COMPLETE only when the whole task is finished.`

const subActionRules = `Reply with one or more commands joined by ";", for example CLICK:12;TYPE:4:hello
Reply NULL alone if the sub-step needs no action on this page.
End with COMPLETE only when the whole task is finished.`

const verifyFormat = `Look at the page and decide whether the step above has been completed.
Reply with exactly one word: COMPLETED, INCOMPLETE or UNKNOWN.`

func pageSection(snap *snapshot.Snapshot) string {
	if snap == nil {
		return "PAGE: unavailable\n"
	}
	return fmt.Sprintf("URL: %s\nTITLE: %s\nOUTLINE:\n%s\n", snap.URL, snap.Title, snap.Text())
}

func planPrompt(instruction string, obs Observation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\nTASK: %s\n\n", headerPlanning, instruction)
	b.WriteString(pageSection(obs.Snapshot))
	b.WriteString("\n")
	b.WriteString(planFormat)
	return b.String()
}

func planSteps(p plan.Plan, current int) string {
	var b strings.Builder
	for i, step := range p.Steps {
		marker := "  "
		switch {
		case i < current:
			marker = "✓ "
		case i == current:
			marker = "→ "
		}
		fmt.Fprintf(&b, "%s%d. %s\n", marker, i+1, step)
	}
	return b.String()
}

func stepPrompt(req StepRequest, obs Observation, catalogue string) string {
	var b strings.Builder
	if req.SubStep != "" {
		fmt.Fprintf(&b, "%s\nTASK: %s\nSTEP %d: %s\nSUB-STEP %d: %s\n\n", headerSubStep,
			req.Plan.TaskDescription, req.StepIndex+1, req.Step(), req.SubStepIndex+1, req.SubStep)
	} else {
		fmt.Fprintf(&b, "%s\nTASK: %s\nPLAN:\n%s\nSTEP %d: %s\n\n", headerStep,
			req.Plan.TaskDescription, planSteps(req.Plan, req.StepIndex), req.StepIndex+1, req.Step())
	}
	if req.Feedback != "" {
		fmt.Fprintf(&b, "PREVIOUS ATTEMPT FAILED: %s\n\n", req.Feedback)
	}
	b.WriteString(pageSection(obs.Snapshot))
	b.WriteString("\nCOMMANDS:\n")
	b.WriteString(catalogue)
	b.WriteString("\n\n")
	if req.SubStep != "" {
		b.WriteString(subActionRules)
	} else {
		b.WriteString(actionRules)
	}
	return b.String()
}

func breakdownPrompt(req StepRequest, obs Observation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\nTASK: %s\nSTEP %d: %s\n\n", headerBreakdown, req.Plan.TaskDescription, req.StepIndex+1, req.Step())
	b.WriteString(pageSection(obs.Snapshot))
	b.WriteString("\n")
	b.WriteString(subPlanFormat)
	return b.String()
}

func verifyPrompt(req StepRequest, obs Observation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\nTASK: %s\nSTEP %d: %s\n\n", headerVerification, req.Plan.TaskDescription, req.StepIndex+1, req.Step())
	b.WriteString(pageSection(obs.Snapshot))
	b.WriteString("\n")
	b.WriteString(verifyFormat)
	return b.String()
}

// label is the short form of a prompt kept in the conversation log; the
// outline and screenshot are not replayed.
func label(header string, req StepRequest) string {
	if req.SubStep != "" {
		return fmt.Sprintf("%s (step %d): %s", header, req.StepIndex+1, req.SubStep)
	}
	return fmt.Sprintf("%s %d: %s", header, req.StepIndex+1, req.Step())
}
