package upgrade

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"
)

// Orchestrator phases, in the only order they may be entered.
const (
	PhaseNew     = "new"
	PhaseCurrent = "current"
	PhaseTarget  = "target"
	PhaseFlash   = "flash"
	PhaseSteps   = "steps"
)

const (
	eventCurrent = "determine_current"
	eventTarget  = "determine_target"
	eventFlash   = "discover_flash"
	eventStep    = "run_step"
)

// ErrPhaseOrder is returned when an orchestrator operation is called
// before the phases it depends on have completed.
var ErrPhaseOrder = errors.New("upgrade phase out of order")

type phases struct {
	*fsm.FSM
}

func newPhases() *phases {
	return &phases{fsm.NewFSM(PhaseNew, fsm.Events{
		{Name: eventCurrent, Src: []string{PhaseNew}, Dst: PhaseCurrent},
		{Name: eventTarget, Src: []string{PhaseCurrent}, Dst: PhaseTarget},
		{Name: eventFlash, Src: []string{PhaseTarget}, Dst: PhaseFlash},
		{Name: eventStep, Src: []string{PhaseFlash, PhaseSteps}, Dst: PhaseSteps},
	}, fsm.Callbacks{})}
}

// enter moves to the phase reached by event. Repeating the steps phase is
// allowed.
func (p *phases) enter(ctx context.Context, event string) error {
	err := p.Event(ctx, event)
	var noTransition fsm.NoTransitionError
	if err == nil || errors.As(err, &noTransition) {
		return nil
	}
	return fmt.Errorf("%s in phase %s: %w", event, p.Current(), ErrPhaseOrder)
}
