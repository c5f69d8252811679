package robot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"palletizer-control/internal/protocol"
)

// Axis names one hold-to-run jog counter.
type Axis string

const (
	AxisPosition Axis = "position"
	AxisLift     Axis = "lift"
	AxisGripper  Axis = "gripper"
)

// Jog is one hold-to-run motion.
type Jog struct {
	Axis Axis
	Job  string
}

var jogs = map[string]Jog{
	"position-home":    {AxisPosition, protocol.JobPositionHome},
	"position-package": {AxisPosition, protocol.JobPositionPackage},
	"lift-up":          {AxisLift, protocol.JobLiftUp},
	"lift-down":        {AxisLift, protocol.JobLiftDown},
	"gripper-up":       {AxisGripper, protocol.JobGripperUp},
	"gripper-down":     {AxisGripper, protocol.JobGripperDown},
}

// LookupJog resolves a jog route name such as "lift-up".
func LookupJog(name string) (Jog, bool) {
	j, ok := jogs[name]
	return j, ok
}

// Jogger tracks hold-to-run heartbeats per robot and axis. The first press
// after a reset starts the motion; every press publishes a heartbeat.
type Jogger struct {
	client *Client
	now    func() time.Time

	mu     sync.Mutex
	counts map[string]map[Axis]int
}

func NewJogger(c *Client) *Jogger {
	return &Jogger{
		client: c,
		now:    time.Now,
		counts: make(map[string]map[Axis]int),
	}
}

// Press sends the start command on the first press of an axis, then
// publishes the heartbeat with the current count and advances it.
func (j *Jogger) Press(ctx context.Context, serial string, jog Jog) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	axes := j.counts[serial]
	if axes == nil {
		axes = make(map[Axis]int)
		j.counts[serial] = axes
	}
	count := axes[jog.Axis]
	if count == 0 {
		if err := j.client.ControlWord(ctx, serial, protocol.CmdOperationStart, jog.Job); err != nil {
			return count, fmt.Errorf("start %s jog: %w", jog.Axis, err)
		}
	}
	if err := j.client.ButtonState(j.now().Unix(), count); err != nil {
		return count, fmt.Errorf("%s heartbeat: %w", jog.Axis, err)
	}
	axes[jog.Axis] = count + 1
	return count, nil
}

// Reset ends the hold on an axis; the next press starts a new motion.
func (j *Jogger) Reset(serial string, axis Axis) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if axes := j.counts[serial]; axes != nil {
		axes[axis] = 0
	}
}

// Count returns the current heartbeat count of an axis.
func (j *Jogger) Count(serial string, axis Axis) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.counts[serial][axis]
}
