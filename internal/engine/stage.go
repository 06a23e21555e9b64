package engine

import (
	"github.com/sirupsen/logrus"
)

// Stage is a point in the lifecycle shared by create and restore.
type Stage string

const (
	StageInitializing Stage = "initializing"
	StagePreparing    Stage = "preparing"
	StageBuilding     Stage = "building"
	StageFetching     Stage = "fetching"
	StageTransferring Stage = "transferring"
	StageFinalizing   Stage = "finalizing"
	StageSucceeded    Stage = "succeeded"
	StageFailed       Stage = "failed"
)

// Step statuses reported to progress listeners.
const (
	StatusRunning = "running"
	StatusDone    = "done"
	StatusError   = "error"
)

// Step is a progress event for one numbered step of an operation.
type Step struct {
	Index  int
	Name   string
	Status string
	Count  int
}

// run tracks the current stage of one operation and logs transitions.
type run struct {
	log    logrus.FieldLogger
	stage  Stage
	onStep func(Step)
	step   int
	name   string
}

func newRun(log logrus.FieldLogger, op string, onStep func(Step)) *run {
	r := &run{log: log.WithField("op", op), onStep: onStep, step: -1}
	r.enter(StageInitializing)
	return r
}

func (r *run) with(key string, value interface{}) {
	r.log = r.log.WithField(key, value)
}

func (r *run) enter(s Stage) {
	r.stage = s
	r.log.WithField("stage", s).Debug("stage transition")
}

// begin marks the previous step done and starts the next one.
func (r *run) begin(name string) {
	r.done(0)
	r.step++
	r.name = name
	r.emit(StatusRunning, 0)
}

func (r *run) done(count int) {
	if r.name != "" {
		r.emit(StatusDone, count)
		r.name = ""
	}
}

func (r *run) emit(status string, count int) {
	if r.onStep != nil {
		r.onStep(Step{Index: r.step, Name: r.name, Status: status, Count: count})
	}
}

// finish records the terminal stage and passes err through.
func (r *run) finish(err error) error {
	if err != nil {
		if r.name != "" {
			r.emit(StatusError, 0)
			r.name = ""
		}
		r.log.WithField("failed_stage", r.stage).WithError(err).Debug("operation failed")
		r.enter(StageFailed)
		return err
	}
	r.done(0)
	r.enter(StageSucceeded)
	return nil
}
