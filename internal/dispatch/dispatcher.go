package dispatch

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"palletizer-control/internal/db"
	"palletizer-control/internal/jobs"
	"palletizer-control/internal/logging"
	"palletizer-control/internal/protocol"
)

// Sender writes one envelope to the controller.
type Sender interface {
	Send(env protocol.Envelope) error
}

// Controller is the outbound side some handlers answer through.
type Controller interface {
	SendJobSetting(ctx context.Context, serial, senderID string) (bool, error)
	SendPreviousJobInfo(ctx context.Context, serial string) (bool, error)
	SetSpeed(ctx context.Context, serial string) error
	PushJobCatalog(ctx context.Context) error
}

// handlerFunc performs the work for one packet and returns the response
// payload. A nil payload sends nothing. Handlers return a failure payload
// together with the error so the controller is always answered.
type handlerFunc func(ctx context.Context, env protocol.Envelope) (any, error)

// Dispatcher routes inbound requests and messages by packet name.
type Dispatcher struct {
	out  Sender
	db   *db.DB
	jobs *jobs.Service
	ctl  Controller
	log  *logrus.Entry

	requests map[string]handlerFunc
	messages map[string]handlerFunc
}

func New(out Sender, svc *jobs.Service, ctl Controller, log logrus.FieldLogger) *Dispatcher {
	d := &Dispatcher{
		out:  out,
		db:   svc.Store(),
		jobs: svc,
		ctl:  ctl,
		log:  logging.Component(log, "dispatch"),
	}
	d.requests = map[string]handlerFunc{
		protocol.PacketSystemInfo:        d.systemInfo,
		protocol.PacketSystemStatus:      d.systemStatus,
		protocol.PacketBasicAlarm:        d.basicAlarm,
		protocol.PacketEventAlarm:        d.eventAlarm,
		protocol.PacketUpdateJobStatus:   d.updateJobStatus,
		protocol.PacketSaveDB:            d.saveDB,
		protocol.PacketCurrentWorkingBox: d.currentWorkingBox,
		protocol.PacketCallJob:           d.callJob,
		protocol.PacketCallPrevJob:       d.callPrevJob,
		protocol.PacketDeleteJob:         d.deleteJob,
		protocol.PacketJobInfoListCall:   d.jobInfoListCall,
		protocol.PacketBarcodeCheck:      d.barcodeCheck,
	}
	d.messages = map[string]handlerFunc{
		protocol.PacketStatusWord: d.statusWord,
	}
	return d
}

// Handle runs the handler registered for env. It is meant to be the
// connection's inbound hook and is called from a single worker.
func (d *Dispatcher) Handle(ctx context.Context, env protocol.Envelope) {
	log := d.log.WithFields(logrus.Fields{"packet": env.Name, "kind": env.Kind})

	var table map[string]handlerFunc
	switch env.Kind {
	case protocol.KindRequest:
		table = d.requests
	case protocol.KindMessage:
		table = d.messages
	default:
		log.Warn("unexpected packet kind")
		return
	}
	h, ok := table[env.Name]
	if !ok {
		log.Warn("no handler for packet")
		return
	}

	resp, err := h(ctx, env)
	if err != nil {
		log.WithError(err).Warn("handler failed")
	}
	if resp == nil || env.Kind != protocol.KindRequest {
		return
	}
	if err := d.reply(env, resp); err != nil {
		log.WithError(err).Warn("reply failed")
	}
}

func (d *Dispatcher) reply(req protocol.Envelope, payload any) error {
	env, err := protocol.Reply(req, payload)
	if err != nil {
		return err
	}
	return d.out.Send(env)
}

func decode[T any](env protocol.Envelope) (T, error) {
	var v T
	if err := env.Unmarshal(&v); err != nil {
		return v, fmt.Errorf("decode %s: %w", env.Name, err)
	}
	return v, nil
}

func success(ok bool) protocol.Success { return protocol.Success{Success: ok} }
