package handler

import (
	"context"
	"encoding/json"
	"errors"
	"github.com/go-playground/validator/v10"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"recording-orchestrator/constant"
	"recording-orchestrator/dto"
	"recording-orchestrator/metrics"
	"recording-orchestrator/service"
)

var errUnknownCommand = errors.New("unknown command type")

type EgressCommandResult struct {
	RoomId     string `json:"roomId"`
	RecorderId string `json:"recorderId"`
	EgressId   string `json:"egressId"`
	// MediaEvent is false when the egress runs without a scheduled media event.
	MediaEvent      bool   `json:"mediaEvent"`
	MediaEventError string `json:"mediaEventError,omitempty"`
}

type ApplianceCommandResult struct {
	RoomId   string `json:"roomId"`
	DeviceId string `json:"deviceId"`
	EventId  string `json:"eventId"`
}

type PingResult struct {
	DeviceId  string `json:"deviceId"`
	Reachable bool   `json:"reachable"`
}

// CommandHandler dispatches a command bus message and replies when the sender
// asked for one. Command failures go into the reply; only a failed reply is
// returned for redelivery.
func CommandHandler(ctx context.Context, msg amqp.Delivery, deps ServiceDependencies) error {
	var cmd dto.Command
	reply := dto.CommandReply{Ok: true}

	err := decodeCommand(deps.Validate, msg.Body, &cmd)
	if err == nil {
		ctx = zerolog.Ctx(ctx).With().Str("command", string(cmd.Type)).Logger().WithContext(ctx)
		reply.Data, err = dispatch(ctx, cmd, deps)
	}

	outcome := "success"
	if err != nil {
		outcome = "failure"
		reply = dto.CommandReply{Ok: false, Error: err.Error()}
		if isExpected(err) {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("command rejected")
		} else {
			zerolog.Ctx(ctx).Error().Err(err).Msg("command failed")
		}
	}
	metrics.RecordCommand(string(cmd.Type), outcome)

	return deps.Replier.Reply(ctx, msg, reply)
}

func decodeCommand(validate *validator.Validate, body []byte, cmd *dto.Command) error {
	if err := json.Unmarshal(body, cmd); err != nil {
		return err
	}
	return validate.Struct(cmd)
}

func dispatch(ctx context.Context, cmd dto.Command, deps ServiceDependencies) (any, error) {
	switch cmd.Type {
	case constant.CommandStartEgressRecording:
		var p dto.RoomCommand
		if err := decodePayload(deps.Validate, cmd.Payload, &p); err != nil {
			return nil, err
		}
		session, err := deps.RecordingService.StartEgressRecording(ctx, p.RoomId)
		if session == nil {
			return nil, err
		}
		result := EgressCommandResult{RoomId: p.RoomId, RecorderId: session.RecorderId, EgressId: session.EgressId, MediaEvent: err == nil}
		if err != nil {
			// egress runs, only the media event is missing
			result.MediaEventError = err.Error()
			zerolog.Ctx(ctx).Warn().Err(err).Str("room_id", p.RoomId).Str("egress_id", session.EgressId).Msg("egress started without media event")
		}
		return result, nil

	case constant.CommandStopEgressRecording:
		var p dto.RoomCommand
		if err := decodePayload(deps.Validate, cmd.Payload, &p); err != nil {
			return nil, err
		}
		return nil, deps.RecordingService.StopEgressRecording(ctx, p.RoomId)

	case constant.CommandStartApplianceRecording:
		var p dto.ApplianceCommand
		if err := decodePayload(deps.Validate, cmd.Payload, &p); err != nil {
			return nil, err
		}
		event, err := deps.RecordingService.StartApplianceRecording(ctx, p.RoomId, p.DeviceId)
		if err != nil {
			return nil, err
		}
		return ApplianceCommandResult{RoomId: p.RoomId, DeviceId: p.DeviceId, EventId: event.EventId}, nil

	case constant.CommandStopApplianceRecording:
		var p dto.ApplianceCommand
		if err := decodePayload(deps.Validate, cmd.Payload, &p); err != nil {
			return nil, err
		}
		return nil, deps.RecordingService.StopApplianceRecording(ctx, p.RoomId, p.DeviceId)

	case constant.CommandCreateOrGetIngress:
		var p dto.IngressCommand
		if err := decodePayload(deps.Validate, cmd.Payload, &p); err != nil {
			return nil, err
		}
		return deps.SessionManager.CreateOrGetIngress(ctx, p.RoomId, p.DeviceId)

	case constant.CommandDeleteIngress:
		var p dto.RoomCommand
		if err := decodePayload(deps.Validate, cmd.Payload, &p); err != nil {
			return nil, err
		}
		return nil, deps.SessionManager.DeleteIngressForRoom(ctx, p.RoomId)

	case constant.CommandPingAppliance:
		var p dto.PingApplianceCommand
		if err := decodePayload(deps.Validate, cmd.Payload, &p); err != nil {
			return nil, err
		}
		err := deps.RecordingService.PingAppliance(ctx, p.DeviceId)
		if errors.Is(err, service.ErrUnknownDevice) {
			return nil, err
		}
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("device_id", p.DeviceId).Msg("appliance unreachable")
		}
		return PingResult{DeviceId: p.DeviceId, Reachable: err == nil}, nil

	case constant.CommandCreateRoom:
		var p dto.CreateRoomCommand
		if err := decodePayload(deps.Validate, cmd.Payload, &p); err != nil {
			return nil, err
		}
		return deps.ConferenceService.CreateRoom(ctx, p)

	default:
		return nil, errUnknownCommand
	}
}

func decodePayload(validate *validator.Validate, payload json.RawMessage, out any) error {
	if err := json.Unmarshal(payload, out); err != nil {
		return err
	}
	return validate.Struct(out)
}

// isExpected reports contention and lookup failures that callers handle routinely.
func isExpected(err error) bool {
	var invalid validator.ValidationErrors
	return errors.Is(err, service.ErrNoFreeRecorder) ||
		errors.Is(err, service.ErrActiveSession) ||
		errors.Is(err, service.ErrRecorderNotFound) ||
		errors.Is(err, service.ErrUnknownDevice) ||
		errors.Is(err, service.ErrRoomNotActive) ||
		errors.Is(err, errUnknownCommand) ||
		errors.As(err, &invalid)
}
