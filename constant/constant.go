package constant

type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusCompleted  JobStatus = "COMPLETED"
)

type JobType string

const (
	JobTypePrepare JobType = "prepare"
	JobTypeAttach  JobType = "attach"
)

type EgressStatus string

const (
	EgressStatusStarting EgressStatus = "STARTING"
	EgressStatusActive   EgressStatus = "ACTIVE"
	EgressStatusEnding   EgressStatus = "ENDING"
	EgressStatusComplete EgressStatus = "COMPLETE"
)

// InFlightEgressStatuses are the states that count as an active session for a recorder.
var InFlightEgressStatuses = []EgressStatus{EgressStatusStarting, EgressStatusActive, EgressStatusEnding}

func (s EgressStatus) InFlight() bool {
	for _, v := range InFlightEgressStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// AgentState values match the capture-admin API of the media-management system.
type AgentState string

const (
	AgentStateIdle      AgentState = "idle"
	AgentStateCapturing AgentState = "capturing"
)

type RecordingState string

const (
	RecordingStateCapturing       RecordingState = "capturing"
	RecordingStateCaptureFinished RecordingState = "capture_finished"
	RecordingStateCaptureError    RecordingState = "capture_error"
	RecordingStateUploading       RecordingState = "uploading"
	RecordingStateUploadFinished  RecordingState = "upload_finished"
	RecordingStateUploadError     RecordingState = "upload_error"
)

// ReusableRecordingStates are the states in which a restarted recording joins the existing event.
var ReusableRecordingStates = []RecordingState{RecordingStateCapturing, RecordingStateCaptureFinished}

type RecorderType string

const (
	RecorderTypeRoomComposite RecorderType = "room_composite"
	RecorderTypeAppliance     RecorderType = "appliance"
)

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
	EnvironmentDevelop    Environment = "develop"
)

func (e Environment) String() string {
	return string(e)
}

const (
	// RecorderLivenessKey is the coordination-store hash holding one field per recorder.
	RecorderLivenessKey = "recorder:liveness"

	// ProcessingSuffix marks a room directory that an ingestion job has taken ownership of.
	ProcessingSuffix = "_processing"
)

type EventKind string

const (
	EventRoomFinished EventKind = "room_finished"
	EventEgressEnded  EventKind = "egress_ended"
)

type CommandType string

const (
	CommandStartApplianceRecording CommandType = "start_appliance_recording"
	CommandStopApplianceRecording  CommandType = "stop_appliance_recording"
	CommandStartEgressRecording    CommandType = "start_egress_recording"
	CommandStopEgressRecording     CommandType = "stop_egress_recording"
	CommandCreateOrGetIngress      CommandType = "create_or_get_ingress"
	CommandPingAppliance           CommandType = "ping_appliance"
	CommandDeleteIngress           CommandType = "delete_ingress"
	CommandCreateRoom              CommandType = "create_room"
)
