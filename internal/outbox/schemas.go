package outbox

const participantUpdatedSchema = `{
  "type": "object",
  "title": "ParticipantUpdated",
  "properties": {
    "conduct_id": {"type": "string"},
    "participant_id": {"type": "string"},
    "user": {"type": "string"},
    "role": {"type": "string"},
    "status": {"type": "string", "enum": ["idle", "working", "resting"]},
    "zone": {"type": ["string", "null"]},
    "start_time": {"type": ["string", "null"]},
    "end_time": {"type": ["string", "null"]},
    "work_completed": {"type": "boolean"},
    "pending_rest": {"type": "boolean"},
    "most_stringent_zone": {"type": ["string", "null"]},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["conduct_id", "participant_id", "user", "role", "status", "work_completed", "pending_rest", "occurred_at"],
  "additionalProperties": false
}`

const participantRemovedSchema = `{
  "type": "object",
  "title": "ParticipantRemoved",
  "properties": {
    "conduct_id": {"type": "string"},
    "user": {"type": "string"},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["conduct_id", "user", "occurred_at"],
  "additionalProperties": false
}`

const systemStatusUpdatedSchema = `{
  "type": "object",
  "title": "SystemStatusUpdated",
  "properties": {
    "conduct_id": {"type": "string"},
    "cut_off": {"type": "boolean"},
    "cut_off_end_time": {"type": ["string", "null"]},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["conduct_id", "cut_off", "occurred_at"],
  "additionalProperties": false
}`

const historyUpdatedSchema = `{
  "type": "object",
  "title": "HistoryUpdated",
  "properties": {
    "conduct_id": {"type": "string"},
    "trigger": {"type": "string"},
    "history": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "timestamp": {"type": "string", "format": "date-time"},
          "username": {"type": "string"},
          "action": {"type": "string"},
          "zone": {"type": ["string", "null"]},
          "details": {"type": "string"}
        },
        "required": ["timestamp", "username", "action", "details"]
      }
    },
    "truncated": {"type": "boolean"}
  },
  "required": ["conduct_id", "trigger", "history"],
  "additionalProperties": false
}`

const workCycleCompletedSchema = `{
  "type": "object",
  "title": "WorkCycleCompleted",
  "properties": {
    "conduct_id": {"type": "string"},
    "username": {"type": "string"},
    "zone": {"type": "string"},
    "rest_seconds": {"type": "integer"},
    "title": {"type": "string"},
    "message": {"type": "string"}
  },
  "required": ["conduct_id", "username", "zone", "rest_seconds"],
  "additionalProperties": false
}`

const restCycleCompletedSchema = `{
  "type": "object",
  "title": "RestCycleCompleted",
  "properties": {
    "conduct_id": {"type": "string"},
    "username": {"type": "string"},
    "zone": {"type": "string"}
  },
  "required": ["conduct_id", "username", "zone"],
  "additionalProperties": false
}`

const conductStatusChangedSchema = `{
  "type": "object",
  "title": "ConductStatusChanged",
  "properties": {
    "conduct_id": {"type": "string"},
    "status": {"type": "string", "enum": ["active", "inactive"]},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["conduct_id", "status", "occurred_at"],
  "additionalProperties": false
}`
