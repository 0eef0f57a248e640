package outbox

const activityTransitionedSchema = `{
  "type": "object",
  "title": "ActivityTransitioned",
  "properties": {
    "instance_id": {"type": "string"},
    "facility_id": {"type": "string"},
    "entity_id": {"type": "string"},
    "program_id": {"type": "string"},
    "from_type_code": {"type": "string"},
    "type_code": {"type": "string"},
    "performed_by": {"type": "string"},
    "started_at": {"type": "string", "format": "date-time"}
  },
  "required": ["instance_id", "facility_id", "entity_id", "program_id", "type_code", "performed_by", "started_at"],
  "additionalProperties": false
}`

const activityEndedSchema = `{
  "type": "object",
  "title": "ActivityEnded",
  "properties": {
    "instance_id": {"type": "string"},
    "facility_id": {"type": "string"},
    "entity_id": {"type": "string"},
    "type_code": {"type": "string"},
    "ended_at": {"type": "string", "format": "date-time"}
  },
  "required": ["instance_id", "facility_id", "entity_id", "type_code", "ended_at"],
  "additionalProperties": false
}`
