package avro

// LiftRideEventSchema is the value schema of the rides topic.
const LiftRideEventSchema = `{
  "type": "record",
  "name": "LiftRideEvent",
  "namespace": "liftflow",
  "fields": [
    {"name": "eventID", "type": "string"},
    {
      "name": "liftRide",
      "type": {
        "type": "record",
        "name": "LiftRide",
        "fields": [
          {"name": "time", "type": "int"},
          {"name": "liftID", "type": "int"}
        ]
      }
    },
    {"name": "resortID", "type": "int"},
    {"name": "seasonID", "type": "string"},
    {"name": "dayID", "type": "string"},
    {"name": "skierID", "type": "int"}
  ]
}`

// Subject is the registry subject for a topic's values.
func Subject(topic string) string { return topic + "-value" }
