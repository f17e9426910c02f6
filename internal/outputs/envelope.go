package outputs

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"reflect"
	"time"
)

// Envelope wraps a record payload with metadata for serialized record
// streams consumed outside the process.
type Envelope struct {
	RecordID      string          `json:"record_id"`
	RecordType    string          `json:"record_type"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Key           string          `json:"key,omitempty"`
	SchemaVersion int             `json:"schema_version"`
	Payload       json.RawMessage `json:"payload"`
}

// BuildEnvelope constructs an envelope for a record. The key is taken
// from a PlantID or Key string field when present.
func BuildEnvelope(record any, occurredAt time.Time) (Envelope, error) {
	if record == nil {
		return Envelope{}, ErrNilRecord
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return Envelope{}, err
	}
	if occurredAt.IsZero() {
		occurredAt = extractTimeField(record, "Timestamp")
	}
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	return Envelope{
		RecordID:      newRecordID(),
		RecordType:    RecordType(record),
		OccurredAt:    occurredAt.UTC(),
		Key:           extractStringField(record, "PlantID", "Key"),
		SchemaVersion: 1,
		Payload:       payload,
	}, nil
}

func newRecordID() string {
	var buf [12]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "rec-" + time.Now().UTC().Format("20060102150405.000000000")
	}
	return "rec-" + hex.EncodeToString(buf[:])
}

func extractStringField(record any, names ...string) string {
	value := reflect.ValueOf(record)
	for value.Kind() == reflect.Ptr {
		if value.IsNil() {
			return ""
		}
		value = value.Elem()
	}
	if value.Kind() != reflect.Struct {
		return ""
	}
	for _, name := range names {
		field := value.FieldByName(name)
		if field.IsValid() && field.Kind() == reflect.String {
			return field.String()
		}
	}
	// One level of embedding covers records that carry a window reference.
	for _, name := range names {
		for i := 0; i < value.NumField(); i++ {
			inner := value.Field(i)
			if inner.Kind() != reflect.Struct {
				continue
			}
			field := inner.FieldByName(name)
			if field.IsValid() && field.Kind() == reflect.String {
				if s := field.String(); s != "" {
					return s
				}
			}
		}
	}
	return ""
}

func extractTimeField(record any, name string) time.Time {
	value := reflect.ValueOf(record)
	for value.Kind() == reflect.Ptr {
		if value.IsNil() {
			return time.Time{}
		}
		value = value.Elem()
	}
	if value.Kind() != reflect.Struct {
		return time.Time{}
	}
	field := value.FieldByName(name)
	if !field.IsValid() {
		return time.Time{}
	}
	if t, ok := field.Interface().(time.Time); ok {
		return t
	}
	return time.Time{}
}

// ErrNilWriter is returned when an NDJSON sink is built without a writer.
var ErrNilWriter = errors.New("outputs: nil writer")
