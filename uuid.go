package graphstore

import (
	"log/slog"

	"github.com/google/uuid"
)

// UUID identifies a write job. Commit point records and transaction headers store it as
// its 16 raw bytes.
type UUID uuid.UUID

// NilUUID is the zero UUID, the job id of records written without one.
var NilUUID UUID

// NewUUID returns a random (version 4) UUID.
func NewUUID() UUID {
	return UUID(uuid.New())
}

// ParseUUID parses the canonical text form of a UUID.
func ParseUUID(s string) (UUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return NilUUID, NewError(InvalidArgument, err, s)
	}
	return UUID(u), nil
}

func (id UUID) IsNil() bool {
	return id == NilUUID
}

func (id UUID) String() string {
	return uuid.UUID(id).String()
}

// LogValue renders job ids in canonical form in structured logs.
func (id UUID) LogValue() slog.Value {
	return slog.StringValue(id.String())
}

// MarshalText implements encoding.TextMarshaler.
func (id UUID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *UUID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}
