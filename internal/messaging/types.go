package messaging

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// SolutionEvent is published for every solution a client validated.
type SolutionEvent struct {
	Hash          string    `json:"hash"`
	Client        string    `json:"client"`
	Path          string    `json:"path"`
	Class         string    `json:"class"`
	Nonce         uint32    `json:"nonce"`
	Version       uint32    `json:"version"`
	NTime         uint32    `json:"ntime"`
	Bits          uint32    `json:"bits"`
	MidstateIndex int       `json:"midstate_index"`
	Difficulty    float64   `json:"difficulty"`
	Height        int64     `json:"height"`
	Stale         bool      `json:"stale"`
	FoundAt       time.Time `json:"found_at"`
}

// BlockEvent reports a block submission.
type BlockEvent struct {
	Hash        string    `json:"hash"`
	Height      int64     `json:"height"`
	Client      string    `json:"client"`
	Status      string    `json:"status"` // "accepted", "rejected"
	Error       string    `json:"error,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	LatencyMs   float64   `json:"latency_ms"`
}

// HashrateEvent is one hashrate sample of a solver.
type HashrateEvent struct {
	Solver       string    `json:"solver"`
	Hashes       uint64    `json:"hashes"`
	HashesPerSec float64   `json:"hashes_per_sec"`
	SampledAt    time.Time `json:"sampled_at"`
}

// ToProto encodes the event as a protobuf Struct; timestamps use their
// protobuf JSON form.
func (e *SolutionEvent) ToProto() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"hash":           e.Hash,
		"client":         e.Client,
		"path":           e.Path,
		"class":          e.Class,
		"nonce":          float64(e.Nonce),
		"version":        float64(e.Version),
		"ntime":          float64(e.NTime),
		"bits":           float64(e.Bits),
		"midstate_index": float64(e.MidstateIndex),
		"difficulty":     e.Difficulty,
		"height":         float64(e.Height),
		"stale":          e.Stale,
		"found_at":       formatTimestamp(e.FoundAt),
	})
}

// SolutionEventFromProto is the inverse of ToProto.
func SolutionEventFromProto(s *structpb.Struct) (*SolutionEvent, error) {
	fields := s.GetFields()
	foundAt, err := parseTimestamp(fields["found_at"].GetStringValue())
	if err != nil {
		return nil, err
	}

	return &SolutionEvent{
		Hash:          fields["hash"].GetStringValue(),
		Client:        fields["client"].GetStringValue(),
		Path:          fields["path"].GetStringValue(),
		Class:         fields["class"].GetStringValue(),
		Nonce:         uint32(fields["nonce"].GetNumberValue()),
		Version:       uint32(fields["version"].GetNumberValue()),
		NTime:         uint32(fields["ntime"].GetNumberValue()),
		Bits:          uint32(fields["bits"].GetNumberValue()),
		MidstateIndex: int(fields["midstate_index"].GetNumberValue()),
		Difficulty:    fields["difficulty"].GetNumberValue(),
		Height:        int64(fields["height"].GetNumberValue()),
		Stale:         fields["stale"].GetBoolValue(),
		FoundAt:       foundAt,
	}, nil
}

// ToProto encodes the event as a protobuf Struct.
func (e *HashrateEvent) ToProto() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"solver":         e.Solver,
		"hashes":         float64(e.Hashes),
		"hashes_per_sec": e.HashesPerSec,
		"sampled_at":     formatTimestamp(e.SampledAt),
	})
}

func formatTimestamp(t time.Time) string {
	data, err := protojson.Marshal(timestamppb.New(t))
	if err != nil {
		return ""
	}
	// protojson renders a Timestamp as a quoted RFC 3339 string
	return string(data[1 : len(data)-1])
}

func parseTimestamp(s string) (time.Time, error) {
	var ts timestamppb.Timestamp
	if err := protojson.Unmarshal([]byte(`"`+s+`"`), &ts); err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return ts.AsTime(), nil
}
