package persistence

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/aixgo-dev/swarm/internal/codec"
	"github.com/aixgo-dev/swarm/pkg/swarmerr"
)

const (
	// Magic identifies a swarm snapshot.
	Magic = "SWRM"
	// Version is the current envelope format.
	Version = 1

	maxDecodedSize = 256 << 20
)

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("persistence: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedSize))
	if err != nil {
		panic("persistence: zstd decoder initialization failed: " + err.Error())
	}
}

type envelope struct {
	Magic    string    `json:"magic"`
	Version  int       `json:"version"`
	TakenAt  time.Time `json:"taken_at"`
	Checksum []byte    `json:"checksum"`
	Payload  []byte    `json:"payload"`
}

// Meta describes a decoded blob.
type Meta struct {
	Version int       `json:"version"`
	TakenAt time.Time `json:"taken_at"`
	Size    int       `json:"size"`
}

// Encode serializes st into a blob stamped with takenAt.
func Encode(st State, takenAt time.Time) ([]byte, error) {
	raw, err := codec.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	payload := zstdEncoder.EncodeAll(raw, nil)
	sum := blake3.Sum256(payload)
	return codec.Marshal(envelope{
		Magic:    Magic,
		Version:  Version,
		TakenAt:  takenAt.UTC().Round(0),
		Checksum: sum[:],
		Payload:  payload,
	})
}

// Decode verifies and decodes a blob. Every failure wraps
// swarmerr.ErrSnapshotCorrupt in a *swarmerr.CorruptError.
func Decode(blob []byte) (State, Meta, error) {
	if len(blob) == 0 {
		return State{}, Meta{}, corrupt("envelope", errors.New("empty blob"))
	}
	var env envelope
	if err := codec.Unmarshal(blob, &env); err != nil {
		return State{}, Meta{}, corrupt("envelope", err)
	}
	if env.Magic != Magic {
		return State{}, Meta{}, corrupt("magic", fmt.Errorf("got %q", env.Magic))
	}
	if env.Version != Version {
		return State{}, Meta{}, corrupt("version", fmt.Errorf("unsupported version %d", env.Version))
	}
	sum := blake3.Sum256(env.Payload)
	if !bytes.Equal(sum[:], env.Checksum) {
		return State{}, Meta{}, corrupt("checksum", errors.New("payload checksum mismatch"))
	}
	raw, err := zstdDecoder.DecodeAll(env.Payload, nil)
	if err != nil {
		return State{}, Meta{}, corrupt("decompress", err)
	}
	var st State
	if err := codec.Unmarshal(raw, &st); err != nil {
		return State{}, Meta{}, corrupt("state", err)
	}
	return st, Meta{Version: env.Version, TakenAt: env.TakenAt, Size: len(blob)}, nil
}

func corrupt(stage string, err error) error {
	return &swarmerr.CorruptError{Stage: stage, Err: err}
}
