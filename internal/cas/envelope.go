package cas

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/pxtool/px/internal/oid"
)

type rawEnvelope struct {
	Header  json.RawMessage `json:"header"`
	Kind    oid.Kind        `json:"kind"`
	Payload string          `json:"payload"`
}

func encodeEnvelope(obj oid.Object) ([]byte, error) {
	headerBytes, err := json.Marshal(obj.Header)
	if err != nil {
		return nil, fmt.Errorf("cas: encode header: %w", err)
	}
	env := rawEnvelope{
		Header:  headerBytes,
		Kind:    obj.Kind,
		Payload: base64.RawStdEncoding.EncodeToString(obj.Payload),
	}
	return json.Marshal(env)
}

func decodeEnvelope(data []byte, out any) error {
	return json.Unmarshal(data, out)
}

func mustDecodePayload(encoded string) []byte {
	b, err := base64.RawStdEncoding.DecodeString(encoded)
	if err != nil {
		return nil
	}
	return b
}

// peekKind decodes just enough of an on-disk object to recover its kind,
// used by index repair and rebuild (spec §4.1).
func peekKind(data []byte) (oid.Kind, error) {
	var partial struct {
		Kind oid.Kind `json:"kind"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return "", err
	}
	if partial.Kind == "" {
		return "", fmt.Errorf("cas: object has no kind header")
	}
	return partial.Kind, nil
}

func encodeJSONIndent(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}
