package external

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

// TTSProvider turns narration text into an audio blob key.
type TTSProvider interface {
	Name() string
	Synthesize(ctx context.Context, text, voice string) (audioStorageKey string, err error)
}

// NullTTS is a deterministic local stand-in: it "synthesizes" by
// hashing the input text, good enough to exercise the voiceover
// sub-runner's event sequencing without a real TTS vendor.
type NullTTS struct {
	blobs BlobStorage
}

func NewNullTTS(blobs BlobStorage) *NullTTS {
	return &NullTTS{blobs: blobs}
}

func (t *NullTTS) Name() string { return "null-tts" }

func (t *NullTTS) Synthesize(ctx context.Context, text, voice string) (string, error) {
	sum := sha256.Sum256([]byte(voice + ":" + text))
	key := "voiceover/" + hex.EncodeToString(sum[:]) + ".mp3"
	if err := t.blobs.Put(ctx, key, []byte(text)); err != nil {
		return "", err
	}
	return key, nil
}

var _ TTSProvider = (*NullTTS)(nil)
