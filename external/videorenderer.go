package external

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

// StoryboardScene is one scene of a storyboard-driven video render.
type StoryboardScene struct {
	Narration string
	ImagePrompt string
}

// VideoRenderer turns a storyboard into a final rendered video.
type VideoRenderer interface {
	Name() string
	RenderStoryboard(ctx context.Context, jobID int64, scenes []StoryboardScene) (videoStorageKey string, err error)
}

// NullVideoRenderer is a local stand-in that concatenates scene
// narration into a deterministic placeholder blob, preserving the
// render pipeline's event sequencing without a real renderer.
type NullVideoRenderer struct {
	blobs BlobStorage
}

func NewNullVideoRenderer(blobs BlobStorage) *NullVideoRenderer {
	return &NullVideoRenderer{blobs: blobs}
}

func (r *NullVideoRenderer) Name() string { return "null-video-renderer" }

func (r *NullVideoRenderer) RenderStoryboard(ctx context.Context, jobID int64, scenes []StoryboardScene) (string, error) {
	var combined string
	for _, s := range scenes {
		combined += s.Narration + "|" + s.ImagePrompt + "\n"
	}
	sum := sha256.Sum256([]byte(combined))
	key := "video/" + hex.EncodeToString(sum[:]) + ".mp4"
	if err := r.blobs.Put(ctx, key, []byte(combined)); err != nil {
		return "", err
	}
	return key, nil
}

var _ VideoRenderer = (*NullVideoRenderer)(nil)
