package containers

import (
	"fmt"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/uuid"
)

// ImageTag returns "<prefix>:<run>-r<round>" after checking it is a valid
// local image reference.
func ImageTag(prefix, runID string, round int) (string, error) {
	tag := fmt.Sprintf("%s:%s-r%d", strings.ToLower(prefix), sanitize(runID), round)
	if _, err := name.NewTag(tag, name.WithDefaultRegistry("")); err != nil {
		return "", fmt.Errorf("invalid image tag %q: %w", tag, err)
	}
	return tag, nil
}

// ContainerName returns a name unique to this round even when two runs share
// a run id.
func ContainerName(prefix, runID string, round int) string {
	return fmt.Sprintf("%s-%s-r%d-%s", strings.ToLower(prefix), sanitize(runID), round, uuid.NewString()[:8])
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-.")
}
