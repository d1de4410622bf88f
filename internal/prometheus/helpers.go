package prometheus

import (
	"regexp"
	"strings"
	"time"
)

type ObserveFunc func() time.Duration

var paramSegment = regexp.MustCompile(":(.*)")

func pathLabel(path string) string {
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		segments[i] = paramSegment.ReplaceAllString(segment, "-")
	}
	return strings.Join(segments, "/")
}
