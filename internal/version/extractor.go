package version

import "strings"

// Extractor splits a full image reference into registry/repository/tag and
// parses the tag's Version, grounded on the teacher's image-string splitting
// heuristics.
type Extractor struct {
	parser *Parser
}

// NewExtractor creates a new image reference extractor.
func NewExtractor() *Extractor {
	return &Extractor{parser: NewParser()}
}

// ImageInfo is the decomposition of a Docker image reference.
type ImageInfo struct {
	Full       string
	Registry   string
	Repository string
	Tag        string
	Version    *Version
}

// ExtractFromImage parses a full Docker image string, e.g.
// "ghcr.io/linuxserver/plex:latest" or "nginx:1.21.3-alpine".
func (e *Extractor) ExtractFromImage(imageStr string) *ImageInfo {
	info := &ImageInfo{Full: imageStr, Tag: "latest"}

	lastColon := strings.LastIndex(imageStr, ":")
	imagePath := imageStr
	if lastColon != -1 {
		tagCandidate := imageStr[lastColon+1:]
		if !strings.Contains(tagCandidate, "/") {
			imagePath = imageStr[:lastColon]
			info.Tag = tagCandidate
		}
	}

	parts := strings.Split(imagePath, "/")
	switch len(parts) {
	case 1:
		info.Registry = "docker.io"
		info.Repository = "library/" + parts[0]
	case 2:
		if strings.Contains(parts[0], ".") || strings.Contains(parts[0], ":") || parts[0] == "localhost" {
			info.Registry = parts[0]
			info.Repository = parts[1]
		} else {
			info.Registry = "docker.io"
			info.Repository = imagePath
		}
	default:
		info.Registry = parts[0]
		info.Repository = strings.Join(parts[1:], "/")
	}

	info.Version = e.parser.ParseTag(info.Tag)
	return info
}
