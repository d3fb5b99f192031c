// Package selfupdate detects whether a container under consideration by
// the Run Coordinator (C11) is the Updater's own container, so that
// container's update step can be deferred to the end of the run (spec
// §4.10 "self-update handling").
package selfupdate

import (
	"os"
	"strings"

	"github.com/chis/docksmith/internal/logging"
)

// Detector holds the identity of the Updater's own container, captured
// once at startup, and answers "is this container me?" for the
// coordinator. It replaces ambient package-level state (spec §9: "the
// single-instance file lock and the dry-run flag are the only global
// states... best modeled as explicit dependencies") with a value the
// coordinator is constructed with.
type Detector struct {
	containerID string
	imageName   string
}

// NewDetector captures the current process's container identity: Docker
// sets the container's hostname to its short (12-char) ID, and
// DOCKSMITH_IMAGE names the image the Updater itself runs from.
func NewDetector() *Detector {
	d := &Detector{}

	hostname, err := os.Hostname()
	if err != nil {
		logging.Warn("selfupdate: failed to read hostname: %v", err)
	} else {
		d.containerID = hostname
	}

	d.imageName = os.Getenv("DOCKSMITH_IMAGE")
	if d.imageName == "" {
		d.imageName = "docksmith"
	}

	logging.Debug("selfupdate: detector initialized (containerID=%q imageName=%q)", d.containerID, d.imageName)
	return d
}

// IsSelf reports whether containerID (short or full) matches the
// Updater's own container ID.
func (d *Detector) IsSelf(containerID string) bool {
	if d.containerID == "" || containerID == "" {
		return false
	}
	if len(containerID) >= 12 && len(d.containerID) >= 12 {
		return strings.HasPrefix(containerID, d.containerID) ||
			strings.HasPrefix(d.containerID, containerID[:12])
	}
	return containerID == d.containerID
}

// IsSelfByImage reports whether imageRef names the Updater's own image,
// via a substring match against the configured image name.
func (d *Detector) IsSelfByImage(imageRef string) bool {
	return d.imageName != "" && strings.Contains(strings.ToLower(imageRef), strings.ToLower(d.imageName))
}

// IsSelfContainer combines ID and image-name detection: the coordinator
// treats either signal as sufficient, since a restart can change the
// container ID while the image name stays stable, and vice versa across
// a self-update.
func (d *Detector) IsSelfContainer(containerID, imageName string) bool {
	return d.IsSelf(containerID) || d.IsSelfByImage(imageName)
}
