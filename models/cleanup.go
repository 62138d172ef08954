package models

import "fmt"

type CleanupPolicy string

const (
	PolicyFixURLsOnly               CleanupPolicy = "fix-urls"
	PolicyDeleteUnreachableImages   CleanupPolicy = "delete-images"
	PolicyDeleteImagelessProperties CleanupPolicy = "delete-imageless"
	PolicyFullRebuild               CleanupPolicy = "full-rebuild"
)

func ParseCleanupPolicy(s string) (CleanupPolicy, error) {
	switch p := CleanupPolicy(s); p {
	case PolicyFixURLsOnly, PolicyDeleteUnreachableImages, PolicyDeleteImagelessProperties, PolicyFullRebuild:
		return p, nil
	case "":
		return PolicyDeleteImagelessProperties, nil
	}
	return "", fmt.Errorf("unknown cleanup policy %q", s)
}

// DeletesImages reports whether unreachable image rows are removed under this policy
func (p CleanupPolicy) DeletesImages() bool {
	return p == PolicyDeleteUnreachableImages || p == PolicyDeleteImagelessProperties
}

type CleanupReport struct {
	Policy            CleanupPolicy `json:"policy"`
	ImagesChecked     int           `json:"images_checked"`
	ImagesBroken      int           `json:"images_broken"`
	ImagesFixed       int           `json:"images_fixed"`
	ImagesDeleted     int64         `json:"images_deleted"`
	PropertiesDeleted int64         `json:"properties_deleted"`
	OrphansDeleted    int64         `json:"orphans_deleted"`
	PrimariesRepaired int64         `json:"primaries_repaired"`
	FailedChunks      int           `json:"failed_chunks"`
	Rebuild           *RunStats     `json:"rebuild,omitempty"`
}
