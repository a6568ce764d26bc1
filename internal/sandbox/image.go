package sandbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/Hollayemi/shp-sub005/internal/store"
	"github.com/Hollayemi/shp-sub005/internal/templates"
)

// DefaultBaseImage is the generic image a sandbox boots from when no
// snapshot applies. It contains the runtime toolchain but no project
// content, so booting from it always requires file restoration.
const DefaultBaseImage = "shipyard/base-node20:latest"

// ImageSource records which priority branch the selector took.
type ImageSource string

const (
	SourceRecovery         ImageSource = "recovery"
	SourceFragmentSnapshot ImageSource = "fragment_snapshot"
	SourceTemplateSnapshot ImageSource = "template_snapshot"
	SourceBaseImage        ImageSource = "base_image"
)

// ImageRequest names the candidates available for one boot.
type ImageRequest struct {
	// RecoveryImageID, when set, is used verbatim and skips everything.
	RecoveryImageID string
	// FragmentID, when set, allows booting from that fragment's snapshot.
	FragmentID *uint
	// TemplateName selects a template snapshot or, failing that, the
	// default file set restored onto the base image.
	TemplateName string
}

// ImageChoice is the selector's answer: what to boot, and whether file
// restoration must follow. RestoreNeeded is true exactly when the base
// image branch was taken.
type ImageChoice struct {
	Image         string
	Source        ImageSource
	RestoreNeeded bool
}

// ImageSelector decides which filesystem image a sandbox boots from, by
// fixed priority: explicit recovery image, fragment snapshot, template
// snapshot for the current environment, generic base image.
type ImageSelector struct {
	fragments   store.FragmentStore
	templates   *templates.Registry
	environment string
	baseImage   string
}

// NewImageSelector constructs a selector for one environment tag.
func NewImageSelector(fragments store.FragmentStore, reg *templates.Registry, environment string) *ImageSelector {
	return &ImageSelector{
		fragments:   fragments,
		templates:   reg,
		environment: environment,
		baseImage:   DefaultBaseImage,
	}
}

// Select resolves the boot image. Reaching the base-image branch without
// a template name is a caller bug and fails fast with ConfigurationError:
// a blank base image with no content plan can never become a working app.
func (s *ImageSelector) Select(ctx context.Context, req ImageRequest) (ImageChoice, error) {
	if req.RecoveryImageID != "" {
		return ImageChoice{Image: req.RecoveryImageID, Source: SourceRecovery}, nil
	}

	if req.FragmentID != nil {
		frag, err := s.fragments.GetFragment(ctx, *req.FragmentID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return ImageChoice{}, fmt.Errorf("load fragment %d: %w", *req.FragmentID, err)
		}
		if frag != nil && frag.HasSnapshot() {
			return ImageChoice{Image: frag.SnapshotImageID, Source: SourceFragmentSnapshot}, nil
		}
	}

	if req.TemplateName != "" {
		if img, ok := s.templates.SnapshotImage(req.TemplateName, s.environment); ok {
			return ImageChoice{Image: img, Source: SourceTemplateSnapshot}, nil
		}
	}

	if req.TemplateName == "" {
		return ImageChoice{}, &ConfigurationError{
			Reason: "base image requires a template name: no recovery image, fragment snapshot, or template snapshot available",
		}
	}

	return ImageChoice{Image: s.baseImage, Source: SourceBaseImage, RestoreNeeded: true}, nil
}
