package packages

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/sdlms/syncserver/internal/models"
)

// Builder assembles artifacts for packages left in building state.
// It stands in for the media pipeline of the main LMS: the archive
// carries course metadata and a manifest, while the bulky media files
// are added by that pipeline before distribution.
type Builder struct {
	db       *gorm.DB
	svc      *Service
	interval time.Duration
}

// NewBuilder creates a builder polling at the given interval
func NewBuilder(db *gorm.DB, svc *Service, interval time.Duration) *Builder {
	return &Builder{db: db, svc: svc, interval: interval}
}

// Run polls for pending builds until the context is cancelled
func (b *Builder) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.ProcessPending(ctx); err != nil {
				log.Printf("Package builder error: %v", err)
			}
		}
	}
}

// ProcessPending builds every package currently awaiting a build
func (b *Builder) ProcessPending(ctx context.Context) error {
	var pending []models.OfflinePackage
	err := b.db.WithContext(ctx).
		Where("status = ? AND checksum = ?", models.PackageBuilding, "").
		Order("build_started_at ASC").
		Find(&pending).Error
	if err != nil {
		return err
	}

	for i := range pending {
		if err := b.buildOne(ctx, &pending[i]); err != nil {
			log.Printf("Build failed for package %d: %v", pending[i].ID, err)
		}
	}
	return nil
}

func (b *Builder) buildOne(ctx context.Context, pkg *models.OfflinePackage) error {
	artifact, manifest, err := b.assemble(ctx, pkg)
	if err != nil {
		if _, failErr := b.svc.FailBuild(ctx, pkg.ID, err.Error()); failErr != nil {
			return failErr
		}
		return err
	}

	_, err = b.svc.CompleteBuild(ctx, pkg.ID, artifact, manifest)
	return err
}

// assemble produces the zip artifact and its manifest
func (b *Builder) assemble(ctx context.Context, pkg *models.OfflinePackage) ([]byte, map[string]interface{}, error) {
	var course models.Course
	err := b.db.WithContext(ctx).First(&course, pkg.CourseID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, fmt.Errorf("course %d no longer exists", pkg.CourseID)
	}
	if err != nil {
		return nil, nil, err
	}
	if !course.Active {
		return nil, nil, fmt.Errorf("course %q is inactive", course.Code)
	}

	contents := []string{"course.json"}
	if pkg.IncludesVideos {
		contents = append(contents, "videos/")
	}
	if pkg.IncludesDocuments {
		contents = append(contents, "documents/")
	}
	if pkg.IncludesAssessments {
		contents = append(contents, "assessments/")
	}

	manifest := map[string]interface{}{
		"course":      course.Code,
		"courseTitle": course.Title,
		"version":     pkg.Version,
		"contents":    contents,
		"builtAt":     time.Now().UTC().Format(time.RFC3339),
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	courseJSON, err := json.Marshal(course)
	if err != nil {
		return nil, nil, err
	}
	if err := writeZipEntry(zw, "course.json", courseJSON); err != nil {
		return nil, nil, err
	}

	manifestJSON, err := json.Marshal(manifest)
	if err != nil {
		return nil, nil, err
	}
	if err := writeZipEntry(zw, "manifest.json", manifestJSON); err != nil {
		return nil, nil, err
	}

	for _, dir := range contents[1:] {
		if _, err := zw.Create(dir); err != nil {
			return nil, nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, nil, err
	}
	return buf.Bytes(), manifest, nil
}

func writeZipEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
