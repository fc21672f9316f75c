// Package project defines the Project domain entity.
package project

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/localops/localops/internal/domain"
)

// Project is a local workspace that plans and runs operate against.
// RootPath is immutable after creation; the orchestrator never mutates
// it directly, only a per-run scratch copy.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	RootPath  string    `json:"root_path"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateRequest holds the fields needed to create a project.
type CreateRequest struct {
	Name     string `json:"name"`
	RootPath string `json:"root_path"`
}

// Validate checks a CreateRequest.
func (r *CreateRequest) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", domain.ErrValidation)
	}
	if r.RootPath == "" {
		return fmt.Errorf("%w: root_path is required", domain.ErrValidation)
	}
	if !filepath.IsAbs(r.RootPath) {
		return fmt.Errorf("%w: root_path must be absolute", domain.ErrValidation)
	}
	return nil
}
