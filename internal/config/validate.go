// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

package config

import (
	"errors"
	"fmt"

	"github.com/tomtom215/pagevault/internal/validation"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Validate checks the struct tag rules and the rules spanning fields.
func (c *Config) Validate() error {
	if errs := validation.ValidateStruct(c); errs != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, errs)
	}

	seen := make(map[string]bool, len(c.Backups))
	for i, b := range c.Backups {
		if seen[b.ID] {
			return fmt.Errorf("%w: backups[%d]: duplicate owner id %q", ErrInvalid, i, b.ID)
		}
		seen[b.ID] = true

		switch b.Strategy {
		case "full":
			if b.Full.When == "" {
				return fmt.Errorf("%w: backups[%d]: full strategy needs full.when", ErrInvalid, i)
			}
		case "incremental":
			if b.Incremental.When == "" {
				return fmt.Errorf("%w: backups[%d]: incremental strategy needs incremental.when", ErrInvalid, i)
			}
		case "mixed":
			if b.Full.When == "" || b.Incremental.When == "" {
				return fmt.Errorf("%w: backups[%d]: mixed strategy needs full.when and incremental.when", ErrInvalid, i)
			}
		}
	}
	return nil
}
