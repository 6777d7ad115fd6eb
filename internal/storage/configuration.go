// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
)

// ConfigurationFileName is the name of the configuration file inside a
// database directory and of the configuration section inside an archive.
const ConfigurationFileName = "database.ocf"

// configurationVersion is bumped when the configuration layout changes.
const configurationVersion = 1

// Configuration is the persisted storage configuration.
type Configuration struct {
	Name       string            `json:"name"`
	PageSize   int               `json:"page_size"`
	Version    int               `json:"version"`
	CreatedAt  time.Time         `json:"created_at"`
	Properties map[string]string `json:"properties,omitempty"`
	// RestoredLSN is the highest LSN a restore has brought into this
	// database. Incremental archives at or below it are not applied again.
	RestoredLSN *LSN `json:"restored_lsn,omitempty"`
}

func (c *Configuration) clone() Configuration {
	out := *c
	if c.RestoredLSN != nil {
		lsn := *c.RestoredLSN
		out.RestoredLSN = &lsn
	}
	if c.Properties != nil {
		out.Properties = make(map[string]string, len(c.Properties))
		for k, v := range c.Properties {
			out.Properties[k] = v
		}
	}
	return out
}

func (c *Configuration) encode() ([]byte, error) {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode configuration: %w", err)
	}
	return data, nil
}

func decodeConfiguration(data []byte) (*Configuration, error) {
	var c Configuration
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}
	if c.PageSize < MinPageSize {
		return nil, fmt.Errorf("decode configuration: page size %d below minimum %d", c.PageSize, MinPageSize)
	}
	return &c, nil
}

func loadConfiguration(dir string) (*Configuration, error) {
	path := filepath.Join(dir, ConfigurationFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ioErr("read configuration", path, err)
	}
	return decodeConfiguration(data)
}

func saveConfiguration(dir string, c *Configuration) error {
	data, err := c.encode()
	if err != nil {
		return err
	}
	path := filepath.Join(dir, ConfigurationFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return ioErr("write configuration", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return ioErr("rename configuration", path, err)
	}
	return nil
}
