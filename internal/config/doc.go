// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

/*
Package config loads and validates the pagevault configuration.

# Configuration Sources

Sources are layered with koanf, later layers overriding earlier ones:
  - built-in defaults (defaultConfig)
  - an optional YAML file: the path given to Load, else PAGEVAULT_CONFIG,
    else the first of DefaultConfigPaths that exists
  - environment variables prefixed with PAGEVAULT_; a double underscore
    separates nesting levels (PAGEVAULT_STORAGE__PAGE_SIZE sets
    storage.page_size)

Backup owners are a list and can only be declared in the YAML file:

	storage:
	  directory: /var/lib/pagevault/databases
	log_store:
	  path: /var/lib/pagevault/backuplog
	backups:
	  - id: orders-nightly
	    database_name: orders
	    enabled: true
	    retention_days: 14
	    directory: /var/backups/pagevault
	    strategy: mixed
	    full:
	      when: "0 2 * * *"
	    incremental:
	      when: "0,15,30,45 * * * *"
	    upload:
	      target: /mnt/offsite
	      timeout: 10m
	      breaker_max_failures: 3

# Validation

Validate runs struct tag rules through internal/validation (required fields,
ranges, cron syntax) and then the checks spanning several fields: owner ids
are unique and each strategy has the cron expressions it needs.
*/
package config
