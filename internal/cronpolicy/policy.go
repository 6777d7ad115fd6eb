// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

// Package cronpolicy turns the cron expressions of backup configurations into
// concrete fire times.
//
// Expressions use the standard five fields with an optional leading seconds
// field, plus descriptors such as @hourly, @daily and @every 10m:
//
//	0 2 * * *        every day at 02:00
//	*/30 * * * * *   every 30 seconds
//	@every 10m       every ten minutes from the reference time
package cronpolicy

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrConfigParse is returned for expressions that do not parse.
var ErrConfigParse = errors.New("invalid cron expression")

// Policy computes the next fire time of a cron expression.
type Policy interface {
	NextValidTimeAfter(expr string, from time.Time) (time.Time, error)
}

// Parser is the default Policy. Parsed schedules are cached by expression.
type Parser struct {
	parser cron.Parser

	mu    sync.RWMutex
	cache map[string]cron.Schedule
}

// NewParser returns a Parser accepting an optional seconds field and
// descriptors.
func NewParser() *Parser {
	return &Parser{
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour |
			cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		cache: make(map[string]cron.Schedule),
	}
}

// Validate reports whether expr parses.
func (p *Parser) Validate(expr string) error {
	_, err := p.schedule(expr)
	return err
}

// NextValidTimeAfter returns the first activation strictly after from.
func (p *Parser) NextValidTimeAfter(expr string, from time.Time) (time.Time, error) {
	sched, err := p.schedule(expr)
	if err != nil {
		return time.Time{}, err
	}
	next := sched.Next(from)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("%w: %q never fires", ErrConfigParse, expr)
	}
	return next, nil
}

func (p *Parser) schedule(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	p.mu.RLock()
	sched, ok := p.cache[expr]
	p.mu.RUnlock()
	if ok {
		return sched, nil
	}

	if expr == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrConfigParse)
	}
	sched, err := p.parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrConfigParse, expr, err)
	}

	p.mu.Lock()
	p.cache[expr] = sched
	p.mu.Unlock()
	return sched, nil
}

var _ Policy = (*Parser)(nil)
