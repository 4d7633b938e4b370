// This file implements the Strategy Pattern for recurring schedules. Each
// frequency (daily, weekly, monthly, yearly) has its own advancer that knows
// how to step a template's next occurrence forward.

package services

import (
	"fmt"
	"sync"

	"ledgerengine/internal/core"
)

// Advancer is the strategy interface for moving a recurring template to its
// next occurrence.
type Advancer interface {
	Next(d core.Date) core.Date
}

// DailyAdvancer steps one day.
type DailyAdvancer struct{}

func (DailyAdvancer) Next(d core.Date) core.Date { return d.AddDays(1) }

// WeeklyAdvancer steps seven days.
type WeeklyAdvancer struct{}

func (WeeklyAdvancer) Next(d core.Date) core.Date { return d.AddDays(7) }

// MonthlyAdvancer steps one calendar month, clamping to the last day of the
// target month: Jan 31 becomes Feb 29 (or 28), never Mar 2.
type MonthlyAdvancer struct{}

func (MonthlyAdvancer) Next(d core.Date) core.Date { return d.AddMonths(1) }

// YearlyAdvancer steps one year; Feb 29 becomes Feb 28 on non leap years.
type YearlyAdvancer struct{}

func (YearlyAdvancer) Next(d core.Date) core.Date { return d.AddYears(1) }

var (
	advancersMu sync.RWMutex
	advancers   = map[core.Frequency]Advancer{
		core.Daily:   DailyAdvancer{},
		core.Weekly:  WeeklyAdvancer{},
		core.Monthly: MonthlyAdvancer{},
		core.Yearly:  YearlyAdvancer{},
	}
)

// GetAdvancer returns the advancer for a frequency.
func GetAdvancer(freq core.Frequency) (Advancer, error) {
	advancersMu.RLock()
	defer advancersMu.RUnlock()
	a, ok := advancers[freq]
	if !ok {
		return nil, fmt.Errorf("unknown recurring frequency: %q", freq)
	}
	return a, nil
}

// RegisterAdvancer adds or replaces the advancer for a frequency.
func RegisterAdvancer(freq core.Frequency, a Advancer) {
	advancersMu.Lock()
	defer advancersMu.Unlock()
	advancers[freq] = a
}

// Advance returns the occurrence after d.
func Advance(d core.Date, freq core.Frequency) (core.Date, error) {
	a, err := GetAdvancer(freq)
	if err != nil {
		return core.Date{}, err
	}
	return a.Next(d), nil
}

// RecurringState is derived, never stored.
type RecurringState string

const (
	RecurringActive    RecurringState = "active"
	RecurringCompleted RecurringState = "completed"
)

// State reports whether a template still has occurrences ahead.
func State(tx core.Transaction) RecurringState {
	if !tx.RecurringEndDate.IsEmpty() && tx.NextRecurringDate.After(tx.RecurringEndDate) {
		return RecurringCompleted
	}
	return RecurringActive
}

// IsDue reports whether template tx has an occurrence on or before today
// that is still within its end date.
func IsDue(tx core.Transaction, today core.Date) bool {
	if !tx.IsRecurring || tx.NextRecurringDate.IsEmpty() {
		return false
	}
	if tx.NextRecurringDate.After(today) {
		return false
	}
	return State(tx) == RecurringActive
}

// Materialize builds the payment for one occurrence of template: a plain
// completed transaction dated today with the recurring fields cleared. An
// empty id lets the store assign one.
func Materialize(template core.Transaction, today core.Date, id string) core.Transaction {
	tx := template
	tx.ID = id
	tx.Date = today
	tx.Status = core.Completed
	tx.IsRecurring = false
	tx.RecurringFrequency = ""
	tx.NextRecurringDate = core.Date{}
	tx.RecurringEndDate = core.Date{}
	tx.TransferLinkID = ""
	tx.SystemKind = ""
	tx.Seq = 0
	if len(template.Splits) > 0 {
		tx.Splits = append([]core.Split(nil), template.Splits...)
	}
	return tx
}
