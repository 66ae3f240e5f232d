// Package clock отделяет текущее время от системных часов, чтобы смену
// календарного дня можно было воспроизвести в тестах.
package clock

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

type systemClock struct {
	loc *time.Location
}

// System возвращает часы реального времени в часовом поясе loc
// (nil означает time.Local).
func System(loc *time.Location) Clock {
	if loc == nil {
		loc = time.Local
	}
	return systemClock{loc: loc}
}

func (c systemClock) Now() time.Time { return time.Now().In(c.loc) }

// Fake — управляемые часы для тестов.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

func NewFake(now time.Time) *Fake {
	return &Fake{now: now}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Set(now time.Time) {
	f.mu.Lock()
	f.now = now
	f.mu.Unlock()
}

func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// SameDay сообщает, попадают ли a и b в один календарный день в часовом поясе loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	a, b = a.In(loc), b.In(loc)
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// Before сообщает, что календарная дата a строго раньше даты b.
func Before(a, b time.Time, loc *time.Location) bool {
	a, b = a.In(loc), b.In(loc)
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, loc)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, loc)
	return da.Before(db)
}
