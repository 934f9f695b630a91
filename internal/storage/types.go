package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled  = errors.New("storage disabled")
	ErrNotFound  = errors.New("storage: not found")
	ErrDuplicate = errors.New("storage: duplicate credential")
)

// DayLayout is the calendar-day key used by usage counters.
const DayLayout = "2006-01-02"

// Config keys with a meaning outside the store itself.
const (
	KeyBotEnabled  = "bot_enabled"
	KeyDonatePhoto = "donate_photo"
	KeyDailyLimit  = "daily_limit"
)

type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 keeps the driver default
}

type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFail    Status = "FAIL"
)

// RequestLog is one finished job attempt.
type RequestLog struct {
	ID       int64
	UserID   int64
	TargetID string
	Status   Status
	At       time.Time
}

type Stats struct {
	Total         int `json:"total"`
	Success       int `json:"success"`
	Fail          int `json:"fail"`
	DistinctUsers int `json:"distinct_users"`
}

type PrivilegedUser struct {
	UserID  int64
	AddedAt time.Time
}
