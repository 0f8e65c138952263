package broker

import (
	"fmt"
	"time"
)

// Hours 是交易时段时钟：固定的本地开/收盘墙钟时间，或 7x24。
// 同时给配额执行器提供“下一次开盘时刻”。
type Hours struct {
	alwaysOpen             bool
	openHour, openMinute   int
	closeHour, closeMinute int
	loc                    *time.Location
}

// NewHours 构建时段时钟。open/close 形如 "07:00"；tz 为 IANA 时区名。
func NewHours(alwaysOpen bool, open, close, tz string) (*Hours, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid trading timezone %q: %w", tz, err)
	}
	oh, om, err := parseWallClock(open)
	if err != nil {
		return nil, fmt.Errorf("invalid session open %q: %w", open, err)
	}
	ch, cm, err := parseWallClock(close)
	if err != nil {
		return nil, fmt.Errorf("invalid session close %q: %w", close, err)
	}
	return &Hours{
		alwaysOpen: alwaysOpen,
		openHour:   oh, openMinute: om,
		closeHour: ch, closeMinute: cm,
		loc: loc,
	}, nil
}

func parseWallClock(raw string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", raw)
	if err != nil {
		return 0, 0, err
	}
	return t.Hour(), t.Minute(), nil
}

// IsOpen 判断 now 是否落在交易时段内。
func (h *Hours) IsOpen(now time.Time) bool {
	if h.alwaysOpen {
		return true
	}
	local := now.In(h.loc)
	minutes := local.Hour()*60 + local.Minute()
	open := h.openHour*60 + h.openMinute
	close := h.closeHour*60 + h.closeMinute
	if open <= close {
		return minutes >= open && minutes < close
	}
	// 跨午夜时段
	return minutes >= open || minutes < close
}

// NextOpen 返回严格晚于 after 的下一个开盘时刻。
func (h *Hours) NextOpen(after time.Time) time.Time {
	local := after.In(h.loc)
	candidate := time.Date(local.Year(), local.Month(), local.Day(),
		h.openHour, h.openMinute, 0, 0, h.loc)
	if !candidate.After(local) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

// SessionClose 返回 after 当日（或其后最近）的收盘时刻，供会话结束调度使用。
func (h *Hours) SessionClose(after time.Time) time.Time {
	local := after.In(h.loc)
	candidate := time.Date(local.Year(), local.Month(), local.Day(),
		h.closeHour, h.closeMinute, 0, 0, h.loc)
	if !candidate.After(local) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

// Location 返回交易时区。
func (h *Hours) Location() *time.Location {
	return h.loc
}
