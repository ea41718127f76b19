package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"time"
)

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// FreeSlots lists reservable slots for a calendar in [start, end], normalized
// to tenant-local date and HH:MM. The endpoint answers with a map of dates to
// slot lists, where each slot is either "HH:MM" or a full ISO datetime; any
// other shape is skipped.
func (c *Client) FreeSlots(ctx context.Context, tenantID, calendarID string, start, end time.Time, loc *time.Location, userID string) ([]FreeSlot, error) {
	if loc == nil {
		loc = time.UTC
	}
	query := url.Values{
		"startDate": {msEpoch(start)},
		"endDate":   {msEpoch(end)},
		"timezone":  {loc.String()},
	}
	if userID != "" {
		query.Set("userId", userID)
	}

	var raw map[string]json.RawMessage
	if err := c.do(ctx, tenantID, http.MethodGet, "/calendars/"+calendarID+"/free-slots", query, nil, apiVersion, &raw); err != nil {
		return nil, err
	}

	var slots []FreeSlot
	for key, value := range raw {
		if !datePattern.MatchString(key) {
			continue // traceId and friends
		}
		var day struct {
			Slots []string `json:"slots"`
		}
		if err := json.Unmarshal(value, &day); err != nil {
			continue
		}
		for _, entry := range day.Slots {
			slot, ok := normalizeSlot(key, entry, loc)
			if !ok {
				c.logger.Warn("skipping free slot with unknown shape", "date", key, "slot", entry)
				continue
			}
			slots = append(slots, slot)
		}
	}

	sort.Slice(slots, func(i, j int) bool { return slots[i].At.Before(slots[j].At) })
	return slots, nil
}

// normalizeSlot folds both response shapes into a FreeSlot. The date key is
// authoritative for the day; a full ISO entry overrides it with its own date.
func normalizeSlot(date, entry string, loc *time.Location) (FreeSlot, bool) {
	if _, err := time.Parse("15:04", entry); err == nil {
		at, err := time.ParseInLocation("2006-01-02 15:04", date+" "+entry, loc)
		if err != nil {
			return FreeSlot{}, false
		}
		return FreeSlot{Date: date, Time: entry, At: at}, true
	}

	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.ParseInLocation(layout, entry, loc); err == nil {
			local := t.In(loc)
			return FreeSlot{
				Date: local.Format("2006-01-02"),
				Time: local.Format("15:04"),
				At:   local,
			}, true
		}
	}
	return FreeSlot{}, false
}

type blockedSlotsResponse struct {
	Events []struct {
		ID        string `json:"id"`
		Title     string `json:"title"`
		StartTime string `json:"startTime"`
		EndTime   string `json:"endTime"`
	} `json:"events"`
}

// BlockedSlots lists blocks in [start, end] for either a calendar or a user,
// never both; the endpoint rejects the combination.
func (c *Client) BlockedSlots(ctx context.Context, tenantID, locationID string, start, end time.Time, calendarID, userID string) ([]BlockedSlot, error) {
	query := url.Values{
		"locationId": {locationID},
		"startTime":  {msEpoch(start)},
		"endTime":    {msEpoch(end)},
	}
	switch {
	case userID != "":
		query.Set("userId", userID)
	case calendarID != "":
		query.Set("calendarId", calendarID)
	default:
		return nil, fmt.Errorf("crm: blocked slots need a calendar id or user id")
	}

	var out blockedSlotsResponse
	if err := c.do(ctx, tenantID, http.MethodGet, "/calendars/blocked-slots", query, nil, blockedSlotsVersion, &out); err != nil {
		return nil, err
	}

	blocked := make([]BlockedSlot, 0, len(out.Events))
	for _, ev := range out.Events {
		b := BlockedSlot{ID: ev.ID, Title: ev.Title}
		if t, ok := parseEventTime(ev.StartTime); ok {
			b.StartTime = t
		} else {
			c.logger.Warn("skipping blocked slot with unparseable start", "id", ev.ID, "start", ev.StartTime)
			continue
		}
		if t, ok := parseEventTime(ev.EndTime); ok {
			b.EndTime = t
		}
		blocked = append(blocked, b)
	}
	return blocked, nil
}

func parseEventTime(value string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
