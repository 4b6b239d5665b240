package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ai-workout-scheduler/agent/internal/model"
)

// Client is the calendar collaborator contract. The core never branches on
// the concrete implementation.
type Client interface {
	// List returns events overlapping [start, end).
	List(ctx context.Context, start, end time.Time) ([]*model.CalendarEvent, error)
	// Insert creates an event and returns its external ID.
	Insert(ctx context.Context, event *model.CalendarEvent) (string, error)
	// Update rewrites an existing event identified by event.ExternalID.
	Update(ctx context.Context, event *model.CalendarEvent) error
	// Delete removes an event.
	Delete(ctx context.Context, externalID string) error
}

// RESTClient talks to a Google-Calendar-compatible events API.
type RESTClient struct {
	baseURL    string
	calendarID string
	token      string
	httpClient *http.Client
}

// NewRESTClient builds the default calendar client. Safe for concurrent use;
// the bounded LM fan-out step shares one instance.
func NewRESTClient(baseURL, calendarID, token string, timeout time.Duration) *RESTClient {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &RESTClient{
		baseURL:    baseURL,
		calendarID: calendarID,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// wireEvent is the calendar API representation of an event.
type wireEvent struct {
	ID          string        `json:"id,omitempty"`
	Summary     string        `json:"summary"`
	Description string        `json:"description,omitempty"`
	Start       wireEventTime `json:"start"`
	End         wireEventTime `json:"end"`
}

type wireEventTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone,omitempty"`
}

type wireEventList struct {
	Items         []wireEvent `json:"items"`
	NextPageToken string      `json:"nextPageToken,omitempty"`
}

func (c *RESTClient) eventsURL() string {
	return fmt.Sprintf("%s/calendars/%s/events", c.baseURL, url.PathEscape(c.calendarID))
}

func (c *RESTClient) List(ctx context.Context, start, end time.Time) ([]*model.CalendarEvent, error) {
	var events []*model.CalendarEvent
	pageToken := ""

	for {
		query := url.Values{}
		query.Set("timeMin", start.Format(time.RFC3339))
		query.Set("timeMax", end.Format(time.RFC3339))
		query.Set("singleEvents", "true")
		query.Set("orderBy", "startTime")
		if pageToken != "" {
			query.Set("pageToken", pageToken)
		}

		var page wireEventList
		if err := c.do(ctx, http.MethodGet, c.eventsURL()+"?"+query.Encode(), nil, &page); err != nil {
			return nil, err
		}

		for _, item := range page.Items {
			event, err := fromWire(item)
			if err != nil {
				// All-day and malformed entries are skipped, not fatal
				continue
			}
			events = append(events, event)
		}

		if page.NextPageToken == "" {
			return events, nil
		}
		pageToken = page.NextPageToken
	}
}

func (c *RESTClient) Insert(ctx context.Context, event *model.CalendarEvent) (string, error) {
	var created wireEvent
	if err := c.do(ctx, http.MethodPost, c.eventsURL(), toWire(event), &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

func (c *RESTClient) Update(ctx context.Context, event *model.CalendarEvent) error {
	target := fmt.Sprintf("%s/%s", c.eventsURL(), url.PathEscape(event.ExternalID))
	return c.do(ctx, http.MethodPut, target, toWire(event), nil)
}

func (c *RESTClient) Delete(ctx context.Context, externalID string) error {
	target := fmt.Sprintf("%s/%s", c.eventsURL(), url.PathEscape(externalID))
	return c.do(ctx, http.MethodDelete, target, nil, nil)
}

func (c *RESTClient) do(ctx context.Context, method, target string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return &APIError{StatusCode: resp.StatusCode, Body: truncateBody(respBody)}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}
	return nil
}

func truncateBody(body []byte) string {
	const max = 512
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

func toWire(event *model.CalendarEvent) wireEvent {
	return wireEvent{
		ID:          event.ExternalID,
		Summary:     event.Summary,
		Description: event.Description,
		Start:       wireEventTime{DateTime: event.StartTime.Format(time.RFC3339)},
		End:         wireEventTime{DateTime: event.EndTime.Format(time.RFC3339)},
	}
}

func fromWire(item wireEvent) (*model.CalendarEvent, error) {
	start, err := time.Parse(time.RFC3339, item.Start.DateTime)
	if err != nil {
		return nil, fmt.Errorf("failed to parse start time: %w", err)
	}
	end, err := time.Parse(time.RFC3339, item.End.DateTime)
	if err != nil {
		return nil, fmt.Errorf("failed to parse end time: %w", err)
	}

	event := &model.CalendarEvent{
		ExternalID:  item.ID,
		Summary:     item.Summary,
		Description: item.Description,
		StartTime:   start,
		EndTime:     end,
		Origin:      model.OriginExternal,
	}
	if event.PlannerOwned() {
		event.Origin = model.OriginPlanned
		if d, ok := event.EventDiscipline(); ok {
			event.Tags = model.StringSlice{model.DisciplineTagPrefix + string(d)}
		}
	}
	return event, nil
}
