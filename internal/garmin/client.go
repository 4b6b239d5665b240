package garmin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	apperrors "github.com/ai-workout-scheduler/agent/internal/errors"
	"github.com/ai-workout-scheduler/agent/internal/model"
)

// Client is the wearable collaborator contract. One daily wellness sample
// and the raw activity list are all the scheduler reads.
type Client interface {
	// DailySample returns the wellness measurements for one calendar day,
	// or nil when the wearable has nothing for that day yet.
	DailySample(ctx context.Context, day time.Time) (*model.HealthSample, error)
	// Activities returns completed workouts with start time in [start, end).
	Activities(ctx context.Context, start, end time.Time) ([]*model.Activity, error)
}

// RESTClient talks to a Garmin-Connect-compatible wellness API.
type RESTClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewRESTClient creates a new instance of the wearable client.
func NewRESTClient(baseURL, token string, timeout time.Duration) *RESTClient {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &RESTClient{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type wireSleep struct {
	SleepTimeSeconds *float64 `json:"sleepTimeSeconds"`
	SleepScore       *float64 `json:"sleepScore"`
}

type wireDailyStats struct {
	RestingHeartRate *float64 `json:"restingHeartRate"`
	AvgStressLevel   *float64 `json:"avgStressLevel"`
	HRVScore         *float64 `json:"hrvScore"`
	BodyBattery      *float64 `json:"bodyBatteryScore"`
	Steps            *int     `json:"totalSteps"`
}

type wireActivity struct {
	ActivityID   int64   `json:"activityId"`
	ActivityType struct {
		TypeKey string `json:"typeKey"`
	} `json:"activityType"`
	StartTimeGMT    string   `json:"startTimeGMT"`
	DurationSeconds float64  `json:"duration"`
	DistanceMeters  *float64 `json:"distance"`
	AverageHR       *float64 `json:"averageHR"`
	TrainingLoad    *float64 `json:"activityTrainingLoad"`
	Calories        *float64 `json:"calories"`
}

const dateLayout = "2006-01-02"

func (c *RESTClient) DailySample(ctx context.Context, day time.Time) (*model.HealthSample, error) {
	date := day.Format(dateLayout)

	var sleep wireSleep
	if err := c.get(ctx, "/wellness/dailySleep?date="+date, &sleep); err != nil {
		return nil, err
	}
	var stats wireDailyStats
	if err := c.get(ctx, "/wellness/dailyStats?date="+date, &stats); err != nil {
		return nil, err
	}

	sample := &model.HealthSample{
		Timestamp:         time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC),
		Source:            "garmin",
		SleepQualityScore: sleep.SleepScore,
		RestingHeartRate:  stats.RestingHeartRate,
		HRVScore:          stats.HRVScore,
		StressLevel:       stats.AvgStressLevel,
		RecoveryScore:     stats.BodyBattery,
		Steps:             stats.Steps,
		RawData:           model.JSONMap{"date": date},
	}
	if sleep.SleepTimeSeconds != nil {
		hours := *sleep.SleepTimeSeconds / 3600
		sample.SleepDurationHours = &hours
	}
	if empty(sample) {
		return nil, nil
	}
	return sample, nil
}

func (c *RESTClient) Activities(ctx context.Context, start, end time.Time) ([]*model.Activity, error) {
	query := url.Values{}
	query.Set("startDate", start.Format(dateLayout))
	query.Set("endDate", end.Format(dateLayout))

	var items []wireActivity
	if err := c.get(ctx, "/activities?"+query.Encode(), &items); err != nil {
		return nil, err
	}

	var activities []*model.Activity
	for _, item := range items {
		started, err := time.Parse("2006-01-02 15:04:05", item.StartTimeGMT)
		if err != nil {
			// Entries without a parseable start are skipped, not fatal
			continue
		}
		started = started.UTC()
		if started.Before(start) || !started.Before(end) {
			continue
		}
		var distanceKM *float64
		if item.DistanceMeters != nil {
			km := *item.DistanceMeters / 1000
			distanceKM = &km
		}
		activities = append(activities, &model.Activity{
			Timestamp:       started,
			Discipline:      model.NormalizeDiscipline(item.ActivityType.TypeKey),
			DurationMinutes: item.DurationSeconds / 60,
			DistanceKM:      distanceKM,
			AvgHeartRate:    item.AverageHR,
			TrainingLoad:    item.TrainingLoad,
			Calories:        item.Calories,
			RawData: model.JSONMap{
				"activity_id": item.ActivityID,
				"type_key":    item.ActivityType.TypeKey,
			},
		})
	}
	return activities, nil
}

func (c *RESTClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrTransientExternal, "failed to reach wearable API")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrTransientExternal, "failed to read wearable response")
	}

	if resp.StatusCode != http.StatusOK {
		return classifyStatus(resp.StatusCode, body)
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal wearable response: %w", err)
	}
	return nil
}

func classifyStatus(status int, body []byte) error {
	msg := fmt.Sprintf("wearable API returned %d: %s", status, truncate(body))
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperrors.New(apperrors.ErrPermission, msg)
	case status == http.StatusTooManyRequests || status >= 500:
		return apperrors.New(apperrors.ErrTransientExternal, msg)
	default:
		return apperrors.New(apperrors.ErrExternalService, msg)
	}
}

func truncate(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

func empty(s *model.HealthSample) bool {
	return s.SleepDurationHours == nil && s.SleepQualityScore == nil &&
		s.RestingHeartRate == nil && s.HRVScore == nil &&
		s.StressLevel == nil && s.RecoveryScore == nil && s.Steps == nil
}
