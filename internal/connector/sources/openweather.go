package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/etl-connectors/internal/connector"
)

// kelvinZero is the Kelvin reading of 0°C.
const kelvinZero = 273.15

// WeatherReport is the document persisted per weather run. IngestedAt is
// assigned by the load stage, not the transformer. FeelsLike is a pointer so
// an absent source value is stored as null rather than a misleading zero.
type WeatherReport struct {
	City        string    `bson:"city"`
	Country     string    `bson:"country"`
	Temperature float64   `bson:"temperature"`
	FeelsLike   *float64  `bson:"feels_like"`
	Humidity    float64   `bson:"humidity"`
	Conditions  string    `bson:"weather"`
	WindSpeed   float64   `bson:"wind_speed"`
	Timestamp   time.Time `bson:"timestamp"`
	IngestedAt  time.Time `bson:"ingested_at"`
}

// SetIngestedAt implements connector.IngestedAtSetter.
func (r *WeatherReport) SetIngestedAt(ts time.Time) { r.IngestedAt = ts }

// OpenWeatherSource fetches current weather for one configured city from
// OpenWeatherMap. The API key travels as the appid query parameter, and no
// units parameter is sent, so temperatures arrive in Kelvin.
type OpenWeatherSource struct {
	name    string
	apiKey  string
	baseURL string
	city    string
	httpCfg ClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewOpenWeatherSource(client *http.Client, apiKey, baseURL, city string, retry RetryPolicy) *OpenWeatherSource {
	return &OpenWeatherSource{
		name:    "openweathermap",
		apiKey:  apiKey,
		baseURL: baseURL,
		city:    city,
		httpCfg: ClientConfig{Client: client, Retry: retry},
		circuit: newBreaker("openweather"),
	}
}

func (s *OpenWeatherSource) Name() string { return s.name }

// Fetch issues the single authenticated GET and returns its JSON body as the
// only payload.
func (s *OpenWeatherSource) Fetch(ctx context.Context) ([][]byte, error) {
	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("q", s.city)
		values.Set("appid", s.apiKey)

		return http.NewRequest(http.MethodGet, fmt.Sprintf("%s?%s", s.baseURL, values.Encode()), nil)
	}

	body, err := fetchJSON(ctx, s.httpCfg, s.circuit, buildRequest)
	if err != nil {
		return nil, err
	}
	return [][]byte{body}, nil
}

// openWeatherPayload is the slice of the current-weather response the
// transformer needs. Pointer fields distinguish absent numerics from zero.
type openWeatherPayload struct {
	Name string `json:"name"`
	Sys  struct {
		Country string `json:"country"`
	} `json:"sys"`
	Main struct {
		Temp      *float64 `json:"temp"`
		FeelsLike *float64 `json:"feels_like"`
		Humidity  *float64 `json:"humidity"`
	} `json:"main"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
	Wind struct {
		Speed *float64 `json:"speed"`
	} `json:"wind"`
	Dt *int64 `json:"dt"`
}

// Transform maps one payload onto a single WeatherReport, converting the
// Kelvin temperatures to Celsius. The report carries no natural key, so every
// run inserts a fresh document.
func (s *OpenWeatherSource) Transform(payload []byte, _ time.Time) ([]connector.Record, error) {
	var p openWeatherPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, &connector.MalformedResponseError{Reason: err.Error()}
	}

	switch {
	case p.Name == "":
		return nil, missingField("name")
	case p.Sys.Country == "":
		return nil, missingField("sys.country")
	case p.Main.Temp == nil:
		return nil, missingField("main.temp")
	case p.Main.Humidity == nil:
		return nil, missingField("main.humidity")
	case len(p.Weather) == 0 || p.Weather[0].Description == "":
		return nil, missingField("weather[0].description")
	case p.Wind.Speed == nil:
		return nil, missingField("wind.speed")
	case p.Dt == nil:
		return nil, missingField("dt")
	}

	report := &WeatherReport{
		City:        p.Name,
		Country:     p.Sys.Country,
		Temperature: *p.Main.Temp - kelvinZero,
		Humidity:    *p.Main.Humidity,
		Conditions:  p.Weather[0].Description,
		WindSpeed:   *p.Wind.Speed,
		Timestamp:   time.Unix(*p.Dt, 0).UTC(),
	}
	if p.Main.FeelsLike != nil {
		celsius := *p.Main.FeelsLike - kelvinZero
		report.FeelsLike = &celsius
	}

	return []connector.Record{{Document: report}}, nil
}
