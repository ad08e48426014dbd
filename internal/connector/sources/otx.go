package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/etl-connectors/internal/connector"
)

// PulseKeyField is the natural key pulse documents are upserted by. The
// binary ensures a unique index on it at startup.
const PulseKeyField = "pulse_id"

// PulseIndicator is one indicator of compromise attached to a pulse.
type PulseIndicator struct {
	Indicator string `bson:"indicator"`
	Type      string `bson:"type"`
}

// PulseRecord is the document persisted per subscribed pulse. Created and
// Modified keep the upstream string form verbatim. Tags is always non-nil so
// an untagged pulse stores an empty array, never a dropped field.
type PulseRecord struct {
	PulseID            string           `bson:"pulse_id"`
	Name               string           `bson:"name"`
	Description        string           `bson:"description"`
	Author             string           `bson:"author_name"`
	Created            string           `bson:"created"`
	Modified           string           `bson:"modified"`
	Tags               []string         `bson:"tags"`
	Indicators         []PulseIndicator `bson:"indicators"`
	IndicatorCount     int              `bson:"indicator_count"`
	ConnectorName      string           `bson:"connector_name"`
	Source             string           `bson:"source"`
	SourceBaseURL      string           `bson:"source_base_url"`
	IngestionTimestamp time.Time        `bson:"ingestion_timestamp"`
}

// OTXSource fetches the subscribed pulses feed from AlienVault OTX. The API
// key travels in the X-OTX-API-KEY header and results come back paginated
// through limit/page query parameters.
type OTXSource struct {
	name          string
	apiKey        string
	baseURL       string
	connectorName string
	pageLimit     int
	maxPages      int
	httpCfg       ClientConfig
	circuit       *gobreaker.CircuitBreaker
}

func NewOTXSource(client *http.Client, apiKey, baseURL, connectorName string, pageLimit, maxPages int, retry RetryPolicy) *OTXSource {
	return &OTXSource{
		name:          "otx",
		apiKey:        apiKey,
		baseURL:       baseURL,
		connectorName: connectorName,
		pageLimit:     pageLimit,
		maxPages:      maxPages,
		httpCfg:       ClientConfig{Client: client, Retry: retry},
		circuit:       newBreaker("otx"),
	}
}

func (s *OTXSource) Name() string { return s.name }

// otxPage is the envelope of one subscribed-pulses page. Some deployments
// name the array results, others pulses.
type otxPage struct {
	Results []json.RawMessage `json:"results"`
	Pulses  []json.RawMessage `json:"pulses"`
}

func (p otxPage) items() []json.RawMessage {
	if p.Results != nil {
		return p.Results
	}
	return p.Pulses
}

// Fetch walks the subscribed-pulses feed page by page, returning one raw
// payload per page fetched. It stops at the first empty or short page, or
// after the configured page cap. Every page request goes through the full
// rate-limit retry machinery.
func (s *OTXSource) Fetch(ctx context.Context) ([][]byte, error) {
	endpoint := s.baseURL + "/pulses/subscribed"

	var payloads [][]byte
	for page := 1; page <= s.maxPages; page++ {
		buildRequest := func() (*http.Request, error) {
			values := url.Values{}
			values.Set("limit", strconv.Itoa(s.pageLimit))
			values.Set("page", strconv.Itoa(page))

			req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s?%s", endpoint, values.Encode()), nil)
			if err != nil {
				return nil, err
			}
			req.Header.Set("X-OTX-API-KEY", s.apiKey)
			req.Header.Set("User-Agent", fmt.Sprintf("otx-etl/1.0 (%s)", s.connectorName))
			return req, nil
		}

		body, err := fetchJSON(ctx, s.httpCfg, s.circuit, buildRequest)
		if err != nil {
			return nil, err
		}

		var pg otxPage
		if err := json.Unmarshal(body, &pg); err != nil {
			return nil, &connector.MalformedResponseError{Reason: err.Error()}
		}
		if pg.Results == nil && pg.Pulses == nil {
			return nil, &connector.MalformedResponseError{Reason: "page has neither results nor pulses array"}
		}

		items := pg.items()
		if len(items) == 0 {
			break
		}

		payloads = append(payloads, body)

		if len(items) < s.pageLimit {
			break
		}
	}

	return payloads, nil
}

// otxPulse is the slice of a pulse object the transformer needs.
type otxPulse struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	AuthorName  string   `json:"author_name"`
	Created     string   `json:"created"`
	Modified    string   `json:"modified"`
	Tags        []string `json:"tags"`
	Indicators  []struct {
		Indicator string `json:"indicator"`
		Type      string `json:"type"`
	} `json:"indicators"`
	IndicatorCount *int `json:"indicator_count"`
}

// Transform maps one page onto records, one per pulse, keyed by pulse id.
// The supplied timestamp becomes every record's IngestionTimestamp.
func (s *OTXSource) Transform(payload []byte, now time.Time) ([]connector.Record, error) {
	var pg otxPage
	if err := json.Unmarshal(payload, &pg); err != nil {
		return nil, &connector.MalformedResponseError{Reason: err.Error()}
	}
	if pg.Results == nil && pg.Pulses == nil {
		return nil, &connector.MalformedResponseError{Reason: "page has neither results nor pulses array"}
	}

	items := pg.items()
	records := make([]connector.Record, 0, len(items))
	for i, raw := range items {
		var p otxPulse
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, &connector.MalformedResponseError{Reason: fmt.Sprintf("pulse %d: %v", i, err)}
		}
		if p.ID == "" {
			return nil, missingField(fmt.Sprintf("results[%d].id", i))
		}

		rec := &PulseRecord{
			PulseID:            p.ID,
			Name:               p.Name,
			Description:        p.Description,
			Author:             p.AuthorName,
			Created:            p.Created,
			Modified:           p.Modified,
			Tags:               p.Tags,
			ConnectorName:      s.connectorName,
			Source:             "otx",
			SourceBaseURL:      s.baseURL,
			IngestionTimestamp: now.UTC(),
		}
		if rec.Tags == nil {
			rec.Tags = []string{}
		}
		rec.Indicators = make([]PulseIndicator, 0, len(p.Indicators))
		for _, ind := range p.Indicators {
			rec.Indicators = append(rec.Indicators, PulseIndicator{Indicator: ind.Indicator, Type: ind.Type})
		}
		if p.IndicatorCount != nil {
			rec.IndicatorCount = *p.IndicatorCount
		} else {
			rec.IndicatorCount = len(rec.Indicators)
		}

		records = append(records, connector.Record{
			KeyField: PulseKeyField,
			KeyValue: p.ID,
			Document: rec,
		})
	}

	return records, nil
}
