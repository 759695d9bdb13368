package service

import (
	"context"
	"strings"

	"github.com/kisman271128/salesman-dashboard/internal/audit"
	"github.com/kisman271128/salesman-dashboard/internal/client"
	"github.com/kisman271128/salesman-dashboard/internal/config"
)

// DeviceSearchService backs the admin panel's device lookup. It reads only
// the search index; the store tiers stay the source of truth.
type DeviceSearchService struct {
	es    *client.ESClient
	index string
}

func NewDeviceSearchService(es *client.ESClient, cfg *config.Config) *DeviceSearchService {
	return &DeviceSearchService{
		es:    es,
		index: cfg.Elasticsearch.Index,
	}
}

type deviceSearchResponse struct {
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []struct {
			Source audit.IndexedDevice `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search finds indexed devices matching the free-text query across user ID,
// fingerprint, and classification fields.
func (s *DeviceSearchService) Search(ctx context.Context, q string, limit int) ([]audit.IndexedDevice, int, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, 0, ErrInvalidInput
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := map[string]interface{}{
		"size": limit,
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  q,
				"fields": []string{"user_id^2", "fingerprint^2", "device", "browser", "os"},
			},
		},
		"sort": []map[string]interface{}{
			{"last_used": map[string]string{"order": "desc"}},
		},
	}

	res, err := s.es.Search(ctx, s.index, query)
	if err != nil {
		return nil, 0, err
	}

	var parsed deviceSearchResponse
	if err := s.es.ParseResponse(res, &parsed); err != nil {
		return nil, 0, err
	}

	devices := make([]audit.IndexedDevice, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		devices = append(devices, hit.Source)
	}
	return devices, parsed.Hits.Total.Value, nil
}
