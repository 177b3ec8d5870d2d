package fanout

import (
	"encoding/json"

	"github.com/bacoco/firmia/internal/providers"
)

func encodeProfile(result *ProfileResult) ([]byte, bool) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, false
	}
	return data, true
}

func decodeProfile(data []byte) (*ProfileResult, bool) {
	var result ProfileResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, false
	}
	return &result, true
}

type searchEnvelope struct {
	Results    []providers.EntitySearchResult `json:"results"`
	Pagination SearchPagination               `json:"pagination"`
}

func encodeSearch(results []providers.EntitySearchResult, pagination SearchPagination) ([]byte, bool) {
	data, err := json.Marshal(searchEnvelope{Results: results, Pagination: pagination})
	if err != nil {
		return nil, false
	}
	return data, true
}

func decodeSearch(data []byte) ([]providers.EntitySearchResult, SearchPagination, bool) {
	var envelope searchEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, SearchPagination{}, false
	}
	return envelope.Results, envelope.Pagination, true
}
