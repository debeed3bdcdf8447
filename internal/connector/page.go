package connector

import "github.com/nulzo/inference-gateway/internal/store/model"

const (
	DefaultFrom = 0
	DefaultSize = 100
)

// PageParams selects a window of the ordered connector list.
type PageParams struct {
	From int `form:"from" json:"from"`
	Size int `form:"size" json:"size"`
}

// Page is one window of connectors plus the total number available.
type Page struct {
	Results []model.Connector `json:"results"`
	Count   int64             `json:"count"`
}
