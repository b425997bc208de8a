package model

import (
	"github.com/m-mizutani/goerr/v2"
)

var (
	ErrInvalidHealthStatus = goerr.New("invalid health status")
)

type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "HEALTHY"
	HealthStatusDefective HealthStatus = "DEFECTIVE"
)

// Validate checks if the status is valid
func (s HealthStatus) Validate() error {
	switch s {
	case HealthStatusHealthy, HealthStatusDefective:
		return nil
	default:
		return goerr.Wrap(ErrInvalidHealthStatus, "unknown status", goerr.V("status", s))
	}
}

// Position is a plot coordinate on the field grid
type Position struct {
	Row int `json:"row" yaml:"row" firestore:"row"`
	Col int `json:"col" yaml:"col" firestore:"col"`
}

// ScanContext describes the crop under discussion. It is produced by a field
// scan and only read by the chat flow.
type ScanContext struct {
	CropType string       `json:"crop_type" firestore:"crop_type"`
	Disease  string       `json:"disease" firestore:"disease"`
	Status   HealthStatus `json:"status" firestore:"status"`
	Position Position     `json:"position" firestore:"position"`
	ImageURL string       `json:"image_url,omitempty" firestore:"image_url"`
}
