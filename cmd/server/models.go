package main

import (
	"encoding/json"
	"time"

	"github.com/liamcoop/simpleexpr/multiassetengine"
)

// API request and response models

// AssetResultResponse is one asset's contribution to an evaluation
type AssetResultResponse struct {
	Asset     string `json:"asset" example:"modbus"`
	Triggered bool   `json:"triggered" example:"true"`
	Error     string `json:"error,omitempty"`
}

// EvaluateResponse represents the response for one evaluation cycle
type EvaluateResponse struct {
	Triggered      bool                  `json:"triggered" example:"true"`
	Transitioned   bool                  `json:"transitioned" example:"false"`
	Assets         []AssetResultResponse `json:"assets"`
	Reason         json.RawMessage       `json:"reason"`
	EvaluationTime string                `json:"evaluationTime" example:"45µs"`
}

func newEvaluateResponse(res multiassetengine.CycleResult, elapsed time.Duration) EvaluateResponse {
	out := EvaluateResponse{
		Triggered:      res.Triggered,
		Transitioned:   res.Transitioned,
		Assets:         make([]AssetResultResponse, 0, len(res.Assets)),
		EvaluationTime: elapsed.String(),
	}
	for _, a := range res.Assets {
		ar := AssetResultResponse{Asset: a.Asset, Triggered: a.Triggered}
		if a.Err != nil {
			ar.Error = a.Err.Error()
		}
		out.Assets = append(out.Assets, ar)
	}

	reason, err := json.Marshal(res.Reason)
	if err != nil {
		reason = json.RawMessage("null")
	}
	out.Reason = reason
	return out
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error" example:"configuration rejected"`
	Details string `json:"details,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status   string `json:"status" example:"healthy"`
	Triggers int    `json:"triggers" example:"1"`
	State    string `json:"state" example:"cleared"`
}
