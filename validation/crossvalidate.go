package validation

import (
	"fmt"
	"math"

	"github.com/shelfhelp/shelfhelp-ai/parser"
)

const (
	// ConsensusThreshold is the mean confidence at which independent positive
	// claims are considered to agree.
	ConsensusThreshold = 0.6

	consensusBoost   = 1.1
	consensusCeiling = 0.95
	dissentFactor    = 0.8
	dissentFloor     = 0.1
)

// Claim is one service's positive availability claim.
type Claim struct {
	Service    string
	Confidence float64
}

// ClaimAdjustment is a claim after cross-validation.
type ClaimAdjustment struct {
	Service        string  `json:"service"`
	Original       float64 `json:"original"`
	Adjusted       float64 `json:"adjusted"`
	CrossValidated bool    `json:"cross_validated"`
	Warning        string  `json:"cross_validation_warning,omitempty"`
}

// CrossValidation is the outcome of reconciling several claims.
type CrossValidation struct {
	Engaged   bool              `json:"engaged"`
	Consensus float64           `json:"consensus"`
	Claims    []ClaimAdjustment `json:"claims"`
}

// CrossValidate reconciles positive claims for the same book. It only
// engages with two or more claims; a lone claim is returned unchanged.
// With consensus every claim is raised by 10% up to 0.95, otherwise lowered
// by 20% down to 0.1.
func CrossValidate(claims []Claim) CrossValidation {
	cv := CrossValidation{Claims: make([]ClaimAdjustment, 0, len(claims))}
	if len(claims) <= 1 {
		for _, c := range claims {
			cv.Claims = append(cv.Claims, ClaimAdjustment{Service: c.Service, Original: c.Confidence, Adjusted: c.Confidence})
		}
		if len(claims) == 1 {
			cv.Consensus = claims[0].Confidence
		}
		return cv
	}

	var sum float64
	for _, c := range claims {
		sum += c.Confidence
	}
	mean := sum / float64(len(claims))
	cv.Engaged = true
	cv.Consensus = parser.RoundConfidence(mean)

	agreed := mean >= ConsensusThreshold
	for _, c := range claims {
		adj := ClaimAdjustment{Service: c.Service, Original: c.Confidence}
		if agreed {
			adj.Adjusted = parser.RoundConfidence(math.Min(c.Confidence*consensusBoost, consensusCeiling))
			adj.CrossValidated = true
		} else {
			adj.Adjusted = parser.RoundConfidence(math.Max(c.Confidence*dissentFactor, dissentFloor))
			adj.Warning = fmt.Sprintf("Low consensus across %d services (mean confidence %.2f)", len(claims), mean)
		}
		cv.Claims = append(cv.Claims, adj)
	}
	return cv
}
