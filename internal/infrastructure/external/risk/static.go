package risk

import (
	"context"
	"strings"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/entity"
)

// StaticConfig configures the in-process assessor
type StaticConfig struct {
	// BaseScore is reported for every transaction before factors apply
	BaseScore float64
	// LargeAmount adds LargeAmountWeight to the score when the amount exceeds it; zero disables
	LargeAmount       float64
	LargeAmountWeight float64
	// BlockedRequesters are always fraud-blocked
	BlockedRequesters []string
}

// StaticAssessor scores transactions without a remote service.
// Used for local runs and deployments without a risk provider.
type StaticAssessor struct {
	cfg     StaticConfig
	blocked map[string]struct{}
}

func NewStaticAssessor(cfg StaticConfig) *StaticAssessor {
	blocked := make(map[string]struct{}, len(cfg.BlockedRequesters))
	for _, id := range cfg.BlockedRequesters {
		blocked[strings.TrimSpace(id)] = struct{}{}
	}
	return &StaticAssessor{cfg: cfg, blocked: blocked}
}

func (s *StaticAssessor) Assess(ctx context.Context, tx entity.Transaction) (*port.RiskResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &port.RiskResult{Score: s.cfg.BaseScore, Source: "static"}
	if s.cfg.LargeAmount > 0 && tx.Amount > s.cfg.LargeAmount {
		res.Score += s.cfg.LargeAmountWeight
		res.Factors = append(res.Factors, entity.RiskFactor{
			Name:   "large_amount",
			Weight: s.cfg.LargeAmountWeight,
		})
	}
	if _, ok := s.blocked[tx.RequesterID]; ok {
		res.FraudBlock = true
		res.Factors = append(res.Factors, entity.RiskFactor{Name: "blocked_requester", Weight: 1})
	}

	res.Score = clamp(res.Score)
	return res, nil
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

var _ port.RiskService = (*StaticAssessor)(nil)
